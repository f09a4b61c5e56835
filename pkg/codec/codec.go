// Package codec converts between text entered by a user and the raw bytes
// carried over a serial line, in either hexadecimal or UTF-8 form.
package codec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Mode selects how payloads are encoded and decoded
type Mode int

const (
	ModeUTF8 Mode = iota
	ModeHex
)

// String returns the string representation of Mode
func (m Mode) String() string {
	switch m {
	case ModeUTF8:
		return "utf8"
	case ModeHex:
		return "hex"
	default:
		return "unknown"
	}
}

// ParseMode converts a mode name to a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "utf8", "utf-8", "text", "":
		return ModeUTF8, nil
	case "hex":
		return ModeHex, nil
	default:
		return ModeUTF8, fmt.Errorf("unknown encoding mode: %q", s)
	}
}

// ErrorKind classifies codec failures
type ErrorKind int

const (
	OddHexLength ErrorKind = iota + 1
	InvalidHexDigit
	InvalidUTF8
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case OddHexLength:
		return "odd hex length"
	case InvalidHexDigit:
		return "invalid hex digit"
	case InvalidUTF8:
		return "invalid utf-8"
	default:
		return "unknown"
	}
}

// Sentinel errors matched by errors.Is against an *Error of the same kind.
var (
	ErrOddHexLength    = errors.New("odd hex length")
	ErrInvalidHexDigit = errors.New("invalid hex digit")
	ErrInvalidUTF8     = errors.New("invalid utf-8")
)

// Error reports a payload that could not be encoded or decoded.
// Offset is the byte offset of the offending input, or -1 when it
// does not apply (odd length).
type Error struct {
	Kind   ErrorKind
	Offset int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("codec: %s at offset %d", e.Kind, e.Offset)
	}
	return fmt.Sprintf("codec: %s", e.Kind)
}

// Is reports whether target is the sentinel for this error's kind
func (e *Error) Is(target error) bool {
	switch target {
	case ErrOddHexLength:
		return e.Kind == OddHexLength
	case ErrInvalidHexDigit:
		return e.Kind == InvalidHexDigit
	case ErrInvalidUTF8:
		return e.Kind == InvalidUTF8
	}
	return false
}

// Encode converts outgoing text into the bytes to transmit.
func Encode(text string, mode Mode) ([]byte, error) {
	switch mode {
	case ModeHex:
		return ParseHex(text)
	case ModeUTF8:
		return []byte(text), nil
	default:
		return nil, fmt.Errorf("unknown encoding mode: %d", mode)
	}
}

// Decode converts received bytes into display text.
func Decode(data []byte, mode Mode) (string, error) {
	switch mode {
	case ModeHex:
		return FormatHex(data), nil
	case ModeUTF8:
		return DecodeUTF8(data)
	default:
		return "", fmt.Errorf("unknown encoding mode: %d", mode)
	}
}

// ParseHex parses hexadecimal text into bytes. Whitespace anywhere in the
// input is ignored and digits are case-insensitive.
func ParseHex(text string) ([]byte, error) {
	digits := make([]byte, 0, len(text))
	for i, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		if !isHexDigit(r) {
			return nil, &Error{Kind: InvalidHexDigit, Offset: i}
		}
		digits = append(digits, byte(r))
	}

	if len(digits)%2 != 0 {
		return nil, &Error{Kind: OddHexLength, Offset: -1}
	}

	out := make([]byte, len(digits)/2)
	if _, err := hex.Decode(out, digits); err != nil {
		// unreachable: every digit was validated above
		return nil, fmt.Errorf("failed to decode hex: %w", err)
	}
	return out, nil
}

// FormatHex renders bytes as uppercase hex digits, two per byte, without
// separators.
func FormatHex(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

// DecodeUTF8 returns data as a string if it is valid UTF-8.
func DecodeUTF8(data []byte) (string, error) {
	if off := invalidOffset(data); off >= 0 {
		return "", &Error{Kind: InvalidUTF8, Offset: off}
	}
	return string(data), nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// invalidOffset returns the offset of the first invalid sequence, or -1.
func invalidOffset(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return -1
}
