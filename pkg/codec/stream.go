package codec

import "unicode/utf8"

// UTF8Stream decodes a byte stream chunk by chunk. A multi-byte character
// split across two chunks is held back until the rest of it arrives
// instead of being reported as invalid.
//
// A UTF8Stream is not safe for concurrent use.
type UTF8Stream struct {
	pending []byte
}

// Feed decodes the pending bytes followed by data. On error the pending
// bytes are discarded so the next chunk starts clean.
func (s *UTF8Stream) Feed(data []byte) (string, error) {
	buf := make([]byte, 0, len(s.pending)+len(data))
	buf = append(buf, s.pending...)
	buf = append(buf, data...)
	s.pending = nil

	keep := incompleteTail(buf)
	body := buf[:len(buf)-keep]
	if off := invalidOffset(body); off >= 0 {
		return "", &Error{Kind: InvalidUTF8, Offset: off}
	}

	if keep > 0 {
		s.pending = append([]byte(nil), buf[len(buf)-keep:]...)
	}
	return string(body), nil
}

// Pending returns the number of bytes held back waiting for completion.
func (s *UTF8Stream) Pending() int {
	return len(s.pending)
}

// Reset drops any held back bytes.
func (s *UTF8Stream) Reset() {
	s.pending = nil
}

// SplitEdges reports how many leading bytes of a chunk continue a character
// begun in an earlier chunk and how many trailing bytes start one that is
// not yet complete. These are the bytes UTF8Stream carries between chunks.
func SplitEdges(b []byte) (head, tail int) {
	for head < len(b) && head < utf8.UTFMax-1 && !utf8.RuneStart(b[head]) {
		head++
	}
	return head, incompleteTail(b[head:])
}

// incompleteTail returns how many trailing bytes form the valid start of a
// character that is not yet complete.
func incompleteTail(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if !utf8.RuneStart(c) {
			continue
		}
		if c < utf8.RuneSelf || utf8.FullRune(b[len(b)-i:]) {
			return 0
		}
		return i
	}
	return 0
}
