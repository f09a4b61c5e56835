// Package sessionlog writes an append-only record of every frame sent and
// received during a session.
package sessionlog

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"serial-tool/pkg/codec"
	"serial-tool/pkg/event"
)

const (
	// TimestampFormat is the per-line timestamp, RFC 3339 with milliseconds
	TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

	fileTimeFormat = "20060102_150405.000"
)

// LogError reports a failed write to the session log. It never interrupts
// the communication path.
type LogError struct {
	Path  string
	Cause error
}

func (e *LogError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("session log: %v", e.Cause)
	}
	return fmt.Sprintf("session log %s: %v", e.Path, e.Cause)
}

func (e *LogError) Unwrap() error {
	return e.Cause
}

// Option configures a Logger
type Option func(*Logger)

// WithErrorHandler sets the function that receives write failures
func WithErrorHandler(fn func(*LogError)) Option {
	return func(l *Logger) {
		l.onError = fn
	}
}

// WithLogger sets the diagnostic logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Logger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Logger appends one line per frame to a single destination
type Logger struct {
	mu      sync.Mutex
	w       io.Writer
	file    *os.File
	path    string
	closed  bool
	onError func(*LogError)
	logger  *zap.Logger
}

// FileName returns the log file name for a session started at start
func FileName(start time.Time) string {
	return "session_" + start.Format(fileTimeFormat) + ".log"
}

// Open creates dir if needed and opens the log file for the session
// started at start.
func Open(dir string, start time.Time, opts ...Option) (*Logger, error) {
	if dir == "" {
		return nil, fmt.Errorf("log directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, FileName(start))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}

	l := newLogger(file, opts)
	l.file = file
	l.path = path
	l.logger.Info("Session log opened", zap.String("path", path))
	return l, nil
}

// NewLogger writes records to w. Close does not close w.
func NewLogger(w io.Writer, opts ...Option) *Logger {
	return newLogger(w, opts)
}

func newLogger(w io.Writer, opts []Option) *Logger {
	l := &Logger{
		w:      w,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("component", "session_log"))
	return l
}

// Path returns the file path, or "" when writing to a plain writer
func (l *Logger) Path() string {
	return l.path
}

// Record appends the frame. mode is the encoding mode active when the
// frame was produced.
func (l *Logger) Record(frame event.Frame, mode codec.Mode) {
	line := FormatLine(frame, mode)

	l.mu.Lock()
	err := l.write(line)
	l.mu.Unlock()

	if err != nil {
		l.fail(err)
	}
}

func (l *Logger) write(line string) error {
	if l.closed {
		return os.ErrClosed
	}
	if _, err := io.WriteString(l.w, line); err != nil {
		return err
	}
	if l.file != nil {
		return l.file.Sync()
	}
	return nil
}

func (l *Logger) fail(cause error) {
	logErr := &LogError{Path: l.path, Cause: cause}
	l.logger.Warn("Session log write failed", zap.Error(cause))
	if l.onError != nil {
		l.onError(logErr)
	}
}

// Close releases the file. Records after Close are reported as errors.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return &LogError{Path: l.path, Cause: err}
	}
	l.logger.Info("Session log closed", zap.String("path", l.path))
	return nil
}

// FormatLine renders a frame as one log line including the trailing newline
func FormatLine(frame event.Frame, mode codec.Mode) string {
	return fmt.Sprintf("[%s] %s: %s\n",
		frame.Timestamp.Format(TimestampFormat),
		frame.Direction.Tag(),
		payload(frame.Data, mode),
	)
}

// payload is literal text for valid UTF-8 in UTF-8 mode, lowercase hex
// otherwise. Bytes of a character split across reads are written as \xNN
// escapes so the rest of the frame stays readable.
func payload(data []byte, mode codec.Mode) string {
	if mode == codec.ModeUTF8 {
		head, tail := codec.SplitEdges(data)
		body := data[head : len(data)-tail]
		if utf8.Valid(body) {
			return escapeBytes(data[:head]) +
				lineEscaper.Replace(string(body)) +
				escapeBytes(data[len(data)-tail:])
		}
	}
	return hex.EncodeToString(data)
}

func escapeBytes(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		fmt.Fprintf(&sb, `\x%02x`, c)
	}
	return sb.String()
}

var lineEscaper = strings.NewReplacer("\r", `\r`, "\n", `\n`)
