package serial

import (
	"go.uber.org/zap"

	"serial-tool/pkg/codec"
	"serial-tool/pkg/history"
)

// HistoryRecorder stores commands that were sent successfully
type HistoryRecorder interface {
	Push(entry history.Entry) bool
}

// Writer encodes commands and sends them through a connection
type Writer struct {
	history HistoryRecorder
	logger  *zap.Logger
}

// NewWriter creates a writer that records sent commands in h. h may be nil.
func NewWriter(h HistoryRecorder, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		history: h,
		logger:  logger.With(zap.String("component", "writer")),
	}
}

// Send encodes text in mode, optionally appends a line feed and writes
// the bytes. Encoding errors are returned before anything is written and
// leave the connection untouched. A transport failure moves the connection
// to StateError and is returned as an *IoError. On success the command is
// pushed to history.
func (w *Writer) Send(conn *Connection, text string, mode codec.Mode, appendLineFeed bool) error {
	if conn == nil || conn.State() != StateOpen {
		return ErrNotOpen
	}

	data, err := codec.Encode(text, mode)
	if err != nil {
		return err
	}
	if appendLineFeed {
		data = append(data, '\n')
	}
	if len(data) == 0 {
		return nil
	}

	display := string(data)
	if mode == codec.ModeHex {
		display = codec.FormatHex(data)
	}

	if _, err := conn.write(data, mode, display); err != nil {
		return err
	}

	if w.history != nil {
		w.history.Push(history.Entry{Text: text, Mode: mode})
	}

	w.logger.Debug("Command sent",
		zap.String("port", conn.Name()),
		zap.Stringer("mode", mode),
		zap.Int("bytes", len(data)),
	)
	return nil
}
