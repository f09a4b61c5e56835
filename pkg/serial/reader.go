package serial

import (
	"context"

	"go.uber.org/zap"

	"serial-tool/pkg/codec"
	"serial-tool/pkg/event"
)

const readBufferSize = 4096

// readLoop pulls bytes off the transport until ctx is cancelled or the
// transport fails. Each non-empty read becomes one Received frame.
func (c *Connection) readLoop(ctx context.Context, t Transport, done chan<- struct{}) {
	defer close(done)

	c.logger.Debug("Reader started")
	defer c.logger.Debug("Reader stopped")

	buf := make([]byte, readBufferSize)
	var stream codec.UTF8Stream

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := t.Read(buf)

		// bytes that arrive while closing are dropped so no frame follows Close
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			c.fail("read", err)
			return
		}

		if n == 0 {
			continue
		}

		c.received(buf[:n], &stream)
	}
}

func (c *Connection) received(data []byte, stream *codec.UTF8Stream) {
	frame := event.NewFrame(data, event.Received, c.registry.clock.Now())
	mode := c.Mode()

	c.bytesReceived.Add(uint64(len(data)))
	c.framesReceived.Add(1)

	var text string
	var decodeErr error
	switch mode {
	case codec.ModeHex:
		stream.Reset()
		text = codec.FormatHex(frame.Data)
	default:
		text, decodeErr = stream.Feed(frame.Data)
	}

	c.record(frame, mode)
	c.publish(event.Event{
		Kind:      event.FrameReceived,
		Frame:     &frame,
		Text:      text,
		Timestamp: frame.Timestamp,
	})

	if decodeErr != nil {
		c.logger.Debug("Received bytes failed to decode",
			zap.Stringer("mode", mode),
			zap.Error(decodeErr),
		)
		c.publish(event.Event{Kind: event.ErrorOccurred, Err: decodeErr})
	}
}
