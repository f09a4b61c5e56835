package serial

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"serial-tool/pkg/codec"
	"serial-tool/pkg/event"
)

// ErrNotInError is returned by Reset when the connection has not failed
var ErrNotInError = errors.New("connection is not in error state")

// Stats counts traffic on a connection
type Stats struct {
	BytesSent      uint64 `json:"bytes_sent"`
	BytesReceived  uint64 `json:"bytes_received"`
	FramesSent     uint64 `json:"frames_sent"`
	FramesReceived uint64 `json:"frames_received"`
}

// Connection owns one open port. Its state tag is the only authority on
// whether reads and writes are allowed; every change to it is a
// compare-and-set under mu and is published as a StatusChanged event.
type Connection struct {
	desc     PortDescriptor
	cfg      PortConfig
	registry *Registry
	logger   *zap.Logger

	mu        sync.RWMutex
	state     State
	lastErr   error
	transport Transport
	cancel    context.CancelFunc
	done      chan struct{}
	// writing is closed when the in-flight write returns, nil when idle
	writing chan struct{}

	// writeMu serializes writers. mu is never held across a transport call.
	writeMu sync.Mutex

	mode           atomic.Int32
	bytesSent      atomic.Uint64
	bytesReceived  atomic.Uint64
	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
}

func newConnection(r *Registry, desc PortDescriptor, cfg PortConfig, mode codec.Mode) *Connection {
	c := &Connection{
		desc:     desc,
		cfg:      cfg,
		registry: r,
		logger:   r.logger.With(zap.String("port", desc.Name)),
		state:    StateOpening,
	}
	c.mode.Store(int32(mode))
	return c
}

// Name returns the port name
func (c *Connection) Name() string {
	return c.desc.Name
}

// Descriptor returns the descriptor the connection was opened with
func (c *Connection) Descriptor() PortDescriptor {
	return c.desc
}

// Config returns the configuration the connection was opened with
func (c *Connection) Config() PortConfig {
	return c.cfg
}

// State returns the current state
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the failure that moved the connection to StateError
func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Mode returns the encoding mode used to decode received bytes
func (c *Connection) Mode() codec.Mode {
	return codec.Mode(c.mode.Load())
}

// SetMode changes the encoding mode for subsequent reads
func (c *Connection) SetMode(mode codec.Mode) {
	c.mode.Store(int32(mode))
}

// Stats returns the traffic counters
func (c *Connection) Stats() Stats {
	return Stats{
		BytesSent:      c.bytesSent.Load(),
		BytesReceived:  c.bytesReceived.Load(),
		FramesSent:     c.framesSent.Load(),
		FramesReceived: c.framesReceived.Load(),
	}
}

// Close stops the reader, releases the port and reports StateClosed. It
// is allowed from StateOpen and StateError; closing a closed connection
// is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	return c.shutdownLocked("close", StateOpen, StateError)
}

// Reset returns a failed connection to StateClosed and releases its port
func (c *Connection) Reset() error {
	c.mu.Lock()
	if c.state != StateError {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("reset %s (%s): %w", c.desc.Name, state, ErrNotInError)
	}
	return c.shutdownLocked("reset", StateError)
}

// shutdownLocked is entered with mu held and releases it.
func (c *Connection) shutdownLocked(op string, from ...State) error {
	if !c.casLocked(StateClosing, from...) {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%s %s (%s): %w", op, c.desc.Name, state, ErrBusy)
	}
	cancel, done, writing, transport := c.cancel, c.done, c.writing, c.transport
	c.mu.Unlock()

	c.logger.Info("Closing connection", zap.String("op", op))

	if cancel != nil {
		cancel()
	}

	var closeErr error
	wait := c.cfg.ReadTimeout + c.registry.closeGrace
	if !waitClosed(wait, done, writing) {
		c.logger.Warn("Port did not stop in time, forcing it closed",
			zap.Duration("waited", wait),
		)
		closeErr = c.closeTransport(transport)
		transport = nil
		waitClosed(0, done, writing)
	}
	if transport != nil {
		closeErr = c.closeTransport(transport)
	}

	c.mu.Lock()
	c.transport = nil
	c.cancel = nil
	c.done = nil
	c.casLocked(StateClosed, StateClosing)
	c.mu.Unlock()

	c.registry.release(c)
	c.logger.Info("Connection closed")
	return closeErr
}

// start is called by the registry once the transport is open.
func (c *Connection) start(transport Transport) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.transport = transport
	c.cancel = cancel
	c.done = done
	c.casLocked(StateOpen, StateOpening)
	c.mu.Unlock()

	go c.readLoop(ctx, transport, done)
}

// openFailed records a platform failure during open.
func (c *Connection) openFailed(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.casLocked(StateError, StateOpening)
	c.mu.Unlock()

	c.publish(event.Event{Kind: event.ErrorOccurred, Err: err})
}

// fail moves an open connection to StateError after a transport fault and
// stops the reader. It returns the fault as an *IoError.
func (c *Connection) fail(op string, cause error) *IoError {
	ioErr := &IoError{Op: op, Port: c.desc.Name, Cause: cause}

	c.mu.Lock()
	moved := c.casLocked(StateError, StateOpen)
	if moved {
		c.lastErr = ioErr
	}
	cancel := c.cancel
	c.mu.Unlock()

	if moved {
		c.logger.Error("Transport fault", zap.String("op", op), zap.Error(cause))
		c.publish(event.Event{Kind: event.ErrorOccurred, Err: ioErr})
		if cancel != nil {
			cancel()
		}
	}
	return ioErr
}

// casLocked moves to `to` if the current state is one of from. Caller
// holds mu.
func (c *Connection) casLocked(to State, from ...State) bool {
	if !slices.Contains(from, c.state) {
		return false
	}
	prev := c.state
	c.state = to
	c.logger.Debug("State changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", to),
	)
	c.publish(event.Event{
		Kind: event.StatusChanged,
		From: prev.String(),
		To:   to.String(),
	})
	return true
}

func (c *Connection) publish(ev event.Event) {
	ev.Port = c.desc.Name
	c.registry.bus.Publish(ev)
}

// closeTransport closes t and reports a failure as an *IoError.
func (c *Connection) closeTransport(t Transport) error {
	if t == nil {
		return nil
	}
	if err := t.Close(); err != nil {
		c.logger.Warn("Port close failed", zap.Error(err))
		return &IoError{Op: "close", Port: c.desc.Name, Cause: err}
	}
	return nil
}

// waitClosed waits for every non-nil channel to be closed. It gives up
// and returns false once timeout has passed; a zero timeout waits forever.
func waitClosed(timeout time.Duration, chans ...chan struct{}) bool {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for _, ch := range chans {
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
	return true
}

// write sends data and then records and publishes the Sent frame. The
// write is registered under mu so a concurrent Close can wait for it, or
// force the port closed when it does not return.
func (c *Connection) write(data []byte, mode codec.Mode, text string) (event.Frame, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return event.Frame{}, fmt.Errorf("%s: %w", c.desc.Name, ErrNotOpen)
	}
	transport := c.transport
	writing := make(chan struct{})
	c.writing = writing
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.writing = nil
		c.mu.Unlock()
		close(writing)
	}()

	// fail only moves an Open connection, so a write cut short by Close
	// comes back as an *IoError without touching the state
	if err := writeFull(transport, data); err != nil {
		return event.Frame{}, c.fail("write", err)
	}

	frame := event.NewFrame(data, event.Sent, c.registry.clock.Now())
	c.bytesSent.Add(uint64(len(data)))
	c.framesSent.Add(1)
	c.record(frame, mode)
	c.publish(event.Event{
		Kind:      event.FrameSent,
		Frame:     &frame,
		Text:      text,
		Timestamp: frame.Timestamp,
	})
	return frame, nil
}

func (c *Connection) record(frame event.Frame, mode codec.Mode) {
	if r := c.registry.recorder; r != nil {
		r.Record(frame, mode)
	}
}

func writeFull(t Transport, data []byte) error {
	for len(data) > 0 {
		n, err := t.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("short write: %d bytes left", len(data))
		}
		data = data[n:]
	}
	return nil
}
