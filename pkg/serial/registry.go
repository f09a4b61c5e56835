package serial

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"serial-tool/pkg/clock"
	"serial-tool/pkg/codec"
	"serial-tool/pkg/event"
)

// DefaultCloseGrace is added to the read timeout when waiting for a reader
// to stop before the port is forced closed.
const DefaultCloseGrace = 500 * time.Millisecond

// FrameRecorder persists frames, typically a session log
type FrameRecorder interface {
	Record(frame event.Frame, mode codec.Mode)
}

// Option configures a Registry
type Option func(*Registry)

// WithOpener replaces the platform port opener
func WithOpener(open Opener) Option {
	return func(r *Registry) {
		r.open = open
	}
}

// WithBus sets the bus that receives frames, status changes and errors
func WithBus(bus *event.Bus) Option {
	return func(r *Registry) {
		r.bus = bus
	}
}

// WithClock sets the clock that stamps frames
func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithRecorder sets where frames are persisted
func WithRecorder(rec FrameRecorder) Option {
	return func(r *Registry) {
		r.recorder = rec
	}
}

// WithLogger sets the diagnostic logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCloseGrace sets how long past the read timeout Close waits for the
// reader before forcing the port closed
func WithCloseGrace(d time.Duration) Option {
	return func(r *Registry) {
		r.closeGrace = d
	}
}

// Registry holds the live connections keyed by port name. An entry exists
// from the moment an open starts until the connection reports StateClosed,
// so at most one connection per port can be live.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Connection

	open       Opener
	bus        *event.Bus
	clock      clock.Clock
	recorder   FrameRecorder
	logger     *zap.Logger
	closeGrace time.Duration
}

// NewRegistry creates a connection registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		conns:      make(map[string]*Connection),
		open:       OpenPort,
		logger:     zap.NewNop(),
		closeGrace: DefaultCloseGrace,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.bus == nil {
		r.bus = event.NewBus(r.logger)
	}
	if r.clock == nil {
		r.clock = clock.NewSessionClock()
	}
	r.logger = r.logger.With(zap.String("component", "connection"))
	return r
}

// Bus returns the event bus connections publish to
func (r *Registry) Bus() *event.Bus {
	return r.bus
}

// Open validates cfg, claims the port and opens it. Received bytes are
// decoded with mode until Connection.SetMode changes it.
//
// It fails with an *OpenError of kind InvalidConfig when cfg is invalid,
// Busy when another open or close of the port is in progress, AlreadyOpen
// when a live connection exists, and PlatformFailure when the port cannot
// be opened. After a PlatformFailure the connection stays registered in
// StateError until it is Reset.
func (r *Registry) Open(desc PortDescriptor, cfg PortConfig, mode codec.Mode) (*Connection, error) {
	if desc.Name == "" {
		return nil, &OpenError{Kind: InvalidConfig, Cause: ErrInvalidPortName}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &OpenError{Kind: InvalidConfig, Port: desc.Name, Cause: err}
	}

	r.mu.Lock()
	if existing, ok := r.conns[desc.Name]; ok {
		r.mu.Unlock()
		kind := AlreadyOpen
		if s := existing.State(); s == StateOpening || s == StateClosing {
			kind = Busy
		}
		return nil, &OpenError{Kind: kind, Port: desc.Name}
	}
	conn := newConnection(r, desc, cfg, mode)
	r.conns[desc.Name] = conn
	r.mu.Unlock()

	conn.publish(event.Event{
		Kind: event.StatusChanged,
		From: StateClosed.String(),
		To:   StateOpening.String(),
	})

	if cfg.FlowControl == FlowSoftware {
		conn.logger.Warn("Software flow control is not supported by the serial driver, continuing without it")
	}

	transport, err := r.open(desc.Name, cfg)
	if err != nil {
		openErr := &OpenError{Kind: PlatformFailure, Port: desc.Name, Cause: err}
		conn.logger.Error("Failed to open port", zap.Error(err))
		conn.openFailed(openErr)
		return nil, openErr
	}

	conn.start(transport)
	conn.logger.Info("Port opened",
		zap.Int("baud_rate", cfg.BaudRate),
		zap.Stringer("settings", cfg),
		zap.Stringer("flow_control", cfg.FlowControl),
	)
	return conn, nil
}

// Get returns the live connection for a port
func (r *Registry) Get(name string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[name]
	return conn, ok
}

// Connections returns the live connections sorted by port name
func (r *Registry) Connections() []*Connection {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool {
		return conns[i].Name() < conns[j].Name()
	})
	return conns
}

// CloseAll closes every live connection
func (r *Registry) CloseAll() error {
	var err error
	for _, c := range r.Connections() {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// release drops the entry for c once it is closed.
func (r *Registry) release(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[c.Name()] == c {
		delete(r.conns, c.Name())
	}
}
