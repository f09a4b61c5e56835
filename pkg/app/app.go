// Package app wires the serial core into a session: port discovery,
// connections, the command history, the session log and the event bus.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"serial-tool/pkg/clock"
	"serial-tool/pkg/codec"
	"serial-tool/pkg/config"
	"serial-tool/pkg/event"
	"serial-tool/pkg/history"
	"serial-tool/pkg/serial"
	"serial-tool/pkg/sessionlog"
)

// Options configures a Session
type Options struct {
	// LogDir receives the session log. Empty disables it.
	LogDir          string
	HistoryCapacity int
	SkipDuplicates  bool
	// HistoryFile, when set, is loaded at start and written on Shutdown
	HistoryFile   string
	USBOnly       bool
	WatchInterval time.Duration
	CloseGrace    time.Duration
	Logger        *zap.Logger

	Opener     serial.Opener
	Enumerator serial.EnumerateFunc
	Clock      clock.Clock
}

// OptionsFromConfig builds session options from the loaded configuration
func OptionsFromConfig(cfg *config.Config, logger *zap.Logger) Options {
	return Options{
		LogDir:          cfg.Session.LogDir,
		HistoryCapacity: cfg.History.Capacity,
		SkipDuplicates:  cfg.History.SkipDuplicates,
		HistoryFile:     cfg.History.File,
		USBOnly:         cfg.Session.USBOnly,
		WatchInterval:   cfg.Session.WatchInterval,
		CloseGrace:      cfg.Session.CloseGrace,
		Logger:          logger,
	}
}

// Stats summarizes the traffic of a session across all its connections
type Stats struct {
	BytesSent      int64
	BytesReceived  int64
	FramesSent     int64
	FramesReceived int64
	Duration       time.Duration
}

// Session is the in-process boundary between the serial core and whoever
// presents it. All methods are safe for concurrent use.
type Session struct {
	ID        string
	StartTime time.Time

	clock      clock.Clock
	bus        *event.Bus
	ports      *serial.PortRegistry
	registry   *serial.Registry
	writer     *serial.Writer
	history    *history.Buffer
	sessionLog *sessionlog.Logger
	logger     *zap.Logger

	historyFile   string
	watchInterval time.Duration

	bytesSent      atomic.Int64
	bytesReceived  atomic.Int64
	framesSent     atomic.Int64
	framesReceived atomic.Int64

	mu      sync.Mutex
	endTime *time.Time
}

// NewSession creates a session and opens its session log
func NewSession(opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := opts.Clock
	if c == nil {
		c = clock.NewSessionClock()
	}
	capacity := opts.HistoryCapacity
	if capacity <= 0 {
		capacity = history.DefaultCapacity
	}

	s := &Session{
		ID:            uuid.New().String(),
		StartTime:     c.Now(),
		clock:         c,
		historyFile:   opts.HistoryFile,
		watchInterval: opts.WatchInterval,
	}
	s.logger = logger.With(zap.String("session_id", s.ID))
	s.bus = event.NewBus(s.logger)

	var historyOpts []history.Option
	if opts.SkipDuplicates {
		historyOpts = append(historyOpts, history.WithSkipDuplicates())
	}
	s.history = history.New(capacity, historyOpts...)
	if s.historyFile != "" {
		if err := s.history.Load(s.historyFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Failed to load command history", zap.String("file", s.historyFile), zap.Error(err))
		}
	}

	if opts.LogDir != "" {
		l, err := sessionlog.Open(opts.LogDir, s.StartTime,
			sessionlog.WithLogger(s.logger),
			sessionlog.WithErrorHandler(s.logFailed),
		)
		if err != nil {
			s.bus.Close()
			return nil, fmt.Errorf("failed to open session log: %w", err)
		}
		s.sessionLog = l
	}

	portOpts := []serial.RegistryOption{serial.WithRegistryLogger(s.logger)}
	if opts.USBOnly {
		portOpts = append(portOpts, serial.WithUSBOnly())
	}
	if opts.Enumerator != nil {
		portOpts = append(portOpts, serial.WithEnumerator(opts.Enumerator))
	}
	s.ports = serial.NewPortRegistry(portOpts...)

	regOpts := []serial.Option{
		serial.WithBus(s.bus),
		serial.WithClock(c),
		serial.WithRecorder(s),
		serial.WithLogger(s.logger),
	}
	if opts.Opener != nil {
		regOpts = append(regOpts, serial.WithOpener(opts.Opener))
	}
	if opts.CloseGrace > 0 {
		regOpts = append(regOpts, serial.WithCloseGrace(opts.CloseGrace))
	}
	s.registry = serial.NewRegistry(regOpts...)
	s.writer = serial.NewWriter(s.history, s.logger)

	s.logger.Info("Session started", zap.Time("start", s.StartTime), zap.String("session_log", s.LogPath()))
	return s, nil
}

// Record counts the frame and appends it to the session log
func (s *Session) Record(frame event.Frame, mode codec.Mode) {
	n := int64(len(frame.Data))
	if frame.Direction == event.Sent {
		s.bytesSent.Add(n)
		s.framesSent.Add(1)
	} else {
		s.bytesReceived.Add(n)
		s.framesReceived.Add(1)
	}

	if s.sessionLog != nil {
		s.sessionLog.Record(frame, mode)
	}
}

func (s *Session) logFailed(err *sessionlog.LogError) {
	s.bus.Publish(event.Event{Kind: event.ErrorOccurred, Err: err})
}

// LogPath returns the session log file, or "" when logging is disabled
func (s *Session) LogPath() string {
	if s.sessionLog == nil {
		return ""
	}
	return s.sessionLog.Path()
}

// Subscribe returns a subscription to the session's events. No kinds
// means all kinds.
func (s *Session) Subscribe(kinds ...event.Kind) *event.Subscription {
	return s.bus.Subscribe(kinds...)
}

// ListPorts enumerates the available ports
func (s *Session) ListPorts() ([]serial.PortDescriptor, error) {
	return s.ports.ListPorts()
}

// WatchPorts publishes a PortsChanged event whenever the set of available
// ports changes. It blocks until ctx is cancelled.
func (s *Session) WatchPorts(ctx context.Context) {
	s.ports.Watch(ctx, s.watchInterval, func(ports []serial.PortDescriptor) {
		names := make([]string, len(ports))
		for i, p := range ports {
			names[i] = p.Name
		}
		s.bus.Publish(event.Event{Kind: event.PortsChanged, Ports: names})
	})
}

// Open opens port with cfg. Ports that enumeration does not report, such
// as pseudo terminals, are opened by name.
func (s *Session) Open(port string, cfg serial.PortConfig, mode codec.Mode) (*serial.Connection, error) {
	desc, ok, err := s.ports.Lookup(port)
	if err != nil {
		s.logger.Warn("Port lookup failed, opening by name", zap.String("port", port), zap.Error(err))
	}
	if !ok {
		desc = serial.PortDescriptor{Name: port}
	}
	return s.registry.Open(desc, cfg, mode)
}

// Connection returns the live connection for port
func (s *Session) Connection(port string) (*serial.Connection, error) {
	conn, ok := s.registry.Get(port)
	if !ok {
		return nil, fmt.Errorf("%s: %w", port, serial.ErrNotOpen)
	}
	return conn, nil
}

// Close closes the connection on port
func (s *Session) Close(port string) error {
	conn, err := s.Connection(port)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Reset clears a connection that is in the error state
func (s *Session) Reset(port string) error {
	conn, err := s.Connection(port)
	if err != nil {
		return err
	}
	return conn.Reset()
}

// Send encodes text in mode and writes it to port
func (s *Session) Send(port, text string, mode codec.Mode, appendLineFeed bool) error {
	conn, ok := s.registry.Get(port)
	if !ok {
		return serial.ErrNotOpen
	}
	return s.writer.Send(conn, text, mode, appendLineFeed)
}

// SetMode changes how data received on port is decoded
func (s *Session) SetMode(port string, mode codec.Mode) error {
	conn, err := s.Connection(port)
	if err != nil {
		return err
	}
	conn.SetMode(mode)
	s.logger.Debug("Decode mode changed", zap.String("port", port), zap.Stringer("mode", mode))
	return nil
}

// Recall walks the command history
func (s *Session) Recall(direction history.Direction) (history.Entry, bool) {
	return s.history.Recall(direction)
}

// History returns the sent commands, oldest first
func (s *Session) History() []history.Entry {
	return s.history.Entries()
}

// Stats returns the session traffic counters
func (s *Session) Stats() Stats {
	s.mu.Lock()
	end := s.clock.Now()
	if s.endTime != nil {
		end = *s.endTime
	}
	s.mu.Unlock()

	return Stats{
		BytesSent:      s.bytesSent.Load(),
		BytesReceived:  s.bytesReceived.Load(),
		FramesSent:     s.framesSent.Load(),
		FramesReceived: s.framesReceived.Load(),
		Duration:       end.Sub(s.StartTime),
	}
}

// Active reports whether Shutdown has not been called yet
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime == nil
}

// Shutdown closes every connection, saves the history, closes the session
// log and finally the event bus. Subscribers receive all events published
// before it. Calling Shutdown again is a no-op.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	if s.endTime != nil {
		s.mu.Unlock()
		return nil
	}
	now := s.clock.Now()
	s.endTime = &now
	s.mu.Unlock()

	err := s.registry.CloseAll()

	if s.historyFile != "" {
		if saveErr := s.history.Save(s.historyFile); saveErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to save history: %w", saveErr))
		}
	}
	if s.sessionLog != nil {
		err = multierr.Append(err, s.sessionLog.Close())
	}

	stats := s.Stats()
	s.logger.Info("Session ended",
		zap.Duration("duration", stats.Duration),
		zap.Int64("bytes_sent", stats.BytesSent),
		zap.Int64("bytes_received", stats.BytesReceived),
		zap.Error(err),
	)

	s.bus.Close()
	return err
}
