// Package event carries frames, status changes and errors from the serial
// core to whoever is presenting them.
package event

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind identifies the type of an event
type Kind int

const (
	FrameReceived Kind = iota
	FrameSent
	StatusChanged
	PortsChanged
	ErrorOccurred
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case FrameReceived:
		return "frame_received"
	case FrameSent:
		return "frame_sent"
	case StatusChanged:
		return "status_changed"
	case PortsChanged:
		return "ports_changed"
	case ErrorOccurred:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a message from the core to the presentation layer.
type Event struct {
	Kind Kind
	Port string

	// Frame and Text are set for FrameReceived and FrameSent. Text is the
	// payload rendered in the connection's encoding mode; it is empty when
	// decoding failed (an ErrorOccurred event follows in that case).
	Frame *Frame
	Text  string

	// From and To are set for StatusChanged.
	From string
	To   string

	// Ports is set for PortsChanged.
	Ports []string

	// Err is set for ErrorOccurred.
	Err error

	Timestamp time.Time
}

// Bus fans events out to subscribers. Every subscription receives the
// events it is interested in, in publish order, and none are dropped:
// each subscription queues events until its consumer takes them.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	logger *zap.Logger
}

// NewBus creates a new event bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: logger.With(zap.String("component", "event_bus")),
	}
}

// Subscribe registers interest in the given kinds, or in all kinds when
// none are given.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newSubscription(b, b.nextID, kinds)
	b.nextID++

	if b.closed {
		sub.finish()
	} else {
		b.subs[sub.id] = sub
	}
	go sub.pump()
	return sub
}

// Publish delivers an event to every interested subscriber
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Debug("Event published after bus closed",
			zap.Stringer("kind", ev.Kind),
			zap.String("port", ev.Port),
		)
		return
	}

	for _, sub := range b.subs {
		if sub.wants(ev.Kind) {
			sub.enqueue(ev)
		}
	}
}

// Close stops accepting events. Subscribers still receive everything that
// was published before Close, after which their channels are closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		sub.finish()
		delete(b.subs, id)
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Subscription is one consumer's ordered view of the bus.
type Subscription struct {
	bus   *Bus
	id    uint64
	kinds map[Kind]bool

	mu       sync.Mutex
	queue    []Event
	finished bool

	notify    chan struct{}
	out       chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscription(b *Bus, id uint64, kinds []Kind) *Subscription {
	sub := &Subscription{
		bus:    b,
		id:     id,
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}
	return sub
}

// C returns the channel events are delivered on. It is closed after the
// bus is closed and all queued events have been received, or when the
// subscription is closed.
func (s *Subscription) C() <-chan Event {
	return s.out
}

// Close unsubscribes. Queued events that were not received are discarded.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.bus.remove(s.id)
}

func (s *Subscription) wants(k Kind) bool {
	return s.kinds == nil || s.kinds[k]
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

// finish marks the queue complete; the pump closes the channel once drained.
func (s *Subscription) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
