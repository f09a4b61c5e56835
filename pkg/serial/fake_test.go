package serial

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"serial-tool/pkg/event"
)

var errFakeClosed = errors.New("fake port closed")

// fakePort is a Transport with scripted reads and captured writes.
type fakePort struct {
	chunks   chan []byte
	readErrs chan error
	closed   chan struct{}

	mu          sync.Mutex
	written     bytes.Buffer
	writeCalls  int
	writeErr    error
	closeErr    error
	closeCalls  int
	readTimeout time.Duration

	// ignoreTimeout makes Read block until data arrives or the port is
	// closed, like a driver that never honours its timeout
	ignoreTimeout bool
	// blockWrites makes Write hang until the port is closed, like a port
	// held back by hardware flow control
	blockWrites bool

	closeOnce sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		chunks:      make(chan []byte, 64),
		readErrs:    make(chan error, 1),
		closed:      make(chan struct{}),
		readTimeout: 10 * time.Millisecond,
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	var timeout <-chan time.Time
	if !p.ignoreTimeout {
		timeout = time.After(p.readTimeout)
	}
	p.mu.Unlock()

	select {
	case chunk := <-p.chunks:
		return copy(b, chunk), nil
	case err := <-p.readErrs:
		return 0, err
	case <-p.closed:
		return 0, errFakeClosed
	case <-timeout:
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.writeCalls++
	block := p.blockWrites
	p.mu.Unlock()

	if block {
		<-p.closed
		return 0, errFakeClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closeCalls++
	err := p.closeErr
	p.mu.Unlock()

	p.closeOnce.Do(func() { close(p.closed) })
	return err
}

func (p *fakePort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = d
	return nil
}

func (p *fakePort) feed(data []byte) {
	p.chunks <- data
}

func (p *fakePort) failRead(err error) {
	p.readErrs <- err
}

func (p *fakePort) setWriteErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

func (p *fakePort) writtenBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

func (p *fakePort) writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeCalls
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// fakeOpener hands out fakePorts and remembers them by name.
type fakeOpener struct {
	mu    sync.Mutex
	ports map[string]*fakePort
	calls int
	err   error
	// gate, when set, blocks opens until it is closed
	gate chan struct{}
	// configure adjusts each new port before it is returned
	configure func(*fakePort)
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{ports: make(map[string]*fakePort)}
}

func (o *fakeOpener) open(name string, cfg PortConfig) (Transport, error) {
	o.mu.Lock()
	o.calls++
	gate, err, configure := o.gate, o.err, o.configure
	o.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	p := newFakePort()
	p.readTimeout = cfg.ReadTimeout
	if configure != nil {
		configure(p)
	}

	o.mu.Lock()
	o.ports[name] = p
	o.mu.Unlock()
	return p, nil
}

func (o *fakeOpener) port(name string) *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ports[name]
}

func (o *fakeOpener) openCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// nextEvent waits for the next event on sub that matches pred.
func nextEvent(t *testing.T, sub *event.Subscription, pred func(event.Event) bool) event.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C():
			require.True(t, ok, "subscription closed while waiting")
			if pred(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return event.Event{}
		}
	}
}

func statusTo(state State) func(event.Event) bool {
	return func(ev event.Event) bool {
		return ev.Kind == event.StatusChanged && ev.To == state.String()
	}
}

func kindIs(kind event.Kind) func(event.Event) bool {
	return func(ev event.Event) bool {
		return ev.Kind == kind
	}
}

// drain collects everything left on sub after the bus is closed.
func drain(t *testing.T, bus *event.Bus, sub *event.Subscription) []event.Event {
	t.Helper()
	bus.Close()

	var events []event.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out draining events")
			return events
		}
	}
}
