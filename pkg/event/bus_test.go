package event

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{FrameReceived, "frame_received"},
		{FrameSent, "frame_sent"},
		{StatusChanged, "status_changed"},
		{PortsChanged, "ports_changed"},
		{ErrorOccurred, "error"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Close()

	// publish more than any fixed-size buffer would hold before reading
	const n = 5000
	for i := 0; i < n; i++ {
		bus.Publish(Event{Kind: FrameReceived, Text: string(rune('a' + i%26)), Port: "p"})
	}

	for i := 0; i < n; i++ {
		ev := receive(t, sub)
		if ev.Text != string(rune('a'+i%26)) {
			t.Fatalf("event %d out of order: got %q", i, ev.Text)
		}
	}
}

func TestBus_KindFilter(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	errs := bus.Subscribe(ErrorOccurred)
	defer errs.Close()
	all := bus.Subscribe()
	defer all.Close()

	bus.Publish(Event{Kind: FrameReceived})
	bus.Publish(Event{Kind: ErrorOccurred, Err: errors.New("boom")})

	ev := receive(t, errs)
	assert.Equal(t, ErrorOccurred, ev.Kind)
	assert.EqualError(t, ev.Err, "boom")

	assert.Equal(t, FrameReceived, receive(t, all).Kind)
	assert.Equal(t, ErrorOccurred, receive(t, all).Kind)
}

func TestBus_SetsTimestamp(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(Event{Kind: StatusChanged})
	assert.False(t, receive(t, sub).Timestamp.IsZero())
}

func TestBus_CloseDrainsThenCloses(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe()

	bus.Publish(Event{Kind: StatusChanged, To: "open"})
	bus.Publish(Event{Kind: StatusChanged, To: "closed"})
	bus.Close()

	assert.Equal(t, "open", receive(t, sub).To)
	assert.Equal(t, "closed", receive(t, sub).To)

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok, "channel should be closed after drain")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after bus close")
	}

	// publishing after close is ignored
	bus.Publish(Event{Kind: StatusChanged})
}

func TestBus_SubscribeAfterClose(t *testing.T) {
	bus := NewBus(nil)
	bus.Close()

	sub := bus.Subscribe()
	select {
	case _, ok := <-sub.C():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription on closed bus should be closed")
	}
}

func TestSubscription_Close(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	sub := bus.Subscribe()
	bus.Publish(Event{Kind: StatusChanged})
	sub.Close()
	sub.Close()

	// the pump exits and closes the channel; pending events may be discarded
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after unsubscribe")
		}
	}
}

func TestBus_ConcurrentPublishers(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	const perPublisher = 200
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(port string) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				bus.Publish(Event{Kind: FrameReceived, Port: port, Text: string(rune('0' + i%10))})
			}
		}(string(rune('A' + p)))
	}
	wg.Wait()

	// each publisher's events arrive in its own order
	next := map[string]int{}
	for i := 0; i < 4*perPublisher; i++ {
		ev := receive(t, sub)
		want := string(rune('0' + next[ev.Port]%10))
		require.Equal(t, want, ev.Text, "publisher %s out of order", ev.Port)
		next[ev.Port]++
	}
}
