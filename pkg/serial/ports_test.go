package serial

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func staticEnumerator(details ...*enumerator.PortDetails) EnumerateFunc {
	return func() ([]*enumerator.PortDetails, error) {
		return details, nil
	}
}

func TestPortRegistry_ListPorts(t *testing.T) {
	reg := NewPortRegistry(WithEnumerator(staticEnumerator(
		&enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A1", Product: "FT232R"},
		&enumerator.PortDetails{Name: "/dev/ttyS0"},
		nil,
		&enumerator.PortDetails{Name: ""},
	)))

	ports, err := reg.ListPorts()
	require.NoError(t, err)

	want := []PortDescriptor{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A1", Product: "FT232R"},
	}
	if diff := cmp.Diff(want, ports); diff != "" {
		t.Errorf("ListPorts() mismatch (-want +got):\n%s", diff)
	}
}

func TestPortRegistry_USBOnly(t *testing.T) {
	reg := NewPortRegistry(WithUSBOnly(), WithEnumerator(staticEnumerator(
		&enumerator.PortDetails{Name: "/dev/ttyACM0", IsUSB: true},
		&enumerator.PortDetails{Name: "/dev/ttyS0"},
	)))

	ports, err := reg.ListPorts()
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, "/dev/ttyACM0", ports[0].Name)
}

func TestPortRegistry_EnumerationError(t *testing.T) {
	cause := errors.New("probe failed")
	reg := NewPortRegistry(WithEnumerator(func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{{Name: "partial"}}, cause
	}))

	ports, err := reg.ListPorts()
	assert.Nil(t, ports, "no partial list on failure")

	var enumErr *EnumerationError
	require.ErrorAs(t, err, &enumErr)
	assert.ErrorIs(t, err, cause)
}

func TestPortRegistry_Lookup(t *testing.T) {
	reg := NewPortRegistry(WithEnumerator(staticEnumerator(
		&enumerator.PortDetails{Name: "COM3", IsUSB: true, VID: "1A86", PID: "7523"},
	)))

	desc, ok, err := reg.Lookup("COM3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "USB 1A86:7523", desc.Description())

	_, ok, err = reg.Lookup("COM9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPortDescriptor_Description(t *testing.T) {
	tests := []struct {
		desc     PortDescriptor
		expected string
	}{
		{PortDescriptor{Name: "/dev/ttyS0"}, ""},
		{PortDescriptor{Name: "x", IsUSB: true, VID: "0403", PID: "6001"}, "USB 0403:6001"},
		{PortDescriptor{Name: "x", IsUSB: true, VID: "0403", PID: "6001", Product: "FT232R"}, "USB 0403:6001 FT232R"},
	}

	for _, tt := range tests {
		if got := tt.desc.Description(); got != tt.expected {
			t.Errorf("Description() = %q, want %q", got, tt.expected)
		}
	}
}

// switchingEnumerator returns a different port set on each call
type switchingEnumerator struct {
	mu    sync.Mutex
	calls int
	sets  [][]string
	fail  map[int]bool
}

func (s *switchingEnumerator) enumerate() ([]*enumerator.PortDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := s.calls
	s.calls++
	if s.fail[call] {
		return nil, errors.New("probe failed")
	}

	set := s.sets[len(s.sets)-1]
	if call < len(s.sets) {
		set = s.sets[call]
	}

	details := make([]*enumerator.PortDetails, len(set))
	for i, name := range set {
		details[i] = &enumerator.PortDetails{Name: name}
	}
	return details, nil
}

func TestPortRegistry_Watch(t *testing.T) {
	sw := &switchingEnumerator{
		sets: [][]string{
			{"A"},
			{"A"},      // unchanged
			{"A"},      // poll 2 fails
			{"A", "B"}, // added
			{"A", "B"},
			{"B"}, // removed
		},
		fail: map[int]bool{2: true},
	}
	reg := NewPortRegistry(WithEnumerator(sw.enumerate))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan []string, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		reg.Watch(ctx, time.Millisecond, func(ports []PortDescriptor) {
			changes <- portNames(ports)
		})
	}()

	want := [][]string{{"A"}, {"A", "B"}, {"B"}}
	for i, w := range want {
		select {
		case got := <-changes:
			if diff := cmp.Diff(w, got); diff != "" {
				t.Errorf("change %d mismatch (-want +got):\n%s", i, diff)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for change %d", i)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}

	select {
	case extra := <-changes:
		t.Errorf("unexpected change after the port set settled: %v", extra)
	default:
	}
}
