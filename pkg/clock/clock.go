// Package clock provides the time source used to stamp frames.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SessionClock derives timestamps from a wall-clock start time plus the
// monotonic time elapsed since then, so readings never go backwards even
// if the system clock is adjusted during a session.
type SessionClock struct {
	start time.Time

	mu   sync.Mutex
	last time.Time
}

// NewSessionClock starts a clock at the current time.
func NewSessionClock() *SessionClock {
	return &SessionClock{start: time.Now()}
}

// Start returns the wall-clock time the session began.
func (c *SessionClock) Start() time.Time {
	return c.start.Round(0)
}

// Now returns a timestamp that is never earlier than any previous one
// returned by this clock.
func (c *SessionClock) Now() time.Time {
	// time.Since uses the monotonic reading captured in start
	now := c.start.Round(0).Add(time.Since(c.start))

	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.last) {
		now = c.last
	}
	c.last = now
	return now
}

// MockClock is a manually controlled clock for testing.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set sets the mock clock to a specific time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the mock clock forward by the given duration.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
