// Package clock provides the time source injected into the engine.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time
type Clock interface {
	Now() time.Time
}

// System is the wall clock
type System struct{}

// Now returns time.Now in UTC
func (System) Now() time.Time { return time.Now().UTC() }

// Fixed always returns the same instant
type Fixed time.Time

// Now returns the fixed instant
func (f Fixed) Now() time.Time { return time.Time(f) }

// Manual is a settable clock for tests and replays. It is safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a clock stopped at t
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the current manual time
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
