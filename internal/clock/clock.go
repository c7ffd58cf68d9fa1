// Package clock abstracts wall-clock time so schedulers, the archive and
// the stats rollup can be tested deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current wall-clock time.
type Clock interface {
	Now() time.Time
}

// System is a Clock backed by time.Now.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time { return time.Now() }

// Manual is a settable Clock for tests. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a Manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the clock's current time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}
