// Package clock supplies the simulated time source consumed by the scheduler
// and by time-based strategies.
//
// Time is expressed as a time.Duration since an arbitrary epoch, so that
// tests can drive it manually and the scheduler never reads the wall clock
// directly.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current simulated time.
type Clock interface {
	Now() time.Duration
}

// Manual is a Clock that only moves when told to. The zero value starts at 0.
type Manual struct {
	mu  sync.Mutex
	now time.Duration
}

var _ Clock = (*Manual)(nil)

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Duration) *Manual {
	return &Manual{now: start}
}

// Now implements Clock.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d and returns the new time. Negative
// values are ignored, the clock never runs backwards.
func (m *Manual) Advance(d time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.now += d
	}
	return m.now
}

// Set moves the clock to t, if t is not before the current time.
func (m *Manual) Set(t time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t > m.now {
		m.now = t
	}
}

// Wall is a Clock backed by the monotonic wall clock, measured from the
// moment it was created.
type Wall struct {
	start time.Time
}

var _ Clock = (*Wall)(nil)

// NewWall returns a Wall clock whose epoch is now.
func NewWall() *Wall {
	return &Wall{start: time.Now()}
}

// Now implements Clock.
func (w *Wall) Now() time.Duration {
	return time.Since(w.start)
}
