// Package testutil provides deterministic stand-ins for the engine's time
// primitives so scenarios replay with identical timestamps and timers fire
// on demand.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the base timestamp manual clocks start at. An arbitrary fixed
// instant keeps golden traces stable across machines and timezones.
var Epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// ManualClock is a TimeSource that only moves when told to.
//
// Unlike the system clock, ManualClock lets tests place updates exactly on
// detection-window boundaries and replay the same scenario with identical
// timestamps.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock frozen at Epoch.
func NewManualClock() *ManualClock {
	return &ManualClock{now: Epoch}
}

// NewManualClockAt creates a clock frozen at a specific instant.
func NewManualClockAt(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// Now returns the frozen instant.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to an absolute instant.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
