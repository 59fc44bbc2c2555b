// Package clock provides the engine's time primitives: a monotonic logical
// clock for deterministic ordering, a wall-clock source for human-facing
// timestamps, and a cancellable timer scheduler for deferred work.
//
// Wall-clock time is reserved for display and for the conflict detection
// window; every ordering decision falls back to the logical sequence so
// same-millisecond updates resolve deterministically.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is a monotonic logical clock.
//
// All updates are stamped with a strictly increasing seq number from this
// clock, which makes the total order deterministic even when wall-clock
// timestamps collide.
//
// Thread-safety: safe for concurrent use (atomic operations), though the
// engine's single-writer design means one goroutine typically calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// TimeSource supplies wall-clock timestamps.
// Implemented by SystemTime (production) and testutil.ManualClock (tests).
type TimeSource interface {
	Now() time.Time
}

// SystemTime reads the real wall clock.
type SystemTime struct{}

// Now returns time.Now().
func (SystemTime) Now() time.Time {
	return time.Now()
}

// CancelFunc cancels a scheduled callback. Cancelling an already-fired or
// already-cancelled timer is a safe no-op.
type CancelFunc func()

// Scheduler defers a callback by a duration.
// Implemented by TimerScheduler (production) and testutil.ManualScheduler
// (tests, fired on demand for deterministic timer behavior).
type Scheduler interface {
	Schedule(d time.Duration, fn func()) CancelFunc
}

// TimerScheduler schedules callbacks on real timers via time.AfterFunc.
//
// Stop() cancels everything still pending; the engine calls it on destroy
// so no callback can fire into torn-down state.
type TimerScheduler struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*time.Timer
	stopped bool
}

// NewTimerScheduler creates an empty scheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{pending: make(map[int64]*time.Timer)}
}

// Schedule runs fn after d on a timer goroutine. The returned CancelFunc
// stops the timer; if the timer already fired, cancellation is a no-op.
func (s *TimerScheduler) Schedule(d time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return func() {}
	}

	s.nextID++
	id := s.nextID

	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		fn()
	})
	s.pending[id] = timer

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t, ok := s.pending[id]; ok {
			t.Stop()
			delete(s.pending, id)
		}
	}
}

// Stop cancels all pending timers and rejects further scheduling.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}

// PendingCount returns the number of timers not yet fired or cancelled.
// Used for testing and introspection.
func (s *TimerScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
