package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/lanternsoft/concord/internal/clock"
)

// ManualScheduler records scheduled callbacks and fires them only when the
// test says so, replacing real timers for deterministic auto-resolve and
// staleness-sweep behavior.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex. Callbacks run outside the mutex so they may schedule again.
type ManualScheduler struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*scheduled
}

type scheduled struct {
	id    int64
	delay time.Duration
	fn    func()
}

// NewManualScheduler creates an empty scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{pending: make(map[int64]*scheduled)}
}

// Schedule records the callback without arming any real timer.
// Implements clock.Scheduler.
func (s *ManualScheduler) Schedule(d time.Duration, fn func()) clock.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.pending[id] = &scheduled{id: id, delay: d, fn: fn}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.pending, id)
	}
}

// FireAll runs every pending callback in scheduling order and clears the
// pending set first, so callbacks that re-schedule (the sweep loop) are
// not run again in the same call.
func (s *ManualScheduler) FireAll() {
	for _, entry := range s.takeAll() {
		entry.fn()
	}
}

// FireDue runs pending callbacks whose delay is <= elapsed, in scheduling
// order. Callbacks with longer delays stay pending.
func (s *ManualScheduler) FireDue(elapsed time.Duration) {
	s.mu.Lock()
	var due []*scheduled
	for id, entry := range s.pending {
		if entry.delay <= elapsed {
			due = append(due, entry)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].id < due[j].id })
	for _, entry := range due {
		entry.fn()
	}
}

// PendingCount returns the number of callbacks not yet fired or cancelled.
func (s *ManualScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *ManualScheduler) takeAll() []*scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*scheduled, 0, len(s.pending))
	for id, entry := range s.pending {
		out = append(out, entry)
		delete(s.pending, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
