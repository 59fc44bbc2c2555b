// Package updatelog keeps the append-only bounded record of all incoming
// change operations.
package updatelog

import (
	"log/slog"

	"github.com/lanternsoft/concord/internal/bus"
	"github.com/lanternsoft/concord/internal/clock"
	"github.com/lanternsoft/concord/internal/ids"
	"github.com/lanternsoft/concord/internal/model"
)

// DefaultCap is the default number of updates the log retains.
const DefaultCap = 100

// Log is a bounded, newest-first record of updates.
//
// The cap is a hard limit enforced on every insert: once full, each new
// entry evicts exactly the oldest. Entries are immutable after append
// except for the conflict-lifecycle flags toggled by the resolver.
//
// Not internally locked: the engine facade serializes all access.
type Log struct {
	bus     *bus.Bus
	seq     *clock.Clock
	time    clock.TimeSource
	cap     int
	entries []*model.Update // index 0 is newest
	logger  *slog.Logger
}

// NewLog creates an empty log. cap <= 0 falls back to DefaultCap.
func NewLog(b *bus.Bus, seq *clock.Clock, ts clock.TimeSource, capacity int, logger *slog.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		bus:     b,
		seq:     seq,
		time:    ts,
		cap:     capacity,
		entries: make([]*model.Update, 0, capacity),
		logger:  logger,
	}
}

// Record stamps the partial update with an id, timestamp and sequence
// number, prepends it to the log, evicts beyond the cap, emits
// update-recorded, and returns the stored entry.
//
// Conflict detection runs in the engine facade after Record returns, so
// the detector sees the update already in the log's total order.
func (l *Log) Record(partial model.Update) *model.Update {
	seq := l.seq.Next()
	now := l.time.Now()

	u := partial
	u.Seq = seq
	u.Timestamp = now
	u.ID = ids.UpdateID(seq, now)
	u.Conflicted = false
	u.Resolved = false

	stored := &u
	l.entries = append([]*model.Update{stored}, l.entries...)
	if len(l.entries) > l.cap {
		evicted := l.entries[len(l.entries)-1]
		l.entries = l.entries[:len(l.entries)-1]
		l.logger.Debug("update evicted", "id", evicted.ID, "seq", evicted.Seq)
	}

	l.logger.Debug("update recorded",
		"id", stored.ID,
		"actor", stored.ActorID,
		"entity", stored.EntityKind+"/"+stored.EntityID,
		"path", stored.Operation.Path,
	)
	l.bus.Publish(bus.Event{Topic: bus.TopicUpdateRecorded, Update: stored})
	return stored
}

// Recent returns the most recent updates, newest first, at most limit.
// limit <= 0 returns an empty slice.
func (l *Log) Recent(limit int) []*model.Update {
	if limit <= 0 {
		return nil
	}
	if limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]*model.Update, limit)
	copy(out, l.entries[:limit])
	return out
}

// All returns a newest-first snapshot of the whole log.
func (l *Log) All() []*model.Update {
	out := make([]*model.Update, len(l.entries))
	copy(out, l.entries)
	return out
}

// ByEntity returns updates touching an entity, newest first.
func (l *Log) ByEntity(entityKind, entityID string) []*model.Update {
	var out []*model.Update
	for _, u := range l.entries {
		if u.EntityKind == entityKind && u.EntityID == entityID {
			out = append(out, u)
		}
	}
	return out
}

// Len returns the number of retained updates.
func (l *Log) Len() int {
	return len(l.entries)
}

// Cap returns the configured capacity.
func (l *Log) Cap() int {
	return l.cap
}
