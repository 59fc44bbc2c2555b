// Package activity keeps the bounded, human-readable chronological log
// derived from updates, presence changes and conflicts.
package activity

import (
	"log/slog"
	"time"

	"github.com/lanternsoft/concord/internal/bus"
	"github.com/lanternsoft/concord/internal/clock"
	"github.com/lanternsoft/concord/internal/ids"
	"github.com/lanternsoft/concord/internal/model"
)

// DefaultCap is the default number of activity entries retained.
const DefaultCap = 100

// QueryFilter narrows Query results. Zero-value fields match everything.
type QueryFilter struct {
	// Kinds restricts entries to the listed kinds.
	Kinds []model.ActivityKind
	// Actors restricts entries to the listed actor ids.
	Actors []string
	// Since and Until bound the time window (inclusive since, exclusive
	// until). Zero times are unbounded.
	Since time.Time
	Until time.Time
}

func (f QueryFilter) matches(e *model.ActivityEvent) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Actors) > 0 && !containsString(f.Actors, e.ActorID) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// Feed is a bounded, newest-first ring of activity entries.
//
// The cap is a hard limit enforced on every insert; once full, each new
// entry evicts exactly the oldest. A disabled feed drops records silently
// so callers need no feature checks.
//
// Not internally locked: the engine facade serializes all access.
type Feed struct {
	bus     *bus.Bus
	time    clock.TimeSource
	idGen   ids.Generator
	cap     int
	enabled bool
	entries []*model.ActivityEvent // index 0 is newest
	logger  *slog.Logger
}

// NewFeed creates an empty feed. cap <= 0 falls back to DefaultCap.
func NewFeed(b *bus.Bus, ts clock.TimeSource, idGen ids.Generator, capacity int, enabled bool, logger *slog.Logger) *Feed {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		bus:     b,
		time:    ts,
		idGen:   idGen,
		cap:     capacity,
		enabled: enabled,
		entries: make([]*model.ActivityEvent, 0, capacity),
		logger:  logger,
	}
}

// Record prepends an entry to the feed, evicting beyond the cap, and emits
// activity-added. Returns nil when the feed is disabled.
func (f *Feed) Record(kind model.ActivityKind, actorID string, entity model.EntityRef, entityName, description string, metadata model.Map) *model.ActivityEvent {
	if !f.enabled {
		return nil
	}

	e := &model.ActivityEvent{
		ID:          f.idGen.NewID(),
		Kind:        kind,
		ActorID:     actorID,
		Entity:      entity,
		EntityName:  entityName,
		Timestamp:   f.time.Now(),
		Description: description,
		Metadata:    metadata,
	}

	f.entries = append([]*model.ActivityEvent{e}, f.entries...)
	if len(f.entries) > f.cap {
		f.entries = f.entries[:f.cap]
	}

	f.logger.Debug("activity recorded", "kind", string(kind), "actor", actorID, "description", description)
	f.bus.Publish(bus.Event{Topic: bus.TopicActivityAdded, Activity: e.Clone()})
	return e.Clone()
}

// Query returns entries matching the filter, newest first, at most limit.
// limit <= 0 means no limit.
func (f *Feed) Query(limit int, filter QueryFilter) []*model.ActivityEvent {
	var out []*model.ActivityEvent
	for _, e := range f.entries {
		if !filter.matches(e) {
			continue
		}
		out = append(out, e.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Len returns the number of retained entries.
func (f *Feed) Len() int {
	return len(f.entries)
}

// Cap returns the configured capacity.
func (f *Feed) Cap() int {
	return f.cap
}

func containsKind(kinds []model.ActivityKind, k model.ActivityKind) bool {
	for _, candidate := range kinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func containsString(items []string, s string) bool {
	for _, candidate := range items {
		if candidate == s {
			return true
		}
	}
	return false
}
