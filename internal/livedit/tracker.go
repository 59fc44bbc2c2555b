// Package livedit tracks ephemeral per-field editing sessions with
// heartbeats, so observers can see who is typing where before any update
// is committed.
package livedit

import (
	"log/slog"
	"sort"
	"time"

	"github.com/lanternsoft/concord/internal/bus"
	"github.com/lanternsoft/concord/internal/clock"
	"github.com/lanternsoft/concord/internal/ids"
	"github.com/lanternsoft/concord/internal/model"
)

// DefaultTTL is how long a session may go without a heartbeat before the
// staleness sweep ends it. Ghost editors otherwise leak when a client
// disconnects without calling EndSession.
const DefaultTTL = 30 * time.Second

// Filter narrows ListActive results. Zero-value fields match everything.
type Filter struct {
	EntityKind string
	EntityID   string
	Field      string
	ActorID    string
}

func (f Filter) matches(s *model.LiveEditSession) bool {
	if f.EntityKind != "" && f.EntityKind != s.EntityKind {
		return false
	}
	if f.EntityID != "" && f.EntityID != s.EntityID {
		return false
	}
	if f.Field != "" && f.Field != s.Field {
		return false
	}
	if f.ActorID != "" && f.ActorID != s.ActorID {
		return false
	}
	return true
}

// Tracker maintains the active-session index.
//
// At most one active session exists per (entity kind, entity id, field,
// actor); starting a session on an occupied slot reuses it. Ended sessions
// leave the active index but the records are retained until their owner is
// removed, matching the ephemeral telemetry role of this component.
//
// Not internally locked: the engine facade serializes all access.
type Tracker struct {
	bus    *bus.Bus
	time   clock.TimeSource
	idGen  ids.Generator
	ttl    time.Duration
	byID   map[string]*model.LiveEditSession
	active map[model.SessionKey]string // key -> session id
	logger *slog.Logger
}

// NewTracker creates an empty tracker. ttl <= 0 falls back to DefaultTTL.
func NewTracker(b *bus.Bus, ts clock.TimeSource, idGen ids.Generator, ttl time.Duration, logger *slog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		bus:    b,
		time:   ts,
		idGen:  idGen,
		ttl:    ttl,
		byID:   make(map[string]*model.LiveEditSession),
		active: make(map[model.SessionKey]string),
		logger: logger,
	}
}

// StartSession begins (or resumes) a live-edit session for the tuple.
// An existing active session for the exact tuple is reused with a fresh
// heartbeat rather than duplicated. Emits session-started.
func (t *Tracker) StartSession(entityKind, entityID, field, actorID string) *model.LiveEditSession {
	key := model.SessionKey{EntityKind: entityKind, EntityID: entityID, Field: field, ActorID: actorID}
	now := t.time.Now()

	if id, ok := t.active[key]; ok {
		s := t.byID[id]
		s.LastHeartbeatAt = now
		t.bus.Publish(bus.Event{Topic: bus.TopicSessionStarted, Session: s.Clone()})
		return s.Clone()
	}

	s := &model.LiveEditSession{
		ID:              t.idGen.NewID(),
		EntityKind:      entityKind,
		EntityID:        entityID,
		Field:           field,
		ActorID:         actorID,
		StartedAt:       now,
		LastHeartbeatAt: now,
		Active:          true,
	}
	t.byID[s.ID] = s
	t.active[key] = s.ID

	t.logger.Debug("session started",
		"session", s.ID,
		"actor", actorID,
		"entity", entityKind+"/"+entityID,
		"field", field,
	)
	t.bus.Publish(bus.Event{Topic: bus.TopicSessionStarted, Session: s.Clone()})
	return s.Clone()
}

// Heartbeat refreshes a session's liveness and any provided draft content
// or cursor position. Unknown or inactive sessions are a no-op returning
// nil. Emits session-updated.
func (t *Tracker) Heartbeat(sessionID string, content *string, cursor *int) *model.LiveEditSession {
	s, ok := t.byID[sessionID]
	if !ok || !s.Active {
		return nil
	}

	s.LastHeartbeatAt = t.time.Now()
	if content != nil {
		s.DraftContent = *content
	}
	if cursor != nil {
		s.CursorPosition = *cursor
		s.HasCursor = true
	}

	t.bus.Publish(bus.Event{Topic: bus.TopicSessionUpdated, Session: s.Clone()})
	return s.Clone()
}

// EndSession deactivates a session and removes it from the active index.
// Unknown ids are a no-op returning nil. Ending an already-ended session
// is also a no-op. Emits session-ended.
func (t *Tracker) EndSession(sessionID string) *model.LiveEditSession {
	s, ok := t.byID[sessionID]
	if !ok || !s.Active {
		return nil
	}

	s.Active = false
	delete(t.active, s.Key())

	t.logger.Debug("session ended", "session", s.ID, "actor", s.ActorID)
	t.bus.Publish(bus.Event{Topic: bus.TopicSessionEnded, Session: s.Clone()})
	return s.Clone()
}

// EndSessionsFor ends every active session owned by an actor.
// Called when a collaborator is removed so no ghost editors remain.
// Returns the ended sessions.
func (t *Tracker) EndSessionsFor(actorID string) []*model.LiveEditSession {
	var owned []string
	for key, id := range t.active {
		if key.ActorID == actorID {
			owned = append(owned, id)
		}
	}

	var ended []*model.LiveEditSession
	for _, id := range owned {
		if s := t.EndSession(id); s != nil {
			ended = append(ended, s)
		}
	}
	return ended
}

// SweepStale ends every active session whose last heartbeat is older than
// the TTL. Returns the ended sessions. The engine runs this periodically.
func (t *Tracker) SweepStale() []*model.LiveEditSession {
	now := t.time.Now()
	var stale []string
	for _, id := range t.active {
		s := t.byID[id]
		if now.Sub(s.LastHeartbeatAt) > t.ttl {
			stale = append(stale, id)
		}
	}

	var ended []*model.LiveEditSession
	for _, id := range stale {
		if s := t.EndSession(id); s != nil {
			t.logger.Info("stale session swept",
				"session", s.ID,
				"actor", s.ActorID,
				"idle", now.Sub(s.LastHeartbeatAt).String(),
			)
			ended = append(ended, s)
		}
	}
	return ended
}

// IsBeingEdited reports whether any actor holds an active session on the
// given field.
func (t *Tracker) IsBeingEdited(entityKind, entityID, field string) bool {
	for key := range t.active {
		if key.EntityKind == entityKind && key.EntityID == entityID && key.Field == field {
			return true
		}
	}
	return false
}

// ListActive returns snapshots of active sessions matching the filter,
// ordered by start time then id for stable output.
func (t *Tracker) ListActive(f Filter) []*model.LiveEditSession {
	var out []*model.LiveEditSession
	for _, id := range t.active {
		s := t.byID[id]
		if f.matches(s) {
			out = append(out, s.Clone())
		}
	}
	sortSessions(out)
	return out
}

// Get returns a snapshot of one session (active or ended), or nil.
func (t *Tracker) Get(sessionID string) *model.LiveEditSession {
	s, ok := t.byID[sessionID]
	if !ok {
		return nil
	}
	return s.Clone()
}

// ActiveCount returns the number of active sessions.
func (t *Tracker) ActiveCount() int {
	return len(t.active)
}

// TTL returns the configured staleness TTL.
func (t *Tracker) TTL() time.Duration {
	return t.ttl
}

func sortSessions(sessions []*model.LiveEditSession) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.Before(sessions[j].StartedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}
