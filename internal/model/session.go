package model

import "time"

// SessionKey uniquely identifies a live-edit session slot: at most one
// active session exists per (entity kind, entity id, field, actor).
// Multiple actors may hold concurrent sessions on the same field; that
// concurrency is what the conflict detector later observes as conflicting
// updates.
type SessionKey struct {
	EntityKind string
	EntityID   string
	Field      string
	ActorID    string
}

// LiveEditSession is an ephemeral record that an actor is actively editing
// a specific field showing draft content and cursor position to observers.
type LiveEditSession struct {
	ID              string
	EntityKind      string
	EntityID        string
	Field           string
	ActorID         string
	StartedAt       time.Time
	LastHeartbeatAt time.Time
	CursorPosition  int
	HasCursor       bool
	DraftContent    string
	Active          bool
}

// Key returns the session's uniqueness key.
func (s *LiveEditSession) Key() SessionKey {
	return SessionKey{
		EntityKind: s.EntityKind,
		EntityID:   s.EntityID,
		Field:      s.Field,
		ActorID:    s.ActorID,
	}
}

// Clone returns a copy safe to hand to callers.
func (s *LiveEditSession) Clone() *LiveEditSession {
	cp := *s
	return &cp
}
