package model

import "time"

// ActivityKind classifies entries in the human-readable activity feed.
type ActivityKind string

const (
	ActivityJoined           ActivityKind = "collaborator_joined"
	ActivityLeft             ActivityKind = "collaborator_left"
	ActivityUpdateRecorded   ActivityKind = "update_recorded"
	ActivityConflictDetected ActivityKind = "conflict_detected"
	ActivityConflictResolved ActivityKind = "conflict_resolved"
	ActivitySessionStarted   ActivityKind = "session_started"
	ActivitySessionEnded     ActivityKind = "session_ended"
)

// ActivityEvent is one entry in the chronological activity feed.
// Metadata is a closed Value variant rather than an open bag so consumers
// can handle known shapes exhaustively.
type ActivityEvent struct {
	ID          string
	Kind        ActivityKind
	ActorID     string
	Entity      EntityRef
	EntityName  string
	Timestamp   time.Time
	Description string
	Metadata    Map
}

// Clone returns a copy with its own Metadata map.
func (e *ActivityEvent) Clone() *ActivityEvent {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(Map, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
