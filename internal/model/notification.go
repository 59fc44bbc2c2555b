package model

import "time"

// NotificationKind classifies targeted messages to collaborators.
type NotificationKind string

const (
	NotifyUserJoined       NotificationKind = "user_joined"
	NotifyUserLeft         NotificationKind = "user_left"
	NotifyConflictDetected NotificationKind = "conflict_detected"
	NotifyConflictResolved NotificationKind = "conflict_resolved"
	NotifyEditStarted      NotificationKind = "edit_started"
	NotifyMention          NotificationKind = "mention"
)

// Priority tags a notification's urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// SystemActorID is the source id used for engine-originated notifications
// and resolutions (auto-resolve, staleness sweep).
const SystemActorID = "system"

// EntityRef points a notification or activity entry at the entity it
// concerns.
type EntityRef struct {
	Kind string
	ID   string
}

// Notification is a per-actor targeted, priority-tagged message.
//
// Targets never grow after creation. Read state is tracked per recipient;
// marking read is idempotent.
type Notification struct {
	ID        string
	Kind      NotificationKind
	SourceID  string
	Targets   []string
	Entity    EntityRef
	Message   string
	Priority  Priority
	CreatedAt time.Time
	ReadBy    map[string]bool
}

// Targeted reports whether actorID is among the notification's targets.
func (n *Notification) Targeted(actorID string) bool {
	for _, t := range n.Targets {
		if t == actorID {
			return true
		}
	}
	return false
}

// Clone returns a copy with its own Targets slice and ReadBy map.
func (n *Notification) Clone() *Notification {
	cp := *n
	cp.Targets = append([]string(nil), n.Targets...)
	cp.ReadBy = make(map[string]bool, len(n.ReadBy))
	for k, v := range n.ReadBy {
		cp.ReadBy[k] = v
	}
	return &cp
}
