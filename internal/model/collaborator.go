package model

import "time"

// Role describes what a collaborator is allowed to do in the workspace.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleGuest  Role = "guest"
)

// PresenceStatus describes a collaborator's availability.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// StatusRank orders presence statuses for display: online sorts before
// away, away before offline. Unknown statuses sort last.
func StatusRank(s PresenceStatus) int {
	switch s {
	case StatusOnline:
		return 0
	case StatusAway:
		return 1
	case StatusOffline:
		return 2
	default:
		return 3
	}
}

// Location identifies where in the workspace a collaborator currently is.
// EntityID, Section and Cursor are optional refinements.
type Location struct {
	EntityKind string
	EntityID   string
	Section    string
	Cursor     int
	HasCursor  bool
}

// Collaborator is a participant whose edits the engine tracks.
type Collaborator struct {
	ID          string
	DisplayName string
	ColorTag    string
	Role        Role
	Status      PresenceStatus
	LastSeenAt  time.Time
	Location    Location
}

// Clone returns a copy safe to hand to callers. Collaborator holds no
// reference types beyond Location, so a shallow copy suffices.
func (c *Collaborator) Clone() *Collaborator {
	cp := *c
	return &cp
}
