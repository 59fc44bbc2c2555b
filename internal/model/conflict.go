package model

import "time"

// ConflictState is the lifecycle state of a conflict.
// The only transition is Pending -> Resolved; Resolved is terminal.
type ConflictState string

const (
	ConflictPending  ConflictState = "PENDING"
	ConflictResolved ConflictState = "RESOLVED"
)

// Strategy selects the algorithm used to compute a conflict's final value.
type Strategy string

const (
	LastWriterWins   Strategy = "last_writer_wins"
	FirstWriterWins  Strategy = "first_writer_wins"
	MergeChanges     Strategy = "merge_changes"
	UserChoice       Strategy = "user_choice"
	CustomResolution Strategy = "custom_resolution"
)

// KnownStrategy reports whether s names a supported resolution strategy.
func KnownStrategy(s Strategy) bool {
	switch s {
	case LastWriterWins, FirstWriterWins, MergeChanges, UserChoice, CustomResolution:
		return true
	}
	return false
}

// ResolutionPayload carries caller-supplied inputs for the interactive
// strategies. ChosenValue backs user_choice; CustomValue backs
// custom_resolution.
type ResolutionPayload struct {
	ChosenValue    Value
	HasChosenValue bool
	CustomValue    Value
	HasCustomValue bool
}

// Conflict correlates two or more updates that touched the same field of
// the same entity, from distinct actors, within the detection window.
//
// Members all share (EntityKind, EntityID, Operation.Path) and are pairwise
// distinct by actor. A conflict is created by the detector, mutated only by
// the resolver, and never deleted: resolved conflicts remain for audit.
type Conflict struct {
	ID         string
	EntityKind string
	EntityID   string
	Path       string
	Members    []*Update
	State      ConflictState
	Strategy   Strategy
	ResolvedBy string
	ResolvedAt time.Time
	FinalValue Value
	DetectedAt time.Time
}

// ActorIDs returns the distinct actors involved, in first-member order.
func (c *Conflict) ActorIDs() []string {
	seen := make(map[string]bool, len(c.Members))
	out := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if !seen[m.ActorID] {
			seen[m.ActorID] = true
			out = append(out, m.ActorID)
		}
	}
	return out
}

// EarliestMember returns the member that sorts first in the total order.
// Returns nil for an empty member set.
func (c *Conflict) EarliestMember() *Update {
	var earliest *Update
	for _, m := range c.Members {
		if earliest == nil || m.Before(earliest) {
			earliest = m
		}
	}
	return earliest
}

// LatestMember returns the member that sorts last in the total order.
// Returns nil for an empty member set.
func (c *Conflict) LatestMember() *Update {
	var latest *Update
	for _, m := range c.Members {
		if latest == nil || latest.Before(m) {
			latest = m
		}
	}
	return latest
}
