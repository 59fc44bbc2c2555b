package model

import "time"

// UpdateKind classifies a change operation at the entity level.
type UpdateKind string

const (
	UpdateCreate         UpdateKind = "create"
	UpdateUpdate         UpdateKind = "update"
	UpdateDelete         UpdateKind = "delete"
	UpdateMove           UpdateKind = "move"
	UpdateRename         UpdateKind = "rename"
	UpdateStatusChange   UpdateKind = "status_change"
	UpdateContentEdit    UpdateKind = "content_edit"
	UpdatePropertyChange UpdateKind = "property_change"
)

// OpKind classifies the field-level mutation inside an update.
type OpKind string

const (
	OpInsert      OpKind = "insert"
	OpDelete      OpKind = "delete"
	OpReplace     OpKind = "replace"
	OpMove        OpKind = "move"
	OpPropertySet OpKind = "property_set"
)

// Operation is the field-level payload of an update: which path changed,
// what it changed to, and optionally positional information for text edits.
type Operation struct {
	Kind     OpKind
	Path     string
	NewValue Value
	OldValue Value
	Position int
	Length   int
}

// Update is one recorded change operation. Immutable once appended to the
// log, except for the Conflicted/Resolved flags which the conflict
// lifecycle toggles.
//
// Seq is a strictly monotonic sequence number assigned at record time.
// Total order is (Timestamp, Seq): wall-clock time for human-facing
// ordering, the logical sequence as a deterministic tiebreak for
// same-millisecond updates.
type Update struct {
	ID         string
	Kind       UpdateKind
	EntityKind string
	EntityID   string
	ActorID    string
	Timestamp  time.Time
	Seq        int64
	Operation  Operation
	Conflicted bool
	Resolved   bool
}

// Before reports whether u precedes v in the engine's total order.
// Timestamps compare first; equal timestamps fall back to Seq.
func (u *Update) Before(v *Update) bool {
	if u.Timestamp.Equal(v.Timestamp) {
		return u.Seq < v.Seq
	}
	return u.Timestamp.Before(v.Timestamp)
}

// SamePath reports whether two updates touch the same field of the same
// entity. This is the correlation key for conflict detection.
func (u *Update) SamePath(v *Update) bool {
	return u.EntityKind == v.EntityKind &&
		u.EntityID == v.EntityID &&
		u.Operation.Path == v.Operation.Path
}
