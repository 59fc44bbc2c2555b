package presence

import "fmt"

// DuplicateActorError is returned when adding a collaborator whose id is
// already registered.
type DuplicateActorError struct {
	ActorID string
}

// Error implements the error interface.
func (e *DuplicateActorError) Error() string {
	return fmt.Sprintf("collaborator %s is already registered", e.ActorID)
}

// RegistryFullError is returned when adding a collaborator would exceed
// the configured capacity.
type RegistryFullError struct {
	ActorID string
	Limit   int
}

// Error implements the error interface.
func (e *RegistryFullError) Error() string {
	return fmt.Sprintf("cannot add collaborator %s: registry is at capacity (%d)", e.ActorID, e.Limit)
}
