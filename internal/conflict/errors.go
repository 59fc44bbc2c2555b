package conflict

import (
	"errors"
	"fmt"
)

// MissingChoiceError is returned when the user_choice strategy is invoked
// without a chosen value. The conflict stays PENDING and no state changes.
type MissingChoiceError struct {
	ConflictID string
}

// Error implements the error interface.
func (e *MissingChoiceError) Error() string {
	return fmt.Sprintf("user_choice resolution of conflict %s requires a chosen value", e.ConflictID)
}

// UnknownStrategyError is returned when a resolve or preview names a
// strategy outside the supported set.
type UnknownStrategyError struct {
	Strategy string
}

// Error implements the error interface.
func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown resolution strategy %q", e.Strategy)
}

// IsMissingChoice reports whether err is a MissingChoiceError.
// Uses errors.As to handle wrapped errors.
func IsMissingChoice(err error) bool {
	var mc *MissingChoiceError
	return errors.As(err, &mc)
}
