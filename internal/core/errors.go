package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidEvent          = errors.New("invalid score event")
	ErrInvalidEventKind      = errors.New("invalid event kind")
	ErrInvalidInput          = errors.New("invalid input")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrNotFound              = errors.New("not found")
	ErrVersionConflict       = errors.New("version conflict")
	ErrRolloverFailed        = errors.New("rollover failed")
	ErrInvalidCatalog        = errors.New("invalid catalog")
	ErrInvalidRules          = errors.New("invalid scoring rules")
)

// RolloverError reports a user whose season rollover could not be committed.
type RolloverError struct {
	UserID string
	Err    error
}

func (e *RolloverError) Error() string {
	return fmt.Sprintf("rollover failed for user %s: %v", e.UserID, e.Err)
}

func (e *RolloverError) Unwrap() []error {
	return []error{ErrRolloverFailed, e.Err}
}

// Unavailable marks err as a failure of a backing dependency.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDependencyUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDependencyUnavailable, op, err)
}
