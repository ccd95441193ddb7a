// Package engine implements the conversational workflow state machine:
// per-user capture routing, step dispatch, navigation, answer persistence
// and structural process editing.
package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates a process, step or session does not exist.
	// Recoverable: the user is informed, state is unchanged.
	ErrNotFound = errors.New("not found")

	// ErrStateConflict indicates the per-user reentrancy guard is held or
	// an operation was requested with no active process. Recoverable: the
	// user is told to retry or restart.
	ErrStateConflict = errors.New("state conflict")

	// ErrBoundary indicates a structural move past the first or last step.
	// Recoverable no-op.
	ErrBoundary = errors.New("step at boundary")
)

// ValidationError reports a rejected answer: bad file type, failed regex,
// empty required field. The step is re-presented; the index never moves.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// ExternalServiceError wraps a failure of an external collaborator
// (AI generation, file retrieval). Surfaced to the user, never retried
// automatically.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}
