package timevault

import (
	"errors"
	"fmt"
)

type (
	// ValidationError reports a malformed event rejected before it reached
	// the log
	ValidationError struct {
		Field  string
		Reason string
	}

	// PersistenceError reports that a Backend failed to commit or read
	// events. When returned from an append, the outcome is unknown if the
	// failure was a timeout; re-check the log before retrying
	PersistenceError struct {
		Err      error
		Op       string
		Sequence int64
	}

	// ConflictError is returned by a Backend when an appended event does not
	// carry the next sequence number it expects
	ConflictError struct {
		ExpectedSequence int64
		ActualSequence   int64
	}
)

var (
	// ErrValidation matches any *ValidationError
	ErrValidation = errors.New("validation error")

	// ErrInvalidArgument indicates a semantically invalid query
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPersistence matches any *PersistenceError
	ErrPersistence = errors.New("persistence error")

	// ErrNotFound indicates a record has no qualifying write
	ErrNotFound = errors.New("record not found")

	// ErrMaxRetriesExceeded indicates an append kept conflicting with
	// another writer sharing the Backend
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrClosed indicates the Vault has been closed
	ErrClosed = errors.New("vault closed")
)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *PersistenceError) Error() string {
	if e.Sequence != 0 {
		return fmt.Sprintf(
			"persistence error: %s at sequence %d: %v", e.Op, e.Sequence, e.Err,
		)
	}
	return fmt.Sprintf("persistence error: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"sequence conflict: appended sequence %d, but backend expects %d",
		e.ExpectedSequence, e.ActualSequence,
	)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
