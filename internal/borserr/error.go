// Package borserr contains the error types shared by the gobors packages.
package borserr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedEvent is returned when a provider payload can not be
	// converted into an event. Such events are logged and dropped.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrStateConflict is returned when an event is not applicable to
	// the current state of a pull request, e.g. an approval for an
	// outdated commit. The actor is notified, the state is not changed.
	ErrStateConflict = errors.New("state conflict")
	// ErrProviderUnavailable is returned when a call to the CI provider or
	// to GitHub failed.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrNoCapacity signals that all build slots are occupied.
	ErrNoCapacity = errors.New("no free build slot")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type RetryableError struct {
	// Err is the wrapped original error
	Err error
	// After is the earliest point in time that the operation can be retried
	After time.Time
}

func NewRetryableError(originalErr error, retryAfter time.Time) *RetryableError {
	return &RetryableError{
		Err:   originalErr,
		After: retryAfter,
	}
}

func NewRetryableAnytimeError(originalErr error) *RetryableError {
	return &RetryableError{
		Err: originalErr,
	}
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Error() string {
	if e.After.IsZero() {
		return fmt.Sprintf("retryable error: %s", e.Err)
	}

	return fmt.Sprintf("retryable error (after %s): %s", e.After, e.Err)
}

// IsRetryable returns true if err wraps a RetryableError.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// StateConflictError describes why an event was rejected.
// It matches ErrStateConflict with errors.Is.
type StateConflictError struct {
	Reason string
}

func NewStateConflictError(format string, a ...any) *StateConflictError {
	return &StateConflictError{Reason: fmt.Sprintf(format, a...)}
}

func (e *StateConflictError) Error() string {
	return "state conflict: " + e.Reason
}

func (e *StateConflictError) Is(target error) bool {
	return target == ErrStateConflict
}
