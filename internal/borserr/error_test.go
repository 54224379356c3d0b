package borserr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryableErrorUnwrap(t *testing.T) {
	origErr := errors.New("connection reset")
	err := fmt.Errorf("creating comment failed: %w", NewRetryableAnytimeError(origErr))

	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, origErr)
	assert.False(t, IsRetryable(origErr))
}

func TestRetryableErrorString(t *testing.T) {
	err := NewRetryableAnytimeError(errors.New("err"))
	assert.Equal(t, "retryable error: err", err.Error())

	after := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	err = NewRetryableError(errors.New("err"), after)
	assert.Contains(t, err.Error(), "2024-01-02")
}

func TestStateConflictErrorIs(t *testing.T) {
	err := fmt.Errorf("approving failed: %w", NewStateConflictError("approved commit %s is not the head", "abc"))

	assert.ErrorIs(t, err, ErrStateConflict)
	assert.NotErrorIs(t, err, ErrMalformedEvent)

	var scErr *StateConflictError
	assert.ErrorAs(t, err, &scErr)
	assert.Equal(t, "approved commit abc is not the head", scErr.Reason)
}
