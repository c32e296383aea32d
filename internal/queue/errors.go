package queue

import (
	"errors"
	"fmt"
)

// Validation errors, rejected before anything is persisted.
var (
	ErrEmptyPayload  = errors.New("payload text is empty")
	ErrMissingTenant = errors.New("tenant id is required")
	ErrMissingOrigin = errors.New("origin id is required")
)

// Lookup and lifecycle errors.
var (
	ErrEntryNotFound    = errors.New("queue entry not found")
	ErrRetriesExhausted = errors.New("retry limit reached")
)

// TransitionError reports a status change the state machine does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
