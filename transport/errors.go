package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnectionClosed fails every call still pending when the connection
	// drops, and every call issued after it.
	ErrConnectionClosed = errors.New("transport: connection closed")
	// ErrTimeout matches any *TimeoutError with errors.Is.
	ErrTimeout = errors.New("transport: call timed out")
)

// TimeoutError reports a call whose deadline passed before its response
// arrived. The request may still have been processed by the server.
type TimeoutError struct {
	ID    int32
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport: call %d timed out after %s", e.ID, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// DuplicateIDError is returned by CallRegistry.Register when the id is
// already outstanding.
type DuplicateIDError struct {
	ID int32
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("transport: correlation id %d already pending", e.ID)
}
