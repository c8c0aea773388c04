package agentctx

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidConfig is returned when the manager configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingThreadID is returned when a request names no thread
	ErrMissingThreadID = errors.New("thread ID is required")

	// ErrHandoffNotRequired is returned by RequestHandoff for a thread that
	// has not reached level 4
	ErrHandoffNotRequired = errors.New("handoff not required")

	// ErrInvalidHandoffTarget is returned when a handoff would seed the
	// thread it was created from
	ErrInvalidHandoffTarget = errors.New("handoff must seed a different thread")

	// ErrPersistence is returned together with a usable TurnResult when
	// writing the assembly results failed
	ErrPersistence = errors.New("failed to persist assembly results")

	// ErrManagerClosed is returned after Close
	ErrManagerClosed = errors.New("manager closed")
)

// ManagerError represents an error with additional context
type ManagerError struct {
	Op       string         // Operation that failed
	Err      error          // Underlying error
	ThreadID string         // Thread ID if applicable
	Context  map[string]any // Additional context
}

// Error implements the error interface
func (e *ManagerError) Error() string {
	if e.ThreadID != "" {
		return fmt.Sprintf("%s (thread=%s): %v", e.Op, e.ThreadID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *ManagerError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *ManagerError) WithContext(key string, value any) *ManagerError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewManagerError creates a new ManagerError
func NewManagerError(op string, err error) *ManagerError {
	return &ManagerError{
		Op:  op,
		Err: err,
	}
}

// NewManagerErrorWithThread creates a new ManagerError with thread ID
func NewManagerErrorWithThread(op string, threadID string, err error) *ManagerError {
	return &ManagerError{
		Op:       op,
		Err:      err,
		ThreadID: threadID,
	}
}
