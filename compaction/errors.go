package compaction

import (
	"errors"
	"fmt"
)

// Sentinel errors for compaction operations.
var (
	// ErrInvalidConfig indicates invalid compaction configuration.
	ErrInvalidConfig = errors.New("invalid compaction configuration")

	// ErrMessageTooLarge indicates a single pending message cannot fit the
	// usable budget even in a fresh session.
	ErrMessageTooLarge = errors.New("message exceeds usable context budget")

	// ErrSummarizationFailed indicates the summarization model call failed.
	ErrSummarizationFailed = errors.New("summarization failed")

	// ErrMalformedSummary indicates the model response held no usable JSON summary.
	ErrMalformedSummary = errors.New("malformed summary response")
)

// CompactionError provides structured error context for compaction operations.
type CompactionError struct {
	// Op is the operation that failed (e.g., "Assemble", "Summarize")
	Op string

	// ThreadID is the thread ID if applicable
	ThreadID string

	// Err is the underlying error
	Err error

	// Context holds additional key-value pairs for debugging
	Context map[string]any
}

// Error returns a formatted error message.
func (e *CompactionError) Error() string {
	msg := fmt.Sprintf("compaction %s failed", e.Op)
	if e.ThreadID != "" {
		msg += fmt.Sprintf(" for thread %s", e.ThreadID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *CompactionError) Unwrap() error {
	return e.Err
}

// NewCompactionError creates a new CompactionError with the given operation and underlying error.
func NewCompactionError(op string, err error) *CompactionError {
	return &CompactionError{
		Op:      op,
		Err:     err,
		Context: make(map[string]any),
	}
}

// WithThread sets the thread ID on the error and returns the error for chaining.
func (e *CompactionError) WithThread(threadID string) *CompactionError {
	e.ThreadID = threadID
	return e
}

// WithContext adds a key-value pair to the error context and returns the error for chaining.
func (e *CompactionError) WithContext(key string, value any) *CompactionError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WrapError wraps an error with operation context. If err is nil, returns nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewCompactionError(op, err)
}
