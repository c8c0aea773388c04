// Package llm defines the model completion capability used for summarization
// and provides an Anthropic implementation.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty response from model")

// Role is the author of a request message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one text message of a completion request.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion request.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64

	// Model overrides the completer's default model when set.
	Model string
}

// Usage reports tokens consumed by a completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the result of a completion.
type Response struct {
	Content string
	Usage   Usage
}

// Completer calls a language model. Errors are never fatal to callers in
// this module; they trigger a deterministic fallback.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (*Response, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
