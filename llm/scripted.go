package llm

import (
	"context"
	"sync"
	"time"
)

// Reply is one scripted outcome for ScriptedCompleter.
type Reply struct {
	Content string
	Err     error

	// Delay holds the reply back; a cancelled context ends the wait early.
	Delay time.Duration
}

// ScriptedCompleter replays canned replies in order, repeating the last one
// once the script is exhausted. It records every request. It is intended for
// tests and offline runs.
type ScriptedCompleter struct {
	mu       sync.Mutex
	replies  []Reply
	requests []Request
}

// NewScriptedCompleter returns a completer that answers with replies.
func NewScriptedCompleter(replies ...Reply) *ScriptedCompleter {
	return &ScriptedCompleter{replies: replies}
}

// Complete implements Completer.
func (s *ScriptedCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	idx := len(s.requests)
	s.requests = append(s.requests, req)
	var reply Reply
	switch {
	case len(s.replies) == 0:
		reply = Reply{Err: ErrEmptyResponse}
	case idx < len(s.replies):
		reply = s.replies[idx]
	default:
		reply = s.replies[len(s.replies)-1]
	}
	s.mu.Unlock()

	if reply.Delay > 0 {
		timer := time.NewTimer(reply.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &Response{
		Content: reply.Content,
		Usage:   Usage{InputTokens: len(req.SystemPrompt) / 4, OutputTokens: len(reply.Content) / 4},
	}, nil
}

// Requests returns a copy of the requests received so far.
func (s *ScriptedCompleter) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Calls returns the number of requests received so far.
func (s *ScriptedCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
