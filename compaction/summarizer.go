package compaction

import (
	"context"

	"github.com/youssefsiam38/agentctx/types"
)

// SummaryMode selects how much detail a summary carries.
type SummaryMode string

const (
	// ModeQuick is a short summary for display or cheap refreshes.
	ModeQuick SummaryMode = "quick"

	// ModeDetailed replaces dropped turns at level 3.
	ModeDetailed SummaryMode = "detailed"

	// ModeHandoff seeds a new session and reports whether the last request finished.
	ModeHandoff SummaryMode = "handoff"
)

// SummaryRequest is the input to a Summarizer.
type SummaryRequest struct {
	// Messages are the messages to summarize, oldest first.
	Messages []types.Message

	// Mode selects the level of detail.
	Mode SummaryMode

	// LastUserRequest is the most recent user request, which may lie outside
	// Messages. When empty, the last user message in Messages is used.
	LastUserRequest string

	// TurnOffset is the number of turns that precede Messages in the log.
	TurnOffset int
}

func (r SummaryRequest) lastRequest() string {
	if r.LastUserRequest != "" {
		return r.LastUserRequest
	}
	return types.ConversationLog(r.Messages).LastUserText()
}

// Summarizer produces a StructuredSummary from a run of messages. It never
// returns nil and never fails; implementations degrade to rule extraction.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) *types.StructuredSummary
}
