package hooks

import (
	"context"
	"log"

	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/types"
)

// LoggingHooks provides built-in logging hooks for observability
type LoggingHooks struct {
	logger *log.Logger
}

// NewLoggingHooks creates logging hooks with the provided logger
func NewLoggingHooks(logger *log.Logger) *LoggingHooks {
	return &LoggingHooks{logger: logger}
}

// DefaultLoggingHooks creates logging hooks with default logger
func DefaultLoggingHooks() *LoggingHooks {
	return &LoggingHooks{logger: log.Default()}
}

// Register adds every logging hook to r.
func (h *LoggingHooks) Register(r *Registry) {
	r.OnAfterAssemble(h.AfterAssemble)
	r.OnSummaryRefreshed(h.SummaryRefreshed)
	r.OnSummaryFallback(h.SummaryFallback)
	r.OnHandoffRequired(h.HandoffRequired)
	r.OnHandoffConsumed(h.HandoffConsumed)
	r.OnPersistFailure(h.PersistFailure)
}

// AfterAssemble logs the level an assembly settled on
func (h *LoggingHooks) AfterAssemble(ctx context.Context, event *AssembleEvent) error {
	if event.Level == types.LevelFull {
		return nil
	}
	h.logger.Printf("[agentctx] Thread %s compressed at level %d (%s): %d tokens, ratio %.2f, %d pruned, %d truncated, %d summarized",
		event.ThreadID, int(event.Level), event.Level, event.EstimatedTokens, event.Ratio,
		event.PrunedResults, event.Truncated, event.Dropped)
	return nil
}

// SummaryRefreshed logs a background summary refresh
func (h *LoggingHooks) SummaryRefreshed(ctx context.Context, threadID string, summary *types.StructuredSummary) error {
	h.logger.Printf("[agentctx] Refreshed summary for thread %s (turns %d-%d, generation %d)",
		threadID, summary.TurnRange.Start, summary.TurnRange.End, summary.Generation)
	return nil
}

// SummaryFallback logs a model summary that degraded to rules
func (h *LoggingHooks) SummaryFallback(ctx context.Context, threadID string, mode compaction.SummaryMode, err error) error {
	h.logger.Printf("[agentctx] %s summary for thread %s fell back to rules: %v", mode, threadID, err)
	return nil
}

// HandoffRequired logs a thread that must be handed off
func (h *LoggingHooks) HandoffRequired(ctx context.Context, threadID string, summary *types.StructuredSummary) error {
	objective := ""
	if summary != nil {
		objective = summary.Objective
	}
	h.logger.Printf("[agentctx] Thread %s requires a handoff: %s", threadID, objective)
	return nil
}

// HandoffConsumed logs a handoff seeding a new thread
func (h *LoggingHooks) HandoffConsumed(ctx context.Context, doc *types.HandoffDocument, newThreadID string) error {
	h.logger.Printf("[agentctx] Handoff %s from thread %s consumed by thread %s", doc.ID, doc.FromSessionID, newThreadID)
	return nil
}

// PersistFailure logs a failed store write
func (h *LoggingHooks) PersistFailure(ctx context.Context, threadID, op string, err error) error {
	h.logger.Printf("[agentctx] %s failed for thread %s: %v", op, threadID, err)
	return nil
}
