package compaction

import (
	"time"

	"github.com/youssefsiam38/agentctx/types"
)

// PrunePlan lists tool results that may be cleared.
type PrunePlan struct {
	// MessageIDs are the tool messages to mark compacted, newest first.
	MessageIDs []string

	// Tokens is the estimated size of the planned messages.
	Tokens int

	// Scanned is the number of messages examined.
	Scanned int
}

// Empty reports whether the plan clears nothing.
func (p PrunePlan) Empty() bool {
	return len(p.MessageIDs) == 0
}

// Pruner decides which old tool results are worth clearing. It never mutates
// the log it is given.
type Pruner struct {
	minimum   int
	protect   int
	keepTurns int
	protected map[string]struct{}
}

// NewPruner creates a Pruner from cfg.
func NewPruner(cfg *Config) *Pruner {
	protected := make(map[string]struct{}, len(cfg.ProtectedTools))
	for _, name := range cfg.ProtectedTools {
		protected[name] = struct{}{}
	}
	return &Pruner{
		minimum:   cfg.PruneMinimumTokens,
		protect:   cfg.PruneProtectTokens,
		keepTurns: cfg.KeepRecentTurns,
		protected: protected,
	}
}

// IsProtected reports whether results of the named tool are never pruned.
func (p *Pruner) IsProtected(name string) bool {
	_, ok := p.protected[name]
	return ok
}

// Plan walks messages from newest to oldest. Tool results in the last
// keepTurns turns and results of protected tools are skipped. The remaining
// un-compacted results are accumulated; once more than protect tokens have been
// seen, every further result is planned. The plan is returned only when the
// planned size exceeds the minimum.
func (p *Pruner) Plan(messages []types.Message) PrunePlan {
	var (
		plan  PrunePlan
		turns int
		total int
	)

scan:
	for i := len(messages) - 1; i >= 0; i-- {
		plan.Scanned++
		switch m := messages[i].(type) {
		case *types.UserMessage:
			turns++
		case *types.CheckpointMessage:
			if m.Boundary {
				break scan
			}
		case *types.ToolMessage:
			if turns < p.keepTurns || m.Compacted() || p.IsProtected(m.Name) {
				continue
			}
			size := Estimate(m.Content)
			total += size
			if total > p.protect {
				plan.MessageIDs = append(plan.MessageIDs, m.ID)
				plan.Tokens += size
			}
		}
	}

	if plan.Tokens <= p.minimum {
		return PrunePlan{Scanned: plan.Scanned}
	}
	return plan
}

// ApplyPlan marks the planned messages compacted in log and returns how many
// changed. Applying the same plan again changes nothing.
func ApplyPlan(log types.ConversationLog, plan PrunePlan, at time.Time) int {
	return log.MarkCompacted(plan.MessageIDs, at)
}
