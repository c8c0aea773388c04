package compaction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/agentctx/types"
)

// AssembleInput is everything the Assembler needs for one turn.
type AssembleInput struct {
	// ThreadID is used for logging and errors only.
	ThreadID string

	// Log is the thread's full conversation log. It is never modified.
	Log types.ConversationLog

	// StartLevel is the first level tried.
	StartLevel types.CompressionLevel

	// SystemPrompt and PendingUser are counted against the budget but not
	// returned.
	SystemPrompt string
	PendingUser  string

	// CachedSummary is a previously stored summary of older turns. When it
	// covers every dropped turn, level 3 uses it instead of calling the model.
	CachedSummary *types.StructuredSummary
}

// LevelStep records the estimate produced at one level.
type LevelStep struct {
	Level  types.CompressionLevel
	Tokens int
	Ratio  float64
}

// AssembleResult is the context to send to the model for one turn.
type AssembleResult struct {
	// Messages is the list to send, excluding the system prompt and the
	// pending user message.
	Messages []types.Message

	// Level is the level that was applied.
	Level types.CompressionLevel

	// Ratio is EstimatedTokens relative to the usable budget.
	Ratio float64

	// EstimatedTokens includes the system prompt and the pending user message.
	EstimatedTokens int

	// HandoffRequired is set at level 4.
	HandoffRequired bool

	// PrunePlan holds the tool results cleared in the working copy at level 2
	// or above. The caller persists it.
	PrunePlan PrunePlan

	// Summary is the detailed summary spliced in at level 3, or the handoff
	// summary at level 4.
	Summary *types.StructuredSummary

	// SummaryFromCache is set when level 3 reused AssembleInput.CachedSummary.
	SummaryFromCache bool

	// DroppedMessages is how many messages the summary replaced.
	DroppedMessages int

	// TruncatedMessages is how many message bodies were cut.
	TruncatedMessages int

	// Steps lists every level tried, in order.
	Steps []LevelStep
}

// Assembler runs the escalation loop that fits a log into the token budget.
type Assembler struct {
	cfg        *Config
	budget     TokenBudget
	pruner     *Pruner
	rules      *RuleSummarizer
	summarizer Summarizer
	logger     Logger
	now        func() time.Time
}

// NewAssembler creates an Assembler. A nil summarizer uses rule-based
// summaries only.
func NewAssembler(cfg *Config, summarizer Summarizer, logger Logger) *Assembler {
	rules := NewRuleSummarizer(cfg)
	if summarizer == nil {
		summarizer = rules
	}
	return &Assembler{
		cfg:        cfg,
		budget:     cfg.Budget(),
		pruner:     NewPruner(cfg),
		rules:      rules,
		summarizer: summarizer,
		logger:     orNop(logger),
		now:        time.Now,
	}
}

// WithClock sets the time source used for compaction stamps and synthetic
// message timestamps.
func (a *Assembler) WithClock(now func() time.Time) *Assembler {
	a.now = now
	return a
}

// Pruner returns the pruner used at level 2.
func (a *Assembler) Pruner() *Pruner { return a.pruner }

// Budget returns the token budget assemblies are measured against.
func (a *Assembler) Budget() TokenBudget { return a.budget }

// assembly holds per-call state shared between levels so that planning and
// summarization happen at most once per call.
type assembly struct {
	in          AssembleInput
	fixed       int
	base        []types.Message
	windowStart int

	plan      *PrunePlan
	detailed  *types.StructuredSummary
	fromCache bool
	handoff   *types.StructuredSummary
}

type candidate struct {
	messages  []types.Message
	tokens    int
	truncated int
	dropped   int
}

// Assemble escalates from input.StartLevel until the estimate fits the
// budget or level 4 is reached. The level never decreases.
//
// At level 4 the result is usable but HandoffRequired is set. If the pending
// user message alone cannot fit the budget, ErrMessageTooLarge is returned
// together with the result.
func (a *Assembler) Assemble(ctx context.Context, in AssembleInput) (*AssembleResult, error) {
	st := &assembly{
		in:    in,
		fixed: Estimate(in.SystemPrompt),
		base:  sendable(in.Log),
	}
	if in.PendingUser != "" {
		st.fixed += MessageOverhead + Estimate(in.PendingUser)
	}
	st.windowStart = recentWindowStart(st.base, a.cfg.KeepRecentTurns)

	level := in.StartLevel
	if level < types.LevelFull {
		level = types.LevelFull
	}
	if level > types.MaxLevel {
		level = types.MaxLevel
	}

	result := &AssembleResult{}
	var cand candidate
	for {
		cand = a.applyLevel(ctx, st, level)
		ratio := a.budget.Ratio(cand.tokens)
		result.Steps = append(result.Steps, LevelStep{Level: level, Tokens: cand.tokens, Ratio: ratio})

		a.logger.Debug("compression level evaluated",
			"thread_id", in.ThreadID,
			"level", int(level),
			"level_name", NameOf(level),
			"tokens", cand.tokens,
			"ratio", ratio,
		)

		if a.budget.Fits(cand.tokens) || level == types.MaxLevel {
			break
		}
		level++
	}

	result.Messages = cand.messages
	result.Level = level
	result.EstimatedTokens = cand.tokens
	result.Ratio = a.budget.Ratio(cand.tokens)
	result.TruncatedMessages = cand.truncated
	result.DroppedMessages = cand.dropped
	if level >= types.LevelSlidingWindow && st.plan != nil {
		result.PrunePlan = *st.plan
	}
	if level >= types.LevelDeepCompression {
		result.Summary = st.detailed
		result.SummaryFromCache = st.fromCache
	}
	if level == types.LevelHandoff {
		a.summarizeHandoff(ctx, st)
		result.HandoffRequired = true
		result.Summary = st.handoff
	}

	if level > types.LevelFull {
		a.logger.Info("context compressed",
			"thread_id", in.ThreadID,
			"level", int(level),
			"level_name", NameOf(level),
			"tokens", result.EstimatedTokens,
			"ratio", result.Ratio,
			"pruned", len(result.PrunePlan.MessageIDs),
			"truncated", result.TruncatedMessages,
			"dropped", result.DroppedMessages,
		)
	}

	if result.HandoffRequired && st.fixed > a.budget.Usable() {
		return result, NewCompactionError("Assemble", ErrMessageTooLarge).
			WithThread(in.ThreadID).
			WithContext("pending_tokens", st.fixed).
			WithContext("usable_tokens", a.budget.Usable())
	}
	return result, nil
}

func (a *Assembler) applyLevel(ctx context.Context, st *assembly, level types.CompressionLevel) candidate {
	if level == types.LevelFull {
		return candidate{messages: st.base, tokens: EstimateLog(st.base) + st.fixed}
	}
	var msgs []types.Message
	limit := a.cfg.TruncateMessageChars
	if level >= types.LevelSlidingWindow {
		plan := a.planPrune(st)
		work := st.in.Log.Clone()
		work.MarkCompacted(plan.MessageIDs, a.now())
		msgs = sendable(work)
		limit = max(limit/2, 1)
	} else {
		msgs = append([]types.Message(nil), st.base...)
	}

	if level >= types.LevelDeepCompression && st.windowStart > 0 {
		summary := a.summarizeDropped(ctx, st)
		synthetic := &types.AssistantMessage{
			Header:  types.Header{ID: uuid.NewString(), Timestamp: a.now()},
			Parts:   []types.ContentPart{types.TextPart(RenderSummary(summary))},
			Summary: true,
		}
		out := make([]types.Message, 0, len(msgs)-st.windowStart+1)
		out = append(out, synthetic)
		out = append(out, msgs[st.windowStart:]...)
		return candidate{
			messages: out,
			tokens:   EstimateLog(out) + st.fixed,
			dropped:  st.windowStart,
		}
	}

	total := EstimateLog(msgs) + st.fixed
	total, truncated := truncateOldest(msgs, st.windowStart, limit, total, a.budget.Fits)
	return candidate{messages: msgs, tokens: total, truncated: truncated}
}

func (a *Assembler) planPrune(st *assembly) PrunePlan {
	if st.plan == nil {
		plan := a.pruner.Plan(st.in.Log)
		st.plan = &plan
	}
	return *st.plan
}

// summarizeDropped returns the detailed summary of the messages before the
// recent window, reusing the cached summary when it covers them.
func (a *Assembler) summarizeDropped(ctx context.Context, st *assembly) *types.StructuredSummary {
	if st.detailed != nil {
		return st.detailed
	}

	dropped := st.base[:st.windowStart]
	req := SummaryRequest{
		Messages:        dropped,
		Mode:            ModeDetailed,
		LastUserRequest: a.lastRequest(st),
	}
	covered := turnRangeOf(dropped, 0)

	if cached := st.in.CachedSummary; cached != nil && cached.TurnRange.Start == 0 && cached.TurnRange.End >= covered.End {
		st.detailed = MergeSummaries(cached, a.rules.Summarize(ctx, req))
		st.fromCache = true
		return st.detailed
	}

	summary := a.summarizer.Summarize(ctx, req)
	if cached := st.in.CachedSummary; cached != nil {
		summary = MergeSummaries(summary, cached)
	}
	st.detailed = summary
	return summary
}

// summarizeHandoff produces the handoff summary over the whole log.
func (a *Assembler) summarizeHandoff(ctx context.Context, st *assembly) {
	if st.handoff != nil {
		return
	}
	summary := a.summarizer.Summarize(ctx, SummaryRequest{
		Messages:        st.base,
		Mode:            ModeHandoff,
		LastUserRequest: a.lastRequest(st),
	})
	if st.detailed != nil {
		summary = MergeSummaries(summary, st.detailed)
	} else if st.in.CachedSummary != nil {
		summary = MergeSummaries(summary, st.in.CachedSummary)
	}
	if summary.Objective == "" {
		summary.Objective = defaultObjective
	}
	st.handoff = summary
}

func (a *Assembler) lastRequest(st *assembly) string {
	if st.in.PendingUser != "" {
		return st.in.PendingUser
	}
	return st.in.Log.LastUserText()
}
