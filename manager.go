package agentctx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/agentctx/cache"
	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/driver"
	"github.com/youssefsiam38/agentctx/hooks"
	"github.com/youssefsiam38/agentctx/llm"
	"github.com/youssefsiam38/agentctx/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Version is the current agentctx version
const Version = "1.0.0"

const tracerName = "github.com/youssefsiam38/agentctx"

// TurnRequest is the input to AssembleTurn.
type TurnRequest struct {
	// ThreadID identifies the conversation (required).
	ThreadID string

	// PendingUserContent is the user message about to be sent. It is counted
	// against the budget but not appended to the log.
	PendingUserContent string

	// SystemPrompt is the caller's system prompt. It is counted against the
	// budget but not returned.
	SystemPrompt string
}

// TurnResult is the context to send for one turn.
type TurnResult struct {
	// Messages is the history to send, excluding the system prompt and the
	// pending user message. It is empty while a handoff is pending.
	Messages []types.Message

	Level           types.CompressionLevel
	Ratio           float64
	EstimatedTokens int

	// HandoffRequired is set at level 4. The thread accepts no further turns
	// until RequestHandoff and ConsumeHandoff move it to a new thread.
	HandoffRequired bool

	// Summarized is set when older turns were replaced by a summary.
	Summarized bool

	// HandoffContext is the injection from a consumed handoff. Prepend it to
	// the system prompt.
	HandoffContext string

	// Summary is the level 3 or level 4 summary, if any.
	Summary *types.StructuredSummary

	// Steps lists every level tried.
	Steps []compaction.LevelStep
}

// Manager decides, turn by turn, how much of a thread's history to send.
//
// A Manager is safe for concurrent use. Calls for the same thread are
// serialized; different threads proceed in parallel.
type Manager struct {
	store     driver.Store
	config    *Config
	provider  ConfigProvider
	completer llm.Completer
	logger    compaction.Logger
	hooks     *hooks.Registry
	tracer    trace.Tracer
	now       func() time.Time

	readFile      func(path string) (string, error)
	projectLoader cache.LoaderFunc[string]
	projectCache  *cache.TTL[string]

	locks     *threadLocks
	handoffs  singleflight.Group
	refresher *refresher
	closed    atomic.Bool
}

// NewManager creates a Manager that persists through store. A nil config uses
// DefaultConfig.
//
// Example:
//
//	drv := pgxv5.New(pool)
//	mgr, err := agentctx.NewManager(drv.GetStore(), cfg,
//	    agentctx.WithCompleter(llm.NewAnthropic(&client, "claude-haiku-4-5")),
//	    agentctx.WithLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close(ctx)
//
//	turn, err := mgr.AssembleTurn(ctx, agentctx.TurnRequest{
//	    ThreadID:           threadID,
//	    PendingUserContent: input,
//	    SystemPrompt:       systemPrompt,
//	})
func NewManager(store driver.Store, config *Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}

	cfg := DefaultConfig()
	if config != nil {
		c := *config
		cfg = &c
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &managerOptions{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.logger == nil {
		o.logger = compaction.NopLogger()
	}
	if o.hooks == nil {
		o.hooks = hooks.NewRegistry()
	}
	if o.configProvider == nil {
		o.configProvider = StaticConfig(cfg.Compaction)
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	if o.now == nil {
		o.now = time.Now
	}

	m := &Manager{
		store:         store,
		config:        cfg,
		provider:      o.configProvider,
		completer:     o.completer,
		logger:        o.logger,
		hooks:         o.hooks,
		tracer:        o.tracerProvider.Tracer(tracerName, trace.WithInstrumentationVersion(Version)),
		now:           o.now,
		readFile:      o.readFile,
		projectLoader: o.projectLoader,
		projectCache:  o.projectCache,
		locks:         newThreadLocks(),
	}
	m.refresher = newRefresher(m, cfg.MaxBackgroundSummaries)
	return m, nil
}

// NewFromDriver creates a Manager over the store of a SQL driver.
func NewFromDriver[TTx any](drv driver.Driver[TTx], config *Config, opts ...Option) (*Manager, error) {
	if drv == nil {
		return nil, fmt.Errorf("%w: driver is required", ErrInvalidConfig)
	}
	if !drv.PoolIsSet() {
		return nil, fmt.Errorf("%w: driver has no database", ErrInvalidConfig)
	}
	return NewManager(drv.GetStore(), config, opts...)
}

// Hooks returns the hook registry.
func (m *Manager) Hooks() *hooks.Registry {
	return m.hooks
}

// Store returns the store the manager persists through.
func (m *Manager) Store() driver.Store {
	return m.store
}

// AssembleTurn builds the context for the next model call on a thread.
//
// It escalates through the compression levels until the estimate fits the
// budget, persists the prune stamps, summary and thread state, and may start
// a background summary refresh. When persistence fails the result is still
// returned, together with an error wrapping ErrPersistence. When the pending
// message alone exceeds the budget the result is returned with an error
// wrapping compaction.ErrMessageTooLarge and nothing is persisted.
func (m *Manager) AssembleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.ThreadID == "" {
		return nil, NewManagerError("AssembleTurn", ErrMissingThreadID)
	}
	if m.closed.Load() {
		return nil, NewManagerErrorWithThread("AssembleTurn", req.ThreadID, ErrManagerClosed)
	}

	ctx, span := m.tracer.Start(ctx, "agentctx.AssembleTurn", trace.WithAttributes(
		attribute.String("agentctx.thread_id", req.ThreadID),
	))
	defer span.End()

	result, err := m.assembleTurn(ctx, req)
	if result != nil {
		span.SetAttributes(
			attribute.Int("agentctx.level", int(result.Level)),
			attribute.String("agentctx.level_name", compaction.NameOf(result.Level)),
			attribute.Float64("agentctx.ratio", result.Ratio),
			attribute.Int("agentctx.estimated_tokens", result.EstimatedTokens),
			attribute.Bool("agentctx.handoff_required", result.HandoffRequired),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (m *Manager) assembleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	const op = "AssembleTurn"

	if err := m.hooks.TriggerBeforeAssemble(ctx, req.ThreadID); err != nil {
		return nil, NewManagerErrorWithThread(op, req.ThreadID, err)
	}

	cfg, err := m.compactionConfig()
	if err != nil {
		return nil, NewManagerErrorWithThread(op, req.ThreadID, err)
	}

	unlock := m.locks.lock(req.ThreadID)
	defer unlock()

	start := m.now()

	state, err := m.loadState(ctx, req.ThreadID)
	if err != nil {
		return nil, NewManagerErrorWithThread(op, req.ThreadID, err)
	}
	if state.HandoffRequired {
		m.logger.Debug("thread is waiting for a handoff", "thread_id", req.ThreadID)
		return &TurnResult{
			Level:           types.LevelHandoff,
			Ratio:           state.LastRatio,
			HandoffRequired: true,
			HandoffContext:  state.HandoffContext,
			Summary:         state.HandoffSummary.Clone(),
		}, nil
	}

	log, err := m.store.ReadLog(ctx, req.ThreadID)
	if err != nil {
		return nil, NewManagerErrorWithThread(op, req.ThreadID, err)
	}
	cached, err := m.store.LoadSummary(ctx, req.ThreadID)
	if err != nil {
		return nil, NewManagerErrorWithThread(op, req.ThreadID, err)
	}

	var summarizer compaction.Summarizer
	if m.completer != nil {
		summarizer = m.modelSummarizer(ctx, req.ThreadID, &cfg)
	}
	assembler := compaction.NewAssembler(&cfg, summarizer, m.logger).WithClock(m.now)

	res, err := assembler.Assemble(ctx, compaction.AssembleInput{
		ThreadID:      req.ThreadID,
		Log:           log,
		StartLevel:    m.startLevel(state, &cfg),
		SystemPrompt:  joinPrompt(state.HandoffContext, req.SystemPrompt),
		PendingUser:   req.PendingUserContent,
		CachedSummary: cached,
	})
	if err != nil {
		return turnResult(res, state), NewManagerErrorWithThread(op, req.ThreadID, err)
	}

	lastRequest := req.PendingUserContent
	if lastRequest == "" {
		lastRequest = log.LastUserText()
	}

	var storedGen uint64
	if cached != nil {
		storedGen = cached.Generation
	}
	storedGen, persistErr := m.persist(ctx, req.ThreadID, state, res, storedGen, lastRequest)
	result := turnResult(res, state)

	if m.wantsRefresh(res) {
		m.refresher.schedule(req.ThreadID, storedGen, compaction.SummaryRequest{
			Messages:        compaction.OlderMessages(log, cfg.KeepRecentTurns),
			Mode:            compaction.ModeDetailed,
			LastUserRequest: lastRequest,
		}, cfg)
	}

	event := &hooks.AssembleEvent{
		ThreadID:         req.ThreadID,
		Level:            res.Level,
		Ratio:            res.Ratio,
		EstimatedTokens:  res.EstimatedTokens,
		PrunedResults:    len(res.PrunePlan.MessageIDs),
		Truncated:        res.TruncatedMessages,
		Dropped:          res.DroppedMessages,
		SummaryFromCache: res.SummaryFromCache,
		HandoffRequired:  res.HandoffRequired,
		Duration:         m.now().Sub(start),
		Steps:            res.Steps,
	}
	if err := m.hooks.TriggerAfterAssemble(ctx, event); err != nil {
		m.logger.Warn("after assemble hook failed", "thread_id", req.ThreadID, "error", err)
	}
	if res.HandoffRequired {
		if err := m.hooks.TriggerHandoffRequired(ctx, req.ThreadID, res.Summary); err != nil {
			m.logger.Warn("handoff required hook failed", "thread_id", req.ThreadID, "error", err)
		}
	}

	if persistErr != nil {
		return result, NewManagerErrorWithThread(op, req.ThreadID, fmt.Errorf("%w: %w", ErrPersistence, persistErr))
	}
	return result, nil
}

// persist writes the assembly's side effects and returns the generation of
// the thread's summary afterwards. Each write is attempted even when an
// earlier one fails.
func (m *Manager) persist(ctx context.Context, threadID string, state *types.ThreadState, res *compaction.AssembleResult, storedGen uint64, lastRequest string) (uint64, error) {
	var errs []error
	now := m.now()

	if ids := res.PrunePlan.MessageIDs; len(ids) > 0 {
		if _, err := m.store.MarkCompacted(ctx, threadID, ids, now); err != nil {
			errs = append(errs, m.persistFailed(ctx, threadID, "MarkCompacted", err))
		}
	}

	if res.Level == types.LevelDeepCompression && res.Summary != nil && !res.SummaryFromCache {
		summary := res.Summary.Clone()
		summary.Generation = m.refresher.bump(threadID, storedGen)
		if err := m.store.StoreSummary(ctx, threadID, summary); err != nil {
			errs = append(errs, m.persistFailed(ctx, threadID, "StoreSummary", err))
		} else {
			storedGen = summary.Generation
		}
	}

	state.LastLevel = res.Level
	state.LastRatio = res.Ratio
	if res.HandoffRequired {
		state.HandoffRequired = true
		state.HandoffSummary = res.Summary.Clone()
		state.HandoffRequest = lastRequest
	}
	state.UpdatedAt = now
	if err := m.store.SaveThread(ctx, state); err != nil {
		errs = append(errs, m.persistFailed(ctx, threadID, "SaveThread", err))
	}

	return storedGen, errors.Join(errs...)
}

// persistFailed reports a failed store write and returns err.
func (m *Manager) persistFailed(ctx context.Context, threadID, op string, err error) error {
	m.logger.Warn("failed to persist assembly result",
		"thread_id", threadID,
		"op", op,
		"error", err,
	)
	if hookErr := m.hooks.TriggerPersistFailure(ctx, threadID, op, err); hookErr != nil {
		m.logger.Warn("persist failure hook failed", "thread_id", threadID, "error", hookErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wantsRefresh reports whether a background refresh would give the next
// level 3 assembly a better cached summary than it has now.
func (m *Manager) wantsRefresh(res *compaction.AssembleResult) bool {
	if m.completer == nil || m.config.DisableBackgroundSummaries {
		return false
	}
	switch res.Level {
	case types.LevelSlidingWindow:
		return true
	case types.LevelDeepCompression:
		return res.SummaryFromCache || res.Summary == nil || res.Summary.Source != types.SourceModel
	default:
		return false
	}
}

// startLevel predicts the first level to try from the previous turn: never
// below the level last applied, and at least the level the reported usage
// implies. Level 4 is never predicted.
func (m *Manager) startLevel(state *types.ThreadState, cfg *compaction.Config) types.CompressionLevel {
	if cfg.DisableLevelPrediction {
		return types.LevelFull
	}
	level := state.LastLevel
	if total := state.LastUsage.Total(); total > 0 {
		level = max(level, compaction.LevelForRatio(cfg.Budget().Ratio(total)))
	}
	return min(level, types.LevelDeepCompression)
}

func (m *Manager) modelSummarizer(ctx context.Context, threadID string, cfg *compaction.Config) *compaction.ModelSummarizer {
	return compaction.NewModelSummarizer(m.completer, cfg, m.logger).
		WithModel(m.config.SummaryModel).
		OnFallback(func(mode compaction.SummaryMode, err error) {
			if hookErr := m.hooks.TriggerSummaryFallback(ctx, threadID, mode, err); hookErr != nil {
				m.logger.Warn("summary fallback hook failed", "thread_id", threadID, "error", hookErr)
			}
		})
}

func (m *Manager) compactionConfig() (compaction.Config, error) {
	cfg := m.provider.GetConfig()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func (m *Manager) loadState(ctx context.Context, threadID string) (*types.ThreadState, error) {
	state, err := m.store.LoadThread(ctx, threadID)
	if errors.Is(err, driver.ErrThreadNotFound) {
		return types.NewThreadState(threadID), nil
	}
	return state, err
}

func turnResult(res *compaction.AssembleResult, state *types.ThreadState) *TurnResult {
	if res == nil {
		return nil
	}
	return &TurnResult{
		Messages:        res.Messages,
		Level:           res.Level,
		Ratio:           res.Ratio,
		EstimatedTokens: res.EstimatedTokens,
		HandoffRequired: res.HandoffRequired,
		Summarized:      res.Level >= types.LevelDeepCompression && res.DroppedMessages > 0,
		HandoffContext:  state.HandoffContext,
		Summary:         res.Summary,
		Steps:           res.Steps,
	}
}

func joinPrompt(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// Append adds messages to the thread's log. Messages already stored are
// skipped.
func (m *Manager) Append(ctx context.Context, threadID string, messages ...types.Message) error {
	if threadID == "" {
		return NewManagerError("Append", ErrMissingThreadID)
	}
	unlock := m.locks.lock(threadID)
	defer unlock()

	if err := m.store.AppendMessages(ctx, threadID, messages...); err != nil {
		return NewManagerErrorWithThread("Append", threadID, err)
	}
	return nil
}

// RecordUsage stores the token usage the model reported for the thread's last
// call. The next AssembleTurn starts at the level it implies.
func (m *Manager) RecordUsage(ctx context.Context, threadID string, usage types.Usage) error {
	if threadID == "" {
		return NewManagerError("RecordUsage", ErrMissingThreadID)
	}
	unlock := m.locks.lock(threadID)
	defer unlock()

	state, err := m.loadState(ctx, threadID)
	if err != nil {
		return NewManagerErrorWithThread("RecordUsage", threadID, err)
	}
	state.LastUsage = usage
	state.UpdatedAt = m.now()
	if err := m.store.SaveThread(ctx, state); err != nil {
		return NewManagerErrorWithThread("RecordUsage", threadID, err)
	}
	return nil
}

// ThreadState returns the thread's stored state, or the initial state of a
// thread that has never been assembled.
func (m *Manager) ThreadState(ctx context.Context, threadID string) (*types.ThreadState, error) {
	if threadID == "" {
		return nil, NewManagerError("ThreadState", ErrMissingThreadID)
	}
	state, err := m.loadState(ctx, threadID)
	if err != nil {
		return nil, NewManagerErrorWithThread("ThreadState", threadID, err)
	}
	return state, nil
}

// RequestHandoff returns the handoff document for a thread that reached
// level 4, creating it on the first call. Concurrent calls for the same
// thread share one document.
func (m *Manager) RequestHandoff(ctx context.Context, threadID, workingDirectory string) (*types.HandoffDocument, error) {
	if threadID == "" {
		return nil, NewManagerError("RequestHandoff", ErrMissingThreadID)
	}
	if m.closed.Load() {
		return nil, NewManagerErrorWithThread("RequestHandoff", threadID, ErrManagerClosed)
	}

	ctx, span := m.tracer.Start(ctx, "agentctx.RequestHandoff", trace.WithAttributes(
		attribute.String("agentctx.thread_id", threadID),
	))
	defer span.End()

	v, err, shared := m.handoffs.Do(threadID, func() (any, error) {
		return m.requestHandoff(ctx, threadID, workingDirectory)
	})
	span.SetAttributes(attribute.Bool("agentctx.shared", shared))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	doc := v.(*types.HandoffDocument)
	span.SetAttributes(attribute.String("agentctx.handoff_id", doc.ID))
	return doc, nil
}

func (m *Manager) requestHandoff(ctx context.Context, threadID, workingDirectory string) (*types.HandoffDocument, error) {
	const op = "RequestHandoff"

	pending, err := m.store.PendingHandoff(ctx, threadID)
	if err == nil {
		return pending, nil
	}
	if !errors.Is(err, driver.ErrHandoffNotFound) {
		return nil, NewManagerErrorWithThread(op, threadID, err)
	}

	state, err := m.loadState(ctx, threadID)
	if err != nil {
		return nil, NewManagerErrorWithThread(op, threadID, err)
	}
	if !state.HandoffRequired {
		return nil, NewManagerErrorWithThread(op, threadID, ErrHandoffNotRequired)
	}

	summary := state.HandoffSummary
	if summary == nil {
		cfg, err := m.compactionConfig()
		if err != nil {
			return nil, NewManagerErrorWithThread(op, threadID, err)
		}
		log, err := m.store.ReadLog(ctx, threadID)
		if err != nil {
			return nil, NewManagerErrorWithThread(op, threadID, err)
		}
		summary = compaction.NewRuleSummarizer(&cfg).Summarize(ctx, compaction.SummaryRequest{
			Messages:        log,
			Mode:            compaction.ModeHandoff,
			LastUserRequest: state.HandoffRequest,
		})
	}

	opts := compaction.HandoffOptions{
		LastUserRequest: state.HandoffRequest,
		ReadFile:        m.readFile,
		Now:             m.now,
	}
	if m.projectLoader != nil && workingDirectory != "" {
		projectContext, err := m.projectCache.GetOrLoad(ctx, workingDirectory, m.projectLoader)
		if err != nil {
			m.logger.Warn("failed to load project context",
				"thread_id", threadID,
				"working_directory", workingDirectory,
				"error", err,
			)
		} else {
			opts.ProjectContext = projectContext
		}
	}

	doc := compaction.BuildHandoff(summary, threadID, workingDirectory, opts)
	if err := m.store.SaveHandoff(ctx, doc); err != nil {
		return nil, NewManagerErrorWithThread(op, threadID, err)
	}

	m.logger.Info("handoff document created",
		"thread_id", threadID,
		"handoff_id", doc.ID,
		"key_files", len(doc.KeyFileSnapshots),
		"next_steps", len(doc.SuggestedNextSteps),
	)
	return doc, nil
}

// ConsumeHandoff seeds newThreadID from doc and returns the injection text.
// Later turns on the new thread carry the injection ahead of the system
// prompt, and the source thread accepts turns again. A document seeds exactly
// one thread: consuming it again for the same thread returns the same
// injection, for any other thread it fails with driver.ErrHandoffConsumed.
func (m *Manager) ConsumeHandoff(ctx context.Context, doc *types.HandoffDocument, newThreadID string) (string, error) {
	const op = "ConsumeHandoff"

	if doc == nil {
		return "", NewManagerErrorWithThread(op, newThreadID, driver.ErrHandoffNotFound)
	}
	if newThreadID == "" {
		return "", NewManagerError(op, ErrMissingThreadID)
	}
	if newThreadID == doc.FromSessionID {
		return "", NewManagerErrorWithThread(op, newThreadID, ErrInvalidHandoffTarget)
	}

	ctx, span := m.tracer.Start(ctx, "agentctx.ConsumeHandoff", trace.WithAttributes(
		attribute.String("agentctx.thread_id", newThreadID),
		attribute.String("agentctx.handoff_id", doc.ID),
	))
	defer span.End()

	fail := func(threadID string, err error) (string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", NewManagerErrorWithThread(op, threadID, err)
	}

	injection := compaction.RenderInjection(doc)
	first, err := m.seedThread(ctx, doc, newThreadID, injection)
	if err != nil {
		return fail(newThreadID, err)
	}
	span.SetAttributes(attribute.Bool("agentctx.first_consumption", first))

	// The threads are locked one after the other. A repeated call retries
	// the release if an earlier one failed.
	if err := m.releaseSource(ctx, doc.FromSessionID); err != nil {
		return fail(doc.FromSessionID, err)
	}
	if !first {
		return injection, nil
	}

	m.logger.Info("handoff consumed",
		"handoff_id", doc.ID,
		"from_thread_id", doc.FromSessionID,
		"thread_id", newThreadID,
	)
	if err := m.hooks.TriggerHandoffConsumed(ctx, doc, newThreadID); err != nil {
		m.logger.Warn("handoff consumed hook failed", "thread_id", newThreadID, "error", err)
	}
	return injection, nil
}

// seedThread marks doc consumed by newThreadID and stores the injection on
// the new thread. It reports whether this call consumed the document.
func (m *Manager) seedThread(ctx context.Context, doc *types.HandoffDocument, newThreadID, injection string) (bool, error) {
	unlock := m.locks.lock(newThreadID)
	defer unlock()

	first, err := m.store.ConsumeHandoff(ctx, doc.ID, newThreadID, m.now())
	if err != nil {
		return false, err
	}

	state, err := m.loadState(ctx, newThreadID)
	if err != nil {
		return false, err
	}
	state.HandoffContext = injection
	state.UpdatedAt = m.now()
	if err := m.store.SaveThread(ctx, state); err != nil {
		return false, err
	}
	return first, nil
}

// releaseSource clears the handoff flag of a thread whose handoff was
// consumed.
func (m *Manager) releaseSource(ctx context.Context, threadID string) error {
	unlock := m.locks.lock(threadID)
	defer unlock()

	state, err := m.loadState(ctx, threadID)
	if err != nil {
		return err
	}
	if !state.HandoffRequired {
		return nil
	}
	state.HandoffRequired = false
	state.HandoffSummary = nil
	state.HandoffRequest = ""
	state.UpdatedAt = m.now()
	return m.store.SaveThread(ctx, state)
}

// Close stops background refreshes and waits for running ones until ctx ends.
// Calls after the first return nil.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.refresher.close(ctx)
}
