package agentctx

import (
	"context"
	"sync"

	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// refresher runs model summaries of older turns off the request path so a
// later level 3 assembly finds a covering summary in the store.
//
// At most one refresh runs per thread and at most limit run in total. Every
// stored summary carries a generation above the one it replaces; a refresh
// that finishes after a newer summary was stored merges beneath it instead
// of replacing it. gens only holds threads with a refresh in flight.
type refresher struct {
	m      *Manager
	global *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	slots  map[string]*semaphore.Weighted
	gens   map[string]uint64
	closed bool
}

func newRefresher(m *Manager, limit int) *refresher {
	ctx, cancel := context.WithCancel(context.Background())
	return &refresher{
		m:      m,
		global: semaphore.NewWeighted(int64(max(limit, 1))),
		ctx:    ctx,
		cancel: cancel,
		slots:  make(map[string]*semaphore.Weighted),
		gens:   make(map[string]uint64),
	}
}

// bump returns the generation for a summary replacing one at stored. It is
// above both stored and any refresh in flight for the thread.
func (r *refresher) bump(threadID string, stored uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextLocked(threadID, stored)
}

// nextLocked advances the thread's generation. r.mu must be held.
func (r *refresher) nextLocked(threadID string, stored uint64) uint64 {
	gen := max(r.gens[threadID], stored) + 1
	if _, inFlight := r.slots[threadID]; inFlight {
		r.gens[threadID] = gen
	}
	return gen
}

// schedule starts a refresh of req for the thread unless one is already in
// flight. It reports whether a refresh was started.
// stored is the generation of the thread's current summary.
func (r *refresher) schedule(threadID string, stored uint64, req compaction.SummaryRequest, cfg compaction.Config) bool {
	if len(req.Messages) == 0 {
		return false
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	slot, ok := r.slots[threadID]
	if !ok {
		slot = semaphore.NewWeighted(1)
		r.slots[threadID] = slot
	}
	if !slot.TryAcquire(1) {
		r.mu.Unlock()
		r.m.logger.Debug("summary refresh already running", "thread_id", threadID)
		return false
	}
	gen := r.nextLocked(threadID, stored)
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.release(threadID, slot)
		r.run(threadID, gen, req, cfg)
	}()
	return true
}

func (r *refresher) release(threadID string, slot *semaphore.Weighted) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot.Release(1)
	if r.slots[threadID] == slot {
		delete(r.slots, threadID)
		delete(r.gens, threadID)
	}
}

func (r *refresher) run(threadID string, gen uint64, req compaction.SummaryRequest, cfg compaction.Config) {
	ctx, span := r.m.tracer.Start(r.ctx, "agentctx.RefreshSummary", trace.WithAttributes(
		attribute.String("agentctx.thread_id", threadID),
		attribute.Int64("agentctx.generation", int64(gen)),
		attribute.Int("agentctx.messages", len(req.Messages)),
	))
	defer span.End()

	if err := r.global.Acquire(ctx, 1); err != nil {
		return
	}
	defer r.global.Release(1)

	summary := r.m.modelSummarizer(ctx, threadID, &cfg).Summarize(ctx, req)
	if summary.Source != types.SourceModel {
		// The rule-based result is no better than what assembly produces.
		span.SetAttributes(attribute.Bool("agentctx.fallback", true))
		return
	}
	summary.Generation = gen

	stored, err := r.apply(ctx, threadID, gen, summary)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.m.persistFailed(ctx, threadID, "StoreSummary", err)
		return
	}

	r.m.logger.Debug("summary refreshed",
		"thread_id", threadID,
		"generation", stored.Generation,
		"turn_end", stored.TurnRange.End,
	)
	if err := r.m.hooks.TriggerSummaryRefreshed(ctx, threadID, stored); err != nil {
		r.m.logger.Warn("summary refreshed hook failed", "thread_id", threadID, "error", err)
	}
}

// apply stores summary under the thread lock. A result newer than the stored
// summary is merged over it; a stale one only fills gaps.
func (r *refresher) apply(ctx context.Context, threadID string, gen uint64, summary *types.StructuredSummary) (*types.StructuredSummary, error) {
	unlock := r.m.locks.lock(threadID)
	defer unlock()

	current, err := r.m.store.LoadSummary(ctx, threadID)
	if err != nil {
		return nil, err
	}

	merged := summary
	switch {
	case current == nil:
	case current.Generation < gen:
		merged = compaction.MergeSummaries(summary, current)
	default:
		merged = compaction.MergeSummaries(current, summary)
	}

	if err := r.m.store.StoreSummary(ctx, threadID, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// close stops new refreshes and waits for running ones. When ctx ends first
// the running refreshes are cancelled and ctx.Err is returned once they exit.
func (r *refresher) close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
