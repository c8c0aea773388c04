// Package hooks lets callers observe the lifecycle of context assembly:
// assemblies, summary refreshes, fallbacks, handoffs and persistence
// failures. LoggingHooks and MetricsHooks are ready-made observers.
package hooks

import (
	"context"
	"sync"
	"time"

	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/types"
)

// AssembleEvent describes one completed assembly.
type AssembleEvent struct {
	ThreadID         string
	Level            types.CompressionLevel
	Ratio            float64
	EstimatedTokens  int
	PrunedResults    int
	Truncated        int
	Dropped          int
	SummaryFromCache bool
	HandoffRequired  bool
	Duration         time.Duration
	Steps            []compaction.LevelStep
}

// BeforeAssembleHook is called before a thread is assembled. An error aborts
// the assembly.
type BeforeAssembleHook func(ctx context.Context, threadID string) error

// AfterAssembleHook is called after a thread is assembled
type AfterAssembleHook func(ctx context.Context, event *AssembleEvent) error

// SummaryRefreshedHook is called after a background summary is stored
type SummaryRefreshedHook func(ctx context.Context, threadID string, summary *types.StructuredSummary) error

// SummaryFallbackHook is called when a model summary degrades to rules
type SummaryFallbackHook func(ctx context.Context, threadID string, mode compaction.SummaryMode, err error) error

// HandoffRequiredHook is called when a thread reaches level 4
type HandoffRequiredHook func(ctx context.Context, threadID string, summary *types.StructuredSummary) error

// HandoffConsumedHook is called after a handoff document seeds a new thread
type HandoffConsumedHook func(ctx context.Context, doc *types.HandoffDocument, newThreadID string) error

// PersistFailureHook is called when writing assembly results fails.
// op names the store operation.
type PersistFailureHook func(ctx context.Context, threadID, op string, err error) error

// Registry holds all registered hooks
type Registry struct {
	mu               sync.RWMutex
	beforeAssemble   []BeforeAssembleHook
	afterAssemble    []AfterAssembleHook
	summaryRefreshed []SummaryRefreshedHook
	summaryFallback  []SummaryFallbackHook
	handoffRequired  []HandoffRequiredHook
	handoffConsumed  []HandoffConsumedHook
	persistFailure   []PersistFailureHook
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{}
}

// OnBeforeAssemble registers a hook to be called before assembly
func (r *Registry) OnBeforeAssemble(hook BeforeAssembleHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeAssemble = append(r.beforeAssemble, hook)
}

// OnAfterAssemble registers a hook to be called after assembly
func (r *Registry) OnAfterAssemble(hook AfterAssembleHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterAssemble = append(r.afterAssemble, hook)
}

// OnSummaryRefreshed registers a hook to be called after a background refresh
func (r *Registry) OnSummaryRefreshed(hook SummaryRefreshedHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaryRefreshed = append(r.summaryRefreshed, hook)
}

// OnSummaryFallback registers a hook to be called on summary fallback
func (r *Registry) OnSummaryFallback(hook SummaryFallbackHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaryFallback = append(r.summaryFallback, hook)
}

// OnHandoffRequired registers a hook to be called when a handoff becomes required
func (r *Registry) OnHandoffRequired(hook HandoffRequiredHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handoffRequired = append(r.handoffRequired, hook)
}

// OnHandoffConsumed registers a hook to be called after a handoff is consumed
func (r *Registry) OnHandoffConsumed(hook HandoffConsumedHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handoffConsumed = append(r.handoffConsumed, hook)
}

// OnPersistFailure registers a hook to be called when persistence fails
func (r *Registry) OnPersistFailure(hook PersistFailureHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistFailure = append(r.persistFailure, hook)
}

// snapshot copies the hooks picked by list under the read lock so they run
// without holding it.
func snapshot[H any](r *Registry, list func(*Registry) []H) []H {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hooks := list(r)
	out := make([]H, len(hooks))
	copy(out, hooks)
	return out
}

// TriggerBeforeAssemble calls all registered before-assemble hooks
func (r *Registry) TriggerBeforeAssemble(ctx context.Context, threadID string) error {
	for _, hook := range snapshot(r, func(r *Registry) []BeforeAssembleHook { return r.beforeAssemble }) {
		if err := hook(ctx, threadID); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterAssemble calls all registered after-assemble hooks
func (r *Registry) TriggerAfterAssemble(ctx context.Context, event *AssembleEvent) error {
	for _, hook := range snapshot(r, func(r *Registry) []AfterAssembleHook { return r.afterAssemble }) {
		if err := hook(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// TriggerSummaryRefreshed calls all registered summary-refreshed hooks
func (r *Registry) TriggerSummaryRefreshed(ctx context.Context, threadID string, summary *types.StructuredSummary) error {
	for _, hook := range snapshot(r, func(r *Registry) []SummaryRefreshedHook { return r.summaryRefreshed }) {
		if err := hook(ctx, threadID, summary); err != nil {
			return err
		}
	}
	return nil
}

// TriggerSummaryFallback calls all registered summary-fallback hooks
func (r *Registry) TriggerSummaryFallback(ctx context.Context, threadID string, mode compaction.SummaryMode, err error) error {
	for _, hook := range snapshot(r, func(r *Registry) []SummaryFallbackHook { return r.summaryFallback }) {
		if hookErr := hook(ctx, threadID, mode, err); hookErr != nil {
			return hookErr
		}
	}
	return nil
}

// TriggerHandoffRequired calls all registered handoff-required hooks
func (r *Registry) TriggerHandoffRequired(ctx context.Context, threadID string, summary *types.StructuredSummary) error {
	for _, hook := range snapshot(r, func(r *Registry) []HandoffRequiredHook { return r.handoffRequired }) {
		if err := hook(ctx, threadID, summary); err != nil {
			return err
		}
	}
	return nil
}

// TriggerHandoffConsumed calls all registered handoff-consumed hooks
func (r *Registry) TriggerHandoffConsumed(ctx context.Context, doc *types.HandoffDocument, newThreadID string) error {
	for _, hook := range snapshot(r, func(r *Registry) []HandoffConsumedHook { return r.handoffConsumed }) {
		if err := hook(ctx, doc, newThreadID); err != nil {
			return err
		}
	}
	return nil
}

// TriggerPersistFailure calls all registered persist-failure hooks
func (r *Registry) TriggerPersistFailure(ctx context.Context, threadID, op string, err error) error {
	for _, hook := range snapshot(r, func(r *Registry) []PersistFailureHook { return r.persistFailure }) {
		if hookErr := hook(ctx, threadID, op, err); hookErr != nil {
			return hookErr
		}
	}
	return nil
}
