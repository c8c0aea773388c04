// Package memory implements driver.Store in process memory. It suits tests,
// the CLI and single-process deployments; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/youssefsiam38/agentctx/driver"
	"github.com/youssefsiam38/agentctx/types"
)

type thread struct {
	log   types.ConversationLog
	ids   map[string]struct{}
	state *types.ThreadState
}

// Store is a mutex-guarded in-memory driver.Store. Values are copied on the
// way in and out so callers never share state with the store.
type Store struct {
	mu        sync.RWMutex
	threads   map[string]*thread
	summaries map[string]*types.StructuredSummary
	handoffs  map[string]*types.HandoffDocument
	notifier  driver.Notifier
	logger    driver.Logger
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		threads:   make(map[string]*thread),
		summaries: make(map[string]*types.StructuredSummary),
		handoffs:  make(map[string]*types.HandoffDocument),
	}
}

// WithNotifier sends ChannelSummaryStored and ChannelHandoffCreated
// notifications to n.
func (s *Store) WithNotifier(n driver.Notifier) *Store {
	s.notifier = n
	return s
}

// WithLogger reports notifications the notifier failed to send.
func (s *Store) WithLogger(l driver.Logger) *Store {
	s.logger = l
	return s
}

func (s *Store) notify(ctx context.Context, channel, payload string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, channel, payload); err != nil && s.logger != nil {
		s.logger.Warn("failed to send notification", "channel", channel, "thread_id", payload, "error", err)
	}
}

// threadLocked returns the thread, creating it. s.mu must be held for writing.
func (s *Store) threadLocked(threadID string) *thread {
	th, ok := s.threads[threadID]
	if !ok {
		th = &thread{ids: make(map[string]struct{})}
		s.threads[threadID] = th
	}
	return th
}

// ReadLog returns a copy of the thread's messages.
func (s *Store) ReadLog(_ context.Context, threadID string) (types.ConversationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	th, ok := s.threads[threadID]
	if !ok {
		return nil, nil
	}
	return th.log.Clone(), nil
}

// AppendMessages appends copies of messages whose IDs are not yet stored.
func (s *Store) AppendMessages(_ context.Context, threadID string, messages ...types.Message) error {
	if len(messages) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	th := s.threadLocked(threadID)
	for _, m := range messages {
		if _, dup := th.ids[m.MessageID()]; dup {
			continue
		}
		th.ids[m.MessageID()] = struct{}{}
		th.log = append(th.log, types.CloneMessage(m))
	}
	return nil
}

// MarkCompacted stamps the listed tool messages that are not yet compacted.
func (s *Store) MarkCompacted(_ context.Context, threadID string, ids []string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[threadID]
	if !ok {
		return 0, nil
	}
	return th.log.MarkCompacted(ids, at), nil
}

// StoreSummary replaces the thread's summary.
func (s *Store) StoreSummary(ctx context.Context, threadID string, summary *types.StructuredSummary) error {
	if summary == nil {
		return fmt.Errorf("summary is required")
	}
	s.mu.Lock()
	s.summaries[threadID] = summary.Clone()
	s.mu.Unlock()

	s.notify(ctx, driver.ChannelSummaryStored, threadID)
	return nil
}

// LoadSummary returns the stored summary or nil.
func (s *Store) LoadSummary(_ context.Context, threadID string) (*types.StructuredSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaries[threadID].Clone(), nil
}

// LoadThread returns the thread's state or driver.ErrThreadNotFound.
func (s *Store) LoadThread(_ context.Context, threadID string) (*types.ThreadState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	th, ok := s.threads[threadID]
	if !ok || th.state == nil {
		return nil, fmt.Errorf("%w: %s", driver.ErrThreadNotFound, threadID)
	}
	return cloneState(th.state), nil
}

// SaveThread replaces the thread's state.
func (s *Store) SaveThread(_ context.Context, state *types.ThreadState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadLocked(state.ThreadID).state = cloneState(state)
	return nil
}

// SaveHandoff stores doc unless its ID is already stored.
func (s *Store) SaveHandoff(ctx context.Context, doc *types.HandoffDocument) error {
	s.mu.Lock()
	_, exists := s.handoffs[doc.ID]
	if !exists {
		s.handoffs[doc.ID] = cloneHandoff(doc)
	}
	s.mu.Unlock()

	if !exists {
		s.notify(ctx, driver.ChannelHandoffCreated, doc.FromSessionID)
	}
	return nil
}

// PendingHandoff returns the newest unconsumed document from the thread.
func (s *Store) PendingHandoff(_ context.Context, fromThreadID string) (*types.HandoffDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *types.HandoffDocument
	for _, doc := range s.handoffs {
		if doc.FromSessionID != fromThreadID || doc.Consumed() {
			continue
		}
		if newest == nil || doc.CreatedAt.After(newest.CreatedAt) {
			newest = doc
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("%w: thread %s", driver.ErrHandoffNotFound, fromThreadID)
	}
	return cloneHandoff(newest), nil
}

// ConsumeHandoff marks the document consumed by newThreadID. Consuming it
// again for the same thread is a no-op.
func (s *Store) ConsumeHandoff(_ context.Context, handoffID, newThreadID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.handoffs[handoffID]
	if !ok {
		return false, fmt.Errorf("%w: %s", driver.ErrHandoffNotFound, handoffID)
	}
	if doc.Consumed() {
		if doc.ConsumedBy == newThreadID {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s", driver.ErrHandoffConsumed, handoffID)
	}
	consumedAt := at
	doc.ConsumedAt = &consumedAt
	doc.ConsumedBy = newThreadID
	return true, nil
}

func cloneState(st *types.ThreadState) *types.ThreadState {
	c := *st
	c.HandoffSummary = st.HandoffSummary.Clone()
	return &c
}

func cloneHandoff(doc *types.HandoffDocument) *types.HandoffDocument {
	c := *doc
	c.Summary = doc.Summary.Clone()
	c.KeyFileSnapshots = append([]types.KeyFileSnapshot(nil), doc.KeyFileSnapshots...)
	c.SuggestedNextSteps = append([]string(nil), doc.SuggestedNextSteps...)
	if doc.ConsumedAt != nil {
		at := *doc.ConsumedAt
		c.ConsumedAt = &at
	}
	return &c
}

// Compile-time check
var _ driver.Store = (*Store)(nil)
