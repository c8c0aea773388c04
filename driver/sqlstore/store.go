// Package sqlstore implements driver.Store on PostgreSQL through the
// driver.Executor abstraction. driver/pgxv5 and driver/databasesql construct
// it with their own executors.
package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/youssefsiam38/agentctx/driver"
	"github.com/youssefsiam38/agentctx/types"
)

// Options adapts the Store to a driver.
type Options struct {
	// Array converts ID lists for "= ANY($n)". Default: driver.PassArray.
	Array driver.ArrayArg

	// IsNoRows reports whether err means a QueryRow matched nothing. Required.
	IsNoRows func(error) bool

	// Notifier, when set, is sent ChannelSummaryStored and
	// ChannelHandoffCreated notifications. A failed notification does not
	// fail the write.
	Notifier driver.Notifier

	// Logger, when set, reports failed notifications.
	Logger driver.Logger
}

// Store implements driver.Store.
type Store struct {
	exec     driver.Executor
	array    driver.ArrayArg
	isNoRows func(error) bool
	notifier driver.Notifier
	logger   driver.Logger
}

// New creates a Store that runs on exec unless the context carries a
// transaction (see driver.WithExecutor).
func New(exec driver.Executor, opts Options) *Store {
	if opts.Array == nil {
		opts.Array = driver.PassArray
	}
	return &Store{
		exec:     exec,
		array:    opts.Array,
		isNoRows: opts.IsNoRows,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
}

// getExecutor returns the executor from context if present, otherwise the default executor.
func (s *Store) getExecutor(ctx context.Context) driver.Executor {
	if exec := driver.ExecutorFromContext(ctx); exec != nil {
		return exec
	}
	return s.exec
}

func (s *Store) notify(ctx context.Context, channel, payload string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, channel, payload); err != nil && s.logger != nil {
		s.logger.Warn("failed to send notification", "channel", channel, "thread_id", payload, "error", err)
	}
}

// ReadLog returns the thread's messages in append order.
func (s *Store) ReadLog(ctx context.Context, threadID string) (types.ConversationLog, error) {
	query := `
		SELECT data, compacted_at
		FROM agentctx_messages
		WHERE thread_id = $1
		ORDER BY seq
	`

	rows, err := s.getExecutor(ctx).Query(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var log types.ConversationLog
	for rows.Next() {
		var (
			data        []byte
			compactedAt *time.Time
		)
		if err := rows.Scan(&data, &compactedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg, err := types.UnmarshalMessage(data)
		if err != nil {
			return nil, err
		}
		if tm, ok := msg.(*types.ToolMessage); ok && compactedAt != nil {
			at := compactedAt.UTC()
			tm.CompactedAt = &at
		}
		log = append(log, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return log, nil
}

const insertMessageQuery = `
	INSERT INTO agentctx_messages (thread_id, id, role, data, compacted_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (thread_id, id) DO NOTHING
`

// AppendMessages inserts messages in order. Already stored IDs are skipped.
// Executors that batch send every insert in one round trip; others run them
// in a transaction.
func (s *Store) AppendMessages(ctx context.Context, threadID string, messages ...types.Message) error {
	if len(messages) == 0 {
		return nil
	}

	items := make([]driver.BatchItem, 0, len(messages))
	for _, m := range messages {
		data, err := types.MarshalMessage(m)
		if err != nil {
			return err
		}
		var compactedAt *time.Time
		if tm, ok := m.(*types.ToolMessage); ok {
			compactedAt = tm.CompactedAt
		}
		items = append(items, driver.BatchItem{
			Query: insertMessageQuery,
			Args:  []any{threadID, m.MessageID(), string(m.Role()), string(data), compactedAt, m.Time()},
		})
	}

	exec := s.getExecutor(ctx)
	if batch, ok := exec.(driver.BatchExecutor); ok {
		if _, err := batch.SendBatch(ctx, items); err != nil {
			return fmt.Errorf("failed to append messages: %w", err)
		}
		return nil
	}

	tx, err := exec.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, item := range items {
		if _, err := tx.Exec(ctx, item.Query, item.Args...); err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

// MarkCompacted stamps the listed tool messages that are not yet compacted.
func (s *Store) MarkCompacted(ctx context.Context, threadID string, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE agentctx_messages
		SET compacted_at = $3
		WHERE thread_id = $1
		  AND id = ANY($2)
		  AND role = 'tool'
		  AND compacted_at IS NULL
	`

	n, err := s.getExecutor(ctx).Exec(ctx, query, threadID, s.array(ids), at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages compacted: %w", err)
	}
	return int(n), nil
}

// StoreSummary upserts the thread's summary.
func (s *Store) StoreSummary(ctx context.Context, threadID string, summary *types.StructuredSummary) error {
	if summary == nil {
		return fmt.Errorf("summary is required")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	query := `
		INSERT INTO agentctx_summaries (thread_id, summary, generation, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (thread_id) DO UPDATE
		SET summary = EXCLUDED.summary,
		    generation = EXCLUDED.generation,
		    updated_at = NOW()
	`

	if _, err := s.getExecutor(ctx).Exec(ctx, query, threadID, string(data), int64(summary.Generation)); err != nil {
		return fmt.Errorf("failed to store summary: %w", err)
	}
	s.notify(ctx, driver.ChannelSummaryStored, threadID)
	return nil
}

// LoadSummary returns the stored summary or nil.
func (s *Store) LoadSummary(ctx context.Context, threadID string) (*types.StructuredSummary, error) {
	var data []byte
	err := s.getExecutor(ctx).QueryRow(ctx, `SELECT summary FROM agentctx_summaries WHERE thread_id = $1`, threadID).Scan(&data)
	if s.isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}

	var summary types.StructuredSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return &summary, nil
}

// LoadThread returns the thread's state or driver.ErrThreadNotFound.
func (s *Store) LoadThread(ctx context.Context, threadID string) (*types.ThreadState, error) {
	var data []byte
	err := s.getExecutor(ctx).QueryRow(ctx, `SELECT state FROM agentctx_threads WHERE thread_id = $1`, threadID).Scan(&data)
	if s.isNoRows(err) {
		return nil, fmt.Errorf("%w: %s", driver.ErrThreadNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}

	var state types.ThreadState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal thread state: %w", err)
	}
	return &state, nil
}

// SaveThread upserts the thread's state.
func (s *Store) SaveThread(ctx context.Context, state *types.ThreadState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal thread state: %w", err)
	}
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		INSERT INTO agentctx_threads (thread_id, state, handoff_required, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (thread_id) DO UPDATE
		SET state = EXCLUDED.state,
		    handoff_required = EXCLUDED.handoff_required,
		    updated_at = EXCLUDED.updated_at
	`

	if _, err := s.getExecutor(ctx).Exec(ctx, query, state.ThreadID, string(data), state.HandoffRequired, updatedAt); err != nil {
		return fmt.Errorf("failed to save thread: %w", err)
	}
	return nil
}

// SaveHandoff inserts doc unless its ID is already stored.
func (s *Store) SaveHandoff(ctx context.Context, doc *types.HandoffDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal handoff: %w", err)
	}

	query := `
		INSERT INTO agentctx_handoffs (id, from_thread_id, document, created_at, consumed_at, consumed_by)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		ON CONFLICT (id) DO NOTHING
	`

	n, err := s.getExecutor(ctx).Exec(ctx, query, doc.ID, doc.FromSessionID, string(data), doc.CreatedAt, doc.ConsumedAt, doc.ConsumedBy)
	if err != nil {
		return fmt.Errorf("failed to save handoff: %w", err)
	}
	if n > 0 {
		s.notify(ctx, driver.ChannelHandoffCreated, doc.FromSessionID)
	}
	return nil
}

// PendingHandoff returns the newest unconsumed document from the thread.
func (s *Store) PendingHandoff(ctx context.Context, fromThreadID string) (*types.HandoffDocument, error) {
	query := `
		SELECT document
		FROM agentctx_handoffs
		WHERE from_thread_id = $1 AND consumed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`

	var data []byte
	err := s.getExecutor(ctx).QueryRow(ctx, query, fromThreadID).Scan(&data)
	if s.isNoRows(err) {
		return nil, fmt.Errorf("%w: thread %s", driver.ErrHandoffNotFound, fromThreadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending handoff: %w", err)
	}

	var doc types.HandoffDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal handoff: %w", err)
	}
	return &doc, nil
}

// ConsumeHandoff marks the document consumed by newThreadID.
func (s *Store) ConsumeHandoff(ctx context.Context, handoffID, newThreadID string, at time.Time) (bool, error) {
	exec := s.getExecutor(ctx)

	query := `
		UPDATE agentctx_handoffs
		SET consumed_at = $3, consumed_by = $2
		WHERE id = $1 AND consumed_at IS NULL
	`
	n, err := exec.Exec(ctx, query, handoffID, newThreadID, at)
	if err != nil {
		return false, fmt.Errorf("failed to consume handoff: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var consumedBy *string
	err = exec.QueryRow(ctx, `SELECT consumed_by FROM agentctx_handoffs WHERE id = $1`, handoffID).Scan(&consumedBy)
	if s.isNoRows(err) {
		return false, fmt.Errorf("%w: %s", driver.ErrHandoffNotFound, handoffID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to load handoff: %w", err)
	}
	if consumedBy != nil && *consumedBy == newThreadID {
		return false, nil
	}
	return false, fmt.Errorf("%w: %s", driver.ErrHandoffConsumed, handoffID)
}

// Compile-time check
var _ driver.Store = (*Store)(nil)
