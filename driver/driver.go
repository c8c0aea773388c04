// Package driver defines persistence for agentctx.
//
// Store is the interface the Manager persists through. Implementations live
// in subpackages:
//   - driver/pgxv5: PostgreSQL through a pgx/v5 pool
//   - driver/databasesql: PostgreSQL through database/sql and lib/pq
//   - driver/redisstore: Redis through go-redis/v9
//   - driver/memory: in-process, for tests and single-process use
//
// The SQL implementations share driver/sqlstore, which runs its queries
// through the Executor abstraction so one Store works over either driver and
// inside caller-provided transactions (see WithExecutor).
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/youssefsiam38/agentctx/types"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrThreadNotFound is returned by LoadThread for an unknown thread.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrHandoffNotFound is returned when no pending handoff exists.
	ErrHandoffNotFound = errors.New("handoff not found")

	// ErrHandoffConsumed is returned when a handoff was already consumed by a
	// different thread.
	ErrHandoffConsumed = errors.New("handoff already consumed")
)

// Store persists conversation logs, summaries, thread state and handoff
// documents. Every method is safe for concurrent use and idempotent: repeating
// a call with the same arguments leaves the same state.
type Store interface {
	// ReadLog returns the thread's log, oldest first. An unknown thread has an
	// empty log.
	ReadLog(ctx context.Context, threadID string) (types.ConversationLog, error)

	// AppendMessages appends messages to the thread's log. Messages whose ID is
	// already stored are skipped.
	AppendMessages(ctx context.Context, threadID string, messages ...types.Message) error

	// MarkCompacted sets the compacted time on the listed tool messages that
	// are not yet compacted, and returns how many changed.
	MarkCompacted(ctx context.Context, threadID string, ids []string, at time.Time) (int, error)

	// StoreSummary replaces the thread's stored summary.
	StoreSummary(ctx context.Context, threadID string, summary *types.StructuredSummary) error

	// LoadSummary returns the thread's stored summary, or nil if there is none.
	LoadSummary(ctx context.Context, threadID string) (*types.StructuredSummary, error)

	// LoadThread returns the thread's state or ErrThreadNotFound.
	LoadThread(ctx context.Context, threadID string) (*types.ThreadState, error)

	// SaveThread upserts the thread's state.
	SaveThread(ctx context.Context, state *types.ThreadState) error

	// SaveHandoff stores a handoff document. Saving a document with an ID that
	// already exists leaves the stored document unchanged.
	SaveHandoff(ctx context.Context, doc *types.HandoffDocument) error

	// PendingHandoff returns the newest unconsumed handoff created from the
	// thread, or ErrHandoffNotFound.
	PendingHandoff(ctx context.Context, fromThreadID string) (*types.HandoffDocument, error)

	// ConsumeHandoff marks the document consumed by newThreadID and reports
	// whether this call consumed it. Consuming it again with the same thread
	// returns false; with another thread it returns ErrHandoffConsumed. An
	// unknown ID returns ErrHandoffNotFound.
	ConsumeHandoff(ctx context.Context, handoffID, newThreadID string, at time.Time) (bool, error)
}

// Driver provides database access for the SQL stores.
// TTx is the native transaction type (pgx.Tx for pgx/v5, *sql.Tx for database/sql).
//
// Implementations are created with the driver-specific New functions:
//   - github.com/youssefsiam38/agentctx/driver/pgxv5.New(pool)
//   - github.com/youssefsiam38/agentctx/driver/databasesql.New(db)
type Driver[TTx any] interface {
	// GetExecutor returns an executor for non-transactional operations.
	GetExecutor() Executor

	// UnwrapExecutor converts a native transaction to an ExecutorTx so store
	// calls can join a transaction the caller opened.
	UnwrapExecutor(tx TTx) ExecutorTx

	// UnwrapTx extracts the native transaction from an ExecutorTx.
	UnwrapTx(execTx ExecutorTx) TTx

	// Begin starts a new transaction.
	Begin(ctx context.Context) (ExecutorTx, error)

	// PoolIsSet reports whether the driver has a connection pool.
	PoolIsSet() bool

	// GetStore returns a Store backed by this driver.
	GetStore() Store

	// GetNotifier returns a Notifier that sends through this driver's pool.
	GetNotifier() Notifier
}
