package driver

import "context"

// Row is a single result row. pgx.Row and *sql.Row both satisfy it.
type Row interface {
	Scan(dest ...any) error
}

// Rows is a result set. Drivers wrap pgx.Rows and *sql.Rows to satisfy it.
type Rows interface {
	Close()
	Err() error
	Next() bool
	Scan(dest ...any) error
}

// Executor runs SQL against a pool or a transaction.
type Executor interface {
	// Begin starts a transaction, or a savepoint when called on a transaction.
	Begin(ctx context.Context) (ExecutorTx, error)

	// Exec runs a statement and returns the number of rows affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// ExecutorTx is an Executor bound to an open transaction.
type ExecutorTx interface {
	Executor

	// Commit commits the transaction, or releases the savepoint.
	Commit(ctx context.Context) error

	// Rollback rolls back the transaction, or to the savepoint.
	Rollback(ctx context.Context) error
}

// BatchItem is one statement of a batch.
type BatchItem struct {
	Query string
	Args  []any
}

// BatchExecutor is implemented by executors that can send several statements
// in one round trip. pgx/v5 batches natively; database/sql runs the items in
// order.
type BatchExecutor interface {
	Executor

	// SendBatch runs items and returns the rows affected by each.
	SendBatch(ctx context.Context, items []BatchItem) ([]int64, error)
}

// ArrayArg converts a string slice into a query argument for "= ANY($n)".
// pgx encodes []string directly; lib/pq needs pq.Array.
type ArrayArg func([]string) any

// PassArray returns ids unchanged.
func PassArray(ids []string) any { return ids }
