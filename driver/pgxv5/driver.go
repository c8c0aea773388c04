// Package pgxv5 stores agentctx threads in PostgreSQL through a pgx/v5 pool.
//
// It is the recommended driver: message appends are sent as a single batch,
// nested transactions use savepoints, and a dedicated LISTEN connection is
// available for handoff and summary notifications.
//
// Usage:
//
//	pool, _ := pgxpool.New(ctx, databaseURL)
//	drv := pgxv5.New(pool)
//	_ = sqlstore.Migrate(ctx, drv.GetExecutor())
//	mgr, _ := agentctx.NewManager(drv.GetStore(), cfg)
package pgxv5

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/youssefsiam38/agentctx/driver"
	"github.com/youssefsiam38/agentctx/driver/sqlstore"
)

// Driver implements driver.Driver for pgx/v5.
type Driver struct {
	pool   *pgxpool.Pool
	logger driver.Logger
}

// New creates a new pgx/v5 driver with the given connection pool.
func New(pool *pgxpool.Pool) *Driver {
	return &Driver{pool: pool}
}

// WithLogger reports notifications the store failed to send.
func (d *Driver) WithLogger(l driver.Logger) *Driver {
	d.logger = l
	return d
}

// GetExecutor returns an executor for non-transactional operations.
func (d *Driver) GetExecutor() driver.Executor {
	return &Executor{conn: d.pool}
}

// UnwrapExecutor converts a pgx.Tx to an ExecutorTx.
func (d *Driver) UnwrapExecutor(tx pgx.Tx) driver.ExecutorTx {
	return newExecutorTx(tx)
}

// UnwrapTx extracts the pgx.Tx from an ExecutorTx.
func (d *Driver) UnwrapTx(execTx driver.ExecutorTx) pgx.Tx {
	return execTx.(*ExecutorTx).tx
}

// Begin starts a new transaction and returns an ExecutorTx.
func (d *Driver) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	return d.GetExecutor().Begin(ctx)
}

// PoolIsSet returns true if the driver has a database pool configured.
func (d *Driver) PoolIsSet() bool {
	return d.pool != nil
}

// GetStore returns a Store that notifies through this driver's pool.
func (d *Driver) GetStore() driver.Store {
	return sqlstore.New(d.GetExecutor(), sqlstore.Options{
		IsNoRows: isNoRows,
		Notifier: d.GetNotifier(),
		Logger:   d.logger,
	})
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Pool returns the underlying pool.
func (d *Driver) Pool() *pgxpool.Pool {
	return d.pool
}

// GetListener acquires a dedicated connection for LISTEN. Close the
// returned Listener to release it.
func (d *Driver) GetListener(ctx context.Context) (driver.Listener, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Listener{conn: conn}, nil
}

// GetNotifier returns a Notifier for sending PostgreSQL notifications.
func (d *Driver) GetNotifier() driver.Notifier {
	return &Notifier{pool: d.pool}
}

// conn is the part of the pgx API shared by *pgxpool.Pool and pgx.Tx.
type conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Executor runs statements on the pool, or on a transaction when it is the
// embedded half of an ExecutorTx.
type Executor struct {
	conn conn
}

func (e *Executor) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	tx, err := e.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return newExecutorTx(tx), nil
}

func (e *Executor) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := e.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (e *Executor) Query(ctx context.Context, sql string, args ...any) (driver.Rows, error) {
	rows, err := e.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &rowsWrapper{rows}, nil
}

func (e *Executor) QueryRow(ctx context.Context, sql string, args ...any) driver.Row {
	return e.conn.QueryRow(ctx, sql, args...)
}

// SendBatch queues every item on one pgx.Batch and reads the results in
// order. The first failing item aborts the rest.
func (e *Executor) SendBatch(ctx context.Context, items []driver.BatchItem) (affected []int64, err error) {
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(item.Query, item.Args...)
	}

	br := e.conn.SendBatch(ctx, batch)
	defer func() {
		if cerr := br.Close(); err == nil {
			err = cerr
		}
	}()

	affected = make([]int64, 0, len(items))
	for range items {
		tag, err := br.Exec()
		if err != nil {
			return nil, err
		}
		affected = append(affected, tag.RowsAffected())
	}
	return affected, nil
}

// ExecutorTx is an Executor bound to a pgx.Tx. Begin on it opens a savepoint.
type ExecutorTx struct {
	Executor
	tx pgx.Tx
}

func newExecutorTx(tx pgx.Tx) *ExecutorTx {
	return &ExecutorTx{Executor: Executor{conn: tx}, tx: tx}
}

func (e *ExecutorTx) Commit(ctx context.Context) error   { return e.tx.Commit(ctx) }
func (e *ExecutorTx) Rollback(ctx context.Context) error { return e.tx.Rollback(ctx) }

// Tx returns the underlying transaction.
func (e *ExecutorTx) Tx() pgx.Tx {
	return e.tx
}

// rowsWrapper adapts pgx.Rows to driver.Rows.
type rowsWrapper struct {
	pgx.Rows
}

// Compile-time checks
var (
	_ driver.Driver[pgx.Tx] = (*Driver)(nil)
	_ driver.BatchExecutor  = (*Executor)(nil)
	_ driver.BatchExecutor  = (*ExecutorTx)(nil)
	_ driver.Rows           = (*rowsWrapper)(nil)
)
