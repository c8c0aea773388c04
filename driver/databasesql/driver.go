// Package databasesql stores agentctx threads in PostgreSQL through
// database/sql and lib/pq.
//
// Usage:
//
//	db, _ := sql.Open("postgres", databaseURL)
//	drv := databasesql.New(db)
//	_ = sqlstore.Migrate(ctx, drv.GetExecutor())
//	mgr, _ := agentctx.NewManager(drv.GetStore(), cfg)
package databasesql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/lib/pq"
	"github.com/youssefsiam38/agentctx/driver"
	"github.com/youssefsiam38/agentctx/driver/sqlstore"
)

// Driver implements driver.Driver for database/sql.
type Driver struct {
	db     *sql.DB
	logger driver.Logger
}

// New creates a driver over db. The db should be opened with the "postgres"
// driver registered by lib/pq.
func New(db *sql.DB) *Driver {
	return &Driver{db: db}
}

// WithLogger reports notifications the store failed to send.
func (d *Driver) WithLogger(l driver.Logger) *Driver {
	d.logger = l
	return d
}

// GetExecutor returns an executor for non-transactional operations.
func (d *Driver) GetExecutor() driver.Executor {
	return &Executor{db: d.db}
}

// UnwrapExecutor converts a *sql.Tx to an ExecutorTx.
func (d *Driver) UnwrapExecutor(tx *sql.Tx) driver.ExecutorTx {
	return &ExecutorTx{tx: tx}
}

// UnwrapTx extracts the *sql.Tx from an ExecutorTx.
func (d *Driver) UnwrapTx(execTx driver.ExecutorTx) *sql.Tx {
	return execTx.(*ExecutorTx).tx
}

// Begin starts a new transaction.
func (d *Driver) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &ExecutorTx{tx: tx}, nil
}

// PoolIsSet returns true if the driver has a database configured.
func (d *Driver) PoolIsSet() bool {
	return d.db != nil
}

// GetStore returns a Store that converts ID lists with pq.Array.
func (d *Driver) GetStore() driver.Store {
	return sqlstore.New(d.GetExecutor(), sqlstore.Options{
		Array:    func(ids []string) any { return pq.Array(ids) },
		IsNoRows: func(err error) bool { return errors.Is(err, sql.ErrNoRows) },
		Notifier: d.GetNotifier(),
		Logger:   d.logger,
	})
}

// GetNotifier returns a Notifier using pg_notify.
func (d *Driver) GetNotifier() driver.Notifier {
	return &Notifier{db: d.db}
}

// DB returns the underlying database.
func (d *Driver) DB() *sql.DB {
	return d.db
}

// Executor wraps *sql.DB.
type Executor struct {
	db *sql.DB
}

// Begin starts a new transaction.
func (e *Executor) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &ExecutorTx{tx: tx}, nil
}

// Exec executes a query that doesn't return rows.
func (e *Executor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Query executes a query that returns rows.
func (e *Executor) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowsWrapper{rows}, nil
}

// QueryRow executes a query that returns at most one row.
func (e *Executor) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return e.db.QueryRowContext(ctx, query, args...)
}

// savepointSeq names savepoints uniquely within a process.
var savepointSeq atomic.Uint64

// ExecutorTx wraps *sql.Tx. Nested Begin calls create savepoints.
type ExecutorTx struct {
	tx        *sql.Tx
	savepoint string
	done      bool
}

// Begin creates a savepoint inside the transaction.
func (e *ExecutorTx) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	name := fmt.Sprintf("agentctx_sp_%d", savepointSeq.Add(1))
	if _, err := e.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, err
	}
	return &ExecutorTx{tx: e.tx, savepoint: name}, nil
}

// Exec executes a query that doesn't return rows within the transaction.
func (e *ExecutorTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := e.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Query executes a query that returns rows within the transaction.
func (e *ExecutorTx) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	rows, err := e.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowsWrapper{rows}, nil
}

// QueryRow executes a query that returns at most one row within the transaction.
func (e *ExecutorTx) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return e.tx.QueryRowContext(ctx, query, args...)
}

// Commit commits the transaction or releases the savepoint.
func (e *ExecutorTx) Commit(ctx context.Context) error {
	e.done = true
	if e.savepoint != "" {
		_, err := e.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+e.savepoint)
		return err
	}
	return e.tx.Commit()
}

// Rollback rolls back the transaction or to the savepoint. Rolling back after
// Commit is a no-op, so it can be deferred.
func (e *ExecutorTx) Rollback(ctx context.Context) error {
	if e.done {
		return nil
	}
	e.done = true
	if e.savepoint != "" {
		_, err := e.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+e.savepoint)
		return err
	}
	if err := e.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// rowsWrapper adapts *sql.Rows to driver.Rows.
type rowsWrapper struct {
	rows *sql.Rows
}

func (r *rowsWrapper) Close()                 { _ = r.rows.Close() }
func (r *rowsWrapper) Err() error             { return r.rows.Err() }
func (r *rowsWrapper) Next() bool             { return r.rows.Next() }
func (r *rowsWrapper) Scan(dest ...any) error { return r.rows.Scan(dest...) }

// Compile-time checks
var (
	_ driver.Driver[*sql.Tx] = (*Driver)(nil)
	_ driver.Executor        = (*Executor)(nil)
	_ driver.ExecutorTx      = (*ExecutorTx)(nil)
)
