package driver

import "context"

type executorTxContextKey struct{}

// WithExecutor returns a context carrying tx. SQL store calls made with the
// returned context run inside tx instead of on the pool, so appending
// messages can commit atomically with the caller's own writes.
//
// Example:
//
//	tx, _ := drv.Begin(ctx)
//	txCtx := driver.WithExecutor(ctx, tx)
//	_ = store.AppendMessages(txCtx, threadID, msgs...)
//	_ = tx.Commit(ctx)
func WithExecutor(ctx context.Context, tx ExecutorTx) context.Context {
	return context.WithValue(ctx, executorTxContextKey{}, tx)
}

// ExecutorFromContext returns the transaction carried by ctx, or nil.
func ExecutorFromContext(ctx context.Context) ExecutorTx {
	if exec, ok := ctx.Value(executorTxContextKey{}).(ExecutorTx); ok {
		return exec
	}
	return nil
}

// StripExecutor returns a context that hides any carried transaction while
// keeping deadlines, cancellation and other values. Background summary
// refreshes use it so they never write through a request's transaction,
// which may be committed or rolled back before they finish.
func StripExecutor(ctx context.Context) context.Context {
	return &executorStrippedContext{ctx}
}

type executorStrippedContext struct {
	context.Context
}

func (c *executorStrippedContext) Value(key any) any {
	if _, ok := key.(executorTxContextKey); ok {
		return nil
	}
	return c.Context.Value(key)
}
