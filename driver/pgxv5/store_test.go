package pgxv5

import (
	"context"
	"testing"
	"time"

	"github.com/youssefsiam38/agentctx/driver"
	"github.com/youssefsiam38/agentctx/driver/sqlstore"
	"github.com/youssefsiam38/agentctx/internal/storetest"
	"github.com/youssefsiam38/agentctx/internal/testutil"
)

func TestIntegration_Store(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer db.Close()

	ctx := context.Background()
	drv := New(db.Pool)
	if err := sqlstore.Migrate(ctx, drv.GetExecutor()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	storetest.Run(t, drv.GetStore())
}

func TestIntegration_Store_TransactionRollback(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer db.Close()

	ctx := context.Background()
	drv := New(db.Pool)
	if err := sqlstore.Migrate(ctx, drv.GetExecutor()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	store := drv.GetStore()

	tx, err := drv.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	txCtx := driver.WithExecutor(ctx, tx)

	log := testutil.NewLog().User("inside a transaction").Log()
	if err := store.AppendMessages(txCtx, "tx-thread", log...); err != nil {
		t.Fatalf("AppendMessages failed: %v", err)
	}
	if got, _ := store.ReadLog(txCtx, "tx-thread"); len(got) != 1 {
		t.Errorf("expected the message to be visible inside the transaction, got %d", len(got))
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	got, err := store.ReadLog(ctx, "tx-thread")
	if err != nil {
		t.Fatalf("ReadLog failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected rollback to discard the append, got %d messages", len(got))
	}
}

func TestIntegration_Listener(t *testing.T) {
	db := testutil.NewTestDB(t)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	drv := New(db.Pool)
	listener, err := drv.GetListener(ctx)
	if err != nil {
		t.Fatalf("GetListener failed: %v", err)
	}
	defer listener.Close(ctx)

	if err := listener.Listen(ctx, driver.ChannelSummaryStored); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if err := drv.GetNotifier().Notify(ctx, driver.ChannelSummaryStored, "thread-1"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	n, err := listener.WaitForNotification(ctx)
	if err != nil {
		t.Fatalf("WaitForNotification failed: %v", err)
	}
	if n.Channel != driver.ChannelSummaryStored || n.Payload != "thread-1" {
		t.Errorf("unexpected notification %+v", n)
	}

	if err := listener.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := listener.Listen(ctx, "x"); err != ErrListenerClosed {
		t.Errorf("expected ErrListenerClosed after Close, got %v", err)
	}
}
