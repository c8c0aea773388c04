package databasesql

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/youssefsiam38/agentctx/driver"
	"github.com/youssefsiam38/agentctx/driver/sqlstore"
	"github.com/youssefsiam38/agentctx/internal/storetest"
	"github.com/youssefsiam38/agentctx/internal/testutil"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()
	testutil.RequireIntegration(t)

	db, err := sql.Open("postgres", os.Getenv("DATABASE_URL"))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping: %v", err)
	}
	return db
}

func TestIntegration_DatabaseSQL_Store(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	ctx := context.Background()
	drv := New(db)
	if err := sqlstore.Migrate(ctx, drv.GetExecutor()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	storetest.Run(t, drv.GetStore())
}

func TestIntegration_DatabaseSQL_NestedTransaction(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	ctx := context.Background()
	drv := New(db)
	if err := sqlstore.Migrate(ctx, drv.GetExecutor()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	store := drv.GetStore()

	tx, err := drv.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer tx.Rollback(ctx)
	txCtx := driver.WithExecutor(ctx, tx)

	// AppendMessages opens a savepoint inside the caller's transaction and
	// must leave the transaction usable after releasing it.
	log := testutil.NewLog().User("first").Assistant("second").Log()
	if err := store.AppendMessages(txCtx, "sp-thread", log...); err != nil {
		t.Fatalf("AppendMessages failed: %v", err)
	}
	got, err := store.ReadLog(txCtx, "sp-thread")
	if err != nil {
		t.Fatalf("ReadLog inside transaction failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 messages inside the transaction, got %d", len(got))
	}

	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if got, _ := store.ReadLog(ctx, "sp-thread"); len(got) != 0 {
		t.Errorf("expected rollback to discard the append, got %d messages", len(got))
	}
}

func TestDriverUnwrap(t *testing.T) {
	drv := New(nil)
	if drv.PoolIsSet() {
		t.Error("PoolIsSet() = true for a nil db")
	}
	tx := &sql.Tx{}
	if got := drv.UnwrapTx(drv.UnwrapExecutor(tx)); got != tx {
		t.Error("UnwrapTx(UnwrapExecutor(tx)) did not return tx")
	}
}
