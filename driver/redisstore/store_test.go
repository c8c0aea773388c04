package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/youssefsiam38/agentctx/driver"
	"github.com/youssefsiam38/agentctx/internal/storetest"
	"github.com/youssefsiam38/agentctx/internal/testutil"
	"github.com/youssefsiam38/agentctx/types"
)

func setupMiniredis(t *testing.T, opts Options) (*miniredis.Miniredis, *Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return mr, New(client, opts)
}

func TestStore(t *testing.T) {
	_, store := setupMiniredis(t, Options{Prefix: "test:"})
	storetest.Run(t, store)
}

func TestStore_KeysUsePrefix(t *testing.T) {
	mr, store := setupMiniredis(t, Options{Prefix: "test:"})
	ctx := context.Background()

	log := testutil.NewLog().User("hello").Tool("read_file", map[string]any{"path": "a.go"}, "body").Log()
	if err := store.AppendMessages(ctx, "t1", log...); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	for _, key := range []string{"test:log:t1", "test:ids:t1", "test:tools:t1"} {
		if !mr.Exists(key) {
			t.Errorf("expected key %s to exist", key)
		}
	}
	members, err := mr.Members("test:tools:t1")
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 1 || members[0] != log[2].MessageID() {
		t.Errorf("tool index = %v, want [%s]", members, log[2].MessageID())
	}
}

func TestStore_AppendKeepsCompactionStamp(t *testing.T) {
	_, store := setupMiniredis(t, Options{})
	ctx := context.Background()

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	log := testutil.NewLog().User("hello").Tool("grep", map[string]any{"pattern": "x"}, "hits").Log()
	log.MarkCompacted([]string{log[2].MessageID()}, at)

	if err := store.AppendMessages(ctx, "t1", log...); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}
	got, err := store.ReadLog(ctx, "t1")
	if err != nil {
		t.Fatalf("ReadLog() error = %v", err)
	}
	tm := got[2].(*types.ToolMessage)
	if tm.CompactedAt == nil || !tm.CompactedAt.Equal(at) {
		t.Errorf("CompactedAt = %v, want %v", tm.CompactedAt, at)
	}
}

func TestStore_TTL(t *testing.T) {
	mr, store := setupMiniredis(t, Options{TTL: time.Hour})
	ctx := context.Background()

	if err := store.SaveThread(ctx, types.NewThreadState("t1")); err != nil {
		t.Fatalf("SaveThread() error = %v", err)
	}
	if err := store.AppendMessages(ctx, "t1", testutil.NewLog().User("hi").Log()...); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	mr.FastForward(2 * time.Hour)

	if _, err := store.LoadThread(ctx, "t1"); err == nil {
		t.Error("expected thread state to expire")
	}
	if got, _ := store.ReadLog(ctx, "t1"); len(got) != 0 {
		t.Errorf("expected log to expire, got %d messages", len(got))
	}
}

func TestListener(t *testing.T) {
	_, store := setupMiniredis(t, Options{Prefix: "test:"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listener := store.Listener(ctx)
	defer listener.Close(ctx)
	if err := listener.Listen(ctx, driver.ChannelSummaryStored); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	if err := store.StoreSummary(ctx, "t1", &types.StructuredSummary{Objective: "x"}); err != nil {
		t.Fatalf("StoreSummary() error = %v", err)
	}

	n, err := listener.WaitForNotification(ctx)
	if err != nil {
		t.Fatalf("WaitForNotification() error = %v", err)
	}
	if n.Channel != driver.ChannelSummaryStored || n.Payload != "t1" {
		t.Errorf("notification = %+v", n)
	}

	if err := listener.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := listener.WaitForNotification(ctx); err != ErrListenerClosed {
		t.Errorf("WaitForNotification() after Close error = %v, want ErrListenerClosed", err)
	}
}
