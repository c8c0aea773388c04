// Package storetest runs the same behavioural checks against every
// driver.Store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/agentctx/driver"
	"github.com/youssefsiam38/agentctx/internal/testutil"
	"github.com/youssefsiam38/agentctx/types"
)

// Run exercises store. Each subtest uses fresh thread IDs, so a shared
// database needs no cleanup between subtests.
func Run(t *testing.T, store driver.Store) {
	t.Helper()

	t.Run("LogRoundTrip", func(t *testing.T) { testLogRoundTrip(t, store) })
	t.Run("MarkCompacted", func(t *testing.T) { testMarkCompacted(t, store) })
	t.Run("Summary", func(t *testing.T) { testSummary(t, store) })
	t.Run("Thread", func(t *testing.T) { testThread(t, store) })
	t.Run("Handoff", func(t *testing.T) { testHandoff(t, store) })
}

func sampleLog() types.ConversationLog {
	return testutil.NewLog().
		User("Create a.ts").
		Tool("write_file", map[string]any{"path": "a.ts"}, "ok").
		Interrupted("run_tests").
		Checkpoint("cp", true).
		Assistant("done").
		Log()
}

func testLogRoundTrip(t *testing.T, store driver.Store) {
	ctx := context.Background()
	threadID := uuid.NewString()

	empty, err := store.ReadLog(ctx, threadID)
	if err != nil {
		t.Fatalf("ReadLog(unknown) error = %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("ReadLog(unknown) returned %d messages", len(empty))
	}

	log := sampleLog()
	if err := store.AppendMessages(ctx, threadID, log[:3]...); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}
	// Overlapping append: the first three are skipped.
	if err := store.AppendMessages(ctx, threadID, log...); err != nil {
		t.Fatalf("AppendMessages(overlap) error = %v", err)
	}

	got, err := store.ReadLog(ctx, threadID)
	if err != nil {
		t.Fatalf("ReadLog() error = %v", err)
	}
	if len(got) != len(log) {
		t.Fatalf("ReadLog() returned %d messages, want %d", len(got), len(log))
	}
	for i := range log {
		if got[i].MessageID() != log[i].MessageID() || got[i].Role() != log[i].Role() {
			t.Errorf("message %d = %s/%s, want %s/%s", i, got[i].MessageID(), got[i].Role(), log[i].MessageID(), log[i].Role())
		}
	}
	if tm, ok := got[2].(*types.ToolMessage); !ok || tm.Content != "ok" || tm.Name != "write_file" {
		t.Errorf("tool message = %#v", got[2])
	}
	if am, ok := got[1].(*types.AssistantMessage); !ok || len(am.ToolCalls()) != 1 {
		t.Errorf("assistant tool call lost: %#v", got[1])
	}

	other, err := store.ReadLog(ctx, uuid.NewString())
	if err != nil || len(other) != 0 {
		t.Errorf("threads are not isolated: %d messages, err %v", len(other), err)
	}
}

func testMarkCompacted(t *testing.T, store driver.Store) {
	ctx := context.Background()
	threadID := uuid.NewString()
	log := sampleLog()
	if err := store.AppendMessages(ctx, threadID, log...); err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	toolID := log[2].MessageID()
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	n, err := store.MarkCompacted(ctx, threadID, []string{toolID, log[0].MessageID(), "unknown"}, at)
	if err != nil {
		t.Fatalf("MarkCompacted() error = %v", err)
	}
	if n != 1 {
		t.Errorf("MarkCompacted() = %d, want 1 (only the tool message)", n)
	}

	n, err = store.MarkCompacted(ctx, threadID, []string{toolID}, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("MarkCompacted(again) error = %v", err)
	}
	if n != 0 {
		t.Errorf("MarkCompacted(again) = %d, want 0", n)
	}

	got, err := store.ReadLog(ctx, threadID)
	if err != nil {
		t.Fatalf("ReadLog() error = %v", err)
	}
	tm := got[2].(*types.ToolMessage)
	if tm.CompactedAt == nil || !tm.CompactedAt.Equal(at) {
		t.Errorf("CompactedAt = %v, want %v", tm.CompactedAt, at)
	}

	if n, err := store.MarkCompacted(ctx, threadID, nil, at); err != nil || n != 0 {
		t.Errorf("MarkCompacted(nil) = %d, %v", n, err)
	}
}

func testSummary(t *testing.T, store driver.Store) {
	ctx := context.Background()
	threadID := uuid.NewString()

	got, err := store.LoadSummary(ctx, threadID)
	if err != nil || got != nil {
		t.Fatalf("LoadSummary(unknown) = %v, %v; want nil, nil", got, err)
	}

	first := &types.StructuredSummary{
		Objective:   "Build it",
		FileChanges: []types.FileChangeRecord{{Path: "a.go", Action: types.FileCreate}},
		TurnRange:   types.TurnRange{Start: 0, End: 4},
		Source:      types.SourceRules,
		Generation:  1,
	}
	if err := store.StoreSummary(ctx, threadID, first); err != nil {
		t.Fatalf("StoreSummary() error = %v", err)
	}
	second := first.Clone()
	second.Objective = "Build it better"
	second.Generation = 2
	if err := store.StoreSummary(ctx, threadID, second); err != nil {
		t.Fatalf("StoreSummary(replace) error = %v", err)
	}

	got, err = store.LoadSummary(ctx, threadID)
	if err != nil {
		t.Fatalf("LoadSummary() error = %v", err)
	}
	if got.Objective != "Build it better" || got.Generation != 2 || got.TurnRange.End != 4 {
		t.Errorf("LoadSummary() = %+v", got)
	}
	if len(got.FileChanges) != 1 || got.FileChanges[0].Path != "a.go" {
		t.Errorf("FileChanges = %v", got.FileChanges)
	}
}

func testThread(t *testing.T, store driver.Store) {
	ctx := context.Background()
	threadID := uuid.NewString()

	if _, err := store.LoadThread(ctx, threadID); !errors.Is(err, driver.ErrThreadNotFound) {
		t.Fatalf("LoadThread(unknown) error = %v, want ErrThreadNotFound", err)
	}

	state := types.NewThreadState(threadID)
	state.LastLevel = types.LevelSlidingWindow
	state.LastRatio = 0.72
	state.LastUsage = types.Usage{InputTokens: 1200, OutputTokens: 300}
	state.UpdatedAt = time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	if err := store.SaveThread(ctx, state); err != nil {
		t.Fatalf("SaveThread() error = %v", err)
	}

	state.HandoffRequired = true
	state.HandoffSummary = &types.StructuredSummary{Objective: "Wrap up"}
	if err := store.SaveThread(ctx, state); err != nil {
		t.Fatalf("SaveThread(update) error = %v", err)
	}

	got, err := store.LoadThread(ctx, threadID)
	if err != nil {
		t.Fatalf("LoadThread() error = %v", err)
	}
	if got.LastLevel != types.LevelSlidingWindow || got.LastRatio != 0.72 || !got.HandoffRequired {
		t.Errorf("LoadThread() = %+v", got)
	}
	if got.HandoffSummary == nil || got.HandoffSummary.Objective != "Wrap up" {
		t.Errorf("HandoffSummary = %+v", got.HandoffSummary)
	}
	if got.LastUsage.Total() != 1500 {
		t.Errorf("LastUsage = %+v", got.LastUsage)
	}
}

func testHandoff(t *testing.T, store driver.Store) {
	ctx := context.Background()
	threadID := uuid.NewString()

	if _, err := store.PendingHandoff(ctx, threadID); !errors.Is(err, driver.ErrHandoffNotFound) {
		t.Fatalf("PendingHandoff(none) error = %v, want ErrHandoffNotFound", err)
	}

	doc := &types.HandoffDocument{
		ID:                 uuid.NewString(),
		Summary:            &types.StructuredSummary{Objective: "Ship the feature"},
		FromSessionID:      threadID,
		WorkingDirectory:   "/repo",
		KeyFileSnapshots:   []types.KeyFileSnapshot{{Path: "a.go", Reason: "created in previous session"}},
		SuggestedNextSteps: []string{"Write tests"},
		CreatedAt:          time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC),
	}
	if err := store.SaveHandoff(ctx, doc); err != nil {
		t.Fatalf("SaveHandoff() error = %v", err)
	}
	if err := store.SaveHandoff(ctx, doc); err != nil {
		t.Fatalf("SaveHandoff(again) error = %v", err)
	}

	pending, err := store.PendingHandoff(ctx, threadID)
	if err != nil {
		t.Fatalf("PendingHandoff() error = %v", err)
	}
	if pending.ID != doc.ID || pending.Summary.Objective != "Ship the feature" || len(pending.KeyFileSnapshots) != 1 {
		t.Errorf("PendingHandoff() = %+v", pending)
	}

	newThread := uuid.NewString()
	at := time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC)
	if first, err := store.ConsumeHandoff(ctx, doc.ID, newThread, at); err != nil || !first {
		t.Fatalf("ConsumeHandoff() = %t, %v; want true, nil", first, err)
	}
	if first, err := store.ConsumeHandoff(ctx, doc.ID, newThread, at.Add(time.Minute)); err != nil || first {
		t.Errorf("ConsumeHandoff(same thread) = %t, %v; want false, nil", first, err)
	}
	if _, err := store.ConsumeHandoff(ctx, doc.ID, uuid.NewString(), at); !errors.Is(err, driver.ErrHandoffConsumed) {
		t.Errorf("ConsumeHandoff(other thread) error = %v, want ErrHandoffConsumed", err)
	}
	if _, err := store.ConsumeHandoff(ctx, uuid.NewString(), newThread, at); !errors.Is(err, driver.ErrHandoffNotFound) {
		t.Errorf("ConsumeHandoff(unknown) error = %v, want ErrHandoffNotFound", err)
	}
	if _, err := store.PendingHandoff(ctx, threadID); !errors.Is(err, driver.ErrHandoffNotFound) {
		t.Errorf("PendingHandoff(after consume) error = %v, want ErrHandoffNotFound", err)
	}
}
