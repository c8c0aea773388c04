package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/youssefsiam38/agentctx/internal/testutil"
	"github.com/youssefsiam38/agentctx/llm"
	"github.com/youssefsiam38/agentctx/types"
)

// testConfig has a usable budget of 7500 tokens; a request fits at 6375.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ContextLimit = 10000
	cfg.OutputReserve = 1000
	cfg.TargetRatio = 0.85
	cfg.PruneProtectTokens = 1000
	cfg.PruneMinimumTokens = 500
	cfg.KeepRecentTurns = 2
	cfg.TruncateMessageChars = 2000
	return cfg
}

func longConversation(turns int) types.ConversationLog {
	b := testutil.NewLog()
	for i := 0; i < turns; i++ {
		b.User(fmt.Sprintf("turn %d ", i) + testutil.Text(392)).Assistant(testutil.Text(400))
	}
	return b.Log()
}

func assertSteps(t *testing.T, steps []LevelStep, from, to types.CompressionLevel) {
	t.Helper()
	if len(steps) != int(to-from)+1 {
		t.Fatalf("got %d steps, want levels %d..%d", len(steps), from, to)
	}
	for i, s := range steps {
		if s.Level != from+types.CompressionLevel(i) {
			t.Errorf("step %d level = %d, want %d", i, s.Level, from+types.CompressionLevel(i))
		}
	}
}

func TestAssembleFullContext(t *testing.T) {
	t.Parallel()

	log := testutil.NewLog().User("hi").Assistant("hello").Log()
	res, err := NewAssembler(testConfig(), nil, nil).Assemble(context.Background(), AssembleInput{
		Log:          log,
		SystemPrompt: "You are helpful.",
		PendingUser:  "next",
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if res.Level != types.LevelFull {
		t.Errorf("Level = %v, want Full", res.Level)
	}
	if len(res.Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(res.Messages))
	}
	want := EstimateLog(log) + Estimate("You are helpful.") + MessageOverhead + Estimate("next")
	if res.EstimatedTokens != want {
		t.Errorf("EstimatedTokens = %d, want %d", res.EstimatedTokens, want)
	}
	if res.HandoffRequired || !res.PrunePlan.Empty() || res.Summary != nil {
		t.Errorf("unexpected compression artifacts: %+v", res)
	}
	assertSteps(t, res.Steps, types.LevelFull, types.LevelFull)
}

func TestAssembleTruncatesOldMessages(t *testing.T) {
	t.Parallel()

	log := testutil.NewLog().
		User("start").
		Assistant(testutil.Text(28000)).
		User("a").Assistant("b").
		User("c").Assistant("d").
		Log()

	res, err := NewAssembler(testConfig(), nil, nil).Assemble(context.Background(), AssembleInput{Log: log})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if res.Level != types.LevelTruncate {
		t.Fatalf("Level = %v, want Smart Truncation", res.Level)
	}
	if res.TruncatedMessages != 1 {
		t.Errorf("TruncatedMessages = %d, want 1", res.TruncatedMessages)
	}
	if text := res.Messages[1].(*types.AssistantMessage).Text(); !strings.Contains(text, "[truncated 26000 chars]") {
		t.Errorf("old message not truncated: %d chars", len(text))
	}
	if len(log[1].(*types.AssistantMessage).Text()) != 28000 {
		t.Error("Assemble modified the input log")
	}
	if !res.PrunePlan.Empty() {
		t.Error("level 1 should not prune")
	}
	assertSteps(t, res.Steps, types.LevelFull, types.LevelTruncate)
}

func TestAssemblePrunesToolResults(t *testing.T) {
	t.Parallel()

	b := testutil.NewLog().User("read everything")
	for i := 0; i < 20; i++ {
		b.Tool("read_file", map[string]any{"path": fmt.Sprintf("f%02d.go", i)}, testutil.Text(1900))
	}
	log := b.User("a").Assistant("b").User("c").Assistant("d").Log()

	res, err := NewAssembler(testConfig(), nil, nil).Assemble(context.Background(), AssembleInput{Log: log})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if res.Level != types.LevelSlidingWindow {
		t.Fatalf("Level = %v, want Sliding Window + Prune", res.Level)
	}
	if got := len(res.PrunePlan.MessageIDs); got != 18 {
		t.Errorf("PrunePlan has %d messages, want 18", got)
	}

	cleared := 0
	for _, m := range res.Messages {
		if tm, ok := m.(*types.ToolMessage); ok && tm.Content == ClearedToolContent {
			cleared++
		}
	}
	if cleared != 18 {
		t.Errorf("%d results cleared in the assembled context, want 18", cleared)
	}
	for _, m := range log {
		if tm, ok := m.(*types.ToolMessage); ok && tm.Compacted() {
			t.Fatalf("input log message %s was compacted", tm.ID)
		}
	}
}

func TestAssembleSummarizesDroppedTurns(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SummaryTimeout = 20 * time.Millisecond
	completer := llm.NewScriptedCompleter(llm.Reply{Content: `{"objective":"late"}`, Delay: time.Second})
	fellBack := 0
	summarizer := NewModelSummarizer(completer, cfg, nil).OnFallback(func(SummaryMode, error) { fellBack++ })

	log := longConversation(60)
	res, err := NewAssembler(cfg, summarizer, nil).Assemble(context.Background(), AssembleInput{Log: log})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if res.Level != types.LevelDeepCompression {
		t.Fatalf("Level = %v, want Deep Compression", res.Level)
	}
	if !NewAssembler(cfg, nil, nil).Budget().Fits(res.EstimatedTokens) {
		t.Errorf("EstimatedTokens %d does not fit", res.EstimatedTokens)
	}

	first, ok := res.Messages[0].(*types.AssistantMessage)
	if !ok || !first.Summary {
		t.Fatalf("first message = %T, want summary assistant message", res.Messages[0])
	}
	if !strings.HasPrefix(first.Text(), "[Compacted context: turns 0-57 were summarized]") {
		t.Errorf("summary text = %q", first.Text()[:80])
	}
	if res.Summary == nil || res.Summary.Source != types.SourceRules {
		t.Errorf("Summary = %+v, want rule-based fallback", res.Summary)
	}
	if fellBack != 1 {
		t.Errorf("fallback called %d times, want 1", fellBack)
	}
	if res.DroppedMessages != 116 {
		t.Errorf("DroppedMessages = %d, want 116", res.DroppedMessages)
	}
	if len(res.Messages) != 5 {
		t.Errorf("got %d messages, want summary plus the last two turns", len(res.Messages))
	}
}

func TestAssembleUsesCachedSummary(t *testing.T) {
	t.Parallel()

	completer := llm.NewScriptedCompleter(llm.Reply{Content: `{"objective":"fresh"}`})
	cfg := testConfig()
	cached := &types.StructuredSummary{
		Objective: "Cached objective",
		TurnRange: types.TurnRange{Start: 0, End: 100},
		Source:    types.SourceModel,
	}

	res, err := NewAssembler(cfg, NewModelSummarizer(completer, cfg, nil), nil).Assemble(context.Background(), AssembleInput{
		Log:           longConversation(60),
		CachedSummary: cached,
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if res.Level != types.LevelDeepCompression {
		t.Fatalf("Level = %v, want Deep Compression", res.Level)
	}
	if !res.SummaryFromCache {
		t.Error("SummaryFromCache = false, want true")
	}
	if completer.Calls() != 0 {
		t.Errorf("completer called %d times, want 0", completer.Calls())
	}
	if !strings.Contains(res.Messages[0].(*types.AssistantMessage).Text(), "Cached objective") {
		t.Error("cached summary not rendered")
	}
}

func TestAssembleEscalatesToHandoff(t *testing.T) {
	t.Parallel()

	log := testutil.NewLog().User("hi").Assistant("hello").Log()
	res, err := NewAssembler(testConfig(), nil, nil).Assemble(context.Background(), AssembleInput{
		Log:         log,
		PendingUser: testutil.Text(29100),
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if res.Level != types.LevelHandoff || !res.HandoffRequired {
		t.Fatalf("Level = %v, HandoffRequired = %v", res.Level, res.HandoffRequired)
	}
	if res.Summary == nil || res.Summary.Objective == "" {
		t.Errorf("handoff summary missing objective: %+v", res.Summary)
	}
	if len(res.Messages) == 0 {
		t.Error("level 4 result should still carry messages")
	}
	assertSteps(t, res.Steps, types.LevelFull, types.LevelHandoff)
}

func TestAssembleMessageTooLarge(t *testing.T) {
	t.Parallel()

	res, err := NewAssembler(testConfig(), nil, nil).Assemble(context.Background(), AssembleInput{
		ThreadID:    "thread-1",
		Log:         testutil.NewLog().User("hi").Log(),
		PendingUser: testutil.Text(40000),
	})
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("error = %v, want ErrMessageTooLarge", err)
	}
	var ce *CompactionError
	if !errors.As(err, &ce) || ce.ThreadID != "thread-1" {
		t.Errorf("error = %#v, want CompactionError for thread-1", err)
	}
	if res == nil || !res.HandoffRequired {
		t.Error("result should be returned with HandoffRequired")
	}
}

func TestAssembleNeverDecreasesLevel(t *testing.T) {
	t.Parallel()

	log := testutil.NewLog().User("hi").Assistant("hello").Log()
	res, err := NewAssembler(testConfig(), nil, nil).Assemble(context.Background(), AssembleInput{
		Log:        log,
		StartLevel: types.LevelDeepCompression,
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if res.Level != types.LevelDeepCompression {
		t.Errorf("Level = %v, want Deep Compression", res.Level)
	}
	assertSteps(t, res.Steps, types.LevelDeepCompression, types.LevelDeepCompression)
	if len(res.Messages) != 2 {
		t.Errorf("short log should be sent whole, got %d messages", len(res.Messages))
	}
}
