package compaction

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/youssefsiam38/agentctx/types"
)

func TestEstimate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  string
		expected int
	}{
		{name: "empty string", content: "", expected: 0},
		{name: "1 char", content: "a", expected: 0},
		{name: "2 chars", content: "hi", expected: 1},
		{name: "4 chars", content: "test", expected: 1},
		{name: "6 chars", content: "123456", expected: 2},
		{name: "8 chars", content: "12345678", expected: 2},
		{name: "400 chars", content: strings.Repeat("x", 400), expected: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Estimate(tt.content); got != tt.expected {
				t.Errorf("Estimate(%q) = %d, want %d", tt.content, got, tt.expected)
			}
		})
	}
}

func TestEstimateMonotonic(t *testing.T) {
	t.Parallel()

	prev := 0
	for n := 0; n < 2000; n++ {
		got := Estimate(strings.Repeat("a", n))
		if got < prev {
			t.Fatalf("Estimate decreased at length %d: %d < %d", n, got, prev)
		}
		prev = got
	}
}

func TestEstimateMessage(t *testing.T) {
	t.Parallel()

	at := time.Now()
	args := json.RawMessage(`{"path":"main.go"}`)

	tests := []struct {
		name     string
		msg      types.Message
		expected int
	}{
		{
			name:     "user text",
			msg:      &types.UserMessage{Parts: []types.ContentPart{types.TextPart(strings.Repeat("x", 40))}},
			expected: MessageOverhead + 10,
		},
		{
			name:     "image is a fixed cost",
			msg:      &types.UserMessage{Parts: []types.ContentPart{types.ImagePart("image/png", "https://example.com/a.png")}},
			expected: MessageOverhead + ImageTokens,
		},
		{
			name:     "tool call",
			msg:      &types.AssistantMessage{Parts: []types.ContentPart{types.ToolCallPart("c1", "read_file", args)}},
			expected: MessageOverhead + ToolCallOverhead + Estimate("read_file") + Estimate(string(args)),
		},
		{
			name:     "tool result",
			msg:      &types.ToolMessage{Name: "read_file", Content: strings.Repeat("y", 400)},
			expected: MessageOverhead + ToolCallOverhead + 100,
		},
		{
			name:     "compacted tool result counts the placeholder",
			msg:      &types.ToolMessage{Name: "read_file", Content: strings.Repeat("y", 400), CompactedAt: &at},
			expected: MessageOverhead + ToolCallOverhead + Estimate(ClearedToolContent),
		},
		{
			name:     "checkpoint is free",
			msg:      &types.CheckpointMessage{Label: "x"},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateMessage(tt.msg); got != tt.expected {
				t.Errorf("EstimateMessage() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestEstimateLog(t *testing.T) {
	t.Parallel()

	msgs := []types.Message{
		&types.UserMessage{Parts: []types.ContentPart{types.TextPart("abcd")}},
		&types.AssistantMessage{Parts: []types.ContentPart{types.TextPart("abcdefgh")}},
	}
	want := EstimateMessage(msgs[0]) + EstimateMessage(msgs[1])
	if got := EstimateLog(msgs); got != want {
		t.Errorf("EstimateLog() = %d, want %d", got, want)
	}
	if got := EstimateLog(nil); got != 0 {
		t.Errorf("EstimateLog(nil) = %d, want 0", got)
	}
}

func TestTokenBudget(t *testing.T) {
	t.Parallel()

	b := TokenBudget{ContextLimit: 10000, OutputReserve: 1000, TargetRatio: 0.85}
	if got := b.Usable(); got != 7500 {
		t.Errorf("Usable() = %d, want 7500", got)
	}
	if !b.Fits(6375) {
		t.Error("6375 tokens should fit (ratio 0.85)")
	}
	if b.Fits(6376) {
		t.Error("6376 tokens should not fit")
	}

	tiny := TokenBudget{ContextLimit: 100, OutputReserve: 4096, TargetRatio: 0.85}
	if got := tiny.Usable(); got != 1 {
		t.Errorf("Usable() with oversized reserve = %d, want 1", got)
	}
}
