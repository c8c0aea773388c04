package compaction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/youssefsiam38/agentctx/internal/testutil"
	"github.com/youssefsiam38/agentctx/llm"
	"github.com/youssefsiam38/agentctx/types"
)

const modelReply = `Here is the summary:
{
  "objective": "Build the widget service",
  "completedSteps": ["Scaffolded the service"],
  "pendingSteps": ["Add the list endpoint"],
  "decisions": [{"question": "Which router?", "choice": "chi", "rationale": "already vendored"}],
  "fileChanges": [{"path": "cmd/widget/main.go", "action": "create"}, {"path": "x", "action": "rename"}],
  "errorsAndFixes": [{"error": "go vet failed", "fix": "removed unused import"}],
  "userInstructions": ["Keep handlers small"]
}
Let me know if you need more.`

func modelLog() types.ConversationLog {
	return testutil.NewLog().
		User("Build the widget service.").
		Tool("write_file", map[string]any{"path": "go.mod"}, "ok").
		User("Add the list endpoint").
		Log()
}

type fallbackRecorder struct {
	mu    sync.Mutex
	modes []SummaryMode
	errs  []error
}

func (r *fallbackRecorder) record(mode SummaryMode, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes = append(r.modes, mode)
	r.errs = append(r.errs, err)
}

func TestModelSummarizerMergesWithRules(t *testing.T) {
	t.Parallel()

	completer := llm.NewScriptedCompleter(llm.Reply{Content: modelReply})
	s := NewModelSummarizer(completer, DefaultConfig(), nil).WithModel("summary-model").
		Summarize(context.Background(), SummaryRequest{Messages: modelLog(), Mode: ModeDetailed})

	if s.Source != types.SourceModel {
		t.Errorf("Source = %q, want model", s.Source)
	}
	if s.Objective != "Build the widget service" {
		t.Errorf("Objective = %q", s.Objective)
	}
	if !containsString(s.CompletedSteps, "Scaffolded the service") || !containsString(s.CompletedSteps, "write_file: go.mod") {
		t.Errorf("CompletedSteps = %v, want model and rule steps", s.CompletedSteps)
	}
	if len(s.FileChanges) != 2 {
		t.Fatalf("FileChanges = %v, want rule and model entries without the invalid action", s.FileChanges)
	}
	if s.FileChanges[0].Path != "go.mod" || s.FileChanges[1].Path != "cmd/widget/main.go" {
		t.Errorf("FileChanges = %v", s.FileChanges)
	}
	if len(s.Decisions) != 1 || s.Decisions[0].Choice != "chi" {
		t.Errorf("Decisions = %v", s.Decisions)
	}
	if s.TurnRange != (types.TurnRange{Start: 0, End: 1}) {
		t.Errorf("TurnRange = %+v", s.TurnRange)
	}

	reqs := completer.Requests()
	if len(reqs) != 1 {
		t.Fatalf("completer called %d times, want 1", len(reqs))
	}
	if reqs[0].Model != "summary-model" {
		t.Errorf("request model = %q", reqs[0].Model)
	}
	if reqs[0].SystemPrompt != SummarySystemPrompt {
		t.Errorf("detailed mode should use the base system prompt")
	}
	if !strings.Contains(reqs[0].Messages[0].Content, "<last_user_request>\nAdd the list endpoint") {
		t.Errorf("user prompt missing last request:\n%s", reqs[0].Messages[0].Content)
	}
}

func TestModelSummarizerFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   llm.Reply
		timeout time.Duration
		wantErr error
	}{
		{name: "completer error", reply: llm.Reply{Err: errors.New("overloaded")}, wantErr: ErrSummarizationFailed},
		{name: "malformed", reply: llm.Reply{Content: "I cannot summarize this."}, wantErr: ErrMalformedSummary},
		{name: "unbalanced", reply: llm.Reply{Content: `{"objective": "x"`}, wantErr: ErrMalformedSummary},
		{name: "timeout", reply: llm.Reply{Content: modelReply, Delay: time.Second}, timeout: 20 * time.Millisecond, wantErr: context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			if tt.timeout > 0 {
				cfg.SummaryTimeout = tt.timeout
			}
			rec := &fallbackRecorder{}
			m := NewModelSummarizer(llm.NewScriptedCompleter(tt.reply), cfg, nil).OnFallback(rec.record)

			s := m.Summarize(context.Background(), SummaryRequest{Messages: modelLog(), Mode: ModeQuick})
			if s == nil {
				t.Fatal("Summarize returned nil")
			}
			if s.Source != types.SourceRules {
				t.Errorf("Source = %q, want rules", s.Source)
			}
			if s.Objective != "Build the widget service." {
				t.Errorf("Objective = %q", s.Objective)
			}
			if len(rec.errs) != 1 {
				t.Fatalf("fallback called %d times, want 1", len(rec.errs))
			}
			if rec.modes[0] != ModeQuick {
				t.Errorf("fallback mode = %q", rec.modes[0])
			}
			if !errors.Is(rec.errs[0], tt.wantErr) {
				t.Errorf("fallback error = %v, want %v", rec.errs[0], tt.wantErr)
			}
		})
	}
}

func TestModelSummarizerNilCompleter(t *testing.T) {
	t.Parallel()

	s := NewModelSummarizer(nil, DefaultConfig(), nil).
		Summarize(context.Background(), SummaryRequest{Messages: modelLog()})
	if s.Source != types.SourceRules {
		t.Errorf("Source = %q, want rules", s.Source)
	}
}

func TestModelSummarizerHandoffContinuation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		reply     string
		wantFirst string
	}{
		{
			name:      "unfinished request is prepended",
			reply:     `{"objective":"Build it","pendingSteps":["Write tests"],"lastRequestStatus":"partial"}`,
			wantFirst: "Continue: Add pagination to the list endpoint",
		},
		{
			name:      "completed request is not",
			reply:     `{"objective":"Build it","pendingSteps":["Write tests"],"lastRequestStatus":"completed"}`,
			wantFirst: "Write tests",
		},
		{
			name:      "already represented",
			reply:     `{"objective":"Build it","pendingSteps":["Finish: add pagination to the list endpoint"]}`,
			wantFirst: "Finish: add pagination to the list endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			completer := llm.NewScriptedCompleter(llm.Reply{Content: tt.reply})
			s := NewModelSummarizer(completer, DefaultConfig(), nil).Summarize(context.Background(), SummaryRequest{
				Messages:        modelLog(),
				Mode:            ModeHandoff,
				LastUserRequest: "Add pagination to the list endpoint",
			})
			if len(s.PendingSteps) == 0 || s.PendingSteps[0] != tt.wantFirst {
				t.Errorf("PendingSteps = %v, want first %q", s.PendingSteps, tt.wantFirst)
			}
			if !strings.Contains(completer.Requests()[0].SystemPrompt, "lastRequestStatus") {
				t.Error("handoff system prompt should ask for lastRequestStatus")
			}
		})
	}
}

func TestParseSummarySnakeCase(t *testing.T) {
	t.Parallel()

	s, err := ParseSummary("```json\n" + `{"objective":"fix {braces} in \"strings\"","completed_steps":["a","  ","b"],"file_changes":[{"path":"x.go","action":"MODIFY"}],"errors_and_fixes":["bare error"],"last_request_status":"not_started","extra":1}` + "\n```")
	if err != nil {
		t.Fatalf("ParseSummary() error = %v", err)
	}
	if s.Objective != `fix {braces} in "strings"` {
		t.Errorf("Objective = %q", s.Objective)
	}
	if len(s.CompletedSteps) != 2 {
		t.Errorf("CompletedSteps = %v", s.CompletedSteps)
	}
	if len(s.FileChanges) != 1 || s.FileChanges[0].Action != types.FileModify {
		t.Errorf("FileChanges = %v", s.FileChanges)
	}
	if len(s.ErrorsAndFixes) != 1 || s.ErrorsAndFixes[0].Error != "bare error" {
		t.Errorf("ErrorsAndFixes = %v", s.ErrorsAndFixes)
	}
	if s.LastRequestStatus != types.StatusNotStarted {
		t.Errorf("LastRequestStatus = %q", s.LastRequestStatus)
	}
}

func TestFirstJSONObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{`prefix {"a":{"b":2}} suffix {"c":3}`, `{"a":{"b":2}}`},
		{`{"a":"}"}`, `{"a":"}"}`},
		{`{"a":"\"}"}`, `{"a":"\"}"}`},
		{`no json here`, ``},
		{`{"a":1`, ``},
	}
	for _, tt := range tests {
		if got := firstJSONObject(tt.text); got != tt.want {
			t.Errorf("firstJSONObject(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestMergeSummaries(t *testing.T) {
	t.Parallel()

	preferred := &types.StructuredSummary{
		CompletedSteps: []string{"b", "c"},
		FileChanges:    []types.FileChangeRecord{{Path: "new.go", Action: types.FileCreate}},
		ErrorsAndFixes: []types.ErrorFix{{Error: "e1", Fix: "f1"}},
		TurnRange:      types.TurnRange{Start: 3, End: 9},
		Source:         types.SourceModel,
	}
	other := &types.StructuredSummary{
		Objective:      "Original goal",
		CompletedSteps: []string{"a", "b"},
		PendingSteps:   []string{"p"},
		FileChanges:    []types.FileChangeRecord{{Path: "old.go", Action: types.FileModify}},
		ErrorsAndFixes: []types.ErrorFix{{Error: "e1"}},
		TurnRange:      types.TurnRange{Start: 0, End: 4},
		Generation:     7,
	}

	got := MergeSummaries(preferred, other)
	if got.Objective != "Original goal" {
		t.Errorf("Objective = %q", got.Objective)
	}
	if strings.Join(got.CompletedSteps, ",") != "b,c,a" {
		t.Errorf("CompletedSteps = %v", got.CompletedSteps)
	}
	if len(got.PendingSteps) != 1 || got.PendingSteps[0] != "p" {
		t.Errorf("PendingSteps = %v", got.PendingSteps)
	}
	if len(got.FileChanges) != 2 || got.FileChanges[0].Path != "old.go" {
		t.Errorf("FileChanges = %v", got.FileChanges)
	}
	if len(got.ErrorsAndFixes) != 1 || got.ErrorsAndFixes[0].Fix != "f1" {
		t.Errorf("ErrorsAndFixes = %v", got.ErrorsAndFixes)
	}
	if got.TurnRange != (types.TurnRange{Start: 0, End: 9}) {
		t.Errorf("TurnRange = %+v", got.TurnRange)
	}
	if got.Generation != 7 || got.Source != types.SourceModel {
		t.Errorf("Generation = %d, Source = %q", got.Generation, got.Source)
	}

	// Inputs are not modified.
	if len(preferred.CompletedSteps) != 2 || preferred.Objective != "" {
		t.Error("MergeSummaries modified preferred")
	}
	if MergeSummaries(nil, other).Objective != "Original goal" {
		t.Error("MergeSummaries(nil, other) should return other")
	}
}

func TestBuildTranscriptKeepsNewest(t *testing.T) {
	t.Parallel()

	log := testutil.NewLog().
		User(strings.Repeat("old ", 50)).
		User("middle").
		User("newest").
		Checkpoint("skip", false).
		Log()

	transcript, n := buildTranscript(log, 40)
	if n != 2 {
		t.Fatalf("included %d entries, want 2", n)
	}
	if transcript != "User: middle\n\nUser: newest" {
		t.Errorf("transcript = %q", transcript)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
