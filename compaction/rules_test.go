package compaction

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/youssefsiam38/agentctx/internal/testutil"
	"github.com/youssefsiam38/agentctx/types"
)

func TestRuleSummarizer(t *testing.T) {
	t.Parallel()

	log := testutil.NewLog().
		User("Create a.ts and update b.ts. Use tabs for indentation.").
		Tool("write_file", map[string]any{"path": "a.ts", "content": "x"}, "ok").
		Tool("edit_file", map[string]any{"path": "b.ts"}, "ok").
		ToolError("run_tests", map[string]any{"command": "go test"}, "FAIL: TestA\nmore output").
		Tool("run_tests", map[string]any{"command": "go test ./..."}, "ok").
		User("Also add docs").
		Tool("delete_file", map[string]any{"path": "old.ts"}, "deleted").
		Tool("ask_user", map[string]any{"question": "Which database?"}, "postgres").
		Log()

	s := NewRuleSummarizer(DefaultConfig()).Summarize(context.Background(), SummaryRequest{
		Messages: log,
		Mode:     ModeDetailed,
	})

	if s.Source != types.SourceRules {
		t.Errorf("Source = %q, want %q", s.Source, types.SourceRules)
	}
	if s.Objective != "Create a.ts and update b.ts." {
		t.Errorf("Objective = %q", s.Objective)
	}

	wantSteps := []string{
		"write_file: a.ts",
		"edit_file: b.ts",
		"run_tests: go test ./...",
		"delete_file: old.ts",
		"ask_user: Which database?",
	}
	if !reflect.DeepEqual(s.CompletedSteps, wantSteps) {
		t.Errorf("CompletedSteps = %v, want %v", s.CompletedSteps, wantSteps)
	}

	wantFiles := []types.FileChangeRecord{
		{Path: "a.ts", Action: types.FileCreate},
		{Path: "b.ts", Action: types.FileModify},
		{Path: "old.ts", Action: types.FileDelete},
	}
	if !reflect.DeepEqual(s.FileChanges, wantFiles) {
		t.Errorf("FileChanges = %v, want %v", s.FileChanges, wantFiles)
	}

	wantErrors := []types.ErrorFix{{Error: "run_tests: FAIL: TestA", Fix: "run_tests: go test ./..."}}
	if !reflect.DeepEqual(s.ErrorsAndFixes, wantErrors) {
		t.Errorf("ErrorsAndFixes = %v, want %v", s.ErrorsAndFixes, wantErrors)
	}

	wantDecisions := []types.DecisionPoint{{Question: "Which database?", Choice: "postgres"}}
	if !reflect.DeepEqual(s.Decisions, wantDecisions) {
		t.Errorf("Decisions = %v, want %v", s.Decisions, wantDecisions)
	}

	if !reflect.DeepEqual(s.UserInstructions, []string{"Also add docs"}) {
		t.Errorf("UserInstructions = %v", s.UserInstructions)
	}
	if len(s.PendingSteps) != 0 {
		t.Errorf("PendingSteps = %v, want none after recent success", s.PendingSteps)
	}
	if s.TurnRange != (types.TurnRange{Start: 0, End: 1}) {
		t.Errorf("TurnRange = %+v, want {0 1}", s.TurnRange)
	}
}

func TestRuleSummarizerPendingStep(t *testing.T) {
	t.Parallel()

	log := testutil.NewLog().
		User("Fix the build.").
		ToolError("run_tests", map[string]any{"command": "make"}, "exit 2").
		Interrupted("run_tests").
		User("Try again please").
		Log()

	s := NewRuleSummarizer(DefaultConfig()).Summarize(context.Background(), SummaryRequest{Messages: log})

	if !reflect.DeepEqual(s.PendingSteps, []string{"Continue: Try again please"}) {
		t.Errorf("PendingSteps = %v", s.PendingSteps)
	}
	if len(s.CompletedSteps) != 0 {
		t.Errorf("CompletedSteps = %v, want none for failed calls", s.CompletedSteps)
	}
	if len(s.ErrorsAndFixes) != 1 || s.ErrorsAndFixes[0].Fix != "" {
		t.Errorf("ErrorsAndFixes = %v, want one unresolved error", s.ErrorsAndFixes)
	}
}

func TestRuleSummarizerCapsInstructions(t *testing.T) {
	t.Parallel()

	b := testutil.NewLog().User("Start the project.")
	for i := 0; i < 8; i++ {
		b.User("instruction " + string(rune('a'+i)))
	}
	s := NewRuleSummarizer(DefaultConfig()).Summarize(context.Background(), SummaryRequest{Messages: b.Log()})

	want := []string{"instruction d", "instruction e", "instruction f", "instruction g", "instruction h"}
	if !reflect.DeepEqual(s.UserInstructions, want) {
		t.Errorf("UserInstructions = %v, want %v", s.UserInstructions, want)
	}
}

func TestRuleSummarizerEmptyLog(t *testing.T) {
	t.Parallel()

	s := NewRuleSummarizer(DefaultConfig()).Summarize(context.Background(), SummaryRequest{})
	if s.Objective != defaultObjective {
		t.Errorf("Objective = %q, want default", s.Objective)
	}

	s = NewRuleSummarizer(DefaultConfig()).Summarize(context.Background(), SummaryRequest{LastUserRequest: "Ship it. Now."})
	if s.Objective != "Ship it." {
		t.Errorf("Objective from last request = %q", s.Objective)
	}
}

func TestLeadingSentence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "plain", text: "Fix the bug. Then test.", want: "Fix the bug."},
		{name: "file name is not a terminator", text: "Update main.go to log errors. Thanks", want: "Update main.go to log errors."},
		{name: "question", text: "Can you help? Please.", want: "Can you help?"},
		{name: "terminator at end", text: "Done!", want: "Done!"},
		{name: "no terminator", text: "refactor the parser", want: "refactor the parser"},
		{name: "cjk", text: "修复这个错误。然后测试", want: "修复这个错误。"},
		{name: "version number", text: "Bump to v1.2 now. ok", want: "Bump to v1.2 now."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := leadingSentence(tt.text, maxObjectiveRunes); got != tt.want {
				t.Errorf("leadingSentence(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}

	long := strings.Repeat("word ", 100)
	if got := leadingSentence(long, maxObjectiveRunes); len([]rune(got)) > maxObjectiveRunes {
		t.Errorf("leadingSentence of long text has %d runes, want at most %d", len([]rune(got)), maxObjectiveRunes)
	}
}

func TestArgSummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		args string
		want string
	}{
		{`{"path":"a.go","content":"x"}`, "a.go"},
		{`{"file_path":"b.go"}`, "b.go"},
		{`{"command":"go test\n-v"}`, "go test"},
		{`{"n":1,"target":"prod"}`, "prod"},
		{`{}`, ""},
		{`not json`, ""},
	}
	for _, tt := range tests {
		if got := argSummary([]byte(tt.args)); got != tt.want {
			t.Errorf("argSummary(%s) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestClip(t *testing.T) {
	t.Parallel()

	if got := clip("héllo", 10); got != "héllo" {
		t.Errorf("clip short = %q", got)
	}
	if got := clip("héllo world", 5); got != "héllo..." {
		t.Errorf("clip long = %q", got)
	}
}

func TestRuleSummarizerHandoffKeepsUnsentRequest(t *testing.T) {
	t.Parallel()

	log := testutil.NewLog().
		User("Create a.go").
		Tool("write_file", map[string]any{"path": "a.go"}, "ok").
		Assistant("done").
		Log()

	tests := []struct {
		name    string
		mode    SummaryMode
		request string
		want    []string
	}{
		{"unsent request in handoff mode", ModeHandoff, "Now add tests for a.go\nand run them", []string{"Continue: Now add tests for a.go"}},
		{"request already in the log", ModeHandoff, "Create a.go", nil},
		{"detailed mode after a success", ModeDetailed, "Now add tests for a.go", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewRuleSummarizer(DefaultConfig()).Summarize(context.Background(), SummaryRequest{
				Messages:        log,
				Mode:            tt.mode,
				LastUserRequest: tt.request,
			})
			if !reflect.DeepEqual(s.PendingSteps, tt.want) {
				t.Errorf("PendingSteps = %#v, want %#v", s.PendingSteps, tt.want)
			}
		})
	}
}
