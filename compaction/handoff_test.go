package compaction

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/agentctx/types"
)

func handoffSummary() *types.StructuredSummary {
	return &types.StructuredSummary{
		Objective:      "Add pagination to the API",
		CompletedSteps: []string{"edit_file: api/list.go"},
		PendingSteps:   []string{"Continue: add cursor support", "Write tests"},
		FileChanges: []types.FileChangeRecord{
			{Path: "api/list.go", Action: types.FileCreate},
			{Path: "api/cursor.go", Action: types.FileModify},
			{Path: "old/legacy.go", Action: types.FileDelete},
			{Path: "api/list.go", Action: types.FileModify},
		},
		Decisions:        []types.DecisionPoint{{Question: "Cursor or offset?", Choice: "cursor", Rationale: "stable under inserts"}},
		ErrorsAndFixes:   []types.ErrorFix{{Error: "go vet: unused x", Fix: "edit_file: api/list.go"}},
		UserInstructions: []string{"Keep the old endpoint"},
		TurnRange:        types.TurnRange{Start: 0, End: 12},
		Source:           types.SourceModel,
	}
}

func TestBuildHandoff(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	files := map[string]string{"api/list.go": "package api\n"}
	summary := handoffSummary()

	doc := BuildHandoff(summary, "sess-1", "/work/repo", HandoffOptions{
		ReadFile: func(path string) (string, error) {
			if c, ok := files[path]; ok {
				return c, nil
			}
			return "", errors.New("not found")
		},
		ProjectContext: "Go 1.26 service",
		Now:            func() time.Time { return now },
	})

	if _, err := uuid.Parse(doc.ID); err != nil {
		t.Errorf("ID %q is not a UUID: %v", doc.ID, err)
	}
	if doc.FromSessionID != "sess-1" || doc.WorkingDirectory != "/work/repo" {
		t.Errorf("session fields = %q, %q", doc.FromSessionID, doc.WorkingDirectory)
	}
	if !doc.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", doc.CreatedAt, now)
	}
	if doc.LastUserRequest != "add cursor support" {
		t.Errorf("LastUserRequest = %q", doc.LastUserRequest)
	}
	if len(doc.SuggestedNextSteps) != 2 {
		t.Errorf("SuggestedNextSteps = %v", doc.SuggestedNextSteps)
	}

	if len(doc.KeyFileSnapshots) != 2 {
		t.Fatalf("KeyFileSnapshots = %+v, want 2", doc.KeyFileSnapshots)
	}
	first := doc.KeyFileSnapshots[0]
	if first.Path != "api/list.go" || first.Reason != "modified in previous session" || first.Content != "package api\n" {
		t.Errorf("first snapshot = %+v", first)
	}
	if second := doc.KeyFileSnapshots[1]; second.Path != "api/cursor.go" || second.Content != "" {
		t.Errorf("second snapshot = %+v", second)
	}

	// The document owns its summary.
	summary.Objective = "changed"
	if doc.Summary.Objective != "Add pagination to the API" {
		t.Error("BuildHandoff did not copy the summary")
	}
}

func TestBuildHandoffCapsKeyFiles(t *testing.T) {
	t.Parallel()

	s := &types.StructuredSummary{Objective: "x"}
	for _, p := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		s.FileChanges = append(s.FileChanges, types.FileChangeRecord{Path: p + ".go", Action: types.FileCreate})
	}
	doc := BuildHandoff(s, "sess", "", HandoffOptions{LastUserRequest: "go on"})

	if len(doc.KeyFileSnapshots) != MaxKeyFiles {
		t.Fatalf("got %d snapshots, want %d", len(doc.KeyFileSnapshots), MaxKeyFiles)
	}
	if doc.KeyFileSnapshots[0].Path != "g.go" {
		t.Errorf("first snapshot = %q, want the most recent change", doc.KeyFileSnapshots[0].Path)
	}
	if doc.LastUserRequest != "go on" {
		t.Errorf("LastUserRequest = %q", doc.LastUserRequest)
	}
}

func TestBuildHandoffNilSummary(t *testing.T) {
	t.Parallel()

	doc := BuildHandoff(nil, "sess", "", HandoffOptions{})
	if doc.Summary == nil || doc.Summary.Objective == "" {
		t.Errorf("Summary = %+v, want default objective", doc.Summary)
	}
}

func TestRenderInjection(t *testing.T) {
	t.Parallel()

	doc := BuildHandoff(handoffSummary(), "sess-1", "/work/repo", HandoffOptions{
		ReadFile:       func(string) (string, error) { return "package api", nil },
		ProjectContext: "Uses chi.",
	})
	out := RenderInjection(doc)

	for _, want := range []string{
		"# Continuing from a previous session",
		"session sess-1",
		"`/work/repo`",
		"## Objective\n\nAdd pagination to the API",
		"## Decisions\n\n- Cursor or offset?: cursor (stable under inserts)",
		"- go vet: unused x -> edit_file: api/list.go",
		"## Key files",
		"- `api/list.go` (modified in previous session)",
		"```\npackage api\n```",
		"## Suggested next steps\n\n1. Continue: add cursor support\n2. Write tests",
		"## Last user request\n\nadd cursor support",
		"## Project context\n\nUses chi.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("injection missing %q\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") || strings.HasSuffix(out, "\n\n") {
		t.Error("injection should end with exactly one newline")
	}
}

func TestRenderSummary(t *testing.T) {
	t.Parallel()

	out := RenderSummary(handoffSummary())
	if !strings.HasPrefix(out, "[Compacted context: turns 0-12 were summarized]\n\n## Objective") {
		t.Errorf("RenderSummary() = %q", out)
	}
	if !strings.Contains(out, "- create `api/list.go`") {
		t.Errorf("file changes missing:\n%s", out)
	}
}
