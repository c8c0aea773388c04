package render

import (
	"strings"
	"testing"

	"github.com/youssefsiam38/agentctx/types"
)

func TestHTML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		markdown string
		contains []string
		excludes []string
	}{
		{
			name:     "heading and list",
			markdown: "## Pending steps\n\n- write tests\n- ship\n",
			contains: []string{"<h2>Pending steps</h2>", "<li>write tests</li>", "<li>ship</li>"},
		},
		{
			name:     "inline code",
			markdown: "modify `api/list.go`",
			contains: []string{"<code>api/list.go</code>"},
		},
		{
			name:     "script removed",
			markdown: "Build it <script>alert(1)</script> now",
			contains: []string{"Build it"},
			excludes: []string{"<script"},
		},
		{
			name:     "event handler removed",
			markdown: `<img src="x.png" onerror="steal()">`,
			excludes: []string{"onerror"},
		},
		{
			name:     "javascript link removed",
			markdown: "[click](javascript:alert(1))",
			excludes: []string{"javascript:"},
		},
	}

	r := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.HTML(tt.markdown)
			if err != nil {
				t.Fatalf("HTML() error = %v", err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("HTML() = %q, missing %q", got, want)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("HTML() = %q, should not contain %q", got, bad)
				}
			}
		})
	}
}

func TestHandoff(t *testing.T) {
	t.Parallel()

	doc := &types.HandoffDocument{
		ID:               "h1",
		FromSessionID:    "thread-1",
		WorkingDirectory: "/repo",
		Summary: &types.StructuredSummary{
			Objective:    "Add <b>cursor</b> pagination",
			PendingSteps: []string{"Continue: add cursor support"},
		},
		KeyFileSnapshots:   []types.KeyFileSnapshot{{Path: "api/list.go", Reason: "modified in previous session"}},
		SuggestedNextSteps: []string{"Continue: add cursor support"},
	}

	got, err := New().Handoff(doc)
	if err != nil {
		t.Fatalf("Handoff() error = %v", err)
	}
	for _, want := range []string{
		"<h1>Continuing from a previous session</h1>",
		"<code>/repo</code>",
		"<b>cursor</b>",
		"<code>api/list.go</code>",
		"<ol>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Handoff() missing %q in:\n%s", want, got)
		}
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	got, err := New().Summary(&types.StructuredSummary{
		Objective: "Ship it",
		TurnRange: types.TurnRange{Start: 0, End: 3},
	})
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if !strings.Contains(got, "turns 0-3 were summarized") || !strings.Contains(got, "<h2>Objective</h2>") {
		t.Errorf("Summary() = %q", got)
	}
}

func TestPage(t *testing.T) {
	t.Parallel()

	got, err := New().Page("Handoff <1>", "# Title")
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if !strings.HasPrefix(got, "<!DOCTYPE html>") {
		t.Errorf("Page() should start with a doctype: %q", got)
	}
	if !strings.Contains(got, "<title>Handoff &lt;1&gt;</title>") {
		t.Errorf("Page() title not escaped: %q", got)
	}
	if !strings.Contains(got, "<h1>Title</h1>") {
		t.Errorf("Page() body missing heading: %q", got)
	}
}
