package compaction

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/agentctx/types"
)

// MaxKeyFiles caps the file snapshots carried by a handoff document.
const MaxKeyFiles = 5

// HandoffOptions customizes BuildHandoff.
type HandoffOptions struct {
	// LastUserRequest overrides the request recorded in the document.
	LastUserRequest string

	// ReadFile, when set, fills snapshot contents. Errors leave the content blank.
	ReadFile func(path string) (string, error)

	// ProjectContext is attached verbatim.
	ProjectContext string

	// Now defaults to time.Now.
	Now func() time.Time
}

// BuildHandoff packages summary into a document that seeds a new session.
// The most recent non-delete file changes become key file snapshots and the
// pending steps become the suggested next steps.
func BuildHandoff(summary *types.StructuredSummary, sessionID, workingDirectory string, opts HandoffOptions) *types.HandoffDocument {
	if summary == nil {
		summary = &types.StructuredSummary{Objective: defaultObjective, Source: types.SourceRules}
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	doc := &types.HandoffDocument{
		ID:                 uuid.NewString(),
		Summary:            summary.Clone(),
		FromSessionID:      sessionID,
		WorkingDirectory:   workingDirectory,
		LastUserRequest:    opts.LastUserRequest,
		SuggestedNextSteps: append([]string(nil), summary.PendingSteps...),
		ProjectContext:     opts.ProjectContext,
		CreatedAt:          now(),
	}
	if doc.LastUserRequest == "" {
		doc.LastUserRequest = requestFromSteps(summary.PendingSteps)
	}

	seen := make(map[string]struct{})
	for i := len(summary.FileChanges) - 1; i >= 0 && len(doc.KeyFileSnapshots) < MaxKeyFiles; i-- {
		fc := summary.FileChanges[i]
		if fc.Action == types.FileDelete {
			continue
		}
		if _, ok := seen[fc.Path]; ok {
			continue
		}
		seen[fc.Path] = struct{}{}
		snap := types.KeyFileSnapshot{Path: fc.Path, Reason: snapshotReason(fc.Action)}
		if opts.ReadFile != nil {
			if content, err := opts.ReadFile(fc.Path); err == nil {
				snap.Content = content
			}
		}
		doc.KeyFileSnapshots = append(doc.KeyFileSnapshots, snap)
	}

	return doc
}

func snapshotReason(action types.FileAction) string {
	if action == types.FileCreate {
		return "created in previous session"
	}
	return "modified in previous session"
}

func requestFromSteps(steps []string) string {
	for _, s := range steps {
		if rest, ok := strings.CutPrefix(s, "Continue: "); ok {
			return rest
		}
	}
	return ""
}

// RenderInjection renders doc as Markdown to prepend to the new thread's
// system prompt.
func RenderInjection(doc *types.HandoffDocument) string {
	var b strings.Builder
	b.WriteString("# Continuing from a previous session\n\n")
	fmt.Fprintf(&b, "This session continues session %s, which ran out of context.", doc.FromSessionID)
	if doc.WorkingDirectory != "" {
		fmt.Fprintf(&b, " Working directory: `%s`.", doc.WorkingDirectory)
	}
	b.WriteString("\n\n")

	writeSummarySections(&b, doc.Summary, "##")

	if len(doc.KeyFileSnapshots) > 0 {
		b.WriteString("## Key files\n\n")
		for _, snap := range doc.KeyFileSnapshots {
			fmt.Fprintf(&b, "- `%s` (%s)\n", snap.Path, snap.Reason)
			if snap.Content != "" {
				fmt.Fprintf(&b, "\n```\n%s\n```\n\n", strings.TrimRight(snap.Content, "\n"))
			}
		}
		b.WriteString("\n")
	}

	if len(doc.SuggestedNextSteps) > 0 {
		b.WriteString("## Suggested next steps\n\n")
		for i, step := range doc.SuggestedNextSteps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
		b.WriteString("\n")
	}

	if doc.LastUserRequest != "" {
		fmt.Fprintf(&b, "## Last user request\n\n%s\n\n", doc.LastUserRequest)
	}

	if doc.ProjectContext != "" {
		fmt.Fprintf(&b, "## Project context\n\n%s\n", strings.TrimSpace(doc.ProjectContext))
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// RenderSummary renders s as the body of a compacted-context message.
func RenderSummary(s *types.StructuredSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Compacted context: turns %d-%d were summarized]\n\n", s.TurnRange.Start, s.TurnRange.End)
	writeSummarySections(&b, s, "##")
	return strings.TrimRight(b.String(), "\n")
}

func writeSummarySections(b *strings.Builder, s *types.StructuredSummary, heading string) {
	if s == nil {
		return
	}
	if s.Objective != "" {
		fmt.Fprintf(b, "%s Objective\n\n%s\n\n", heading, s.Objective)
	}
	writeList(b, heading+" Completed steps", s.CompletedSteps)
	writeList(b, heading+" Pending steps", s.PendingSteps)

	if len(s.FileChanges) > 0 {
		fmt.Fprintf(b, "%s File changes\n\n", heading)
		for _, fc := range s.FileChanges {
			fmt.Fprintf(b, "- %s `%s`\n", fc.Action, fc.Path)
		}
		b.WriteString("\n")
	}

	if len(s.Decisions) > 0 {
		fmt.Fprintf(b, "%s Decisions\n\n", heading)
		for _, d := range s.Decisions {
			line := d.Question
			if d.Choice != "" {
				line += ": " + d.Choice
			}
			if d.Rationale != "" {
				line += " (" + d.Rationale + ")"
			}
			fmt.Fprintf(b, "- %s\n", line)
		}
		b.WriteString("\n")
	}

	if len(s.ErrorsAndFixes) > 0 {
		fmt.Fprintf(b, "%s Errors and fixes\n\n", heading)
		for _, ef := range s.ErrorsAndFixes {
			if ef.Fix != "" {
				fmt.Fprintf(b, "- %s -> %s\n", ef.Error, ef.Fix)
				continue
			}
			fmt.Fprintf(b, "- %s\n", ef.Error)
		}
		b.WriteString("\n")
	}

	writeList(b, heading+" User instructions", s.UserInstructions)
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title)
	b.WriteString("\n\n")
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}
