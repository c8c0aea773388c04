package compaction

import (
	"fmt"
	"strings"

	"github.com/youssefsiam38/agentctx/types"
)

// SummarySystemPrompt instructs the model to answer with a JSON summary only.
const SummarySystemPrompt = `You summarize the conversation of an AI coding agent so the work can continue with less context.

Respond with a single JSON object and nothing else. No prose, no Markdown fences.

The object has these fields:
{
  "objective": "the user's overall goal in one sentence",
  "completedSteps": ["concrete actions already done"],
  "pendingSteps": ["concrete actions still to do, in order"],
  "decisions": [{"question": "what was decided", "choice": "the option chosen", "rationale": "why"}],
  "fileChanges": [{"path": "relative/path", "action": "create|modify|delete"}],
  "errorsAndFixes": [{"error": "what failed", "fix": "how it was resolved"}],
  "userInstructions": ["standing instructions or preferences from the user"]
}

Rules:
- Use only facts present in the conversation.
- Keep file paths, function names and error messages exact.
- Use empty arrays for fields with nothing to report.`

// handoffPromptAddendum is appended in handoff mode.
const handoffPromptAddendum = `

This summary seeds a brand-new session. Also include:
  "lastRequestStatus": "completed|partial|not_started"
describing whether the user's most recent request was finished. List everything unfinished in pendingSteps.`

// quickPromptAddendum is appended in quick mode.
const quickPromptAddendum = `

Keep every list to at most five short entries.`

// SystemPromptFor returns the system prompt for mode.
func SystemPromptFor(mode SummaryMode) string {
	switch mode {
	case ModeHandoff:
		return SummarySystemPrompt + handoffPromptAddendum
	case ModeQuick:
		return SummarySystemPrompt + quickPromptAddendum
	default:
		return SummarySystemPrompt
	}
}

// BuildSummaryUserPrompt wraps a transcript for the summarization request.
func BuildSummaryUserPrompt(transcript, lastRequest string) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation.\n\n<conversation>\n")
	b.WriteString(transcript)
	b.WriteString("\n</conversation>\n")
	if lastRequest != "" {
		b.WriteString("\n<last_user_request>\n")
		b.WriteString(lastRequest)
		b.WriteString("\n</last_user_request>\n")
	}
	b.WriteString("\nRespond with the JSON object only.")
	return b.String()
}

// maxToolResultChars caps one tool result inside a transcript.
const maxToolResultChars = 500

// formatForTranscript renders one message as transcript text. Checkpoints
// render as nothing.
func formatForTranscript(m types.Message) string {
	switch v := m.(type) {
	case *types.UserMessage:
		return "User: " + v.Text()
	case *types.AssistantMessage:
		var parts []string
		if text := v.Text(); text != "" {
			if v.Summary {
				parts = append(parts, "Assistant (earlier context): "+text)
			} else {
				parts = append(parts, "Assistant: "+text)
			}
		}
		for _, call := range v.ToolCalls() {
			parts = append(parts, fmt.Sprintf("[Tool call %s: %s]", call.Name, clipBytes(string(call.Arguments), maxToolResultChars)))
		}
		return strings.Join(parts, "\n")
	case *types.ToolMessage:
		content := v.Content
		if v.Compacted() {
			content = ClearedToolContent
		}
		label := "Tool result"
		if v.IsError {
			label = "Tool error"
		}
		return fmt.Sprintf("[%s %s: %s]", label, v.Name, clipBytes(content, maxToolResultChars))
	case *types.InterruptedToolMessage:
		return fmt.Sprintf("[Tool %s interrupted]", v.Name)
	}
	return ""
}

func clipBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:runeFloor(s, max-3)] + "..."
}

// buildTranscript walks messages from newest to oldest, keeping whole entries
// until budget characters are used, and returns them oldest first.
func buildTranscript(messages []types.Message, budget int) (string, int) {
	var (
		entries []string
		used    int
	)
	for i := len(messages) - 1; i >= 0; i-- {
		entry := formatForTranscript(messages[i])
		if entry == "" {
			continue
		}
		if used+len(entry)+2 > budget {
			break
		}
		entries = append(entries, entry)
		used += len(entry) + 2
	}
	for l, r := 0, len(entries)-1; l < r; l, r = l+1, r-1 {
		entries[l], entries[r] = entries[r], entries[l]
	}
	return strings.Join(entries, "\n\n"), len(entries)
}
