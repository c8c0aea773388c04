package compaction

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/youssefsiam38/agentctx/types"
)

const (
	maxObjectiveRunes   = 200
	maxInstructionRunes = 200
	maxArgSummaryRunes  = 80
	maxErrorRunes       = 200
	maxRequestRunes     = 200
	pendingLookback     = 5
)

// defaultObjective is used when a log holds no user text at all.
const defaultObjective = "Continue the work from the previous session"

// fileActions maps file-mutating tools to the change they make.
var fileActions = map[string]types.FileAction{
	"write_file":           types.FileCreate,
	"create_file":          types.FileCreate,
	"edit_file":            types.FileModify,
	"replace_file_content": types.FileModify,
	"delete_file":          types.FileDelete,
}

// argSummaryKeys are tried in order when describing a tool call.
var argSummaryKeys = []string{"path", "file_path", "command", "query", "pattern", "url"}

// RuleSummarizer extracts a summary deterministically from tool calls and
// user messages. It needs no model and cannot fail.
type RuleSummarizer struct {
	protected map[string]struct{}
	now       func() time.Time
}

// NewRuleSummarizer creates a RuleSummarizer. Results of cfg.ProtectedTools
// that carry a question are recorded as decisions.
func NewRuleSummarizer(cfg *Config) *RuleSummarizer {
	protected := make(map[string]struct{}, len(cfg.ProtectedTools))
	for _, name := range cfg.ProtectedTools {
		protected[name] = struct{}{}
	}
	return &RuleSummarizer{protected: protected, now: time.Now}
}

// Summarize implements Summarizer.
func (r *RuleSummarizer) Summarize(_ context.Context, req SummaryRequest) *types.StructuredSummary {
	s := &types.StructuredSummary{
		Objective:   extractObjective(req.Messages, req.lastRequest()),
		GeneratedAt: r.now(),
		TurnRange:   turnRangeOf(req.Messages, req.TurnOffset),
		Source:      types.SourceRules,
	}

	results := indexResults(req.Messages)

	var pendingErrors []int
	for _, m := range req.Messages {
		switch v := m.(type) {
		case *types.AssistantMessage:
			for _, call := range v.ToolCalls() {
				res, ok := results[call.ID]
				if !ok || res.IsError {
					continue
				}
				step := describeCall(call)
				s.CompletedSteps = append(s.CompletedSteps, step)
				if action, ok := fileActions[call.Name]; ok {
					if path := filePath(call.Arguments); path != "" {
						s.FileChanges = append(s.FileChanges, types.FileChangeRecord{Path: path, Action: action})
					}
				}
				if _, ok := r.protected[call.Name]; ok {
					if q := gjson.GetBytes(call.Arguments, "question").String(); q != "" {
						s.Decisions = append(s.Decisions, types.DecisionPoint{
							Question: clip(q, maxInstructionRunes),
							Choice:   clip(strings.TrimSpace(res.Content), maxInstructionRunes),
						})
					}
				}
				// The first success of the same tool resolves earlier failures.
				for _, idx := range pendingErrors {
					if s.ErrorsAndFixes[idx].Fix == "" && strings.HasPrefix(s.ErrorsAndFixes[idx].Error, call.Name+": ") {
						s.ErrorsAndFixes[idx].Fix = step
					}
				}
			}
		case *types.ToolMessage:
			if !v.IsError {
				continue
			}
			pendingErrors = append(pendingErrors, len(s.ErrorsAndFixes))
			s.ErrorsAndFixes = append(s.ErrorsAndFixes, types.ErrorFix{
				Error: v.Name + ": " + clip(firstLine(v.Content), maxErrorRunes),
			})
		}
	}

	first := true
	for _, m := range req.Messages {
		um, ok := m.(*types.UserMessage)
		if !ok {
			continue
		}
		if first {
			first = false
			continue
		}
		if text := strings.TrimSpace(um.Text()); text != "" {
			s.UserInstructions = append(s.UserInstructions, clip(text, maxInstructionRunes))
		}
	}

	if last := req.lastRequest(); last != "" && !recentSuccess(req.Messages, pendingLookback) {
		s.PendingSteps = []string{continueStep(last)}
	}
	// A handoff request missing from the log was never answered.
	if req.Mode == ModeHandoff && req.LastUserRequest != "" &&
		strings.TrimSpace(req.LastUserRequest) != strings.TrimSpace(types.ConversationLog(req.Messages).LastUserText()) {
		ensureContinuation(s, req.LastUserRequest)
	}

	s.Normalize()
	return s
}

// extractObjective returns the leading sentence of the first user message.
func extractObjective(messages []types.Message, fallback string) string {
	for _, m := range messages {
		if um, ok := m.(*types.UserMessage); ok {
			if text := strings.TrimSpace(um.Text()); text != "" {
				return leadingSentence(text, maxObjectiveRunes)
			}
		}
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return leadingSentence(fallback, maxObjectiveRunes)
	}
	return defaultObjective
}

// leadingSentence returns text up to and including its first sentence
// terminator, within max runes. ASCII terminators only end a sentence when
// followed by whitespace or the end of text, so "main.go" stays whole.
// Without a terminator inside the cap the raw prefix is returned.
func leadingSentence(text string, max int) string {
	n := 0
	for i, r := range text {
		if n == max {
			return strings.TrimSpace(text[:i])
		}
		n++
		switch r {
		case '。', '！', '？':
			return strings.TrimSpace(text[:i+utf8.RuneLen(r)])
		case '.', '!', '?':
			next := i + 1
			if next == len(text) {
				return strings.TrimSpace(text)
			}
			if nr, _ := utf8.DecodeRuneInString(text[next:]); unicode.IsSpace(nr) {
				return strings.TrimSpace(text[:next])
			}
		}
	}
	return strings.TrimSpace(text)
}

// indexResults maps tool call IDs to their results. Interrupted calls are
// recorded as failures.
func indexResults(messages []types.Message) map[string]*types.ToolMessage {
	results := make(map[string]*types.ToolMessage)
	for _, m := range messages {
		switch v := m.(type) {
		case *types.ToolMessage:
			results[v.ToolCallID] = v
		case *types.InterruptedToolMessage:
			results[v.ToolCallID] = &types.ToolMessage{ToolCallID: v.ToolCallID, Name: v.Name, IsError: true}
		}
	}
	return results
}

// recentSuccess reports whether the last n messages include a successful tool result.
func recentSuccess(messages []types.Message, n int) bool {
	start := len(messages) - n
	if start < 0 {
		start = 0
	}
	for _, m := range messages[start:] {
		if tm, ok := m.(*types.ToolMessage); ok && !tm.IsError {
			return true
		}
	}
	return false
}

func describeCall(call types.ToolCall) string {
	if arg := argSummary(call.Arguments); arg != "" {
		return call.Name + ": " + arg
	}
	return call.Name
}

func argSummary(args []byte) string {
	if len(args) == 0 || !gjson.ValidBytes(args) {
		return ""
	}
	for _, key := range argSummaryKeys {
		if v := gjson.GetBytes(args, key); v.Type == gjson.String && v.Str != "" {
			return clip(firstLine(v.Str), maxArgSummaryRunes)
		}
	}
	var first string
	gjson.ParseBytes(args).ForEach(func(_, value gjson.Result) bool {
		if value.Type == gjson.String && value.Str != "" {
			first = value.Str
			return false
		}
		return true
	})
	return clip(firstLine(first), maxArgSummaryRunes)
}

func filePath(args []byte) string {
	if len(args) == 0 {
		return ""
	}
	if p := gjson.GetBytes(args, "path").String(); p != "" {
		return p
	}
	return gjson.GetBytes(args, "file_path").String()
}

func continueStep(request string) string {
	return "Continue: " + clip(firstLine(strings.TrimSpace(request)), maxRequestRunes)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// clip shortens s to max runes, appending an ellipsis when cut.
func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
