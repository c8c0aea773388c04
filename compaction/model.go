package compaction

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/youssefsiam38/agentctx/llm"
	"github.com/youssefsiam38/agentctx/types"
)

// continuationPrefixRunes is how much of the last request must appear in a
// pending step for it to count as represented.
const continuationPrefixRunes = 50

// FallbackFunc is notified when a model summary could not be used.
type FallbackFunc func(mode SummaryMode, err error)

// ModelSummarizer asks a model for a structured summary and merges it with the
// rule-based extraction. Any failure falls back to the rule-based summary.
type ModelSummarizer struct {
	completer  llm.Completer
	rules      *RuleSummarizer
	chars      SummaryContextChars
	maxTokens  int
	timeout    time.Duration
	model      string
	logger     Logger
	onFallback FallbackFunc
	now        func() time.Time
}

// NewModelSummarizer creates a ModelSummarizer. A nil completer makes it
// behave exactly like the rule-based summarizer.
func NewModelSummarizer(completer llm.Completer, cfg *Config, logger Logger) *ModelSummarizer {
	return &ModelSummarizer{
		completer: completer,
		rules:     NewRuleSummarizer(cfg),
		chars:     cfg.SummaryMaxContextChars,
		maxTokens: cfg.SummaryMaxTokens,
		timeout:   cfg.SummaryTimeout,
		logger:    orNop(logger),
		now:       time.Now,
	}
}

// WithModel sets the model name sent with each request.
func (m *ModelSummarizer) WithModel(model string) *ModelSummarizer {
	m.model = model
	return m
}

// OnFallback registers fn to be called whenever the rule-based summary is
// used because the model call failed.
func (m *ModelSummarizer) OnFallback(fn FallbackFunc) *ModelSummarizer {
	m.onFallback = fn
	return m
}

// Summarize implements Summarizer.
func (m *ModelSummarizer) Summarize(ctx context.Context, req SummaryRequest) *types.StructuredSummary {
	base := m.rules.Summarize(ctx, req)
	if m.completer == nil || len(req.Messages) == 0 {
		return base
	}

	start := m.now()
	modelSummary, usage, err := m.callModel(ctx, req)
	if err != nil {
		m.logger.Warn("model summary failed, using rule-based summary",
			"mode", req.Mode,
			"messages", len(req.Messages),
			"error", err,
		)
		if m.onFallback != nil {
			m.onFallback(req.Mode, err)
		}
		return base
	}

	merged := MergeSummaries(modelSummary, base)
	merged.GeneratedAt = m.now()
	if req.Mode == ModeHandoff {
		ensureContinuation(merged, req.lastRequest())
	}
	merged.Normalize()

	m.logger.Debug("model summary complete",
		"mode", req.Mode,
		"messages", len(req.Messages),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"duration", m.now().Sub(start),
	)
	return merged
}

func (m *ModelSummarizer) callModel(ctx context.Context, req SummaryRequest) (*types.StructuredSummary, llm.Usage, error) {
	transcript, included := buildTranscript(req.Messages, m.chars.For(req.Mode))
	if included == 0 {
		return nil, llm.Usage{}, fmt.Errorf("%w: no message fits the transcript budget", ErrSummarizationFailed)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	resp, err := m.completer.Complete(ctx, llm.Request{
		SystemPrompt: SystemPromptFor(req.Mode),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: BuildSummaryUserPrompt(transcript, req.lastRequest())},
		},
		MaxTokens:   m.maxTokens,
		Temperature: 0,
		Model:       m.model,
	})
	if err != nil {
		return nil, llm.Usage{}, fmt.Errorf("%w: %w", ErrSummarizationFailed, err)
	}

	summary, err := ParseSummary(resp.Content)
	if err != nil {
		return nil, resp.Usage, err
	}
	summary.TurnRange = turnRangeOf(req.Messages, req.TurnOffset)
	return summary, resp.Usage, nil
}

// ParseSummary reads the first balanced JSON object in text as a summary.
// Unknown fields are ignored and both camelCase and snake_case keys are
// accepted.
func ParseSummary(text string) (*types.StructuredSummary, error) {
	raw := firstJSONObject(text)
	if raw == "" || !gjson.Valid(raw) {
		return nil, ErrMalformedSummary
	}
	r := gjson.Parse(raw)

	s := &types.StructuredSummary{
		Objective:        strings.TrimSpace(field(r, "objective").String()),
		CompletedSteps:   stringList(field(r, "completedSteps", "completed_steps")),
		PendingSteps:     stringList(field(r, "pendingSteps", "pending_steps")),
		UserInstructions: stringList(field(r, "userInstructions", "user_instructions")),
		Source:           types.SourceModel,
	}

	field(r, "decisions").ForEach(func(_, v gjson.Result) bool {
		d := types.DecisionPoint{Question: v.String()}
		if v.IsObject() {
			d = types.DecisionPoint{
				Question:  v.Get("question").String(),
				Choice:    v.Get("choice").String(),
				Rationale: v.Get("rationale").String(),
			}
		}
		if d.Question != "" || d.Choice != "" {
			s.Decisions = append(s.Decisions, d)
		}
		return true
	})

	field(r, "fileChanges", "file_changes").ForEach(func(_, v gjson.Result) bool {
		path := v.Get("path").String()
		action := types.FileAction(strings.ToLower(v.Get("action").String()))
		switch action {
		case types.FileCreate, types.FileModify, types.FileDelete:
		default:
			return true
		}
		if path != "" {
			s.FileChanges = append(s.FileChanges, types.FileChangeRecord{Path: path, Action: action})
		}
		return true
	})

	field(r, "errorsAndFixes", "errors_and_fixes").ForEach(func(_, v gjson.Result) bool {
		ef := types.ErrorFix{Error: v.String()}
		if v.IsObject() {
			ef = types.ErrorFix{Error: v.Get("error").String(), Fix: v.Get("fix").String()}
		}
		if ef.Error != "" {
			s.ErrorsAndFixes = append(s.ErrorsAndFixes, ef)
		}
		return true
	})

	switch status := types.RequestStatus(field(r, "lastRequestStatus", "last_request_status").String()); status {
	case types.StatusCompleted, types.StatusPartial, types.StatusNotStarted:
		s.LastRequestStatus = status
	}

	return s, nil
}

func field(r gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func stringList(r gjson.Result) []string {
	var out []string
	r.ForEach(func(_, v gjson.Result) bool {
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

// firstJSONObject returns the first balanced {...} substring of text, or ""
// if there is none. Braces inside JSON strings are ignored.
func firstJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// MergeSummaries combines two summaries of overlapping history. The objective
// and pending steps of preferred win when present; list fields are unioned so
// entries from other are never lost to a sparse preferred summary.
func MergeSummaries(preferred, other *types.StructuredSummary) *types.StructuredSummary {
	switch {
	case preferred == nil:
		return other.Clone()
	case other == nil:
		return preferred.Clone()
	}

	out := preferred.Clone()
	if out.Objective == "" {
		out.Objective = other.Objective
	}
	if len(out.PendingSteps) == 0 {
		out.PendingSteps = append([]string(nil), other.PendingSteps...)
	}
	out.CompletedSteps = union(preferred.CompletedSteps, other.CompletedSteps)
	out.UserInstructions = union(preferred.UserInstructions, other.UserInstructions)
	out.FileChanges = append(append([]types.FileChangeRecord(nil), other.FileChanges...), preferred.FileChanges...)
	out.Decisions = unionDecisions(other.Decisions, preferred.Decisions)
	out.ErrorsAndFixes = unionErrors(other.ErrorsAndFixes, preferred.ErrorsAndFixes)
	if out.LastRequestStatus == "" {
		out.LastRequestStatus = other.LastRequestStatus
	}
	if other.TurnRange.Start < out.TurnRange.Start {
		out.TurnRange.Start = other.TurnRange.Start
	}
	if other.TurnRange.End > out.TurnRange.End {
		out.TurnRange.End = other.TurnRange.End
	}
	if other.Generation > out.Generation {
		out.Generation = other.Generation
	}
	out.Normalize()
	return out
}

// union returns a followed by the entries of b not already in a. Entries of b
// come last so they survive recency caps.
func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok || v == "" {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func unionDecisions(a, b []types.DecisionPoint) []types.DecisionPoint {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []types.DecisionPoint
	for _, list := range [][]types.DecisionPoint{a, b} {
		for _, d := range list {
			key := d.Question + "\x00" + d.Choice
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

func unionErrors(a, b []types.ErrorFix) []types.ErrorFix {
	index := make(map[string]int, len(a)+len(b))
	var out []types.ErrorFix
	for _, list := range [][]types.ErrorFix{a, b} {
		for _, ef := range list {
			if i, ok := index[ef.Error]; ok {
				if out[i].Fix == "" {
					out[i].Fix = ef.Fix
				}
				continue
			}
			index[ef.Error] = len(out)
			out = append(out, ef)
		}
	}
	return out
}

// ensureContinuation prepends a "Continue:" step for an unfinished last
// request that the pending steps do not already mention.
func ensureContinuation(s *types.StructuredSummary, lastRequest string) {
	lastRequest = firstLine(lastRequest)
	if lastRequest == "" || s.LastRequestStatus == types.StatusCompleted {
		return
	}
	prefix := strings.ToLower(runePrefix(lastRequest, continuationPrefixRunes))
	for _, step := range s.PendingSteps {
		if strings.Contains(strings.ToLower(step), prefix) {
			return
		}
	}
	s.PendingSteps = append([]string{continueStep(lastRequest)}, s.PendingSteps...)
}

func runePrefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
