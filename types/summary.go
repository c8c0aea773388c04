package types

import "time"

// Caps applied by StructuredSummary.Normalize.
const (
	MaxUserInstructions = 5
	MaxCompletedSteps   = 20
)

// FileAction is the kind of change made to a file.
type FileAction string

const (
	FileCreate FileAction = "create"
	FileModify FileAction = "modify"
	FileDelete FileAction = "delete"
)

// SummarySource records which strategy produced a summary.
type SummarySource string

const (
	SourceRules SummarySource = "rules"
	SourceModel SummarySource = "model"
)

// RequestStatus is the model's assessment of the last user request in handoff mode.
type RequestStatus string

const (
	StatusCompleted  RequestStatus = "completed"
	StatusPartial    RequestStatus = "partial"
	StatusNotStarted RequestStatus = "not_started"
)

// DecisionPoint is a choice made during the conversation.
type DecisionPoint struct {
	Question  string `json:"question"`
	Choice    string `json:"choice"`
	Rationale string `json:"rationale,omitempty"`
}

// FileChangeRecord is a file touched by a successful tool call.
type FileChangeRecord struct {
	Path   string     `json:"path"`
	Action FileAction `json:"action"`
}

// ErrorFix pairs an error that occurred with how it was resolved.
type ErrorFix struct {
	Error string `json:"error"`
	Fix   string `json:"fix,omitempty"`
}

// TurnRange is the inclusive range of turns a summary covers, counted by user
// messages from zero.
type TurnRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// StructuredSummary condenses a run of older messages into the facts needed
// to continue the work.
type StructuredSummary struct {
	Objective        string             `json:"objective"`
	CompletedSteps   []string           `json:"completed_steps"`
	PendingSteps     []string           `json:"pending_steps"`
	Decisions        []DecisionPoint    `json:"decisions"`
	FileChanges      []FileChangeRecord `json:"file_changes"`
	ErrorsAndFixes   []ErrorFix         `json:"errors_and_fixes"`
	UserInstructions []string           `json:"user_instructions"`
	GeneratedAt      time.Time          `json:"generated_at"`
	TurnRange        TurnRange          `json:"turn_range"`

	Source            SummarySource `json:"source"`
	LastRequestStatus RequestStatus `json:"last_request_status,omitempty"`
	Generation        uint64        `json:"generation,omitempty"`
}

// Normalize deduplicates file changes by (path, action) and caps user
// instructions and completed steps to their most recent entries.
func (s *StructuredSummary) Normalize() {
	if s == nil {
		return
	}
	s.FileChanges = dedupeFileChanges(s.FileChanges)
	s.CompletedSteps = keepLast(dedupeStrings(s.CompletedSteps), MaxCompletedSteps)
	s.UserInstructions = keepLast(dedupeStrings(s.UserInstructions), MaxUserInstructions)
	s.PendingSteps = dedupeStrings(s.PendingSteps)
}

// Clone returns a deep copy of s.
func (s *StructuredSummary) Clone() *StructuredSummary {
	if s == nil {
		return nil
	}
	c := *s
	c.CompletedSteps = append([]string(nil), s.CompletedSteps...)
	c.PendingSteps = append([]string(nil), s.PendingSteps...)
	c.Decisions = append([]DecisionPoint(nil), s.Decisions...)
	c.FileChanges = append([]FileChangeRecord(nil), s.FileChanges...)
	c.ErrorsAndFixes = append([]ErrorFix(nil), s.ErrorsAndFixes...)
	c.UserInstructions = append([]string(nil), s.UserInstructions...)
	return &c
}

func dedupeFileChanges(in []FileChangeRecord) []FileChangeRecord {
	if len(in) == 0 {
		return in
	}
	seen := make(map[FileChangeRecord]struct{}, len(in))
	out := in[:0:0]
	for _, fc := range in {
		if _, ok := seen[fc]; ok {
			continue
		}
		seen[fc] = struct{}{}
		out = append(out, fc)
	}
	return out
}

// dedupeStrings keeps the last occurrence of each value so recency ordering is
// preserved for capping.
func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return in
	}
	last := make(map[string]int, len(in))
	for i, v := range in {
		last[v] = i
	}
	out := make([]string, 0, len(last))
	for i, v := range in {
		if v == "" || last[v] != i {
			continue
		}
		out = append(out, v)
	}
	return out
}

func keepLast(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return append([]string(nil), in[len(in)-n:]...)
}
