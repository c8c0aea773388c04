package types

import "time"

// KeyFileSnapshot points the next session at a file worth re-reading.
type KeyFileSnapshot struct {
	Path    string `json:"path"`
	Reason  string `json:"reason"`
	Content string `json:"content,omitempty"`
}

// HandoffDocument seeds a new thread from the summary of one that ran out of
// context. It is consumed exactly once.
type HandoffDocument struct {
	ID                 string             `json:"id"`
	Summary            *StructuredSummary `json:"summary"`
	FromSessionID      string             `json:"from_session_id"`
	WorkingDirectory   string             `json:"working_directory,omitempty"`
	KeyFileSnapshots   []KeyFileSnapshot  `json:"key_file_snapshots"`
	LastUserRequest    string             `json:"last_user_request,omitempty"`
	SuggestedNextSteps []string           `json:"suggested_next_steps"`
	ProjectContext     string             `json:"project_context,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	ConsumedAt         *time.Time         `json:"consumed_at,omitempty"`
	ConsumedBy         string             `json:"consumed_by,omitempty"`
}

// Consumed reports whether the document has already seeded a thread.
func (d *HandoffDocument) Consumed() bool { return d.ConsumedAt != nil }

// ThreadState is the per-thread bookkeeping carried between turns.
type ThreadState struct {
	ThreadID string `json:"thread_id"`

	// LastLevel is the compression level applied on the previous turn.
	LastLevel CompressionLevel `json:"last_level"`

	// LastRatio is the usage ratio measured on the previous turn.
	LastRatio float64 `json:"last_ratio"`

	// HandoffRequired blocks further turns until a handoff is consumed.
	HandoffRequired bool `json:"handoff_required"`

	// HandoffSummary is the handoff-mode summary produced at level 4.
	HandoffSummary *StructuredSummary `json:"handoff_summary,omitempty"`

	// HandoffRequest is the user request that could not be sent when the
	// thread reached level 4.
	HandoffRequest string `json:"handoff_request,omitempty"`

	// HandoffContext is the rendered injection received from a consumed
	// handoff, prepended to this thread's system prompt.
	HandoffContext string `json:"handoff_context,omitempty"`

	// LastUsage is the usage reported by the model for the previous turn.
	LastUsage Usage `json:"last_usage"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewThreadState returns the state of a thread that has never been assembled.
func NewThreadState(threadID string) *ThreadState {
	return &ThreadState{ThreadID: threadID, LastLevel: LevelFull}
}
