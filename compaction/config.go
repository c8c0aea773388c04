package compaction

import (
	"fmt"
	"time"
)

// Default configuration values.
const (
	DefaultPruneMinimumTokens   = 20000  // Don't prune for less than 20K tokens of savings
	DefaultPruneProtectTokens   = 40000  // Most recent 40K tokens of tool output stay intact
	DefaultKeepRecentTurns      = 2      // Last 2 turns are never pruned or summarized
	DefaultContextLimit         = 200000 // Claude Sonnet context window
	DefaultOutputReserve        = 4096   // Tokens reserved for the reply
	DefaultTargetRatio          = 0.85   // Leave 15% headroom
	DefaultTruncateMessageChars = 8000   // Level 1 per-message body cap
	DefaultSummaryTimeout       = 30 * time.Second
	DefaultSummaryMaxTokens     = 4096
	DefaultQuickContextChars    = 12000
	DefaultDetailedContextChars = 40000
	DefaultHandoffContextChars  = 80000
)

// DefaultProtectedTools are tools whose results carry decisions or plans and
// are never pruned.
var DefaultProtectedTools = []string{
	"ask_user",
	"ask_followup_question",
	"todo_read",
	"todo_write",
	"update_plan",
	"plan",
}

// SummaryContextChars bounds the transcript sent to the summarization model,
// per mode.
type SummaryContextChars struct {
	Quick    int `yaml:"quick" json:"quick"`
	Detailed int `yaml:"detailed" json:"detailed"`
	Handoff  int `yaml:"handoff" json:"handoff"`
}

// For returns the character budget for mode.
func (s SummaryContextChars) For(mode SummaryMode) int {
	switch mode {
	case ModeQuick:
		return s.Quick
	case ModeHandoff:
		return s.Handoff
	default:
		return s.Detailed
	}
}

// Config holds the context budget configuration.
type Config struct {
	// PruneMinimumTokens is the floor below which a prune plan is not worth applying.
	// Default: 20000
	PruneMinimumTokens int `yaml:"prune_minimum_tokens" json:"prune_minimum_tokens"`

	// PruneProtectTokens is how many tokens of the newest tool output are kept
	// before older tool results become prunable.
	// Default: 40000
	PruneProtectTokens int `yaml:"prune_protect_tokens" json:"prune_protect_tokens"`

	// KeepRecentTurns is the number of most recent turns that are never pruned,
	// truncated or summarized.
	// Default: 2
	KeepRecentTurns int `yaml:"keep_recent_turns" json:"keep_recent_turns"`

	// ContextLimit is the model's maximum context window in tokens.
	// Default: 200000
	ContextLimit int `yaml:"context_limit" json:"context_limit"`

	// OutputReserve is the number of tokens reserved for the model's reply.
	// Default: 4096
	OutputReserve int `yaml:"output_reserve" json:"output_reserve"`

	// TargetRatio is the usage ratio an assembled context must stay under.
	// Default: 0.85
	TargetRatio float64 `yaml:"target_ratio" json:"target_ratio"`

	// SummaryMaxContextChars bounds the transcript given to the summarization model.
	SummaryMaxContextChars SummaryContextChars `yaml:"summary_max_context_chars" json:"summary_max_context_chars"`

	// ProtectedTools lists tool names whose results are never pruned.
	// Default: DefaultProtectedTools
	ProtectedTools []string `yaml:"protected_tools" json:"protected_tools"`

	// TruncateMessageChars is the body size above which level 1 truncates a message.
	// Level 2 uses half of it.
	// Default: 8000
	TruncateMessageChars int `yaml:"truncate_message_chars" json:"truncate_message_chars"`

	// SummaryTimeout bounds a single summarization model call.
	// Default: 30s
	SummaryTimeout time.Duration `yaml:"summary_timeout" json:"summary_timeout"`

	// SummaryMaxTokens is the maximum tokens for the summarization response.
	// Default: 4096
	SummaryMaxTokens int `yaml:"summary_max_tokens" json:"summary_max_tokens"`

	// DisableLevelPrediction starts every turn at level 0 instead of the level
	// predicted from the previous turn.
	DisableLevelPrediction bool `yaml:"disable_level_prediction" json:"disable_level_prediction"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		PruneMinimumTokens: DefaultPruneMinimumTokens,
		PruneProtectTokens: DefaultPruneProtectTokens,
		KeepRecentTurns:    DefaultKeepRecentTurns,
		ContextLimit:       DefaultContextLimit,
		OutputReserve:      DefaultOutputReserve,
		TargetRatio:        DefaultTargetRatio,
		SummaryMaxContextChars: SummaryContextChars{
			Quick:    DefaultQuickContextChars,
			Detailed: DefaultDetailedContextChars,
			Handoff:  DefaultHandoffContextChars,
		},
		ProtectedTools:       append([]string(nil), DefaultProtectedTools...),
		TruncateMessageChars: DefaultTruncateMessageChars,
		SummaryTimeout:       DefaultSummaryTimeout,
		SummaryMaxTokens:     DefaultSummaryMaxTokens,
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.PruneMinimumTokens < 0 {
		return fmt.Errorf("%w: prune_minimum_tokens must be non-negative, got %d", ErrInvalidConfig, c.PruneMinimumTokens)
	}

	if c.PruneProtectTokens < 0 {
		return fmt.Errorf("%w: prune_protect_tokens must be non-negative, got %d", ErrInvalidConfig, c.PruneProtectTokens)
	}

	if c.KeepRecentTurns < 0 {
		return fmt.Errorf("%w: keep_recent_turns must be non-negative, got %d", ErrInvalidConfig, c.KeepRecentTurns)
	}

	if c.ContextLimit <= 0 {
		return fmt.Errorf("%w: context_limit must be positive, got %d", ErrInvalidConfig, c.ContextLimit)
	}

	if c.OutputReserve < 0 {
		return fmt.Errorf("%w: output_reserve must be non-negative, got %d", ErrInvalidConfig, c.OutputReserve)
	}

	if c.TargetRatio <= 0 || c.TargetRatio > 1.0 {
		return fmt.Errorf("%w: target_ratio must be between 0 and 1, got %f", ErrInvalidConfig, c.TargetRatio)
	}

	if c.Budget().Usable() <= 1 {
		return fmt.Errorf("%w: output_reserve (%d) leaves no usable budget in context_limit (%d) at ratio %.2f",
			ErrInvalidConfig, c.OutputReserve, c.ContextLimit, c.TargetRatio)
	}

	if c.TruncateMessageChars <= 0 {
		return fmt.Errorf("%w: truncate_message_chars must be positive, got %d", ErrInvalidConfig, c.TruncateMessageChars)
	}

	if c.SummaryTimeout <= 0 {
		return fmt.Errorf("%w: summary_timeout must be positive, got %s", ErrInvalidConfig, c.SummaryTimeout)
	}

	if c.SummaryMaxTokens <= 0 {
		return fmt.Errorf("%w: summary_max_tokens must be positive, got %d", ErrInvalidConfig, c.SummaryMaxTokens)
	}

	chars := c.SummaryMaxContextChars
	if chars.Quick <= 0 || chars.Detailed <= 0 || chars.Handoff <= 0 {
		return fmt.Errorf("%w: summary_max_context_chars must be positive for every mode", ErrInvalidConfig)
	}

	return nil
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.PruneMinimumTokens == 0 {
		c.PruneMinimumTokens = DefaultPruneMinimumTokens
	}
	if c.PruneProtectTokens == 0 {
		c.PruneProtectTokens = DefaultPruneProtectTokens
	}
	if c.KeepRecentTurns == 0 {
		c.KeepRecentTurns = DefaultKeepRecentTurns
	}
	if c.ContextLimit == 0 {
		c.ContextLimit = DefaultContextLimit
	}
	if c.OutputReserve == 0 {
		c.OutputReserve = DefaultOutputReserve
	}
	if c.TargetRatio == 0 {
		c.TargetRatio = DefaultTargetRatio
	}
	if c.SummaryMaxContextChars.Quick == 0 {
		c.SummaryMaxContextChars.Quick = DefaultQuickContextChars
	}
	if c.SummaryMaxContextChars.Detailed == 0 {
		c.SummaryMaxContextChars.Detailed = DefaultDetailedContextChars
	}
	if c.SummaryMaxContextChars.Handoff == 0 {
		c.SummaryMaxContextChars.Handoff = DefaultHandoffContextChars
	}
	if c.ProtectedTools == nil {
		c.ProtectedTools = append([]string(nil), DefaultProtectedTools...)
	}
	if c.TruncateMessageChars == 0 {
		c.TruncateMessageChars = DefaultTruncateMessageChars
	}
	if c.SummaryTimeout == 0 {
		c.SummaryTimeout = DefaultSummaryTimeout
	}
	if c.SummaryMaxTokens == 0 {
		c.SummaryMaxTokens = DefaultSummaryMaxTokens
	}
}

// Budget returns the token budget described by the configuration.
func (c *Config) Budget() TokenBudget {
	return TokenBudget{
		ContextLimit:  c.ContextLimit,
		OutputReserve: c.OutputReserve,
		TargetRatio:   c.TargetRatio,
	}
}
