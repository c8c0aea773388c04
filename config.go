package agentctx

import (
	"fmt"
	"os"

	"github.com/youssefsiam38/agentctx/compaction"
	"gopkg.in/yaml.v3"
)

// DefaultMaxBackgroundSummaries bounds concurrent background refreshes
// across all threads.
const DefaultMaxBackgroundSummaries = 4

// Config holds the manager configuration. It can be loaded from YAML:
//
//	compaction:
//	  context_limit: 200000
//	  target_ratio: 0.85
//	  summary_timeout: 30s
//	summary_model: claude-haiku-4-5
//	max_background_summaries: 4
type Config struct {
	// Compaction is the budget and escalation configuration.
	Compaction compaction.Config `yaml:"compaction"`

	// SummaryModel is sent as the model name with summarization requests.
	// Empty uses the completer's default.
	SummaryModel string `yaml:"summary_model"`

	// MaxBackgroundSummaries bounds concurrent background refreshes.
	// Default: 4
	MaxBackgroundSummaries int `yaml:"max_background_summaries"`

	// DisableBackgroundSummaries turns off background summary refreshes.
	DisableBackgroundSummaries bool `yaml:"disable_background_summaries"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Compaction:             *compaction.DefaultConfig(),
		MaxBackgroundSummaries: DefaultMaxBackgroundSummaries,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	c.Compaction.ApplyDefaults()
	if c.MaxBackgroundSummaries == 0 {
		c.MaxBackgroundSummaries = DefaultMaxBackgroundSummaries
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Compaction.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.MaxBackgroundSummaries < 0 {
		return fmt.Errorf("%w: max_background_summaries must be non-negative, got %d", ErrInvalidConfig, c.MaxBackgroundSummaries)
	}
	return nil
}

// ParseConfig decodes YAML, applies defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ConfigProvider supplies the compaction configuration for each turn, so it
// can change without restarting the manager.
type ConfigProvider interface {
	GetConfig() compaction.Config
}

// StaticConfig is a ConfigProvider that always returns the same configuration.
type StaticConfig compaction.Config

// GetConfig implements ConfigProvider.
func (s StaticConfig) GetConfig() compaction.Config {
	return compaction.Config(s)
}
