package memory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the memory system tunables. Zero values are replaced by
// defaults; per-session overrides are applied at session creation.
type Config struct {
	// TokenBudget is the maximum estimated context size a session's
	// default-retrievable history may occupy.
	TokenBudget int `yaml:"token_budget"`

	// SummarizationThreshold is the fraction of TokenBudget at which
	// compaction triggers.
	SummarizationThreshold float64 `yaml:"summarization_threshold"`

	// MinRecentTurns is the number of newest turns compaction never
	// touches, regardless of budget pressure.
	MinRecentTurns int `yaml:"min_recent_turns"`

	// CompactionTargetFraction is the share of the current token total
	// a compaction window aims to cover.
	CompactionTargetFraction float64 `yaml:"compaction_target_fraction"`

	// OverfetchMultiplier is the candidate over-fetch factor for
	// filtered searches.
	OverfetchMultiplier int `yaml:"overfetch_multiplier"`
}

// DefaultConfig returns the standard tunables.
func DefaultConfig() Config {
	return Config{
		TokenBudget:              2000,
		SummarizationThreshold:   0.7,
		MinRecentTurns:           3,
		CompactionTargetFraction: 0.5,
		OverfetchMultiplier:      DefaultOverfetchMultiplier,
	}
}

// LoadConfig reads a YAML config file, fills unset fields with
// defaults, and validates ranges.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TokenBudget == 0 {
		c.TokenBudget = def.TokenBudget
	}
	if c.SummarizationThreshold == 0 {
		c.SummarizationThreshold = def.SummarizationThreshold
	}
	if c.MinRecentTurns == 0 {
		c.MinRecentTurns = def.MinRecentTurns
	}
	if c.CompactionTargetFraction == 0 {
		c.CompactionTargetFraction = def.CompactionTargetFraction
	}
	if c.OverfetchMultiplier == 0 {
		c.OverfetchMultiplier = def.OverfetchMultiplier
	}
	return c
}

func (c Config) validate() error {
	if c.TokenBudget <= 0 {
		return fmt.Errorf("%w: token_budget must be positive", ErrValidation)
	}
	if c.SummarizationThreshold <= 0 || c.SummarizationThreshold > 1 {
		return fmt.Errorf("%w: summarization_threshold must be in (0, 1]", ErrValidation)
	}
	if c.MinRecentTurns < 1 {
		return fmt.Errorf("%w: min_recent_turns must be >= 1", ErrValidation)
	}
	if c.CompactionTargetFraction <= 0 || c.CompactionTargetFraction > 1 {
		return fmt.Errorf("%w: compaction_target_fraction must be in (0, 1]", ErrValidation)
	}
	if c.OverfetchMultiplier < 1 {
		return fmt.Errorf("%w: overfetch_multiplier must be >= 1", ErrValidation)
	}
	return nil
}
