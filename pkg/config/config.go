package config

import (
	"fmt"
	"time"

	"github.com/pagelift/engine/pkg/logger"
)

// Config holds the engine configuration
type Config struct {
	// Logging controls the engine logger
	Logging logger.Config `json:"logging" mapstructure:"logging"`

	// Classifier controls complexity classification
	Classifier ClassifierConfig `json:"classifier" mapstructure:"classifier"`

	// Budget controls per-tier step budgets
	Budget BudgetConfig `json:"budget" mapstructure:"budget"`

	// Models controls model selection
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Recovery controls error recovery behavior
	Recovery RecoveryConfig `json:"recovery" mapstructure:"recovery"`

	// State controls state tracking and expiry
	State StateConfig `json:"state" mapstructure:"state"`

	// StepTimeout bounds each gateway call
	StepTimeout time.Duration `json:"step_timeout" mapstructure:"step_timeout"`
}

// ClassifierConfig configures the complexity classifier
type ClassifierConfig struct {
	HybridEnabled bool          `json:"hybrid_enabled" mapstructure:"hybrid_enabled"`
	CacheTTL      time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	AmbiguousLow  float64       `json:"ambiguous_low" mapstructure:"ambiguous_low"`
	AmbiguousHigh float64       `json:"ambiguous_high" mapstructure:"ambiguous_high"`
}

// BudgetConfig configures per-tier step budgets
type BudgetConfig struct {
	Simple   int `json:"simple" mapstructure:"simple"`
	Moderate int `json:"moderate" mapstructure:"moderate"`
	Complex  int `json:"complex" mapstructure:"complex"`
	Advanced int `json:"advanced" mapstructure:"advanced"`

	// FinalizingTool is the tool whose invocation signals the task is done
	FinalizingTool string `json:"finalizing_tool" mapstructure:"finalizing_tool"`

	// CompletionMarker is the text marker signaling natural completion
	CompletionMarker string `json:"completion_marker" mapstructure:"completion_marker"`
}

// ModelsConfig configures strong/weak model selection
type ModelsConfig struct {
	Provider  string  `json:"provider" mapstructure:"provider"` // "anthropic", "openai"
	APIKey    string  `json:"api_key" mapstructure:"api_key"`
	Strong    string  `json:"strong" mapstructure:"strong"`
	Weak      string  `json:"weak" mapstructure:"weak"`
	Threshold float64 `json:"threshold" mapstructure:"threshold"`
}

// RecoveryConfig configures the recovery strategist
type RecoveryConfig struct {
	UserFeedbackThreshold int           `json:"user_feedback_threshold" mapstructure:"user_feedback_threshold"`
	RetryDelay            time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
}

// StateConfig configures conversation state retention
type StateConfig struct {
	MaxAge        time.Duration `json:"max_age" mapstructure:"max_age"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: logger.Config{
			Level:   "info",
			Console: true,
		},
		Classifier: ClassifierConfig{
			HybridEnabled: false,
			CacheTTL:      time.Hour,
			Timeout:       10 * time.Second,
			AmbiguousLow:  0.4,
			AmbiguousHigh: 0.6,
		},
		Budget: BudgetConfig{
			Simple:           3,
			Moderate:         7,
			Complex:          15,
			Advanced:         25,
			FinalizingTool:   "publish_page",
			CompletionMarker: "TASK_COMPLETE",
		},
		Models: ModelsConfig{
			Provider:  "anthropic",
			Strong:    "claude-sonnet-4-20250514",
			Weak:      "claude-3-5-haiku-20241022",
			Threshold: 0.6,
		},
		Recovery: RecoveryConfig{
			UserFeedbackThreshold: 2,
			RetryDelay:            time.Second,
		},
		State: StateConfig{
			MaxAge:        24 * time.Hour,
			SweepInterval: time.Hour,
		},
		StepTimeout: 2 * time.Minute,
	}
}

// Validate checks the configuration for programmer errors
func (c *Config) Validate() error {
	if c.Classifier.CacheTTL <= 0 {
		return fmt.Errorf("classifier cache ttl must be positive")
	}
	if c.Classifier.Timeout <= 0 {
		return fmt.Errorf("classifier timeout must be positive")
	}
	if c.Classifier.AmbiguousLow < 0 || c.Classifier.AmbiguousHigh > 1 ||
		c.Classifier.AmbiguousLow > c.Classifier.AmbiguousHigh {
		return fmt.Errorf("ambiguous band must satisfy 0 <= low <= high <= 1")
	}
	if c.Budget.Simple <= 0 || c.Budget.Moderate <= 0 || c.Budget.Complex <= 0 || c.Budget.Advanced <= 0 {
		return fmt.Errorf("step budgets must be positive")
	}
	if c.Budget.Simple > c.Budget.Moderate || c.Budget.Moderate > c.Budget.Complex || c.Budget.Complex > c.Budget.Advanced {
		return fmt.Errorf("step budgets must be non-decreasing across tiers")
	}
	if c.Budget.FinalizingTool == "" {
		return fmt.Errorf("finalizing tool cannot be empty")
	}
	if c.Models.Threshold < 0 || c.Models.Threshold > 1 {
		return fmt.Errorf("model threshold must be between 0 and 1")
	}
	if c.Models.Strong == "" || c.Models.Weak == "" {
		return fmt.Errorf("strong and weak models must be configured")
	}
	if c.Recovery.UserFeedbackThreshold < 1 {
		return fmt.Errorf("user feedback threshold must be at least 1")
	}
	if c.Recovery.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	if c.State.MaxAge <= 0 || c.State.SweepInterval <= 0 {
		return fmt.Errorf("state max age and sweep interval must be positive")
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("step timeout must be positive")
	}
	return nil
}
