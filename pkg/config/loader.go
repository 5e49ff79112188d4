package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// envKeys are the leaf settings viper binds for PAGELIFT_* overrides; viper
// only consults the environment for keys it knows about.
var envKeys = []string{
	"logging.level", "logging.file", "logging.console", "logging.pretty",
	"classifier.hybrid_enabled", "classifier.cache_ttl", "classifier.timeout",
	"classifier.ambiguous_low", "classifier.ambiguous_high",
	"budget.simple", "budget.moderate", "budget.complex", "budget.advanced",
	"budget.finalizing_tool", "budget.completion_marker",
	"models.provider", "models.api_key", "models.strong", "models.weak",
	"models.threshold",
	"recovery.user_feedback_threshold", "recovery.retry_delay",
	"state.max_age", "state.sweep_interval",
	"step_timeout",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file, falling back to defaults when no
// file is present. Environment variables with the PAGELIFT prefix override
// both, with or without a file.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("PAGELIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", l.configPath)
		}

		v.SetConfigFile(l.configPath)
		v.SetConfigType("json")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
