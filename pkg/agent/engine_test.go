package agent

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelift/engine/pkg/config"
	"github.com/pagelift/engine/pkg/toolexecutor"
)

func TestNewFromConfig(t *testing.T) {
	t.Run("should assemble a runner from the default configuration", func(t *testing.T) {
		registry := toolexecutor.New(zerolog.Nop())

		runner, err := NewFromConfig(nil, registry, zerolog.Nop())
		require.NoError(t, err)
		defer runner.Close()

		assert.Equal(t, "publish_page", runner.planner.FinalizingTool())
		assert.Equal(t, "anthropic", runner.provider.Provider())
		assert.Equal(t, config.DefaultConfig().Models.Strong, runner.strongModel.Name)
		assert.Equal(t, config.DefaultConfig().Models.Weak, runner.weakModel.Name)
		assert.False(t, runner.IsRunning("conv-1"))
	})

	t.Run("should build the hybrid classifier when enabled", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Classifier.HybridEnabled = true

		runner, err := NewFromConfig(cfg, toolexecutor.New(zerolog.Nop()), zerolog.Nop())
		require.NoError(t, err)
		runner.Close()
	})

	t.Run("should reject an invalid configuration", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Budget.Complex = 1

		_, err := NewFromConfig(cfg, toolexecutor.New(zerolog.Nop()), zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("should reject an unsupported provider", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Models.Provider = "bedrock"

		_, err := NewFromConfig(cfg, toolexecutor.New(zerolog.Nop()), zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported provider")
	})
}
