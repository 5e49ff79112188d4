package agent

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pagelift/engine/pkg/budget"
	"github.com/pagelift/engine/pkg/complexity"
	"github.com/pagelift/engine/pkg/config"
	"github.com/pagelift/engine/pkg/metrics"
	"github.com/pagelift/engine/pkg/recovery"
	"github.com/pagelift/engine/pkg/state"
)

// NewFromConfig assembles a fully wired runner from a loaded configuration:
// provider, classifier (hybrid when enabled), planner, state tracker, metrics
// collector, and recovery strategist. Both expiry sweepers are started; call
// Close to stop them. A nil config uses the defaults.
func NewFromConfig(cfg *config.Config, tools ToolRunner, log zerolog.Logger) (*Runner, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	provider, err := NewProvider(cfg.Models.Provider, cfg.Models.APIKey)
	if err != nil {
		return nil, err
	}

	classifierOpts := complexity.Options{
		HybridEnabled: cfg.Classifier.HybridEnabled,
		AmbiguousLow:  cfg.Classifier.AmbiguousLow,
		AmbiguousHigh: cfg.Classifier.AmbiguousHigh,
		Timeout:       cfg.Classifier.Timeout,
		CacheTTL:      cfg.Classifier.CacheTTL,
		Logger:        log,
	}
	if cfg.Classifier.HybridEnabled {
		classifierOpts.Model = NewModelClassifier(provider, cfg.Models.Weak)
	}
	classifier, err := complexity.NewClassifier(classifierOpts)
	if err != nil {
		return nil, err
	}

	planner, err := budget.NewPlanner(budget.PlannerOptions{
		Simple:           cfg.Budget.Simple,
		Moderate:         cfg.Budget.Moderate,
		Complex:          cfg.Budget.Complex,
		Advanced:         cfg.Budget.Advanced,
		FinalizingTool:   cfg.Budget.FinalizingTool,
		CompletionMarker: cfg.Budget.CompletionMarker,
	})
	if err != nil {
		return nil, err
	}

	tracker := state.NewTracker(state.TrackerOptions{
		MaxAge: cfg.State.MaxAge,
		Logger: log,
	})
	collector := metrics.NewCollector(metrics.CollectorOptions{
		MaxAge: cfg.State.MaxAge,
		Logger: log,
	})
	strategist := recovery.NewStrategist(cfg.Recovery.UserFeedbackThreshold, cfg.Recovery.RetryDelay, log)

	runner, err := New(Config{
		Classifier:     classifier,
		Planner:        planner,
		Tracker:        tracker,
		Collector:      collector,
		Strategist:     strategist,
		Tools:          tools,
		Provider:       provider,
		StrongModel:    budget.ModelHandle{Name: cfg.Models.Strong, Provider: cfg.Models.Provider},
		WeakModel:      budget.ModelHandle{Name: cfg.Models.Weak, Provider: cfg.Models.Provider},
		ModelThreshold: cfg.Models.Threshold,
		StepTimeout:    cfg.StepTimeout,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	tracker.StartSweeper(cfg.State.SweepInterval)
	collector.StartSweeper(cfg.State.SweepInterval)
	runner.stops = []func(){tracker.Stop, collector.Stop}

	return runner, nil
}
