package budget

import (
	"fmt"

	"github.com/pagelift/engine/pkg/complexity"
)

// Config is one tier's execution budget: a hard step ceiling plus ordered
// stop conditions evaluated first-match-wins after each step.
type Config struct {
	MaxSteps       int
	StopConditions []StopCondition
	Description    string
}

// PlannerOptions holds the canonical per-tier budgets
type PlannerOptions struct {
	Simple   int
	Moderate int
	Complex  int
	Advanced int

	// FinalizingTool is the tool whose invocation signals the task is done.
	FinalizingTool string

	// CompletionMarker signals natural completion in model text.
	CompletionMarker string
}

// DefaultPlannerOptions returns the canonical budgets
func DefaultPlannerOptions() PlannerOptions {
	return PlannerOptions{
		Simple:           3,
		Moderate:         7,
		Complex:          15,
		Advanced:         25,
		FinalizingTool:   "publish_page",
		CompletionMarker: "TASK_COMPLETE",
	}
}

// Planner maps complexity tiers to step budgets
type Planner struct {
	opts PlannerOptions
}

// NewPlanner creates a planner, validating the budgets fail-fast
func NewPlanner(opts PlannerOptions) (*Planner, error) {
	if opts.Simple <= 0 || opts.Moderate <= 0 || opts.Complex <= 0 || opts.Advanced <= 0 {
		return nil, fmt.Errorf("step budgets must be positive")
	}
	if opts.Simple > opts.Moderate || opts.Moderate > opts.Complex || opts.Complex > opts.Advanced {
		return nil, fmt.Errorf("step budgets must be non-decreasing across tiers")
	}
	if opts.FinalizingTool == "" {
		return nil, fmt.Errorf("finalizing tool cannot be empty")
	}
	return &Planner{opts: opts}, nil
}

// Plan returns the budget for a tier. A positive maxOverride replaces the
// canonical step ceiling; a non-nil condOverrides fully replaces the
// canonical tier-specific conditions. Overrides replace, never merge.
func (p *Planner) Plan(tier complexity.Tier, maxOverride int, condOverrides []StopCondition) Config {
	maxSteps := p.maxStepsFor(tier)
	if maxOverride > 0 {
		maxSteps = maxOverride
	}

	// The hard step ceiling always leads, guaranteeing termination even
	// when overrides drop every other condition.
	conditions := []StopCondition{StepCount(maxSteps)}
	if condOverrides != nil {
		conditions = append(conditions, condOverrides...)
	} else {
		conditions = append(conditions, p.canonicalConditions(tier)...)
	}

	return Config{
		MaxSteps:       maxSteps,
		StopConditions: conditions,
		Description:    fmt.Sprintf("%s budget: up to %d steps", tier, maxSteps),
	}
}

// FinalizingTool returns the tool whose invocation signals completion
func (p *Planner) FinalizingTool() string {
	return p.opts.FinalizingTool
}

func (p *Planner) maxStepsFor(tier complexity.Tier) int {
	switch tier {
	case complexity.TierSimple:
		return p.opts.Simple
	case complexity.TierModerate:
		return p.opts.Moderate
	case complexity.TierComplex:
		return p.opts.Complex
	case complexity.TierAdvanced:
		return p.opts.Advanced
	default:
		return p.opts.Simple
	}
}

func (p *Planner) canonicalConditions(tier complexity.Tier) []StopCondition {
	switch tier {
	case complexity.TierSimple:
		return nil
	case complexity.TierModerate:
		return []StopCondition{ToolCalled(p.opts.FinalizingTool)}
	default:
		conds := []StopCondition{ToolCalled(p.opts.FinalizingTool)}
		if p.opts.CompletionMarker != "" {
			conds = append(conds, TextContains(p.opts.CompletionMarker))
		}
		return conds
	}
}
