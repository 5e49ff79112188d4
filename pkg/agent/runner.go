package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pagelift/engine/internal/observability"
	"github.com/pagelift/engine/internal/tracing"
	"github.com/pagelift/engine/pkg/budget"
	"github.com/pagelift/engine/pkg/complexity"
	"github.com/pagelift/engine/pkg/metrics"
	"github.com/pagelift/engine/pkg/recovery"
	"github.com/pagelift/engine/pkg/state"
	"github.com/pagelift/engine/pkg/toolexecutor"
)

// ToolRunner is the slice of the tool execution registry the loop needs
type ToolRunner interface {
	List(ctx context.Context) map[string]toolexecutor.Spec
	Execute(ctx context.Context, name string, input map[string]interface{}, execCtx toolexecutor.ExecutionContext) toolexecutor.Result
}

// Config holds runner configuration
type Config struct {
	Classifier *complexity.Classifier
	Planner    *budget.Planner
	Tracker    *state.Tracker
	Collector  *metrics.Collector
	Strategist *recovery.Strategist
	Tools      ToolRunner
	Provider   LLMProvider

	StrongModel    budget.ModelHandle
	WeakModel      budget.ModelHandle
	ModelThreshold float64

	// StepTimeout bounds each gateway call
	StepTimeout time.Duration

	// ToolTimeout bounds each tool execution
	ToolTimeout time.Duration

	Logger zerolog.Logger
}

// Runner drives the multi-step agentic execution loop
type Runner struct {
	classifier *complexity.Classifier
	planner    *budget.Planner
	tracker    *state.Tracker
	collector  *metrics.Collector
	strategist *recovery.Strategist
	tools      ToolRunner
	provider   LLMProvider

	strongModel    budget.ModelHandle
	weakModel      budget.ModelHandle
	modelThreshold float64
	stepTimeout    time.Duration
	toolTimeout    time.Duration

	logger zerolog.Logger
	leases *leaseSet

	// stops holds background-sweeper shutdown hooks owned by NewFromConfig
	stops []func()
}

// New creates a runner. Missing required collaborators fail fast.
func New(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if cfg.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("state tracker is required")
	}
	if cfg.Collector == nil {
		return nil, fmt.Errorf("metrics collector is required")
	}
	if cfg.Strategist == nil {
		return nil, fmt.Errorf("recovery strategist is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool runner is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("model provider is required")
	}
	if cfg.ModelThreshold < 0 || cfg.ModelThreshold > 1 {
		return nil, fmt.Errorf("model threshold must be between 0 and 1")
	}
	if cfg.StrongModel.Name == "" || cfg.WeakModel.Name == "" {
		return nil, fmt.Errorf("strong and weak models are required")
	}

	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 2 * time.Minute
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}

	return &Runner{
		classifier:     cfg.Classifier,
		planner:        cfg.Planner,
		tracker:        cfg.Tracker,
		collector:      cfg.Collector,
		strategist:     cfg.Strategist,
		tools:          cfg.Tools,
		provider:       cfg.Provider,
		strongModel:    cfg.StrongModel,
		weakModel:      cfg.WeakModel,
		modelThreshold: cfg.ModelThreshold,
		stepTimeout:    cfg.StepTimeout,
		toolTimeout:    cfg.ToolTimeout,
		logger:         cfg.Logger,
		leases:         newLeaseSet(),
	}, nil
}

// Close stops the background sweepers a config-built runner owns. A runner
// assembled via New has nothing to stop.
func (r *Runner) Close() {
	for _, stop := range r.stops {
		stop()
	}
}

// IsRunning reports whether a run currently holds the conversation's lease
func (r *Runner) IsRunning(conversationID string) bool {
	return r.leases.holds(conversationID)
}

// Run executes one agentic task. The caller observes a classified
// FinalResult; internal loop failures never surface raw. Errors are returned
// only for invalid parameters and an already-active conversation.
func (r *Runner) Run(ctx context.Context, params Params) (*FinalResult, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}

	if err := r.leases.acquire(params.ConversationID); err != nil {
		return nil, err
	}
	observability.SetActiveRuns(r.leases.count())
	defer func() {
		r.leases.release(params.ConversationID)
		observability.SetActiveRuns(r.leases.count())
		r.strategist.Reset(params.ConversationID)
	}()

	ctx = tracing.NewRunContext(ctx, params.ConversationID)
	ctx, span := tracing.StartSpan(
		ctx,
		"pagelift.engine",
		"agent.run",
		attribute.String("conversation_id", params.ConversationID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger).With().
		Str("conversation_id", params.ConversationID).
		Logger()

	start := time.Now()

	score, tier := r.classifyParams(ctx, params)
	budgetCfg := r.planner.Plan(tier, params.MaxStepsOverride, params.StopConditionOverrides)
	model := budget.SelectModel(score.Value, r.modelThreshold, r.strongModel, r.weakModel)

	logger.Info().
		Str("tier", string(tier)).
		Float64("score", score.Value).
		Int("max_steps", budgetCfg.MaxSteps).
		Str("model", model.Name).
		Msg("Starting agentic run")

	if _, err := r.tracker.Init(params.ConversationID, params.UserID, params.LandingPageID, tier, budgetCfg.MaxSteps); err != nil {
		return nil, fmt.Errorf("failed to init state: %w", err)
	}
	if err := r.collector.Begin(params.ConversationID, tier); err != nil {
		return nil, fmt.Errorf("failed to begin metrics: %w", err)
	}

	out := r.runLoop(ctx, logger, params, budgetCfg, model, tier)

	status := state.StatusCompleted
	switch {
	case out.paused:
		status = state.StatusPaused
	case out.reachedLimit && !out.natural:
		status = state.StatusFailed
	}
	if err := r.tracker.Finalize(params.ConversationID, status); err != nil {
		logger.Warn().Err(err).Msg("Failed to finalize state")
	}

	exec, err := r.collector.Complete(params.ConversationID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to complete metrics")
		exec = &metrics.Execution{}
	}

	duration := time.Since(start)
	observability.RecordRun(string(tier), string(status), duration, out.steps)

	var toolsUsed []string
	if conv, ok := r.tracker.Get(params.ConversationID); ok {
		toolsUsed = conv.ToolsUsed
	}

	result := &FinalResult{
		ConversationID:    params.ConversationID,
		Response:          out.response,
		Steps:             out.steps,
		MaxSteps:          budgetCfg.MaxSteps,
		ToolsUsed:         toolsUsed,
		Duration:          duration,
		TokensUsed:        exec.TotalTokens,
		SuccessRate:       exec.SuccessRate,
		ErrorRate:         exec.ErrorRate,
		CompletionStatus:  exec.CompletionStatus,
		Explanation:       explain(status, out),
		StopReason:        out.stopReason,
		ReachedStepLimit:  out.reachedLimit,
		NaturalCompletion: out.natural,
		Paused:            out.paused,
		Degraded:          out.degraded,
		Complexity:        tier,
		Score:             score,
		Model:             model,
	}

	logger.Info().
		Str("status", string(status)).
		Str("completion", string(result.CompletionStatus)).
		Int("steps", result.Steps).
		Dur("duration", duration).
		Msg("Agentic run finished")

	return result, nil
}

func validateParams(params Params) error {
	if params.ConversationID == "" {
		return fmt.Errorf("conversation ID cannot be empty")
	}
	if params.UserID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	if len(params.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	return nil
}

// classifyParams scores the request or honors an explicit tier override
func (r *Runner) classifyParams(ctx context.Context, params Params) (complexity.Score, complexity.Tier) {
	if params.ComplexityOverride != nil {
		tier := *params.ComplexityOverride
		return complexity.Score{
			Value:   overrideScore(tier),
			Factors: []string{"override"},
			Method:  complexity.MethodRegex,
		}, tier
	}

	score := r.classifier.Classify(ctx, lastUserMessage(params.Messages), params.Context)
	return score, score.Tier()
}

// overrideScore gives an explicit tier a representative score so model
// selection still works.
func overrideScore(tier complexity.Tier) float64 {
	switch tier {
	case complexity.TierSimple:
		return 0.3
	case complexity.TierModerate:
		return 0.5
	case complexity.TierComplex:
		return 0.8
	default:
		return 1.0
	}
}

func lastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func explain(status state.Status, out runOutcome) string {
	switch status {
	case state.StatusPaused:
		if out.pauseMessage != "" {
			return out.pauseMessage
		}
		return "The run was paused before finishing."
	case state.StatusFailed:
		return fmt.Sprintf("I used all %d allowed steps before the task was finished. The work done so far has been kept.", out.steps)
	default:
		if out.degraded {
			return fmt.Sprintf("Task completed in %d steps, though some operations had reduced confidence after temporary problems.", out.steps)
		}
		return fmt.Sprintf("Task completed in %d steps.", out.steps)
	}
}
