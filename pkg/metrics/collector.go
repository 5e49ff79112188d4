package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagelift/engine/pkg/complexity"
)

// CompletionStatus classifies how a run ended
type CompletionStatus string

const (
	CompletionSuccess CompletionStatus = "success"
	CompletionPartial CompletionStatus = "partial"
	CompletionFailed  CompletionStatus = "failed"
)

// ToolExecution is one tool dispatch observation
type ToolExecution struct {
	ToolName     string        `json:"tool_name"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	InputSize    int           `json:"input_size"`
	OutputSize   int           `json:"output_size"`
	StepNumber   int           `json:"step_number"`
	Timestamp    time.Time     `json:"timestamp"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// Execution aggregates one run's metrics. All derived fields (rates,
// averages) are recomputed from the raw counters on every update so they
// never drift.
type Execution struct {
	ConversationID   string           `json:"conversation_id"`
	TotalTokens      int              `json:"total_tokens"`
	TotalSteps       int              `json:"total_steps"`
	ToolExecutions   []ToolExecution  `json:"tool_executions"`
	Elapsed          time.Duration    `json:"elapsed"`
	SuccessRate      float64          `json:"success_rate"`
	ErrorRate        float64          `json:"error_rate"`
	AverageStepTime  time.Duration    `json:"average_step_time"`
	Complexity       complexity.Tier  `json:"complexity"`
	CompletionStatus CompletionStatus `json:"completion_status"`
}

type runCounters struct {
	execution     Execution
	startedAt     time.Time
	lastActivity  time.Time
	stepDurations []time.Duration
	finished      bool
}

// Collector tracks execution metrics per conversation
type Collector struct {
	clock  func() time.Time
	maxAge time.Duration
	logger zerolog.Logger

	mu   sync.RWMutex
	runs map[string]*runCounters

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// CollectorOptions configures a Collector
type CollectorOptions struct {
	// MaxAge is how long finished run metrics are retained
	MaxAge time.Duration

	// Clock is injectable for deterministic tests
	Clock func() time.Time

	Logger zerolog.Logger
}

// NewCollector creates a collector
func NewCollector(opts CollectorOptions) *Collector {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Collector{
		clock:     clock,
		maxAge:    opts.MaxAge,
		logger:    opts.Logger,
		runs:      make(map[string]*runCounters),
		sweepStop: make(chan struct{}),
	}
}

// Begin opens metric collection for a run
func (c *Collector) Begin(conversationID string, tier complexity.Tier) error {
	if conversationID == "" {
		return fmt.Errorf("conversation ID cannot be empty")
	}

	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.runs[conversationID] = &runCounters{
		execution: Execution{
			ConversationID: conversationID,
			ToolExecutions: []ToolExecution{},
			Complexity:     tier,
		},
		startedAt:    now,
		lastActivity: now,
	}
	return nil
}

// TrackStep records one completed step's token usage and duration
func (c *Collector) TrackStep(conversationID string, tokens int, stepDuration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, ok := c.runs[conversationID]
	if !ok {
		return fmt.Errorf("no metrics for conversation %s", conversationID)
	}

	run.execution.TotalSteps++
	run.execution.TotalTokens += tokens
	run.stepDurations = append(run.stepDurations, stepDuration)
	run.lastActivity = c.clock()
	c.recompute(run)
	return nil
}

// TrackTool records one tool dispatch
func (c *Collector) TrackTool(conversationID string, exec ToolExecution) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, ok := c.runs[conversationID]
	if !ok {
		return fmt.Errorf("no metrics for conversation %s", conversationID)
	}

	run.execution.ToolExecutions = append(run.execution.ToolExecutions, exec)
	run.lastActivity = c.clock()
	c.recompute(run)
	return nil
}

// Complete finalizes the run's metrics and classifies its completion.
// success when no tool errored, partial when the error rate is below one
// half, failed otherwise.
func (c *Collector) Complete(conversationID string) (*Execution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, ok := c.runs[conversationID]
	if !ok {
		return nil, fmt.Errorf("no metrics for conversation %s", conversationID)
	}

	c.recompute(run)
	run.execution.Elapsed = c.clock().Sub(run.startedAt)

	switch {
	case run.execution.ErrorRate == 0:
		run.execution.CompletionStatus = CompletionSuccess
	case run.execution.ErrorRate < 0.5:
		run.execution.CompletionStatus = CompletionPartial
	default:
		run.execution.CompletionStatus = CompletionFailed
	}

	run.finished = true
	run.lastActivity = c.clock()

	c.logger.Debug().
		Str("conversation_id", conversationID).
		Str("completion", string(run.execution.CompletionStatus)).
		Int("steps", run.execution.TotalSteps).
		Int("tokens", run.execution.TotalTokens).
		Msg("Run metrics completed")

	return snapshotExecution(&run.execution), nil
}

// Get returns a snapshot of a run's metrics
func (c *Collector) Get(conversationID string) (*Execution, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	run, ok := c.runs[conversationID]
	if !ok {
		return nil, false
	}
	return snapshotExecution(&run.execution), true
}

// Sweep removes metrics whose last activity is older than the max age
func (c *Collector) Sweep() int {
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, run := range c.runs {
		if now.Sub(run.lastActivity) > c.maxAge {
			delete(c.runs, id)
			removed++
		}
	}
	return removed
}

// recompute rebuilds the derived fields from raw counters. Caller holds the
// lock.
func (c *Collector) recompute(run *runCounters) {
	total := len(run.execution.ToolExecutions)
	if total == 0 {
		run.execution.SuccessRate = 0
		run.execution.ErrorRate = 0
	} else {
		succeeded := 0
		for _, exec := range run.execution.ToolExecutions {
			if exec.Success {
				succeeded++
			}
		}
		run.execution.SuccessRate = float64(succeeded) / float64(total)
		run.execution.ErrorRate = 1 - run.execution.SuccessRate
	}

	if len(run.stepDurations) == 0 {
		run.execution.AverageStepTime = 0
	} else {
		var sum time.Duration
		for _, d := range run.stepDurations {
			sum += d
		}
		run.execution.AverageStepTime = sum / time.Duration(len(run.stepDurations))
	}
}

func snapshotExecution(e *Execution) *Execution {
	out := *e
	out.ToolExecutions = append([]ToolExecution(nil), e.ToolExecutions...)
	return &out
}
