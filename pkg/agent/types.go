package agent

import (
	"time"

	"github.com/pagelift/engine/pkg/budget"
	"github.com/pagelift/engine/pkg/complexity"
	"github.com/pagelift/engine/pkg/metrics"
)

// Message represents a message in the conversation
type Message struct {
	Role       string                 `json:"role"` // system, user, assistant, tool
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall is a structured invocation the model emits
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// Usage tracks token consumption for one step
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns total tokens for the step
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// StepEvent is one step's complete output from the language model gateway
type StepEvent struct {
	Text         string     `json:"text"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Usage        Usage      `json:"usage"`
}

// Phase tags a step's role in the run
type Phase string

const (
	PhaseAnalysis   Phase = "analysis"
	PhaseExecution  Phase = "execution"
	PhaseValidation Phase = "validation"
)

// Progress is emitted to the observer after every step
type Progress struct {
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
	Action      string `json:"action"`
}

// ToolCallInfo is emitted to the observer for every tool dispatch
type ToolCallInfo struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	StepNumber int    `json:"step_number"`
	Success    bool   `json:"success"`
	Repaired   bool   `json:"repaired"`
	Error      string `json:"error,omitempty"`
}

// StepResult is emitted to the observer when a step finishes
type StepResult struct {
	StepNumber int           `json:"step_number"`
	Phase      Phase         `json:"phase"`
	Text       string        `json:"text"`
	ToolCalls  int           `json:"tool_calls"`
	Duration   time.Duration `json:"duration"`
}

// Callbacks are the optional observer hooks. Nil hooks are skipped.
type Callbacks struct {
	OnProgress   func(Progress)
	OnToolCall   func(ToolCallInfo)
	OnStepFinish func(StepResult)
}

// Params are the inputs to one engine run
type Params struct {
	Messages       []Message `json:"messages"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	LandingPageID  string    `json:"landing_page_id,omitempty"`

	// ComplexityOverride skips classification when set
	ComplexityOverride *complexity.Tier `json:"complexity_override,omitempty"`

	// MaxStepsOverride replaces the canonical step ceiling when positive
	MaxStepsOverride int `json:"max_steps_override,omitempty"`

	// StopConditionOverrides fully replaces the canonical tier conditions
	// when non-nil; the hard step ceiling is always kept.
	StopConditionOverrides []budget.StopCondition `json:"-"`

	// Context carries request metadata (e.g. a selected UI element) into
	// classification and state.
	Context map[string]string `json:"context,omitempty"`

	Callbacks Callbacks `json:"-"`
}

// FinalResult is the only thing a caller observes from a finished run.
// Internal failures are classified and folded into CompletionStatus and
// Explanation, never surfaced raw.
type FinalResult struct {
	ConversationID    string                   `json:"conversation_id"`
	Response          string                   `json:"response"`
	Steps             int                      `json:"steps"`
	MaxSteps          int                      `json:"max_steps"`
	ToolsUsed         []string                 `json:"tools_used"`
	Duration          time.Duration            `json:"duration"`
	TokensUsed        int                      `json:"tokens_used"`
	SuccessRate       float64                  `json:"success_rate"`
	ErrorRate         float64                  `json:"error_rate"`
	CompletionStatus  metrics.CompletionStatus `json:"completion_status"`
	Explanation       string                   `json:"explanation"`
	StopReason        string                   `json:"stop_reason,omitempty"`
	ReachedStepLimit  bool                     `json:"reached_step_limit"`
	NaturalCompletion bool                     `json:"natural_completion"`
	Paused            bool                     `json:"paused"`
	Degraded          bool                     `json:"degraded"`
	Complexity        complexity.Tier          `json:"complexity"`
	Score             complexity.Score         `json:"score"`
	Model             budget.ModelHandle       `json:"model"`
}
