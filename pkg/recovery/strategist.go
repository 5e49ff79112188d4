package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagelift/engine/internal/observability"
	"github.com/pagelift/engine/pkg/complexity"
)

// templates map every error kind to a fixed plain-language notice. Raw error
// text never reaches a transcript.
var templates = map[Kind]string{
	KindNoSuchTool:         "I tried to use a tool that is not available. Let me try a different approach.",
	KindInvalidToolInput:   "I provided invalid input to a tool. Let me correct it and try again.",
	KindTransportOrTimeout: "I hit a temporary connection problem. Retrying shortly.",
	KindRepairFailure:      "My correction attempt did not work. Let me simplify the task.",
	KindUnknown:            "Something unexpected went wrong. Let me try again.",
}

// userFeedbackNotice is the message surfaced when automatic recovery stops
const userFeedbackNotice = "I've run into repeated problems with this step. Could you clarify what you'd like me to do, or simplify the request?"

// ErrorContext is the ephemeral description of one failure
type ErrorContext struct {
	Err            error
	ToolName       string
	StepNumber     int
	TotalSteps     int
	ConversationID string
	Complexity     complexity.Tier
}

// Outcome is the effect of executing a recovery strategy
type Outcome struct {
	Strategy Strategy
	Kind     Kind

	// Message is the user-visible notice substituted for the raw error
	Message string

	// Halt stops automatic progress; the run pauses for the user
	Halt bool

	// Degraded flags reduced confidence while the run continues
	Degraded bool
}

// Strategist classifies failures and executes bounded recovery. Attempt
// counters are per (conversation, step), monotonically non-decreasing within
// a run and bounded by the feedback threshold.
type Strategist struct {
	feedbackThreshold int
	retryDelay        time.Duration
	logger            zerolog.Logger

	mu       sync.Mutex
	attempts map[string]int
}

// NewStrategist creates a strategist
func NewStrategist(feedbackThreshold int, retryDelay time.Duration, logger zerolog.Logger) *Strategist {
	observability.EnsureRegistered()

	if feedbackThreshold < 1 {
		feedbackThreshold = DefaultUserFeedbackThreshold
	}
	if retryDelay < 0 {
		retryDelay = 0
	}

	return &Strategist{
		feedbackThreshold: feedbackThreshold,
		retryDelay:        retryDelay,
		logger:            logger,
		attempts:          make(map[string]int),
	}
}

// Attempts returns the current attempt count for a (conversation, step) pair
func (s *Strategist) Attempts(conversationID string, step int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[attemptKey(conversationID, step)]
}

// Recover classifies the failure, selects a strategy against the current
// attempt count, and executes it. Retry increments the attempt counter and
// applies the fixed delay; all other strategies are advisory, halting, or
// degrading.
func (s *Strategist) Recover(ctx context.Context, errCtx ErrorContext) Outcome {
	kind := Classify(errCtx.Err)
	attempts := s.Attempts(errCtx.ConversationID, errCtx.StepNumber)
	strategy := SelectStrategy(kind, attempts, s.feedbackThreshold, errCtx.Complexity)

	observability.RecordRecovery(string(kind), string(strategy))
	s.logger.Warn().
		Err(errCtx.Err).
		Str("kind", string(kind)).
		Str("strategy", string(strategy)).
		Int("attempts", attempts).
		Int("step", errCtx.StepNumber).
		Str("conversation_id", errCtx.ConversationID).
		Msg("Recovering from failure")

	outcome := Outcome{
		Strategy: strategy,
		Kind:     kind,
		Message:  templates[kind],
	}

	switch strategy {
	case StrategyRetry:
		s.incrementAttempts(errCtx.ConversationID, errCtx.StepNumber)
		s.delay(ctx)
	case StrategyUserFeedback:
		outcome.Message = userFeedbackNotice
		outcome.Halt = true
	case StrategyGracefulDegradation:
		outcome.Degraded = true
	case StrategyAlternativeApproach, StrategySimplifyTask:
		// Advisory only: the engine relies on the model adapting given the
		// fed-back error.
	}

	return outcome
}

// Reset clears attempt counters for a conversation at run end
func (s *Strategist) Reset(conversationID string) {
	prefix := conversationID + "#"

	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.attempts {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(s.attempts, key)
		}
	}
}

func (s *Strategist) incrementAttempts(conversationID string, step int) {
	s.mu.Lock()
	s.attempts[attemptKey(conversationID, step)]++
	s.mu.Unlock()
}

// delay waits the fixed retry delay, honoring cancellation
func (s *Strategist) delay(ctx context.Context) {
	if s.retryDelay == 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.retryDelay):
	}
}

func attemptKey(conversationID string, step int) string {
	return fmt.Sprintf("%s#%d", conversationID, step)
}
