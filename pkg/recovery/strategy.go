package recovery

import "github.com/pagelift/engine/pkg/complexity"

// Strategy is the corrective action chosen after a classified failure
type Strategy string

const (
	StrategyRetry               Strategy = "retry"
	StrategyAlternativeApproach Strategy = "alternative_approach"
	StrategySimplifyTask        Strategy = "simplify_task"
	StrategyUserFeedback        Strategy = "user_feedback"
	StrategyGracefulDegradation Strategy = "graceful_degradation"
)

// DefaultUserFeedbackThreshold is the attempt count at which automatic
// recovery stops and the user is asked.
const DefaultUserFeedbackThreshold = 2

// SelectStrategy deterministically picks a recovery strategy. It is a pure
// function of its inputs; the feedback threshold is a hard ceiling that
// guarantees loop termination regardless of error kind.
func SelectStrategy(kind Kind, attempts, feedbackThreshold int, tier complexity.Tier) Strategy {
	if feedbackThreshold < 1 {
		feedbackThreshold = DefaultUserFeedbackThreshold
	}

	if attempts >= feedbackThreshold {
		return StrategyUserFeedback
	}

	switch kind {
	case KindNoSuchTool:
		return StrategyAlternativeApproach
	case KindInvalidToolInput:
		if attempts < 2 {
			return StrategyRetry
		}
		return StrategySimplifyTask
	case KindTransportOrTimeout:
		if attempts < 1 {
			return StrategyRetry
		}
		return StrategyGracefulDegradation
	case KindRepairFailure:
		return StrategySimplifyTask
	default:
		if tier == complexity.TierComplex || tier == complexity.TierAdvanced {
			if attempts < 1 {
				return StrategyRetry
			}
			return StrategyUserFeedback
		}
		return StrategyRetry
	}
}
