package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pagelift/engine/pkg/complexity"
	"github.com/pagelift/engine/pkg/toolexecutor"
)

func TestClassify(t *testing.T) {
	t.Run("should classify sentinels ahead of message content", func(t *testing.T) {
		cases := map[Kind]error{
			KindRepairFailure:      fmt.Errorf("executing corrected call: %w", ErrRepairFailed),
			KindNoSuchTool:         fmt.Errorf("dispatch: %w", toolexecutor.ErrToolNotFound),
			KindInvalidToolInput:   fmt.Errorf("dispatch: %w", toolexecutor.ErrInvalidInput),
			KindTransportOrTimeout: fmt.Errorf("call: %w", context.DeadlineExceeded),
		}
		for want, err := range cases {
			assert.Equal(t, want, Classify(err), "error %v", err)
		}
	})

	t.Run("should classify by message when no sentinel matches", func(t *testing.T) {
		cases := map[Kind][]error{
			KindNoSuchTool: {
				errors.New("unknown tool update_txt"),
				errors.New("tool not found"),
			},
			KindInvalidToolInput: {
				errors.New("schema validation failed for field color"),
				errors.New("invalid input: missing elementId"),
			},
			KindTransportOrTimeout: {
				errors.New("request timed out"),
				errors.New("upstream returned 503"),
				errors.New("rate limit exceeded"),
				errors.New("connection reset by peer"),
			},
			KindUnknown: {
				errors.New("something odd happened"),
			},
		}
		for want, errs := range cases {
			for _, err := range errs {
				assert.Equal(t, want, Classify(err), "error %v", err)
			}
		}
	})

	t.Run("should classify nil as unknown", func(t *testing.T) {
		assert.Equal(t, KindUnknown, Classify(nil))
	})
}

func TestSelectStrategy(t *testing.T) {
	t.Run("should be a pure function of its inputs", func(t *testing.T) {
		first := SelectStrategy(KindTransportOrTimeout, 0, 2, complexity.TierSimple)
		second := SelectStrategy(KindTransportOrTimeout, 0, 2, complexity.TierSimple)
		assert.Equal(t, first, second)
	})

	t.Run("should demand user feedback at the threshold regardless of kind", func(t *testing.T) {
		kinds := []Kind{KindNoSuchTool, KindInvalidToolInput, KindTransportOrTimeout, KindRepairFailure, KindUnknown}
		for _, kind := range kinds {
			got := SelectStrategy(kind, 2, 2, complexity.TierSimple)
			assert.Equal(t, StrategyUserFeedback, got, "kind %s", kind)
		}
	})

	t.Run("should suggest an alternative approach for a missing tool", func(t *testing.T) {
		assert.Equal(t, StrategyAlternativeApproach, SelectStrategy(KindNoSuchTool, 0, 3, complexity.TierSimple))
		assert.Equal(t, StrategyAlternativeApproach, SelectStrategy(KindNoSuchTool, 1, 3, complexity.TierAdvanced))
	})

	t.Run("should retry invalid input twice then simplify", func(t *testing.T) {
		assert.Equal(t, StrategyRetry, SelectStrategy(KindInvalidToolInput, 0, 5, complexity.TierSimple))
		assert.Equal(t, StrategyRetry, SelectStrategy(KindInvalidToolInput, 1, 5, complexity.TierSimple))
		assert.Equal(t, StrategySimplifyTask, SelectStrategy(KindInvalidToolInput, 2, 5, complexity.TierSimple))
	})

	t.Run("should retry transport once then degrade", func(t *testing.T) {
		assert.Equal(t, StrategyRetry, SelectStrategy(KindTransportOrTimeout, 0, 5, complexity.TierSimple))
		assert.Equal(t, StrategyGracefulDegradation, SelectStrategy(KindTransportOrTimeout, 1, 5, complexity.TierSimple))
	})

	t.Run("should always simplify after a failed repair", func(t *testing.T) {
		assert.Equal(t, StrategySimplifyTask, SelectStrategy(KindRepairFailure, 0, 5, complexity.TierSimple))
		assert.Equal(t, StrategySimplifyTask, SelectStrategy(KindRepairFailure, 1, 5, complexity.TierComplex))
	})

	t.Run("should handle unknown errors by tier", func(t *testing.T) {
		// Lower tiers keep retrying under the threshold.
		assert.Equal(t, StrategyRetry, SelectStrategy(KindUnknown, 0, 5, complexity.TierSimple))
		assert.Equal(t, StrategyRetry, SelectStrategy(KindUnknown, 3, 5, complexity.TierModerate))

		// Higher tiers get one retry, then escalate.
		assert.Equal(t, StrategyRetry, SelectStrategy(KindUnknown, 0, 5, complexity.TierComplex))
		assert.Equal(t, StrategyUserFeedback, SelectStrategy(KindUnknown, 1, 5, complexity.TierAdvanced))
	})

	t.Run("should substitute the default threshold for nonsense values", func(t *testing.T) {
		assert.Equal(t, StrategyUserFeedback, SelectStrategy(KindUnknown, 2, 0, complexity.TierSimple))
	})
}
