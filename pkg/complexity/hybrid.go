package complexity

import (
	"context"
	"strings"
)

// bucketScores maps the weak model's answer buckets to fixed scores.
var bucketScores = map[string]float64{
	"SIMPLE":    0.2,
	"MEDIUM":    0.5,
	"HIGH":      0.9,
	"VERY_HIGH": 1.0,
}

// hybridPath escalates an ambiguous fast-path score to the weak model. It
// never fails: any error or unparseable answer falls back to a neutral 0.5
// tagged as a fallback.
func (c *Classifier) hybridPath(ctx context.Context, message string, fast Score) Score {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	answer, err := c.opts.Model.ClassifyComplexity(ctx, message)
	if err != nil {
		c.opts.Logger.Warn().Err(err).Msg("Hybrid classification failed, using neutral fallback")
		return Score{
			Value:   0.5,
			Factors: append(fast.Factors, "llm-fallback"),
			Method:  MethodHybrid,
		}
	}

	value, ok := parseBucket(answer)
	if !ok {
		c.opts.Logger.Warn().Str("answer", answer).Msg("Unrecognized classification bucket, using neutral fallback")
		return Score{
			Value:   0.5,
			Factors: append(fast.Factors, "llm-fallback"),
			Method:  MethodHybrid,
		}
	}

	return Score{
		Value:   value,
		Factors: append(fast.Factors, "llm-classified"),
		Method:  MethodHybrid,
	}
}

// parseBucket extracts a known bucket from the model's answer, tolerating
// surrounding prose.
func parseBucket(answer string) (float64, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(answer))

	if v, ok := bucketScores[normalized]; ok {
		return v, true
	}

	// VERY_HIGH must be checked before HIGH since the latter is a substring.
	for _, bucket := range []string{"VERY_HIGH", "HIGH", "MEDIUM", "SIMPLE"} {
		if strings.Contains(normalized, bucket) {
			return bucketScores[bucket], true
		}
	}
	return 0, false
}

// ClassificationPrompt is the instruction given to the weak model by hybrid
// classification. Exported so gateway adapters can reuse it.
const ClassificationPrompt = `Classify the complexity of the following website editing request.
Answer with exactly one word: SIMPLE, MEDIUM, HIGH, or VERY_HIGH.

SIMPLE: single small edit (text, color, one style property)
MEDIUM: a contained change to one section or component
HIGH: multi-section changes, refactors, or new components
VERY_HIGH: building pages or sites, planning, or full implementations

Request: `
