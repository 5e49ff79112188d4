package complexity

// Tier buckets a task's complexity. The tier sizes the step budget and
// selects the model.
type Tier string

const (
	TierSimple   Tier = "simple"
	TierModerate Tier = "moderate"
	TierComplex  Tier = "complex"
	TierAdvanced Tier = "advanced"
)

// Method records how a score was produced
type Method string

const (
	MethodRegex   Method = "regex"
	MethodLLMWeak Method = "llm-weak"
	MethodHybrid  Method = "hybrid"
)

// Score is the result of classifying a message
type Score struct {
	Value   float64  `json:"value"` // in [0,1]
	Factors []string `json:"factors"`
	Method  Method   `json:"method"`
}

// Tier maps the score to its complexity tier
func (s Score) Tier() Tier {
	return TierForScore(s.Value)
}

// TierForScore buckets a raw score into a tier
func TierForScore(score float64) Tier {
	switch {
	case score < 0.4:
		return TierSimple
	case score < 0.7:
		return TierModerate
	case score < 0.9:
		return TierComplex
	default:
		return TierAdvanced
	}
}

// clone returns a copy with an independent factors slice, so cached entries
// stay immutable.
func (s Score) clone() Score {
	factors := make([]string, len(s.Factors))
	copy(factors, s.Factors)
	s.Factors = factors
	return s
}
