package complexity

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pagelift/engine/internal/observability"
)

// SelectedElementKey is the context key indicating the user has a UI element
// selected; its presence alone marks the message as a targeted edit.
const SelectedElementKey = "selectedElement"

// category is one deterministic pattern bucket. Score is the max over
// matched category weights, never a sum.
type category struct {
	name     string
	weight   float64
	patterns []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+e))
	}
	return out
}

// categories are evaluated in priority order; the order only affects factor
// ordering since max() is commutative.
var categories = []category{
	{
		name:   "planning",
		weight: 1.0,
		patterns: compile(
			`\bplan(ning)?\b`,
			`\broadmap\b`,
			`\bbreak (this |it )?down\b`,
			`\bstep[- ]by[- ]step\b`,
		),
	},
	{
		name:   "page-creation",
		weight: 0.95,
		patterns: compile(
			`\b(create|build|make|generate)\b.*\b(landing )?(page|site|website)\b`,
			`\bnew (landing )?page\b`,
			`\bfrom scratch\b`,
		),
	},
	{
		name:   "full-implementation",
		weight: 0.95,
		patterns: compile(
			`\b(implement|rebuild|redesign)\b.*\b(entire|whole|complete|full)\b`,
			`\b(entire|whole|complete|full)\b.*\b(implement|rebuild|redesign|flow|app)\b`,
		),
	},
	{
		name:   "multi-feature",
		weight: 0.9,
		patterns: compile(
			`\b(and (also|then)|as well as|plus)\b`,
			`\b(multiple|several|various) (features|changes|sections)\b`,
		),
	},
	{
		name:   "refactor",
		weight: 0.9,
		patterns: compile(
			`\brefactor\b`,
			`\brestructure\b`,
			`\breorganize\b`,
			`\bclean ?up\b.*\bcode\b`,
		),
	},
	{
		name:   "custom-component",
		weight: 0.85,
		patterns: compile(
			`\bcustom (component|widget|element)\b`,
			`\b(create|build|make)\b.*\bcomponent\b`,
		),
	},
	{
		name:   "theme-change",
		weight: 0.8,
		patterns: compile(
			`\btheme\b`,
			`\bdesign system\b`,
			`\bbrand(ing)? (colors?|style)\b`,
			`\b(all|every|across).*\b(colors?|fonts?|styles?)\b`,
		),
	},
	{
		name:   "bug-fix",
		weight: 0.7,
		patterns: compile(
			`\bfix(es|ing)?\b.*\b(bug|issue|error|problem|broken)\b`,
			`\b(bug|issue|error|problem)s?\b`,
			`\bnot work(s|ing)?\b`,
			`\bbroken\b`,
		),
	},
	{
		name:   "layout-change",
		weight: 0.6,
		patterns: compile(
			`\b(move|reorder|rearrange|align|position)\b`,
			`\blayout\b`,
			`\b(grid|columns?|rows?|spacing)\b`,
		),
	},
	{
		name:   "tool-action",
		weight: 0.5,
		patterns: compile(
			`\b(add|insert|remove|delete|replace)\b.*\b(section|image|video|form|button|block)\b`,
			`\bupload\b`,
		),
	},
	{
		name:   "simple-edit",
		weight: 0.3,
		patterns: compile(
			`\bchange\b.*\b(text|copy|wording|label|title|heading|color|colour)\b`,
			`\b(update|edit|tweak)\b.*\b(text|copy|label|style)\b`,
			`\b(bigger|smaller|bold|italic)\b`,
			`\bchange the \w+ (color|colour)\b`,
		),
	},
}

// ModelClassifier asks a cheap model to bucket a message. It is the narrow
// slice of a model provider the hybrid path needs.
type ModelClassifier interface {
	ClassifyComplexity(ctx context.Context, message string) (string, error)
}

// Options configures a Classifier
type Options struct {
	// HybridEnabled gates escalation of ambiguous scores to the weak model.
	HybridEnabled bool

	// AmbiguousLow/AmbiguousHigh bound the band (inclusive) escalated to the
	// model when hybrid classification is enabled. A zero fast-path score is
	// always ambiguous.
	AmbiguousLow  float64
	AmbiguousHigh float64

	// Timeout bounds the model classification call.
	Timeout time.Duration

	// CacheTTL bounds cache entry lifetime.
	CacheTTL time.Duration

	// Model is the weak-model escalation target. Required when
	// HybridEnabled is true.
	Model ModelClassifier

	// Clock is injectable for deterministic tests. Defaults to time.Now.
	Clock func() time.Time

	Logger zerolog.Logger
}

// Classifier scores messages into complexity tiers. Classify never returns
// an error; the worst case is the neutral fallback score.
type Classifier struct {
	opts  Options
	cache *scoreCache
	clock func() time.Time
}

// NewClassifier creates a classifier
func NewClassifier(opts Options) (*Classifier, error) {
	observability.EnsureRegistered()

	if opts.HybridEnabled && opts.Model == nil {
		return nil, fmt.Errorf("hybrid classification requires a model classifier")
	}
	if opts.AmbiguousLow == 0 && opts.AmbiguousHigh == 0 {
		opts.AmbiguousLow = 0.4
		opts.AmbiguousHigh = 0.6
	}
	if opts.AmbiguousLow > opts.AmbiguousHigh {
		return nil, fmt.Errorf("ambiguous band low %.2f exceeds high %.2f", opts.AmbiguousLow, opts.AmbiguousHigh)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Classifier{
		opts:  opts,
		cache: newScoreCache(opts.CacheTTL, clock),
		clock: clock,
	}, nil
}

// Classify scores a message, optionally informed by request context such as
// a selected element. Identical (message, extra) pairs within the cache TTL
// return the cached score with "cached" appended to its factors.
func (c *Classifier) Classify(ctx context.Context, message string, extra map[string]string) Score {
	key := cacheKey(message, extra)

	if cached, ok := c.cache.get(key); ok {
		observability.RecordCacheLookup(true)
		cached.Factors = append(cached.Factors, "cached")
		return cached
	}
	observability.RecordCacheLookup(false)

	score := c.fastPath(message, extra)

	if c.opts.HybridEnabled && c.isAmbiguous(score.Value) {
		score = c.hybridPath(ctx, message, score)
	}

	observability.RecordClassification(string(score.Method))
	c.opts.Logger.Debug().
		Float64("score", score.Value).
		Strs("factors", score.Factors).
		Str("method", string(score.Method)).
		Msg("Classified message complexity")

	c.cache.put(key, score)
	return score.clone()
}

// fastPath runs the deterministic category matcher.
func (c *Classifier) fastPath(message string, extra map[string]string) Score {
	score := Score{Method: MethodRegex}

	for _, cat := range categories {
		for _, re := range cat.patterns {
			if re.MatchString(message) {
				score.Factors = append(score.Factors, cat.name)
				if cat.weight > score.Value {
					score.Value = cat.weight
				}
				break
			}
		}
	}

	if _, ok := extra[SelectedElementKey]; ok {
		score.Factors = append(score.Factors, "selected-element")
		if score.Value < 0.2 {
			score.Value = 0.2
		}
	}

	if len(score.Factors) == 0 {
		score.Factors = []string{"no-match"}
	}

	score.Value = clamp01(score.Value)
	return score
}

func (c *Classifier) isAmbiguous(value float64) bool {
	if value == 0 {
		return true
	}
	return value >= c.opts.AmbiguousLow && value <= c.opts.AmbiguousHigh
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// cacheKey builds a stable key from the message and a canonical serialization
// of the extra context.
func cacheKey(message string, extra map[string]string) string {
	if len(extra) == 0 {
		return message
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(message)
	for _, k := range keys {
		b.WriteString("\x1f")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(extra[k])
	}
	return b.String()
}
