package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pagelift/engine/pkg/complexity"
	"github.com/pagelift/engine/pkg/toolexecutor"
)

// Request contains the parameters for one gateway step call
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []toolexecutor.Spec
	Temperature  float64
	MaxTokens    int
}

// LLMProvider is the language model gateway boundary: one bounded call per
// step, returning that step's complete event.
type LLMProvider interface {
	// Call makes one step call
	Call(ctx context.Context, request Request) (*StepEvent, error)

	// Provider returns the provider name
	Provider() string
}

// NewProvider creates a provider by name
func NewProvider(name, apiKey string) (LLMProvider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// sortedSpecs renders a spec map in deterministic order for the wire
func sortedSpecs(specs map[string]toolexecutor.Spec) []toolexecutor.Spec {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]toolexecutor.Spec, 0, len(names))
	for _, name := range names {
		out = append(out, specs[name])
	}
	return out
}

// modelClassifier adapts a provider + weak model into the narrow interface
// the hybrid classification path needs.
type modelClassifier struct {
	provider LLMProvider
	model    string
}

// NewModelClassifier wraps a provider and weak model for hybrid complexity
// classification.
func NewModelClassifier(provider LLMProvider, model string) complexity.ModelClassifier {
	return &modelClassifier{provider: provider, model: model}
}

func (m *modelClassifier) ClassifyComplexity(ctx context.Context, message string) (string, error) {
	event, err := m.provider.Call(ctx, Request{
		Model:     m.model,
		MaxTokens: 16,
		Messages: []Message{
			{Role: "user", Content: complexity.ClassificationPrompt + message},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(event.Text), nil
}
