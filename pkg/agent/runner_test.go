package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelift/engine/pkg/budget"
	"github.com/pagelift/engine/pkg/complexity"
	"github.com/pagelift/engine/pkg/metrics"
	"github.com/pagelift/engine/pkg/recovery"
	"github.com/pagelift/engine/pkg/state"
	"github.com/pagelift/engine/pkg/toolexecutor"
)

// scriptedProvider pops one pre-scripted event per call. When the script is
// exhausted it emits a plain natural finish, so loops always terminate.
type scriptedProvider struct {
	mu       sync.Mutex
	events   []*StepEvent
	err      error
	gate     chan struct{}
	onCall   func()
	requests []Request
}

func (p *scriptedProvider) Call(ctx context.Context, req Request) (*StepEvent, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var event *StepEvent
	if len(p.events) > 0 {
		event = p.events[0]
		p.events = p.events[1:]
	}
	gate := p.gate
	err := p.err
	onCall := p.onCall
	p.mu.Unlock()

	if onCall != nil {
		onCall()
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if event == nil {
		event = &StepEvent{Text: "All done.", FinishReason: "stop", Usage: Usage{InputTokens: 10, OutputTokens: 5}}
	}
	return event, nil
}

func (p *scriptedProvider) Provider() string { return "scripted" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

type testEnv struct {
	runner   *Runner
	provider *scriptedProvider
	registry *toolexecutor.Registry
	tracker  *state.Tracker
}

func setupTestRunner(t *testing.T, provider *scriptedProvider) *testEnv {
	t.Helper()

	classifier, err := complexity.NewClassifier(complexity.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	planner, err := budget.NewPlanner(budget.DefaultPlannerOptions())
	require.NoError(t, err)

	tracker := state.NewTracker(state.TrackerOptions{Logger: zerolog.Nop()})
	collector := metrics.NewCollector(metrics.CollectorOptions{Logger: zerolog.Nop()})
	strategist := recovery.NewStrategist(2, 0, zerolog.Nop())

	registry := toolexecutor.New(zerolog.Nop())
	require.NoError(t, registry.Register(toolexecutor.Definition{
		Name:        "update_text",
		Description: "updates a text element",
		Parameters: []toolexecutor.Parameter{
			{Name: "text", Type: "string", Description: "new text", Required: true},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return "updated", nil
		},
	}))
	require.NoError(t, registry.Register(toolexecutor.Definition{
		Name:        "publish_page",
		Description: "publishes the landing page",
		Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return "published", nil
		},
	}))

	runner, err := New(Config{
		Classifier:     classifier,
		Planner:        planner,
		Tracker:        tracker,
		Collector:      collector,
		Strategist:     strategist,
		Tools:          registry,
		Provider:       provider,
		StrongModel:    budget.ModelHandle{Name: "strong-model", Provider: "scripted"},
		WeakModel:      budget.ModelHandle{Name: "weak-model", Provider: "scripted"},
		ModelThreshold: 0.6,
		StepTimeout:    time.Second,
		ToolTimeout:    time.Second,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)

	return &testEnv{runner: runner, provider: provider, registry: registry, tracker: tracker}
}

func tierPtr(tier complexity.Tier) *complexity.Tier { return &tier }

func userParams(conversationID, message string) Params {
	return Params{
		ConversationID: conversationID,
		UserID:         "user-1",
		Messages:       []Message{{Role: "user", Content: message}},
	}
}

func toolCallEvent(id, name string, input map[string]interface{}) *StepEvent {
	return &StepEvent{
		ToolCalls:    []ToolCall{{ID: id, Name: name, Input: input}},
		FinishReason: "tool_calls",
		Usage:        Usage{InputTokens: 20, OutputTokens: 10},
	}
}

func TestNew(t *testing.T) {
	t.Run("should reject missing collaborators", func(t *testing.T) {
		_, err := New(Config{})
		assert.Error(t, err)
	})

	t.Run("should reject an out-of-range model threshold", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{})
		cfg := Config{
			Classifier:     env.runner.classifier,
			Planner:        env.runner.planner,
			Tracker:        env.runner.tracker,
			Collector:      env.runner.collector,
			Strategist:     env.runner.strategist,
			Tools:          env.registry,
			Provider:       env.provider,
			StrongModel:    budget.ModelHandle{Name: "s"},
			WeakModel:      budget.ModelHandle{Name: "w"},
			ModelThreshold: 1.5,
		}
		_, err := New(cfg)
		assert.Error(t, err)
	})
}

func TestRunValidation(t *testing.T) {
	env := setupTestRunner(t, &scriptedProvider{})

	t.Run("should reject an empty conversation ID", func(t *testing.T) {
		params := userParams("", "hello")
		_, err := env.runner.Run(context.Background(), params)
		assert.Error(t, err)
	})

	t.Run("should reject an empty user ID", func(t *testing.T) {
		params := userParams("conv-1", "hello")
		params.UserID = ""
		_, err := env.runner.Run(context.Background(), params)
		assert.Error(t, err)
	})

	t.Run("should reject empty messages", func(t *testing.T) {
		params := userParams("conv-1", "hello")
		params.Messages = nil
		_, err := env.runner.Run(context.Background(), params)
		assert.Error(t, err)
	})
}

func TestRunNaturalCompletion(t *testing.T) {
	t.Run("should complete on a text-only natural finish", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{events: []*StepEvent{
			{Text: "The button is now blue.", FinishReason: "stop", Usage: Usage{InputTokens: 30, OutputTokens: 12}},
		}})

		result, err := env.runner.Run(context.Background(), userParams("conv-natural", "Change the button color to blue"))
		require.NoError(t, err)

		assert.Equal(t, 1, result.Steps)
		assert.True(t, result.NaturalCompletion)
		assert.False(t, result.ReachedStepLimit)
		assert.False(t, result.Paused)
		assert.Equal(t, "The button is now blue.", result.Response)
		assert.Equal(t, "model finished", result.StopReason)
		assert.Equal(t, metrics.CompletionSuccess, result.CompletionStatus)
		assert.Equal(t, 42, result.TokensUsed)

		conv, ok := env.tracker.Get("conv-natural")
		require.True(t, ok)
		assert.Equal(t, state.StatusCompleted, conv.Status)
	})

	t.Run("should stop when the finalizing tool is called", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{events: []*StepEvent{
			toolCallEvent("call-1", "publish_page", nil),
		}})

		params := userParams("conv-publish", "publish it")
		params.ComplexityOverride = tierPtr(complexity.TierModerate)

		result, err := env.runner.Run(context.Background(), params)
		require.NoError(t, err)

		assert.Equal(t, 1, result.Steps)
		assert.True(t, result.NaturalCompletion)
		assert.False(t, result.ReachedStepLimit)
		assert.Contains(t, result.StopReason, "publish_page")
		assert.Contains(t, result.ToolsUsed, "publish_page")

		conv, _ := env.tracker.Get("conv-publish")
		assert.Equal(t, state.StatusCompleted, conv.Status)
	})
}

func TestRunBudgetExhaustion(t *testing.T) {
	t.Run("should fail a run that burns its budget without finishing", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{events: []*StepEvent{
			toolCallEvent("c1", "update_text", map[string]interface{}{"text": "one"}),
			toolCallEvent("c2", "update_text", map[string]interface{}{"text": "two"}),
			toolCallEvent("c3", "update_text", map[string]interface{}{"text": "three"}),
		}})

		params := userParams("conv-budget", "keep editing")
		params.ComplexityOverride = tierPtr(complexity.TierSimple)

		result, err := env.runner.Run(context.Background(), params)
		require.NoError(t, err)

		assert.Equal(t, 3, result.Steps)
		assert.Equal(t, 3, result.MaxSteps)
		assert.True(t, result.ReachedStepLimit)
		assert.False(t, result.NaturalCompletion)
		assert.Contains(t, result.Explanation, "3")
		assert.Equal(t, 3, env.provider.callCount())

		conv, _ := env.tracker.Get("conv-budget")
		assert.Equal(t, state.StatusFailed, conv.Status)
	})

	t.Run("should never exceed the tier step ceiling", func(t *testing.T) {
		budgets := map[complexity.Tier]int{
			complexity.TierSimple:   3,
			complexity.TierModerate: 7,
			complexity.TierComplex:  15,
			complexity.TierAdvanced: 25,
		}
		for tier, ceiling := range budgets {
			// A script of endless tool calls never finishes naturally; the
			// exhausted script's fallback would stop the loop, so feed exactly
			// ceiling tool-call events.
			var events []*StepEvent
			for i := 0; i < ceiling; i++ {
				events = append(events, toolCallEvent("", "update_text", map[string]interface{}{"text": "x"}))
			}
			env := setupTestRunner(t, &scriptedProvider{events: events})

			params := userParams("conv-ceiling-"+string(tier), "keep going")
			params.ComplexityOverride = tierPtr(tier)

			result, err := env.runner.Run(context.Background(), params)
			require.NoError(t, err, "tier %s", tier)

			assert.Equal(t, ceiling, result.Steps, "tier %s", tier)
			assert.Equal(t, ceiling, env.provider.callCount(), "tier %s", tier)
			assert.True(t, result.ReachedStepLimit, "tier %s", tier)
		}
	})

	t.Run("should count a finalizing tool on the last step as natural completion", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{events: []*StepEvent{
			toolCallEvent("c1", "update_text", map[string]interface{}{"text": "one"}),
			toolCallEvent("c2", "update_text", map[string]interface{}{"text": "two"}),
			toolCallEvent("c3", "publish_page", nil),
		}})

		params := userParams("conv-last-step", "edit then publish")
		params.ComplexityOverride = tierPtr(complexity.TierModerate)
		params.MaxStepsOverride = 3

		result, err := env.runner.Run(context.Background(), params)
		require.NoError(t, err)

		assert.True(t, result.NaturalCompletion)
		assert.False(t, result.ReachedStepLimit)
		assert.Contains(t, result.StopReason, "publish_page")

		conv, _ := env.tracker.Get("conv-last-step")
		assert.Equal(t, state.StatusCompleted, conv.Status)
	})

	t.Run("should honor a max steps override", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{events: []*StepEvent{
			toolCallEvent("c1", "update_text", map[string]interface{}{"text": "one"}),
			toolCallEvent("c2", "update_text", map[string]interface{}{"text": "two"}),
		}})

		params := userParams("conv-override", "keep editing")
		params.ComplexityOverride = tierPtr(complexity.TierAdvanced)
		params.MaxStepsOverride = 2

		result, err := env.runner.Run(context.Background(), params)
		require.NoError(t, err)

		assert.Equal(t, 2, result.MaxSteps)
		assert.Equal(t, 2, result.Steps)
		assert.True(t, result.ReachedStepLimit)
	})
}

func TestRunModelSelection(t *testing.T) {
	t.Run("should route a simple edit to the weak model", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{})

		result, err := env.runner.Run(context.Background(), userParams("conv-weak", "Change the button color to blue"))
		require.NoError(t, err)

		assert.Equal(t, "weak-model", result.Model.Name)
		assert.Equal(t, complexity.TierSimple, result.Complexity)
		assert.Equal(t, 3, result.MaxSteps)
		assert.Equal(t, "weak-model", env.provider.request(0).Model)
	})

	t.Run("should route a heavy refactor to the strong model", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{})

		result, err := env.runner.Run(context.Background(), userParams("conv-strong", "Refactor the entire checkout flow and fix the bugs"))
		require.NoError(t, err)

		assert.Equal(t, "strong-model", result.Model.Name)
		assert.Equal(t, complexity.TierAdvanced, result.Complexity)
		assert.Equal(t, 25, result.MaxSteps)
	})
}

func TestRunLease(t *testing.T) {
	t.Run("should reject a second run for an active conversation", func(t *testing.T) {
		gate := make(chan struct{})
		env := setupTestRunner(t, &scriptedProvider{gate: gate})

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = env.runner.Run(context.Background(), userParams("conv-lease", "hello"))
		}()

		require.Eventually(t, func() bool {
			return env.runner.IsRunning("conv-lease")
		}, time.Second, time.Millisecond)

		_, err := env.runner.Run(context.Background(), userParams("conv-lease", "hello again"))
		assert.True(t, errors.Is(err, ErrRunActive))

		close(gate)
		<-done

		assert.False(t, env.runner.IsRunning("conv-lease"))
	})

	t.Run("should allow a fresh run once the lease is released", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{})

		_, err := env.runner.Run(context.Background(), userParams("conv-again", "hello"))
		require.NoError(t, err)

		_, err = env.runner.Run(context.Background(), userParams("conv-again", "hello again"))
		assert.NoError(t, err)
	})
}

func TestRunCancellation(t *testing.T) {
	t.Run("should pause at the step boundary when cancelled", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := env.runner.Run(ctx, userParams("conv-cancel", "hello"))
		require.NoError(t, err)

		assert.True(t, result.Paused)
		assert.Equal(t, "cancelled", result.StopReason)
		assert.Zero(t, result.Steps)
		assert.Zero(t, env.provider.callCount())

		conv, _ := env.tracker.Get("conv-cancel")
		assert.Equal(t, state.StatusPaused, conv.Status)
	})

	t.Run("should stop retrying the gateway once cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		provider := &scriptedProvider{err: errors.New("connection reset by peer")}
		provider.onCall = func() { cancel() }
		env := setupTestRunner(t, provider)

		result, err := env.runner.Run(ctx, userParams("conv-cancel-retry", "hello"))
		require.NoError(t, err)

		assert.True(t, result.Paused)
		assert.Equal(t, "cancelled", result.StopReason)
		assert.Equal(t, 1, env.provider.callCount())
	})
}

func TestRunTranscript(t *testing.T) {
	t.Run("should settle a missing tool call ID before it enters history", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{events: []*StepEvent{
			toolCallEvent("", "update_text", map[string]interface{}{"text": "one"}),
			{Text: "Done.", FinishReason: "stop"},
		}})

		params := userParams("conv-transcript", "update the text")
		params.ComplexityOverride = tierPtr(complexity.TierSimple)

		_, err := env.runner.Run(context.Background(), params)
		require.NoError(t, err)

		// The second request carries the first step's transcript.
		req := env.provider.request(1)
		var assistant, toolResult *Message
		for i := range req.Messages {
			switch req.Messages[i].Role {
			case "assistant":
				if len(req.Messages[i].ToolCalls) > 0 {
					assistant = &req.Messages[i]
				}
			case "tool":
				toolResult = &req.Messages[i]
			}
		}
		require.NotNil(t, assistant)
		require.NotNil(t, toolResult)
		assert.NotEmpty(t, assistant.ToolCalls[0].ID)
		assert.Equal(t, assistant.ToolCalls[0].ID, toolResult.ToolCallID)
	})
}

func TestRunRepair(t *testing.T) {
	t.Run("should substitute a corrected tool call under the original ID", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{events: []*StepEvent{
			// The model sends a wrongly typed input.
			toolCallEvent("call-1", "set_heading", map[string]interface{}{"text": 42}),
			// The repair re-ask answers with a corrected call under its own ID.
			toolCallEvent("repair-attempt", "set_heading", map[string]interface{}{"text": "Welcome"}),
			{Text: "Heading updated.", FinishReason: "stop"},
		}})

		var mu sync.Mutex
		var executed []map[string]interface{}
		require.NoError(t, env.registry.Register(toolexecutor.Definition{
			Name:        "set_heading",
			Description: "sets the page heading",
			Parameters: []toolexecutor.Parameter{
				{Name: "text", Type: "string", Description: "heading text", Required: true},
			},
			Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
				mu.Lock()
				executed = append(executed, input)
				mu.Unlock()
				return "ok", nil
			},
		}))

		var infos []ToolCallInfo
		params := userParams("conv-repair", "Set the heading")
		params.ComplexityOverride = tierPtr(complexity.TierSimple)
		params.Callbacks = Callbacks{OnToolCall: func(info ToolCallInfo) {
			mu.Lock()
			infos = append(infos, info)
			mu.Unlock()
		}}

		result, err := env.runner.Run(context.Background(), params)
		require.NoError(t, err)

		// The handler only ever saw the corrected input.
		require.Len(t, executed, 1)
		assert.Equal(t, "Welcome", executed[0]["text"])

		require.Len(t, infos, 1)
		assert.True(t, infos[0].Success)
		assert.True(t, infos[0].Repaired)
		assert.Equal(t, "call-1", infos[0].ToolCallID)

		// step call, repair re-ask, final step
		assert.Equal(t, 3, env.provider.callCount())
		assert.Contains(t, env.provider.request(1).SystemPrompt, "correcting")

		assert.True(t, result.NaturalCompletion)
		assert.Equal(t, metrics.CompletionSuccess, result.CompletionStatus)
	})

	t.Run("should give up after one failed repair", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{events: []*StepEvent{
			toolCallEvent("call-1", "update_text", map[string]interface{}{"text": 42}),
			// The corrected call is still invalid; repair never recurses.
			toolCallEvent("repair-attempt", "update_text", map[string]interface{}{"text": 43}),
			{Text: "I could not update the text.", FinishReason: "stop"},
		}})

		var mu sync.Mutex
		var infos []ToolCallInfo
		params := userParams("conv-repair-fail", "Update the text")
		params.ComplexityOverride = tierPtr(complexity.TierSimple)
		params.Callbacks = Callbacks{OnToolCall: func(info ToolCallInfo) {
			mu.Lock()
			infos = append(infos, info)
			mu.Unlock()
		}}

		result, err := env.runner.Run(context.Background(), params)
		require.NoError(t, err)

		require.Len(t, infos, 1)
		assert.False(t, infos[0].Success)
		assert.False(t, infos[0].Repaired)

		// One failed dispatch out of one recorded execution.
		assert.Equal(t, 1.0, result.ErrorRate)
		assert.Equal(t, metrics.CompletionFailed, result.CompletionStatus)
		assert.True(t, result.NaturalCompletion)
		assert.False(t, result.Paused)

		// step call, repair re-ask, final step; no second repair attempt
		assert.Equal(t, 3, env.provider.callCount())
	})

	t.Run("should not attempt repair for an unknown tool", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{events: []*StepEvent{
			toolCallEvent("call-1", "nonexistent_tool", nil),
			{Text: "Let me try something else.", FinishReason: "stop"},
		}})

		params := userParams("conv-no-tool", "do something")
		params.ComplexityOverride = tierPtr(complexity.TierSimple)

		result, err := env.runner.Run(context.Background(), params)
		require.NoError(t, err)

		// step call and final step only; no repair re-ask in between
		assert.Equal(t, 2, env.provider.callCount())
		assert.Equal(t, metrics.CompletionFailed, result.CompletionStatus)
	})
}

func TestRunGatewayFailure(t *testing.T) {
	t.Run("should pause for user feedback after repeated gateway failures", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{err: errors.New("something odd happened")})

		params := userParams("conv-gateway", "hello")
		params.ComplexityOverride = tierPtr(complexity.TierSimple)

		result, err := env.runner.Run(context.Background(), params)
		require.NoError(t, err)

		assert.True(t, result.Paused)
		assert.Contains(t, result.Explanation, "repeated problems")
		// two retries under the threshold of two, then the halting strategy
		assert.Equal(t, 3, env.provider.callCount())

		conv, _ := env.tracker.Get("conv-gateway")
		assert.Equal(t, state.StatusPaused, conv.Status)
	})
}

func TestRunCallbacks(t *testing.T) {
	t.Run("should report progress and step results in order", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{events: []*StepEvent{
			toolCallEvent("c1", "update_text", map[string]interface{}{"text": "one"}),
			{Text: "Done.", FinishReason: "stop"},
		}})

		var mu sync.Mutex
		var progress []Progress
		var steps []StepResult

		params := userParams("conv-callbacks", "update then finish")
		params.ComplexityOverride = tierPtr(complexity.TierModerate)
		params.Callbacks = Callbacks{
			OnProgress:   func(p Progress) { mu.Lock(); progress = append(progress, p); mu.Unlock() },
			OnStepFinish: func(s StepResult) { mu.Lock(); steps = append(steps, s); mu.Unlock() },
		}

		_, err := env.runner.Run(context.Background(), params)
		require.NoError(t, err)

		require.Len(t, progress, 2)
		assert.Equal(t, 1, progress[0].CurrentStep)
		assert.Equal(t, 7, progress[0].TotalSteps)
		assert.Equal(t, "using update_text", progress[0].Action)
		assert.Equal(t, "thinking", progress[1].Action)

		require.Len(t, steps, 2)
		assert.Equal(t, PhaseAnalysis, steps[0].Phase)
		assert.Equal(t, 1, steps[0].ToolCalls)
		assert.Equal(t, PhaseValidation, steps[1].Phase)
	})
}

func TestRunStateTracking(t *testing.T) {
	t.Run("should accumulate tools and files across steps", func(t *testing.T) {
		env := setupTestRunner(t, &scriptedProvider{events: []*StepEvent{
			toolCallEvent("c1", "update_text", map[string]interface{}{"text": "one", "path": "index.html"}),
			toolCallEvent("c2", "publish_page", nil),
		}})

		params := userParams("conv-state", "edit and publish")
		params.ComplexityOverride = tierPtr(complexity.TierModerate)
		params.LandingPageID = "lp-7"

		result, err := env.runner.Run(context.Background(), params)
		require.NoError(t, err)

		assert.ElementsMatch(t, []string{"update_text", "publish_page"}, result.ToolsUsed)

		conv, ok := env.tracker.Get("conv-state")
		require.True(t, ok)
		assert.Equal(t, "lp-7", conv.LandingPageID)
		assert.Equal(t, []string{"index.html"}, conv.FilesModified)
		assert.Equal(t, 2, conv.CurrentStep)
	})
}
