package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pagelift/engine/pkg/budget"
	"github.com/pagelift/engine/pkg/complexity"
	"github.com/pagelift/engine/pkg/metrics"
	"github.com/pagelift/engine/pkg/recovery"
	"github.com/pagelift/engine/pkg/state"
	"github.com/pagelift/engine/pkg/toolexecutor"
)

// runOutcome is the loop's termination summary
type runOutcome struct {
	response     string
	steps        int
	stopReason   string
	reachedLimit bool
	natural      bool
	paused       bool
	degraded     bool
	pauseMessage string
}

// runLoop drives the step loop: one gateway call per step, tool dispatch,
// state/metrics updates, and first-match-wins stop-condition evaluation.
func (r *Runner) runLoop(ctx context.Context, logger zerolog.Logger, params Params, budgetCfg budget.Config, model budget.ModelHandle, tier complexity.Tier) runOutcome {
	history := append([]Message(nil), params.Messages...)
	toolSpecs := sortedSpecs(r.tools.List(ctx))
	sysPrompt := systemPrompt(tier, budgetCfg.MaxSteps, r.planner.FinalizingTool())

	var toolsCalled []string
	out := runOutcome{}

	for step := 1; step <= budgetCfg.MaxSteps; step++ {
		// Cancellation is honored only at step boundaries; in-flight calls
		// run to completion.
		select {
		case <-ctx.Done():
			out.paused = true
			out.pauseMessage = "The run was cancelled."
			out.stopReason = "cancelled"
			return out
		default:
		}

		stepStart := time.Now()

		event, outcome, callErr := r.callStep(ctx, model, sysPrompt, history, toolSpecs, step, budgetCfg.MaxSteps, tier, params.ConversationID)
		if callErr != nil {
			_ = r.tracker.Update(params.ConversationID, state.Patch{ErrorDelta: 1})
			out.steps = step

			if ctx.Err() != nil {
				out.paused = true
				out.pauseMessage = "The run was cancelled."
				out.stopReason = "cancelled"
				return out
			}
			if outcome.Halt {
				out.paused = true
				out.pauseMessage = outcome.Message
				out.stopReason = "user feedback required"
				return out
			}
			if outcome.Degraded {
				out.degraded = true
			}
			// Advisory or degraded: feed the notice back and let the model
			// adapt on the next step.
			history = append(history, Message{Role: "user", Content: outcome.Message})
			cur := step
			_ = r.tracker.Update(params.ConversationID, state.Patch{CurrentStep: &cur})
			_ = r.collector.TrackStep(params.ConversationID, 0, time.Since(stepStart))
			continue
		}

		stepTokens := event.Usage.Total()

		// IDs must be settled before the assistant message enters history so
		// tool results reference a call the transcript actually carries.
		for i := range event.ToolCalls {
			if event.ToolCalls[i].ID == "" {
				event.ToolCalls[i].ID = uuid.New().String()
			}
		}

		history = append(history, Message{
			Role:      "assistant",
			Content:   event.Text,
			ToolCalls: event.ToolCalls,
		})

		stepToolErrors := 0
		var stepTools, stepFiles []string
		haltMessage := ""

		for _, tc := range event.ToolCalls {
			resultMsg, info, toolExec, repairTokens, toolOutcome := r.dispatchTool(ctx, history, tc, step, budgetCfg.MaxSteps, tier, params, model)
			history = append(history, resultMsg)
			stepTokens += repairTokens
			stepTools = append(stepTools, tc.Name)
			stepFiles = append(stepFiles, filesFromInput(tc.Input)...)

			if err := r.collector.TrackTool(params.ConversationID, toolExec); err != nil {
				logger.Warn().Err(err).Msg("Failed to track tool metrics")
			}
			if cb := params.Callbacks.OnToolCall; cb != nil {
				cb(info)
			}
			if !info.Success {
				stepToolErrors++
			}
			if toolOutcome != nil && toolOutcome.Halt {
				haltMessage = toolOutcome.Message
			}
		}
		toolsCalled = append(toolsCalled, stepTools...)

		cur := step
		if err := r.tracker.Update(params.ConversationID, state.Patch{
			CurrentStep:   &cur,
			ToolsUsed:     stepTools,
			FilesModified: stepFiles,
			ErrorDelta:    stepToolErrors,
		}); err != nil {
			logger.Warn().Err(err).Msg("Failed to update conversation state")
		}
		if err := r.collector.TrackStep(params.ConversationID, stepTokens, time.Since(stepStart)); err != nil {
			logger.Warn().Err(err).Msg("Failed to track step metrics")
		}

		if event.Text != "" {
			out.response = event.Text
		}
		out.steps = step

		if cb := params.Callbacks.OnProgress; cb != nil {
			cb(Progress{
				CurrentStep: step,
				TotalSteps:  budgetCfg.MaxSteps,
				Action:      stepAction(event),
			})
		}
		if cb := params.Callbacks.OnStepFinish; cb != nil {
			cb(StepResult{
				StepNumber: step,
				Phase:      phaseFor(step, len(event.ToolCalls)),
				Text:       event.Text,
				ToolCalls:  len(event.ToolCalls),
				Duration:   time.Since(stepStart),
			})
		}

		if haltMessage != "" {
			out.paused = true
			out.pauseMessage = haltMessage
			out.stopReason = "user feedback required"
			return out
		}

		naturalFinish := event.FinishReason == "stop"

		snap := budget.Snapshot{
			Step:         step,
			MaxSteps:     budgetCfg.MaxSteps,
			ToolsCalled:  toolsCalled,
			Text:         event.Text,
			FinishReason: event.FinishReason,
		}
		if cond, fired := budget.EvaluateAll(budgetCfg.StopConditions, snap); fired {
			// The ceiling leads the condition list, so it can mask a natural
			// stop signal firing on the same final-step snapshot. A run that
			// finishes its task on the last budgeted step did not fail.
			if cond.Kind == budget.KindStepCount {
				for _, c := range budgetCfg.StopConditions {
					if c.Kind != budget.KindStepCount && c.Evaluate(snap) {
						cond = c
						break
					}
				}
			}
			out.stopReason = cond.Reason
			out.reachedLimit = cond.Kind == budget.KindStepCount
			out.natural = naturalFinish || cond.Kind != budget.KindStepCount
			return out
		}

		if naturalFinish && len(event.ToolCalls) == 0 {
			out.natural = true
			out.stopReason = "model finished"
			return out
		}
	}

	// Unreachable while the leading StepCount condition is intact; kept as a
	// terminal safety net for fully-overridden condition lists.
	out.reachedLimit = true
	out.stopReason = fmt.Sprintf("step budget of %d reached", budgetCfg.MaxSteps)
	return out
}

// callStep makes one gateway call, routing failures through the strategist.
// Retry strategies re-issue the call; any other strategy returns the outcome
// to the loop. Bounded because Retry increments the attempt counter, which
// the feedback threshold caps.
func (r *Runner) callStep(ctx context.Context, model budget.ModelHandle, sysPrompt string, history []Message, toolSpecs []toolexecutor.Spec, step, maxSteps int, tier complexity.Tier, conversationID string) (*StepEvent, recovery.Outcome, error) {
	for {
		callCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
		event, err := r.provider.Call(callCtx, Request{
			Model:        model.Name,
			SystemPrompt: sysPrompt,
			Messages:     history,
			Tools:        toolSpecs,
		})
		cancel()

		if err == nil {
			return event, recovery.Outcome{}, nil
		}

		outcome := r.strategist.Recover(ctx, recovery.ErrorContext{
			Err:            err,
			StepNumber:     step,
			TotalSteps:     maxSteps,
			ConversationID: conversationID,
			Complexity:     tier,
		})
		// A cancelled run must not keep issuing gateway calls.
		if outcome.Strategy == recovery.StrategyRetry && ctx.Err() == nil {
			continue
		}
		return nil, outcome, err
	}
}

// dispatchTool executes one tool call, applying at most one automatic repair
// re-ask on failure. The corrected call is substituted under the original
// toolCallID and executed; repair never recurses.
func (r *Runner) dispatchTool(ctx context.Context, history []Message, tc ToolCall, step, maxSteps int, tier complexity.Tier, params Params, model budget.ModelHandle) (Message, ToolCallInfo, metrics.ToolExecution, int, *recovery.Outcome) {
	execCtx := toolexecutor.ExecutionContext{
		UserID:         params.UserID,
		ConversationID: params.ConversationID,
		ToolCallID:     tc.ID,
		Timeout:        r.toolTimeout,
	}

	result := r.tools.Execute(ctx, tc.Name, tc.Input, execCtx)
	repairTokens := 0
	repaired := false

	if !result.Success && !errors.Is(result.Err, toolexecutor.ErrToolNotFound) {
		corrected, tokens, repairErr := r.repairToolCall(ctx, history, tc, result, model)
		repairTokens = tokens

		if repairErr == nil && corrected != nil {
			corrected.ID = tc.ID
			retryResult := r.tools.Execute(ctx, corrected.Name, corrected.Input, execCtx)
			if retryResult.Success {
				result = retryResult
				repaired = true
			} else {
				result.Err = fmt.Errorf("%w: corrected call still failed: %s", recovery.ErrRepairFailed, retryResult.Error)
				result.Error = result.Err.Error()
			}
		} else if repairErr != nil {
			result.Err = fmt.Errorf("%w: %v", recovery.ErrRepairFailed, repairErr)
			result.Error = result.Err.Error()
		}
	}

	toolExec := metrics.ToolExecution{
		ToolName:   tc.Name,
		Duration:   result.Duration,
		Success:    result.Success,
		InputSize:  result.InputSize,
		OutputSize: result.OutputSize,
		StepNumber: step,
		Timestamp:  time.Now(),
	}
	info := ToolCallInfo{
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		StepNumber: step,
		Success:    result.Success,
		Repaired:   repaired,
	}

	if result.Success {
		return Message{
			Role:       "tool",
			Content:    renderOutput(result.Output),
			ToolCallID: tc.ID,
		}, info, toolExec, repairTokens, nil
	}

	toolExec.ErrorMessage = result.Error
	info.Error = result.Error

	outcome := r.strategist.Recover(ctx, recovery.ErrorContext{
		Err:            result.Err,
		ToolName:       tc.Name,
		StepNumber:     step,
		TotalSteps:     maxSteps,
		ConversationID: params.ConversationID,
		Complexity:     tier,
	})

	// The fixed template replaces the raw error before it reaches the
	// transcript.
	return Message{
		Role:       "tool",
		Content:    outcome.Message,
		ToolCallID: tc.ID,
	}, info, toolExec, repairTokens, &outcome
}

// repairToolCall asks the model once for a corrected call, presenting the
// failed call and its error as a synthetic tool-result turn.
func (r *Runner) repairToolCall(ctx context.Context, history []Message, tc ToolCall, failed toolexecutor.Result, model budget.ModelHandle) (*ToolCall, int, error) {
	repairHistory := append(append([]Message(nil), history...),
		Message{
			Role:       "tool",
			Content:    fmt.Sprintf("Tool call failed: %s", failed.Error),
			ToolCallID: tc.ID,
		},
		Message{
			Role: "user",
			Content: fmt.Sprintf(
				"The call to %q failed with the error above. Issue exactly one corrected tool call, or answer in text if the tool cannot help.",
				tc.Name,
			),
		},
	)

	callCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	defer cancel()

	event, err := r.provider.Call(callCtx, Request{
		Model:        model.Name,
		Messages:     repairHistory,
		Tools:        sortedSpecs(r.tools.List(ctx)),
		SystemPrompt: "You are correcting a failed tool call. Respond with one corrected call.",
	})
	if err != nil {
		return nil, 0, err
	}

	if len(event.ToolCalls) == 0 {
		return nil, event.Usage.Total(), fmt.Errorf("model returned no corrected call")
	}
	corrected := event.ToolCalls[0]
	return &corrected, event.Usage.Total(), nil
}

func stepAction(event *StepEvent) string {
	if len(event.ToolCalls) == 1 {
		return fmt.Sprintf("using %s", event.ToolCalls[0].Name)
	}
	if len(event.ToolCalls) > 1 {
		return fmt.Sprintf("running %d tools", len(event.ToolCalls))
	}
	return "thinking"
}

// renderOutput serializes a tool output for the transcript
func renderOutput(output interface{}) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// filesFromInput extracts file identifiers from conventional input keys so
// state can accumulate the touched-files set.
func filesFromInput(input map[string]interface{}) []string {
	var files []string
	for _, key := range []string{"path", "file", "file_path", "filename"} {
		if v, ok := input[key].(string); ok && v != "" {
			files = append(files, v)
		}
	}
	return files
}
