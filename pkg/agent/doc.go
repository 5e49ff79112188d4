// Package agent drives multi-step agentic runs: classification-sized step
// budgets, a per-step gateway call, tool dispatch with one-shot repair, and
// bounded recovery from classified failures.
//
// Invariants:
// - At most one active run per conversation, enforced by an exclusive lease.
// - The step count never exceeds the planned budget, for any finish reason.
// - Each failed tool call is repaired at most once; repair never recurses.
// - Callers observe a classified FinalResult, never a raw internal error.
// - Cancellation is honored at step boundaries only.
//
// Usage:
//
//	runner, _ := agent.New(agent.Config{...})
//	result, _ := runner.Run(ctx, agent.Params{
//		Messages:       []agent.Message{{Role: "user", Content: "Change the hero headline"}},
//		ConversationID: "conv:1",
//		UserID:         "user:1",
//	})
//	_ = result
package agent
