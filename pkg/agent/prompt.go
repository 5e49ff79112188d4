package agent

import (
	"fmt"

	"github.com/pagelift/engine/pkg/complexity"
)

// systemPrompt encodes tier-specific execution guidance: phase discipline,
// analyze-before-mutate, and confirmation requirements for large changes.
func systemPrompt(tier complexity.Tier, maxSteps int, finalizingTool string) string {
	base := `You are a website building assistant working on a landing page.
You work in discrete steps. In each step you may call tools to inspect or
modify the page, or answer in text when the task is done.

Rules:
- Inspect before you mutate: read the relevant section before changing it.
- Reference tool results by their tool call when you build on them.
- When the task is complete, call the ` + fmt.Sprintf("%q", finalizingTool) + ` tool or state the result plainly.`

	switch tier {
	case complexity.TierSimple:
		return base + fmt.Sprintf(`

This is a small, targeted task. Complete it in a single phase within %d steps.
Do not expand scope beyond what was asked.`, maxSteps)
	case complexity.TierModerate:
		return base + fmt.Sprintf(`

Work in two phases within %d steps:
1. Analysis: locate the affected sections.
2. Execution: apply the change and verify it.`, maxSteps)
	default:
		return base + fmt.Sprintf(`

This is a large task. Work in three phases within %d steps:
1. Analysis: survey the page and outline the changes before touching anything.
2. Execution: apply changes incrementally, one section at a time.
3. Validation: review the result against the request.

Before a change that replaces an entire page or discards existing content,
state what will be lost and confirm the intent in your reasoning.`, maxSteps)
	}
}

// phaseFor tags a step for observers. The first step is analysis, steps that
// dispatch tools are execution, trailing text-only steps are validation.
func phaseFor(step int, toolCalls int) Phase {
	switch {
	case step == 1:
		return PhaseAnalysis
	case toolCalls > 0:
		return PhaseExecution
	default:
		return PhaseValidation
	}
}
