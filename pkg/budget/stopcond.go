package budget

import (
	"fmt"
	"strings"
)

// ConditionKind discriminates stop-condition variants
type ConditionKind string

const (
	KindStepCount    ConditionKind = "step_count"
	KindToolCalled   ConditionKind = "tool_called"
	KindTextContains ConditionKind = "text_contains"
	KindCustom       ConditionKind = "custom"
)

// Snapshot is the per-step view stop conditions are evaluated against
type Snapshot struct {
	Step         int
	MaxSteps     int
	ToolsCalled  []string
	Text         string
	FinishReason string
}

// StopCondition decides run termination after a step. Exactly one variant
// field is meaningful for each Kind.
type StopCondition struct {
	Kind   ConditionKind
	Steps  int
	Tool   string
	Marker string
	Fn     func(Snapshot) bool
	Reason string
}

// StepCount stops once the given number of steps has been executed
func StepCount(n int) StopCondition {
	return StopCondition{
		Kind:   KindStepCount,
		Steps:  n,
		Reason: fmt.Sprintf("step budget of %d reached", n),
	}
}

// ToolCalled stops once the named tool has been invoked
func ToolCalled(name string) StopCondition {
	return StopCondition{
		Kind:   KindToolCalled,
		Tool:   name,
		Reason: fmt.Sprintf("finalizing tool %q called", name),
	}
}

// TextContains stops once the model's text contains the marker
func TextContains(marker string) StopCondition {
	return StopCondition{
		Kind:   KindTextContains,
		Marker: marker,
		Reason: fmt.Sprintf("completion marker %q emitted", marker),
	}
}

// Custom stops when the predicate reports true
func Custom(reason string, fn func(Snapshot) bool) StopCondition {
	return StopCondition{
		Kind:   KindCustom,
		Fn:     fn,
		Reason: reason,
	}
}

// Evaluate reports whether this condition fires for the snapshot
func (sc StopCondition) Evaluate(snap Snapshot) bool {
	switch sc.Kind {
	case KindStepCount:
		return snap.Step >= sc.Steps
	case KindToolCalled:
		for _, tool := range snap.ToolsCalled {
			if tool == sc.Tool {
				return true
			}
		}
		return false
	case KindTextContains:
		return sc.Marker != "" && strings.Contains(snap.Text, sc.Marker)
	case KindCustom:
		return sc.Fn != nil && sc.Fn(snap)
	default:
		return false
	}
}

// EvaluateAll evaluates conditions in order, first-match-wins. The second
// return reports whether any condition fired.
func EvaluateAll(conditions []StopCondition, snap Snapshot) (StopCondition, bool) {
	for _, cond := range conditions {
		if cond.Evaluate(snap) {
			return cond, true
		}
	}
	return StopCondition{}, false
}
