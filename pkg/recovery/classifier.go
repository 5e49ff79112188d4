package recovery

import (
	"context"
	"errors"
	"strings"

	"github.com/pagelift/engine/pkg/toolexecutor"
)

// Kind is the classified failure taxonomy. Classification is derived from
// sentinels first, then message content, since the trigger may originate at
// the gateway, the registry, or the repair path.
type Kind string

const (
	KindNoSuchTool         Kind = "no_such_tool"
	KindInvalidToolInput   Kind = "invalid_tool_input"
	KindTransportOrTimeout Kind = "transport_or_timeout"
	KindRepairFailure      Kind = "repair_failure"
	KindUnknown            Kind = "unknown"
)

// ErrRepairFailed marks a corrected tool call that still failed
var ErrRepairFailed = errors.New("tool call repair failed")

// Classify buckets an error into its failure kind
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	switch {
	case errors.Is(err, ErrRepairFailed):
		return KindRepairFailure
	case errors.Is(err, toolexecutor.ErrToolNotFound):
		return KindNoSuchTool
	case errors.Is(err, toolexecutor.ErrInvalidInput):
		return KindInvalidToolInput
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransportOrTimeout
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "repair"):
		return KindRepairFailure
	case strings.Contains(msg, "not found"), strings.Contains(msg, "unknown tool"), strings.Contains(msg, "no such tool"):
		return KindNoSuchTool
	case strings.Contains(msg, "invalid input"), strings.Contains(msg, "schema"), strings.Contains(msg, "validation"):
		return KindInvalidToolInput
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"),
		strings.Contains(msg, "connection"), strings.Contains(msg, "econnreset"),
		strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return KindTransportOrTimeout
	default:
		return KindUnknown
	}
}
