// Package toolexecutor registers and executes structured tools for agent runs.
//
// Invariants:
// - Tool names are unique.
// - Inputs are schema-validated before the handler runs.
// - Handlers execute under the execution context's timeout.
// - Failures are captured in the Result with classifiable sentinel errors.
//
// Usage:
//
//	reg := toolexecutor.New(logger)
//	_ = reg.Register(toolexecutor.Definition{
//		Name:        "update_text",
//		Description: "Update a text block",
//		Parameters:  []toolexecutor.Parameter{{Name: "text", Type: "string", Description: "new text", Required: true}},
//		Handler:     func(ctx context.Context, input map[string]interface{}) (interface{}, error) { return "ok", nil },
//	})
package toolexecutor
