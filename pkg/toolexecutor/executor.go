package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/pagelift/engine/internal/observability"
)

// Parameter defines a parameter for a tool
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Handler is the function signature for tool execution
type Handler func(ctx context.Context, input map[string]interface{}) (interface{}, error)

// Definition defines a tool's metadata and handler
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Spec is the model-facing description of a tool
type Spec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ExecutionContext carries run identity into tool handlers
type ExecutionContext struct {
	UserID         string
	ConversationID string
	ToolCallID     string
	Timeout        time.Duration
}

// Result is the outcome of one tool execution
type Result struct {
	Success    bool          `json:"success"`
	Output     interface{}   `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Err        error         `json:"-"`
	Duration   time.Duration `json:"duration"`
	InputSize  int           `json:"input_size"`
	OutputSize int           `json:"output_size"`
}

// Registry manages and executes tools
type Registry struct {
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// New creates a new tool registry
func New(logger zerolog.Logger) *Registry {
	observability.EnsureRegistered()

	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger,
	}
}

// Register adds a tool. A duplicate name or an uncompilable parameter schema
// fails fast.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s has no handler", def.Name)
	}

	schemaDoc := inputSchema(def.Parameters)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaDoc))
	if err != nil {
		return fmt.Errorf("failed to compile schema for tool %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s is already registered", def.Name)
	}

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	r.logger.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Get returns a tool definition by name, or nil
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns the model-facing specs of all registered tools
func (r *Registry) List(ctx context.Context) map[string]Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make(map[string]Spec, len(r.tools))
	for name, def := range r.tools {
		specs[name] = Spec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: inputSchema(def.Parameters),
		}
	}
	return specs
}

// Execute validates the input against the tool's schema and runs the handler
// under the execution context's timeout. Failures are captured in the Result,
// with Err carrying the classifiable sentinel.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]interface{}, execCtx ExecutionContext) Result {
	start := time.Now()

	inputBytes, _ := json.Marshal(input)

	r.mu.RLock()
	def, exists := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !exists {
		err := fmt.Errorf("%w: %s", ErrToolNotFound, name)
		observability.RecordToolExecution(name, time.Since(start), false)
		return Result{
			Success:   false,
			Error:     err.Error(),
			Err:       err,
			Duration:  time.Since(start),
			InputSize: len(inputBytes),
		}
	}

	if result := validate(schema, input); !result.valid {
		err := fmt.Errorf("%w for %s: %s", ErrInvalidInput, name, result.detail)
		observability.RecordToolExecution(name, time.Since(start), false)
		return Result{
			Success:   false,
			Error:     err.Error(),
			Err:       err,
			Duration:  time.Since(start),
			InputSize: len(inputBytes),
		}
	}

	timeout := execCtx.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := r.logger.With().
		Str("tool", name).
		Str("conversation_id", execCtx.ConversationID).
		Str("tool_call_id", execCtx.ToolCallID).
		Logger()
	logger.Debug().Msg("Executing tool")

	output, err := def.Handler(ctx, input)
	duration := time.Since(start)

	if err != nil {
		observability.RecordToolExecution(name, duration, false)
		logger.Warn().Err(err).Dur("duration", duration).Msg("Tool execution failed")
		return Result{
			Success:   false,
			Error:     err.Error(),
			Err:       err,
			Duration:  duration,
			InputSize: len(inputBytes),
		}
	}

	outputBytes, _ := json.Marshal(output)
	observability.RecordToolExecution(name, duration, true)
	logger.Debug().Dur("duration", duration).Msg("Tool execution succeeded")

	return Result{
		Success:    true,
		Output:     output,
		Duration:   duration,
		InputSize:  len(inputBytes),
		OutputSize: len(outputBytes),
	}
}

type validation struct {
	valid  bool
	detail string
}

func validate(schema *gojsonschema.Schema, input map[string]interface{}) validation {
	if input == nil {
		input = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return validation{valid: false, detail: err.Error()}
	}
	if result.Valid() {
		return validation{valid: true}
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return validation{valid: false, detail: strings.Join(details, "; ")}
}

// inputSchema builds the JSON schema document for a parameter list
func inputSchema(params []Parameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, param := range params {
		properties[param.Name] = map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
