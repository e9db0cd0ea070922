package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/copilot/internal/observability"
)

// Tool is a function the remote assistant may call during a run.
type Tool interface {
	Name() string
	Description() string
	// Schema is the JSON schema of the arguments object.
	Schema() json.RawMessage
	// Execute runs the tool for the turn's account. A non-empty output is
	// sent to the assistant even when err is non-nil.
	Execute(ctx context.Context, accountID int64, args json.RawMessage) (string, error)
}

// DispatcherConfig configures tool execution.
type DispatcherConfig struct {
	// PerToolTimeout bounds a single handler. Default: 30 seconds.
	PerToolTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
}

// Dispatcher resolves batches of tool calls against a registry of tools.
type Dispatcher struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	order   []string

	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewDispatcher creates a dispatcher and registers tools in order.
func NewDispatcher(config DispatcherConfig, tools ...Tool) (*Dispatcher, error) {
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	d := &Dispatcher{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		timeout: config.PerToolTimeout,
		logger:  config.Logger.With("component", "tool-dispatcher"),
		metrics: config.Metrics,
		tracer:  config.Tracer,
	}
	for _, tool := range tools {
		if err := d.Register(tool); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Register adds a tool, replacing any tool with the same name. The tool's
// schema must compile.
func (d *Dispatcher) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(tool.Schema()))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tools[name]; !exists {
		d.order = append(d.order, name)
	}
	d.tools[name] = tool
	d.schemas[name] = compiled
	return nil
}

// Specs returns the registered tools as declarations, in registration order.
func (d *Dispatcher) Specs() []ToolSpec {
	d.mu.RLock()
	defer d.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(d.order))
	for _, name := range d.order {
		tool := d.tools[name]
		specs = append(specs, ToolSpec{
			Name:        name,
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	return specs
}

// Dispatch resolves every call and returns one output per call, in call
// order. Calls run sequentially so a batch that saves and then reads the
// same field observes its own write. No call's failure affects another.
func (d *Dispatcher) Dispatch(ctx context.Context, accountID int64, calls []ToolCall) []ToolOutput {
	outputs := make([]ToolOutput, 0, len(calls))
	for _, call := range calls {
		outputs = append(outputs, ToolOutput{
			ToolCallID: call.ID,
			Output:     d.resolve(ctx, accountID, call),
		})
	}
	return outputs
}

func (d *Dispatcher) resolve(ctx context.Context, accountID int64, call ToolCall) string {
	d.mu.RLock()
	tool, ok := d.tools[call.Name]
	schema := d.schemas[call.Name]
	d.mu.RUnlock()

	if !ok {
		d.logger.WarnContext(ctx, "unknown tool requested", "tool", call.Name, "tool_call_id", call.ID)
		d.metrics.RecordToolCall(call.Name, "unknown")
		return fmt.Sprintf("Error: unknown tool %q", call.Name)
	}

	args := normalizeArguments(call.Arguments)
	if err := validateArguments(schema, args); err != nil {
		d.logger.WarnContext(ctx, "tool arguments rejected", "tool", call.Name, "tool_call_id", call.ID, "error", err)
		d.metrics.RecordToolCall(call.Name, "invalid")
		return fmt.Sprintf("Error: invalid arguments for %s: %v", call.Name, err)
	}

	ctx, span := d.tracer.TraceToolCall(ctx, call.Name, call.ID)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	output, err := d.safeExecute(ctx, tool, accountID, args)
	if err != nil {
		d.tracer.RecordError(span, err)
		d.logger.ErrorContext(ctx, "tool failed", "tool", call.Name, "tool_call_id", call.ID, "error", err)
		d.metrics.RecordToolCall(call.Name, "error")
		if output == "" {
			output = fmt.Sprintf("Error: %s failed: %v", call.Name, err)
		}
		return output
	}
	d.metrics.RecordToolCall(call.Name, "success")
	return output
}

func (d *Dispatcher) safeExecute(ctx context.Context, tool Tool, accountID int64, args json.RawMessage) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "tool panicked", "tool", tool.Name(), "stack", string(debug.Stack()))
			output = ""
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return tool.Execute(ctx, accountID, args)
}

// normalizeArguments treats missing arguments as an empty object.
func normalizeArguments(args json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(args)) == 0 {
		return json.RawMessage("{}")
	}
	return args
}

func validateArguments(schema *jsonschema.Schema, args json.RawMessage) error {
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	if schema == nil {
		return nil
	}
	return schema.Validate(decoded)
}
