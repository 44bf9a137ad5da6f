// Package agent implements the recommendation agent: a bounded
// tool-calling loop over the chat model, with schema-validated dispatch
// to the catalog and simulation tools.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/matiz0/matiz/internal/genai"
)

// Result is the outcome of one tool execution. Text is fed back to the
// model; ImageHandle, when set, references a produced image in the
// image store and never enters model context as raw bytes.
type Result struct {
	Text        string
	ImageHandle string
}

// Handler executes a tool against raw model-supplied arguments.
type Handler func(ctx context.Context, rawArgs map[string]any) (Result, error)

// Tool pairs a declaration (sent to the model) with its execution
// function. Dispatch goes through an explicit lookup table; the model
// only ever names tools, it never executes them.
type Tool struct {
	Def     genai.ToolDef
	handler Handler
}

// NewTool creates a schema-validated tool. The JSON schema is derived
// from In and both declared to the model and enforced before the typed
// handler runs, so handlers never see malformed arguments.
//
// Panics when a schema cannot be derived from In; that is a programming
// error, not a runtime condition.
func NewTool[In any](name, description string, fn func(context.Context, In) (Result, error)) *Tool {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		panic(fmt.Sprintf("BUG: deriving schema for tool %q: %v", name, err))
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("BUG: resolving schema for tool %q: %v", name, err))
	}

	handler := func(ctx context.Context, rawArgs map[string]any) (Result, error) {
		if rawArgs == nil {
			rawArgs = map[string]any{}
		}
		if err := resolved.Validate(rawArgs); err != nil {
			return Result{}, fmt.Errorf("invalid arguments: %w", err)
		}
		raw, err := json.Marshal(rawArgs)
		if err != nil {
			return Result{}, fmt.Errorf("invalid arguments: %w", err)
		}
		var input In
		if err := json.Unmarshal(raw, &input); err != nil {
			return Result{}, fmt.Errorf("invalid arguments: %w", err)
		}
		return fn(ctx, input)
	}

	return &Tool{
		Def: genai.ToolDef{
			Name:        name,
			Description: description,
			InputSchema: schema,
		},
		handler: handler,
	}
}

// Registry is an ordered tool lookup table.
type Registry struct {
	order []string
	tools map[string]*Tool
}

// NewRegistry builds a registry from tools. Duplicate names panic.
func NewRegistry(tools ...*Tool) *Registry {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if _, exists := r.tools[t.Def.Name]; exists {
			panic(fmt.Sprintf("BUG: duplicate tool %q", t.Def.Name))
		}
		r.order = append(r.order, t.Def.Name)
		r.tools[t.Def.Name] = t
	}
	return r
}

// Defs returns the tool declarations in registration order.
func (r *Registry) Defs() []genai.ToolDef {
	defs := make([]genai.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Def)
	}
	return defs
}

// Execute dispatches one tool call. Unknown tool names and handler
// failures are both returned as errors; the loop converts them into
// tool-error results visible to the model.
func (r *Registry) Execute(ctx context.Context, name string, rawArgs map[string]any) (Result, error) {
	tool, ok := r.tools[name]
	if !ok {
		return Result{}, fmt.Errorf("unknown tool %q", name)
	}
	return tool.handler(ctx, rawArgs)
}
