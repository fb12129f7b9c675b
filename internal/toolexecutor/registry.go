// Package toolexecutor implements ToolExecutor (spec §9's registry
// guidance): a startup-populated registry of tool actions, validated at
// the registry seam rather than dispatched by dynamic string lookup.
package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cortexflow/cortex/internal/compiler"
)

// InvokeFunc performs one tool call once its inputs have passed schema
// validation.
type InvokeFunc func(ctx context.Context, userID string, inputs map[string]any) (map[string]any, error)

// Tool is one entry of the registry: a name, its JSON-schema input
// contract, and the function that actually performs the call.
type Tool struct {
	Provider    string
	Name        string
	Description string
	Required    []string
	Optional    []string
	ReadOnly    bool
	InputSchema json.RawMessage // optional; nil skips schema validation
	Invoke      InvokeFunc

	schema *jsonschema.Schema
}

// Registry is the mutex-protected, startup-populated tool catalog
// Runtime calls through and Compiler reads from (spec §9: "a registry
// populated at startup from a config file"), grounded on the teacher's
// ToolRegistry (internal/agent/tool_registry.go).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry returns an empty registry ready for Register calls.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

func key(provider, name string) string { return provider + "/" + name }

// Register compiles the tool's input schema (if any) once and adds it
// to the catalog, replacing any prior tool under the same key.
func (r *Registry) Register(tool *Tool) error {
	if tool.Provider == "" || tool.Name == "" {
		return fmt.Errorf("toolexecutor: tool must have both a provider and a name")
	}
	if len(tool.InputSchema) > 0 {
		compiled, err := jsonschema.CompileString(key(tool.Provider, tool.Name)+".schema.json", string(tool.InputSchema))
		if err != nil {
			return fmt.Errorf("compile schema for %s/%s: %w", tool.Provider, tool.Name, err)
		}
		tool.schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[key(tool.Provider, tool.Name)] = tool
	return nil
}

// Has reports whether (provider, name) is a registered tool, used by
// Compiler to reject hallucinated tool references at compile time.
func (r *Registry) Has(provider, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[key(provider, name)]
	return ok
}

// Tools lists every registered tool as a compiler.ToolSpec, for
// Compiler's system-prompt generation.
func (r *Registry) Tools() []compiler.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]compiler.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, compiler.ToolSpec{
			Provider: t.Provider, Name: t.Name, Description: t.Description,
			Required: t.Required, Optional: t.Optional, ReadOnly: t.ReadOnly,
		})
	}
	return specs
}

// Execute validates inputs at the registry seam and invokes the tool.
// This is the Runtime.ToolExecutor seam (spec §4.5/§9).
func (r *Registry) Execute(ctx context.Context, userID, provider, toolName string, inputs map[string]any) (map[string]any, error) {
	r.mu.RLock()
	tool, ok := r.tools[key(provider, toolName)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("toolexecutor: unknown tool %s/%s", provider, toolName)
	}

	for _, field := range tool.Required {
		if _, present := inputs[field]; !present {
			return nil, fmt.Errorf("toolexecutor: %s/%s missing required field %q", provider, toolName, field)
		}
	}

	if tool.schema != nil {
		payload, err := json.Marshal(inputs)
		if err != nil {
			return nil, fmt.Errorf("toolexecutor: encode inputs for %s/%s: %w", provider, toolName, err)
		}
		var decoded any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, fmt.Errorf("toolexecutor: decode inputs for %s/%s: %w", provider, toolName, err)
		}
		if err := tool.schema.Validate(decoded); err != nil {
			return nil, fmt.Errorf("toolexecutor: inputs for %s/%s failed schema validation: %w", provider, toolName, err)
		}
	}

	return tool.Invoke(ctx, userID, inputs)
}
