// Package tools holds the run-scoped tool registry the agent loop executes
// against. A registry is built per invocation role: research agents get the
// web tools, the analyst gets read-only source tools, coders additionally
// get the write tool.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"autodev/internal/llm"
	"autodev/internal/logging"
)

var (
	// ErrToolNotFound is returned when the model calls an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolAlreadyRegistered guards against duplicate registration.
	ErrToolAlreadyRegistered = errors.New("tool already registered")
)

// ExecuteFunc runs one tool call. The returned string goes back to the
// model as the function response.
type ExecuteFunc func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool is one callable exposed to the model.
type Tool struct {
	Name        string
	Description string
	// InputSchema is the JSON schema for the tool's arguments, in the shape
	// the provider expects for function declarations.
	InputSchema map[string]interface{}
	Execute     ExecuteFunc
}

// Registry is a thread-safe named tool collection.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool.
func (r *Registry) Register(tool *Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if tool.Execute == nil {
		return fmt.Errorf("tool %s has no execute function", tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool

	logging.ToolsDebug("registered tool: %s", tool.Name)
	return nil
}

// MustRegister registers a tool and panics on error. For static toolset
// construction only.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions renders the registry as provider function declarations,
// sorted by name for deterministic requests.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return defs
}

// Execute runs one tool call by name.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	tool := r.Get(name)
	if tool == nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	logging.Tools("executing tool %s", name)
	return tool.Execute(ctx, args)
}

// stringArg extracts a required string argument.
func stringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

// objectSchema builds a JSON object schema from property name/type/description
// triples plus the required list.
func objectSchema(required []string, props map[string][2]string) map[string]interface{} {
	properties := make(map[string]interface{}, len(props))
	for name, td := range props {
		properties[name] = map[string]interface{}{
			"type":        td[0],
			"description": td[1],
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"required":   required,
		"properties": properties,
	}
}
