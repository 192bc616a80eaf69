// Package tools provides the tool framework and the built-in tools the
// model may call in autonomous mode.
package tools

import (
	"context"
	"fmt"
	"sort"
)

// Result is the structured value a tool hands back to the model. Failures are
// reported inside the result under the "error" key, never as a Go error.
type Result map[string]any

// ErrorResult builds a result carrying only an error message.
func ErrorResult(format string, args ...any) Result {
	return Result{"error": fmt.Sprintf(format, args...)}
}

// Err returns the error message carried by r, if any.
func (r Result) Err() (string, bool) {
	msg, ok := r["error"].(string)
	return msg, ok
}

// Tool is the interface that all tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Execute runs the tool. It must not panic; failures go into the result.
	Execute(ctx context.Context, params map[string]any) Result
}

// Definition describes a tool to a model provider.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Registry is a fixed set of named tools. It is populated before use and
// read-only afterwards, so concurrent reads need no locking.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the tool definitions in name order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute runs a tool by name. Unknown tools and panics become error results.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (result Result) {
	tool, ok := r.tools[name]
	if !ok {
		return ErrorResult("tool not found: %s", name)
	}
	defer func() {
		if p := recover(); p != nil {
			result = ErrorResult("tool %s failed: %v", name, p)
		}
	}()
	if params == nil {
		params = map[string]any{}
	}
	result = tool.Execute(ctx, params)
	if result == nil {
		result = Result{}
	}
	return result
}

type userKey struct{}

// WithUser returns a context carrying the id of the user a tool runs for.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFrom returns the user id stored by WithUser.
func UserFrom(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(userKey{}).(string)
	return u, ok && u != ""
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return defaultVal
}
