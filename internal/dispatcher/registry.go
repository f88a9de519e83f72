// Package dispatcher implements the tool registry and dispatch loop: a
// typed, schema-driven catalog of callable tools, argument validation
// against each tool's declared parameter shape, and bounded-latency
// execution with uniform ToolResult responses.
package dispatcher

import (
	"context"
	"sort"
	"time"

	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// Handler executes a tool's effector. It returns the raw success payload
// (marshaled into ToolResult.Data by the caller) or an error — plain Go
// errors are normalized by Dispatcher.Call into error/effector_failed;
// handlers that want a specific Kind should return a *toolapi.ToolError.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// registration pairs a tool's published descriptor with its handler and
// the per-call deadline the dispatcher enforces against it.
type registration struct {
	descriptor toolapi.ToolDescriptor
	handler    Handler
	timeout    time.Duration
}

// Registry is the dispatcher's exclusive store of callable tools.
// Registration happens once at startup; after that, reads are lock-free
// since the map is never mutated again.
type Registry struct {
	tools map[string]registration
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registration)}
}

// Register adds a tool. Registering the same name twice overwrites the
// prior registration — callers are expected to register the fixed
// built-in set once at startup, not dynamically at request time.
func (r *Registry) Register(descriptor toolapi.ToolDescriptor, timeout time.Duration, handler Handler) {
	r.tools[descriptor.Name] = registration{descriptor: descriptor, handler: handler, timeout: timeout}
}

// Get returns a tool's registration and whether it exists.
func (r *Registry) Get(name string) (toolapi.ToolDescriptor, Handler, time.Duration, bool) {
	reg, ok := r.tools[name]
	if !ok {
		return toolapi.ToolDescriptor{}, nil, 0, false
	}
	return reg.descriptor, reg.handler, reg.timeout, true
}

// List returns every registered tool's descriptor, sorted by name for a
// stable snapshot. Pure — no side effects, safe for concurrent callers.
func (r *Registry) List() []toolapi.ToolDescriptor {
	out := make([]toolapi.ToolDescriptor, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
