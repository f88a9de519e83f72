package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// Dispatcher is the single entry point for invoking tools: it looks up
// the descriptor, validates arguments against it, runs the handler under
// a per-tool deadline, and normalizes every outcome into a ToolResult.
// The dispatcher exclusively owns the registry; nothing else reads or
// mutates it.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// New creates a Dispatcher over the given registry.
func New(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// ListTools returns the static registry snapshot.
func (d *Dispatcher) ListTools() []toolapi.ToolDescriptor {
	return d.registry.List()
}

// Call validates and dispatches a single tool invocation. It always
// returns a populated ToolResult: success with data, or error with a
// Kind from the closed set. Never both, never neither.
func (d *Dispatcher) Call(ctx context.Context, call toolapi.ToolCall) toolapi.ToolResult {
	descriptor, handler, timeout, ok := d.registry.Get(call.ToolName)
	if !ok {
		return toolapi.Error(toolapi.KindUnknownTool, fmt.Sprintf("unknown tool %q", call.ToolName), nil)
	}

	if err := validateArguments(descriptor.Parameters, call.Arguments); err != nil {
		return toolapi.Error(toolapi.KindInvalidArguments, err.Error(), nil)
	}

	return d.invoke(ctx, descriptor, handler, timeout, call.Arguments)
}

// invoke runs handler under a bounded deadline and recovers panics at
// the dispatcher boundary, mapping them to error/effector_failed rather
// than letting them escape into the HTTP layer. A broken effector fails
// its request, never the process.
func (d *Dispatcher) invoke(ctx context.Context, descriptor toolapi.ToolDescriptor, handler Handler, timeout time.Duration, args map[string]any) (result toolapi.ToolResult) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data any
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("panic in %s effector: %v", descriptor.Name, rec)}
			}
		}()
		data, err := handler(callCtx, args)
		done <- outcome{data: data, err: err}
	}()

	select {
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			d.logger.Warn("effector deadline exceeded", "tool", descriptor.Name, "timeout", timeout)
			return toolapi.Error(toolapi.KindEffectorTimeout, fmt.Sprintf("%s timed out after %s", descriptor.Name, timeout), nil)
		}
		return toolapi.Error(toolapi.KindEffectorTimeout, fmt.Sprintf("%s cancelled", descriptor.Name), nil)
	case out := <-done:
		if out.err != nil {
			var toolErr *toolapi.ToolError
			if errors.As(out.err, &toolErr) {
				return toolapi.Error(toolErr.Kind, toolErr.Message, nil)
			}
			d.logger.Error("effector failed", "tool", descriptor.Name, "error", out.err)
			return toolapi.Error(toolapi.KindEffectorFailed, out.err.Error(), nil)
		}
		return toolapi.Success(out.data)
	}
}
