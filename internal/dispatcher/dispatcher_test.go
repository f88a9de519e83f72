package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

func echoTool() toolapi.ToolDescriptor {
	return toolapi.ToolDescriptor{
		Name:        "echo",
		Description: "echoes its argument",
		Parameters: toolapi.ParameterSchema{
			Required: []string{"text"},
			Properties: map[string]toolapi.ParameterField{
				"text": {Type: "string"},
			},
		},
	}
}

func TestCall_UnknownTool(t *testing.T) {
	d := New(NewRegistry(), nil)
	result := d.Call(context.Background(), toolapi.ToolCall{ToolName: "nope"})
	if result.IsSuccess() || result.Kind != toolapi.KindUnknownTool {
		t.Fatalf("want unknown_tool, got %+v", result)
	}
}

func TestCall_MissingRequiredArgument(t *testing.T) {
	reg := NewRegistry()
	effectorCalled := false
	reg.Register(echoTool(), time.Second, func(ctx context.Context, args map[string]any) (any, error) {
		effectorCalled = true
		return args["text"], nil
	})
	d := New(reg, nil)

	result := d.Call(context.Background(), toolapi.ToolCall{ToolName: "echo", Arguments: map[string]any{}})
	if result.IsSuccess() || result.Kind != toolapi.KindInvalidArguments {
		t.Fatalf("want invalid_arguments, got %+v", result)
	}
	if effectorCalled {
		t.Fatal("effector must not be invoked when a required argument is missing")
	}
}

func TestCall_WrongTypeArgument(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool(), time.Second, func(ctx context.Context, args map[string]any) (any, error) {
		return args["text"], nil
	})
	d := New(reg, nil)

	result := d.Call(context.Background(), toolapi.ToolCall{ToolName: "echo", Arguments: map[string]any{"text": 42.0}})
	if result.IsSuccess() {
		t.Fatalf("want invalid_arguments for wrong type, got success %+v", result)
	}
	if result.Kind != toolapi.KindInvalidArguments {
		t.Fatalf("want invalid_arguments, got %+v", result)
	}
}

func TestCall_Success(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool(), time.Second, func(ctx context.Context, args map[string]any) (any, error) {
		return args["text"], nil
	})
	d := New(reg, nil)

	result := d.Call(context.Background(), toolapi.ToolCall{ToolName: "echo", Arguments: map[string]any{"text": "hi"}})
	if !result.IsSuccess() {
		t.Fatalf("want success, got %+v", result)
	}
	if result.Data != "hi" {
		t.Fatalf("want data 'hi', got %v", result.Data)
	}
}

func TestCall_Timeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool(), 10*time.Millisecond, func(ctx context.Context, args map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := New(reg, nil)

	result := d.Call(context.Background(), toolapi.ToolCall{ToolName: "echo", Arguments: map[string]any{"text": "hi"}})
	if result.IsSuccess() || result.Kind != toolapi.KindEffectorTimeout {
		t.Fatalf("want effector_timeout, got %+v", result)
	}
}

func TestCall_PanicRecovered(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool(), time.Second, func(ctx context.Context, args map[string]any) (any, error) {
		panic("boom")
	})
	d := New(reg, nil)

	result := d.Call(context.Background(), toolapi.ToolCall{ToolName: "echo", Arguments: map[string]any{"text": "hi"}})
	if result.IsSuccess() || result.Kind != toolapi.KindEffectorFailed {
		t.Fatalf("want effector_failed after panic, got %+v", result)
	}
}

func TestCall_ToolErrorKindPreserved(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool(), time.Second, func(ctx context.Context, args map[string]any) (any, error) {
		return nil, toolapi.NewToolError(toolapi.KindUpstreamRejected, "echo", "HA said no")
	})
	d := New(reg, nil)

	result := d.Call(context.Background(), toolapi.ToolCall{ToolName: "echo", Arguments: map[string]any{"text": "hi"}})
	if result.Kind != toolapi.KindUpstreamRejected {
		t.Fatalf("want upstream_rejected, got %+v", result)
	}
}

func TestListTools_SortedSnapshot(t *testing.T) {
	reg := NewRegistry()
	reg.Register(toolapi.ToolDescriptor{Name: "zzz"}, time.Second, func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })
	reg.Register(toolapi.ToolDescriptor{Name: "aaa"}, time.Second, func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })
	d := New(reg, nil)

	list := d.ListTools()
	if len(list) != 2 || list[0].Name != "aaa" || list[1].Name != "zzz" {
		t.Fatalf("want sorted [aaa zzz], got %+v", list)
	}
}
