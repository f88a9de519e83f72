// Package orchestrate implements the orchestrator's per-turn pipeline:
// try the shortcut router first, otherwise hand the message to the LLM
// with the USE_TOOL protocol, dispatch any calls it emits against the
// tool server, and run a synthesis pass over the results. Every
// completed turn is logged through internal/feedback.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rawpurplesmurf/mcp-server-home/internal/feedback"
	"github.com/rawpurplesmurf/mcp-server-home/internal/llm"
	"github.com/rawpurplesmurf/mcp-server-home/internal/routing"
	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// ToolCaller is the subset of toolclient.Client the processor depends
// on, narrowed for testability.
type ToolCaller interface {
	ListTools(ctx context.Context) ([]toolapi.ToolDescriptor, error)
	Call(ctx context.Context, call toolapi.ToolCall) (toolapi.ToolResult, error)
}

// Logger is the subset of feedback.Service the processor depends on.
type Logger interface {
	LogTurn(ctx context.Context, in toolapi.Interaction) error
}

// Processor runs the routing/LLM/dispatch/synthesis pipeline for one
// chat turn.
type Processor struct {
	router    *routing.Router
	tools     ToolCaller
	llmClient llm.Client
	model     string
	log       Logger
	logger    *slog.Logger
}

// New builds a Processor. tools and log are narrowed to the ToolCaller
// and Logger interfaces (rather than *toolclient.Client and
// *feedback.Service concretely) so tests can substitute fakes; callers
// pass the concrete types, which satisfy both.
func New(router *routing.Router, tools ToolCaller, llmClient llm.Client, model string, log Logger, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{router: router, tools: tools, llmClient: llmClient, model: model, log: log, logger: logger}
}

// Result is what the orchestrator's /chat handler returns to the caller.
type Result struct {
	Response      string
	ToolsUsed     []string
	Debug         toolapi.DebugInfo
	InteractionID string
	SessionID     string
}

// Chat runs one user turn to completion: shortcut check, then (if no
// shortcut matched) the LLM+USE_TOOL pipeline, then interaction logging.
func (p *Processor) Chat(ctx context.Context, sessionID, message string) (Result, error) {
	decision := p.router.Route(message)
	interactionID := feedback.NewInteractionID()

	if decision.Shortcut {
		return p.runShortcut(ctx, sessionID, interactionID, message, decision)
	}
	return p.runLLM(ctx, sessionID, interactionID, message, decision.Debug)
}

func (p *Processor) runShortcut(ctx context.Context, sessionID, interactionID, message string, decision routing.Decision) (Result, error) {
	call := toolapi.ToolCall{ToolName: decision.Tool, Arguments: decision.Arguments, SessionID: sessionID}
	result, err := p.tools.Call(ctx, call)
	if err != nil {
		result = toolapi.Error(toolapi.KindEffectorUnavailable, err.Error(), nil)
	}

	response := renderDirectReply(decision.Tool, result)
	trace := []toolapi.ToolCallTrace{{Call: call, Result: result}}

	res := Result{
		Response:      response,
		ToolsUsed:     []string{decision.Tool},
		Debug:         decision.Debug,
		InteractionID: interactionID,
		SessionID:     sessionID,
	}
	p.logTurn(ctx, toolapi.Interaction{
		InteractionID: interactionID,
		SessionID:     sessionID,
		UserMessage:   message,
		FinalResponse: response,
		RoutingType:   toolapi.RoutingDirectShortcut,
		ToolsUsed:     res.ToolsUsed,
		ToolResults:   trace,
		DebugInfo:     res.Debug,
		CreatedAt:     time.Now(),
	})
	return res, nil
}

func (p *Processor) runLLM(ctx context.Context, sessionID, interactionID, message string, debug toolapi.DebugInfo) (Result, error) {
	tools, err := p.tools.ListTools(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list tools: %w", err)
	}
	systemPrompt := routing.BuildSystemPrompt(tools)

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: message},
	}
	first, err := p.llmClient.Chat(ctx, p.model, messages)
	if err != nil {
		return Result{}, fmt.Errorf("llm chat: %w", err)
	}

	calls, parseFailures := routing.ParseUseToolLines(first.Message.Content)
	debug.ParseFailures = append(debug.ParseFailures, parseFailures...)

	if len(calls) == 0 {
		response := first.Message.Content
		res := Result{
			Response:      response,
			ToolsUsed:     nil,
			Debug:         debug,
			InteractionID: interactionID,
			SessionID:     sessionID,
		}
		p.logTurn(ctx, toolapi.Interaction{
			InteractionID: interactionID,
			SessionID:     sessionID,
			UserMessage:   message,
			FinalResponse: response,
			RoutingType:   toolapi.RoutingLLMOnly,
			LLMResponse:   first.Message.Content,
			DebugInfo:     debug,
			CreatedAt:     time.Now(),
		})
		return res, nil
	}

	traces := make([]toolapi.ToolCallTrace, 0, len(calls))
	toolsUsed := make([]string, 0, len(calls))
	for _, c := range calls {
		call := toolapi.ToolCall{ToolName: c.ToolName, Arguments: c.Arguments, SessionID: sessionID}
		result, err := p.tools.Call(ctx, call)
		if err != nil {
			result = toolapi.Error(toolapi.KindEffectorUnavailable, err.Error(), nil)
		}
		traces = append(traces, toolapi.ToolCallTrace{Call: call, Result: result})
		toolsUsed = append(toolsUsed, c.ToolName)
	}

	synthesisMessages := append(messages,
		llm.Message{Role: "assistant", Content: first.Message.Content},
		llm.Message{Role: "user", Content: buildSynthesisPrompt(traces)},
	)
	second, err := p.llmClient.Chat(ctx, p.model, synthesisMessages)
	if err != nil {
		return Result{}, fmt.Errorf("llm synthesis: %w", err)
	}

	res := Result{
		Response:      second.Message.Content,
		ToolsUsed:     toolsUsed,
		Debug:         debug,
		InteractionID: interactionID,
		SessionID:     sessionID,
	}
	p.logTurn(ctx, toolapi.Interaction{
		InteractionID: interactionID,
		SessionID:     sessionID,
		UserMessage:   message,
		FinalResponse: second.Message.Content,
		RoutingType:   toolapi.RoutingLLMWithTools,
		ToolsUsed:     toolsUsed,
		ToolResults:   traces,
		LLMPayload:    first.Message.Content,
		LLMResponse:   second.Message.Content,
		DebugInfo:     debug,
		CreatedAt:     time.Now(),
	})
	return res, nil
}

func (p *Processor) logTurn(ctx context.Context, in toolapi.Interaction) {
	if p.log == nil {
		return
	}
	if err := p.log.LogTurn(ctx, in); err != nil {
		p.logger.Error("log interaction failed", "interaction_id", in.InteractionID, "error", err)
	}
}

// buildSynthesisPrompt hands the LLM each tool result, including
// failure kind and message on error, and asks for a plain-language
// reply. The instruction explicitly steers away from exposing internal
// error detail in chat.
func buildSynthesisPrompt(traces []toolapi.ToolCallTrace) string {
	var b strings.Builder
	b.WriteString("Here are the results of the tool calls you requested:\n\n")
	for _, t := range traces {
		if t.Result.IsSuccess() {
			b.WriteString(fmt.Sprintf("%s succeeded: %v\n", t.Call.ToolName, t.Result.Data))
		} else {
			b.WriteString(fmt.Sprintf("%s failed (%s): %s\n", t.Call.ToolName, t.Result.Kind, t.Result.Message))
		}
	}
	b.WriteString("\nReply to the user in plain language using these results. ")
	b.WriteString("If a tool failed, explain the failure plainly without technical jargon or raw error text.\n")
	return b.String()
}

// renderDirectReply narrates a shortcut-path tool result directly,
// without an LLM pass. Failures render their message as-is.
func renderDirectReply(toolName string, result toolapi.ToolResult) string {
	if !result.IsSuccess() {
		return fmt.Sprintf("I couldn't complete that: %s", result.Message)
	}

	switch toolName {
	case "get_network_time":
		data, ok := result.Data.(map[string]any)
		if !ok {
			return "Here's the current time."
		}
		return fmt.Sprintf("It's currently %v (source: %v).", data["time"], data["source"])
	case "ping_host":
		data, ok := result.Data.(map[string]any)
		if !ok {
			return "Ping completed."
		}
		if reachable, _ := data["reachable"].(bool); reachable {
			return fmt.Sprintf("%v is reachable.", data["host"])
		}
		return fmt.Sprintf("%v is not reachable.", data["host"])
	case "ha_control_light", "ha_control_switch":
		return "Done."
	default:
		return "Done."
	}
}
