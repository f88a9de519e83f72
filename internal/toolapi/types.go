// Package toolapi defines the data model shared by the tool dispatcher,
// the Home Assistant synchronizer, and the orchestrator: tool descriptors,
// calls, results, cached entity state, and logged interactions.
package toolapi

import "time"

// ToolDescriptor publishes a callable tool's name, purpose, and parameter
// shape. Immutable after registration.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ParameterSchema is a flat, JSON-schema-shaped declaration of a tool's
// arguments: which keys are required, and each key's primitive type.
type ParameterSchema struct {
	Required   []string                  `json:"required,omitempty"`
	Properties map[string]ParameterField `json:"properties"`
}

// ParameterField describes one argument's primitive type and, for string
// enums, its allowed values.
type ParameterField struct {
	Type        string   `json:"type"` // "string", "number", "boolean"
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolCall is a single invocation request. Ephemeral — never persisted on
// its own, only as part of an Interaction's ToolCallTrace history.
type ToolCall struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	SessionID string         `json:"session_id"`
}

// Kind is the closed set of error categories a ToolResult may carry.
type Kind string

const (
	KindUnknownTool         Kind = "unknown_tool"
	KindInvalidArguments    Kind = "invalid_arguments"
	KindEffectorUnavailable Kind = "effector_unavailable"
	KindEffectorTimeout     Kind = "effector_timeout"
	KindEffectorFailed      Kind = "effector_failed"
	KindUpstreamRejected    Kind = "upstream_rejected"
)

// ToolResult is the tagged success/error variant every dispatcher call
// returns. Exactly one of Data (on success) or Kind+Message (on error) is
// populated — never both, never neither.
type ToolResult struct {
	Status  string `json:"status"` // "success" or "error"
	Data    any    `json:"data,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Detail  any    `json:"detail,omitempty"`
}

// Success builds a successful ToolResult.
func Success(data any) ToolResult {
	return ToolResult{Status: "success", Data: data}
}

// Error builds an error ToolResult of the given kind.
func Error(kind Kind, message string, detail any) ToolResult {
	return ToolResult{Status: "error", Kind: kind, Message: message, Detail: detail}
}

// IsSuccess reports whether the result carries a successful outcome.
func (r ToolResult) IsSuccess() bool {
	return r.Status == "success"
}

// Entity is a Home Assistant device or sensor as the synchronizer sees it.
// Domain is the prefix before the dot in EntityID (light, switch, sensor,
// climate, binary_sensor, ...). Entities are created and updated by HA;
// they are never destroyed locally, only evicted from cache.
type Entity struct {
	EntityID     string         `json:"entity_id"`
	FriendlyName string         `json:"friendly_name"`
	State        string         `json:"state"`
	Attributes   map[string]any `json:"attributes"`
	LastChanged  time.Time      `json:"last_changed"`
}

// Domain returns the prefix before the dot in EntityID.
func (e Entity) Domain() string {
	for i := 0; i < len(e.EntityID); i++ {
		if e.EntityID[i] == '.' {
			return e.EntityID[:i]
		}
	}
	return ""
}

// StateCacheEntry is the synchronizer's per-entity cache record.
type StateCacheEntry struct {
	EntityID    string
	State       string
	Attributes  map[string]any
	LastChanged time.Time
	FetchedAt   time.Time
}

// RoutingType records how a user turn was handled.
type RoutingType string

const (
	RoutingDirectShortcut RoutingType = "direct_shortcut"
	RoutingLLMWithTools   RoutingType = "llm_with_tools"
	RoutingLLMOnly        RoutingType = "llm_only"
)

// FeedbackState is the lifecycle of user feedback on an Interaction.
type FeedbackState string

const (
	FeedbackNone       FeedbackState = "none"
	FeedbackThumbsUp   FeedbackState = "thumbs_up"
	FeedbackThumbsDown FeedbackState = "thumbs_down"
)

// Interaction records one user turn end to end: what was asked, how it was
// routed, which tools ran and with what results, what the LLM saw and
// said, and the debug trail produced along the way. Created once at the
// end of a turn; mutated only by the feedback handler afterward.
type Interaction struct {
	InteractionID string          `json:"interaction_id"`
	SessionID     string          `json:"session_id"`
	UserMessage   string          `json:"user_message"`
	FinalResponse string          `json:"final_response"`
	RoutingType   RoutingType     `json:"routing_type"`
	ToolsUsed     []string        `json:"tools_used"`
	ToolResults   []ToolCallTrace `json:"tool_results"`
	LLMPayload    string          `json:"llm_payload,omitempty"`
	LLMResponse   string          `json:"llm_response,omitempty"`
	DebugInfo     DebugInfo       `json:"debug_info"`
	Feedback      FeedbackState   `json:"feedback"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ToolCallTrace pairs an executed call with its observed result, in the
// order the calls were dispatched.
type ToolCallTrace struct {
	Call   ToolCall   `json:"call"`
	Result ToolResult `json:"result"`
}

// DebugInfo accumulates the routing decision trail: which rules were
// evaluated, which matched, and any USE_TOOL parse failures.
type DebugInfo struct {
	RulesEvaluated []string `json:"rules_evaluated,omitempty"`
	RulesMatched   []string `json:"rules_matched,omitempty"`
	ParseFailures  []string `json:"parse_failures,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
}
