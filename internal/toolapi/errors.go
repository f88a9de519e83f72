package toolapi

import "fmt"

// ToolError is a sentinel error type wrapping one of the closed Kind
// values, for effectors that want to return a typed error through
// normal Go error-handling instead of constructing a ToolResult
// directly. It carries just enough context for a caller to render a
// message without string-matching.
type ToolError struct {
	Kind     Kind
	ToolName string
	Message  string
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e.ToolName != "" {
		return fmt.Sprintf("%s: %s (%s)", e.ToolName, e.Message, e.Kind)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

// NewToolError constructs a ToolError.
func NewToolError(kind Kind, toolName, message string) *ToolError {
	return &ToolError{Kind: kind, ToolName: toolName, Message: message}
}
