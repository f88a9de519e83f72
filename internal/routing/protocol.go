package routing

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// useToolLine matches a single USE_TOOL:<name>:<json-args> line. The
// protocol is strict: line-oriented, one call per line, no surrounding
// backticks or prose on the call line, and the arguments are a single
// JSON object literal.
var useToolLine = regexp.MustCompile(`(?m)^USE_TOOL:([A-Za-z_][A-Za-z0-9_]*):(\{.*\})\s*$`)

// ParsedCall is one successfully parsed USE_TOOL line.
type ParsedCall struct {
	ToolName  string
	Arguments map[string]any
}

// ParseUseToolLines scans raw LLM output for every USE_TOOL: line, in
// the order they appear in the text. Lines that parse successfully are
// returned in ParsedCall order; lines that look like USE_TOOL but fail
// JSON decoding produce no call and are reported in parseFailures.
// Synthesis proceeds with whatever calls did parse.
func ParseUseToolLines(text string) (calls []ParsedCall, parseFailures []string) {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if !strings.HasPrefix(strings.TrimSpace(trimmed), "USE_TOOL:") {
			continue
		}
		m := useToolLine.FindStringSubmatch(trimmed)
		if m == nil {
			parseFailures = append(parseFailures, fmt.Sprintf("malformed USE_TOOL line: %q", trimmed))
			continue
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(m[2]), &args); err != nil {
			parseFailures = append(parseFailures, fmt.Sprintf("invalid JSON in USE_TOOL:%s: %v", m[1], err))
			continue
		}
		calls = append(calls, ParsedCall{ToolName: m[1], Arguments: args})
	}
	return calls, parseFailures
}

// HasUseToolLine reports whether text contains at least one USE_TOOL:
// line, whether or not its JSON decodes. The orchestrator does not use
// it: it picks llm_only vs llm_with_tools from the calls that
// ParseUseToolLines returns.
func HasUseToolLine(text string) bool {
	return useToolLine.MatchString(text)
}

// BuildSystemPrompt composes the system prompt instructing the LLM to
// emit exactly one USE_TOOL line per tool call, enumerating every
// registered tool's name, purpose, and parameter schema.
func BuildSystemPrompt(tools []toolapi.ToolDescriptor) string {
	var b strings.Builder
	b.WriteString("You can call tools to help answer the user. ")
	b.WriteString("To call a tool, emit a line of the exact form:\n")
	b.WriteString("USE_TOOL:<tool_name>:<json-object-of-arguments>\n")
	b.WriteString("One call per line. No backticks, no prose on that line. ")
	b.WriteString("You may emit zero, one, or several USE_TOOL lines. ")
	b.WriteString("If you don't need a tool, just reply normally.\n\n")
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		b.WriteString(fmt.Sprintf("- %s: %s\n", t.Name, t.Description))
		b.WriteString(fmt.Sprintf("  parameters: %s\n", describeParameters(t.Parameters)))
	}
	return b.String()
}

func describeParameters(schema toolapi.ParameterSchema) string {
	if len(schema.Properties) == 0 {
		return "{}"
	}
	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}
	var parts []string
	for name, field := range schema.Properties {
		tag := "optional"
		if required[name] {
			tag = "required"
		}
		desc := field.Type
		if len(field.Enum) > 0 {
			desc += fmt.Sprintf(" enum=%v", field.Enum)
		}
		parts = append(parts, fmt.Sprintf("%s(%s, %s)", name, desc, tag))
	}
	return strings.Join(parts, ", ")
}
