// Package routing implements the orchestrator's per-message routing
// decision: an ordered, mutually-exclusive set of shortcut regexes that
// bypass the LLM for time/ping/light/switch intents, falling through to
// the LLM+USE_TOOL path otherwise. The policy is a pure function
// (message → Decision) with no I/O, so it is testable without a
// dispatcher or an LLM behind it.
package routing

import (
	"regexp"
	"strings"

	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// ShortcutRule is one entry in the ordered shortcut policy. Pattern is
// matched against the lowercased message; on match, Build extracts the
// tool arguments from the regex submatches. The rule set is a parameter
// supplied by the caller, not a hardcoded contract: the router's job is
// the ordered first-match-wins mechanism, and the English phrasing
// lives in DefaultRules.
type ShortcutRule struct {
	Name    string
	Tool    string
	Pattern *regexp.Regexp
	Build   func(match []string) (map[string]any, bool)
}

// Decision is the router's pure-function output for one message: whether
// a shortcut matched, and if so, the tool call to dispatch. The final
// RoutingType (llm_with_tools vs llm_only) for the non-shortcut path is
// decided later, by whether the LLM's reply actually contained a
// USE_TOOL line — the router only judges the shortcut-vs-not question.
type Decision struct {
	Shortcut  bool
	Tool      string
	Arguments map[string]any
	Debug     toolapi.DebugInfo
}

// DefaultRules returns the built-in English-phrasing shortcut set:
// time intent, ping intent with an extractable hostname, light
// control, and switch control. Mutually exclusive, first match wins.
func DefaultRules() []ShortcutRule {
	return []ShortcutRule{
		{
			Name:    "time",
			Tool:    "get_network_time",
			Pattern: regexp.MustCompile(`\bwhat(?:'s| is) (?:the )?time\b|\bcurrent time\b|\btime is it\b`),
			Build: func(match []string) (map[string]any, bool) {
				return map[string]any{}, true
			},
		},
		{
			Name:    "ping",
			Tool:    "ping_host",
			Pattern: regexp.MustCompile(`\bping\s+([a-zA-Z0-9][a-zA-Z0-9.-]*[a-zA-Z0-9]|[a-zA-Z0-9])\b`),
			Build: func(match []string) (map[string]any, bool) {
				if len(match) < 2 || match[1] == "" {
					return nil, false
				}
				return map[string]any{"hostname": match[1]}, true
			},
		},
		{
			Name:    "light_control",
			Tool:    "ha_control_light",
			Pattern: regexp.MustCompile(`\b(turn on|turn off|toggle)\b.*\blight`),
			Build: func(match []string) (map[string]any, bool) {
				if len(match) < 2 {
					return nil, false
				}
				return map[string]any{"action": normalizeAction(match[1]), "name_filter": ""}, true
			},
		},
		{
			Name:    "switch_control",
			Tool:    "ha_control_switch",
			Pattern: regexp.MustCompile(`\b(turn on|turn off|toggle)\b.*\bswitch`),
			Build: func(match []string) (map[string]any, bool) {
				if len(match) < 2 {
					return nil, false
				}
				return map[string]any{"action": normalizeAction(match[1]), "name_filter": ""}, true
			},
		},
	}
}

func normalizeAction(phrase string) string {
	switch strings.ToLower(phrase) {
	case "turn on":
		return "turn_on"
	case "turn off":
		return "turn_off"
	default:
		return "toggle"
	}
}

// nameFilterPattern pulls the device phrase out of a light/switch control
// message once the action verb has been stripped: everything after the
// verb and before the trailing "light(s)"/"switch(es)" noun.
var nameFilterPattern = regexp.MustCompile(`\b(?:turn on|turn off|toggle)\s+(?:the\s+)?(.+?)\s+(?:lights?|switch(?:es)?)\b`)

// Router evaluates the ordered shortcut rules against a message and
// falls through to the LLM path when none match.
type Router struct {
	rules []ShortcutRule
}

// New creates a Router over the given ordered rule set.
func New(rules []ShortcutRule) *Router {
	return &Router{rules: rules}
}

// Route is a pure function: message -> Decision. No I/O, no side
// effects — testable without a dispatcher or LLM.
func (r *Router) Route(message string) Decision {
	lower := strings.ToLower(message)
	debug := toolapi.DebugInfo{}

	for _, rule := range r.rules {
		debug.RulesEvaluated = append(debug.RulesEvaluated, rule.Name)
		match := rule.Pattern.FindStringSubmatch(lower)
		if match == nil {
			continue
		}
		args, ok := rule.Build(match)
		if !ok {
			continue
		}
		if filterMatch := nameFilterPattern.FindStringSubmatch(lower); filterMatch != nil {
			if _, hasFilter := args["name_filter"]; hasFilter {
				args["name_filter"] = strings.TrimSpace(filterMatch[1])
			}
		}
		debug.RulesMatched = append(debug.RulesMatched, rule.Name)
		return Decision{
			Shortcut:  true,
			Tool:      rule.Tool,
			Arguments: args,
			Debug:     debug,
		}
	}

	return Decision{Shortcut: false, Debug: debug}
}
