package dispatcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rawpurplesmurf/mcp-server-home/internal/effectors/ntp"
	"github.com/rawpurplesmurf/mcp-server-home/internal/effectors/ping"
	"github.com/rawpurplesmurf/mcp-server-home/internal/homeassistant"
	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
	"github.com/rawpurplesmurf/mcp-server-home/internal/transcribe"
)

// Per-tool deadlines the dispatcher enforces around each handler.
const (
	timeNetworkTime = 5 * time.Second
	timePingHost    = 10 * time.Second
	timeHAState     = 5 * time.Second
	timeHALight     = 5 * time.Second
	timeHASwitch    = 5 * time.Second
	timeTranscribe  = 10 * time.Second
)

// RegisterNTPTool wires get_network_time: no arguments, never fails — a
// backup-server or system-clock fallback always produces a Result.
func RegisterNTPTool(registry *Registry, client *ntp.Client) {
	registry.Register(toolapi.ToolDescriptor{
		Name:        "get_network_time",
		Description: "Query the current time from an NTP server, falling back to a backup server or the local system clock.",
		Parameters:  toolapi.ParameterSchema{Properties: map[string]toolapi.ParameterField{}},
	}, timeNetworkTime, func(ctx context.Context, _ map[string]any) (any, error) {
		result := client.Query(ctx)
		return result, nil
	})
}

// RegisterPingTool wires ping_host: one required hostname, validated
// against the same pattern the effector uses before it ever shells out.
func RegisterPingTool(registry *Registry) {
	registry.Register(toolapi.ToolDescriptor{
		Name:        "ping_host",
		Description: "Check whether a host is reachable via ICMP ping.",
		Parameters: toolapi.ParameterSchema{
			Required: []string{"hostname"},
			Properties: map[string]toolapi.ParameterField{
				"hostname": {Type: "string", Description: "Hostname or IP address to ping."},
			},
		},
	}, timePingHost, func(ctx context.Context, args map[string]any) (any, error) {
		host, _ := args["hostname"].(string)
		if !ping.ValidHostname(host) {
			return nil, toolapi.NewToolError(toolapi.KindInvalidArguments, "ping_host", fmt.Sprintf("invalid hostname %q", host))
		}
		return ping.Ping(ctx, host)
	})
}

// RegisterHAStateTool wires ha_get_device_state: entity_id for a single
// lookup, or domain/name_filter for a filtered list.
func RegisterHAStateTool(registry *Registry, sync *homeassistant.Synchronizer) {
	registry.Register(toolapi.ToolDescriptor{
		Name:        "ha_get_device_state",
		Description: "Look up the current state of one or more Home Assistant entities.",
		Parameters: toolapi.ParameterSchema{
			Properties: map[string]toolapi.ParameterField{
				"entity_id":   {Type: "string", Description: "Exact entity id, e.g. light.kitchen_ceiling."},
				"domain":      {Type: "string", Description: "Restrict the list to one domain, e.g. light, switch, sensor."},
				"name_filter": {Type: "string", Description: "Natural-language device name to fuzzy-match."},
			},
		},
	}, timeHAState, func(ctx context.Context, args map[string]any) (any, error) {
		entityID, _ := args["entity_id"].(string)
		if entityID != "" {
			return sync.Get(ctx, entityID)
		}
		domain, _ := args["domain"].(string)
		nameFilter, _ := args["name_filter"].(string)
		return sync.List(ctx, domain, nameFilter)
	})
}

// RegisterHALightTool wires ha_control_light: action plus an optional
// brightness in [0,255], resolved against entity_id or name_filter with
// the light→switch domain fallback the synchronizer applies.
func RegisterHALightTool(registry *Registry, sync *homeassistant.Synchronizer) {
	registry.Register(toolapi.ToolDescriptor{
		Name:        "ha_control_light",
		Description: "Turn a light on or off, or toggle it, optionally setting brightness.",
		Parameters: toolapi.ParameterSchema{
			Required: []string{"action"},
			Properties: map[string]toolapi.ParameterField{
				"action":      {Type: "string", Description: "turn_on, turn_off, or toggle.", Enum: []string{"turn_on", "turn_off", "toggle"}},
				"entity_id":   {Type: "string", Description: "Exact entity id, e.g. light.kitchen_ceiling."},
				"name_filter": {Type: "string", Description: "Natural-language device name to fuzzy-match."},
				"brightness":  {Type: "number", Description: "Brightness from 0 to 255."},
			},
		},
	}, timeHALight, func(ctx context.Context, args map[string]any) (any, error) {
		action, _ := args["action"].(string)
		service, err := lightService(action)
		if err != nil {
			return nil, err
		}
		entityID, _ := args["entity_id"].(string)
		nameFilter, _ := args["name_filter"].(string)

		extra := map[string]any{}
		if raw, ok := args["brightness"]; ok {
			b, ok := raw.(float64)
			if !ok || b < 0 || b > 255 {
				return nil, toolapi.NewToolError(toolapi.KindInvalidArguments, "ha_control_light", "brightness must be between 0 and 255")
			}
			extra["brightness"] = b
		}
		return sync.CallService(ctx, "ha_control_light", "light", service, entityID, nameFilter, extra)
	})
}

// RegisterHASwitchTool wires ha_control_switch: same action vocabulary as
// lights, no brightness.
func RegisterHASwitchTool(registry *Registry, sync *homeassistant.Synchronizer) {
	registry.Register(toolapi.ToolDescriptor{
		Name:        "ha_control_switch",
		Description: "Turn a switch on or off, or toggle it.",
		Parameters: toolapi.ParameterSchema{
			Required: []string{"action"},
			Properties: map[string]toolapi.ParameterField{
				"action":      {Type: "string", Description: "turn_on, turn_off, or toggle.", Enum: []string{"turn_on", "turn_off", "toggle"}},
				"entity_id":   {Type: "string", Description: "Exact entity id, e.g. switch.lamp_outlet."},
				"name_filter": {Type: "string", Description: "Natural-language device name to fuzzy-match."},
			},
		},
	}, timeHASwitch, func(ctx context.Context, args map[string]any) (any, error) {
		action, _ := args["action"].(string)
		service, err := lightService(action)
		if err != nil {
			return nil, err
		}
		entityID, _ := args["entity_id"].(string)
		nameFilter, _ := args["name_filter"].(string)
		return sync.CallService(ctx, "ha_control_switch", "switch", service, entityID, nameFilter, nil)
	})
}

// RegisterTranscribeTool wires transcribe_audio: a base64-encoded WAV file
// in, transcript text (or a warning) out. The handler decodes the file,
// parses and validates its WAV header itself, and streams the PCM samples
// to the transcoder; callers send the uploaded file unchanged.
func RegisterTranscribeTool(registry *Registry, client *transcribe.Client) {
	registry.Register(toolapi.ToolDescriptor{
		Name:        "transcribe_audio",
		Description: "Transcribe a short WAV audio clip (16kHz, 16-bit, mono) to text.",
		Parameters: toolapi.ParameterSchema{
			Required: []string{"audio_base64"},
			Properties: map[string]toolapi.ParameterField{
				"audio_base64": {Type: "string", Description: "Base64-encoded WAV file contents."},
				"language":     {Type: "string", Description: "Language hint, e.g. en."},
			},
		},
	}, timeTranscribe, func(ctx context.Context, args map[string]any) (any, error) {
		encoded, _ := args["audio_base64"].(string)
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, toolapi.NewToolError(toolapi.KindInvalidArguments, "transcribe_audio", "audio_base64 is not valid base64")
		}
		params, pcm, err := transcribe.ParseWAV(raw)
		if err != nil {
			return nil, toolapi.NewToolError(toolapi.KindInvalidArguments, "transcribe_audio", err.Error())
		}
		if err := params.Validate(); err != nil {
			return nil, toolapi.NewToolError(toolapi.KindInvalidArguments, "transcribe_audio", err.Error())
		}
		language, _ := args["language"].(string)
		return client.Transcribe(ctx, language, params, pcm)
	})
}

// lightService translates the shared turn_on/turn_off/toggle vocabulary
// into the Home Assistant service name, rejecting anything else at the
// dispatcher boundary rather than passing it through to HA.
func lightService(action string) (string, error) {
	switch action {
	case "turn_on", "turn_off", "toggle":
		return action, nil
	default:
		return "", toolapi.NewToolError(toolapi.KindInvalidArguments, "ha_control", fmt.Sprintf("action must be turn_on, turn_off, or toggle, got %q", action))
	}
}
