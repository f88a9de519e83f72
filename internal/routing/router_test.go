package routing

import "testing"

func TestRoute_TimeShortcut(t *testing.T) {
	r := New(DefaultRules())
	d := r.Route("what time is it?")
	if !d.Shortcut || d.Tool != "get_network_time" {
		t.Fatalf("want time shortcut, got %+v", d)
	}
}

func TestRoute_PingShortcut(t *testing.T) {
	r := New(DefaultRules())
	d := r.Route("ping example.com")
	if !d.Shortcut || d.Tool != "ping_host" {
		t.Fatalf("want ping shortcut, got %+v", d)
	}
	if d.Arguments["hostname"] != "example.com" {
		t.Fatalf("want hostname=example.com, got %+v", d.Arguments)
	}
}

func TestRoute_LightShortcut(t *testing.T) {
	r := New(DefaultRules())
	d := r.Route("turn on kitchen lights")
	if !d.Shortcut || d.Tool != "ha_control_light" {
		t.Fatalf("want light shortcut, got %+v", d)
	}
	if d.Arguments["action"] != "turn_on" {
		t.Fatalf("want action=turn_on, got %+v", d.Arguments)
	}
	if d.Arguments["name_filter"] != "kitchen" {
		t.Fatalf("want name_filter=kitchen, got %+v", d.Arguments)
	}
}

func TestRoute_SwitchShortcut(t *testing.T) {
	r := New(DefaultRules())
	d := r.Route("turn off the coffee maker switch")
	if !d.Shortcut || d.Tool != "ha_control_switch" {
		t.Fatalf("want switch shortcut, got %+v", d)
	}
	if d.Arguments["action"] != "turn_off" {
		t.Fatalf("want action=turn_off, got %+v", d.Arguments)
	}
}

func TestRoute_FallsThroughToLLM(t *testing.T) {
	r := New(DefaultRules())
	d := r.Route("please check if example.com is reachable")
	if d.Shortcut {
		t.Fatalf("want no shortcut match for 'reachable' phrasing, got %+v", d)
	}
	if len(d.Debug.RulesEvaluated) == 0 {
		t.Fatal("want evaluated rules recorded even on no match")
	}
}

func TestRoute_ExclusivityFirstMatchWins(t *testing.T) {
	r := New(DefaultRules())
	// A message that could plausibly hint at two intents still produces
	// exactly one Decision.
	d := r.Route("what time is it and also ping example.com")
	if !d.Shortcut {
		t.Fatal("want a shortcut match")
	}
	if d.Tool != "get_network_time" {
		t.Fatalf("want first-match-wins on time, got tool=%s", d.Tool)
	}
}
