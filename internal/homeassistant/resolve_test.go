package homeassistant

import (
	"testing"

	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

func entities(pairs ...[2]string) []toolapi.Entity {
	out := make([]toolapi.Entity, len(pairs))
	for i, p := range pairs {
		out[i] = toolapi.Entity{EntityID: p[0], FriendlyName: p[1]}
	}
	return out
}

func TestResolve_ShortFilterReturnsAllMatches(t *testing.T) {
	ents := entities(
		[2]string{"light.kitchen_ceiling", "Kitchen Ceiling"},
		[2]string{"light.kitchen_island", "Kitchen Island"},
		[2]string{"light.office_desk", "Office Desk"},
	)
	got := Resolve("kitchen", ents)
	if len(got) != 2 {
		t.Fatalf("want 2 kitchen matches, got %d: %+v", len(got), got)
	}
}

func TestResolve_LongFilterPicksSingleBestMatch(t *testing.T) {
	// Both entities match all 3 filter tokens by substring, but the
	// "accent" entity's friendly name exactly contains all 3 tokens
	// ("Kitchen Ceiling Light") while the "main" entity's friendly name
	// only exactly contains 2 ("Kitchen Ceiling Main") — "light" is only
	// a substring hit via its entity_id. The higher exact-token score
	// should win the tie-break.
	ents := entities(
		[2]string{"light.kitchen_ceiling_main", "Kitchen Ceiling Main"},
		[2]string{"light.kitchen_ceiling_accent", "Kitchen Ceiling Light"},
	)
	got := Resolve("kitchen ceiling light", ents)
	if len(got) != 1 {
		t.Fatalf("want single best match, got %d: %+v", len(got), got)
	}
	if got[0].EntityID != "light.kitchen_ceiling_accent" {
		t.Fatalf("want kitchen_ceiling_accent (higher exact-token score), got %s", got[0].EntityID)
	}
}

func TestResolve_NoMatchReturnsNil(t *testing.T) {
	ents := entities([2]string{"light.office_desk", "Office Desk"})
	got := Resolve("bathroom", ents)
	if got != nil {
		t.Fatalf("want nil for no match, got %+v", got)
	}
}

func TestResolve_EmptyFilterReturnsNil(t *testing.T) {
	ents := entities([2]string{"light.office_desk", "Office Desk"})
	if got := Resolve("", ents); got != nil {
		t.Fatalf("want nil for empty filter, got %+v", got)
	}
}

func TestResolve_PluralAndPunctuationNormalized(t *testing.T) {
	ents := entities([2]string{"light.kids_room", "Kid's Room"})
	got := Resolve("kids room", ents)
	if len(got) != 1 {
		t.Fatalf("want 1 match after normalization, got %d: %+v", len(got), got)
	}
}

func TestResolve_UnderscoreEntityIDMatchesSpacedFilter(t *testing.T) {
	ents := entities([2]string{"switch.garage_door", "Garage"})
	got := Resolve("garage door", ents)
	if len(got) != 1 {
		t.Fatalf("want entity_id substring to satisfy the filter, got %d: %+v", len(got), got)
	}
}
