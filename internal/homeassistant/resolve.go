package homeassistant

import (
	"sort"
	"strings"

	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// normalize lowercases s, turns underscores into spaces, strips
// punctuation, collapses repeated whitespace, and strips a trailing
// plural "s" from the whole string. It mirrors the normalization the
// matcher applies to both the filter phrase and each entity's
// friendly_name/entity_id before substring comparison.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", " ")

	var b strings.Builder
	for _, r := range s {
		if r == ' ' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	s = b.String()

	fields := strings.Fields(s)
	s = strings.Join(fields, " ")
	s = strings.TrimSuffix(s, "s")
	return s
}

// tokenize splits a normalized phrase into words.
func tokenize(s string) []string {
	return strings.Fields(normalize(s))
}

// candidate is a resolved entity with the exact-token score used for
// single-best tie-breaking.
type candidate struct {
	entity toolapi.Entity
	score  int
}

// Resolve finds entities whose friendly_name+entity_id contain every
// token of filter as a substring. Filters with 3 or more tokens select
// a single best match (scored by exact-token hits against the friendly
// name, ties broken by the shorter entity_id); shorter filters return
// every candidate, since short phrases express room-level intent where
// acting on several entities is correct (see the word-count policy in
// the synchronizer design).
func Resolve(filter string, entities []toolapi.Entity) []toolapi.Entity {
	filterTokens := tokenize(filter)
	if len(filterTokens) == 0 {
		return nil
	}

	var candidates []candidate
	for _, e := range entities {
		haystack := normalize(e.FriendlyName + " " + e.EntityID)
		if !containsAllTokens(haystack, filterTokens) {
			continue
		}
		candidates = append(candidates, candidate{
			entity: e,
			score:  exactTokenMatches(filterTokens, tokenize(e.FriendlyName)),
		})
	}

	if len(candidates) == 0 {
		return nil
	}

	if len(filterTokens) < 3 {
		out := make([]toolapi.Entity, len(candidates))
		for i, c := range candidates {
			out[i] = c.entity
		}
		return out
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return len(candidates[i].entity.EntityID) < len(candidates[j].entity.EntityID)
	})
	return []toolapi.Entity{candidates[0].entity}
}

func containsAllTokens(haystack string, tokens []string) bool {
	for _, tok := range tokens {
		if !strings.Contains(haystack, tok) {
			return false
		}
	}
	return true
}

func exactTokenMatches(filterTokens, nameTokens []string) int {
	nameSet := make(map[string]struct{}, len(nameTokens))
	for _, t := range nameTokens {
		nameSet[t] = struct{}{}
	}
	count := 0
	for _, t := range filterTokens {
		if _, ok := nameSet[t]; ok {
			count++
		}
	}
	return count
}
