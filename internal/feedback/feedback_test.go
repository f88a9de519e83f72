package feedback

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// fakeEphemeral is an in-memory stand-in for EphemeralStore.
type fakeEphemeral struct {
	entries map[string]toolapi.Interaction
	expired map[string]bool
}

func newFakeEphemeral() *fakeEphemeral {
	return &fakeEphemeral{entries: map[string]toolapi.Interaction{}, expired: map[string]bool{}}
}

func (f *fakeEphemeral) key(sessionID, interactionID string) string {
	return sessionID + ":" + interactionID
}

func (f *fakeEphemeral) Put(_ context.Context, in toolapi.Interaction) error {
	f.entries[f.key(in.SessionID, in.InteractionID)] = in
	return nil
}

func (f *fakeEphemeral) Get(_ context.Context, sessionID, interactionID string) (toolapi.Interaction, bool, error) {
	key := f.key(sessionID, interactionID)
	if f.expired[key] {
		return toolapi.Interaction{}, false, nil
	}
	in, ok := f.entries[key]
	return in, ok, nil
}

func (f *fakeEphemeral) Persist(_ context.Context, sessionID, interactionID string) error {
	return nil
}

func (f *fakeEphemeral) Delete(_ context.Context, sessionID, interactionID string) error {
	delete(f.entries, f.key(sessionID, interactionID))
	return nil
}

// fakeDurable is an in-memory stand-in for DurableStore.
type fakeDurable struct {
	promoted        map[string]toolapi.Interaction
	promoteCalls    int
	negativeCount   int
	negativeReasons []string
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{promoted: map[string]toolapi.Interaction{}}
}

func (f *fakeDurable) PromoteInteraction(_ context.Context, in toolapi.Interaction) error {
	f.promoteCalls++
	if _, exists := f.promoted[in.InteractionID]; exists {
		return nil // unique-key no-op, mirrors ON DUPLICATE KEY UPDATE
	}
	f.promoted[in.InteractionID] = in
	return nil
}

func (f *fakeDurable) RecordNegativeFeedback(_ context.Context, in toolapi.Interaction, reason string) error {
	f.negativeCount++
	f.negativeReasons = append(f.negativeReasons, reason)
	return nil
}

func (f *fakeDurable) GetInteraction(_ context.Context, sessionID, interactionID string) (toolapi.Interaction, bool, error) {
	in, ok := f.promoted[interactionID]
	return in, ok, nil
}

func sampleInteraction(sessionID, interactionID string) toolapi.Interaction {
	return toolapi.Interaction{
		InteractionID: interactionID,
		SessionID:     sessionID,
		UserMessage:   "what time is it?",
		FinalResponse: "It's 3:04 PM UTC.",
		RoutingType:   toolapi.RoutingDirectShortcut,
		ToolsUsed:     []string{"get_network_time"},
		CreatedAt:     time.Now(),
	}
}

func TestService_LogTurnDefaultsFeedbackNone(t *testing.T) {
	eph := newFakeEphemeral()
	svc := &Service{ephemeral: eph, logger: discardLogger()}

	in := sampleInteraction("s1", "i1")
	in.Feedback = ""
	if err := svc.LogTurn(context.Background(), in); err != nil {
		t.Fatalf("LogTurn: %v", err)
	}
	stored := eph.entries["s1:i1"]
	if stored.Feedback != toolapi.FeedbackNone {
		t.Fatalf("want feedback defaulted to none, got %q", stored.Feedback)
	}
}

func TestService_ThumbsUpPromotesAndPersists(t *testing.T) {
	eph := newFakeEphemeral()
	dur := newFakeDurable()
	svc := &Service{ephemeral: eph, durable: dur, logger: discardLogger()}

	in := sampleInteraction("s1", "i1")
	eph.entries["s1:i1"] = in

	if err := svc.Submit(context.Background(), "s1", "i1", ThumbsUp); err != nil {
		t.Fatalf("Submit thumbs_up: %v", err)
	}
	promoted, ok := dur.promoted["i1"]
	if !ok {
		t.Fatal("want interaction promoted to durable store")
	}
	if promoted.Feedback != toolapi.FeedbackThumbsUp {
		t.Fatalf("want feedback=thumbs_up, got %q", promoted.Feedback)
	}
}

func TestService_ThumbsUpIsIdempotent(t *testing.T) {
	eph := newFakeEphemeral()
	dur := newFakeDurable()
	svc := &Service{ephemeral: eph, durable: dur, logger: discardLogger()}

	in := sampleInteraction("s1", "i1")
	eph.entries["s1:i1"] = in

	if err := svc.Submit(context.Background(), "s1", "i1", ThumbsUp); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	// Ephemeral entry remains (Persist in the fake is a no-op, matching
	// the real store's "clear expiry, keep the key" semantics).
	if err := svc.Submit(context.Background(), "s1", "i1", ThumbsUp); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if len(dur.promoted) != 1 {
		t.Fatalf("want exactly 1 durable row, got %d", len(dur.promoted))
	}
	if dur.promoteCalls != 2 {
		t.Fatalf("want promote attempted twice (idempotent insert), got %d", dur.promoteCalls)
	}
}

func TestService_ThumbsUpAfterEphemeralExpiryUsesDurableCopy(t *testing.T) {
	eph := newFakeEphemeral()
	dur := newFakeDurable()
	svc := &Service{ephemeral: eph, durable: dur, logger: discardLogger()}

	in := sampleInteraction("s1", "i1")
	in.Feedback = toolapi.FeedbackThumbsUp
	dur.promoted["i1"] = in
	// no ephemeral entry: already expired after promotion

	if err := svc.Submit(context.Background(), "s1", "i1", ThumbsUp); err != nil {
		t.Fatalf("Submit thumbs_up on expired ephemeral: %v", err)
	}
}

func TestService_ThumbsDownDeletesEphemeralAndRecordsNegative(t *testing.T) {
	eph := newFakeEphemeral()
	dur := newFakeDurable()
	svc := &Service{ephemeral: eph, durable: dur, logger: discardLogger()}

	in := sampleInteraction("s1", "i1")
	eph.entries["s1:i1"] = in

	if err := svc.Submit(context.Background(), "s1", "i1", ThumbsDown); err != nil {
		t.Fatalf("Submit thumbs_down: %v", err)
	}
	if _, ok := eph.entries["s1:i1"]; ok {
		t.Fatal("want ephemeral entry removed after thumbs_down")
	}
	if dur.negativeCount != 1 {
		t.Fatalf("want 1 negative feedback row, got %d", dur.negativeCount)
	}
}

func TestService_ThumbsDownMissingInteractionErrors(t *testing.T) {
	eph := newFakeEphemeral()
	dur := newFakeDurable()
	svc := &Service{ephemeral: eph, durable: dur, logger: discardLogger()}

	if err := svc.Submit(context.Background(), "s1", "missing", ThumbsDown); err == nil {
		t.Fatal("want error for feedback on a nonexistent interaction")
	}
}

func TestNew_NilDurableStaysNilInterface(t *testing.T) {
	svc := New(nil, nil, nil)
	if svc.durable != nil {
		t.Fatal("want durable interface to stay nil when no *DurableStore is supplied")
	}
}

func TestNewInteractionID_ProducesDistinctIDs(t *testing.T) {
	a := NewInteractionID()
	b := NewInteractionID()
	if a == b {
		t.Fatal("want distinct interaction IDs")
	}
}

func TestService_GetFallsBackToDurable(t *testing.T) {
	eph := newFakeEphemeral()
	dur := newFakeDurable()
	svc := &Service{ephemeral: eph, durable: dur, logger: discardLogger()}

	in := sampleInteraction("s1", "i1")
	dur.promoted["i1"] = in

	got, ok, err := svc.Get(context.Background(), "s1", "i1")
	if err != nil || !ok {
		t.Fatalf("want found via durable fallback, ok=%v err=%v", ok, err)
	}
	if got.InteractionID != "i1" {
		t.Fatalf("unexpected interaction: %+v", got)
	}
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
