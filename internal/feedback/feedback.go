// Package feedback implements the two-tier interaction log: an
// ephemeral 24h cache written on every turn, and a durable relational
// store that thumbs-up promotes an interaction into (or thumbs-down
// records a negative-feedback row against).
package feedback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// ephemeralBackend is the subset of EphemeralStore the service depends
// on, narrowed out so tests can substitute a fake cache instead of a
// live Redis connection.
type ephemeralBackend interface {
	Put(ctx context.Context, in toolapi.Interaction) error
	Get(ctx context.Context, sessionID, interactionID string) (toolapi.Interaction, bool, error)
	Persist(ctx context.Context, sessionID, interactionID string) error
	Delete(ctx context.Context, sessionID, interactionID string) error
}

// durableBackend is the subset of DurableStore the service depends on.
type durableBackend interface {
	PromoteInteraction(ctx context.Context, in toolapi.Interaction) error
	RecordNegativeFeedback(ctx context.Context, in toolapi.Interaction, reason string) error
	GetInteraction(ctx context.Context, sessionID, interactionID string) (toolapi.Interaction, bool, error)
}

// Service is the single entry point the orchestrator's HTTP handlers
// use for interaction logging and feedback. The durable store is
// optional: when nil, feedback calls degrade to ephemeral-only
// bookkeeping and promotion reports effector_unavailable instead of
// failing the process.
type Service struct {
	ephemeral ephemeralBackend
	durable   durableBackend
	logger    *slog.Logger
}

// New builds a feedback service. durable may be nil if MySQL is not
// configured; ephemeral must not be nil.
func New(ephemeral *EphemeralStore, durable *DurableStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{ephemeral: ephemeral, logger: logger}
	if durable != nil {
		svc.durable = durable
	}
	return svc
}

// NewInteractionID returns a fresh random identifier for one completed
// chat turn.
func NewInteractionID() string {
	return uuid.NewString()
}

// LogTurn writes a freshly completed Interaction into the ephemeral
// store. Called once at the end of every user turn, before the
// response returns to the caller.
func (s *Service) LogTurn(ctx context.Context, in toolapi.Interaction) error {
	if in.Feedback == "" {
		in.Feedback = toolapi.FeedbackNone
	}
	return s.ephemeral.Put(ctx, in)
}

// Kind identifies which feedback a user submitted.
type Kind string

const (
	ThumbsUp   Kind = "thumbs_up"
	ThumbsDown Kind = "thumbs_down"
)

// Submit processes one feedback action. thumbs_up reads the ephemeral
// interaction, clears its expiry, then copies it into the durable
// store; a repeat call re-promotes the same row, a no-op under the
// unique-key insert. thumbs_down deletes the ephemeral entry and
// records a negative_feedback row.
func (s *Service) Submit(ctx context.Context, sessionID, interactionID string, kind Kind) error {
	switch kind {
	case ThumbsUp:
		return s.submitThumbsUp(ctx, sessionID, interactionID)
	case ThumbsDown:
		return s.submitThumbsDown(ctx, sessionID, interactionID)
	default:
		return fmt.Errorf("feedback: unknown kind %q", kind)
	}
}

func (s *Service) submitThumbsUp(ctx context.Context, sessionID, interactionID string) error {
	in, ok, err := s.ephemeral.Get(ctx, sessionID, interactionID)
	if err != nil {
		return fmt.Errorf("read ephemeral interaction: %w", err)
	}
	if !ok {
		// Already promoted and expired from ephemeral, or never existed
		// under this session. Re-promoting from durable state (if present)
		// keeps a second thumbs_up call a no-op rather than an error.
		if s.durable == nil {
			return fmt.Errorf("interaction %s not found", interactionID)
		}
		existing, ok, err := s.durable.GetInteraction(ctx, sessionID, interactionID)
		if err != nil {
			return fmt.Errorf("read durable interaction: %w", err)
		}
		if !ok {
			return fmt.Errorf("interaction %s not found", interactionID)
		}
		in = existing
	}

	if err := s.ephemeral.Persist(ctx, sessionID, interactionID); err != nil {
		s.logger.Warn("persist ephemeral entry failed", "interaction_id", interactionID, "error", err)
	}

	if s.durable == nil {
		return toolapi.NewToolError(toolapi.KindEffectorUnavailable, "feedback", "durable store is not configured")
	}

	in.Feedback = toolapi.FeedbackThumbsUp
	if err := s.durable.PromoteInteraction(ctx, in); err != nil {
		return fmt.Errorf("promote interaction: %w", err)
	}
	return nil
}

func (s *Service) submitThumbsDown(ctx context.Context, sessionID, interactionID string) error {
	in, ok, err := s.ephemeral.Get(ctx, sessionID, interactionID)
	if err != nil {
		return fmt.Errorf("read ephemeral interaction: %w", err)
	}
	if !ok {
		return fmt.Errorf("interaction %s not found", interactionID)
	}

	if err := s.ephemeral.Delete(ctx, sessionID, interactionID); err != nil {
		return fmt.Errorf("delete ephemeral interaction: %w", err)
	}

	if s.durable == nil {
		s.logger.Warn("durable store not configured; negative feedback not recorded", "interaction_id", interactionID)
		return nil
	}

	in.Feedback = toolapi.FeedbackThumbsDown
	if err := s.durable.RecordNegativeFeedback(ctx, in, "user_thumbs_down"); err != nil {
		return fmt.Errorf("record negative feedback: %w", err)
	}
	return nil
}

// Get looks up an interaction for GET /interaction/{session_id}/{id},
// checking the ephemeral store first and falling back to the durable
// store (covers the thumbs_up-promoted, ephemeral-expired case).
func (s *Service) Get(ctx context.Context, sessionID, interactionID string) (toolapi.Interaction, bool, error) {
	in, ok, err := s.ephemeral.Get(ctx, sessionID, interactionID)
	if err != nil {
		return toolapi.Interaction{}, false, err
	}
	if ok {
		return in, true, nil
	}
	if s.durable == nil {
		return toolapi.Interaction{}, false, nil
	}
	return s.durable.GetInteraction(ctx, sessionID, interactionID)
}
