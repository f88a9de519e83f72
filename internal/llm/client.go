package llm

import "context"

// Client is the narrow oracle surface the orchestrator depends on. The
// only production implementation talks HTTP; tests substitute scripted
// fakes.
type Client interface {
	// Chat sends a complete message history and returns the model's reply.
	Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error)

	// Ping reports whether the oracle endpoint is reachable.
	Ping(ctx context.Context) error
}
