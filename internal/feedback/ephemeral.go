package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// ephemeralTTL bounds how long an interaction waits for feedback before
// it ages out of the cache.
const ephemeralTTL = 24 * time.Hour

// EphemeralStore is the Redis-backed interaction cache. Every completed
// chat turn lands here with a TTL; feedback either promotes the entry
// onward or deletes it before the TTL does.
type EphemeralStore struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewEphemeralStore connects to Redis at addr (host:port). A reachability
// ping happens eagerly so startup surfaces a dead cache immediately
// rather than on the first interaction write.
func NewEphemeralStore(addr, password string, db int, logger *slog.Logger) (*EphemeralStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ephemeral store ping: %w", err)
	}
	return &EphemeralStore{client: client, logger: logger}, nil
}

func interactionKey(sessionID, interactionID string) string {
	return fmt.Sprintf("interaction:%s:%s", sessionID, interactionID)
}

// Put writes an interaction with the standard 24h expiry.
func (s *EphemeralStore) Put(ctx context.Context, in toolapi.Interaction) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal interaction: %w", err)
	}
	key := interactionKey(in.SessionID, in.InteractionID)
	if err := s.client.Set(ctx, key, data, ephemeralTTL).Err(); err != nil {
		return fmt.Errorf("ephemeral set %s: %w", key, err)
	}
	return nil
}

// Get retrieves an interaction. Returns ok=false on a cache miss
// (including one the TTL has already expired).
func (s *EphemeralStore) Get(ctx context.Context, sessionID, interactionID string) (toolapi.Interaction, bool, error) {
	key := interactionKey(sessionID, interactionID)
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return toolapi.Interaction{}, false, nil
	}
	if err != nil {
		return toolapi.Interaction{}, false, fmt.Errorf("ephemeral get %s: %w", key, err)
	}
	var in toolapi.Interaction
	if err := json.Unmarshal([]byte(val), &in); err != nil {
		return toolapi.Interaction{}, false, fmt.Errorf("unmarshal interaction %s: %w", key, err)
	}
	return in, true, nil
}

// Persist clears the key's expiry so a thumbs-up'd entry survives for
// the remainder of the session instead of aging out under its original
// TTL.
func (s *EphemeralStore) Persist(ctx context.Context, sessionID, interactionID string) error {
	key := interactionKey(sessionID, interactionID)
	if err := s.client.Persist(ctx, key).Err(); err != nil {
		return fmt.Errorf("ephemeral persist %s: %w", key, err)
	}
	return nil
}

// Delete removes the interaction entirely (the thumbs_down path).
func (s *EphemeralStore) Delete(ctx context.Context, sessionID, interactionID string) error {
	key := interactionKey(sessionID, interactionID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("ephemeral delete %s: %w", key, err)
	}
	return nil
}

// Ping reports whether Redis is currently reachable, for /health.
func (s *EphemeralStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *EphemeralStore) Close() error {
	return s.client.Close()
}
