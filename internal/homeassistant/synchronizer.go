package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rawpurplesmurf/mcp-server-home/internal/connwatch"
	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// settleDelay is the bounded wait after a successful service call for
// Home Assistant to publish the resulting state_changed event, before
// the synchronizer refetches over REST.
const settleDelay = 500 * time.Millisecond

// reconnectInterval is the fixed cadence for reconnect attempts while
// Home Assistant is unreachable, and the poll cadence while it is up.
const reconnectInterval = 5 * time.Second

// probeTimeout bounds one supervisor probe round: the REST liveness
// check plus, when the socket is down, the dial/auth/resubscribe repair.
const probeTimeout = 5 * time.Second

// Health is the synchronizer's configuration/connection status, as
// surfaced on GET /health's home_assistant field.
type Health string

const (
	HealthNotConfigured Health = "not_configured"
	HealthConfigured    Health = "configured"
	HealthConnected     Health = "connected"
	HealthDisconnected  Health = "disconnected"
)

// Synchronizer maintains a coherent local read model of Home Assistant
// entities via a WebSocket event subscription plus REST calls, and
// resolves natural-language device references against it. It is the
// cache's single writer; readers go through its query methods.
type Synchronizer struct {
	client *Client
	ws     *WSClient
	cache  *Cache

	configured bool
	watcher    *connwatch.Watcher

	// retryInterval is the supervisor cadence; reconnectInterval unless
	// a test shortens it.
	retryInterval time.Duration

	// subscribed records that the state_changed subscription has been
	// issued once; after that, the WebSocket client itself restores it
	// on every reconnect. Touched only by the supervisor goroutine.
	subscribed bool

	logger *slog.Logger
}

// NewSynchronizer wires a REST client, WebSocket client, and cache
// together. If baseURL or token is empty, the synchronizer starts in a
// permanent "not configured" state: HA tools report
// error/effector_unavailable and no connection is ever attempted.
func NewSynchronizer(baseURL, token string, cacheTTL time.Duration, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synchronizer{
		cache:         NewCache(cacheTTL),
		configured:    baseURL != "" && token != "",
		retryInterval: reconnectInterval,
		logger:        logger,
	}
	if s.configured {
		s.client = NewClient(baseURL, token, logger)
		s.ws = NewWSClient(baseURL, token, logger)
	}
	return s
}

// Start launches the event-ingestion loop, the reconnect supervisor,
// and the drop listener, then returns immediately; connection and
// reconnection happen in the background. The supervisor probes on a
// fixed 5s cadence; the probe both checks HA and repairs the WebSocket
// when it is down. When the read loop loses the socket it signals the
// drop channel, and the listener converts that into an immediate probe
// round instead of waiting out the cadence.
func (s *Synchronizer) Start(ctx context.Context) {
	if !s.configured {
		s.logger.Warn("home assistant not configured; HA tools will report effector_unavailable")
		return
	}

	// Single consumer for the lifetime of the process. The WSClient's
	// event channel survives reconnects, so one loop is enough.
	go s.consumeEvents(ctx)

	s.watcher = connwatch.Start(ctx, connwatch.Config{
		Name:          "homeassistant",
		Probe:         s.ensureConnected,
		RetryInterval: s.retryInterval,
		PollInterval:  s.retryInterval,
		ProbeTimeout:  probeTimeout,
		Logger:        s.logger,
		OnReady: func() {
			s.logger.Info("home assistant connected")
		},
		OnDown: func(err error) {
			s.logger.Warn("home assistant connection lost", "error", err)
		},
	})

	go s.watchDrops(ctx)
}

// ensureConnected is the supervisor's probe: Home Assistant is healthy
// only if REST answers AND the event socket is up. A reachable API
// with a dead socket is repaired on the spot — reconnect, which also
// restores prior subscriptions — so the probe's verdict always
// describes the state the caller can rely on.
func (s *Synchronizer) ensureConnected(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return err
	}
	if !s.ws.Connected() {
		if err := s.ws.Reconnect(ctx); err != nil {
			return fmt.Errorf("websocket reconnect: %w", err)
		}
	}
	if !s.subscribed {
		if err := s.ws.Subscribe(ctx, "state_changed"); err != nil {
			return fmt.Errorf("subscribe state_changed: %w", err)
		}
		s.subscribed = true
	}
	return nil
}

// watchDrops forwards read-loop drop signals to the supervisor so a
// lost socket is rechecked (and reconnected) right away.
func (s *Synchronizer) watchDrops(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ws.Drops():
			s.logger.Warn("websocket dropped; rechecking connection")
			s.watcher.Recheck()
		}
	}
}

// Stop halts the reconnect supervisor and closes the WebSocket.
func (s *Synchronizer) Stop() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.ws != nil {
		_ = s.ws.Close()
	}
}

// Configured reports whether HA_URL/HA_TOKEN were both supplied.
func (s *Synchronizer) Configured() bool { return s.configured }

// Health reports the synchronizer's current connection status for
// GET /health. "connected" requires both a passing supervisor probe
// and a live event socket: between a WebSocket drop and the repairing
// probe round, this already reads "disconnected".
func (s *Synchronizer) Health() Health {
	if !s.configured {
		return HealthNotConfigured
	}
	if s.watcher == nil {
		return HealthConfigured
	}
	if s.watcher.IsReady() && s.ws.Connected() {
		return HealthConnected
	}
	return HealthDisconnected
}

// consumeEvents drains the WebSocket event channel into handleEvent
// until ctx is cancelled.
func (s *Synchronizer) consumeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.ws.Events():
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

// handleEvent upserts a state_changed event into the cache. This is
// the only writer that bumps cache entries forward without a paired
// REST fetch: fetched_at is the event's own time_fired, so an event
// racing a concurrent REST refetch cannot masquerade as fresher than
// it is.
func (s *Synchronizer) handleEvent(ev Event) {
	if ev.Type != "state_changed" {
		return
	}

	var data StateChangedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		s.logger.Debug("malformed state_changed payload", "error", err)
		return
	}
	if data.NewState == nil {
		// Entity removed from HA. Evict rather than cache a synthetic
		// "gone" state.
		s.cache.Invalidate(data.EntityID)
		return
	}

	fetchedAt := ev.TimeFired
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	s.cache.UpsertAt(data.EntityID, data.NewState.State, data.NewState.Attributes, data.NewState.LastChanged, fetchedAt)
}

// Get returns a single entity's state: a fresh cache hit, or a REST
// refetch on miss/stale.
func (s *Synchronizer) Get(ctx context.Context, entityID string) (toolapi.Entity, error) {
	if !s.configured {
		return toolapi.Entity{}, toolapi.NewToolError(toolapi.KindEffectorUnavailable, "ha_get_device_state", "home assistant is not configured")
	}

	if entry, ok := s.cache.Get(entityID); ok {
		return entryToEntity(entry), nil
	}

	state, err := s.client.GetState(ctx, entityID)
	if err != nil {
		return toolapi.Entity{}, toolapi.NewToolError(toolapi.KindUpstreamRejected, "ha_get_device_state", err.Error())
	}
	s.cache.Upsert(state.EntityID, state.State, state.Attributes, state.LastChanged)
	entry, _ := s.cache.Get(state.EntityID)
	return entryToEntity(entry), nil
}

// List REST-fetches the bulk state endpoint, caches each result, then
// applies the domain and name_filter filters in memory.
func (s *Synchronizer) List(ctx context.Context, domain, nameFilter string) ([]toolapi.Entity, error) {
	if !s.configured {
		return nil, toolapi.NewToolError(toolapi.KindEffectorUnavailable, "ha_get_device_state", "home assistant is not configured")
	}

	states, err := s.client.GetStates(ctx)
	if err != nil {
		return nil, toolapi.NewToolError(toolapi.KindUpstreamRejected, "ha_get_device_state", err.Error())
	}

	entities := make([]toolapi.Entity, 0, len(states))
	for _, st := range states {
		s.cache.Upsert(st.EntityID, st.State, st.Attributes, st.LastChanged)
		entity := stateToEntity(st)
		if domain != "" && entity.Domain() != domain {
			continue
		}
		entities = append(entities, entity)
	}

	if nameFilter == "" {
		return entities, nil
	}
	return Resolve(nameFilter, entities), nil
}

// CallServiceResult is the outcome of CallService, reporting the actual
// entities actuated and the domain the action resolved to (needed for
// the light→switch fallback narration).
type CallServiceResult struct {
	DomainActuated string
	EntityIDs      []string
	States         []toolapi.Entity
}

// CallService executes a service call against one or more entities
// resolved from entityID or nameFilter, then invalidates and
// post-settle-refetches the cache for each. For domain "light" with no
// matches, it retries against "switch", which covers lamps plugged
// into smart outlets.
func (s *Synchronizer) CallService(ctx context.Context, toolName, domain, service, entityID, nameFilter string, extra map[string]any) (CallServiceResult, error) {
	if !s.configured {
		return CallServiceResult{}, toolapi.NewToolError(toolapi.KindEffectorUnavailable, toolName, "home assistant is not configured")
	}

	targets, actualDomain, err := s.resolveTargets(ctx, domain, entityID, nameFilter)
	if err != nil {
		return CallServiceResult{}, err
	}
	if len(targets) == 0 {
		return CallServiceResult{}, toolapi.NewToolError(toolapi.KindUpstreamRejected, toolName, fmt.Sprintf("no %s entity matched %q", domain, nameFilter))
	}

	for _, target := range targets {
		data := map[string]any{"entity_id": target.EntityID}
		for k, v := range extra {
			data[k] = v
		}
		if err := s.client.CallService(ctx, actualDomain, service, data); err != nil {
			return CallServiceResult{}, toolapi.NewToolError(toolapi.KindUpstreamRejected, toolName, err.Error())
		}
		// Invalidate immediately: a reader after this point must not see
		// the stale pre-write value, even if the post-settle refetch below fails.
		s.cache.Invalidate(target.EntityID)
	}

	timer := time.NewTimer(settleDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}

	result := CallServiceResult{DomainActuated: actualDomain}
	for _, target := range targets {
		result.EntityIDs = append(result.EntityIDs, target.EntityID)
		if state, err := s.client.GetState(ctx, target.EntityID); err == nil {
			s.cache.Upsert(state.EntityID, state.State, state.Attributes, state.LastChanged)
			entry, _ := s.cache.Get(state.EntityID)
			result.States = append(result.States, entryToEntity(entry))
		} else {
			s.logger.Error("post-settle refetch failed; cache remains invalidated", "entity_id", target.EntityID, "error", err)
		}
	}
	return result, nil
}

// resolveTargets finds the entities a command should act on, applying
// the light→switch domain fallback when domain is "light" and nothing
// matches.
func (s *Synchronizer) resolveTargets(ctx context.Context, domain, entityID, nameFilter string) ([]toolapi.Entity, string, error) {
	if entityID != "" {
		entity, err := s.Get(ctx, entityID)
		if err != nil {
			return nil, domain, err
		}
		return []toolapi.Entity{entity}, entity.Domain(), nil
	}

	entities, err := s.List(ctx, domain, nameFilter)
	if err != nil {
		return nil, domain, err
	}
	if len(entities) > 0 || domain != "light" {
		return entities, domain, nil
	}

	fallback, err := s.List(ctx, "switch", nameFilter)
	if err != nil {
		return nil, domain, err
	}
	return fallback, "switch", nil
}

func stateToEntity(st State) toolapi.Entity {
	friendly := st.EntityID
	if fn, ok := st.Attributes["friendly_name"].(string); ok && fn != "" {
		friendly = fn
	}
	return toolapi.Entity{
		EntityID:     st.EntityID,
		FriendlyName: friendly,
		State:        st.State,
		Attributes:   st.Attributes,
		LastChanged:  st.LastChanged,
	}
}

func entryToEntity(entry toolapi.StateCacheEntry) toolapi.Entity {
	friendly := entry.EntityID
	if fn, ok := entry.Attributes["friendly_name"].(string); ok && fn != "" {
		friendly = fn
	}
	return toolapi.Entity{
		EntityID:     entry.EntityID,
		FriendlyName: friendly,
		State:        entry.State,
		Attributes:   entry.Attributes,
		LastChanged:  entry.LastChanged,
	}
}
