package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadBuffer  = 256 * 1024
	wsWriteBuffer = 64 * 1024

	// wsMaxMessage bounds a single frame. A full-house state dump from a
	// large HA install runs to tens of megabytes.
	wsMaxMessage = 64 * 1024 * 1024

	// wsCallTimeout bounds how long Subscribe and other id-correlated
	// calls wait for their result frame.
	wsCallTimeout = 30 * time.Second

	// wsEventBuffer is the event channel depth. The synchronizer's
	// consumer only does a map upsert per event, so a modest buffer
	// absorbs bursts; overflow drops the event, and the cache TTL or
	// next REST read repairs the gap.
	wsEventBuffer = 100
)

// WSClient subscribes to Home Assistant's WebSocket event endpoint. The
// socket is owned by a single read loop; callers interact only through
// Subscribe and the Events channel. Reconnection is driven externally
// (the synchronizer's supervisor calls Reconnect), never from inside
// the read loop: when the socket dies, the reader flips Connected to
// false, signals Drops, and exits.
type WSClient struct {
	baseURL string
	token   string

	connMu sync.Mutex
	conn   *websocket.Conn

	connected atomic.Bool

	// drops receives one signal per lost connection, for the supervisor.
	drops chan struct{}

	nextID atomic.Int64

	// inflight correlates result frames back to their requests by id.
	inflightMu sync.Mutex
	inflight   map[int64]chan callResult

	events chan Event

	// subscriptions records event types to restore after a reconnect.
	subsMu sync.Mutex
	subs   []string

	logger *slog.Logger
}

// Event is one event frame received from Home Assistant.
type Event struct {
	Type      string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedData is the payload of a state_changed event. NewState is
// nil when the entity was removed.
type StateChangedData struct {
	EntityID string `json:"entity_id"`
	OldState *State `json:"old_state"`
	NewState *State `json:"new_state"`
}

// wsEnvelope is the generic frame shape HA speaks in both directions.
type wsEnvelope struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// callResult delivers a request's outcome through its inflight channel.
type callResult struct {
	Success bool
	Result  json.RawMessage
	Error   *wsError
}

// NewWSClient creates a WebSocket client. No connection is made until
// Connect or Reconnect.
func NewWSClient(baseURL, token string, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		baseURL:  baseURL,
		token:    token,
		drops:    make(chan struct{}, 1),
		inflight: make(map[int64]chan callResult),
		events:   make(chan Event, wsEventBuffer),
		logger:   logger,
	}
}

// Connect dials HA's /api/websocket endpoint, runs the auth handshake,
// starts the read loop, and restores any prior subscriptions.
func (c *WSClient) Connect(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	// Outside the connection lock: restoring goes through call(), which
	// takes the lock to write.
	c.restoreSubscriptions()
	return nil
}

func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	endpoint, err := c.endpointURL()
	if err != nil {
		return err
	}
	c.logger.Info("connecting to Home Assistant WebSocket", "url", endpoint)

	dialer := websocket.Dialer{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetReadLimit(wsMaxMessage)

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return err
	}
	c.conn = conn
	c.connected.Store(true)
	c.logger.Info("WebSocket authenticated")

	go c.readLoop(conn)
	return nil
}

// endpointURL converts the REST base URL into the ws(s) event endpoint.
func (c *WSClient) endpointURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/api/websocket"
	return u.String(), nil
}

// authenticate runs HA's published handshake: the server leads with
// auth_required, the client answers with the bearer token, the server
// closes with auth_ok or auth_invalid.
func (c *WSClient) authenticate(conn *websocket.Conn) error {
	var hello wsEnvelope
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", hello.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": c.token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	var verdict wsEnvelope
	if err := conn.ReadJSON(&verdict); err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	switch verdict.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("authentication failed")
	default:
		return fmt.Errorf("unexpected auth response: %s", verdict.Type)
	}
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		// Detach before closing so the read loop sees a superseded
		// connection and doesn't report a deliberate shutdown as a drop.
		conn := c.conn
		c.conn = nil
		c.connected.Store(false)
		return conn.Close()
	}
	return nil
}

// Reconnect drops the current connection (if any) and re-establishes
// it, re-authenticating and restoring subscriptions. Safe to call from
// any goroutine; the synchronizer's supervisor calls it whenever HA
// becomes reachable, so the first "connect" and every later reconnect
// go through the same path.
func (c *WSClient) Reconnect(ctx context.Context) error {
	c.connMu.Lock()
	if c.conn != nil {
		// Detach first: the old read loop must not signal a drop for a
		// connection we are replacing on purpose.
		conn := c.conn
		c.conn = nil
		c.connected.Store(false)
		conn.Close()
	}
	c.connMu.Unlock()

	return c.Connect(ctx)
}

// Events returns the channel delivering subscribed events. The channel
// survives reconnects: consumers attach once.
func (c *WSClient) Events() <-chan Event {
	return c.events
}

// Connected reports whether an authenticated connection is currently up.
func (c *WSClient) Connected() bool {
	return c.connected.Load()
}

// Drops returns the channel the read loop signals on each lost
// connection. The supervisor listens here so a drop triggers a
// reconnect check immediately instead of waiting out a poll interval.
func (c *WSClient) Drops() <-chan struct{} {
	return c.drops
}

// signalDrop notifies the supervisor without blocking; one pending
// signal is enough, coalescing is fine.
func (c *WSClient) signalDrop() {
	select {
	case c.drops <- struct{}{}:
	default:
	}
}

// Subscribe asks HA to deliver events of the given type and records the
// subscription so Reconnect can restore it.
func (c *WSClient) Subscribe(ctx context.Context, eventType string) error {
	id := c.nextID.Add(1)
	msg := map[string]any{
		"id":         id,
		"type":       "subscribe_events",
		"event_type": eventType,
	}
	if _, err := c.call(ctx, id, msg); err != nil {
		return fmt.Errorf("subscribe to %s: %w", eventType, err)
	}

	c.subsMu.Lock()
	c.subs = append(c.subs, eventType)
	c.subsMu.Unlock()

	c.logger.Info("subscribed to events", "event_type", eventType)
	return nil
}

// call sends an id-carrying request and blocks for its result frame.
func (c *WSClient) call(ctx context.Context, id int64, msg any) (json.RawMessage, error) {
	reply := make(chan callResult, 1)
	c.inflightMu.Lock()
	c.inflight[id] = reply
	c.inflightMu.Unlock()
	defer func() {
		c.inflightMu.Lock()
		delete(c.inflight, id)
		c.inflightMu.Unlock()
	}()

	c.connMu.Lock()
	conn := c.conn
	var err error
	if conn == nil {
		err = fmt.Errorf("not connected")
	} else {
		err = conn.WriteJSON(msg)
	}
	c.connMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	select {
	case res := <-reply:
		if !res.Success {
			if res.Error != nil {
				return nil, fmt.Errorf("%s: %s", res.Error.Code, res.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return res.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wsCallTimeout):
		return nil, fmt.Errorf("timeout waiting for response")
	}
}

// readLoop is the sole reader of the connection it was started with.
// On any read error it marks the client disconnected, signals Drops,
// and exits; recovery is the supervisor's job, not the loop's. A loop
// left over from a superseded connection touches nothing: only the
// current connection's reader may flip state.
func (c *WSClient) readLoop(conn *websocket.Conn) {
	defer func() {
		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.connected.Store(false)
			c.signalDrop()
		}
		c.connMu.Unlock()
	}()

	for {
		var frame wsEnvelope
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("WebSocket closed normally")
			} else {
				c.logger.Error("WebSocket read error, connection lost", "error", err)
			}
			return
		}

		switch frame.Type {
		case "result":
			c.inflightMu.Lock()
			if ch, ok := c.inflight[frame.ID]; ok {
				ch <- callResult{Success: frame.Success, Result: frame.Result, Error: frame.Error}
			}
			c.inflightMu.Unlock()

		case "event":
			if frame.Event == nil {
				continue
			}
			select {
			case c.events <- *frame.Event:
			default:
				c.logger.Warn("event channel full, dropping event", "type", frame.Event.Type)
			}

		case "pong":
			// keepalive, nothing to do

		default:
			c.logger.Debug("unhandled WebSocket message type", "type", frame.Type)
		}
	}
}

// restoreSubscriptions re-issues every recorded subscription on a fresh
// connection. The list is drained first because Subscribe re-appends.
func (c *WSClient) restoreSubscriptions() {
	c.subsMu.Lock()
	subs := make([]string, len(c.subs))
	copy(subs, c.subs)
	c.subs = c.subs[:0]
	c.subsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), wsCallTimeout)
	defer cancel()

	for _, eventType := range subs {
		if err := c.Subscribe(ctx, eventType); err != nil {
			c.logger.Error("failed to restore subscription", "event_type", eventType, "error", err)
		}
	}
}
