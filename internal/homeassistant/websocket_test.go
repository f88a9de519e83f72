package homeassistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeHAWebSocketServer speaks just enough of the Home Assistant
// handshake (auth_required/auth/auth_ok) and the subscribe_events
// request/result exchange to exercise WSClient without a live hub.
// Every subscription is immediately answered with one state_changed
// event so tests can observe the event path end to end.
func fakeHAWebSocketServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(map[string]string{"type": "auth_required"}); err != nil {
			return
		}
		var auth map[string]string
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth["access_token"] == "" {
			conn.WriteJSON(map[string]string{"type": "auth_invalid"})
			return
		}
		if err := conn.WriteJSON(map[string]string{"type": "auth_ok"}); err != nil {
			return
		}

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			id := int64(msg["id"].(float64))
			conn.WriteJSON(wsEnvelope{ID: id, Type: "result", Success: true})
			if msg["type"] == "subscribe_events" {
				conn.WriteJSON(wsEnvelope{
					Type: "event",
					Event: &Event{
						Type:      "state_changed",
						Data:      json.RawMessage(`{"entity_id":"light.kitchen","new_state":{"entity_id":"light.kitchen","state":"on"}}`),
						TimeFired: time.Now(),
					},
				})
			}
		}
	}))
}

// severConnection closes the client's underlying network connection
// without going through Close, so the read loop sees a lost connection
// rather than a deliberate shutdown. httptest's CloseClientConnections
// cannot do this: it stops tracking a connection once the WebSocket
// upgrade hijacks it.
func severConnection(t *testing.T, c *WSClient) {
	t.Helper()
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		t.Fatal("no live connection to sever")
	}
	conn.UnderlyingConn().Close()
}

func TestWSClientConnectAndSubscribe(t *testing.T) {
	srv := fakeHAWebSocketServer(t)
	defer srv.Close()

	client := NewWSClient(srv.URL, "test-token", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := client.Subscribe(ctx, "state_changed"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	select {
	case event := <-client.Events():
		if event.Type != "state_changed" {
			t.Fatalf("want state_changed event, got %s", event.Type)
		}
		var data StateChangedData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			t.Fatalf("unmarshal event data: %v", err)
		}
		if data.EntityID != "light.kitchen" {
			t.Fatalf("want light.kitchen, got %s", data.EntityID)
		}
		if data.NewState == nil || data.NewState.State != "on" {
			t.Fatalf("want new_state on, got %+v", data.NewState)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestWSClientRejectsMissingToken(t *testing.T) {
	srv := fakeHAWebSocketServer(t)
	defer srv.Close()

	client := NewWSClient(srv.URL, "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Connect(ctx)
	if err == nil {
		t.Fatal("want error for empty access token")
	}
	if !strings.Contains(err.Error(), "authentication failed") {
		t.Fatalf("want authentication failed error, got %v", err)
	}
}

func TestWSClientReconnectRestoresSubscriptions(t *testing.T) {
	srv := fakeHAWebSocketServer(t)
	defer srv.Close()

	client := NewWSClient(srv.URL, "test-token", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.Subscribe(ctx, "state_changed"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	// Drain the event the first subscription produced.
	select {
	case <-client.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("no event after first subscribe")
	}

	if err := client.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	defer client.Close()

	// The restored subscription triggers the fake server to emit another
	// event; seeing it proves the subscription survived the reconnect.
	select {
	case event := <-client.Events():
		if event.Type != "state_changed" {
			t.Fatalf("want state_changed after reconnect, got %s", event.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event after reconnect; subscription not restored")
	}
}

func TestWSClientSignalsDropOnConnectionLoss(t *testing.T) {
	srv := fakeHAWebSocketServer(t)
	defer srv.Close()

	client := NewWSClient(srv.URL, "test-token", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()
	if !client.Connected() {
		t.Fatal("want Connected after Connect")
	}

	severConnection(t, client)

	select {
	case <-client.Drops():
	case <-time.After(2 * time.Second):
		t.Fatal("no drop signal after the connection was severed")
	}
	if client.Connected() {
		t.Fatal("want Connected false after drop")
	}
}

func TestWSClientDeliberateCloseDoesNotSignalDrop(t *testing.T) {
	srv := fakeHAWebSocketServer(t)
	defer srv.Close()

	client := NewWSClient(srv.URL, "test-token", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	client.Close()

	select {
	case <-client.Drops():
		t.Fatal("deliberate Close must not report a drop")
	case <-time.After(100 * time.Millisecond):
	}
	if client.Connected() {
		t.Fatal("want Connected false after Close")
	}
}

func TestWSClientEndpointURLSchemes(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://ha.local:8123", "ws://ha.local:8123/api/websocket"},
		{"https://ha.example.com", "wss://ha.example.com/api/websocket"},
	}
	for _, tt := range tests {
		c := NewWSClient(tt.base, "t", nil)
		got, err := c.endpointURL()
		if err != nil {
			t.Fatalf("endpointURL(%s): %v", tt.base, err)
		}
		if got != tt.want {
			t.Errorf("endpointURL(%s) = %s, want %s", tt.base, got, tt.want)
		}
	}
}
