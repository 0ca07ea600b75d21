package api

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/hublink/internal/infrastructure/config"
	"github.com/nerrad567/hublink/internal/message"
	"github.com/nerrad567/hublink/internal/transport"
)

func dialWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()
	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	})
	if err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	resp := readWS(t, conn)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

// decodePayload re-decodes a generic payload into v.
func decodePayload(t *testing.T, payload any, v any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
}

// =============================================================================
// Event stream
// =============================================================================

func TestWebSocket_ConnectionEvents(t *testing.T) {
	s, srv := newTestServer(t, Deps{})
	conn := dialWS(t, srv.URL)
	subscribe(t, conn, ChannelConnection)

	if got := s.Hub().ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}

	s.Hub().StatusChanged(transport.DisconnectedRetrying, transport.ReasonNoNetwork, errors.New("reset"))

	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelConnection {
		t.Fatalf("event = %+v, want connection event", msg)
	}
	var ev ConnectionEvent
	decodePayload(t, msg.Payload, &ev)
	if ev.Status != "DISCONNECTED_RETRYING" || ev.Reason != "NO_NETWORK" || ev.Error != "reset" {
		t.Errorf("payload = %+v", ev)
	}
}

func TestWebSocket_MessageEvents(t *testing.T) {
	s, srv := newTestServer(t, Deps{})
	conn := dialWS(t, srv.URL)
	subscribe(t, conn, ChannelMessages)

	msg := message.New([]byte("t"))
	hub := s.Hub()
	hub.StatusChanged(transport.Connected, transport.ReasonConnectionOK, nil) // not subscribed
	hub.MessageQueued(msg)
	hub.MessageRetried(msg, 1, 250*time.Millisecond, errors.New("throttled"))
	hub.MessageCompleted(msg, message.StatusOK, 1)

	want := []MessageEvent{
		{Event: "queued", MessageID: msg.ID, Type: "telemetry"},
		{Event: "retried", MessageID: msg.ID, Type: "telemetry", Retries: 1, BackoffMS: 250, Error: "throttled"},
		{Event: "completed", MessageID: msg.ID, Type: "telemetry", Status: "OK", Retries: 1},
	}
	for i, w := range want {
		got := readWS(t, conn)
		if got.EventType != ChannelMessages {
			t.Fatalf("event %d channel = %q, want %q", i, got.EventType, ChannelMessages)
		}
		var ev MessageEvent
		decodePayload(t, got.Payload, &ev)
		if ev != w {
			t.Errorf("event %d = %+v, want %+v", i, ev, w)
		}
	}
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	s, srv := newTestServer(t, Deps{})
	conn := dialWS(t, srv.URL)
	subscribe(t, conn, ChannelConnection, ChannelMessages)

	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelConnection}},
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if resp := readWS(t, conn); resp.ID != "unsub-1" {
		t.Fatalf("unsubscribe response = %+v", resp)
	}

	s.Hub().StatusChanged(transport.Connected, transport.ReasonConnectionOK, nil)
	s.Hub().MessageQueued(message.New([]byte("t")))

	got := readWS(t, conn)
	if got.EventType != ChannelMessages {
		t.Errorf("first event channel = %q, want %q", got.EventType, ChannelMessages)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	_, srv := newTestServer(t, Deps{})
	conn := dialWS(t, srv.URL)

	tests := []struct {
		name     string
		send     any
		wantType string
	}{
		{"ping", WSMessage{Type: WSTypePing, ID: "p1"}, WSTypePong},
		{"unknown type", WSMessage{Type: "shout", ID: "x1"}, WSTypeError},
		{"unknown channel", WSMessage{Type: WSTypeSubscribe, ID: "s1", Payload: WSSubscribePayload{Channels: []string{"devices"}}}, WSTypeError},
		{"invalid json", "not json", WSTypeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if s, ok := tt.send.(string); ok {
				err = conn.WriteMessage(websocket.TextMessage, []byte(s))
			} else {
				err = conn.WriteJSON(tt.send)
			}
			if err != nil {
				t.Fatalf("write error = %v", err)
			}
			if got := readWS(t, conn); got.Type != tt.wantType {
				t.Errorf("reply type = %q, want %q", got.Type, tt.wantType)
			}
		})
	}
}

func TestHub_CloseAllDisconnects(t *testing.T) {
	s, srv := newTestServer(t, Deps{})
	conn := dialWS(t, srv.URL)
	subscribe(t, conn, ChannelMessages)

	s.Hub().closeAll()

	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage() after closeAll should fail")
	}
	if got := s.Hub().ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}

	// New clients are refused once closed.
	late := dialWS(t, srv.URL)
	//nolint:errcheck // Test deadline
	late.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := late.ReadMessage(); err == nil {
		t.Error("late client should be closed")
	}
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	hub.MessageQueued(message.New([]byte("t")))
	hub.StatusChanged(transport.Connected, transport.ReasonConnectionOK, nil)

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
}
