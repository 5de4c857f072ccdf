package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Kattete/Tidal-Miner/internal/engine"
	"github.com/Kattete/Tidal-Miner/internal/events"
	"github.com/Kattete/Tidal-Miner/internal/platform/metrics"
)

type frame struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newWSServer(t *testing.T, eng *engine.Engine, cfg HubConfig) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg.PollInterval = 10 * time.Millisecond
	hub := NewHub(eng, nil, metrics.New(), cfg)
	go hub.Run(ctx)
	hub.StartEventPoller(ctx, eng.GetEventLog())

	upgrader := NewUpgrader("")
	router := mux.NewRouter()
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, upgrader, w, r)
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("frame %q: %v", data, err)
	}
	return f
}

// readUntil skips frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	for i := 0; i < 50; i++ {
		if f := readFrame(t, conn); match(f) {
			return f
		}
	}
	t.Fatalf("expected frame never arrived")
	return frame{}
}

func eventOf(t *testing.T, f frame) events.GameEvent {
	t.Helper()
	var e events.GameEvent
	if err := json.Unmarshal(f.Payload, &e); err != nil {
		t.Fatalf("event payload: %v", err)
	}
	return e
}

func waitConnected(t *testing.T, hub *Hub, sessionID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ConnectedSessions()[sessionID] == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached %d clients: %v", sessionID, want, hub.ConnectedSessions())
}

func TestWebSocketActionRoundTrip(t *testing.T) {
	eng := newTestEngine(t, 4)
	hub, srv := newWSServer(t, eng, HubConfig{})
	s, err := eng.StartSession("Mira")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	conn := dial(t, srv, s.ID)
	welcome := readFrame(t, conn)
	if welcome.Type != MsgTypeWelcome {
		t.Fatalf("expected WELCOME first, got %s", welcome.Type)
	}
	var view engine.InventoryView
	if err := json.Unmarshal(welcome.Payload, &view); err != nil || view.SessionID != s.ID {
		t.Fatalf("unexpected welcome %s (%v)", welcome.Payload, err)
	}
	waitConnected(t, hub, s.ID, 1)

	action := PlayerAction{Type: "COLLECT", Payload: json.RawMessage(`{"item":"nails","amount":3}`)}
	if err := conn.WriteJSON(action); err != nil {
		t.Fatalf("write: %v", err)
	}

	replyFrame := readUntil(t, conn, func(f frame) bool { return f.Type == MsgTypeReply })
	var reply engine.Reply
	if err := json.Unmarshal(replyFrame.Payload, &reply); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if !reply.OK || reply.Slot != 0 || reply.Item != "nails" {
		t.Errorf("unexpected reply %+v", reply)
	}

	collected := readUntil(t, conn, func(f frame) bool {
		return f.Type == MsgTypeEvent && eventOf(t, f).Type == events.EventTypeItemCollected
	})
	if e := eventOf(t, collected); e.SessionID != s.ID {
		t.Errorf("event for wrong session %s", e.SessionID)
	}
}

func TestWebSocketMissingAmountMeansOne(t *testing.T) {
	eng := newTestEngine(t, 4)
	hub, srv := newWSServer(t, eng, HubConfig{})
	s, _ := eng.StartSession("Mira")

	conn := dial(t, srv, s.ID)
	readFrame(t, conn)
	waitConnected(t, hub, s.ID, 1)

	conn.WriteJSON(PlayerAction{Type: "COLLECT", Payload: json.RawMessage(`{"item":"nails"}`)})
	f := readUntil(t, conn, func(f frame) bool { return f.Type == MsgTypeReply })
	var reply engine.Reply
	if err := json.Unmarshal(f.Payload, &reply); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if !reply.OK {
		t.Fatalf("expected the collect to succeed, got %+v", reply)
	}
	if got := s.Store.GetQuantity("nails"); got != 1 {
		t.Errorf("expected 1 nail, got %d", got)
	}
}

func TestWebSocketRejectedActionRepliesWithError(t *testing.T) {
	eng := newTestEngine(t, 4)
	hub, srv := newWSServer(t, eng, HubConfig{})
	s, _ := eng.StartSession("Mira")

	conn := dial(t, srv, s.ID)
	readFrame(t, conn)
	waitConnected(t, hub, s.ID, 1)

	conn.WriteJSON(PlayerAction{Type: "CRAFT", Payload: json.RawMessage(`{"recipe":"Plate"}`)})
	f := readUntil(t, conn, func(f frame) bool { return f.Type == MsgTypeReply })
	var reply engine.Reply
	json.Unmarshal(f.Payload, &reply)
	if reply.OK || reply.Error == "" || len(reply.Missing) != 2 {
		t.Errorf("expected a failed craft with two shortfalls, got %+v", reply)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	if f := readUntil(t, conn, func(f frame) bool { return f.Type != MsgTypeEvent }); f.Type != MsgTypeError {
		t.Errorf("expected ERROR for malformed action, got %s", f.Type)
	}
}

func TestEventsOnlyReachTheirSession(t *testing.T) {
	eng := newTestEngine(t, 4)
	hub, srv := newWSServer(t, eng, HubConfig{})
	a, _ := eng.StartSession("A")
	b, _ := eng.StartSession("B")

	conn := dial(t, srv, b.ID)
	readFrame(t, conn)
	waitConnected(t, hub, b.ID, 1)

	eng.Handle(engine.Command{Type: engine.CommandCollect, SessionID: a.ID, Item: "kelp", Amount: 1})
	eng.Handle(engine.Command{Type: engine.CommandCollect, SessionID: b.ID, Item: "quartz", Amount: 1})

	readUntil(t, conn, func(f frame) bool {
		if f.Type != MsgTypeEvent {
			return false
		}
		e := eventOf(t, f)
		if e.SessionID == a.ID {
			t.Fatalf("client of %s received event of %s", b.ID, a.ID)
		}
		return e.Type == events.EventTypeItemCollected
	})
}

func TestUnknownSessionIsRefused(t *testing.T) {
	eng := newTestEngine(t, 4)
	_, srv := newWSServer(t, eng, HubConfig{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=ghost"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %+v", resp)
	}
}

func TestClientLimitPerSession(t *testing.T) {
	eng := newTestEngine(t, 4)
	hub, srv := newWSServer(t, eng, HubConfig{MaxClientsPerSession: 1})
	s, _ := eng.StartSession("Mira")

	first := dial(t, srv, s.ID)
	readFrame(t, first)
	waitConnected(t, hub, s.ID, 1)

	second := dial(t, srv, s.ID)
	if f := readFrame(t, second); f.Type != MsgTypeWelcome {
		t.Fatalf("expected WELCOME, got %s", f.Type)
	}
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Errorf("expected the second client to be closed")
	}
	if n := hub.ConnectedSessions()[s.ID]; n != 1 {
		t.Errorf("expected 1 client, got %d", n)
	}
}

func TestRateLimitWindow(t *testing.T) {
	c := &Client{hub: &Hub{cfg: HubConfig{MaxMessagesPerSecond: 2}}}
	now := time.Now()

	if !c.allow(now) || !c.allow(now.Add(100*time.Millisecond)) {
		t.Fatalf("first two actions should pass")
	}
	if c.allow(now.Add(200 * time.Millisecond)) {
		t.Errorf("third action within a second should be limited")
	}
	if !c.allow(now.Add(time.Second)) {
		t.Errorf("a new window should allow actions again")
	}

	unlimited := &Client{hub: &Hub{}}
	for i := 0; i < 100; i++ {
		if !unlimited.allow(now) {
			t.Fatalf("zero limit should never throttle")
		}
	}
}

func TestUpgraderOriginCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")

	if !NewUpgrader("*").CheckOrigin(req) {
		t.Errorf("wildcard should accept any origin")
	}
	if NewUpgrader("https://tidal.example").CheckOrigin(req) {
		t.Errorf("foreign origin should be refused")
	}
	req.Header.Set("Origin", "https://tidal.example")
	if !NewUpgrader("https://tidal.example").CheckOrigin(req) {
		t.Errorf("configured origin should be accepted")
	}
}
