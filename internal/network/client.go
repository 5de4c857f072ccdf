package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Kattete/Tidal-Miner/internal/domain/item"
	"github.com/Kattete/Tidal-Miner/internal/engine"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

var errRateLimited = errors.New("network: too many actions, slow down")

// PlayerAction represents an incoming command from the game client.
type PlayerAction struct {
	Type    string          `json:"type"`    // "COLLECT", "DROP", "CRAFT", etc.
	Payload json.RawMessage `json:"payload"` // Action-specific data
}

// actionPayload is the union of every action's arguments.
type actionPayload struct {
	Item   string `json:"item"`
	Amount int    `json:"amount"`
	Recipe string `json:"recipe"`
	Slot   int    `json:"slot"`
}

// Client is one WebSocket connection bound to a single session.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string

	windowStart time.Time
	actions     int
}

// NewClient creates a new WebSocket client for a session.
func NewClient(hub *Hub, conn *websocket.Conn, sessionID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, hub.cfg.ClientSendBuffer),
		sessionID: sessionID,
	}
}

// Register adds the client to the hub.
func (c *Client) Register() {
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		close(c.send)
	}
}

// ReadPump pumps actions from the websocket connection into the engine.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnf("WebSocket read error on session %s: %v", c.sessionID, err)
				c.hub.metrics.RecordWSError()
			}
			break
		}
		c.hub.metrics.RecordWSMessage(true)

		var action PlayerAction
		if err := json.Unmarshal(message, &action); err != nil {
			c.hub.logger.Warnf("Failed to parse PlayerAction from session %s: %v", c.sessionID, err)
			c.fail(fmt.Errorf("malformed action: %w", err))
			continue
		}

		c.handlePlayerAction(action, time.Now())
	}
}

func (c *Client) handlePlayerAction(action PlayerAction, now time.Time) {
	if !c.allow(now) {
		c.hub.logger.Warnf("Rate limit exceeded for session %s", c.sessionID)
		c.fail(errRateLimited)
		return
	}

	cmd, err := c.toCommand(action)
	if err != nil {
		c.fail(err)
		return
	}

	reply, err := c.hub.engine.Handle(cmd)
	if err != nil {
		c.hub.logger.Infof("[ACTION] %s %s rejected: %v", c.sessionID, cmd.Type, err)
	}
	c.hub.deliver(c, Message{
		Type:      MsgTypeReply,
		Timestamp: now.Unix(),
		Payload:   reply,
	})
}

// allow applies a fixed one-second window to the client's actions.
func (c *Client) allow(now time.Time) bool {
	limit := c.hub.cfg.MaxMessagesPerSecond
	if limit <= 0 {
		return true
	}
	if now.Sub(c.windowStart) >= time.Second {
		c.windowStart = now
		c.actions = 0
	}
	c.actions++
	return c.actions <= limit
}

func (c *Client) toCommand(action PlayerAction) (engine.Command, error) {
	var args actionPayload
	if len(action.Payload) > 0 {
		if err := json.Unmarshal(action.Payload, &args); err != nil {
			return engine.Command{}, fmt.Errorf("malformed %s payload: %w", action.Type, err)
		}
	}
	return engine.Command{
		Type:      engine.CommandType(action.Type),
		SessionID: c.sessionID,
		Item:      item.ID(args.Item),
		Amount:    amountOrOne(args.Amount),
		Recipe:    args.Recipe,
		Slot:      args.Slot,
	}, nil
}

func (c *Client) fail(err error) {
	c.hub.deliver(c, Message{
		Type:      MsgTypeError,
		Timestamp: time.Now().Unix(),
		Payload:   map[string]string{"error": err.Error()},
	})
}

// WritePump pumps messages from the hub to the websocket connection.
// Each message goes out as its own text frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.metrics.RecordWSError()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// NewUpgrader returns an upgrader that accepts the given origin. An empty
// origin or "*" accepts every origin.
func NewUpgrader(allowedOrigin string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
}

// ServeWs handles websocket requests from the peer. The session to attach
// to is named by the "session" query parameter.
func ServeWs(hub *Hub, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	view, err := hub.engine.Inventory(sessionID)
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warnf("Failed to upgrade websocket connection: %v", err)
		hub.metrics.RecordWSError()
		return
	}

	client := NewClient(hub, conn, sessionID)
	// The welcome frame is queued before the hub can see the client.
	if welcome, err := json.Marshal(Message{Type: MsgTypeWelcome, Timestamp: time.Now().Unix(), Payload: view}); err == nil {
		client.send <- welcome
	}
	client.Register()

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.WritePump()
	go client.ReadPump()
}
