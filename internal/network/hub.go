package network

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Kattete/Tidal-Miner/internal/engine"
	"github.com/Kattete/Tidal-Miner/internal/events"
	"github.com/Kattete/Tidal-Miner/internal/platform/logger"
	"github.com/Kattete/Tidal-Miner/internal/platform/metrics"
)

// MessageType tags every frame sent to a client.
type MessageType string

const (
	MsgTypeWelcome MessageType = "WELCOME"
	MsgTypeEvent   MessageType = "EVENT"
	MsgTypeReply   MessageType = "REPLY"
	MsgTypeError   MessageType = "ERROR"
)

// Message is the envelope of every server-to-client frame.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// HubConfig sizes the hub's queues and limits.
type HubConfig struct {
	BroadcastBuffer      int
	ClientSendBuffer     int
	MaxMessagesPerSecond int // 0 disables rate limiting
	MaxClientsPerSession int // 0 means unlimited
	PollInterval         time.Duration
}

// DefaultHubConfig returns the settings used when nothing is configured.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BroadcastBuffer:      256,
		ClientSendBuffer:     256,
		MaxMessagesPerSecond: 20,
		MaxClientsPerSession: 4,
		PollInterval:         200 * time.Millisecond,
	}
}

type outbound struct {
	sessionID string // empty reaches every client
	data      []byte
}

// Hub maintains the set of active clients and fans events out to the
// clients watching the affected session.
type Hub struct {
	engine  *engine.Engine
	logger  *logger.Logger
	metrics *metrics.Collector
	cfg     HubConfig

	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
}

// NewHub initializes a new WebSocket Hub in front of the engine.
func NewHub(eng *engine.Engine, log *logger.Logger, m *metrics.Collector, cfg HubConfig) *Hub {
	def := DefaultHubConfig()
	if cfg.BroadcastBuffer < 1 {
		cfg.BroadcastBuffer = def.BroadcastBuffer
	}
	if cfg.ClientSendBuffer < 1 {
		cfg.ClientSendBuffer = def.ClientSendBuffer
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if log == nil {
		log = logger.NewDiscard()
	}
	if m == nil {
		m = metrics.Get()
	}
	return &Hub{
		engine:     eng,
		logger:     log,
		metrics:    m,
		cfg:        cfg,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, cfg.BroadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the Hub's main loop to handle client connections and broadcasts.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			h.drop(client)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("WebSocket Hub shutting down.")
			return
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Infof("WebSocket client for session %s disconnected", client.sessionID)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if msg.sessionID != "" && client.sessionID != msg.sessionID {
					continue
				}
				h.push(client, msg.data)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if limit := h.cfg.MaxClientsPerSession; limit > 0 && h.count(client.sessionID) >= limit {
		h.logger.Warnf("Session %s already has %d clients, refusing another", client.sessionID, limit)
		close(client.send)
		return
	}
	h.clients[client] = true
	h.metrics.RecordWSConnection(1)
	h.logger.Infof("New WebSocket client connected to session %s", client.sessionID)
}

// drop must be called with h.mu held.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.metrics.RecordWSConnection(-1)
}

// push must be called with h.mu held. A client whose buffer is full is
// too slow to keep up and is disconnected.
func (h *Hub) push(client *Client, data []byte) {
	select {
	case client.send <- data:
		h.metrics.RecordWSMessage(false)
	default:
		h.logger.Warnf("Client of session %s is not draining its queue, disconnecting", client.sessionID)
		h.metrics.RecordWSError()
		h.drop(client)
	}
}

func (h *Hub) count(sessionID string) int {
	n := 0
	for client := range h.clients {
		if client.sessionID == sessionID {
			n++
		}
	}
	return n
}

// deliver sends a frame to one registered client only.
func (h *Hub) deliver(client *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorf("Failed to serialize %s message: %v", msg.Type, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		h.push(client, data)
	}
}

// BroadcastToSession sends a message to every client of a session, or to
// every client when sessionID is empty.
func (h *Hub) BroadcastToSession(sessionID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorf("Failed to serialize %s message: %v", msg.Type, err)
		return
	}
	select {
	case h.broadcast <- outbound{sessionID: sessionID, data: data}:
	case <-h.done:
	}
}

// BroadcastEvent wraps a GameEvent in an EVENT message for its session.
// Events without a session, such as the heartbeat, reach everyone.
func (h *Hub) BroadcastEvent(event events.GameEvent) {
	h.BroadcastToSession(event.SessionID, Message{
		Type:      MsgTypeEvent,
		Timestamp: event.Timestamp.Unix(),
		Payload:   event,
	})
}

// ConnectedSessions returns the number of clients watching each session.
func (h *Hub) ConnectedSessions() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int)
	for client := range h.clients {
		out[client.sessionID]++
	}
	return out
}

// StartEventPoller spawns a goroutine that polls the EventLog and pushes
// new events to the Hub. The hub runs independently of the engine's host
// loop while picking up the same events.
func (h *Hub) StartEventPoller(ctx context.Context, eventLog *events.EventLog) {
	go func() {
		pollInterval := time.NewTicker(h.cfg.PollInterval)
		defer pollInterval.Stop()

		cursor := eventLog.Len()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pollInterval.C:
				var fresh []events.GameEvent
				fresh, cursor = eventLog.Since(cursor)
				for _, event := range fresh {
					h.BroadcastEvent(event)
				}
			}
		}
	}()
}
