// Package events provides the event log for the Tidal Miner server: an
// append-only record of every inventory change and craft, which the
// presentation layer streams and storage replays.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of a game event.
type EventType string

const (
	EventTypeSessionStarted      EventType = "SESSION_STARTED"
	EventTypeItemCollected       EventType = "ITEM_COLLECTED"
	EventTypeItemCollectRejected EventType = "ITEM_COLLECT_REJECTED"
	EventTypeItemRemoved         EventType = "ITEM_REMOVED"
	EventTypeSlotChanged         EventType = "SLOT_CHANGED"
	EventTypeCraftStarted        EventType = "CRAFT_STARTED"
	EventTypeCraftFailed         EventType = "CRAFT_FAILED"
	EventTypeCraftCompleted      EventType = "CRAFT_COMPLETED"
	EventTypeCraftOutputDropped  EventType = "CRAFT_OUTPUT_DROPPED"
	EventTypeItemEquipped        EventType = "ITEM_EQUIPPED"
	EventTypeItemUnequipped      EventType = "ITEM_UNEQUIPPED"
	EventTypeTimeTick            EventType = "TIME_TICK"
)

// GameEvent represents an immutable record of an action in the game.
type GameEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	ActorID   string      `json:"actor_id"`  // Who performed the action
	TargetID  string      `json:"target_id"` // Item or recipe affected (optional)
	Payload   interface{} `json:"payload"`   // Event-specific data
}

// New stamps an event with a fresh ID and the current time.
func New(typ EventType, sessionID, actorID, targetID string, payload interface{}) GameEvent {
	return GameEvent{
		ID:        GenerateEventID(),
		Timestamp: time.Now(),
		Type:      typ,
		SessionID: sessionID,
		ActorID:   actorID,
		TargetID:  targetID,
		Payload:   payload,
	}
}

// EventPersister defines how an event is durably stored.
type EventPersister interface {
	Append(event GameEvent) error
}

// ErrorHandler is told about events the persister failed to store.
type ErrorHandler func(event GameEvent, err error)

const defaultBuffer = 1024

// EventLog is the in-memory append-only log of game events. Events are
// written through to the persister in append order by a single goroutine.
type EventLog struct {
	mu        sync.RWMutex
	events    []GameEvent
	persister EventPersister
	onError   ErrorHandler

	queue     chan GameEvent
	done      chan struct{}
	closeOnce sync.Once
}

// NewEventLog creates a new event log with an optional persister.
func NewEventLog(persister EventPersister) *EventLog {
	return NewBufferedEventLog(persister, defaultBuffer, nil)
}

// NewBufferedEventLog creates an event log whose persister queue holds
// buffer events. onError may be nil.
func NewBufferedEventLog(persister EventPersister, buffer int, onError ErrorHandler) *EventLog {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	el := &EventLog{
		events:    make([]GameEvent, 0),
		persister: persister,
		onError:   onError,
		done:      make(chan struct{}),
	}
	if persister == nil {
		close(el.done)
		return el
	}
	el.queue = make(chan GameEvent, buffer)
	go el.writeLoop()
	return el
}

func (el *EventLog) writeLoop() {
	defer close(el.done)
	for e := range el.queue {
		if err := el.persister.Append(e); err != nil && el.onError != nil {
			el.onError(e, err)
		}
	}
}

// Append adds a new event to the log. Events are immutable once appended.
// Appending after Close keeps the event in memory only.
func (el *EventLog) Append(event GameEvent) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.events = append(el.events, event)

	if el.queue != nil {
		el.queue <- event
	}
}

// Close stops accepting events for persistence and waits until every queued
// event has been handed to the persister.
func (el *EventLog) Close() {
	el.closeOnce.Do(func() {
		el.mu.Lock()
		if el.queue != nil {
			close(el.queue)
			el.queue = nil
		}
		el.mu.Unlock()
	})
	<-el.done
}

// Len returns the number of events appended so far.
func (el *EventLog) Len() int {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return len(el.events)
}

// Since returns the events appended after the first n, and the new cursor.
func (el *EventLog) Since(n int) ([]GameEvent, int) {
	el.mu.RLock()
	defer el.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n >= len(el.events) {
		return nil, len(el.events)
	}
	out := make([]GameEvent, len(el.events)-n)
	copy(out, el.events[n:])
	return out, len(el.events)
}

// GetByActor returns all events performed by a specific actor.
func (el *EventLog) GetByActor(actorID string) []GameEvent {
	return el.filter(func(e GameEvent) bool { return e.ActorID == actorID })
}

// BySession returns all events recorded for one session.
func (el *EventLog) BySession(sessionID string) []GameEvent {
	return el.filter(func(e GameEvent) bool { return e.SessionID == sessionID })
}

// ByType returns all events of one type.
func (el *EventLog) ByType(t EventType) []GameEvent {
	return el.filter(func(e GameEvent) bool { return e.Type == t })
}

func (el *EventLog) filter(keep func(GameEvent) bool) []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []GameEvent
	for _, e := range el.events {
		if keep(e) {
			result = append(result, e)
		}
	}
	return result
}

// Replay returns a copy of the full history for state reconstruction.
func (el *EventLog) Replay() []GameEvent {
	out, _ := el.Since(0)
	return out
}

// GenerateEventID creates a unique event identifier.
func GenerateEventID() string {
	return uuid.NewString()
}
