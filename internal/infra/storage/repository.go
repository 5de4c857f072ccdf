// Package storage provides the persistence layer for the Tidal Miner server.
// This package implements the repository pattern to keep the domain pure.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Kattete/Tidal-Miner/internal/domain/inventory"
	"github.com/Kattete/Tidal-Miner/internal/domain/item"
)

// ErrNotFound is returned when no row matches the requested key.
var ErrNotFound = errors.New("storage: not found")

// GameEvent mirrors the domain event structure for persistence.
type GameEvent struct {
	ID        string                 `json:"id" db:"id"`
	SessionID string                 `json:"session_id" db:"session_id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	EventType string                 `json:"event_type" db:"event_type"`
	ActorID   string                 `json:"actor_id" db:"actor_id"`
	TargetID  string                 `json:"target_id" db:"target_id"`
	Payload   map[string]interface{} `json:"payload" db:"payload"`
}

// EventRepository defines the interface for event persistence.
type EventRepository interface {
	// Append adds a new event to the immutable ledger.
	Append(ctx context.Context, event GameEvent) error

	// GetBySession retrieves every event of one session in append order.
	GetBySession(ctx context.Context, sessionID string) ([]GameEvent, error)

	// GetByEventType retrieves the events of one type within a session.
	GetByEventType(ctx context.Context, sessionID string, eventType string) ([]GameEvent, error)

	// GetRecent retrieves the latest limit events across all sessions, oldest first.
	GetRecent(ctx context.Context, limit int) ([]GameEvent, error)
}

// InventorySnapshot is the saved state of one session: who the player is and
// what they carry.
type InventorySnapshot struct {
	SessionID      string             `json:"session_id" db:"session_id"`
	PlayerName     string             `json:"player_name" db:"player_name"`
	Capacity       int                `json:"capacity" db:"capacity"`
	EquippedSlot   int                `json:"equipped_slot" db:"equipped_slot"`
	ItemsCollected int                `json:"items_collected" db:"items_collected"`
	ItemsCrafted   int                `json:"items_crafted" db:"items_crafted"`
	Slots          []inventory.Record `json:"slots"`
	PendingCrafts  []PendingCraft     `json:"pending_crafts"`
	LastUpdated    time.Time          `json:"last_updated" db:"last_updated"`
}

// PendingCraft is a craft whose materials were consumed before the snapshot
// and whose product was not delivered yet.
type PendingCraft struct {
	JobID     string        `json:"job_id" db:"job_id"`
	Recipe    string        `json:"recipe" db:"recipe"`
	Item      item.ID       `json:"item" db:"item_id"`
	Quantity  int           `json:"quantity" db:"quantity"`
	Artifact  string        `json:"artifact" db:"artifact"`
	Duration  time.Duration `json:"duration" db:"duration_ms"`
	Remaining time.Duration `json:"remaining" db:"remaining_ms"`
}

// Clone returns a deep copy.
func (s InventorySnapshot) Clone() InventorySnapshot {
	out := s
	out.Slots = make([]inventory.Record, len(s.Slots))
	copy(out.Slots, s.Slots)
	if s.PendingCrafts != nil {
		out.PendingCrafts = make([]PendingCraft, len(s.PendingCrafts))
		copy(out.PendingCrafts, s.PendingCrafts)
	}
	return out
}

// InventoryRepository defines the interface for inventory snapshots.
type InventoryRepository interface {
	// Save replaces the stored snapshot of a session.
	Save(ctx context.Context, snapshot InventorySnapshot) error

	// Load retrieves one session, or ErrNotFound.
	Load(ctx context.Context, sessionID string) (InventorySnapshot, error)

	// List retrieves every saved session ordered by session ID.
	List(ctx context.Context) ([]InventorySnapshot, error)
}
