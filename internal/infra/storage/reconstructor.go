// Package storage - reconstructor.go
// Rebuilds inventories from the event log: state = f(events).
package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Kattete/Tidal-Miner/internal/domain/inventory"
	"github.com/Kattete/Tidal-Miner/internal/domain/item"
)

// Reconstructor rebuilds session state from the event log.
// This is used for:
// 1. Recovering an inventory whose snapshot is missing or stale
// 2. The "while you were away" recap on reconnect
// 3. Auditing and debugging
type Reconstructor struct {
	eventRepo EventRepository
}

// NewReconstructor creates a new state reconstructor.
func NewReconstructor(eventRepo EventRepository) *Reconstructor {
	return &Reconstructor{eventRepo: eventRepo}
}

// RecapEvent is a simplified event for the recap screen.
type RecapEvent struct {
	Timestamp time.Time `json:"timestamp"`
	When      string    `json:"when"` // "3 minutes ago"
	EventType string    `json:"event_type"`
	Summary   string    `json:"summary"` // Human-readable description
	Impact    string    `json:"impact"`  // "POSITIVE", "NEGATIVE", "NEUTRAL"
}

// RebuildInventory replays the SLOT_CHANGED events of a session and returns
// the final occupied slots in index order.
func (r *Reconstructor) RebuildInventory(ctx context.Context, sessionID string) ([]inventory.Record, error) {
	events, err := r.eventRepo.GetByEventType(ctx, sessionID, "SLOT_CHANGED")
	if err != nil {
		return nil, fmt.Errorf("failed to get slot events for %s: %w", sessionID, err)
	}

	slots := make(map[int]inventory.Record)
	for _, e := range events {
		idx, ok := intField(e.Payload, "slot")
		if !ok {
			continue
		}
		qty, _ := intField(e.Payload, "quantity")
		id, _ := e.Payload["item"].(string)
		if qty < 1 || id == "" {
			delete(slots, idx)
			continue
		}
		slots[idx] = inventory.Record{Index: idx, Item: item.ID(id), Quantity: qty}
	}

	records := make([]inventory.Record, 0, len(slots))
	for _, rec := range slots {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return records, nil
}

// GenerateRecap lists what happened to a session since the given time.
// Slot bookkeeping events are left out; the recap tells the story, not the ledger.
func (r *Reconstructor) GenerateRecap(ctx context.Context, sessionID string, since time.Time) ([]RecapEvent, error) {
	events, err := r.eventRepo.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	recap := make([]RecapEvent, 0)
	for _, e := range events {
		if e.Timestamp.Before(since) || e.EventType == "SLOT_CHANGED" {
			continue
		}
		summary, impact := Describe(e)
		recap = append(recap, RecapEvent{
			Timestamp: e.Timestamp,
			When:      humanize.Time(e.Timestamp),
			EventType: e.EventType,
			Summary:   summary,
			Impact:    impact,
		})
	}
	return recap, nil
}

// Describe returns a human-readable summary of an event and its impact
// class: "POSITIVE", "NEGATIVE" or "NEUTRAL".
func Describe(e GameEvent) (summary, impact string) {
	return summarizeEvent(e), determineImpact(e)
}

func summarizeEvent(e GameEvent) string {
	qty, _ := intField(e.Payload, "quantity")
	name := item.DisplayName(item.ID(e.TargetID))
	switch e.EventType {
	case "SESSION_STARTED":
		return "Dive started."
	case "ITEM_COLLECTED":
		return fmt.Sprintf("Collected %s x%s.", name, humanize.Comma(int64(qty)))
	case "ITEM_COLLECT_REJECTED":
		return fmt.Sprintf("Left %s behind: inventory full.", name)
	case "ITEM_REMOVED":
		return fmt.Sprintf("Dropped %s x%s.", name, humanize.Comma(int64(qty)))
	case "CRAFT_STARTED":
		return fmt.Sprintf("Started crafting %s.", e.TargetID)
	case "CRAFT_COMPLETED":
		return fmt.Sprintf("Finished crafting %s.", e.TargetID)
	case "CRAFT_FAILED":
		return fmt.Sprintf("Could not craft %s.", e.TargetID)
	case "CRAFT_OUTPUT_DROPPED":
		return fmt.Sprintf("Crafted %s but it did not fit in the inventory.", e.TargetID)
	case "ITEM_EQUIPPED":
		return fmt.Sprintf("Equipped %s.", name)
	case "ITEM_UNEQUIPPED":
		return "Put away the held item."
	default:
		return "Something happened below the surface."
	}
}

func determineImpact(e GameEvent) string {
	switch e.EventType {
	case "ITEM_COLLECTED", "CRAFT_COMPLETED":
		return "POSITIVE"
	case "ITEM_COLLECT_REJECTED", "CRAFT_FAILED", "CRAFT_OUTPUT_DROPPED":
		return "NEGATIVE"
	default:
		return "NEUTRAL"
	}
}

// intField reads a JSON number from a decoded payload.
func intField(payload map[string]interface{}, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
