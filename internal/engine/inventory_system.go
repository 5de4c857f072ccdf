package engine

import (
	"errors"
	"fmt"

	"github.com/Kattete/Tidal-Miner/internal/domain/inventory"
	"github.com/Kattete/Tidal-Miner/internal/domain/item"
	"github.com/Kattete/Tidal-Miner/internal/domain/player"
	"github.com/Kattete/Tidal-Miner/internal/events"
	"github.com/Kattete/Tidal-Miner/internal/platform/logger"
	"github.com/Kattete/Tidal-Miner/internal/platform/metrics"
)

// Reasons attached to ITEM_REMOVED and ITEM_COLLECT_REJECTED.
const (
	ReasonDropped       = "DROPPED"
	ReasonInventoryFull = "INVENTORY_FULL"
)

// InventorySystem handles pickups and drops, and turns store updates into
// SLOT_CHANGED events for the presentation layer.
type InventorySystem struct {
	eventLog *events.EventLog
	logger   *logger.Logger
	metrics  *metrics.Collector
	known    func(item.ID) bool
}

func NewInventorySystem(el *events.EventLog, log *logger.Logger, m *metrics.Collector, known func(item.ID) bool) *InventorySystem {
	return &InventorySystem{
		eventLog: el,
		logger:   log,
		metrics:  m,
		known:    known,
	}
}

// Attach wires the store of s to the event log.
func (is *InventorySystem) Attach(s *Session) {
	s.Store.Observe(inventory.ObserverFunc(func(u inventory.Update) {
		is.eventLog.Append(events.New(events.EventTypeSlotChanged, s.ID, s.ID, string(u.Item), slotPayload(u)))
	}))
}

// Collect puts a picked-up item into the session's inventory. When the
// inventory is full the pickup is rejected and nothing changes, so the
// world object can stay where it is.
func (is *InventorySystem) Collect(s *Session, id item.ID, amount int) (int, error) {
	if !is.known(id) {
		return -1, fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}

	slot, err := s.Store.Put(id, amount)
	if err != nil {
		if errors.Is(err, inventory.ErrCapacityExceeded) {
			is.metrics.RecordCollect(amount, false)
			is.eventLog.Append(events.New(events.EventTypeItemCollectRejected, s.ID, s.ID, string(id), events.ItemPayload{
				Item:     string(id),
				Quantity: amount,
				Slot:     -1,
				Reason:   ReasonInventoryFull,
			}))
			is.logger.Warnf("[INVENTORY] %s could not pick up %d %s: inventory full", s.ID, amount, id)
		}
		return -1, err
	}

	s.withPlayer(func(p *player.Player) { p.ItemsCollected += amount })
	is.metrics.RecordCollect(amount, true)
	is.eventLog.Append(events.New(events.EventTypeItemCollected, s.ID, s.ID, string(id), events.ItemPayload{
		Item:     string(id),
		Quantity: amount,
		Slot:     slot,
	}))
	is.logger.Infof("[INVENTORY] %s collected %d %s into slot %d", s.ID, amount, id, slot)
	return slot, nil
}

// Drop removes amount of id from the session's inventory. Nothing is removed
// unless the whole amount is held.
func (is *InventorySystem) Drop(s *Session, id item.ID, amount int) (int, error) {
	slot, err := s.Store.Take(id, amount)
	if err != nil {
		return -1, err
	}

	is.metrics.RecordRemove(amount)
	is.eventLog.Append(events.New(events.EventTypeItemRemoved, s.ID, s.ID, string(id), events.ItemPayload{
		Item:     string(id),
		Quantity: amount,
		Slot:     slot,
		Reason:   ReasonDropped,
	}))
	is.logger.Infof("[INVENTORY] %s dropped %d %s from slot %d", s.ID, amount, id, slot)
	return slot, nil
}
