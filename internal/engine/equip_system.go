package engine

import (
	"fmt"

	"github.com/Kattete/Tidal-Miner/internal/domain/inventory"
	"github.com/Kattete/Tidal-Miner/internal/domain/item"
	"github.com/Kattete/Tidal-Miner/internal/domain/player"
	"github.com/Kattete/Tidal-Miner/internal/domain/recipe"
	"github.com/Kattete/Tidal-Miner/internal/events"
	"github.com/Kattete/Tidal-Miner/internal/platform/logger"
)

// EquipSystem tracks which inventory slot each player holds in hand.
type EquipSystem struct {
	eventLog  *events.EventLog
	logger    *logger.Logger
	artifacts map[item.ID]string
}

// NewEquipSystem builds the item-to-prefab table from the recipes that
// produce each item.
func NewEquipSystem(el *events.EventLog, log *logger.Logger, ledger *recipe.Ledger) *EquipSystem {
	es := &EquipSystem{
		eventLog:  el,
		logger:    log,
		artifacts: make(map[item.ID]string),
	}
	for _, name := range ledger.Names() {
		r, _ := ledger.GetRecipe(name)
		if r.Product.Artifact != "" {
			es.artifacts[r.Product.Item] = r.Product.Artifact
		}
	}
	return es
}

// Attach clears the hand of s whenever its equipped slot empties.
func (es *EquipSystem) Attach(s *Session) {
	s.Store.Observe(inventory.ObserverFunc(func(u inventory.Update) {
		if u.Quantity > 0 {
			return
		}
		cleared := false
		s.withPlayer(func(p *player.Player) {
			if p.EquippedSlot == u.Index {
				p.Unequip()
				cleared = true
			}
		})
		if cleared {
			es.eventLog.Append(events.New(events.EventTypeItemUnequipped, s.ID, s.ID, "", events.EquipPayload{Slot: u.Index}))
			es.logger.Infof("[EQUIP] %s hand cleared: slot %d emptied", s.ID, u.Index)
		}
	}))
}

// Equip puts the item in slot into the player's hand.
func (es *EquipSystem) Equip(s *Session, slot int) (item.ID, error) {
	held, ok := s.Store.Slot(slot)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	if !held.Occupied() {
		return "", fmt.Errorf("%w: %d", ErrSlotEmpty, slot)
	}
	if def, known := item.Lookup(held.Item); !known || !def.Equippable {
		return "", fmt.Errorf("%w: %s", ErrNotEquippable, held.Item)
	}

	// The slot is read again under the player lock. A Drop that empties it
	// after this point runs the observer, which clears the hand.
	var err error
	s.withPlayer(func(p *player.Player) {
		if now, _ := s.Store.Slot(slot); now.Item != held.Item || !now.Occupied() {
			err = fmt.Errorf("%w: %d", ErrSlotEmpty, slot)
			return
		}
		p.Equip(slot)
	})
	if err != nil {
		return "", err
	}
	es.eventLog.Append(events.New(events.EventTypeItemEquipped, s.ID, s.ID, string(held.Item), events.EquipPayload{
		Slot:     slot,
		Item:     string(held.Item),
		Artifact: es.artifacts[held.Item],
	}))
	es.logger.Infof("[EQUIP] %s holds %s from slot %d", s.ID, held.Item, slot)
	return held.Item, nil
}

// Unequip empties the player's hand.
func (es *EquipSystem) Unequip(s *Session) (int, error) {
	prev := player.NoSlot
	s.withPlayer(func(p *player.Player) { prev = p.Unequip() })
	if prev == player.NoSlot {
		return prev, ErrNothingEquipped
	}
	held, _ := s.Store.Slot(prev)
	es.eventLog.Append(events.New(events.EventTypeItemUnequipped, s.ID, s.ID, string(held.Item), events.EquipPayload{
		Slot: prev,
		Item: string(held.Item),
	}))
	es.logger.Infof("[EQUIP] %s put away slot %d", s.ID, prev)
	return prev, nil
}
