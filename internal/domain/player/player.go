// Package player defines the diver that owns an inventory.
// This package is PURE and must NOT import any infrastructure packages (network, events, platform).
package player

import "time"

// NoSlot marks an empty hand.
const NoSlot = -1

// Player represents one connected diver.
type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`

	// EquippedSlot is the inventory slot held in hand, or NoSlot.
	EquippedSlot int `json:"equipped_slot"`

	// Progress
	ItemsCollected int `json:"items_collected"`
	ItemsCrafted   int `json:"items_crafted"`
}

// NewPlayer creates a player with an empty hand.
func NewPlayer(id, name string) *Player {
	return &Player{
		ID:           id,
		Name:         name,
		CreatedAt:    time.Now(),
		EquippedSlot: NoSlot,
	}
}

// HasEquipped reports whether something is in hand.
func (p *Player) HasEquipped() bool {
	return p.EquippedSlot != NoSlot
}

// Equip puts slot in hand.
func (p *Player) Equip(slot int) {
	p.EquippedSlot = slot
}

// Unequip empties the hand and returns the slot that was held.
func (p *Player) Unequip() int {
	prev := p.EquippedSlot
	p.EquippedSlot = NoSlot
	return prev
}
