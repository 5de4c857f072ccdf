package engine

import (
	"github.com/dustin/go-humanize"

	"github.com/Kattete/Tidal-Miner/internal/domain/inventory"
	"github.com/Kattete/Tidal-Miner/internal/domain/item"
	"github.com/Kattete/Tidal-Miner/internal/events"
)

// SlotView is one inventory slot as the client draws it.
type SlotView struct {
	Slot      int     `json:"slot"`
	Item      item.ID `json:"item"`
	Quantity  int     `json:"quantity"`
	Name      string  `json:"name,omitempty"`
	Icon      string  `json:"icon,omitempty"`
	CountText string  `json:"count_text,omitempty"`
}

// InventoryView is the full inventory panel of one session.
type InventoryView struct {
	SessionID string     `json:"session_id"`
	Player    string     `json:"player"`
	Capacity  int        `json:"capacity"`
	Used      int        `json:"used"`
	Equipped  int        `json:"equipped"`
	Slots     []SlotView `json:"slots"`
}

// CountText is the stack label under an icon. Single items show none.
func CountText(quantity int) string {
	if quantity <= 1 {
		return ""
	}
	return humanize.Comma(int64(quantity))
}

func slotView(index int, slot inventory.Slot) SlotView {
	v := SlotView{
		Slot:     index,
		Item:     slot.Item,
		Quantity: slot.Quantity,
	}
	if !slot.Occupied() {
		return v
	}
	v.CountText = CountText(slot.Quantity)
	v.Name = item.DisplayName(slot.Item)
	if def, ok := item.Lookup(slot.Item); ok {
		v.Icon = def.Icon
	}
	return v
}

func slotPayload(u inventory.Update) events.SlotPayload {
	v := slotView(u.Index, inventory.Slot{Item: u.Item, Quantity: u.Quantity})
	return events.SlotPayload{
		Slot:      v.Slot,
		Item:      string(v.Item),
		Quantity:  v.Quantity,
		Name:      v.Name,
		Icon:      v.Icon,
		CountText: v.CountText,
	}
}

func viewOf(s *Session) InventoryView {
	p := s.Player()
	slots := s.Store.Slots()
	view := InventoryView{
		SessionID: s.ID,
		Player:    p.Name,
		Capacity:  len(slots),
		Equipped:  p.EquippedSlot,
		Slots:     make([]SlotView, len(slots)),
	}
	for i, slot := range slots {
		view.Slots[i] = slotView(i, slot)
		if slot.Occupied() {
			view.Used++
		}
	}
	return view
}

func stackPayloads(stacks []item.Stack) []events.StackPayload {
	if len(stacks) == 0 {
		return nil
	}
	out := make([]events.StackPayload, len(stacks))
	for i, st := range stacks {
		out[i] = events.StackPayload{Item: string(st.ID), Quantity: st.Quantity}
	}
	return out
}
