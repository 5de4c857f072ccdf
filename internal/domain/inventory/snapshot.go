package inventory

import (
	"fmt"

	"github.com/Kattete/Tidal-Miner/internal/domain/item"
)

// Record is the saved form of one occupied slot.
type Record struct {
	Index    int     `json:"slot"`
	Item     item.ID `json:"item"`
	Quantity int     `json:"quantity"`
}

// Snapshot returns the occupied slots in index order.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]Record, 0, len(s.slots))
	for i, slot := range s.slots {
		if !slot.Occupied() {
			continue
		}
		records = append(records, Record{Index: i, Item: slot.Item, Quantity: slot.Quantity})
	}
	return records
}

// Restore replaces the store contents with records. The records are checked
// first; an invalid set leaves the store untouched.
func (s *Store) Restore(records []Record) error {
	next := make([]Slot, len(s.slots))
	seen := make(map[item.ID]int, len(records))
	for _, r := range records {
		if r.Index < 0 || r.Index >= len(next) {
			return fmt.Errorf("%w: slot %d outside capacity %d", ErrInvalidSnapshot, r.Index, len(next))
		}
		if r.Item.Empty() || r.Quantity < 1 {
			return fmt.Errorf("%w: slot %d holds %d of %q", ErrInvalidSnapshot, r.Index, r.Quantity, r.Item)
		}
		if next[r.Index].Occupied() {
			return fmt.Errorf("%w: slot %d listed twice", ErrInvalidSnapshot, r.Index)
		}
		if prev, dup := seen[r.Item]; dup {
			return fmt.Errorf("%w: %q in slots %d and %d", ErrInvalidSnapshot, r.Item, prev, r.Index)
		}
		seen[r.Item] = r.Index
		next[r.Index] = Slot{Item: r.Item, Quantity: r.Quantity}
	}

	s.mu.Lock()
	var updates []Update
	for i := range s.slots {
		if s.slots[i] == next[i] {
			continue
		}
		s.slots[i] = next[i]
		updates = append(updates, s.update(i))
	}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, updates...)
	return nil
}
