// Package inventory implements the slotted item store carried by a player.
// This package is PURE and must NOT import any infrastructure packages.
//
// A Store has a fixed number of slots. Each slot holds one item kind and a
// stack count. Adding an item already held merges into its slot; a new kind
// takes the lowest empty slot. Removal is all-or-nothing.
package inventory

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Kattete/Tidal-Miner/internal/domain/item"
)

var (
	// ErrCapacityExceeded is returned when no slot holds the item and no slot is empty.
	ErrCapacityExceeded = errors.New("inventory: capacity exceeded")
	// ErrInsufficientQuantity is returned when the item is absent or held in a smaller amount.
	ErrInsufficientQuantity = errors.New("inventory: insufficient quantity")
	// ErrInvalidAmount is returned for non-positive amounts or an empty item ID.
	ErrInvalidAmount   = errors.New("inventory: invalid amount")
	ErrInvalidCapacity = errors.New("inventory: capacity must be at least 1")
	ErrInvalidSnapshot = errors.New("inventory: invalid snapshot")
)

// Slot is a single storage location. An empty slot has no item and a zero quantity.
type Slot struct {
	Item     item.ID `json:"item"`
	Quantity int     `json:"quantity"`
}

// Occupied reports whether the slot holds anything.
func (s Slot) Occupied() bool {
	return s.Quantity > 0
}

// Update describes the new state of one slot after a mutation.
// Item is empty when the slot was cleared.
type Update struct {
	Index    int     `json:"slot"`
	Item     item.ID `json:"item"`
	Quantity int     `json:"quantity"`
}

// Observer receives slot updates. It is called after the store lock is
// released, so it may read the store again.
type Observer interface {
	SlotChanged(u Update)
}

// ObserverFunc adapts a plain function to an Observer.
type ObserverFunc func(u Update)

// SlotChanged calls f(u).
func (f ObserverFunc) SlotChanged(u Update) {
	f(u)
}

// Store is a fixed-capacity slotted inventory. It is safe for concurrent use;
// every operation runs to completion under a single lock.
type Store struct {
	mu        sync.Mutex
	slots     []Slot
	observers []Observer
}

// NewStore creates a store with all slots empty.
func NewStore(capacity int) (*Store, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &Store{
		slots: make([]Slot, capacity),
	}, nil
}

// Observe registers an observer for slot updates.
func (s *Store) Observe(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Capacity returns the number of slots.
func (s *Store) Capacity() int {
	return len(s.slots)
}

// Add puts amount units of id into the store and reports success.
func (s *Store) Add(id item.ID, amount int) bool {
	_, err := s.Put(id, amount)
	return err == nil
}

// Put is Add with the failure reason. It returns the index of the slot that
// received the items.
func (s *Store) Put(id item.ID, amount int) (int, error) {
	if id.Empty() || amount < 1 {
		return -1, fmt.Errorf("%w: put %d of %q", ErrInvalidAmount, amount, id)
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		idx = s.firstEmpty()
		if idx < 0 {
			s.mu.Unlock()
			return -1, fmt.Errorf("%w: no slot for %q", ErrCapacityExceeded, id)
		}
		s.slots[idx] = Slot{Item: id, Quantity: amount}
	} else {
		if amount > math.MaxInt-s.slots[idx].Quantity {
			held := s.slots[idx].Quantity
			s.mu.Unlock()
			return -1, fmt.Errorf("%w: %d more %q would overflow a stack of %d", ErrInvalidAmount, amount, id, held)
		}
		s.slots[idx].Quantity += amount
	}
	u := s.update(idx)
	observers := s.observers
	s.mu.Unlock()

	notify(observers, u)
	return idx, nil
}

// Remove takes amount units of id out of the store and reports success.
// Nothing changes on failure.
func (s *Store) Remove(id item.ID, amount int) bool {
	_, err := s.Take(id, amount)
	return err == nil
}

// Take is Remove with the failure reason. It returns the index of the slot
// the items were taken from.
func (s *Store) Take(id item.ID, amount int) (int, error) {
	if id.Empty() || amount < 1 {
		return -1, fmt.Errorf("%w: take %d of %q", ErrInvalidAmount, amount, id)
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 || s.slots[idx].Quantity < amount {
		held := 0
		if idx >= 0 {
			held = s.slots[idx].Quantity
		}
		s.mu.Unlock()
		return -1, fmt.Errorf("%w: want %d of %q, have %d", ErrInsufficientQuantity, amount, id, held)
	}
	s.decrement(idx, amount)
	u := s.update(idx)
	observers := s.observers
	s.mu.Unlock()

	notify(observers, u)
	return idx, nil
}

// TakeAll removes every stack or none of them. The availability check and
// the removals happen under one lock, so no other caller can drain a
// resource in between.
func (s *Store) TakeAll(stacks []item.Stack) error {
	need := make(map[item.ID]int, len(stacks))
	for _, st := range stacks {
		if st.ID.Empty() || st.Quantity < 1 {
			return fmt.Errorf("%w: take %d of %q", ErrInvalidAmount, st.Quantity, st.ID)
		}
		if st.Quantity > math.MaxInt-need[st.ID] {
			return fmt.Errorf("%w: total of %q overflows", ErrInvalidAmount, st.ID)
		}
		need[st.ID] += st.Quantity
	}

	s.mu.Lock()
	for id, amount := range need {
		if held := s.quantity(id); held < amount {
			s.mu.Unlock()
			return fmt.Errorf("%w: want %d of %q, have %d", ErrInsufficientQuantity, amount, id, held)
		}
	}
	updates := make([]Update, 0, len(stacks))
	for _, st := range stacks {
		idx := s.indexOf(st.ID)
		s.decrement(idx, st.Quantity)
		updates = append(updates, s.update(idx))
	}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, updates...)
	return nil
}

// HasItem reports whether some slot holds id.
func (s *Store) HasItem(id item.ID) bool {
	return s.GetQuantity(id) > 0
}

// GetQuantity returns how many units of id are held, or 0.
func (s *Store) GetQuantity(id item.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quantity(id)
}

// IndexOf returns the slot holding id, or -1.
func (s *Store) IndexOf(id item.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexOf(id)
}

// Slot returns a copy of slot i.
func (s *Store) Slot(i int) (Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.slots) {
		return Slot{}, false
	}
	return s.slots[i], true
}

// Slots returns a copy of every slot in index order.
func (s *Store) Slots() []Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Slot, len(s.slots))
	copy(out, s.slots)
	return out
}

// Used returns the number of occupied slots.
func (s *Store) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, slot := range s.slots {
		if slot.Occupied() {
			n++
		}
	}
	return n
}

func (s *Store) indexOf(id item.ID) int {
	for i := range s.slots {
		if s.slots[i].Occupied() && s.slots[i].Item == id {
			return i
		}
	}
	return -1
}

func (s *Store) firstEmpty() int {
	for i := range s.slots {
		if !s.slots[i].Occupied() {
			return i
		}
	}
	return -1
}

func (s *Store) quantity(id item.ID) int {
	if idx := s.indexOf(id); idx >= 0 {
		return s.slots[idx].Quantity
	}
	return 0
}

func (s *Store) decrement(idx, amount int) {
	s.slots[idx].Quantity -= amount
	if s.slots[idx].Quantity == 0 {
		s.slots[idx].Item = ""
	}
}

func (s *Store) update(idx int) Update {
	return Update{Index: idx, Item: s.slots[idx].Item, Quantity: s.slots[idx].Quantity}
}

func notify(observers []Observer, updates ...Update) {
	for _, o := range observers {
		for _, u := range updates {
			o.SlotChanged(u)
		}
	}
}
