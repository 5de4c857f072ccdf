package inventory

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/Kattete/Tidal-Miner/internal/domain/item"
)

func newStore(t *testing.T, capacity int) *Store {
	t.Helper()
	s, err := NewStore(capacity)
	if err != nil {
		t.Fatalf("NewStore(%d): %v", capacity, err)
	}
	return s
}

func TestNewStoreRejectsZeroCapacity(t *testing.T) {
	for _, capacity := range []int{0, -3} {
		if _, err := NewStore(capacity); !errors.Is(err, ErrInvalidCapacity) {
			t.Errorf("NewStore(%d): expected ErrInvalidCapacity, got %v", capacity, err)
		}
	}
}

func TestAddStacksIntoExistingSlot(t *testing.T) {
	s := newStore(t, 3)

	if !s.Add(item.Nails, 2) {
		t.Fatalf("first Add failed")
	}
	if !s.Add(item.Cogs, 1) {
		t.Fatalf("second Add failed")
	}
	if !s.Add(item.Nails, 5) {
		t.Fatalf("stacking Add failed")
	}

	if got := s.GetQuantity(item.Nails); got != 7 {
		t.Errorf("expected 7 nails, got %d", got)
	}
	if got := s.IndexOf(item.Nails); got != 0 {
		t.Errorf("expected nails to stay in slot 0, got %d", got)
	}
	if got := s.Used(); got != 2 {
		t.Errorf("expected 2 occupied slots, got %d", got)
	}
}

func TestAddUsesLowestEmptySlot(t *testing.T) {
	s := newStore(t, 3)
	s.Add(item.Nails, 1)
	s.Add(item.Cogs, 1)
	s.Add(item.Wiring, 1)

	if !s.Remove(item.Nails, 1) {
		t.Fatalf("Remove failed")
	}
	slot, _ := s.Slot(0)
	if slot.Occupied() || slot.Item != "" {
		t.Fatalf("expected slot 0 cleared, got %+v", slot)
	}

	idx, err := s.Put(item.Battery, 4)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if idx != 0 {
		t.Errorf("expected battery in reused slot 0, got %d", idx)
	}
	if got := s.IndexOf(item.Cogs); got != 1 {
		t.Errorf("expected cogs to keep slot 1, got %d", got)
	}
}

func TestAddFailsWhenFull(t *testing.T) {
	const capacity = 4
	s := newStore(t, capacity)
	for i := 0; i < capacity; i++ {
		if !s.Add(item.ID(fmt.Sprintf("ore_%d", i)), 1) {
			t.Fatalf("Add %d failed", i)
		}
	}
	before := s.Slots()

	if s.Add(item.Titanium, 1) {
		t.Fatalf("expected Add to fail on a full store")
	}
	if _, err := s.Put(item.Titanium, 1); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got %v", err)
	}
	if !reflect.DeepEqual(before, s.Slots()) {
		t.Errorf("store changed after failed Add: %+v -> %+v", before, s.Slots())
	}

	// Stacking still works when full.
	if !s.Add(item.ID("ore_2"), 10) {
		t.Errorf("expected stacking into a full store to succeed")
	}
}

func TestAddRejectsInvalidInput(t *testing.T) {
	s := newStore(t, 2)
	cases := []struct {
		id     item.ID
		amount int
	}{
		{item.Nails, 0},
		{item.Nails, -1},
		{"", 3},
	}
	for _, tc := range cases {
		if _, err := s.Put(tc.id, tc.amount); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Put(%q, %d): expected ErrInvalidAmount, got %v", tc.id, tc.amount, err)
		}
	}
	if s.Used() != 0 {
		t.Errorf("expected no occupied slots")
	}
}

func TestRemoveIsAllOrNothing(t *testing.T) {
	s := newStore(t, 2)
	s.Add(item.Nails, 3)
	before := s.Slots()

	if s.Remove(item.Nails, 4) {
		t.Fatalf("expected Remove of more than held to fail")
	}
	if _, err := s.Take(item.Nails, 4); !errors.Is(err, ErrInsufficientQuantity) {
		t.Errorf("expected ErrInsufficientQuantity, got %v", err)
	}
	if _, err := s.Take(item.Cogs, 1); !errors.Is(err, ErrInsufficientQuantity) {
		t.Errorf("expected ErrInsufficientQuantity for absent item, got %v", err)
	}
	if _, err := s.Take(item.Nails, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if !reflect.DeepEqual(before, s.Slots()) {
		t.Errorf("store changed after failed Remove")
	}

	if !s.Remove(item.Nails, 3) {
		t.Fatalf("expected exact Remove to succeed")
	}
	if s.HasItem(item.Nails) || s.GetQuantity(item.Nails) != 0 {
		t.Errorf("expected nails gone")
	}
}

func TestRemoveThenAddRoundTrip(t *testing.T) {
	s := newStore(t, 2)
	s.Add(item.Cogs, 9)

	if !s.Remove(item.Cogs, 4) || !s.Add(item.Cogs, 4) {
		t.Fatalf("round trip failed")
	}
	if got := s.GetQuantity(item.Cogs); got != 9 {
		t.Errorf("expected 9 cogs after round trip, got %d", got)
	}
}

func TestUnknownItemQueries(t *testing.T) {
	s := newStore(t, 2)
	if s.HasItem(item.Scanner) {
		t.Errorf("HasItem on empty store returned true")
	}
	if q := s.GetQuantity(item.Scanner); q != 0 {
		t.Errorf("GetQuantity on empty store returned %d", q)
	}
	if idx := s.IndexOf(item.Scanner); idx != -1 {
		t.Errorf("IndexOf on empty store returned %d", idx)
	}
	if _, ok := s.Slot(5); ok {
		t.Errorf("Slot(5) on capacity 2 reported ok")
	}
}

func TestTakeAllIsAtomic(t *testing.T) {
	s := newStore(t, 4)
	s.Add(item.Nails, 2)
	s.Add(item.Cogs, 1)
	before := s.Slots()

	err := s.TakeAll([]item.Stack{{ID: item.Nails, Quantity: 2}, {ID: item.Cogs, Quantity: 2}})
	if !errors.Is(err, ErrInsufficientQuantity) {
		t.Fatalf("expected ErrInsufficientQuantity, got %v", err)
	}
	if !reflect.DeepEqual(before, s.Slots()) {
		t.Fatalf("TakeAll mutated the store on failure")
	}

	s.Add(item.Cogs, 1)
	if err := s.TakeAll([]item.Stack{{ID: item.Nails, Quantity: 2}, {ID: item.Cogs, Quantity: 2}}); err != nil {
		t.Fatalf("TakeAll: %v", err)
	}
	if s.Used() != 0 {
		t.Errorf("expected empty store, got %+v", s.Slots())
	}
}

func TestAddRejectsStackOverflow(t *testing.T) {
	s := newStore(t, 2)
	if !s.Add(item.Nails, math.MaxInt) {
		t.Fatalf("Add of MaxInt into an empty slot failed")
	}
	before := s.Slots()

	if _, err := s.Put(item.Nails, 2); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if !reflect.DeepEqual(before, s.Slots()) {
		t.Fatalf("overflowing Put mutated the store: %+v", s.Slots())
	}
	if got := s.GetQuantity(item.Nails); got != math.MaxInt {
		t.Errorf("expected MaxInt nails, got %d", got)
	}
	if !s.HasItem(item.Nails) {
		t.Errorf("expected nails to still be held")
	}

	err := s.TakeAll([]item.Stack{{ID: item.Nails, Quantity: math.MaxInt}, {ID: item.Nails, Quantity: 1}})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for an overflowing TakeAll, got %v", err)
	}
}

func TestEmptiedSlotIsReusedCleanly(t *testing.T) {
	s := newStore(t, 1)
	s.Add(item.Nails, 3)
	s.Remove(item.Nails, 3)

	if !s.Add(item.Cogs, 2) {
		t.Fatalf("Add into emptied slot failed")
	}
	slot, _ := s.Slot(0)
	if slot != (Slot{Item: item.Cogs, Quantity: 2}) {
		t.Errorf("expected {cogs 2}, got %+v", slot)
	}
}

func TestObserverSeesEveryMutation(t *testing.T) {
	s := newStore(t, 2)
	var got []Update
	s.Observe(ObserverFunc(func(u Update) {
		got = append(got, u)
		// Observers run outside the lock.
		_ = s.GetQuantity(u.Item)
	}))

	s.Add(item.Nails, 2)
	s.Add(item.Nails, 1)
	s.Remove(item.Nails, 3)
	s.Remove(item.Nails, 1) // fails, no update

	want := []Update{
		{Index: 0, Item: item.Nails, Quantity: 2},
		{Index: 0, Item: item.Nails, Quantity: 3},
		{Index: 0, Item: "", Quantity: 0},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("updates mismatch:\n got  %+v\n want %+v", got, want)
	}
}

// TestRandomSequenceInvariants drives random Add/Remove calls and checks the
// per-item totals and the one-slot-per-item rule after every step.
func TestRandomSequenceInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := []item.ID{item.Nails, item.Cogs, item.Wiring, item.Quartz, item.Kelp, item.Glass}
	s := newStore(t, 4)
	net := make(map[item.ID]int)

	for step := 0; step < 2000; step++ {
		id := ids[rng.Intn(len(ids))]
		amount := rng.Intn(5) + 1
		if rng.Intn(2) == 0 {
			if s.Add(id, amount) {
				net[id] += amount
			}
		} else {
			if s.Remove(id, amount) {
				net[id] -= amount
			}
		}

		seen := make(map[item.ID]int)
		for i, slot := range s.Slots() {
			if slot.Quantity < 0 || (slot.Quantity == 0 && slot.Item != "") {
				t.Fatalf("step %d: slot %d violates emptiness rule: %+v", step, i, slot)
			}
			if slot.Occupied() {
				seen[slot.Item]++
				if seen[slot.Item] > 1 {
					t.Fatalf("step %d: %q occupies more than one slot", step, slot.Item)
				}
			}
		}
		for _, id := range ids {
			if got := s.GetQuantity(id); got != net[id] {
				t.Fatalf("step %d: %q quantity %d, net adds %d", step, id, got, net[id])
			}
		}
	}
}
