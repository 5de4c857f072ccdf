package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Kattete/Tidal-Miner/internal/domain/inventory"
	"github.com/Kattete/Tidal-Miner/internal/domain/item"
	"github.com/Kattete/Tidal-Miner/internal/domain/player"
	"github.com/Kattete/Tidal-Miner/internal/domain/recipe"
	"github.com/Kattete/Tidal-Miner/internal/events"
	"github.com/Kattete/Tidal-Miner/internal/platform/logger"
	"github.com/Kattete/Tidal-Miner/internal/platform/metrics"
)

func testLedger(t *testing.T) *recipe.Ledger {
	t.Helper()
	ledger, err := recipe.NewLedger(
		recipe.Recipe{
			Name: "Plate",
			Requirements: []item.Stack{
				{ID: item.Nails, Quantity: 2},
				{ID: item.Cogs, Quantity: 2},
			},
			Product:   recipe.Product{Item: item.Plate, Quantity: 1, Artifact: "PlatePickup"},
			CraftTime: 2 * time.Second,
		},
		recipe.Recipe{
			Name:         "Dive Knife",
			Requirements: []item.Stack{{ID: item.Titanium, Quantity: 1}},
			Product:      recipe.Product{Item: item.DiveKnife, Quantity: 1, Artifact: "DiveKnifeTool"},
		},
	)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return ledger
}

func newTestEngine(t *testing.T, capacity int, spawner Spawner) (*Engine, *events.EventLog) {
	t.Helper()
	el := events.NewEventLog(nil)
	e := NewEngine(Deps{
		EventLog: el,
		Logger:   logger.NewDiscard(),
		Ledger:   testLedger(t),
		Capacity: capacity,
		Spawner:  spawner,
		Metrics:  metrics.New(),
	})
	if err := e.FinishSetup(); err != nil {
		t.Fatalf("FinishSetup: %v", err)
	}
	return e, el
}

func mustSession(t *testing.T, e *Engine) *Session {
	t.Helper()
	s, err := e.StartSession("Diver")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return s
}

func mustHandle(t *testing.T, e *Engine, cmd Command) Reply {
	t.Helper()
	reply, err := e.Handle(cmd)
	if err != nil {
		t.Fatalf("Handle(%s): %v", cmd.Type, err)
	}
	return reply
}

func countType(evts []events.GameEvent, typ events.EventType) int {
	n := 0
	for _, e := range evts {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestCommandsBeforeSetupAreRejected(t *testing.T) {
	e := NewEngine(Deps{Ledger: testLedger(t), Capacity: 4, Metrics: metrics.New()})

	if _, err := e.StartSession("early"); !errors.Is(err, ErrNotReady) {
		t.Errorf("StartSession: expected ErrNotReady, got %v", err)
	}
	if _, err := e.Handle(Command{Type: CommandInventory, SessionID: "x"}); !errors.Is(err, ErrNotReady) {
		t.Errorf("Handle: expected ErrNotReady, got %v", err)
	}
	if n := e.Tick(time.Second); n != 0 {
		t.Errorf("Tick before setup delivered %d jobs", n)
	}
}

func TestFinishSetupValidatesDeps(t *testing.T) {
	if err := NewEngine(Deps{Capacity: 4}).FinishSetup(); err == nil {
		t.Errorf("expected error without a ledger")
	}
	err := NewEngine(Deps{Ledger: testLedger(t)}).FinishSetup()
	if !errors.Is(err, inventory.ErrInvalidCapacity) {
		t.Errorf("expected ErrInvalidCapacity, got %v", err)
	}
}

func TestCollectEmitsEvents(t *testing.T) {
	e, el := newTestEngine(t, 4, nil)
	s := mustSession(t, e)

	reply := mustHandle(t, e, Command{Type: CommandCollect, SessionID: s.ID, Item: item.Nails, Amount: 3})
	if !reply.OK || reply.Slot != 0 {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if got := s.Store.GetQuantity(item.Nails); got != 3 {
		t.Errorf("expected 3 nails, got %d", got)
	}

	evts := el.BySession(s.ID)
	if countType(evts, events.EventTypeSlotChanged) != 1 || countType(evts, events.EventTypeItemCollected) != 1 {
		t.Fatalf("expected one SLOT_CHANGED and one ITEM_COLLECTED, got %+v", evts)
	}
	slot := el.ByType(events.EventTypeSlotChanged)[0].Payload.(events.SlotPayload)
	if slot.Quantity != 3 || slot.CountText != "3" || slot.Name != "Nails" {
		t.Errorf("unexpected slot payload %+v", slot)
	}
	if p := s.Player(); p.ItemsCollected != 3 {
		t.Errorf("expected 3 items collected, got %d", p.ItemsCollected)
	}

	if _, err := e.Handle(Command{Type: CommandCollect, SessionID: s.ID, Item: "kraken_tooth", Amount: 1}); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("expected ErrUnknownItem, got %v", err)
	}
	if _, err := e.Handle(Command{Type: CommandCollect, SessionID: "ghost", Item: item.Nails, Amount: 1}); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}
}

func TestCollectIntoFullInventoryIsRejected(t *testing.T) {
	e, el := newTestEngine(t, 1, nil)
	s := mustSession(t, e)
	mustHandle(t, e, Command{Type: CommandCollect, SessionID: s.ID, Item: item.Kelp, Amount: 1})

	reply, err := e.Handle(Command{Type: CommandCollect, SessionID: s.ID, Item: item.Quartz, Amount: 1})
	if !errors.Is(err, inventory.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if reply.OK || reply.Error == "" {
		t.Errorf("reply should carry the failure: %+v", reply)
	}
	if s.Store.HasItem(item.Quartz) {
		t.Errorf("rejected pickup must not change the store")
	}
	if countType(el.BySession(s.ID), events.EventTypeItemCollectRejected) != 1 {
		t.Errorf("expected ITEM_COLLECT_REJECTED")
	}

	// Stacking onto the held kind still works when full.
	mustHandle(t, e, Command{Type: CommandCollect, SessionID: s.ID, Item: item.Kelp, Amount: 4})
	if got := s.Store.GetQuantity(item.Kelp); got != 5 {
		t.Errorf("expected 5 kelp, got %d", got)
	}
}

func TestDrop(t *testing.T) {
	e, el := newTestEngine(t, 4, nil)
	s := mustSession(t, e)
	mustHandle(t, e, Command{Type: CommandCollect, SessionID: s.ID, Item: item.Cogs, Amount: 2})

	if _, err := e.Handle(Command{Type: CommandDrop, SessionID: s.ID, Item: item.Cogs, Amount: 3}); !errors.Is(err, inventory.ErrInsufficientQuantity) {
		t.Fatalf("expected ErrInsufficientQuantity, got %v", err)
	}
	if got := s.Store.GetQuantity(item.Cogs); got != 2 {
		t.Errorf("failed drop changed quantity to %d", got)
	}

	mustHandle(t, e, Command{Type: CommandDrop, SessionID: s.ID, Item: item.Cogs, Amount: 2})
	if s.Store.HasItem(item.Cogs) {
		t.Errorf("cogs should be gone")
	}
	if countType(el.ByType(events.EventTypeItemRemoved), events.EventTypeItemRemoved) != 1 {
		t.Errorf("expected one ITEM_REMOVED")
	}
}

func TestCraftPlateDeliversAfterCraftTime(t *testing.T) {
	e, el := newTestEngine(t, 4, nil)
	s := mustSession(t, e)
	mustHandle(t, e, Command{Type: CommandCollect, SessionID: s.ID, Item: item.Nails, Amount: 2})
	mustHandle(t, e, Command{Type: CommandCollect, SessionID: s.ID, Item: item.Cogs, Amount: 2})

	check := mustHandle(t, e, Command{Type: CommandCanCraft, SessionID: s.ID, Recipe: "Plate"})
	if !check.Craftable {
		t.Fatalf("expected Plate to be craftable: %+v", check)
	}

	reply := mustHandle(t, e, Command{Type: CommandCraft, SessionID: s.ID, Recipe: "Plate"})
	if reply.Craft == nil || reply.Craft.Completed || reply.Item != item.Plate {
		t.Fatalf("unexpected craft reply %+v", reply)
	}
	if s.Store.GetQuantity(item.Nails) != 0 || s.Store.GetQuantity(item.Cogs) != 0 {
		t.Errorf("materials must be consumed when the craft starts")
	}
	if s.Store.HasItem(item.Plate) {
		t.Errorf("plate must not appear before the craft time elapses")
	}
	if n := len(e.PendingCrafts(s.ID)); n != 1 {
		t.Fatalf("expected 1 pending craft, got %d", n)
	}

	if n := e.Tick(time.Second); n != 0 {
		t.Errorf("craft finished early")
	}
	if n := e.Tick(time.Second); n != 1 {
		t.Fatalf("expected craft to finish, got %d", n)
	}
	if got := s.Store.GetQuantity(item.Plate); got != 1 {
		t.Errorf("expected 1 plate, got %d", got)
	}
	if len(e.PendingCrafts("")) != 0 {
		t.Errorf("job should be removed once delivered")
	}

	completed := el.ByType(events.EventTypeCraftCompleted)
	if len(completed) != 1 {
		t.Fatalf("expected CRAFT_COMPLETED, got %d", len(completed))
	}
	payload := completed[0].Payload.(events.CraftPayload)
	if payload.DepositSlot == nil || *payload.DepositSlot != 0 || payload.Artifact != "PlatePickup" {
		t.Errorf("unexpected completion payload %+v", payload)
	}
	if p := s.Player(); p.ItemsCrafted != 1 {
		t.Errorf("expected 1 item crafted, got %d", p.ItemsCrafted)
	}
}

func TestCraftWithoutMaterialsFails(t *testing.T) {
	e, el := newTestEngine(t, 4, nil)
	s := mustSession(t, e)
	mustHandle(t, e, Command{Type: CommandCollect, SessionID: s.ID, Item: item.Nails, Amount: 2})
	mustHandle(t, e, Command{Type: CommandCollect, SessionID: s.ID, Item: item.Cogs, Amount: 1})

	reply, err := e.Handle(Command{Type: CommandCraft, SessionID: s.ID, Recipe: "Plate"})
	if !errors.Is(err, recipe.ErrInsufficientResources) {
		t.Fatalf("expected ErrInsufficientResources, got %v", err)
	}
	if len(reply.Missing) != 1 || reply.Missing[0] != (item.Stack{ID: item.Cogs, Quantity: 1}) {
		t.Errorf("unexpected missing list %+v", reply.Missing)
	}
	if s.Store.GetQuantity(item.Nails) != 2 || s.Store.GetQuantity(item.Cogs) != 1 {
		t.Errorf("failed craft changed the inventory: %+v", s.Store.Slots())
	}

	failed := el.ByType(events.EventTypeCraftFailed)
	if len(failed) != 1 {
		t.Fatalf("expected one CRAFT_FAILED, got %d", len(failed))
	}
	if payload := failed[0].Payload.(events.CraftPayload); len(payload.Missing) != 1 {
		t.Errorf("CRAFT_FAILED should list missing materials: %+v", payload)
	}

	if _, err := e.Handle(Command{Type: CommandCraft, SessionID: s.ID, Recipe: "Anchor"}); !errors.Is(err, recipe.ErrRecipeNotFound) {
		t.Errorf("expected ErrRecipeNotFound, got %v", err)
	}
}

func TestInstantCraftAndLostOutput(t *testing.T) {
	full := SpawnerFunc(func(*Session, recipe.Product) (int, error) {
		return -1, inventory.ErrCapacityExceeded
	})
	e, el := newTestEngine(t, 4, full)
	s := mustSession(t, e)
	mustHandle(t, e, Command{Type: CommandCollect, SessionID: s.ID, Item: item.Titanium, Amount: 1})

	reply := mustHandle(t, e, Command{Type: CommandCraft, SessionID: s.ID, Recipe: "Dive Knife"})
	if !reply.Craft.Completed {
		t.Fatalf("recipe without craft time should finish immediately")
	}
	if s.Store.HasItem(item.Titanium) {
		t.Errorf("titanium should be consumed")
	}
	dropped := el.ByType(events.EventTypeCraftOutputDropped)
	if len(dropped) != 1 {
		t.Fatalf("expected CRAFT_OUTPUT_DROPPED, got %d", len(dropped))
	}
	if reason := dropped[0].Payload.(events.CraftPayload).Reason; reason != ReasonInventoryFull {
		t.Errorf("unexpected reason %q", reason)
	}
}

func TestEquipRacingDropNeverHoldsEmptySlot(t *testing.T) {
	e, _ := newTestEngine(t, 2, nil)
	for i := 0; i < 200; i++ {
		s := mustSession(t, e)
		mustHandle(t, e, Command{Type: CommandCollect, SessionID: s.ID, Item: item.DiveKnife, Amount: 1})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			e.Handle(Command{Type: CommandEquip, SessionID: s.ID, Slot: 0})
		}()
		go func() {
			defer wg.Done()
			e.Handle(Command{Type: CommandDrop, SessionID: s.ID, Item: item.DiveKnife, Amount: 1})
		}()
		wg.Wait()

		if slot := s.Equipped(); slot != player.NoSlot {
			if held, _ := s.Store.Slot(slot); !held.Occupied() {
				t.Fatalf("round %d: hand points at empty slot %d", i, slot)
			}
		}
	}
}

func TestEquipAndAutoUnequip(t *testing.T) {
	e, el := newTestEngine(t, 4, nil)
	s := mustSession(t, e)
	mustHandle(t, e, Command{Type: CommandCollect, SessionID: s.ID, Item: item.Nails, Amount: 1})
	mustHandle(t, e, Command{Type: CommandCollect, SessionID: s.ID, Item: item.DiveKnife, Amount: 1})

	cases := []struct {
		slot int
		want error
	}{
		{0, ErrNotEquippable},
		{3, ErrSlotEmpty},
		{9, ErrInvalidSlot},
	}
	for _, tc := range cases {
		if _, err := e.Handle(Command{Type: CommandEquip, SessionID: s.ID, Slot: tc.slot}); !errors.Is(err, tc.want) {
			t.Errorf("equip slot %d: expected %v, got %v", tc.slot, tc.want, err)
		}
	}

	reply := mustHandle(t, e, Command{Type: CommandEquip, SessionID: s.ID, Slot: 1})
	if reply.Item != item.DiveKnife || s.Equipped() != 1 {
		t.Fatalf("expected dive knife in hand, reply %+v", reply)
	}
	equipped := el.ByType(events.EventTypeItemEquipped)
	if len(equipped) != 1 || equipped[0].Payload.(events.EquipPayload).Artifact != "DiveKnifeTool" {
		t.Errorf("unexpected equip events %+v", equipped)
	}

	mustHandle(t, e, Command{Type: CommandDrop, SessionID: s.ID, Item: item.DiveKnife, Amount: 1})
	if s.Equipped() != player.NoSlot {
		t.Errorf("hand should clear when its slot empties")
	}
	if n := len(el.ByType(events.EventTypeItemUnequipped)); n != 1 {
		t.Errorf("expected one ITEM_UNEQUIPPED, got %d", n)
	}

	if _, err := e.Handle(Command{Type: CommandUnequip, SessionID: s.ID}); !errors.Is(err, ErrNothingEquipped) {
		t.Errorf("expected ErrNothingEquipped, got %v", err)
	}
}

func TestRestoreSession(t *testing.T) {
	e, el := newTestEngine(t, 4, nil)
	saved := player.Player{ID: "restored-1", Name: "Mara", EquippedSlot: 2}
	records := []inventory.Record{
		{Index: 0, Item: item.Kelp, Quantity: 1250},
		{Index: 2, Item: item.Flashlight, Quantity: 1},
	}

	s, err := e.RestoreSession(saved, 4, records)
	if err != nil {
		t.Fatalf("RestoreSession: %v", err)
	}
	if n := countType(el.BySession(s.ID), events.EventTypeSlotChanged); n != 0 {
		t.Errorf("restore should not emit SLOT_CHANGED, got %d", n)
	}

	view, err := e.Inventory(s.ID)
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if view.Used != 2 || view.Equipped != 2 || view.Player != "Mara" {
		t.Errorf("unexpected view %+v", view)
	}
	if view.Slots[0].CountText != "1,250" || view.Slots[2].CountText != "" {
		t.Errorf("unexpected count text %q / %q", view.Slots[0].CountText, view.Slots[2].CountText)
	}

	if _, err := e.RestoreSession(saved, 4, records); !errors.Is(err, ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}
	bad := player.Player{ID: "restored-2"}
	if _, err := e.RestoreSession(bad, 1, records); !errors.Is(err, inventory.ErrInvalidSnapshot) {
		t.Errorf("expected ErrInvalidSnapshot, got %v", err)
	}

	stale := player.Player{ID: "restored-3", EquippedSlot: 1}
	s3, err := e.RestoreSession(stale, 4, records)
	if err != nil {
		t.Fatalf("RestoreSession: %v", err)
	}
	if s3.Equipped() != player.NoSlot {
		t.Errorf("equipped slot pointing at an empty slot should be dropped")
	}
}

func TestConcurrentCommands(t *testing.T) {
	e, _ := newTestEngine(t, 4, nil)
	s := mustSession(t, e)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				e.Handle(Command{Type: CommandCollect, SessionID: s.ID, Item: item.ScrapMetal, Amount: 1})
				e.Handle(Command{Type: CommandInventory, SessionID: s.ID})
			}
		}()
	}
	wg.Wait()

	if got := s.Store.GetQuantity(item.ScrapMetal); got != 1000 {
		t.Errorf("expected 1000 scrap metal, got %d", got)
	}
	if s.Store.Used() != 1 {
		t.Errorf("one item kind must occupy one slot, got %d", s.Store.Used())
	}
}

func TestUnknownCommand(t *testing.T) {
	e, _ := newTestEngine(t, 4, nil)
	s := mustSession(t, e)
	if _, err := e.Handle(Command{Type: "JUGGLE", SessionID: s.ID}); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}
