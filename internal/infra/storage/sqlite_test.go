package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Kattete/Tidal-Miner/internal/domain/inventory"
	"github.com/Kattete/Tidal-Miner/internal/domain/item"
	"github.com/Kattete/Tidal-Miner/internal/events"
	"github.com/Kattete/Tidal-Miner/internal/platform/metrics"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitSQLite(filepath.Join(t.TempDir(), "data", "tidal.db"))
	if err != nil {
		t.Fatalf("InitSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInventoryRepositoryRoundTrip(t *testing.T) {
	repo := NewSQLiteInventoryRepository(openTestDB(t))
	ctx := context.Background()

	snap := InventorySnapshot{
		SessionID:      "s1",
		PlayerName:     "Mara",
		Capacity:       4,
		EquippedSlot:   2,
		ItemsCollected: 9,
		Slots: []inventory.Record{
			{Index: 0, Item: item.Nails, Quantity: 2},
			{Index: 2, Item: item.DiveKnife, Quantity: 1},
		},
	}
	if err := repo.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.PlayerName != "Mara" || got.EquippedSlot != 2 || got.ItemsCollected != 9 || len(got.Slots) != 2 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if got.Slots[1] != snap.Slots[1] {
		t.Errorf("slot mismatch: %+v", got.Slots)
	}
	if got.LastUpdated.IsZero() {
		t.Errorf("LastUpdated should be stamped")
	}

	// Saving again replaces the slots instead of merging them.
	snap.Slots = []inventory.Record{{Index: 1, Item: item.Cogs, Quantity: 5}}
	if err := repo.Save(ctx, snap); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	got, _ = repo.Load(ctx, "s1")
	if len(got.Slots) != 1 || got.Slots[0].Item != item.Cogs {
		t.Errorf("expected slots to be replaced, got %+v", got.Slots)
	}

	if _, err := repo.Load(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInventoryRepositoryKeepsPendingCrafts(t *testing.T) {
	repo := NewSQLiteInventoryRepository(openTestDB(t))
	ctx := context.Background()

	job := PendingCraft{
		JobID:     "job-1",
		Recipe:    "Plate",
		Item:      item.Plate,
		Quantity:  1,
		Artifact:  "PlatePickup",
		Duration:  2 * time.Second,
		Remaining: 1500 * time.Millisecond,
	}
	snap := InventorySnapshot{SessionID: "s1", PlayerName: "Mara", Capacity: 4, EquippedSlot: -1, PendingCrafts: []PendingCraft{job}}
	if err := repo.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := repo.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.PendingCrafts) != 1 || got.PendingCrafts[0] != job {
		t.Fatalf("expected %+v, got %+v", job, got.PendingCrafts)
	}

	snap.PendingCrafts = nil
	if err := repo.Save(ctx, snap); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	list, err := repo.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List: %d snapshots (%v)", len(list), err)
	}
	if len(list[0].PendingCrafts) != 0 {
		t.Errorf("expected crafts to be cleared, got %+v", list[0].PendingCrafts)
	}
}

func TestInventoryRepositoryRejectsDuplicateItems(t *testing.T) {
	repo := NewSQLiteInventoryRepository(openTestDB(t))
	ctx := context.Background()

	good := InventorySnapshot{SessionID: "s1", Capacity: 4, Slots: []inventory.Record{{Index: 0, Item: item.Kelp, Quantity: 1}}}
	if err := repo.Save(ctx, good); err != nil {
		t.Fatalf("Save: %v", err)
	}
	bad := good
	bad.Slots = []inventory.Record{
		{Index: 0, Item: item.Kelp, Quantity: 1},
		{Index: 1, Item: item.Kelp, Quantity: 3},
	}
	if err := repo.Save(ctx, bad); err == nil {
		t.Fatalf("expected the unique constraint to reject two slots of one item")
	}
	got, _ := repo.Load(ctx, "s1")
	if len(got.Slots) != 1 {
		t.Errorf("failed save must roll back, got %+v", got.Slots)
	}
}

func TestListSessions(t *testing.T) {
	repo := NewSQLiteInventoryRepository(openTestDB(t))
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		if err := repo.Save(ctx, InventorySnapshot{SessionID: id, Capacity: 2}); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	snaps, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 3 || snaps[0].SessionID != "a" || snaps[2].SessionID != "c" {
		t.Errorf("unexpected list %+v", snaps)
	}
}

func TestPersisterAndReconstructor(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteEventRepository(db)
	m := metrics.New()
	el := events.NewEventLog(NewEventPersister(repo, m))

	slot := func(idx int, id item.ID, qty int) events.GameEvent {
		return events.New(events.EventTypeSlotChanged, "s1", "s1", string(id), events.SlotPayload{Slot: idx, Item: string(id), Quantity: qty})
	}
	el.Append(events.New(events.EventTypeSessionStarted, "s1", "s1", "", events.SessionPayload{PlayerName: "Mara", Capacity: 4}))
	el.Append(slot(0, item.Nails, 2))
	el.Append(events.New(events.EventTypeItemCollected, "s1", "s1", string(item.Nails), events.ItemPayload{Item: string(item.Nails), Quantity: 2}))
	el.Append(slot(1, item.Cogs, 2))
	el.Append(slot(0, "", 0))
	el.Append(slot(1, "", 0))
	el.Append(slot(0, item.Plate, 1))
	el.Append(events.New(events.EventTypeCraftCompleted, "s1", "s1", "Plate", events.CraftPayload{Recipe: "Plate"}))
	el.Append(events.New(events.EventTypeSlotChanged, "s2", "s2", string(item.Kelp), events.SlotPayload{Slot: 0, Item: string(item.Kelp), Quantity: 1}))
	el.Close()

	ctx := context.Background()
	stored, err := repo.GetBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetBySession: %v", err)
	}
	if len(stored) != 8 {
		t.Fatalf("expected 8 stored events for s1, got %d", len(stored))
	}
	if written := m.Snapshot()["events"].(map[string]interface{})["written"].(int64); written != 9 {
		t.Errorf("expected 9 writes recorded, got %d", written)
	}

	records, err := NewReconstructor(repo).RebuildInventory(ctx, "s1")
	if err != nil {
		t.Fatalf("RebuildInventory: %v", err)
	}
	want := []inventory.Record{{Index: 0, Item: item.Plate, Quantity: 1}}
	if len(records) != 1 || records[0] != want[0] {
		t.Errorf("RebuildInventory = %+v, want %+v", records, want)
	}

	recap, err := NewReconstructor(repo).GenerateRecap(ctx, "s1", time.Time{})
	if err != nil {
		t.Fatalf("GenerateRecap: %v", err)
	}
	if len(recap) != 3 {
		t.Fatalf("expected 3 recap entries without slot bookkeeping, got %+v", recap)
	}
	if recap[1].Summary != "Collected Nails x2." || recap[1].Impact != "POSITIVE" {
		t.Errorf("unexpected recap entry %+v", recap[1])
	}

	recent, err := repo.GetRecent(ctx, 2)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(recent) != 2 || recent[0].EventType != "CRAFT_COMPLETED" {
		t.Errorf("unexpected recent events %+v", recent)
	}
}
