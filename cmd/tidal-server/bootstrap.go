package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Kattete/Tidal-Miner/internal/domain/inventory"
	"github.com/Kattete/Tidal-Miner/internal/domain/player"
	"github.com/Kattete/Tidal-Miner/internal/domain/recipe"
	"github.com/Kattete/Tidal-Miner/internal/engine"
	"github.com/Kattete/Tidal-Miner/internal/infra/cache"
	"github.com/Kattete/Tidal-Miner/internal/infra/storage"
	"github.com/Kattete/Tidal-Miner/internal/platform/logger"
	"github.com/Kattete/Tidal-Miner/internal/platform/metrics"
)

// restoreSessions rehosts every saved session. A snapshot whose slots fail
// validation is rebuilt from the event log instead.
func restoreSessions(ctx context.Context, repo storage.InventoryRepository, recon *storage.Reconstructor, eng *engine.Engine, appLogger *logger.Logger) int {
	appLogger.Info("Checking DB for saved sessions...")
	snaps, err := repo.List(ctx)
	if err != nil {
		appLogger.Errorf("Failed to query DB for sessions: %v", err)
		return 0
	}
	if len(snaps) == 0 {
		appLogger.Info("Database empty. Sessions will be created on demand.")
		return 0
	}

	restored := 0
	for _, snap := range snaps {
		state, _, err := stateOf(ctx, snap, recon, appLogger)
		if err != nil {
			appLogger.Errorf("Failed to restore session %s: %v", snap.SessionID, err)
			continue
		}
		if _, err := eng.Rehost(state); err != nil {
			appLogger.Errorf("Failed to restore session %s: %v", snap.SessionID, err)
			continue
		}
		restored++
	}
	appLogger.Infof("Reconstructed %d/%d sessions from SQLite state", restored, len(snaps))
	return restored
}

// stateOf turns a snapshot into engine state. rebuilt is set when the saved
// slots were invalid and came from the event log instead.
func stateOf(ctx context.Context, snap storage.InventorySnapshot, recon *storage.Reconstructor, appLogger *logger.Logger) (state engine.SessionState, rebuilt bool, err error) {
	state = engine.SessionState{
		Player: player.Player{
			ID:             snap.SessionID,
			Name:           snap.PlayerName,
			CreatedAt:      snap.LastUpdated,
			EquippedSlot:   snap.EquippedSlot,
			ItemsCollected: snap.ItemsCollected,
			ItemsCrafted:   snap.ItemsCrafted,
		},
		Capacity: snap.Capacity,
		Slots:    snap.Slots,
		Crafts:   craftJobs(snap.PendingCrafts),
	}

	verr := validSlots(snap.Capacity, snap.Slots)
	if verr == nil {
		return state, false, nil
	}
	if recon == nil || !errors.Is(verr, inventory.ErrInvalidSnapshot) {
		return engine.SessionState{}, false, verr
	}
	appLogger.Warnf("Snapshot of %s is invalid (%v), replaying its events", snap.SessionID, verr)
	slots, err := recon.RebuildInventory(ctx, snap.SessionID)
	if err != nil {
		return engine.SessionState{}, false, fmt.Errorf("rebuild %s: %w", snap.SessionID, err)
	}
	state.Slots = slots
	return state, true, nil
}

// validSlots checks saved slots against a scratch store of the same size.
// A missing capacity is left for the engine to fill with its default.
func validSlots(capacity int, slots []inventory.Record) error {
	if capacity < 1 {
		return nil
	}
	store, err := inventory.NewStore(capacity)
	if err != nil {
		return err
	}
	return store.Restore(slots)
}

// snapshotLoader hosts saved sessions on first use. Reads go through the
// snapshot cache, so a session released by the idle sweep comes back from
// memory.
type snapshotLoader struct {
	snapshots *cache.InventoryCache
	recon     *storage.Reconstructor
	logger    *logger.Logger
	timeout   time.Duration
}

func (l *snapshotLoader) LoadSession(sessionID string) (engine.SessionState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	snap, err := l.snapshots.Load(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return engine.SessionState{}, fmt.Errorf("%w: %s", engine.ErrUnknownSession, sessionID)
	}
	if err != nil {
		return engine.SessionState{}, err
	}
	state, rebuilt, err := stateOf(ctx, snap, l.recon, l.logger)
	if err != nil || rebuilt {
		// The cached copy is the invalid one.
		l.snapshots.Invalidate(sessionID)
	}
	return state, err
}

// saveSessions writes a snapshot of every hosted session.
func saveSessions(ctx context.Context, repo storage.InventoryRepository, eng *engine.Engine, m *metrics.Collector, appLogger *logger.Logger) int {
	saved := 0
	for _, s := range eng.Sessions() {
		state, err := eng.Capture(s.ID)
		if err != nil {
			appLogger.Errorf("Failed to capture session %s: %v", s.ID, err)
			continue
		}
		if err := repo.Save(ctx, snapshotOf(state)); err != nil {
			appLogger.Errorf("Failed to save session %s: %v", s.ID, err)
			continue
		}
		m.RecordSnapshot()
		saved++
	}
	return saved
}

// releaseIdle saves and unloads sessions that ran no command for idleAfter
// and have no WebSocket client attached.
func releaseIdle(ctx context.Context, idleAfter time.Duration, repo storage.InventoryRepository, eng *engine.Engine, connected func() map[string]int, m *metrics.Collector, appLogger *logger.Logger) int {
	watched := connected()
	released := 0
	for _, s := range eng.Sessions() {
		if watched[s.ID] > 0 || time.Since(s.LastActive()) < idleAfter {
			continue
		}
		err := eng.Release(s.ID, func(state engine.SessionState) error {
			return repo.Save(ctx, snapshotOf(state))
		})
		switch {
		case errors.Is(err, engine.ErrCraftsPending):
			continue
		case err != nil:
			appLogger.Errorf("Failed to release session %s: %v", s.ID, err)
			continue
		}
		m.RecordSnapshot()
		released++
	}
	if released > 0 {
		appLogger.Infof("Released %d idle sessions", released)
	}
	return released
}

// runIdleSweep calls releaseIdle until ctx ends.
func runIdleSweep(ctx context.Context, idleAfter time.Duration, repo storage.InventoryRepository, eng *engine.Engine, connected func() map[string]int, m *metrics.Collector, appLogger *logger.Logger) {
	if idleAfter <= 0 {
		<-ctx.Done()
		return
	}
	sweep := time.NewTicker(idleAfter / 2)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			releaseIdle(ctx, idleAfter, repo, eng, connected, m, appLogger)
		}
	}
}

func snapshotOf(state engine.SessionState) storage.InventorySnapshot {
	p := state.Player
	return storage.InventorySnapshot{
		SessionID:      p.ID,
		PlayerName:     p.Name,
		Capacity:       state.Capacity,
		EquippedSlot:   p.EquippedSlot,
		ItemsCollected: p.ItemsCollected,
		ItemsCrafted:   p.ItemsCrafted,
		Slots:          state.Slots,
		PendingCrafts:  pendingCrafts(state.Crafts),
		LastUpdated:    time.Now(),
	}
}

func pendingCrafts(jobs []engine.CraftJob) []storage.PendingCraft {
	out := make([]storage.PendingCraft, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, storage.PendingCraft{
			JobID:     job.ID,
			Recipe:    job.Recipe,
			Item:      job.Product.Item,
			Quantity:  job.Product.Quantity,
			Artifact:  job.Product.Artifact,
			Duration:  job.Duration,
			Remaining: job.Remaining,
		})
	}
	return out
}

func craftJobs(saved []storage.PendingCraft) []engine.CraftJob {
	out := make([]engine.CraftJob, 0, len(saved))
	for _, pc := range saved {
		out = append(out, engine.CraftJob{
			ID:        pc.JobID,
			Recipe:    pc.Recipe,
			Product:   recipe.Product{Item: pc.Item, Quantity: pc.Quantity, Artifact: pc.Artifact},
			Duration:  pc.Duration,
			Remaining: pc.Remaining,
		})
	}
	return out
}

// runSnapshots saves every interval until ctx ends.
func runSnapshots(ctx context.Context, interval time.Duration, repo storage.InventoryRepository, eng *engine.Engine, m *metrics.Collector, appLogger *logger.Logger) {
	if interval <= 0 {
		appLogger.Warn("Periodic snapshots disabled; state is saved on shutdown only")
		<-ctx.Done()
		return
	}
	backupTicker := time.NewTicker(interval)
	defer backupTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-backupTicker.C:
			saveSessions(ctx, repo, eng, m, appLogger)
		}
	}
}
