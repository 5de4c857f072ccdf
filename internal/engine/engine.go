package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Kattete/Tidal-Miner/internal/domain/inventory"
	"github.com/Kattete/Tidal-Miner/internal/domain/item"
	"github.com/Kattete/Tidal-Miner/internal/domain/player"
	"github.com/Kattete/Tidal-Miner/internal/domain/recipe"
	"github.com/Kattete/Tidal-Miner/internal/events"
	"github.com/Kattete/Tidal-Miner/internal/platform/logger"
	"github.com/Kattete/Tidal-Miner/internal/platform/metrics"
)

// Deps is everything the engine needs. Nothing is looked up globally.
type Deps struct {
	EventLog *events.EventLog
	Logger   *logger.Logger
	Ledger   *recipe.Ledger
	Capacity int

	// Optional
	Spawner  Spawner            // defaults to InventorySpawner
	Catalog  func(item.ID) bool // defaults to item.Known
	Metrics  *metrics.Collector // defaults to metrics.Get()
	TickRate time.Duration      // defaults to DefaultTickRate
	Loader   SessionLoader      // hosts saved sessions on first use
}

// SessionLoader fetches a saved session that is not hosted. It wraps
// ErrUnknownSession when nothing was saved under the ID.
type SessionLoader interface {
	LoadSession(sessionID string) (SessionState, error)
}

// Engine is the central orchestrator. Clients reach it through Handle; the
// host loop reaches it through Tick.
type Engine struct {
	eventLog *events.EventLog
	logger   *logger.Logger
	metrics  *metrics.Collector
	ledger   *recipe.Ledger
	capacity int
	ticker   *Ticker
	loader   SessionLoader

	// Sub-systems
	inventorySystem *InventorySystem
	craftingSystem  *CraftingSystem
	equipSystem     *EquipSystem

	ready    atomic.Bool
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewEngine wires the systems together. The engine refuses commands until
// FinishSetup succeeds.
func NewEngine(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = logger.NewDiscard()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Get()
	}
	if deps.Catalog == nil {
		deps.Catalog = item.Known
	}
	if deps.EventLog == nil {
		deps.EventLog = events.NewEventLog(nil)
	}

	e := &Engine{
		eventLog: deps.EventLog,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		ledger:   deps.Ledger,
		capacity: deps.Capacity,
		loader:   deps.Loader,
		sessions: make(map[string]*Session),
	}
	e.inventorySystem = NewInventorySystem(deps.EventLog, deps.Logger, deps.Metrics, deps.Catalog)
	if deps.Ledger != nil {
		e.craftingSystem = NewCraftingSystem(deps.EventLog, deps.Logger, deps.Metrics, deps.Ledger, deps.Spawner)
		e.equipSystem = NewEquipSystem(deps.EventLog, deps.Logger, deps.Ledger)
	}
	e.ticker = NewTicker(deps.EventLog, deps.Logger, deps.Metrics, deps.TickRate, e.Tick, func() int {
		return len(e.PendingCrafts(""))
	})
	return e
}

// FinishSetup validates the wiring and opens the engine for commands.
func (e *Engine) FinishSetup() error {
	if e.ledger == nil {
		return errors.New("engine: no recipe ledger")
	}
	if e.capacity < 1 {
		return fmt.Errorf("engine: %w: got %d", inventory.ErrInvalidCapacity, e.capacity)
	}
	for _, id := range e.ledger.UnknownItems(item.Known) {
		e.logger.Warnf("Recipe content references %q, which is not in the item catalog", id)
	}
	e.ready.Store(true)
	e.logger.Infof("Engine ready: %d recipes, %d slots per inventory", e.ledger.Len(), e.capacity)
	return nil
}

// Ready reports whether FinishSetup has succeeded.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Start spawns the host loop.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("Starting Tidal Miner engine...")
	go e.ticker.Start(ctx)
}

// Tick advances pending crafts by dt and returns how many finished.
func (e *Engine) Tick(dt time.Duration) int {
	if !e.Ready() {
		return 0
	}
	return e.craftingSystem.Tick(dt)
}

// Ledger exposes the recipe ledger for read-only listings.
func (e *Engine) Ledger() *recipe.Ledger {
	return e.ledger
}

// GetEventLog exposes the event log for the presentation layer.
func (e *Engine) GetEventLog() *events.EventLog {
	return e.eventLog
}

// PendingCrafts lists unfinished crafts of one session, or all when empty.
func (e *Engine) PendingCrafts(sessionID string) []CraftJob {
	if e.craftingSystem == nil {
		return nil
	}
	return e.craftingSystem.Pending(sessionID)
}

// StartSession creates a new player with an empty inventory.
func (e *Engine) StartSession(name string) (*Session, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}
	return e.host(player.NewPlayer(uuid.NewString(), name), e.capacity, nil, false)
}

// RestoreSession rehosts a saved player. Restoring emits no SLOT_CHANGED
// events; the saved slots are the starting state.
func (e *Engine) RestoreSession(p player.Player, capacity int, slots []inventory.Record) (*Session, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}
	if p.ID == "" {
		return nil, errors.New("engine: restored session has no ID")
	}
	if capacity < 1 {
		capacity = e.capacity
	}
	return e.host(&p, capacity, slots, true)
}

func (e *Engine) host(p *player.Player, capacity int, slots []inventory.Record, restored bool) (*Session, error) {
	store, err := inventory.NewStore(capacity)
	if err != nil {
		return nil, err
	}
	if err := store.Restore(slots); err != nil {
		return nil, fmt.Errorf("restore session %s: %w", p.ID, err)
	}
	if p.HasEquipped() {
		if held, ok := store.Slot(p.EquippedSlot); !ok || !held.Occupied() {
			p.Unequip()
		}
	}

	s := newSession(p, store)
	e.mu.Lock()
	if _, exists := e.sessions[s.ID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, s.ID)
	}
	e.sessions[s.ID] = s
	e.mu.Unlock()

	e.inventorySystem.Attach(s)
	e.equipSystem.Attach(s)

	e.metrics.RecordSession()
	e.eventLog.Append(events.New(events.EventTypeSessionStarted, s.ID, s.ID, "", events.SessionPayload{
		PlayerName: p.Name,
		Capacity:   capacity,
		Restored:   restored,
	}))
	e.logger.Event("SESSION_STARTED", s.ID, fmt.Sprintf("%s with %d slots (restored=%v)", p.Name, capacity, restored))
	return s, nil
}

// SessionState is everything needed to host a session again after a
// restart, taken at one instant.
type SessionState struct {
	Player   player.Player
	Capacity int
	Slots    []inventory.Record
	Crafts   []CraftJob
}

// Capture returns the state of a session. No craft starts or finishes while
// it is taken, so consumed materials are always either in Crafts or already
// delivered into Slots.
func (e *Engine) Capture(sessionID string) (SessionState, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return SessionState{}, err
	}
	state := SessionState{Capacity: s.Store.Capacity()}
	e.craftingSystem.capture(func() {
		state.Player, state.Slots = s.Capture()
		state.Crafts = e.craftingSystem.Pending(sessionID)
	})
	return state, nil
}

// Rehost hosts a captured session again and resumes its crafts.
func (e *Engine) Rehost(state SessionState) (*Session, error) {
	s, err := e.RestoreSession(state.Player, state.Capacity, state.Slots)
	if err != nil {
		return nil, err
	}
	if err := e.ResumeCrafts(s.ID, state.Crafts); err != nil {
		return s, err
	}
	return s, nil
}

// Release takes an idle session out of memory. save receives the final
// state while commands on the session are held off; when it fails the
// session stays hosted. Sessions with crafts in progress are not released.
func (e *Engine) Release(sessionID string, save func(SessionState) error) error {
	if !e.Ready() {
		return ErrNotReady
	}
	s, ok := e.Session(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	s.active.Lock()
	defer s.active.Unlock()
	if s.released {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if n := len(e.craftingSystem.Pending(sessionID)); n > 0 {
		return fmt.Errorf("%w: %s has %d", ErrCraftsPending, sessionID, n)
	}

	state := SessionState{Capacity: s.Store.Capacity()}
	state.Player, state.Slots = s.Capture()
	if err := save(state); err != nil {
		return fmt.Errorf("release %s: %w", sessionID, err)
	}
	s.released = true

	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()

	e.metrics.RecordSessionReleased()
	e.logger.Infof("[SESSION] %s released after %v idle", sessionID, time.Since(s.LastActive()).Round(time.Second))
	return nil
}

// ResumeCrafts schedules the saved craft jobs of a restored session.
func (e *Engine) ResumeCrafts(sessionID string, jobs []CraftJob) error {
	s, err := e.session(sessionID)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := e.craftingSystem.Resume(s, job); err != nil {
			return fmt.Errorf("resume %s for %s: %w", job.Recipe, sessionID, err)
		}
	}
	return nil
}

// Session returns a hosted session.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Sessions returns every hosted session ordered by ID.
func (e *Engine) Sessions() []*Session {
	e.mu.RLock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Inventory returns the inventory panel of a session.
func (e *Engine) Inventory(sessionID string) (InventoryView, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return InventoryView{}, err
	}
	return viewOf(s), nil
}

// acquire resolves a session for one command. The caller must call leave.
// A session released while it was being resolved is looked up once more,
// which loads the saved copy.
func (e *Engine) acquire(id string) (*Session, error) {
	for attempt := 0; attempt < 2; attempt++ {
		s, err := e.session(id)
		if err != nil {
			return nil, err
		}
		if s.enter() {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
}

func (e *Engine) session(id string) (*Session, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}
	if s, ok := e.Session(id); ok {
		return s, nil
	}
	if e.loader == nil || id == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	state, err := e.loader.LoadSession(id)
	if err != nil {
		return nil, err
	}
	s, err := e.Rehost(state)
	if errors.Is(err, ErrSessionExists) {
		// Another caller loaded it first.
		if s, ok := e.Session(id); ok {
			return s, nil
		}
	}
	if err != nil {
		return nil, err
	}
	e.logger.Infof("[SESSION] %s loaded on demand", id)
	return s, nil
}
