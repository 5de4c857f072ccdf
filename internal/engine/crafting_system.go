package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
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

// Spawner places a finished product into the world. It returns the slot
// the product went to, or -1 when it did not land in an inventory.
type Spawner interface {
	Spawn(s *Session, product recipe.Product) (int, error)
}

// SpawnerFunc adapts a plain function to a Spawner.
type SpawnerFunc func(s *Session, product recipe.Product) (int, error)

func (f SpawnerFunc) Spawn(s *Session, product recipe.Product) (int, error) {
	return f(s, product)
}

// InventorySpawner deposits products into the crafter's own inventory.
type InventorySpawner struct{}

func (InventorySpawner) Spawn(s *Session, product recipe.Product) (int, error) {
	return s.Store.Put(product.Item, product.Quantity)
}

// CraftJob is a craft whose materials are already consumed and whose
// product appears when Remaining reaches zero.
type CraftJob struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Recipe    string         `json:"recipe"`
	Product   recipe.Product `json:"product"`
	Duration  time.Duration  `json:"duration"`
	Remaining time.Duration  `json:"remaining"`

	session *Session
}

// CraftResult is what a successful Craft call started.
type CraftResult struct {
	Job      CraftJob     `json:"job"`
	Consumed []item.Stack `json:"consumed"`
	// Completed is set when the recipe has no craft time and the product
	// was spawned within the call.
	Completed bool `json:"completed"`
}

// CraftingSystem consumes materials through the recipe ledger and delivers
// products once their craft time has elapsed.
type CraftingSystem struct {
	eventLog *events.EventLog
	logger   *logger.Logger
	metrics  *metrics.Collector
	ledger   *recipe.Ledger
	spawner  Spawner

	// settle is held while materials or products move, so a capture never
	// sees a craft half applied.
	settle sync.Mutex
	mu     sync.Mutex
	jobs   []*CraftJob
}

func NewCraftingSystem(el *events.EventLog, log *logger.Logger, m *metrics.Collector, ledger *recipe.Ledger, spawner Spawner) *CraftingSystem {
	if spawner == nil {
		spawner = InventorySpawner{}
	}
	return &CraftingSystem{
		eventLog: el,
		logger:   log,
		metrics:  m,
		ledger:   ledger,
		spawner:  spawner,
	}
}

// CanCraft reports whether s can afford the recipe and what it lacks.
func (cs *CraftingSystem) CanCraft(s *Session, name string) (bool, []item.Stack, error) {
	ok, err := cs.ledger.CanCraft(name, s.Store)
	if err != nil {
		return false, nil, err
	}
	if ok {
		return true, nil, nil
	}
	missing, err := cs.ledger.Missing(name, s.Store)
	return false, missing, err
}

// Craft consumes the recipe's materials from s right away and schedules the
// product. On any failure the inventory is left untouched.
func (cs *CraftingSystem) Craft(s *Session, name string) (CraftResult, error) {
	cs.settle.Lock()
	defer cs.settle.Unlock()

	product, err := cs.ledger.Craft(name, s.Store)
	if err != nil {
		cs.failed(s, name, err)
		return CraftResult{}, err
	}
	r, _ := cs.ledger.GetRecipe(name)

	job := &CraftJob{
		ID:        uuid.NewString(),
		SessionID: s.ID,
		Recipe:    name,
		Product:   product,
		Duration:  r.CraftTime,
		Remaining: r.CraftTime,
		session:   s,
	}
	cs.metrics.RecordCraft(true)
	cs.eventLog.Append(events.New(events.EventTypeCraftStarted, s.ID, s.ID, name, events.CraftPayload{
		Recipe:     name,
		Product:    string(product.Item),
		Quantity:   product.Quantity,
		Artifact:   product.Artifact,
		DurationMS: r.CraftTime.Milliseconds(),
		Consumed:   stackPayloads(r.Requirements),
		JobID:      job.ID,
	}))
	cs.logger.Infof("[CRAFTING] %s started %s (%v)", s.ID, name, r.CraftTime)

	result := CraftResult{Job: *job, Consumed: r.Requirements}
	if r.CraftTime <= 0 {
		cs.complete(job)
		result.Completed = true
		result.Job.Remaining = 0
		return result, nil
	}

	cs.mu.Lock()
	cs.jobs = append(cs.jobs, job)
	cs.mu.Unlock()
	return result, nil
}

func (cs *CraftingSystem) failed(s *Session, name string, cause error) {
	payload := events.CraftPayload{Recipe: name, Reason: cause.Error()}
	if errors.Is(cause, recipe.ErrInsufficientResources) {
		if missing, err := cs.ledger.Missing(name, s.Store); err == nil {
			payload.Missing = stackPayloads(missing)
		}
	}
	cs.metrics.RecordCraft(false)
	cs.eventLog.Append(events.New(events.EventTypeCraftFailed, s.ID, s.ID, name, payload))
	cs.logger.Warnf("[CRAFTING] %s could not craft %q: %v", s.ID, name, cause)
}

// Tick advances every pending job by dt and delivers the finished ones in
// the order they were started. It returns the number delivered.
func (cs *CraftingSystem) Tick(dt time.Duration) int {
	cs.settle.Lock()
	defer cs.settle.Unlock()

	cs.mu.Lock()
	var done []*CraftJob
	pending := cs.jobs[:0]
	for _, job := range cs.jobs {
		job.Remaining -= dt
		if job.Remaining <= 0 {
			job.Remaining = 0
			done = append(done, job)
		} else {
			pending = append(pending, job)
		}
	}
	for i := len(pending); i < len(cs.jobs); i++ {
		cs.jobs[i] = nil
	}
	cs.jobs = pending
	cs.mu.Unlock()

	for _, job := range done {
		cs.complete(job)
	}
	return len(done)
}

// Resume schedules a job saved before a restart. Its materials were consumed
// before the save, so nothing is deducted again.
func (cs *CraftingSystem) Resume(s *Session, job CraftJob) error {
	if job.Product.Item.Empty() || job.Product.Quantity < 1 {
		return fmt.Errorf("%w: %d of %q", ErrInvalidCraftJob, job.Product.Quantity, job.Product.Item)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Remaining < 0 {
		job.Remaining = 0
	}
	job.SessionID = s.ID
	job.session = s

	cs.mu.Lock()
	cs.jobs = append(cs.jobs, &job)
	cs.mu.Unlock()
	cs.logger.Infof("[CRAFTING] %s resumed %s (%v left)", s.ID, job.Recipe, job.Remaining)
	return nil
}

// capture runs fn while no craft can start or finish.
func (cs *CraftingSystem) capture(fn func()) {
	cs.settle.Lock()
	defer cs.settle.Unlock()
	fn()
}

// Pending returns a copy of the unfinished jobs of one session, or of every
// session when sessionID is empty. Jobs are ordered by remaining time.
func (cs *CraftingSystem) Pending(sessionID string) []CraftJob {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	var out []CraftJob
	for _, job := range cs.jobs {
		if sessionID == "" || job.SessionID == sessionID {
			out = append(out, *job)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Remaining < out[j].Remaining })
	return out
}

func (cs *CraftingSystem) complete(job *CraftJob) {
	s := job.session
	s.withPlayer(func(p *player.Player) { p.ItemsCrafted += job.Product.Quantity })

	payload := events.CraftPayload{
		Recipe:   job.Recipe,
		Product:  string(job.Product.Item),
		Quantity: job.Product.Quantity,
		Artifact: job.Product.Artifact,
		JobID:    job.ID,
	}
	slot, err := cs.spawner.Spawn(s, job.Product)
	if err == nil && slot >= 0 {
		payload.DepositSlot = &slot
	}
	cs.eventLog.Append(events.New(events.EventTypeCraftCompleted, s.ID, s.ID, job.Recipe, payload))

	if err != nil {
		payload.Reason = err.Error()
		if errors.Is(err, inventory.ErrCapacityExceeded) {
			payload.Reason = ReasonInventoryFull
		}
		cs.metrics.RecordCraftOutputLost()
		cs.eventLog.Append(events.New(events.EventTypeCraftOutputDropped, s.ID, s.ID, job.Recipe, payload))
		cs.logger.Warnf("[CRAFTING] %s finished %s but %d %s did not fit: %v", s.ID, job.Recipe, job.Product.Quantity, job.Product.Item, err)
		return
	}
	cs.logger.Infof("[CRAFTING] %s finished %s: %s", s.ID, job.Recipe, describeSpawn(job.Product, slot))
}

func describeSpawn(p recipe.Product, slot int) string {
	if slot < 0 {
		return fmt.Sprintf("%d %s spawned in world", p.Quantity, p.Item)
	}
	return fmt.Sprintf("%d %s into slot %d", p.Quantity, p.Item, slot)
}
