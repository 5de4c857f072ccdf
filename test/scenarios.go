// Package test - scenarios.go
// End-to-end inventory scenarios run through the engine, the same path a
// connected client takes. cmd/scenario-runner prints the verdicts.
package test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"time"

	"github.com/Kattete/Tidal-Miner/internal/domain/inventory"
	"github.com/Kattete/Tidal-Miner/internal/domain/item"
	"github.com/Kattete/Tidal-Miner/internal/domain/recipe"
	"github.com/Kattete/Tidal-Miner/internal/engine"
	"github.com/Kattete/Tidal-Miner/internal/events"
	"github.com/Kattete/Tidal-Miner/internal/platform/logger"
	"github.com/Kattete/Tidal-Miner/internal/platform/metrics"
)

// TestResult captures the outcome of each scenario.
type TestResult struct {
	ScenarioName string
	Expected     string
	Actual       string
	Passed       bool
	Reason       string
}

// Scenario drives one session and returns what it observed.
type Scenario struct {
	Name     string
	Capacity int
	Expected string
	Run      func(h *harness) (actual string, err error)
}

// ScenarioSuite runs scenarios against fresh engines.
type ScenarioSuite struct {
	logger  *logger.Logger
	metrics *metrics.Collector
	ledger  *recipe.Ledger
	seed    int64
	results []TestResult
}

// NewScenarioSuite creates the harness. A nil logger discards output.
func NewScenarioSuite(log *logger.Logger, seed int64) (*ScenarioSuite, error) {
	if log == nil {
		log = logger.NewDiscard()
	}
	ledger, err := recipe.NewLedger(recipe.Recipe{
		Name:         "Plate",
		Requirements: []item.Stack{{ID: item.Nails, Quantity: 2}, {ID: item.Cogs, Quantity: 2}},
		Product:      recipe.Product{Item: item.Plate, Quantity: 1, Artifact: "PlatePickup"},
		CraftTime:    2 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &ScenarioSuite{
		logger:  log,
		metrics: metrics.New(),
		ledger:  ledger,
		seed:    seed,
	}, nil
}

// Metrics returns the collector every scenario engine reports to.
func (s *ScenarioSuite) Metrics() *metrics.Collector {
	return s.metrics
}

// harness is one scenario's engine and session.
type harness struct {
	eng     *engine.Engine
	session *engine.Session
	rng     *rand.Rand
}

func (h *harness) do(cmd engine.Command) (engine.Reply, error) {
	cmd.SessionID = h.session.ID
	return h.eng.Handle(cmd)
}

func (h *harness) collect(id item.ID, amount int) error {
	_, err := h.do(engine.Command{Type: engine.CommandCollect, Item: id, Amount: amount})
	return err
}

func (h *harness) drop(id item.ID, amount int) error {
	_, err := h.do(engine.Command{Type: engine.CommandDrop, Item: id, Amount: amount})
	return err
}

func (h *harness) quantity(id item.ID) int {
	return h.session.Store.GetQuantity(id)
}

// RunAll executes every built-in scenario.
func (s *ScenarioSuite) RunAll(ctx context.Context) []TestResult {
	for _, sc := range Scenarios() {
		if ctx.Err() != nil {
			break
		}
		s.RunScenario(sc)
	}
	return s.results
}

// RunScenario executes one scenario on a fresh engine and records the verdict.
func (s *ScenarioSuite) RunScenario(sc Scenario) TestResult {
	result := TestResult{ScenarioName: sc.Name, Expected: sc.Expected}

	eng := engine.NewEngine(engine.Deps{
		EventLog: events.NewEventLog(nil),
		Logger:   s.logger,
		Ledger:   s.ledger,
		Capacity: sc.Capacity,
		Metrics:  s.metrics,
	})
	if err := eng.FinishSetup(); err != nil {
		result.Reason = err.Error()
		s.results = append(s.results, result)
		return result
	}
	session, err := eng.StartSession("scenario")
	if err != nil {
		result.Reason = err.Error()
		s.results = append(s.results, result)
		return result
	}

	h := &harness{eng: eng, session: session, rng: rand.New(rand.NewSource(s.seed))}
	actual, err := sc.Run(h)
	result.Actual = actual
	switch {
	case err != nil:
		result.Reason = err.Error()
	case actual != sc.Expected:
		result.Reason = "unexpected outcome"
	default:
		result.Passed = true
	}

	s.logger.Infof("SCENARIO %s passed=%v", sc.Name, result.Passed)
	s.results = append(s.results, result)
	return result
}

// GetResults returns the verdicts recorded so far.
func (s *ScenarioSuite) GetResults() []TestResult {
	return s.results
}

// Scenarios lists the built-in scenarios.
func Scenarios() []Scenario {
	return []Scenario{
		{
			Name:     "Craft Plate",
			Capacity: 4,
			Expected: "craftable=true nails=0 cogs=0 product=plate delivered=1",
			Run: func(h *harness) (string, error) {
				if err := h.collect(item.Nails, 2); err != nil {
					return "", err
				}
				if err := h.collect(item.Cogs, 2); err != nil {
					return "", err
				}
				check, err := h.do(engine.Command{Type: engine.CommandCanCraft, Recipe: "Plate"})
				if err != nil {
					return "", err
				}
				reply, err := h.do(engine.Command{Type: engine.CommandCraft, Recipe: "Plate"})
				if err != nil {
					return "", err
				}
				nails, cogs := h.quantity(item.Nails), h.quantity(item.Cogs)
				h.eng.Tick(2 * time.Second)
				return fmt.Sprintf("craftable=%v nails=%d cogs=%d product=%s delivered=%d",
					check.Craftable, nails, cogs, reply.Item, h.quantity(item.Plate)), nil
			},
		},
		{
			Name:     "Craft Plate without enough cogs",
			Capacity: 4,
			Expected: "craftable=false insufficient=true nails=2 cogs=1",
			Run: func(h *harness) (string, error) {
				h.collect(item.Nails, 2)
				h.collect(item.Cogs, 1)
				check, err := h.do(engine.Command{Type: engine.CommandCanCraft, Recipe: "Plate"})
				if err != nil {
					return "", err
				}
				_, err = h.do(engine.Command{Type: engine.CommandCraft, Recipe: "Plate"})
				return fmt.Sprintf("craftable=%v insufficient=%v nails=%d cogs=%d",
					check.Craftable, errors.Is(err, recipe.ErrInsufficientResources),
					h.quantity(item.Nails), h.quantity(item.Cogs)), nil
			},
		},
		{
			Name:     "Capacity boundary",
			Capacity: 4,
			Expected: "full=true unchanged=true",
			Run: func(h *harness) (string, error) {
				for _, id := range []item.ID{item.Kelp, item.Quartz, item.Titanium, item.CopperOre} {
					if err := h.collect(id, 1); err != nil {
						return "", err
					}
				}
				before := h.session.Store.Slots()
				err := h.collect(item.ScrapMetal, 1)
				return fmt.Sprintf("full=%v unchanged=%v",
					errors.Is(err, inventory.ErrCapacityExceeded),
					reflect.DeepEqual(before, h.session.Store.Slots())), nil
			},
		},
		{
			Name:     "Stacking keeps one slot per item",
			Capacity: 4,
			Expected: "slots=1 quantity=5",
			Run: func(h *harness) (string, error) {
				h.collect(item.Nails, 2)
				h.collect(item.Nails, 3)
				return fmt.Sprintf("slots=%d quantity=%d", h.session.Store.Used(), h.quantity(item.Nails)), nil
			},
		},
		{
			Name:     "Over-remove leaves the store unchanged",
			Capacity: 4,
			Expected: "insufficient=true unchanged=true",
			Run: func(h *harness) (string, error) {
				h.collect(item.Kelp, 2)
				before := h.session.Store.Slots()
				err := h.drop(item.Kelp, 3)
				return fmt.Sprintf("insufficient=%v unchanged=%v",
					errors.Is(err, inventory.ErrInsufficientQuantity),
					reflect.DeepEqual(before, h.session.Store.Slots())), nil
			},
		},
		{
			Name:     "Drop then collect round trip",
			Capacity: 4,
			Expected: "before=7 after=7",
			Run: func(h *harness) (string, error) {
				h.collect(item.Quartz, 7)
				before := h.quantity(item.Quartz)
				if err := h.drop(item.Quartz, 4); err != nil {
					return "", err
				}
				if err := h.collect(item.Quartz, 4); err != nil {
					return "", err
				}
				return fmt.Sprintf("before=%d after=%d", before, h.quantity(item.Quartz)), nil
			},
		},
		{
			Name:     "Never-added item is absent",
			Capacity: 4,
			Expected: "quantity=0 has=false",
			Run: func(h *harness) (string, error) {
				h.collect(item.Kelp, 1)
				return fmt.Sprintf("quantity=%d has=%v",
					h.quantity(item.Titanium), h.session.Store.HasItem(item.Titanium)), nil
			},
		},
		{
			Name:     "Random collect/drop conserves quantities",
			Capacity: 3,
			Expected: "violations=0",
			Run: func(h *harness) (string, error) {
				pool := []item.ID{item.Kelp, item.Quartz, item.Titanium, item.CopperOre, item.ScrapMetal}
				net := make(map[item.ID]int)
				var violations []string
				for step := 0; step < 500; step++ {
					id := pool[h.rng.Intn(len(pool))]
					amount := 1 + h.rng.Intn(4)
					if h.rng.Intn(2) == 0 {
						if h.collect(id, amount) == nil {
							net[id] += amount
						}
					} else if h.drop(id, amount) == nil {
						net[id] -= amount
					}
					if v := conservationViolations(h.session.Store.Slots(), net); v != "" {
						violations = append(violations, fmt.Sprintf("step %d: %s", step, v))
					}
				}
				if len(violations) > 0 {
					return fmt.Sprintf("violations=%d", len(violations)), errors.New(violations[0])
				}
				return "violations=0", nil
			},
		},
	}
}

// conservationViolations compares the slots with the expected net amounts
// and checks no item occupies two slots.
func conservationViolations(slots []inventory.Slot, net map[item.ID]int) string {
	held := make(map[item.ID]int)
	var problems []string
	for i, slot := range slots {
		if !slot.Occupied() {
			continue
		}
		if _, dup := held[slot.Item]; dup {
			problems = append(problems, fmt.Sprintf("%s in two slots (second at %d)", slot.Item, i))
		}
		held[slot.Item] += slot.Quantity
	}
	for id, want := range net {
		if held[id] != want {
			problems = append(problems, fmt.Sprintf("%s held %d, expected %d", id, held[id], want))
		}
	}
	return strings.Join(problems, "; ")
}
