package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Kattete/Tidal-Miner/internal/events"
	"github.com/Kattete/Tidal-Miner/internal/platform/logger"
	"github.com/Kattete/Tidal-Miner/internal/platform/metrics"
)

// DefaultTickRate is how often the host loop advances craft jobs.
const DefaultTickRate = 100 * time.Millisecond

// heartbeatEvery is how many ticks pass between TIME_TICK events.
const heartbeatEvery = 600

// TimeTickPayload is the data attached to each TIME_TICK event.
type TimeTickPayload struct {
	TickNumber  int64 `json:"tick_number"`
	UptimeMS    int64 `json:"uptime_ms"`
	PendingJobs int   `json:"pending_jobs"`
}

// Ticker is the host loop. It knows nothing about inventories, only time.
type Ticker struct {
	eventLog   *events.EventLog
	logger     *logger.Logger
	metrics    *metrics.Collector
	rate       time.Duration
	step       func(dt time.Duration) int
	pending    func() int
	tickNumber int64
	started    time.Time
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewTicker creates a ticker that calls step with the elapsed time on every tick.
func NewTicker(eventLog *events.EventLog, log *logger.Logger, m *metrics.Collector, rate time.Duration, step func(time.Duration) int, pending func() int) *Ticker {
	if rate <= 0 {
		rate = DefaultTickRate
	}
	return &Ticker{
		eventLog: eventLog,
		logger:   log,
		metrics:  m,
		rate:     rate,
		step:     step,
		pending:  pending,
		stopChan: make(chan struct{}),
	}
}

// Start begins the loop. Call in a goroutine.
func (t *Ticker) Start(ctx context.Context) {
	t.logger.Infof("Engine ticker started at %v per tick", t.rate)
	t.started = time.Now()

	ticker := time.NewTicker(t.rate)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Engine ticker stopped by context.")
			return
		case <-t.stopChan:
			t.logger.Info("Engine ticker stopped manually.")
			return
		case now := <-ticker.C:
			t.tick(now.Sub(last))
			last = now
		}
	}
}

// Stop gracefully stops the ticker. Calling it again does nothing.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}

func (t *Ticker) tick(dt time.Duration) {
	begin := time.Now()
	t.tickNumber++
	t.step(dt)
	t.metrics.RecordTick(time.Since(begin))

	if t.tickNumber%heartbeatEvery != 0 {
		return
	}
	payload := TimeTickPayload{
		TickNumber:  t.tickNumber,
		UptimeMS:    time.Since(t.started).Milliseconds(),
		PendingJobs: t.pending(),
	}
	t.eventLog.Append(events.New(events.EventTypeTimeTick, "", "SYSTEM", "", payload))
	t.logger.Event("TIME_TICK", "SYSTEM", fmt.Sprintf("tick %d, %d craft jobs pending", payload.TickNumber, payload.PendingJobs))
}
