package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Kattete/Tidal-Miner/internal/events"
	"github.com/Kattete/Tidal-Miner/internal/platform/logger"
	"github.com/Kattete/Tidal-Miner/internal/platform/metrics"
)

func TestTickerHeartbeat(t *testing.T) {
	el := events.NewEventLog(nil)
	var total time.Duration
	tk := NewTicker(el, logger.NewDiscard(), metrics.New(), 0,
		func(dt time.Duration) int { total += dt; return 0 },
		func() int { return 3 })
	if tk.rate != DefaultTickRate {
		t.Fatalf("expected default rate, got %v", tk.rate)
	}

	for i := 0; i < heartbeatEvery-1; i++ {
		tk.tick(time.Millisecond)
	}
	if n := len(el.ByType(events.EventTypeTimeTick)); n != 0 {
		t.Fatalf("expected no heartbeat yet, got %d", n)
	}
	tk.tick(time.Millisecond)

	beats := el.ByType(events.EventTypeTimeTick)
	if len(beats) != 1 {
		t.Fatalf("expected 1 heartbeat, got %d", len(beats))
	}
	payload := beats[0].Payload.(TimeTickPayload)
	if payload.TickNumber != heartbeatEvery || payload.PendingJobs != 3 {
		t.Errorf("unexpected heartbeat %+v", payload)
	}
	if total != heartbeatEvery*time.Millisecond {
		t.Errorf("step saw %v in total", total)
	}
}

func TestTickerStops(t *testing.T) {
	var steps int64
	tk := NewTicker(events.NewEventLog(nil), logger.NewDiscard(), metrics.New(), time.Millisecond,
		func(time.Duration) int { atomic.AddInt64(&steps, 1); return 0 },
		func() int { return 0 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		tk.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&steps) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt64(&steps) == 0 {
		t.Fatalf("ticker never stepped")
	}

	tk.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ticker did not stop")
	}
	tk.Stop()
}
