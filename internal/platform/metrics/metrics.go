// Package metrics provides observability for the Tidal Miner server.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Collector gathers performance and gameplay metrics.
type Collector struct {
	// Tick metrics
	TickCount      int64
	TickLatencySum int64 // nanoseconds
	TickLatencyMax int64
	LastTickTime   time.Time

	// Event metrics
	EventsWritten    int64
	EventWriteLatSum int64
	EventWriteLatMax int64
	EventWriteErrors int64

	// WebSocket metrics
	WSConnectionsActive int64
	WSMessagesIn        int64
	WSMessagesOut       int64
	WSErrors            int64

	// Inventory and crafting
	SessionsActive   int64
	ItemsCollected   int64
	CollectRejected  int64
	ItemsRemoved     int64
	CraftsSucceeded  int64
	CraftsFailed     int64
	CraftOutputsLost int64
	SnapshotsSaved   int64

	// System
	StartTime time.Time
	mu        sync.RWMutex

	cacheStats func() (hits, misses int64, entries int)
}

// Global collector instance
var collector = New()

// New returns an empty collector. Servers use Get; tests build their own.
func New() *Collector {
	return &Collector{StartTime: time.Now()}
}

// Get returns the global collector.
func Get() *Collector {
	return collector
}

// RecordTick records a tick cycle completion.
func (c *Collector) RecordTick(latency time.Duration) {
	atomic.AddInt64(&c.TickCount, 1)
	atomic.AddInt64(&c.TickLatencySum, int64(latency))
	storeMax(&c.TickLatencyMax, int64(latency))

	c.mu.Lock()
	c.LastTickTime = time.Now()
	c.mu.Unlock()
}

// RecordEventWrite records an event write to the database.
func (c *Collector) RecordEventWrite(latency time.Duration, err error) {
	atomic.AddInt64(&c.EventsWritten, 1)
	atomic.AddInt64(&c.EventWriteLatSum, int64(latency))
	storeMax(&c.EventWriteLatMax, int64(latency))

	if err != nil {
		atomic.AddInt64(&c.EventWriteErrors, 1)
	}
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int64) {
	atomic.AddInt64(&c.WSConnectionsActive, delta)
}

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	if incoming {
		atomic.AddInt64(&c.WSMessagesIn, 1)
	} else {
		atomic.AddInt64(&c.WSMessagesOut, 1)
	}
}

// RecordWSError records a WebSocket error.
func (c *Collector) RecordWSError() {
	atomic.AddInt64(&c.WSErrors, 1)
}

// RecordSession records a session being started or restored.
func (c *Collector) RecordSession() {
	atomic.AddInt64(&c.SessionsActive, 1)
}

// RecordSessionReleased records an idle session leaving memory.
func (c *Collector) RecordSessionReleased() {
	atomic.AddInt64(&c.SessionsActive, -1)
}

// SetCacheStats registers the snapshot cache whose hit rate is reported.
func (c *Collector) SetCacheStats(fn func() (hits, misses int64, entries int)) {
	c.mu.Lock()
	c.cacheStats = fn
	c.mu.Unlock()
}

func (c *Collector) readCache() (hits, misses int64, entries int, ok bool) {
	c.mu.RLock()
	fn := c.cacheStats
	c.mu.RUnlock()
	if fn == nil {
		return 0, 0, 0, false
	}
	hits, misses, entries = fn()
	return hits, misses, entries, true
}

// RecordCollect records a pickup attempt.
func (c *Collector) RecordCollect(amount int, accepted bool) {
	if accepted {
		atomic.AddInt64(&c.ItemsCollected, int64(amount))
	} else {
		atomic.AddInt64(&c.CollectRejected, 1)
	}
}

// RecordRemove records items leaving an inventory outside crafting.
func (c *Collector) RecordRemove(amount int) {
	atomic.AddInt64(&c.ItemsRemoved, int64(amount))
}

// RecordCraft records a craft attempt.
func (c *Collector) RecordCraft(ok bool) {
	if ok {
		atomic.AddInt64(&c.CraftsSucceeded, 1)
	} else {
		atomic.AddInt64(&c.CraftsFailed, 1)
	}
}

// RecordCraftOutputLost records a product that did not fit anywhere.
func (c *Collector) RecordCraftOutputLost() {
	atomic.AddInt64(&c.CraftOutputsLost, 1)
}

func (c *Collector) RecordSnapshot() {
	atomic.AddInt64(&c.SnapshotsSaved, 1)
}

func storeMax(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v <= cur || atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	lastTick := c.LastTickTime
	c.mu.RUnlock()

	tickCount := atomic.LoadInt64(&c.TickCount)
	eventsWritten := atomic.LoadInt64(&c.EventsWritten)

	var tickAvg, eventAvg float64
	if tickCount > 0 {
		tickAvg = float64(atomic.LoadInt64(&c.TickLatencySum)) / float64(tickCount) / 1e6 // ms
	}
	if eventsWritten > 0 {
		eventAvg = float64(atomic.LoadInt64(&c.EventWriteLatSum)) / float64(eventsWritten) / 1e6
	}

	out := map[string]interface{}{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),
		"started":        humanize.Time(c.StartTime),

		"tick": map[string]interface{}{
			"count":          tickCount,
			"avg_latency_ms": tickAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.TickLatencyMax)) / 1e6,
			"last_tick":      lastTick.Format(time.RFC3339),
		},

		"events": map[string]interface{}{
			"written":          eventsWritten,
			"avg_write_lat_ms": eventAvg,
			"max_write_lat_ms": float64(atomic.LoadInt64(&c.EventWriteLatMax)) / 1e6,
			"errors":           atomic.LoadInt64(&c.EventWriteErrors),
		},

		"websocket": map[string]interface{}{
			"active_connections": atomic.LoadInt64(&c.WSConnectionsActive),
			"messages_in":        atomic.LoadInt64(&c.WSMessagesIn),
			"messages_out":       atomic.LoadInt64(&c.WSMessagesOut),
			"errors":             atomic.LoadInt64(&c.WSErrors),
		},

		"inventory": map[string]interface{}{
			"sessions":         atomic.LoadInt64(&c.SessionsActive),
			"items_collected":  atomic.LoadInt64(&c.ItemsCollected),
			"collect_rejected": atomic.LoadInt64(&c.CollectRejected),
			"items_removed":    atomic.LoadInt64(&c.ItemsRemoved),
			"snapshots_saved":  atomic.LoadInt64(&c.SnapshotsSaved),
		},

		"crafting": map[string]interface{}{
			"succeeded":    atomic.LoadInt64(&c.CraftsSucceeded),
			"failed":       atomic.LoadInt64(&c.CraftsFailed),
			"outputs_lost": atomic.LoadInt64(&c.CraftOutputsLost),
		},
	}
	if hits, misses, entries, ok := c.readCache(); ok {
		out["snapshot_cache"] = map[string]interface{}{
			"hits":    hits,
			"misses":  misses,
			"entries": entries,
		}
	}
	return out
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.HandlerFunc {
	return collector.Handler()
}

// PrometheusHandler returns the global collector in Prometheus format.
func PrometheusHandler() http.HandlerFunc {
	return collector.PrometheusHandler()
}

func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		json.NewEncoder(w).Encode(c.Snapshot())
	}
}

func (c *Collector) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		write := func(name, kind, help string, value interface{}) {
			fmt.Fprintf(w, "# HELP %s %s\n", name, help)
			fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
			switch v := value.(type) {
			case float64:
				fmt.Fprintf(w, "%s %.2f\n\n", name, v)
			default:
				fmt.Fprintf(w, "%s %d\n\n", name, v)
			}
		}

		write("tidal_tick_count", "counter", "Total tick cycles", atomic.LoadInt64(&c.TickCount))
		write("tidal_tick_latency_max_ms", "gauge", "Maximum tick latency", float64(atomic.LoadInt64(&c.TickLatencyMax))/1e6)

		write("tidal_events_written", "counter", "Total events written", atomic.LoadInt64(&c.EventsWritten))
		write("tidal_event_write_errors", "counter", "Total event write errors", atomic.LoadInt64(&c.EventWriteErrors))

		write("tidal_ws_connections", "gauge", "Active WebSocket connections", atomic.LoadInt64(&c.WSConnectionsActive))
		fmt.Fprintf(w, "# HELP tidal_ws_messages_total Total WebSocket messages\n")
		fmt.Fprintf(w, "# TYPE tidal_ws_messages_total counter\n")
		fmt.Fprintf(w, "tidal_ws_messages_total{direction=\"in\"} %d\n", atomic.LoadInt64(&c.WSMessagesIn))
		fmt.Fprintf(w, "tidal_ws_messages_total{direction=\"out\"} %d\n\n", atomic.LoadInt64(&c.WSMessagesOut))

		write("tidal_sessions", "gauge", "Sessions hosted by this process", atomic.LoadInt64(&c.SessionsActive))
		write("tidal_items_collected_total", "counter", "Items added to inventories by pickups", atomic.LoadInt64(&c.ItemsCollected))
		write("tidal_collect_rejected_total", "counter", "Pickups rejected because the inventory was full", atomic.LoadInt64(&c.CollectRejected))
		write("tidal_items_removed_total", "counter", "Items dropped from inventories", atomic.LoadInt64(&c.ItemsRemoved))

		fmt.Fprintf(w, "# HELP tidal_crafts_total Craft attempts by outcome\n")
		fmt.Fprintf(w, "# TYPE tidal_crafts_total counter\n")
		fmt.Fprintf(w, "tidal_crafts_total{result=\"ok\"} %d\n", atomic.LoadInt64(&c.CraftsSucceeded))
		fmt.Fprintf(w, "tidal_crafts_total{result=\"failed\"} %d\n\n", atomic.LoadInt64(&c.CraftsFailed))

		write("tidal_craft_outputs_lost_total", "counter", "Crafted products that fitted nowhere", atomic.LoadInt64(&c.CraftOutputsLost))
		write("tidal_snapshots_saved_total", "counter", "Inventory snapshots persisted", atomic.LoadInt64(&c.SnapshotsSaved))

		if hits, misses, entries, ok := c.readCache(); ok {
			write("tidal_snapshot_cache_hits_total", "counter", "Snapshot loads served from memory", hits)
			write("tidal_snapshot_cache_misses_total", "counter", "Snapshot loads that read SQLite", misses)
			write("tidal_snapshot_cache_entries", "gauge", "Snapshots held in memory", int64(entries))
		}
	}
}
