// Package config holds the server's tunables: listen address, storage,
// inventory capacity, loop timing and channel sizing.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds tuned parameters for one server process.
type Config struct {
	Addr          string
	DBPath        string
	RecipesFile   string // empty means the built-in recipe set
	AllowedOrigin string // empty allows any origin

	InventoryCapacity int

	TickRate         time.Duration
	SnapshotInterval time.Duration
	IdleRelease      time.Duration // 0 keeps every session in memory

	// Channel buffer sizes
	EventChannelBuffer     int
	BroadcastChannelBuffer int
	ClientSendBuffer       int

	// Connection pools
	DBMaxOpenConns int
	DBMaxIdleConns int

	SnapshotCacheSize int

	// Rate limiting
	MaxMessagesPerSecond int
	MaxClientsPerSession int
}

// Default returns sensible defaults for production.
func Default() *Config {
	numCPU := runtime.NumCPU()

	return &Config{
		Addr:   ":8080",
		DBPath: "tidal.db",

		InventoryCapacity: 24,

		TickRate:         100 * time.Millisecond,
		SnapshotInterval: 30 * time.Second,
		IdleRelease:      30 * time.Minute,

		EventChannelBuffer:     1024,
		BroadcastChannelBuffer: 256,
		ClientSendBuffer:       64,

		// SQLite allows one writer; extra connections only serve readers.
		DBMaxOpenConns: numCPU * 2,
		DBMaxIdleConns: numCPU,

		SnapshotCacheSize: 512,

		MaxMessagesPerSecond: 30,
		MaxClientsPerSession: 4,
	}
}

// LowResource returns minimal settings for development and tests.
func LowResource() *Config {
	return &Config{
		Addr:   "127.0.0.1:8080",
		DBPath: "tidal-dev.db",

		InventoryCapacity: 8,

		TickRate:         250 * time.Millisecond,
		SnapshotInterval: 5 * time.Second,
		IdleRelease:      2 * time.Minute,

		EventChannelBuffer:     64,
		BroadcastChannelBuffer: 16,
		ClientSendBuffer:       8,

		DBMaxOpenConns: 2,
		DBMaxIdleConns: 1,

		SnapshotCacheSize: 16,

		MaxMessagesPerSecond: 10,
		MaxClientsPerSession: 2,
	}
}

// FromEnv starts from Default, loads the given dotenv files (".env" when none
// are named, skipped if missing) and overlays TIDAL_* variables. Variables
// already set in the process environment win over dotenv values.
func FromEnv(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", strings.Join(files, ", "), err)
	}

	cfg := Default()
	strs := map[string]*string{
		"TIDAL_ADDR":           &cfg.Addr,
		"TIDAL_DB_PATH":        &cfg.DBPath,
		"TIDAL_RECIPES_FILE":   &cfg.RecipesFile,
		"TIDAL_ALLOWED_ORIGIN": &cfg.AllowedOrigin,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TIDAL_INVENTORY_CAPACITY":   &cfg.InventoryCapacity,
		"TIDAL_SNAPSHOT_CACHE_SIZE":  &cfg.SnapshotCacheSize,
		"TIDAL_CLIENT_SEND_BUFFER":   &cfg.ClientSendBuffer,
		"TIDAL_MAX_MESSAGES_PER_SEC": &cfg.MaxMessagesPerSecond,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"TIDAL_TICK_RATE":         &cfg.TickRate,
		"TIDAL_SNAPSHOT_INTERVAL": &cfg.SnapshotInterval,
		"TIDAL_IDLE_RELEASE":      &cfg.IdleRelease,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("config: listen address is empty")
	case c.InventoryCapacity < 1:
		return fmt.Errorf("config: inventory capacity must be at least 1, got %d", c.InventoryCapacity)
	case c.TickRate <= 0:
		return fmt.Errorf("config: tick rate must be positive, got %v", c.TickRate)
	case c.SnapshotInterval < 0:
		return fmt.Errorf("config: snapshot interval must not be negative, got %v", c.SnapshotInterval)
	case c.IdleRelease < 0:
		return fmt.Errorf("config: idle release must not be negative, got %v", c.IdleRelease)
	case c.SnapshotCacheSize < 1:
		return fmt.Errorf("config: snapshot cache size must be at least 1, got %d", c.SnapshotCacheSize)
	case c.ClientSendBuffer < 1 || c.BroadcastChannelBuffer < 1 || c.EventChannelBuffer < 1:
		return errors.New("config: channel buffers must be at least 1")
	case c.MaxMessagesPerSecond < 1:
		return fmt.Errorf("config: message rate limit must be at least 1, got %d", c.MaxMessagesPerSecond)
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Recommendations provides suggestions based on observed metrics.
type Recommendations struct {
	IncreaseBroadcastBuffer bool
	IncreaseDBConnections   bool
	SlowTick                bool
	Notes                   []string
}

// Analyze examines a metrics snapshot and returns tuning recommendations.
func Analyze(metrics map[string]interface{}) *Recommendations {
	rec := &Recommendations{
		Notes: make([]string, 0),
	}

	if tick, ok := metrics["tick"].(map[string]interface{}); ok {
		if maxLat, ok := tick["max_latency_ms"].(float64); ok && maxLat > 50 {
			rec.SlowTick = true
			rec.Notes = append(rec.Notes, "Tick latency exceeds 50ms - too many pending craft jobs or slow observers")
		}
	}

	if events, ok := metrics["events"].(map[string]interface{}); ok {
		if maxLat, ok := events["max_write_lat_ms"].(float64); ok && maxLat > 50 {
			rec.IncreaseDBConnections = true
			rec.Notes = append(rec.Notes, "Event write latency exceeds 50ms - increase DB connections")
		}
		if errs, ok := events["errors"].(int64); ok && errs > 0 {
			rec.IncreaseDBConnections = true
			rec.Notes = append(rec.Notes, "Event write errors detected - check the database file")
		}
	}

	if ws, ok := metrics["websocket"].(map[string]interface{}); ok {
		if errs, ok := ws["errors"].(int64); ok && errs > 0 {
			rec.IncreaseBroadcastBuffer = true
			rec.Notes = append(rec.Notes, "WebSocket errors detected - increase client send buffer")
		}
	}

	return rec
}

// Apply returns a copy of c adjusted by rec.
func (c *Config) Apply(rec *Recommendations) *Config {
	out := *c
	if rec.IncreaseBroadcastBuffer {
		out.BroadcastChannelBuffer *= 2
		out.ClientSendBuffer *= 2
	}
	if rec.IncreaseDBConnections {
		out.DBMaxOpenConns = int(float64(out.DBMaxOpenConns) * 1.5)
		out.DBMaxIdleConns = int(float64(out.DBMaxIdleConns) * 1.5)
	}
	return &out
}
