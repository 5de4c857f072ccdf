// Package cache provides in-process caching for quick state reads.
// The cache is never the source of truth; every write goes to the
// underlying repository first.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Kattete/Tidal-Miner/internal/infra/storage"
)

// InventoryCache is a read-through, write-through LRU in front of an
// InventoryRepository. It satisfies storage.InventoryRepository.
type InventoryCache struct {
	repo   storage.InventoryRepository
	lru    *lru.Cache[string, storage.InventorySnapshot]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewInventoryCache keeps up to size snapshots in memory.
func NewInventoryCache(repo storage.InventoryRepository, size int) (*InventoryCache, error) {
	c, err := lru.New[string, storage.InventorySnapshot](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}
	return &InventoryCache{repo: repo, lru: c}, nil
}

// Save writes through to the repository, then caches the snapshot.
func (c *InventoryCache) Save(ctx context.Context, snapshot storage.InventorySnapshot) error {
	if err := c.repo.Save(ctx, snapshot); err != nil {
		c.lru.Remove(snapshot.SessionID)
		return err
	}
	c.lru.Add(snapshot.SessionID, snapshot.Clone())
	return nil
}

// Load serves from memory when possible.
func (c *InventoryCache) Load(ctx context.Context, sessionID string) (storage.InventorySnapshot, error) {
	if snap, ok := c.lru.Get(sessionID); ok {
		c.hits.Add(1)
		return snap.Clone(), nil
	}
	c.misses.Add(1)

	snap, err := c.repo.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.InventorySnapshot{}, err
		}
		return storage.InventorySnapshot{}, fmt.Errorf("cache miss for %s: %w", sessionID, err)
	}
	c.lru.Add(sessionID, snap.Clone())
	return snap, nil
}

// List always reads the repository; it is only used at boot.
func (c *InventoryCache) List(ctx context.Context) ([]storage.InventorySnapshot, error) {
	return c.repo.List(ctx)
}

// Invalidate drops one session from memory.
func (c *InventoryCache) Invalidate(sessionID string) {
	c.lru.Remove(sessionID)
}

// Stats returns cache hits, misses and the current entry count.
func (c *InventoryCache) Stats() (hits, misses int64, entries int) {
	return c.hits.Load(), c.misses.Load(), c.lru.Len()
}
