package cache

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/recway/roadquality/server/internal/lib/graph"
)

// LoadFunc loads one tile on a cache miss
type LoadFunc func(ctx context.Context) (*graph.Index, error)

// TileCache keeps loaded tiles in memory, keyed by tile id. Concurrent misses
// for the same tile share a single load.
type TileCache struct {
	entries     map[int]*TileEntry
	generations map[int]uint64 // bumped by Evict; loads started earlier are not stored
	mutex       sync.RWMutex
	group       singleflight.Group
	logger      *zap.Logger
	now         func() time.Time
}

// TileEntry represents a cached tile with metadata
type TileEntry struct {
	Tile     int          `json:"tile"`
	Index    *graph.Index `json:"-"`
	Source   string       `json:"source"`
	LoadedAt time.Time    `json:"loaded_at"`
	LastUsed time.Time    `json:"last_used"`
	Hits     int          `json:"hits"`
}

// TileStats provides cache usage statistics
type TileStats struct {
	TotalEntries int
	TotalEdges   int
	TotalHits    int
	OldestEntry  time.Time
	NewestEntry  time.Time
}

// NewTileCache creates a new in-memory tile cache
func NewTileCache(logger *zap.Logger) *TileCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TileCache{
		entries:     make(map[int]*TileEntry),
		generations: make(map[int]uint64),
		logger:      logger,
		now:         time.Now,
	}
}

// Set stores a loaded tile
func (c *TileCache) Set(tile int, index *graph.Index) {
	now := c.now()
	entry := &TileEntry{
		Tile:     tile,
		Index:    index,
		LoadedAt: now,
		LastUsed: now,
	}
	if index != nil {
		entry.Source = index.Source
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[tile] = entry
}

// Get returns a cached tile and marks it as used
func (c *TileCache) Get(tile int) (*graph.Index, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[tile]
	if !exists {
		return nil, false
	}
	entry.LastUsed = c.now()
	entry.Hits++
	return entry.Index, true
}

// GetOrLoad returns the cached tile or loads it with load. Only one load runs
// per tile at a time; concurrent callers wait for and share its result.
func (c *TileCache) GetOrLoad(ctx context.Context, tile int, load LoadFunc) (*graph.Index, error) {
	if index, ok := c.Get(tile); ok {
		return index, nil
	}

	v, err, shared := c.group.Do(strconv.Itoa(tile), func() (interface{}, error) {
		if index, ok := c.Get(tile); ok {
			return index, nil
		}

		generation := c.generation(tile)
		start := c.now()
		index, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if !c.setIfCurrent(tile, index, generation) {
			c.logger.Debug("Tile evicted while loading", zap.Int("tile", tile))
			return index, nil
		}

		c.logger.Info("Tile loaded",
			zap.Int("tile", tile),
			zap.String("source", index.Source),
			zap.Int("edges", index.Graph.EdgeCount()),
			zap.Duration("elapsed", c.now().Sub(start)))
		return index, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("Tile load shared", zap.Int("tile", tile))
	}
	return v.(*graph.Index), nil
}

func (c *TileCache) generation(tile int) uint64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.generations[tile]
}

// setIfCurrent stores a loaded tile unless it was evicted after the load began
func (c *TileCache) setIfCurrent(tile int, index *graph.Index, generation uint64) bool {
	now := c.now()
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.generations[tile] != generation {
		return false
	}
	c.entries[tile] = &TileEntry{
		Tile:     tile,
		Index:    index,
		Source:   index.Source,
		LoadedAt: now,
		LastUsed: now,
	}
	return true
}

// Evict drops a tile whose source changed without touching usage statistics.
// A load of the tile already in flight still returns to its callers but is
// not stored, and later misses start a fresh load. It reports whether the
// tile was cached.
func (c *TileCache) Evict(tile int) bool {
	c.mutex.Lock()
	_, cached := c.entries[tile]
	delete(c.entries, tile)
	c.generations[tile]++
	c.mutex.Unlock()

	c.group.Forget(strconv.Itoa(tile))
	return cached
}

// Delete removes a tile from cache
func (c *TileCache) Delete(tile int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.entries, tile)
}

// Clear removes all tiles from cache
func (c *TileCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[int]*TileEntry)
}

// Keys returns all cached tile ids in ascending order
func (c *TileCache) Keys() []int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	keys := make([]int, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Ints(keys)
	return keys
}

// Stats returns cache statistics
func (c *TileCache) Stats() TileStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	stats := TileStats{
		TotalEntries: len(c.entries),
	}

	for _, entry := range c.entries {
		stats.TotalHits += entry.Hits
		if entry.Index != nil && entry.Index.Graph != nil {
			stats.TotalEdges += entry.Index.Graph.EdgeCount()
		}

		if stats.OldestEntry.IsZero() || entry.LoadedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = entry.LoadedAt
		}
		if entry.LoadedAt.After(stats.NewestEntry) {
			stats.NewestEntry = entry.LoadedAt
		}
	}

	return stats
}

// CleanupIdle removes tiles not used for longer than maxIdle
func (c *TileCache) CleanupIdle(maxIdle time.Duration) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	cutoff := c.now().Add(-maxIdle)
	var removed int

	for key, entry := range c.entries {
		if entry.LastUsed.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}

	return removed
}

// StartPeriodicCleanup starts a goroutine that periodically evicts idle tiles
// until ctx is cancelled.
func (c *TileCache) StartPeriodicCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		defer func() {
			// Recover from any panics in the cache cleanup goroutine
			if r := recover(); r != nil {
				c.logger.Error("Tile cache cleanup: recovered from panic",
					zap.Any("error", r), zap.Stack("error.stack_trace"))
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.CleanupIdle(maxIdle); removed > 0 {
					c.logger.Info("Evicted idle tiles", zap.Int("removed", removed))
				}
			}
		}
	}()
}
