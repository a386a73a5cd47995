package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recway/roadquality/server/internal/lib/graph"
)

func testIndex(tile int) *graph.Index {
	return &graph.Index{Tile: tile, Source: "memory", Graph: graph.New(), Spatial: graph.NewSpatialIndex(nil)}
}

func TestTileCache_SetGet(t *testing.T) {
	c := NewTileCache(zap.NewNop())

	_, ok := c.Get(7)
	assert.False(t, ok)

	c.Set(7, testIndex(7))
	index, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, 7, index.Tile)

	c.Set(3, testIndex(3))
	assert.Equal(t, []int{3, 7}, c.Keys())

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.TotalHits)

	c.Delete(7)
	assert.Equal(t, []int{3}, c.Keys())
	c.Clear()
	assert.Empty(t, c.Keys())
}

func TestTileCache_GetOrLoadLoadsOnce(t *testing.T) {
	c := NewTileCache(zap.NewNop())

	var loads int32
	release := make(chan struct{})
	load := func(ctx context.Context) (*graph.Index, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return testIndex(42), nil
	}

	var wg sync.WaitGroup
	results := make([]*graph.Index, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			index, err := c.GetOrLoad(context.Background(), 42, load)
			assert.NoError(t, err)
			results[i] = index
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	for _, index := range results {
		assert.Same(t, results[0], index)
	}

	// A later call is served from memory.
	_, err := c.GetOrLoad(context.Background(), 42, func(ctx context.Context) (*graph.Index, error) {
		t.Fatal("tile should already be cached")
		return nil, nil
	})
	require.NoError(t, err)
}

func TestTileCache_GetOrLoadError(t *testing.T) {
	c := NewTileCache(zap.NewNop())
	boom := errors.New("boom")

	_, err := c.GetOrLoad(context.Background(), 1, func(ctx context.Context) (*graph.Index, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, c.Keys(), "failed loads are not cached")
}

func TestTileCache_CleanupIdle(t *testing.T) {
	c := NewTileCache(zap.NewNop())
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set(1, testIndex(1))
	now = now.Add(10 * time.Minute)
	c.Set(2, testIndex(2))

	removed := c.CleanupIdle(5 * time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []int{2}, c.Keys())
}

func TestTileCache_EvictKeepsStats(t *testing.T) {
	c := NewTileCache(zap.NewNop())
	c.Set(1, testIndex(1))
	c.Set(2, testIndex(2))
	_, ok := c.Get(2)
	require.True(t, ok)

	assert.True(t, c.Evict(1))
	assert.False(t, c.Evict(1))
	assert.Equal(t, []int{2}, c.Keys())

	stats := c.Stats()
	assert.Equal(t, 1, stats.TotalEntries)
	assert.Equal(t, 1, stats.TotalHits)
}

func TestTileCache_EvictDuringLoad(t *testing.T) {
	c := NewTileCache(zap.NewNop())
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan *graph.Index)
	go func() {
		index, err := c.GetOrLoad(context.Background(), 3, func(ctx context.Context) (*graph.Index, error) {
			close(started)
			<-release
			return testIndex(3), nil
		})
		assert.NoError(t, err)
		done <- index
	}()

	<-started
	assert.False(t, c.Evict(3))
	close(release)

	assert.NotNil(t, <-done, "callers of the stale load still get a result")
	_, cached := c.Get(3)
	assert.False(t, cached, "the stale load is not stored")

	var loads atomic.Int32
	index, err := c.GetOrLoad(context.Background(), 3, func(ctx context.Context) (*graph.Index, error) {
		loads.Add(1)
		return testIndex(3), nil
	})
	require.NoError(t, err)
	assert.NotNil(t, index)
	assert.Equal(t, int32(1), loads.Load())
	_, cached = c.Get(3)
	assert.True(t, cached)
}
