package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recway/roadquality/server/internal/cache"
	"github.com/recway/roadquality/server/internal/config"
	"github.com/recway/roadquality/server/internal/tiles"
)

func packTile(t *testing.T, dir string, tile int) string {
	t.Helper()
	grid := tiles.DefaultGrid()
	path := filepath.Join(dir, tiles.ArtifactName(tiles.DefaultPrefix, tile, grid.TileBounds(tile)))
	require.NoError(t, tiles.WriteArtifact(context.Background(), path, tile, avenueTile(t).index.Graph))
	return path
}

func TestTileRefresher_Invalidate(t *testing.T) {
	dir := t.TempDir()
	path := packTile(t, dir, 7)

	tileCache := cache.NewTileCache(zap.NewNop())
	store := tiles.NewStore(dir, "", tiles.DefaultGrid(), tileCache, zap.NewNop())
	_, err := store.Load(context.Background(), 7)
	require.NoError(t, err)

	refresher := NewTileRefresher(tileCache, config.TilesConfig{Dir: dir}, nil)

	_, ok := refresher.Invalidate(filepath.Join(dir, "notes.txt"))
	assert.False(t, ok)
	_, ok = refresher.Invalidate(filepath.Join(dir, "other7pos1&0&0&1.sqlite"))
	assert.False(t, ok)

	tile, ok := refresher.Invalidate(path)
	assert.True(t, ok)
	assert.Equal(t, 7, tile)
	assert.Empty(t, tileCache.Keys())
	_, cached := tileCache.Get(7)
	assert.False(t, cached)
}

func TestTileRefresher_EvictsRewrittenArtifact(t *testing.T) {
	dir := t.TempDir()
	packTile(t, dir, 7)

	tileCache := cache.NewTileCache(zap.NewNop())
	store := tiles.NewStore(dir, tiles.DefaultPrefix, tiles.DefaultGrid(), tileCache, zap.NewNop())
	_, err := store.Load(context.Background(), 7)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refresher := NewTileRefresher(tileCache, config.TilesConfig{Dir: dir, Prefix: tiles.DefaultPrefix}, zap.NewNop())
	require.NoError(t, refresher.Start(ctx))
	assert.True(t, refresher.IsRunning())
	assert.ErrorIs(t, refresher.Start(ctx), ErrRefresherRunning)

	packTile(t, dir, 7)
	assert.Eventually(t, func() bool {
		_, cached := tileCache.Get(7)
		return !cached
	}, 5*time.Second, 20*time.Millisecond)

	_, err = store.Load(ctx, 7)
	require.NoError(t, err)

	refresher.Stop()
	assert.False(t, refresher.IsRunning())
	refresher.Stop()
}

func TestTileRefresher_MissingDirectory(t *testing.T) {
	refresher := NewTileRefresher(cache.NewTileCache(nil), config.TilesConfig{Dir: filepath.Join(t.TempDir(), "missing")}, nil)

	assert.Error(t, refresher.Start(context.Background()))
	assert.False(t, refresher.IsRunning())
}
