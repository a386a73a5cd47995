package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recway/roadquality/server/internal/lib/graph"
	"github.com/recway/roadquality/server/internal/lib/sensor"
)

// stripTiles puts every 0.01 degree of longitude in its own tile
type stripTiles struct {
	mu     sync.Mutex
	loaded []int
	broken int
}

func (s *stripTiles) TileFor(lat, lon float64) int {
	return int((lon + 75) * 100)
}

func (s *stripTiles) Load(ctx context.Context, tile int) (*graph.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tile == s.broken {
		return nil, errors.New("corrupt artifact")
	}
	s.loaded = append(s.loaded, tile)
	return &graph.Index{Tile: tile}, nil
}

func crossingTrace() *sensor.Table {
	return &sensor.Table{Name: "crossing", Samples: []sensor.Sample{
		{Lat: 4.6, Lon: -74.985},
		{Lat: 4.6, Lon: -74.985},
		{Lat: 4.6, Lon: -74.975},
		{Lat: 4.6, Lon: -74.955},
		{Lat: 4.6, Lon: -74.986},
	}}
}

func TestTileWarmer_TilesOf(t *testing.T) {
	warmer := NewTileWarmer(&stripTiles{}, nil)
	assert.Equal(t, []int{1, 2, 4}, warmer.TilesOf(crossingTrace()))
}

func TestTileWarmer_Warm(t *testing.T) {
	tiles := &stripTiles{broken: 2}
	loaded, err := NewTileWarmer(tiles, nil).Warm(context.Background(), crossingTrace())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt artifact")
	assert.Equal(t, 2, loaded)
	assert.ElementsMatch(t, []int{1, 4}, tiles.loaded)
}
