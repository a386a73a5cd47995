package services

import (
	"context"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/recway/roadquality/server/internal/lib/matching"
	"github.com/recway/roadquality/server/internal/lib/sensor"
)

// maxWarmLoads bounds the tiles loaded at once while warming
const maxWarmLoads = 4

// TileWarmer loads the tiles a trace will need before it is matched, so a
// trace crossing tiles does not stall on each swap.
type TileWarmer struct {
	tiles  matching.TileLocator
	logger *zap.Logger
}

// NewTileWarmer creates a warmer loading through tiles
func NewTileWarmer(tiles matching.TileLocator, logger *zap.Logger) *TileWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TileWarmer{tiles: tiles, logger: logger}
}

// TilesOf returns the distinct tiles under the GPS fixes of a trace, sorted
func (w *TileWarmer) TilesOf(table *sensor.Table) []int {
	seen := make(map[int]bool)
	for _, row := range table.GPSChanged() {
		s := table.Samples[row]
		seen[w.tiles.TileFor(s.Lat, s.Lon)] = true
	}

	tiles := make([]int, 0, len(seen))
	for tile := range seen {
		tiles = append(tiles, tile)
	}
	sort.Ints(tiles)
	return tiles
}

// Warm loads every tile of the trace. Failures are collected; a tile that
// cannot be loaded here will fail the trace again when it is matched.
func (w *TileWarmer) Warm(ctx context.Context, table *sensor.Table) (int, error) {
	start := time.Now()
	tiles := w.TilesOf(table)

	errs := make([]error, len(tiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWarmLoads)
	for i, tile := range tiles {
		g.Go(func() error {
			_, errs[i] = w.tiles.Load(gctx, tile)
			return nil
		})
	}
	_ = g.Wait()

	err := multierr.Combine(errs...)
	loaded := len(tiles) - len(multierr.Errors(err))

	w.logger.Debug("Warmed tiles",
		zap.String("trace", table.Name),
		zap.Ints("tiles", tiles),
		zap.Int("loaded", loaded),
		zap.Duration("duration", time.Since(start)))
	if err != nil {
		w.logger.Warn("Tile warming incomplete", zap.String("trace", table.Name), zap.Error(err))
	}
	return loaded, err
}
