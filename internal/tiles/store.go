package tiles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/recway/roadquality/server/internal/cache"
	"github.com/recway/roadquality/server/internal/lib/graph"
)

// DefaultPrefix is the file name prefix of tile artifacts
const DefaultPrefix = "segN"

var errFound = errors.New("found")

// Store resolves tile ids to artifacts under a directory and keeps loaded
// tiles in a shared cache. It is safe for concurrent use.
type Store struct {
	dir    string
	prefix string
	grid   Grid
	cache  *cache.TileCache
	logger *zap.Logger
}

// NewStore creates a tile store rooted at dir
func NewStore(dir, prefix string, grid Grid, tileCache *cache.TileCache, logger *zap.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if tileCache == nil {
		tileCache = cache.NewTileCache(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:    dir,
		prefix: prefix,
		grid:   grid,
		cache:  tileCache,
		logger: logger,
	}
}

// TileFor returns the tile id containing (lat, lon)
func (s *Store) TileFor(lat, lon float64) int {
	return s.grid.TileFor(lat, lon)
}

// Locate finds the artifact of a tile by its name prefix, searching dir recursively
func (s *Store) Locate(tile int) (string, error) {
	want := artifactPrefix(s.prefix, tile)

	var found string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, want) && strings.HasSuffix(name, ArtifactExt) {
			found = path
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", fmt.Errorf("%w: failed to search %s: %w", ErrTileLoad, s.dir, err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: no artifact for tile %d in %s", ErrTileLoad, tile, s.dir)
	}
	return found, nil
}

// Load returns the tile index, reading the artifact on first use
func (s *Store) Load(ctx context.Context, tile int) (*graph.Index, error) {
	return s.cache.GetOrLoad(ctx, tile, func(ctx context.Context) (*graph.Index, error) {
		path, err := s.Locate(tile)
		if err != nil {
			return nil, err
		}

		if _, bounds, err := ParseArtifactName(path, s.prefix); err == nil {
			s.logger.Debug("Loading tile",
				zap.Int("tile", tile),
				zap.String("path", path),
				zap.Float64("north", bounds.North),
				zap.Float64("south", bounds.South),
				zap.Float64("west", bounds.West),
				zap.Float64("east", bounds.East))
		}

		index, err := ReadArtifact(ctx, path)
		if err != nil {
			return nil, err
		}
		if index.Tile != tile {
			return nil, fmt.Errorf("%w: artifact %s holds tile %d, expected %d", ErrTileLoad, path, index.Tile, tile)
		}
		return index, nil
	})
}

// Cache returns the tile cache backing the store
func (s *Store) Cache() *cache.TileCache {
	return s.cache
}
