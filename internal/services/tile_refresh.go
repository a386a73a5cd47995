package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/recway/roadquality/server/internal/cache"
	"github.com/recway/roadquality/server/internal/config"
	"github.com/recway/roadquality/server/internal/tiles"
)

// ErrRefresherRunning is returned when Start is called twice
var ErrRefresherRunning = errors.New("tile refresher already running")

// TileRefresher evicts cached tiles whose artifact is rewritten, moved or
// removed while traces are being processed, so the next fix in that tile
// reads the new artifact.
type TileRefresher struct {
	cache  *cache.TileCache
	dir    string
	prefix string
	logger *zap.Logger

	mu       sync.Mutex
	stopChan chan struct{}
	stopped  chan struct{}
	running  bool
}

// NewTileRefresher creates a refresher for the artifacts under cfg.Dir
func NewTileRefresher(tileCache *cache.TileCache, cfg config.TilesConfig, logger *zap.Logger) *TileRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = tiles.DefaultPrefix
	}
	return &TileRefresher{
		cache:  tileCache,
		dir:    cfg.Dir,
		prefix: prefix,
		logger: logger,
	}
}

// Start watches the artifact directory and its subdirectories in the background
func (r *TileRefresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRefresherRunning
	}

	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create artifact watcher: %w", err)
	}
	err = filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return notify.Add(path)
		}
		return nil
	})
	if err != nil {
		notify.Close()
		return fmt.Errorf("failed to watch %s: %w", r.dir, err)
	}

	r.running = true
	r.stopChan = make(chan struct{})
	r.stopped = make(chan struct{})

	r.logger.Info("Watching tile artifacts", zap.String("dir", r.dir), zap.String("prefix", r.prefix))

	go r.refreshLoop(ctx, notify)
	return nil
}

// Stop ends the background loop
func (r *TileRefresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	stopped := r.stopped
	r.mu.Unlock()

	<-stopped
	r.logger.Info("Stopped tile refresher")
}

// IsRunning returns whether the refresher is active
func (r *TileRefresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *TileRefresher) refreshLoop(ctx context.Context, notify *fsnotify.Watcher) {
	defer close(r.stopped)
	defer notify.Close()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Tile refresher: recovered from panic",
				zap.Any("error", rec), zap.Stack("error.stack_trace"))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Tile refresher stopping due to context cancellation")
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
			return
		case <-r.stopChan:
			return
		case event, ok := <-notify.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				r.Invalidate(event.Name)
			}
		case err, ok := <-notify.Errors:
			if !ok {
				return
			}
			r.logger.Warn("Artifact watcher error", zap.Error(err))
		}
	}
}

// Invalidate evicts the tile whose artifact is at path. It reports the tile
// and whether path named an artifact at all.
func (r *TileRefresher) Invalidate(path string) (int, bool) {
	if filepath.Ext(path) != tiles.ArtifactExt {
		return 0, false
	}
	tile, _, err := tiles.ParseArtifactName(path, r.prefix)
	if err != nil {
		return 0, false
	}

	if r.cache.Evict(tile) {
		r.logger.Info("Evicted changed tile", zap.Int("tile", tile), zap.String("path", path))
	}
	return tile, true
}
