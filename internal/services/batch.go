package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/recway/roadquality/server/internal/clients/sensorlog"
	"github.com/recway/roadquality/server/internal/config"
	"github.com/recway/roadquality/server/internal/export"
)

// FileResult is the outcome of one trace file of a batch
type FileResult struct {
	Path     string
	Result   *TraceResult
	Archived string
	Duration time.Duration
	Err      error
}

// BatchProcessor runs trace files through a TraceProcessor with a bounded
// number of files in flight and hands the records to a sink.
type BatchProcessor struct {
	reader    *sensorlog.Reader
	processor *TraceProcessor
	sink      export.Sink
	warmer    *TileWarmer
	config    config.BatchConfig
	logger    *zap.Logger
}

// NewBatchProcessor creates a batch processor. A nil sink discards records.
func NewBatchProcessor(reader *sensorlog.Reader, processor *TraceProcessor, sink export.Sink, cfg config.BatchConfig, logger *zap.Logger) *BatchProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &BatchProcessor{
		reader:    reader,
		processor: processor,
		sink:      sink,
		config:    cfg,
		logger:    logger,
	}
}

// SetWarmer makes every trace load its tiles up front
func (b *BatchProcessor) SetWarmer(warmer *TileWarmer) {
	b.warmer = warmer
}

// Run processes files concurrently. Results keep the order of files; the
// returned error aggregates every file that failed. A failed file never stops
// the others.
func (b *BatchProcessor) Run(ctx context.Context, files []string) ([]FileResult, error) {
	results := make([]FileResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.Workers)

	start := time.Now()
	for i, path := range files {
		g.Go(func() error {
			results[i] = b.ProcessFile(gctx, path)
			return nil
		})
	}
	_ = g.Wait()

	var err error
	segments := 0
	for _, r := range results {
		err = multierr.Append(err, r.Err)
		if r.Result != nil {
			segments += len(r.Result.Segments)
		}
	}

	b.logger.Info("Batch complete",
		zap.Int("files", len(files)),
		zap.Int("failed", len(multierr.Errors(err))),
		zap.Int("segments", segments),
		zap.Duration("duration", time.Since(start)))

	return results, err
}

// ProcessFile reads, processes, exports and optionally archives one trace.
// A trace aborted by a missing tile still exports the records emitted before
// the abort and is not archived.
func (b *BatchProcessor) ProcessFile(ctx context.Context, path string) FileResult {
	start := time.Now()
	result := FileResult{Path: path}

	fail := func(err error) FileResult {
		b.logger.Error("Trace failed", zap.String("path", path), zap.Error(err))
		result.Err = fmt.Errorf("%s: %w", path, err)
		result.Duration = time.Since(start)
		return result
	}

	table, err := b.reader.ReadFile(path)
	if err != nil {
		return fail(err)
	}

	if b.warmer != nil {
		// Missing tiles surface again, with the trace context, from Process.
		_, _ = b.warmer.Warm(ctx, table)
	}

	result.Result, err = b.processor.Process(ctx, table)
	if err != nil {
		// Records emitted before an aborted trace are still written.
		if result.Result != nil && len(result.Result.Segments) > 0 && b.sink != nil {
			err = multierr.Append(err, b.sink.Write(ctx, table.Name, result.Result.Segments))
		}
		return fail(err)
	}

	if b.sink != nil {
		if err := b.sink.Write(ctx, table.Name, result.Result.Segments); err != nil {
			return fail(err)
		}
	}

	if b.config.ArchiveDir != "" {
		archived, err := ArchiveTrace(path, b.config.ArchiveDir)
		if err != nil {
			return fail(err)
		}
		result.Archived = archived
	}

	result.Duration = time.Since(start)
	b.logger.Debug("Trace done",
		zap.String("path", path),
		zap.Int("segments", len(result.Result.Segments)),
		zap.Duration("duration", result.Duration))
	return result
}

// FindTraces lists the regular files of dir whose name contains prefix,
// sorted by name.
func FindTraces(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces in %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.Contains(entry.Name(), prefix) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

var archiveMu sync.Mutex

// ArchiveTrace moves a processed trace into archiveDir and returns its new
// path. An existing file of the same name gets a numeric suffix.
func ArchiveTrace(path, archiveDir string) (string, error) {
	archiveMu.Lock()
	defer archiveMu.Unlock()

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive %s: %w", archiveDir, err)
	}

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	target := filepath.Join(archiveDir, base)
	for n := 1; ; n++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			break
		}
		target = filepath.Join(archiveDir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}

	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", path, err)
	}
	return target, nil
}
