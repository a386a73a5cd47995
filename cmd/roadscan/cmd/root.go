package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/recway/roadquality/server/internal/cache"
	"github.com/recway/roadquality/server/internal/clients/sensorlog"
	"github.com/recway/roadquality/server/internal/config"
	"github.com/recway/roadquality/server/internal/export"
	"github.com/recway/roadquality/server/internal/logging"
	"github.com/recway/roadquality/server/internal/services"
	"github.com/recway/roadquality/server/internal/tiles"
)

var (
	configPath string
	csvDir     string
	prefix     string
	graphsDir  string
	outDir     string
	archiveDir string
	workers    int
	kmlOutput  bool
	watchTiles bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "roadscan",
	Short: "Road surface quality from phone sensor traces",
	Long: `roadscan matches recorded drives onto the street network, cuts every street
into pieces of at most 100 m and reports a roughness index and the detected
potholes for each piece that was driven.

Settings come from the --config YAML file, ROADSCAN_ environment variables
(ROADSCAN_BATCH__WORKERS=4) and the flags below, later sources winning.`,
	SilenceUsage: true,
}

// Execute runs the command line
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&csvDir, "csv-dir", "", "directory holding the trace CSV files")
	flags.StringVar(&prefix, "prefix", "", "substring trace file names must contain")
	flags.StringVar(&graphsDir, "graphs", "", "directory of tile artifacts")
	flags.StringVar(&outDir, "out", "", "directory records are written to")
	flags.StringVar(&archiveDir, "archive", "", "move processed traces into this directory")
	flags.IntVarP(&workers, "workers", "w", 0, "traces processed at once")
	flags.BoolVar(&kmlOutput, "kml", false, "also write a KML map per trace")
	flags.BoolVar(&watchTiles, "watch-tiles", false, "reload tiles whose artifact changes during the run")
	flags.BoolVarP(&verbose, "verbose", "v", false, "human readable debug logging")
}

// overrides maps the flags given on the command line to configuration keys
func overrides(cmd *cobra.Command) map[string]any {
	flags := cmd.Flags()
	out := make(map[string]any)
	set := func(flag, key string, value any) {
		if flags.Changed(flag) {
			out[key] = value
		}
	}

	set("csv-dir", "batch.input_dir", csvDir)
	set("prefix", "batch.prefix", prefix)
	set("graphs", "tiles.dir", graphsDir)
	set("out", "output.dir", outDir)
	set("archive", "batch.archive_dir", archiveDir)
	set("workers", "batch.workers", workers)
	set("kml", "output.kml", kmlOutput)
	set("watch-tiles", "tiles.watch", watchTiles)
	if verbose {
		out["logging.development"] = true
		out["logging.level"] = "debug"
	}
	return out
}

// app is the wiring shared by the commands
type app struct {
	config    *config.Config
	logger    *zap.Logger
	cache     *cache.TileCache
	refresher *services.TileRefresher
	batch     *services.BatchProcessor
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath, overrides(cmd))
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tileCache := cache.NewTileCache(logger)
	if cfg.Tiles.CleanupInterval > 0 && cfg.Tiles.CacheMaxIdle > 0 {
		tileCache.StartPeriodicCleanup(ctx, cfg.Tiles.CleanupInterval, cfg.Tiles.CacheMaxIdle)
	}
	store := tiles.NewStore(cfg.Tiles.Dir, cfg.Tiles.Prefix, cfg.Tiles.Grid, tileCache, logger)

	var refresher *services.TileRefresher
	if cfg.Tiles.Watch {
		refresher = services.NewTileRefresher(tileCache, cfg.Tiles, logger)
		if err := refresher.Start(ctx); err != nil {
			return nil, err
		}
	}

	sinks := export.MultiSink{export.JSONSink{Dir: cfg.Output.Dir}}
	if cfg.Output.KML {
		sinks = append(sinks, export.KMLSink{Dir: cfg.Output.Dir})
	}

	processor := services.NewTraceProcessor(store, cfg.Pipeline, cfg.Matching, logger)
	batch := services.NewBatchProcessor(sensorlog.NewReader(logger), processor, sinks, cfg.Batch, logger)
	batch.SetWarmer(services.NewTileWarmer(store, logger))

	logger.Info("Configuration loaded",
		zap.String("tiles", cfg.Tiles.Dir),
		zap.String("input", cfg.Batch.InputDir),
		zap.String("prefix", cfg.Batch.Prefix),
		zap.String("output", cfg.Output.Dir),
		zap.Int("workers", cfg.Batch.Workers),
		zap.Bool("kml", cfg.Output.KML))

	return &app{config: cfg, logger: logger, cache: tileCache, refresher: refresher, batch: batch}, nil
}

func (a *app) close() {
	if a.refresher != nil {
		a.refresher.Stop()
	}
	stats := a.cache.Stats()
	a.logger.Info("Tile cache",
		zap.Int("tiles", stats.TotalEntries),
		zap.Int("hits", stats.TotalHits),
		zap.Int("edges", stats.TotalEdges))
	_ = a.logger.Sync()
}

func printSummary(results []services.FileResult) {
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("FAIL %s: %v\n", r.Path, r.Err)
			continue
		}
		fmt.Printf("ok   %s: %d segments, %d skipped (%s)\n",
			r.Path, len(r.Result.Segments), len(r.Result.Skipped), r.Duration.Round(1e6))
	}
}
