package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/recway/roadquality/server/internal/cache"
	"github.com/recway/roadquality/server/internal/clients/sensorlog"
	"github.com/recway/roadquality/server/internal/lib/matching"
	"github.com/recway/roadquality/server/internal/lib/segment"
	"github.com/recway/roadquality/server/internal/tiles"
)

func main() {
	trace := flag.String("trace", "", "trace CSV file")
	graphs := flag.String("graphs", "graphs", "directory of tile artifacts")
	maxLength := flag.Float64("max-length", 100, "maximum piece length in meters")
	verbose := flag.Bool("verbose", false, "print every fix, not only changes")
	flag.Parse()

	if *trace == "" {
		fmt.Println("Example usage:")
		fmt.Println("  test-map-matcher --trace RecWay_2023-11-14.csv --graphs graphs")
		os.Exit(1)
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	table, err := sensorlog.NewReader(logger).ReadFile(*trace)
	if err != nil {
		log.Fatalf("Error reading trace: %v", err)
	}

	store := tiles.NewStore(*graphs, tiles.DefaultPrefix, tiles.DefaultGrid(), cache.NewTileCache(logger), logger)
	cfg := matching.DefaultConfig()
	matcher := matching.NewMapMatcher(store, cfg, logger)
	segmenter := segment.NewSegmenter(*maxLength, cfg.BufferWidth)

	fmt.Printf("Trace %s: %d samples at %g Hz\n\n", table.Name, table.Len(), table.Metadata.SamplingRate)

	ctx := context.Background()
	changes := 0
	for _, row := range table.GPSChanged() {
		s := table.Samples[row]
		fix := matching.Fix{Lat: s.Lat, Lon: s.Lon, Speed: s.Speed, Heading: s.Heading}

		if _, err := matcher.Match(ctx, fix); err != nil {
			fmt.Printf("row %6d  %.6f,%.6f  error: %v\n", row, s.Lat, s.Lon, err)
			continue
		}
		state := matcher.State()
		segmenter.Locate(state, fix.Point())

		if !state.SegmentChanged() && !*verbose {
			continue
		}
		if state.SegmentChanged() {
			changes++
		}

		name := segment.UndefinedName
		if state.Info != nil && state.Info.Name != "" {
			name = state.Info.Name
		}
		fmt.Printf("row %6d  %.6f,%.6f  tile %d  edge %s  piece %d (%.1f m)  %s\n",
			row, s.Lat, s.Lon, state.Tile, state.Edge, state.PieceIndex, state.PieceLength, name)
	}

	fmt.Printf("\n%d segment changes\n", changes)
	stats := store.Cache().Stats()
	fmt.Printf("%d tiles loaded, %d cache hits\n", stats.TotalEntries, stats.TotalHits)
}
