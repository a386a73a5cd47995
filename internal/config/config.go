package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/recway/roadquality/server/internal/lib/matching"
	"github.com/recway/roadquality/server/internal/lib/signal"
	"github.com/recway/roadquality/server/internal/tiles"
)

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore: ROADSCAN_BATCH__WORKERS=4 sets batch.workers.
const EnvPrefix = "ROADSCAN_"

// ErrInvalidConfig is returned when a loaded configuration fails validation
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the complete processing configuration
type Config struct {
	Tiles    TilesConfig     `koanf:"tiles"`
	Matching matching.Config `koanf:"matching"`
	Pipeline PipelineConfig  `koanf:"pipeline"`
	Batch    BatchConfig     `koanf:"batch"`
	Output   OutputConfig    `koanf:"output"`
	Logging  LoggingConfig   `koanf:"logging"`
}

// TilesConfig locates the tile artifacts and tunes the tile cache
type TilesConfig struct {
	Dir             string        `koanf:"dir"`
	Prefix          string        `koanf:"prefix"`
	Grid            tiles.Grid    `koanf:"grid"`
	CacheMaxIdle    time.Duration `koanf:"cache_max_idle"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	Watch           bool          `koanf:"watch"` // evict tiles whose artifact changes
}

// PipelineConfig holds the per-trace processing parameters
type PipelineConfig struct {
	MaxPieceLength     float64     `koanf:"max_piece_length"` // meters
	TransientWindow    float64     `koanf:"transient_window"` // seconds
	Band               signal.Band `koanf:"band"`             // Hz
	MagnitudeThreshold float64     `koanf:"magnitude_threshold"`
	TimeThreshold      float64     `koanf:"time_threshold"`     // seconds
	MergeWindow        float64     `koanf:"merge_window"`       // seconds
	MinWindowSamples   int         `koanf:"min_window_samples"` // at the reference rate
}

// BatchConfig controls directory processing
type BatchConfig struct {
	InputDir   string `koanf:"input_dir"`
	Prefix     string `koanf:"prefix"`
	ArchiveDir string `koanf:"archive_dir"`
	Workers    int    `koanf:"workers"`
}

// OutputConfig selects where records are written
type OutputConfig struct {
	Dir string `koanf:"dir"`
	KML bool   `koanf:"kml"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

// DefaultConfig returns the calibrated defaults
func DefaultConfig() *Config {
	return &Config{
		Tiles: TilesConfig{
			Dir:             "graphs",
			Prefix:          tiles.DefaultPrefix,
			Grid:            tiles.DefaultGrid(),
			CacheMaxIdle:    30 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Matching: matching.DefaultConfig(),
		Pipeline: DefaultPipelineConfig(),
		Batch: BatchConfig{
			InputDir: ".",
			Prefix:   "RecWay_",
			Workers:  2,
		},
		Output: OutputConfig{
			Dir: "out",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPipelineConfig returns the calibrated trace processing parameters
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxPieceLength:     100,
		TransientWindow:    6,
		Band:               signal.Band{Low: 1, High: 10},
		MagnitudeThreshold: 3,
		TimeThreshold:      2,
		MergeWindow:        2,
		MinWindowSamples:   64,
	}
}

// Load builds the configuration from the defaults, an optional YAML file,
// ROADSCAN_ environment variables and explicit overrides, in that order.
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps ROADSCAN_TILES__DIR to tiles.dir
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var problems []string

	if c.Batch.Workers < 1 {
		problems = append(problems, "batch.workers must be at least 1")
	}
	if c.Pipeline.MaxPieceLength <= 0 {
		problems = append(problems, "pipeline.max_piece_length must be positive")
	}
	if c.Pipeline.TransientWindow <= 0 {
		problems = append(problems, "pipeline.transient_window must be positive")
	}
	if c.Pipeline.Band.Low <= 0 || c.Pipeline.Band.High <= c.Pipeline.Band.Low {
		problems = append(problems, "pipeline.band must satisfy 0 < low < high")
	}
	if c.Pipeline.MinWindowSamples < 1 {
		problems = append(problems, "pipeline.min_window_samples must be at least 1")
	}
	if !positive(c.Matching.BufferWidth) {
		problems = append(problems, "matching.buffer_width must be positive")
	}
	if !positive(c.Matching.NeighborDistance) {
		problems = append(problems, "matching.neighbor_distance must be positive")
	}
	if !positive(c.Matching.WideSearchRadius) {
		problems = append(problems, "matching.wide_search_radius must be positive")
	}
	w := c.Matching.Weights
	for _, v := range []float64{w.Direction, w.Level, w.Distance, w.Heading} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			problems = append(problems, "matching.weights must be finite and non-negative")
			break
		}
	}
	if c.Matching.CandidateCount < 1 {
		problems = append(problems, "matching.candidate_count must be at least 1")
	}
	if !positive(c.Matching.DistanceNorm) {
		problems = append(problems, "matching.distance_norm must be positive")
	}
	if c.Tiles.Grid.LatInterval <= 0 || c.Tiles.Grid.LonInterval <= 0 || c.Tiles.Grid.Columns < 1 {
		problems = append(problems, "tiles.grid intervals and columns must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// positive rejects zero, negative, NaN and infinite values
func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
