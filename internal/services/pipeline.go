package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/recway/roadquality/server/internal/config"
	"github.com/recway/roadquality/server/internal/lib/geo"
	"github.com/recway/roadquality/server/internal/lib/graph"
	"github.com/recway/roadquality/server/internal/lib/matching"
	"github.com/recway/roadquality/server/internal/lib/segment"
	"github.com/recway/roadquality/server/internal/lib/sensor"
	"github.com/recway/roadquality/server/internal/lib/signal"
)

// SkipReason tells why a window produced no record
type SkipReason string

const (
	SkipShortWindow  SkipReason = "short_window"
	SkipSpeed        SkipReason = "non_physical_speed"
	SkipEdgeLookup   SkipReason = "edge_lookup"
	SkipRoughness    SkipReason = "roughness"
	SkipUnmatchedFix SkipReason = "unmatched_fix"
)

// Skip describes a window (or fix) that was dropped without aborting the trace.
// Rows are indices into the original sample table.
type Skip struct {
	Fix    int        `json:"fix"`
	Start  int        `json:"start"`
	End    int        `json:"end"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// TraceResult is the outcome of processing one trace
type TraceResult struct {
	Name             string           `json:"name"`
	Segments         []segment.Record `json:"segments"`
	Skipped          []Skip           `json:"skipped,omitempty"`
	Fixes            int              `json:"fixes"`
	TransientWindows int              `json:"transient_windows"`
}

// TraceProcessor drives one trace through matching, segmentation and signal
// analysis. It keeps no per-trace state and may be shared; every call to
// Process gets its own matcher and segmenter.
type TraceProcessor struct {
	tiles    matching.TileLocator
	pipeline config.PipelineConfig
	matching matching.Config
	logger   *zap.Logger
}

// NewTraceProcessor creates a trace processor reading tiles from the locator
func NewTraceProcessor(tiles matching.TileLocator, pipeline config.PipelineConfig, matcherConfig matching.Config, logger *zap.Logger) *TraceProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TraceProcessor{
		tiles:    tiles,
		pipeline: pipeline,
		matching: matcherConfig,
		logger:   logger,
	}
}

// Process turns a trace into one record per traversed piece of street. A tile
// that cannot be loaded ends the trace: the records emitted up to that point
// are returned together with the error.
func (p *TraceProcessor) Process(ctx context.Context, table *sensor.Table) (*TraceResult, error) {
	if err := table.Validate(); err != nil {
		name := ""
		if table != nil {
			name = table.Name
		}
		return nil, fmt.Errorf("trace %s: %w", name, err)
	}

	run := p.newRun(table)
	run.detectTransients()

	matcher := matching.NewMapMatcher(p.tiles, p.matching, p.logger.With(zap.String("trace", table.Name)))
	segmenter := segment.NewSegmenter(p.pipeline.MaxPieceLength, p.matching.BufferWidth)

	for _, row := range table.GPSChanged() {
		if err := ctx.Err(); err != nil {
			return run.result, err
		}

		s := table.Samples[row]
		fix := matching.Fix{Lat: s.Lat, Lon: s.Lon, Speed: s.Speed, Heading: s.Heading}
		run.result.Fixes++

		if _, err := matcher.Match(ctx, fix); err != nil {
			if errors.Is(err, matching.ErrTileUnavailable) {
				p.logger.Error("Trace aborted",
					zap.String("trace", table.Name),
					zap.Int("row", row),
					zap.Int("segments", len(run.result.Segments)),
					zap.Error(err))
				return run.result, fmt.Errorf("trace %s: %w", table.Name, err)
			}
			run.skip(Skip{Fix: row, Start: row, End: row, Reason: SkipUnmatchedFix, Detail: err.Error()})
			continue
		}

		state := matcher.State()
		segmenter.Locate(state, fix.Point())
		if !state.SegmentChanged() {
			continue
		}

		run.close(row)
		run.open(state, matcher.Index(), row)
	}
	run.close(table.Len())

	p.logger.Info("Processed trace",
		zap.String("trace", table.Name),
		zap.Int("fixes", run.result.Fixes),
		zap.Int("segments", len(run.result.Segments)),
		zap.Int("skipped", len(run.result.Skipped)),
		zap.Int("transient_windows", run.result.TransientWindows))

	return run.result, nil
}

// openPiece is the piece being driven and the row its window started at
type openPiece struct {
	edge     graph.EdgeID
	info     *graph.Edge
	graph    *graph.Graph
	index    int
	geometry orb.LineString
	length   float64
	start    int
}

// traceRun holds the state of one Process call
type traceRun struct {
	p      *TraceProcessor
	table  *sensor.Table
	fs     float64
	result *TraceResult

	// Channels at the reference rate with the trace mean removed
	ax, az, wx, wy []float64

	windowLen  int
	transients [][]signal.Transient

	current *openPiece
}

func (p *TraceProcessor) newRun(table *sensor.Table) *traceRun {
	fs := table.Metadata.SamplingRate
	channel := func(column func(sensor.Sample) float64) []float64 {
		x := table.Channel(column)
		if fs != signal.ReferenceRate {
			x = signal.Resample(x, signal.ResampledLength(len(x), fs, signal.ReferenceRate))
		}
		return signal.RemoveMean(x)
	}

	run := &traceRun{
		p:      p,
		table:  table,
		fs:     fs,
		result: &TraceResult{Name: table.Name, Segments: []segment.Record{}},
		ax:     channel(sensor.AccX),
		az:     channel(sensor.AccZ),
	}
	if table.Metadata.Gyroscope {
		run.wx = channel(sensor.GyroX)
		run.wy = channel(sensor.GyroY)
	}
	return run
}

// detectTransients splits the trace into fixed windows and runs the detector
// on the lateral acceleration, merged with the gyroscope when present.
func (r *traceRun) detectTransients() {
	cfg := r.p.pipeline
	span := int(cfg.TransientWindow * signal.ReferenceRate)
	count := 0
	if span > 0 {
		count = len(r.ax) / span
	}
	if count == 0 {
		return
	}
	r.windowLen = len(r.ax) / count
	r.transients = make([][]signal.Transient, count)

	detect := func(x []float64, j int, channel string) []signal.Transient {
		found, err := signal.DetectTransients(x, signal.ReferenceRate, cfg.Band, cfg.MagnitudeThreshold, cfg.TimeThreshold, 1)
		if err != nil {
			r.p.logger.Debug("Transient detection failed",
				zap.String("trace", r.table.Name),
				zap.String("channel", channel),
				zap.Int("window", j),
				zap.Error(err))
			return nil
		}
		return found
	}

	for j := range count {
		lo, hi := j*r.windowLen, (j+1)*r.windowLen
		accel := detect(r.ax[lo:hi], j, "acc_x")
		if r.wy == nil {
			r.transients[j] = accel
			continue
		}
		gyro := detect(r.wy[lo:hi], j, "gyro_y")
		r.transients[j] = signal.MergeTransients(gyro, accel, cfg.MergeWindow)
	}
	r.result.TransientWindows = count
}

func (r *traceRun) open(state *matching.State, index *graph.Index, row int) {
	if state.Info == nil || index == nil {
		r.current = nil
		return
	}
	r.current = &openPiece{
		edge:     state.Edge,
		info:     state.Info,
		graph:    index.Graph,
		index:    state.PieceIndex,
		geometry: state.PieceGeometry,
		length:   state.PieceLength,
		start:    row,
	}
}

// close ends the window of the open piece at row end (exclusive) and emits its
// record when the window passes every check.
func (r *traceRun) close(end int) {
	piece := r.current
	r.current = nil
	if piece == nil {
		return
	}

	start := piece.start
	skip := func(reason SkipReason, detail string) {
		r.skip(Skip{Fix: end, Start: start, End: end, Reason: reason, Detail: detail})
	}

	minRows := float64(r.p.pipeline.MinWindowSamples) * r.fs / signal.ReferenceRate
	if float64(end-start) < minRows {
		skip(SkipShortWindow, fmt.Sprintf("%d rows", end-start))
		return
	}

	speed := r.table.MeanSpeed(start, end)
	if speed < 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		skip(SkipSpeed, fmt.Sprintf("average speed %g", speed))
		return
	}

	canonical, err := piece.graph.CanonicalEdgeID(piece.edge)
	if err != nil {
		skip(SkipEdgeLookup, err.Error())
		return
	}

	i0, i1 := r.referenceRange(start, end)
	window := signal.Window{
		Az:   signal.RemoveMean(r.az[i0:i1]),
		Ax:   signal.RemoveMean(r.ax[i0:i1]),
		Gyro: r.wx != nil,
	}
	if window.Gyro {
		window.Wx = signal.RemoveMean(r.wx[i0:i1])
	}

	roughness, err := signal.ComputeRoughness(window, signal.ReferenceRate, piece.length, speed)
	if err != nil {
		skip(SkipRoughness, err.Error())
		return
	}

	name := piece.info.Name
	if name == "" {
		name = segment.UndefinedName
	}

	record := segment.Record{
		ID:              graph.SegmentHash(canonical.U, canonical.V, graph.PieceKey(piece.index, canonical.Key)),
		Name:            name,
		RoadType:        piece.info.Highway,
		LengthM:         piece.length,
		StartTime:       r.table.Samples[start].Time().Format(sensor.TimeFormat),
		StartSample:     start,
		Edge:            canonical,
		PieceIndex:      piece.index,
		Polyline:        piece.geometry,
		EncodedPolyline: geo.EncodePolyline(piece.geometry),
		Potholes:        r.potholes(i0, i1, piece.geometry),
		Roughness:       roughness,
	}
	r.result.Segments = append(r.result.Segments, record)

	r.p.logger.Debug("Emitted segment",
		zap.String("trace", r.table.Name),
		zap.Uint64("id", record.ID),
		zap.Stringer("edge", canonical),
		zap.Int("piece", piece.index),
		zap.Int("start", start),
		zap.Int("end", end),
		zap.Int("potholes", len(record.Potholes)),
		zap.Float64("iqr", roughness.IQR))
}

// referenceRange converts original rows [start, end) to reference-rate indices
func (r *traceRun) referenceRange(start, end int) (int, int) {
	scale := signal.ReferenceRate / r.fs
	i0 := min(int(float64(start)*scale), len(r.az))
	i1 := min(int(float64(end)*scale), len(r.az))
	return i0, i1
}

// potholes collects the transients falling in the reference-rate range
// [i0, i1), placed on the piece polyline.
func (r *traceRun) potholes(i0, i1 int, piece orb.LineString) []segment.Pothole {
	out := []segment.Pothole{}
	if r.windowLen == 0 {
		return out
	}

	last := min(i1/r.windowLen, len(r.transients)-1)
	for j := i0 / r.windowLen; j <= last; j++ {
		for _, t := range r.transients[j] {
			sample := int(t.Time*signal.ReferenceRate) + j*r.windowLen
			if sample < i0 || sample >= i1 {
				continue
			}
			row := min(int(float64(sample)*r.fs/signal.ReferenceRate), r.table.Len()-1)
			s := r.table.Samples[row]

			point := orb.Point{s.Lon, s.Lat}
			if projected, _, err := geo.ProjectOntoPolyline(piece, point); err == nil {
				point = projected
			}
			out = append(out, segment.Pothole{
				Lat:       point.Lat(),
				Lon:       point.Lon(),
				Magnitude: t.Magnitude,
				Speed:     s.Speed,
			})
		}
	}
	return out
}

func (r *traceRun) skip(s Skip) {
	r.result.Skipped = append(r.result.Skipped, s)
	r.p.logger.Debug("Skipped window",
		zap.String("trace", r.table.Name),
		zap.Int("fix", s.Fix),
		zap.Int("start", s.Start),
		zap.Int("end", s.End),
		zap.String("reason", string(s.Reason)),
		zap.String("detail", s.Detail))
}
