package services

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recway/roadquality/server/internal/config"
	"github.com/recway/roadquality/server/internal/lib/geo"
	"github.com/recway/roadquality/server/internal/lib/graph"
	"github.com/recway/roadquality/server/internal/lib/matching"
	"github.com/recway/roadquality/server/internal/lib/sensor"
	"github.com/recway/roadquality/server/internal/lib/signal"
)

const (
	originLon = -74.08
	originLat = 4.6
)

// memoryTiles serves a single in-memory tile
type memoryTiles struct {
	index *graph.Index
	err   error
	loads atomic.Int32
}

func (m *memoryTiles) TileFor(lat, lon float64) int { return 7 }

func (m *memoryTiles) Load(ctx context.Context, tile int) (*graph.Index, error) {
	m.loads.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.index, nil
}

// avenueTile holds a straight one-way 400 m street cut into five 80 m pieces
func avenueTile(t *testing.T) *memoryTiles {
	t.Helper()

	g := graph.New()
	g.AddNode(graph.Node{ID: 1, Lon: originLon, Lat: originLat})
	g.AddNode(graph.Node{ID: 2, Lon: originLon + 400/geo.MetersPerDegree, Lat: originLat})
	require.NoError(t, g.AddEdge(graph.Edge{
		ID:      graph.EdgeID{U: 1, V: 2},
		Length:  400,
		Highway: "primary",
		Name:    "Carrera 7",
		Oneway:  true,
	}))

	return &memoryTiles{index: &graph.Index{Tile: 7, Source: "memory", Graph: g, Spatial: graph.NewSpatialIndex(g.Midpoints())}}
}

// drive builds a trace at 10 m/s along the avenue, starting 5 m past its
// first node, with one GPS fix per second.
func drive(seconds int, fs float64, gyro bool) *sensor.Table {
	rows := int(float64(seconds) * fs)
	perFix := int(fs)

	table := &sensor.Table{
		Name:     "drive",
		Metadata: sensor.Metadata{SamplingRate: fs, Gyroscope: gyro},
		Samples:  make([]sensor.Sample, rows),
	}
	for i := range table.Samples {
		t := float64(i) / fs
		meters := 5 + 10*float64(i/perFix)
		s := sensor.Sample{
			Timestamp: 1700000000000 + int64(t*1000),
			AccX:      0.1 * math.Sin(2*math.Pi*t/6),
			AccY:      0.05,
			AccZ:      9.81 + 0.2*math.Sin(2*math.Pi*2*t),
			Lat:       originLat,
			Lon:       originLon + meters/geo.MetersPerDegree,
			Speed:     10,
			Heading:   90,
		}
		if gyro {
			s.GyroX = 0.05 * math.Sin(2*math.Pi*3*t)
			s.GyroY = 0.02 * math.Cos(2*math.Pi*t/6)
		}
		table.Samples[i] = s
	}
	return table
}

// addBurst adds a 5 Hz burst to the lateral acceleration around row center
func addBurst(table *sensor.Table, center int) {
	for i := range table.Samples {
		d := float64(i - center)
		table.Samples[i].AccX += math.Exp(-d*d/18) * math.Sin(2*math.Pi*5*d/25)
	}
}

func newProcessor(tiles matching.TileLocator, pipeline config.PipelineConfig) *TraceProcessor {
	return NewTraceProcessor(tiles, pipeline, matching.DefaultConfig(), zap.NewNop())
}

func TestTraceProcessor_Drive(t *testing.T) {
	tiles := avenueTile(t)
	table := drive(36, 25, false)
	addBurst(table, 390)

	result, err := newProcessor(tiles, config.DefaultPipelineConfig()).Process(context.Background(), table)
	require.NoError(t, err)

	assert.Equal(t, "drive", result.Name)
	assert.Equal(t, 36, result.Fixes)
	assert.Equal(t, 6, result.TransientWindows)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, int32(1), tiles.loads.Load())

	require.Len(t, result.Segments, 5)
	ids := map[uint64]bool{}
	for i, record := range result.Segments {
		assert.Equal(t, i, record.PieceIndex)
		assert.Equal(t, i*200, record.StartSample)
		assert.Equal(t, graph.EdgeID{U: 1, V: 2}, record.Edge)
		assert.Equal(t, graph.SegmentHash(1, 2, graph.PieceKey(i, 0)), record.ID)
		assert.Equal(t, "Carrera 7", record.Name)
		assert.Equal(t, "primary", record.RoadType)
		assert.InDelta(t, 80, record.LengthM, 1e-6)
		assert.NotEmpty(t, record.EncodedPolyline)
		assert.Len(t, record.Polyline, 2)
		assert.Nil(t, record.Wx)
		assert.GreaterOrEqual(t, record.IRIHuman, 0.0)
		assert.LessOrEqual(t, record.IRIHuman, 5.2)
		ids[record.ID] = true
	}
	assert.Len(t, ids, 5)
	assert.Equal(t, "2023-11-14T22:13:28.000Z", result.Segments[1].StartTime)

	potholes := result.Segments[1].Potholes
	require.NotEmpty(t, potholes)
	assert.InDelta(t, originLon+155/geo.MetersPerDegree, potholes[0].Lon, 1e-7)
	assert.InDelta(t, originLat, potholes[0].Lat, 1e-9)
	assert.Equal(t, 10.0, potholes[0].Speed)
	assert.Greater(t, potholes[0].Magnitude, 3.0)
}

func TestTraceProcessor_ResamplesToReferenceRate(t *testing.T) {
	table := drive(36, 50, false)

	result, err := newProcessor(avenueTile(t), config.DefaultPipelineConfig()).Process(context.Background(), table)
	require.NoError(t, err)

	assert.Equal(t, 36, result.Fixes)
	require.Len(t, result.Segments, 5)
	for i, record := range result.Segments {
		assert.Equal(t, i*400, record.StartSample, "start rows are reported at the original rate")
	}
}

func TestTraceProcessor_Gyroscope(t *testing.T) {
	result, err := newProcessor(avenueTile(t), config.DefaultPipelineConfig()).Process(context.Background(), drive(36, 25, true))
	require.NoError(t, err)

	require.Len(t, result.Segments, 5)
	for _, record := range result.Segments {
		require.NotNil(t, record.Wx)
		require.NotNil(t, record.WxAdjusted)
		assert.False(t, math.IsNaN(*record.WxAdjusted))
	}
}

func TestTraceProcessor_ShortWindowsAreSkipped(t *testing.T) {
	pipeline := config.DefaultPipelineConfig()
	pipeline.MinWindowSamples = 250

	result, err := newProcessor(avenueTile(t), pipeline).Process(context.Background(), drive(36, 25, false))
	require.NoError(t, err)

	assert.Empty(t, result.Segments)
	require.Len(t, result.Skipped, 5)
	for _, skip := range result.Skipped {
		assert.Equal(t, SkipShortWindow, skip.Reason)
	}
	assert.Equal(t, Skip{Fix: 200, Start: 0, End: 200, Reason: SkipShortWindow, Detail: "200 rows"}, result.Skipped[0])
	assert.Equal(t, 900, result.Skipped[4].End)
}

func TestTraceProcessor_NegativeSpeedIsSkipped(t *testing.T) {
	table := drive(36, 25, false)
	for i := 200; i < 400; i++ {
		table.Samples[i].Speed = -1
	}

	result, err := newProcessor(avenueTile(t), config.DefaultPipelineConfig()).Process(context.Background(), table)
	require.NoError(t, err)

	require.Len(t, result.Segments, 4)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, SkipSpeed, result.Skipped[0].Reason)
	assert.Equal(t, 200, result.Skipped[0].Start)
	assert.Equal(t, 2, result.Segments[1].PieceIndex)
}

func TestTraceProcessor_TileUnavailable(t *testing.T) {
	tiles := &memoryTiles{err: errors.New("artifact missing")}

	result, err := newProcessor(tiles, config.DefaultPipelineConfig()).Process(context.Background(), drive(10, 25, false))
	require.ErrorIs(t, err, matching.ErrTileUnavailable)
	require.NotNil(t, result)
	assert.Empty(t, result.Segments)
	assert.Equal(t, 1, result.Fixes)
}

func TestTraceProcessor_Preconditions(t *testing.T) {
	processor := newProcessor(avenueTile(t), config.DefaultPipelineConfig())

	_, err := processor.Process(context.Background(), &sensor.Table{Name: "empty"})
	assert.ErrorIs(t, err, sensor.ErrEmptyTrace)

	table := drive(10, 25, false)
	table.Metadata.SamplingRate = 0
	_, err = processor.Process(context.Background(), table)
	assert.ErrorIs(t, err, sensor.ErrMissingRate)
}

func TestTraceProcessor_ShortTraceHasNoTransientWindows(t *testing.T) {
	result, err := newProcessor(avenueTile(t), config.DefaultPipelineConfig()).Process(context.Background(), drive(5, 25, false))
	require.NoError(t, err)

	assert.Equal(t, 0, result.TransientWindows)
	require.Len(t, result.Segments, 1)
	assert.Empty(t, result.Segments[0].Potholes)
	assert.InDelta(t, signal.HumanScale(result.Segments[0].IRIRaw), result.Segments[0].IRIHuman, 1e-12)
}
