package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recway/roadquality/server/internal/lib/segment"
	"github.com/recway/roadquality/server/internal/lib/signal"
)

func sampleRecords() []segment.Record {
	wx := 3.5
	return []segment.Record{
		{
			ID:        42,
			Name:      "Carrera 7",
			RoadType:  "primary",
			LengthM:   80,
			StartTime: "2023-11-14T22:13:20.000Z",
			Polyline:  orb.LineString{{-74.08, 4.6}, {-74.0793, 4.6}},
			Potholes:  []segment.Pothole{{Lat: 4.6, Lon: -74.0797, Magnitude: 7.5, Speed: 10}},
			Roughness: signal.Roughness{IRIRaw: 2.1, IRIHuman: 4.6, IQR: 4.2, Wx: &wx},
		},
		{
			ID:        43,
			Name:      segment.UndefinedName,
			RoadType:  "residential",
			LengthM:   61.5,
			Polyline:  orb.LineString{{-74.0793, 4.6}, {-74.0788, 4.6}},
			Potholes:  []segment.Pothole{},
			Roughness: signal.Roughness{IQR: 1.2},
		},
	}
}

func TestJSONSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "records")
	require.NoError(t, JSONSink{Dir: dir}.Write(context.Background(), "trip", sampleRecords()))

	data, err := os.ReadFile(filepath.Join(dir, "trip.json"))
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "Carrera 7", decoded[0]["name"])
	assert.Equal(t, 4.2, decoded[0]["composite_quality_index"])
	assert.Equal(t, 3.5, decoded[0]["wx"])
	assert.Nil(t, decoded[1]["wx"])
	assert.Len(t, decoded[0]["potholes"], 1)
	assert.Equal(t, []any{}, decoded[1]["potholes"])
}

func TestJSONSink_EmptyTrace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, JSONSink{Dir: dir}.Write(context.Background(), "idle", nil))

	data, err := os.ReadFile(filepath.Join(dir, "idle.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestKMLSink(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, KMLSink{Dir: dir}.Write(context.Background(), "trip", sampleRecords()))

	data, err := os.ReadFile(filepath.Join(dir, "trip.kml"))
	require.NoError(t, err)
	doc := string(data)

	assert.Contains(t, doc, "<kml")
	assert.Equal(t, 3, strings.Count(doc, "<Placemark>"))
	assert.Contains(t, doc, "<styleUrl>#good</styleUrl>")
	assert.Contains(t, doc, "<styleUrl>#poor</styleUrl>")
	assert.Contains(t, doc, "Carrera 7 #0")
	assert.Contains(t, doc, "-74.0797")
}

func TestQualityClass(t *testing.T) {
	assert.Equal(t, styleGood, QualityClass(4.5))
	assert.Equal(t, styleGood, QualityClass(4))
	assert.Equal(t, styleFair, QualityClass(3))
	assert.Equal(t, stylePoor, QualityClass(0.3))
}

type failingSink struct{ err error }

func (f failingSink) Write(ctx context.Context, name string, records []segment.Record) error {
	return f.err
}

func TestMultiSink(t *testing.T) {
	dir := t.TempDir()
	first := errors.New("first")
	second := errors.New("second")

	sink := MultiSink{failingSink{first}, JSONSink{Dir: dir}, failingSink{second}}
	err := sink.Write(context.Background(), "trip", sampleRecords())

	require.Error(t, err)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.FileExists(t, filepath.Join(dir, "trip.json"), "healthy sinks still run")
}
