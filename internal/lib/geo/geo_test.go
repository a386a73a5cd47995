package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointToPoint(t *testing.T) {
	angelsCamp := orb.Point{-120.5436, 38.0675}
	murphys := orb.Point{-120.4561, 38.1391}

	assert.InDelta(t, 11046, PointToPoint(angelsCamp, murphys), 100, "Distance should be approximately 11.0km")
	assert.Equal(t, 0.0, PointToPoint(murphys, murphys))
}

func TestBufferedRectangle(t *testing.T) {
	const half = 0.0003

	ring, err := BufferedRectangle(orb.Point{0, 0}, orb.Point{1, 0}, half)
	require.NoError(t, err)
	require.Len(t, ring, 4)

	expected := []orb.Point{{0, -half}, {0, half}, {1, half}, {1, -half}}
	for i, p := range expected {
		assert.InDelta(t, p[0], ring[i][0], 1e-12, "corner %d lon", i)
		assert.InDelta(t, p[1], ring[i][1], 1e-12, "corner %d lat", i)
	}

	_, err = BufferedRectangle(orb.Point{2, 2}, orb.Point{2, 2}, half)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestPolygonAroundPolyline_ContainsItsVertices(t *testing.T) {
	lines := []orb.LineString{
		{{-74.0800, 4.6000}, {-74.0790, 4.6000}},
		{{-74.0800, 4.6000}, {-74.0795, 4.6000}, {-74.0788, 4.6006}, {-74.0788, 4.6012}},
		{{-74.0800, 4.6000}, {-74.0800, 4.6000}, {-74.0800, 4.6010}},
	}

	for _, line := range lines {
		polygon := PolygonAroundPolyline(line, 0.0003)
		require.NotEmpty(t, polygon)
		for _, p := range line {
			assert.True(t, Contains(polygon, p), "vertex %v should be inside its own buffer", p)
		}
	}
}

func TestPolygonAroundPolyline_Degenerate(t *testing.T) {
	polygon := PolygonAroundPolyline(orb.LineString{{1, 1}, {1, 1}}, 0.0003)
	assert.Empty(t, polygon)
	assert.False(t, Contains(polygon, orb.Point{1, 1}))

	polygon = PolygonAroundPolyline(orb.LineString{{1, 1}}, 0.0003)
	assert.Empty(t, polygon)
}

func TestPolygonAroundPolyline_Width(t *testing.T) {
	line := orb.LineString{{0, 0}, {0.01, 0}}
	polygon := PolygonAroundPolyline(line, 0.0003)

	assert.True(t, Contains(polygon, orb.Point{0.005, 0.0002}))
	assert.True(t, Contains(polygon, orb.Point{0.005, 0.0003}), "boundary counts as inside")
	assert.False(t, Contains(polygon, orb.Point{0.005, 0.0004}))
	assert.False(t, Contains(polygon, orb.Point{0.011, 0}))
}

func TestProjectOntoPolyline(t *testing.T) {
	line := orb.LineString{{0, 0}, {1, 0}, {1, 1}}

	projected, distance, err := ProjectOntoPolyline(line, orb.Point{0.5, 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, projected[0], 1e-12)
	assert.InDelta(t, 0.0, projected[1], 1e-12)
	assert.InDelta(t, 11120, distance, 20)

	// Beyond the end of the first pair the projection clamps onto the corner.
	projected, _, err = ProjectOntoPolyline(orb.LineString{{0, 0}, {1, 0}}, orb.Point{2, 0.5})
	require.NoError(t, err)
	assert.Equal(t, orb.Point{1, 0}, projected)

	_, _, err = ProjectOntoPolyline(nil, orb.Point{0, 0})
	assert.ErrorIs(t, err, ErrEmptyPolyline)

	distance, err = DistanceToPolyline(orb.LineString{{3, 3}}, orb.Point{3, 3})
	require.NoError(t, err)
	assert.Equal(t, 0.0, distance)
}

func TestCumulativeDistance(t *testing.T) {
	cumulative := CumulativeDistance(orb.LineString{{0, 0}, {0.001, 0}, {0.001, 0.002}})
	require.Len(t, cumulative, 3)
	assert.Equal(t, 0.0, cumulative[0])
	assert.InDelta(t, 111.32, cumulative[1], 1e-9)
	assert.InDelta(t, 333.96, cumulative[2], 1e-9)

	assert.Nil(t, CumulativeDistance(nil))
}

func TestInterpolateAlongGeodesic(t *testing.T) {
	p, err := InterpolateAlongGeodesic(orb.Point{0, 0}, orb.Point{2, 4}, 25, 100)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p[0], 1e-12)
	assert.InDelta(t, 1.0, p[1], 1e-12)

	_, err = InterpolateAlongGeodesic(orb.Point{0, 0}, orb.Point{0, 0}, 10, 0)
	assert.ErrorIs(t, err, ErrDegenerateDistance)
}

func TestAngleBetween(t *testing.T) {
	origin := orb.Point{0, 0}

	assert.InDelta(t, 0, AngleBetween(origin, orb.Point{0, 1}), 1e-9, "north")
	assert.InDelta(t, 90, AngleBetween(origin, orb.Point{1, 0}), 1e-9, "east")
	assert.InDelta(t, 180, AngleBetween(origin, orb.Point{0, -1}), 1e-9, "south")
	assert.InDelta(t, 270, AngleBetween(origin, orb.Point{-1, 0}), 1e-9, "west")
	assert.InDelta(t, 45, AngleBetween(origin, orb.Point{1, 1}), 1e-9)
}

func TestAngularDifference(t *testing.T) {
	assert.InDelta(t, 20, AngularDifference(350, 10), 1e-9)
	assert.InDelta(t, 20, AngularDifference(10, 350), 1e-9)
	assert.InDelta(t, 180, AngularDifference(0, 180), 1e-9)
	assert.InDelta(t, 0, AngularDifference(720, 0), 1e-9)

	for a := 0.0; a < 360; a += 17.5 {
		for b := 0.0; b < 360; b += 23.25 {
			d := AngularDifference(a, b)
			assert.Equal(t, d, AngularDifference(b, a))
			assert.True(t, d >= 0 && d <= 180, "difference %f out of range", d)
		}
	}
}

func TestDecodePolyline(t *testing.T) {
	line, err := DecodePolyline("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	require.Len(t, line, 3)
	assert.InDelta(t, 38.5, line[0][1], 1e-5)
	assert.InDelta(t, -120.2, line[0][0], 1e-5)
	assert.InDelta(t, -126.453, line[2][0], 1e-5)

	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", EncodePolyline(line))

	_, err = DecodePolyline("")
	assert.Error(t, err)
	assert.False(t, math.IsNaN(line[1][1]))
}
