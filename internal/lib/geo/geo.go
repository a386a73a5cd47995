package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/twpayne/go-polyline"
)

// PointToPoint calculates great-circle distance between two points in meters
func PointToPoint(p1, p2 orb.Point) float64 {
	if p1 == p2 {
		return 0
	}
	return orbgeo.DistanceHaversine(p1, p2)
}

// BufferedRectangle returns the four corners of a rectangle of half width
// halfWidth (degrees) around the segment p1-p2: two offsets at p1 followed by
// the matching two offsets at p2.
func BufferedRectangle(p1, p2 orb.Point, halfWidth float64) (orb.Ring, error) {
	lon1, lat1 := p1[0], p1[1]
	lon2, lat2 := p2[0], p2[1]

	a := lon1 - lon2
	b := lat2 - lat1
	den := a*a + b*b
	if den == 0 {
		return nil, fmt.Errorf("rectangle around a zero-length segment: %w", ErrInvalidGeometry)
	}

	c := a*lat1 + b*lon1
	d1 := b*lat1 - a*lon1
	d2 := b*lat2 - a*lon2
	offset := math.Sqrt(halfWidth * halfWidth * den)
	e1 := c + offset
	e2 := c - offset

	corner := func(e, d float64) orb.Point {
		lat := (a*e + b*d) / den
		lon := -(a*d - b*e) / den
		return orb.Point{lon, lat}
	}

	return orb.Ring{
		corner(e1, d1),
		corner(e2, d1),
		corner(e2, d2),
		corner(e1, d2),
	}, nil
}

// PolygonAroundPolyline builds a closed polygon of half width halfWidth (degrees)
// around a polyline. Zero-length pairs are skipped; when no usable pair exists
// the polygon is empty and contains nothing.
func PolygonAroundPolyline(line orb.LineString, halfWidth float64) orb.Polygon {
	var upper, lower []orb.Point

	first := true
	for i := 0; i < len(line)-1; i++ {
		p1, p2 := line[i], line[i+1]
		dx := p2[0] - p1[0]
		dy := p2[1] - p1[1]
		length := math.Hypot(dx, dy)
		if length == 0 {
			continue
		}

		nx := -dy / length * halfWidth
		ny := dx / length * halfWidth

		if first {
			upper = append(upper, orb.Point{p1[0] + nx, p1[1] + ny})
			lower = append(lower, orb.Point{p1[0] - nx, p1[1] - ny})
			first = false
		}
		upper = append(upper, orb.Point{p2[0] + nx, p2[1] + ny})
		lower = append(lower, orb.Point{p2[0] - nx, p2[1] - ny})
	}

	if len(upper) == 0 {
		return orb.Polygon{}
	}

	ring := make(orb.Ring, 0, len(upper)+len(lower)+1)
	ring = append(ring, upper...)
	for i := len(lower) - 1; i >= 0; i-- {
		ring = append(ring, lower[i])
	}
	ring = append(ring, ring[0])

	return orb.Polygon{ring}
}

// Contains reports whether point lies inside polygon. Points on the boundary are inside.
func Contains(polygon orb.Polygon, point orb.Point) bool {
	if len(polygon) == 0 || len(polygon[0]) < 3 {
		return false
	}
	return planar.PolygonContains(polygon, point)
}

// ProjectOntoPolyline returns the closest point of the polyline to point and
// its great-circle distance in meters.
func ProjectOntoPolyline(line orb.LineString, point orb.Point) (orb.Point, float64, error) {
	if len(line) == 0 {
		return orb.Point{}, 0, ErrEmptyPolyline
	}
	if len(line) == 1 {
		return line[0], PointToPoint(point, line[0]), nil
	}

	best := line[0]
	minDistance := math.Inf(1)

	for i := 0; i < len(line)-1; i++ {
		projected := closestPointOnSegment(point, line[i], line[i+1])
		distance := PointToPoint(point, projected)
		if distance < minDistance {
			minDistance = distance
			best = projected
		}
	}

	return best, minDistance, nil
}

// DistanceToPolyline calculates minimum distance from point to polyline in meters
func DistanceToPolyline(line orb.LineString, point orb.Point) (float64, error) {
	_, distance, err := ProjectOntoPolyline(line, point)
	return distance, err
}

// closestPointOnSegment projects point onto the segment start-end in degree
// space, clamping to the endpoints.
func closestPointOnSegment(point, start, end orb.Point) orb.Point {
	dx := end[0] - start[0]
	dy := end[1] - start[1]
	lengthSq := dx*dx + dy*dy
	if lengthSq == 0 {
		return start
	}

	t := ((point[0]-start[0])*dx + (point[1]-start[1])*dy) / lengthSq
	t = math.Max(0, math.Min(1, t))

	return orb.Point{start[0] + t*dx, start[1] + t*dy}
}

// CumulativeDistance returns the running planar length of the polyline in
// meters, starting at 0 for the first point.
func CumulativeDistance(line orb.LineString) []float64 {
	if len(line) == 0 {
		return nil
	}

	cumulative := make([]float64, len(line))
	for i := 1; i < len(line); i++ {
		dx := line[i][0] - line[i-1][0]
		dy := line[i][1] - line[i-1][1]
		cumulative[i] = cumulative[i-1] + math.Hypot(dx, dy)*MetersPerDegree
	}
	return cumulative
}

// InterpolateAlongGeodesic returns the point at distance along the span a-b
// whose total length is total.
func InterpolateAlongGeodesic(a, b orb.Point, distance, total float64) (orb.Point, error) {
	if total == 0 {
		return orb.Point{}, ErrDegenerateDistance
	}

	ratio := distance / total
	return orb.Point{
		a[0] + ratio*(b[0]-a[0]),
		a[1] + ratio*(b[1]-a[1]),
	}, nil
}

// AngleBetween returns the bearing from p1 to p2 in degrees, clockwise from
// north, in [0, 360).
func AngleBetween(p1, p2 orb.Point) float64 {
	dLon := p2[0] - p1[0]
	dLat := p2[1] - p1[1]

	angle := math.Atan2(dLon, dLat) * 180 / math.Pi
	angle = math.Mod(angle+360, 360)
	if angle >= 360 {
		angle = 0
	}
	return angle
}

// AngularDifference returns the smallest difference between two bearings, in [0, 180].
func AngularDifference(a, b float64) float64 {
	diff := math.Mod(math.Abs(a-b), 360)
	if diff > 180 {
		diff = 360 - diff
	}
	return diff
}

// EncodePolyline encodes a polyline with Google's polyline algorithm
func EncodePolyline(line orb.LineString) string {
	coords := make([][]float64, len(line))
	for i, p := range line {
		coords[i] = []float64{p[1], p[0]}
	}
	return string(polyline.EncodeCoords(coords))
}

// DecodePolyline decodes Google polyline string to point sequence
func DecodePolyline(encoded string) (orb.LineString, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}

	line := make(orb.LineString, len(coords))
	for i, coord := range coords {
		line[i] = orb.Point{coord[1], coord[0]}
		if !isValidCoordinate(line[i]) {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return line, nil
}

// isValidCoordinate validates latitude and longitude values
func isValidCoordinate(p orb.Point) bool {
	return p[1] >= -90 && p[1] <= 90 && p[0] >= -180 && p[0] <= 180
}
