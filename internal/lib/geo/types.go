package geo

import "errors"

// Coordinates are orb points ([lon, lat]) throughout this package.

const (
	// EarthRadius is the mean radius used for great-circle distances, in meters.
	EarthRadius = 6371000.0

	// MetersPerDegree converts planar degree distances to meters.
	MetersPerDegree = 111.32 * 1000
)

var (
	// ErrInvalidGeometry is returned when a shape cannot be built from the input points.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrDegenerateDistance is returned when interpolating over a zero-length span.
	ErrDegenerateDistance = errors.New("degenerate distance")

	// ErrEmptyPolyline is returned by operations that need at least one point.
	ErrEmptyPolyline = errors.New("polyline has no points")
)
