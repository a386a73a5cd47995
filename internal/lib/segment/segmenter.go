package segment

import (
	"github.com/paulmach/orb"

	"github.com/recway/roadquality/server/internal/lib/geo"
	"github.com/recway/roadquality/server/internal/lib/graph"
	"github.com/recway/roadquality/server/internal/lib/matching"
)

// DefaultMaxLength is the longest piece an edge is reported as, in meters
const DefaultMaxLength = 100.0

// Split cuts an edge polyline into equal pieces no longer than maxLength.
// Edges whose length is within maxLength come back whole. Otherwise the edge
// yields floor(edgeLength/maxLength)+1 pieces; the returned piece length is
// measured along the polyline.
func Split(line orb.LineString, edgeLength, maxLength float64) ([]orb.LineString, float64, error) {
	if edgeLength <= maxLength || len(line) < 2 {
		return []orb.LineString{line}, edgeLength, nil
	}

	divisions := int(edgeLength / maxLength)
	cumulative := geo.CumulativeDistance(line)
	pieceLength := cumulative[len(cumulative)-1] / float64(divisions+1)

	pieces := make([]orb.LineString, 0, divisions+1)
	current := orb.LineString{line[0]}
	position := 1

	for i := 1; i < len(line); i++ {
		for position <= divisions && cumulative[i] > pieceLength*float64(position) {
			target := pieceLength*float64(position) - cumulative[i-1]
			cut, err := geo.InterpolateAlongGeodesic(line[i-1], line[i], target, cumulative[i]-cumulative[i-1])
			if err != nil {
				return nil, 0, err
			}

			current = append(current, cut)
			pieces = append(pieces, current)
			current = orb.LineString{cut}
			position++
		}
		current = append(current, line[i])
	}
	pieces = append(pieces, current)

	return pieces, pieceLength, nil
}

// Segmenter tracks which piece of the matched edge a trace is on. It keeps
// the pieces of the last edge, so use one per trace.
type Segmenter struct {
	maxLength   float64
	bufferWidth float64

	edge        graph.EdgeID
	tile        int
	pieces      []orb.LineString
	pieceLength float64
}

// NewSegmenter creates a segmenter cutting edges at maxLength meters and
// testing containment with the given buffer half width in degrees.
func NewSegmenter(maxLength, bufferWidth float64) *Segmenter {
	return &Segmenter{maxLength: maxLength, bufferWidth: bufferWidth}
}

// Locate updates the piece fields of state for a fix at p on the current edge
func (s *Segmenter) Locate(state *matching.State, p orb.Point) {
	if state.Info == nil {
		return
	}
	s.load(state)

	index := 0
	if len(s.pieces) > 1 {
		index = s.containingPiece(p)
	}

	state.PieceChanged = index != state.PieceIndex
	state.PieceIndex = index
	state.PieceGeometry = s.pieces[index]
	state.PieceLength = s.pieceLength
}

func (s *Segmenter) load(state *matching.State) {
	if s.pieces != nil && s.edge == state.Edge && s.tile == state.Tile {
		return
	}

	pieces, length, err := Split(state.Geometry, state.Info.Length, s.maxLength)
	if err != nil || len(pieces) == 1 {
		pieces = []orb.LineString{state.Geometry}
		length = state.Info.Length
	}

	s.edge = state.Edge
	s.tile = state.Tile
	s.pieces = pieces
	s.pieceLength = length
}

// containingPiece returns the first piece whose buffer contains p, or the
// nearest piece when none does.
func (s *Segmenter) containingPiece(p orb.Point) int {
	for i, piece := range s.pieces {
		if geo.Contains(geo.PolygonAroundPolyline(piece, s.bufferWidth), p) {
			return i
		}
	}

	nearest := 0
	best := -1.0
	for i, piece := range s.pieces {
		d, err := geo.DistanceToPolyline(piece, p)
		if err != nil {
			continue
		}
		if best < 0 || d < best {
			best = d
			nearest = i
		}
	}
	return nearest
}
