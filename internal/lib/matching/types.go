package matching

import (
	"context"
	"errors"

	"github.com/paulmach/orb"

	"github.com/recway/roadquality/server/internal/lib/graph"
)

// ErrTileUnavailable is returned when the tile covering a fix cannot be loaded.
// The trace cannot continue without it.
var ErrTileUnavailable = errors.New("tile unavailable")

// Method tells how the edge of a fix was chosen
type Method string

const (
	FirstFix   Method = "first_fix"   // nearest edge among the k nearest midpoints
	Contained  Method = "contained"   // fix still inside the current edge buffer
	Neighbor   Method = "neighbor"    // best scored connected edge
	WideSearch Method = "wide_search" // nearest edge within the search radius
)

// Fix is one GPS reading
type Fix struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Speed   float64 `json:"speed"`
	Heading float64 `json:"heading"`
}

// Point returns the fix position as an orb point
func (f Fix) Point() orb.Point {
	return orb.Point{f.Lon, f.Lat}
}

// Weights of the neighbour score terms
type Weights struct {
	Direction float64 `koanf:"direction"`
	Level     float64 `koanf:"level"`
	Distance  float64 `koanf:"distance"`
	Heading   float64 `koanf:"heading"`
}

// Config holds the matching thresholds
type Config struct {
	BufferWidth      float64 `koanf:"buffer_width"`       // polygon half width, degrees
	NeighborDistance float64 `koanf:"neighbor_distance"`  // BFS budget, meters
	WideSearchRadius float64 `koanf:"wide_search_radius"` // meters
	CandidateCount   int     `koanf:"candidate_count"`
	DistanceNorm     float64 `koanf:"distance_norm"` // meters
	Weights          Weights `koanf:"weights"`
}

// DefaultConfig returns the calibrated matching thresholds
func DefaultConfig() Config {
	return Config{
		BufferWidth:      0.0003,
		NeighborDistance: 50,
		WideSearchRadius: 300,
		CandidateCount:   32,
		DistanceNorm:     300,
		Weights: Weights{
			Direction: 0.8,
			Level:     0.3,
			Distance:  0.1,
			Heading:   0.6,
		},
	}
}

// State is the matcher's view of where the trace currently is. The piece
// fields are maintained by the segmenter.
type State struct {
	Matched  bool
	Tile     int
	Edge     graph.EdgeID
	Info     *graph.Edge
	Geometry orb.LineString
	Changed  bool

	PieceIndex    int
	PieceGeometry orb.LineString
	PieceLength   float64
	PieceChanged  bool
}

// SegmentChanged reports whether the last fix moved onto another edge or piece
func (s *State) SegmentChanged() bool {
	return s.Changed || s.PieceChanged
}

// Candidate is a connected edge whose buffer contains the fix
type Candidate struct {
	Edge     graph.EdgeID `json:"edge"`
	Level    int          `json:"level"`
	Distance float64      `json:"distance_m"`
	Entry    float64      `json:"entry_bearing"`
	Exit     float64      `json:"exit_bearing"`
	Side     graph.Side   `json:"side"`
	Score    float64      `json:"score"`
}

// Step describes the outcome of matching one fix
type Step struct {
	Tile       int          `json:"tile"`
	Edge       graph.EdgeID `json:"edge"`
	Method     Method       `json:"method"`
	Changed    bool         `json:"changed"`
	Candidates []Candidate  `json:"candidates,omitempty"`
}

// TileLocator resolves fixes to tiles and loads them
type TileLocator interface {
	TileFor(lat, lon float64) int
	Load(ctx context.Context, tile int) (*graph.Index, error)
}

// MapMatcher snaps successive fixes of one trace onto the street graph. It is
// stateful and must not be shared between traces.
type MapMatcher interface {
	// Match advances the state with the next fix of the trace
	Match(ctx context.Context, fix Fix) (Step, error)

	// State returns the live matcher state
	State() *State

	// Index returns the tile currently in use, nil before the first fix
	Index() *graph.Index
}
