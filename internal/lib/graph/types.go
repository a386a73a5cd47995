package graph

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

var (
	// ErrEdgeNotFound is returned when an edge id is not part of the graph
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrNodeNotFound is returned when a node id is not part of the graph
	ErrNodeNotFound = errors.New("node not found")
)

// NodeID identifies a street intersection or shape node
type NodeID int64

// EdgeID identifies a directed edge of the multigraph. Key distinguishes
// parallel edges between the same pair of nodes.
type EdgeID struct {
	U   NodeID `json:"u"`
	V   NodeID `json:"v"`
	Key int    `json:"key"`
}

func (id EdgeID) String() string {
	return fmt.Sprintf("(%d,%d,%d)", id.U, id.V, id.Key)
}

// Touches reports whether n is one of the edge's endpoints
func (id EdgeID) Touches(n NodeID) bool {
	return id.U == n || id.V == n
}

// pair returns the unordered node pair of the edge
func (id EdgeID) pair() nodePair {
	if id.U > id.V {
		return nodePair{id.V, id.U}
	}
	return nodePair{id.U, id.V}
}

type nodePair struct {
	a, b NodeID
}

// Node is a graph vertex with its WGS84 position
type Node struct {
	ID  NodeID  `json:"id"`
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Point returns the node position as an orb point
func (n Node) Point() orb.Point {
	return orb.Point{n.Lon, n.Lat}
}

// Edge is a street segment between two nodes
type Edge struct {
	ID       EdgeID         `json:"id"`
	Length   float64        `json:"length_m"`
	Highway  string         `json:"highway,omitempty"`
	Name     string         `json:"name,omitempty"`
	Oneway   bool           `json:"oneway"`
	Geometry orb.LineString `json:"geometry,omitempty"`
}

// Side tells which endpoint of the originating edge a reachable edge was found from
type Side int

const (
	SideU Side = 0
	SideV Side = 1
)

// Reach is one edge reached by PathsWithinDistance
type Reach struct {
	Edge     EdgeID
	Length   float64 // length of Edge
	Distance float64 // cumulative length along the path, Edge included
	Side     Side
}

// Midpoint is one row of the spatial index: an edge midpoint in radians
type Midpoint struct {
	LatRad float64
	LonRad float64
	Edge   EdgeID
}

// Index bundles everything loaded for one tile. It is read-only once built and
// safe to share between goroutines.
type Index struct {
	Tile    int
	Source  string
	Graph   *Graph
	Spatial *SpatialIndex
}
