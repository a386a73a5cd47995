package graph

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"

	"github.com/recway/roadquality/server/internal/lib/geo"
)

// Graph is a directed street multigraph. Adjacency keeps insertion order so
// traversals and tie-breaks are reproducible.
type Graph struct {
	nodes     map[NodeID]Node
	edges     map[EdgeID]*Edge
	edgeOrder []EdgeID
	out       map[NodeID][]NodeID
	in        map[NodeID][]NodeID
	keys      map[[2]NodeID][]int
}

// New creates an empty graph
func New() *Graph {
	return &Graph{
		nodes: make(map[NodeID]Node),
		edges: make(map[EdgeID]*Edge),
		out:   make(map[NodeID][]NodeID),
		in:    make(map[NodeID][]NodeID),
		keys:  make(map[[2]NodeID][]int),
	}
}

// AddNode inserts or replaces a node
func (g *Graph) AddNode(n Node) {
	g.nodes[n.ID] = n
}

// AddEdge inserts an edge. Both endpoints must already exist.
func (g *Graph) AddEdge(e Edge) error {
	if _, ok := g.nodes[e.ID.U]; !ok {
		return fmt.Errorf("edge %s: node %d: %w", e.ID, e.ID.U, ErrNodeNotFound)
	}
	if _, ok := g.nodes[e.ID.V]; !ok {
		return fmt.Errorf("edge %s: node %d: %w", e.ID, e.ID.V, ErrNodeNotFound)
	}

	if _, exists := g.edges[e.ID]; !exists {
		g.edgeOrder = append(g.edgeOrder, e.ID)

		directed := [2]NodeID{e.ID.U, e.ID.V}
		if len(g.keys[directed]) == 0 {
			g.out[e.ID.U] = append(g.out[e.ID.U], e.ID.V)
			g.in[e.ID.V] = append(g.in[e.ID.V], e.ID.U)
		}
		g.keys[directed] = append(g.keys[directed], e.ID.Key)
	}

	edge := e
	g.edges[e.ID] = &edge
	return nil
}

// Node returns a node by id
func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Edge returns the edge data for id
func (g *Graph) Edge(id EdgeID) (*Edge, error) {
	e, ok := g.edges[id]
	if !ok {
		return nil, fmt.Errorf("edge %s: %w", id, ErrEdgeNotFound)
	}
	return e, nil
}

// HasEdge reports whether id is part of the graph
func (g *Graph) HasEdge(id EdgeID) bool {
	_, ok := g.edges[id]
	return ok
}

// Successors returns the nodes reachable from u by one edge, in insertion order
func (g *Graph) Successors(u NodeID) []NodeID {
	return g.out[u]
}

// Predecessors returns the nodes with an edge into v, in insertion order
func (g *Graph) Predecessors(v NodeID) []NodeID {
	return g.in[v]
}

// Keys returns the parallel edge keys from u to v
func (g *Graph) Keys(u, v NodeID) []int {
	return g.keys[[2]NodeID{u, v}]
}

// Nodes returns every node ordered by id
func (g *Graph) Nodes() []Node {
	nodes := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Edges returns every edge id in insertion order
func (g *Graph) Edges() []EdgeID {
	return g.edgeOrder
}

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int {
	return len(g.edgeOrder)
}

// Coordinates returns the polyline of an edge: its stored geometry when it has
// at least two points, otherwise the straight line between its nodes.
func (g *Graph) Coordinates(id EdgeID) (orb.LineString, error) {
	e, err := g.Edge(id)
	if err != nil {
		return nil, err
	}
	if len(e.Geometry) >= 2 {
		return e.Geometry, nil
	}

	u, ok := g.nodes[id.U]
	if !ok {
		return nil, fmt.Errorf("edge %s: node %d: %w", id, id.U, ErrNodeNotFound)
	}
	v, ok := g.nodes[id.V]
	if !ok {
		return nil, fmt.Errorf("edge %s: node %d: %w", id, id.V, ErrNodeNotFound)
	}
	return orb.LineString{u.Point(), v.Point()}, nil
}

// Bearings returns the entry bearing (first pair of points) and exit bearing
// (last pair) of an edge, in degrees from north.
func (g *Graph) Bearings(id EdgeID) (entry, exit float64, err error) {
	coords, err := g.Coordinates(id)
	if err != nil {
		return 0, 0, err
	}

	n := len(coords)
	entry = geo.AngleBetween(coords[0], coords[1])
	exit = geo.AngleBetween(coords[n-2], coords[n-1])
	return entry, exit, nil
}

// Subgraph returns the graph induced by ids: the listed edges that exist plus
// their endpoint nodes. Unknown ids are ignored.
func (g *Graph) Subgraph(ids []EdgeID) *Graph {
	sub := New()
	for _, id := range ids {
		e, ok := g.edges[id]
		if !ok {
			continue
		}
		sub.AddNode(g.nodes[id.U])
		sub.AddNode(g.nodes[id.V])
		_ = sub.AddEdge(*e)
	}
	return sub
}

// NearestEdge returns the edge whose polyline is closest to p, with the
// distance in meters. The first edge wins on ties.
func (g *Graph) NearestEdge(p orb.Point) (EdgeID, float64, error) {
	best := EdgeID{}
	minDistance := math.Inf(1)

	for _, id := range g.edgeOrder {
		coords, err := g.Coordinates(id)
		if err != nil {
			continue
		}
		distance, err := geo.DistanceToPolyline(coords, p)
		if err != nil {
			continue
		}
		if distance < minDistance {
			minDistance = distance
			best = id
		}
	}

	if math.IsInf(minDistance, 1) {
		return EdgeID{}, 0, fmt.Errorf("no edge near (%f, %f): %w", p[1], p[0], ErrEdgeNotFound)
	}
	return best, minDistance, nil
}

// Midpoints computes one spatial index row per edge, at half of the edge's
// cumulative length.
func (g *Graph) Midpoints() []Midpoint {
	mids := make([]Midpoint, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		coords, err := g.Coordinates(id)
		if err != nil {
			continue
		}
		mid := midpointOf(coords)
		mids = append(mids, Midpoint{
			LatRad: mid[1] * math.Pi / 180,
			LonRad: mid[0] * math.Pi / 180,
			Edge:   id,
		})
	}
	return mids
}

func midpointOf(line orb.LineString) orb.Point {
	cumulative := geo.CumulativeDistance(line)
	half := cumulative[len(cumulative)-1] / 2
	for i := 1; i < len(line); i++ {
		if cumulative[i] >= half {
			p, err := geo.InterpolateAlongGeodesic(line[i-1], line[i], half-cumulative[i-1], cumulative[i]-cumulative[i-1])
			if err == nil {
				return p
			}
			return line[i]
		}
	}
	return line[0]
}
