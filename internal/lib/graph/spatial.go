package graph

import (
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/recway/roadquality/server/internal/lib/geo"
)

// SpatialIndex answers nearest-midpoint queries for one tile. Midpoints are
// stored as unit vectors, so ordering by squared chord length matches ordering
// by great-circle distance.
type SpatialIndex struct {
	tree *kdtree.Tree
	rows []Midpoint
}

// NewSpatialIndex builds the index over mids
func NewSpatialIndex(mids []Midpoint) *SpatialIndex {
	rows := make([]Midpoint, len(mids))
	copy(rows, mids)

	nodes := make(midpointNodes, len(rows))
	for i, m := range rows {
		nodes[i] = midpointNode{pos: unitVector(m.LatRad, m.LonRad), row: i}
	}

	idx := &SpatialIndex{rows: rows}
	if len(nodes) > 0 {
		idx.tree = kdtree.New(nodes, false)
	}
	return idx
}

// Len returns the number of midpoints in the index
func (s *SpatialIndex) Len() int {
	return len(s.rows)
}

// Rows returns the indexed midpoints in their original order
func (s *SpatialIndex) Rows() []Midpoint {
	return s.rows
}

// Nearest returns the edges of the k midpoints closest to (lat, lon) degrees,
// nearest first.
func (s *SpatialIndex) Nearest(lat, lon float64, k int) []EdgeID {
	if s.tree == nil || k <= 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	s.tree.NearestSet(keeper, queryNode(lat, lon))
	return s.collect(keeper.Heap)
}

// WithinRadius returns the edges whose midpoint lies within meters of (lat,
// lon) degrees, nearest first.
func (s *SpatialIndex) WithinRadius(lat, lon, meters float64) []EdgeID {
	if s.tree == nil || meters < 0 {
		return nil
	}
	chord := s1.ChordAngleFromAngle(s1.Angle(meters / geo.EarthRadius))
	keeper := kdtree.NewDistKeeper(float64(chord))
	s.tree.NearestSet(keeper, queryNode(lat, lon))
	return s.collect(keeper.Heap)
}

func (s *SpatialIndex) collect(heap kdtree.Heap) []EdgeID {
	ids := make([]EdgeID, 0, len(heap))
	for _, item := range heap {
		if item.Comparable == nil {
			continue
		}
		ids = append(ids, s.rows[item.Comparable.(midpointNode).row].Edge)
	}
	return ids
}

func queryNode(lat, lon float64) midpointNode {
	ll := s2.LatLngFromDegrees(lat, lon)
	return midpointNode{pos: unitVector(ll.Lat.Radians(), ll.Lng.Radians()), row: -1}
}

func unitVector(latRad, lonRad float64) [3]float64 {
	p := s2.PointFromLatLng(s2.LatLng{Lat: s1.Angle(latRad), Lng: s1.Angle(lonRad)})
	return [3]float64{p.X, p.Y, p.Z}
}

// midpointNode is a kd-tree point on the unit sphere
type midpointNode struct {
	pos [3]float64
	row int
}

func (p midpointNode) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(midpointNode)
	return p.pos[d] - q.pos[d]
}

func (p midpointNode) Dims() int { return 3 }

// Distance returns the squared chord length between p and c
func (p midpointNode) Distance(c kdtree.Comparable) float64 {
	q := c.(midpointNode)
	var sum float64
	for i := range p.pos {
		d := p.pos[i] - q.pos[i]
		sum += d * d
	}
	return sum
}

type midpointNodes []midpointNode

func (p midpointNodes) Index(i int) kdtree.Comparable { return p[i] }
func (p midpointNodes) Len() int                      { return len(p) }
func (p midpointNodes) Pivot(d kdtree.Dim) int {
	return midpointPlane{midpointNodes: p, Dim: d}.Pivot()
}
func (p midpointNodes) Slice(start, end int) kdtree.Interface { return p[start:end] }

// midpointPlane sorts midpoints along one dimension for tree construction
type midpointPlane struct {
	kdtree.Dim
	midpointNodes
}

func (p midpointPlane) Less(i, j int) bool {
	return p.midpointNodes[i].pos[p.Dim] < p.midpointNodes[j].pos[p.Dim]
}
func (p midpointPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p midpointPlane) Slice(start, end int) kdtree.SortSlicer {
	p.midpointNodes = p.midpointNodes[start:end]
	return p
}
func (p midpointPlane) Swap(i, j int) {
	p.midpointNodes[i], p.midpointNodes[j] = p.midpointNodes[j], p.midpointNodes[i]
}
