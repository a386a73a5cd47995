package matching

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/recway/roadquality/server/internal/lib/geo"
	"github.com/recway/roadquality/server/internal/lib/graph"
)

// mapMatcher implements the MapMatcher interface
type mapMatcher struct {
	tiles  TileLocator
	config Config
	logger *zap.Logger

	index *graph.Index
	state State
}

// NewMapMatcher creates a matcher for one trace
func NewMapMatcher(tiles TileLocator, config Config, logger *zap.Logger) MapMatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &mapMatcher{
		tiles:  tiles,
		config: config,
		logger: logger,
	}
}

func (m *mapMatcher) State() *State {
	return &m.state
}

func (m *mapMatcher) Index() *graph.Index {
	return m.index
}

// Match advances the state with the next fix of the trace
func (m *mapMatcher) Match(ctx context.Context, fix Fix) (Step, error) {
	if err := m.ensureTile(ctx, fix); err != nil {
		return Step{}, err
	}

	point := fix.Point()
	if !m.state.Matched {
		return m.matchFirstFix(fix, point)
	}

	polygon := geo.PolygonAroundPolyline(m.state.Geometry, m.config.BufferWidth)
	if geo.Contains(polygon, point) {
		m.state.Changed = false
		return m.step(Contained, nil), nil
	}

	candidates := m.neighborCandidates(point, fix.Heading)
	if best, ok := bestCandidate(candidates); ok {
		if err := m.setEdge(best.Edge); err != nil {
			return Step{}, err
		}
		m.state.Changed = true
		m.logger.Debug("Moved to connected edge",
			zap.Stringer("edge", best.Edge),
			zap.Int("level", best.Level),
			zap.Float64("score", best.Score),
			zap.Int("candidates", len(candidates)))
		return m.step(Neighbor, candidates), nil
	}

	return m.matchWideSearch(fix, point)
}

// ensureTile loads the tile of the fix when it differs from the current one
func (m *mapMatcher) ensureTile(ctx context.Context, fix Fix) error {
	tile := m.tiles.TileFor(fix.Lat, fix.Lon)
	if m.index != nil && m.index.Tile == tile {
		return nil
	}

	index, err := m.tiles.Load(ctx, tile)
	if err != nil {
		return fmt.Errorf("%w: tile %d: %w", ErrTileUnavailable, tile, err)
	}

	if m.index != nil {
		m.logger.Info("Switched tile", zap.Int("from", m.index.Tile), zap.Int("to", tile))
	}
	m.index = index
	m.state.Tile = tile

	// The current edge may not exist in the new tile; start over from the fix.
	if m.state.Matched && !index.Graph.HasEdge(m.state.Edge) {
		m.state.Matched = false
	}
	return nil
}

func (m *mapMatcher) matchFirstFix(fix Fix, point orb.Point) (Step, error) {
	ids := m.index.Spatial.Nearest(fix.Lat, fix.Lon, m.config.CandidateCount)
	id, _, err := m.index.Graph.Subgraph(ids).NearestEdge(point)
	if err != nil {
		m.state.Changed = false
		return Step{}, fmt.Errorf("no edge for first fix: %w", err)
	}

	if err := m.setEdge(id); err != nil {
		return Step{}, err
	}
	m.state.Changed = true
	return m.step(FirstFix, nil), nil
}

func (m *mapMatcher) matchWideSearch(fix Fix, point orb.Point) (Step, error) {
	ids := m.index.Spatial.WithinRadius(fix.Lat, fix.Lon, m.config.WideSearchRadius)
	if len(ids) == 0 {
		ids = m.index.Spatial.Nearest(fix.Lat, fix.Lon, m.config.CandidateCount)
	}

	id, distance, err := m.index.Graph.Subgraph(ids).NearestEdge(point)
	if err != nil {
		m.state.Changed = false
		return Step{}, fmt.Errorf("wide search found no edge: %w", err)
	}

	if err := m.setEdge(id); err != nil {
		return Step{}, err
	}
	// A fix that left the buffer always ends the current window, even when the
	// search lands on the same edge.
	m.state.Changed = true

	m.logger.Debug("Wide search",
		zap.Stringer("edge", id),
		zap.Float64("distance", distance),
		zap.Int("searched", len(ids)))
	return m.step(WideSearch, nil), nil
}

// neighborCandidates scores every edge reachable within the BFS budget whose
// buffer contains the point.
func (m *mapMatcher) neighborCandidates(point orb.Point, heading float64) []Candidate {
	g := m.index.Graph
	current := m.state.Edge

	entry, exit, err := g.Bearings(current)
	if err != nil {
		return nil
	}

	levels := g.PathsWithinDistance(current.U, current.V, m.config.NeighborDistance, current.Key)

	var candidates []Candidate
	for level := 1; level < len(levels); level++ {
		for _, reach := range levels[level] {
			coords, err := g.Coordinates(reach.Edge)
			if err != nil {
				continue
			}
			if !geo.Contains(geo.PolygonAroundPolyline(coords, m.config.BufferWidth), point) {
				continue
			}

			distance, err := geo.DistanceToPolyline(coords, point)
			if err != nil {
				continue
			}
			candEntry, candExit, err := g.Bearings(reach.Edge)
			if err != nil {
				continue
			}

			c := Candidate{
				Edge:     reach.Edge,
				Level:    level,
				Distance: distance,
				Entry:    candEntry,
				Exit:     candExit,
				Side:     reach.Side,
			}

			reference := entry
			if reach.Side == graph.SideV {
				reference = exit
			}
			c.Score = m.score(c, reference, heading)
			candidates = append(candidates, c)
		}
	}

	return candidates
}

// score weighs how well a candidate continues the current edge
func (m *mapMatcher) score(c Candidate, reference, heading float64) float64 {
	w := m.config.Weights

	direction := 1 - geo.AngularDifference(c.Entry, reference)/180
	level := 1 / float64(c.Level)
	distance := 1 - math.Min(c.Distance, m.config.DistanceNorm)/m.config.DistanceNorm
	headingMatch := 1 - geo.AngularDifference(c.Entry, heading)/180

	return w.Direction*direction + w.Level*level + w.Distance*distance + w.Heading*headingMatch
}

// bestCandidate returns the highest scored candidate, the first one on ties
func bestCandidate(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best, true
}

func (m *mapMatcher) setEdge(id graph.EdgeID) error {
	edge, err := m.index.Graph.Edge(id)
	if err != nil {
		return err
	}
	coords, err := m.index.Graph.Coordinates(id)
	if err != nil {
		return err
	}

	m.state.Matched = true
	m.state.Edge = id
	m.state.Info = edge
	m.state.Geometry = coords
	return nil
}

func (m *mapMatcher) step(method Method, candidates []Candidate) Step {
	return Step{
		Tile:       m.state.Tile,
		Edge:       m.state.Edge,
		Method:     method,
		Changed:    m.state.Changed,
		Candidates: candidates,
	}
}
