package graph

// ConnectedEdges returns the edges touching u (incoming) and the edges touching
// v (outgoing) for the edge u-v. Edges between u and v themselves, in either
// direction, are excluded from both lists.
func (g *Graph) ConnectedEdges(u, v NodeID) (incoming, outgoing []EdgeID) {
	for _, p := range g.in[u] {
		if p == v {
			continue
		}
		for _, k := range g.Keys(p, u) {
			incoming = append(incoming, EdgeID{p, u, k})
		}
	}
	for _, s := range g.out[u] {
		if s == v {
			continue
		}
		for _, k := range g.Keys(u, s) {
			incoming = append(incoming, EdgeID{u, s, k})
		}
	}

	for _, s := range g.out[v] {
		if s == u {
			continue
		}
		for _, k := range g.Keys(v, s) {
			outgoing = append(outgoing, EdgeID{v, s, k})
		}
	}
	for _, p := range g.in[v] {
		if p == u {
			continue
		}
		for _, k := range g.Keys(p, v) {
			outgoing = append(outgoing, EdgeID{p, v, k})
		}
	}

	return incoming, outgoing
}

type pathState struct {
	steps    []EdgeID
	distance float64
}

func (p pathState) visits(pair nodePair) bool {
	for _, s := range p.steps {
		if s.pair() == pair {
			return true
		}
	}
	return false
}

// PathsWithinDistance explores the graph breadth-first from the edge (u, v,
// startKey) and groups every reached edge by the number of hops from it.
// Level 0 holds the starting edge. A path never revisits a node pair, a node
// pair is reported at most once per level, and a path is only extended while
// its cumulative length is below maxDistance.
func (g *Graph) PathsWithinDistance(u, v NodeID, maxDistance float64, startKey int) [][]Reach {
	start := EdgeID{u, v, startKey}
	levels := [][]Reach{{{Edge: start}}}
	seen := []map[nodePair]bool{{start.pair(): true}}

	queue := []pathState{{steps: []EdgeID{start}}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		last := current.steps[len(current.steps)-1]
		incoming, outgoing := g.ConnectedEdges(last.U, last.V)
		next := append(incoming, outgoing...)

		for _, id := range next {
			pair := id.pair()
			if current.visits(pair) {
				continue
			}

			level := len(current.steps)
			for len(seen) <= level {
				seen = append(seen, map[nodePair]bool{})
				levels = append(levels, nil)
			}
			if seen[level][pair] {
				continue
			}

			length := 0.0
			if e, ok := g.edges[id]; ok {
				length = e.Length
			}
			distance := current.distance + length

			steps := make([]EdgeID, level+1)
			copy(steps, current.steps)
			steps[level] = id

			levels[level] = append(levels[level], Reach{
				Edge:     id,
				Length:   length,
				Distance: distance,
				Side:     originSide(steps, u, v),
			})
			seen[level][pair] = true

			if distance < maxDistance {
				queue = append(queue, pathState{steps: steps, distance: distance})
			}
		}
	}

	// Drop trailing levels that were allocated but never filled.
	for len(levels) > 1 && len(levels[len(levels)-1]) == 0 {
		levels = levels[:len(levels)-1]
	}
	return levels
}

// originSide tells from which endpoint of the starting edge the path left.
func originSide(steps []EdgeID, u, v NodeID) Side {
	first := steps[1]
	if len(steps) == 2 {
		if first.Touches(u) {
			return SideU
		}
		if first.Touches(v) {
			return SideV
		}
		return SideU
	}
	if first.Touches(u) {
		return SideU
	}
	return SideV
}

// CanonicalEdgeID returns the orientation-independent id of an edge: the id
// itself for one-way streets, otherwise the id with the smaller node first.
func (g *Graph) CanonicalEdgeID(id EdgeID) (EdgeID, error) {
	e, err := g.Edge(id)
	if err != nil {
		return EdgeID{}, err
	}
	if e.Oneway {
		return id, nil
	}
	if id.U > id.V {
		return EdgeID{id.V, id.U, id.Key}, nil
	}
	return id, nil
}
