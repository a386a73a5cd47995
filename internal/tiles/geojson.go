package tiles

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/recway/roadquality/server/internal/lib/graph"
)

// ErrBadFeature marks a GeoJSON feature that cannot become a node or an edge
var ErrBadFeature = errors.New("invalid graph feature")

// GraphFromGeoJSON builds a street graph from a GeoJSON FeatureCollection as
// exported by OSM graph tooling: Point features are nodes carrying "osmid",
// LineString features are edges carrying "u", "v", "key", "length",
// "highway", "name" and "oneway". Nodes may appear after the edges that
// reference them.
func GraphFromGeoJSON(data []byte) (*graph.Graph, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode feature collection: %w", err)
	}

	g := graph.New()
	var edges []graph.Edge

	for i, f := range fc.Features {
		switch geom := f.Geometry.(type) {
		case orb.Point:
			id, err := intProperty(f.Properties, "osmid")
			if err != nil {
				return nil, fmt.Errorf("%w: feature %d: %w", ErrBadFeature, i, err)
			}
			g.AddNode(graph.Node{ID: graph.NodeID(id), Lon: geom.Lon(), Lat: geom.Lat()})

		case orb.LineString:
			e, err := edgeFromFeature(f, geom)
			if err != nil {
				return nil, fmt.Errorf("%w: feature %d: %w", ErrBadFeature, i, err)
			}
			edges = append(edges, e)

		default:
			// Areas and multi-geometries carry no routable street.
		}
	}

	for _, e := range edges {
		if err := g.AddEdge(e); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func edgeFromFeature(f *geojson.Feature, line orb.LineString) (graph.Edge, error) {
	u, err := intProperty(f.Properties, "u")
	if err != nil {
		return graph.Edge{}, err
	}
	v, err := intProperty(f.Properties, "v")
	if err != nil {
		return graph.Edge{}, err
	}
	key, err := intProperty(f.Properties, "key")
	if err != nil {
		key = 0
	}

	return graph.Edge{
		ID:       graph.EdgeID{U: graph.NodeID(u), V: graph.NodeID(v), Key: int(key)},
		Length:   f.Properties.MustFloat64("length", 0),
		Highway:  firstString(f.Properties["highway"]),
		Name:     firstString(f.Properties["name"]),
		Oneway:   truthy(f.Properties["oneway"]),
		Geometry: line,
	}, nil
}

func intProperty(props geojson.Properties, key string) (int64, error) {
	switch v := props[key].(type) {
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("property %s: %w", key, err)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("property %s missing", key)
	default:
		return 0, fmt.Errorf("property %s has type %T", key, v)
	}
}

// firstString reads a tag that OSM exports either as a string or as a list of
// strings for merged ways.
func firstString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []any:
		if len(s) > 0 {
			return firstString(s[0])
		}
	}
	return ""
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(b) {
		case "true", "yes", "1":
			return true
		}
	case float64:
		return b != 0
	}
	return false
}
