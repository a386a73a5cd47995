package tiles

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// Grid maps coordinates onto the fixed tile layout used to cut the street
// network into artifacts. Rows grow southward and columns eastward from the
// origin.
type Grid struct {
	OriginLat   float64 `koanf:"origin_lat"`
	OriginLon   float64 `koanf:"origin_lon"`
	LatInterval float64 `koanf:"lat_interval"`
	LonInterval float64 `koanf:"lon_interval"`
	Columns     int     `koanf:"columns"`
}

// DefaultGrid returns the grid covering Colombia
func DefaultGrid() Grid {
	return Grid{
		OriginLat:   12.461201,
		OriginLon:   -79.457520,
		LatInterval: 0.4102147,
		LonInterval: 0.309800875,
		Columns:     40,
	}
}

// TileFor returns the tile id containing (lat, lon)
func (g Grid) TileFor(lat, lon float64) int {
	row := int(math.Abs(g.OriginLat-lat) / g.LatInterval)
	col := int(math.Abs(g.OriginLon-lon) / g.LonInterval)
	return row*g.Columns + col
}

// TileBounds returns the extent of a tile south-east of the origin
func (g Grid) TileBounds(tile int) Bounds {
	row := tile / g.Columns
	col := tile % g.Columns

	north := g.OriginLat - float64(row)*g.LatInterval
	west := g.OriginLon + float64(col)*g.LonInterval
	return Bounds{
		North: north,
		South: north - g.LatInterval,
		West:  west,
		East:  west + g.LonInterval,
	}
}

// Bounds is the rectangular extent of a tile in degrees
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	West  float64 `json:"west"`
	East  float64 `json:"east"`
}

// Contains reports whether (lat, lon) lies strictly inside the bounds
func (b Bounds) Contains(lat, lon float64) bool {
	return b.North > lat && lat > b.South && b.West < lon && lon < b.East
}

// ArtifactExt is the file extension of tile artifacts
const ArtifactExt = ".sqlite"

// ArtifactName builds the file name of a tile artifact:
// <prefix><tile>pos<north>&<south>&<west>&<east>.sqlite
func ArtifactName(prefix string, tile int, b Bounds) string {
	format := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
	return fmt.Sprintf("%s%dpos%s&%s&%s&%s%s", prefix, tile,
		format(b.North), format(b.South), format(b.West), format(b.East), ArtifactExt)
}

// artifactPrefix is the name prefix shared by all artifacts of a tile
func artifactPrefix(prefix string, tile int) string {
	return fmt.Sprintf("%s%dpos", prefix, tile)
}

// ParseArtifactName extracts the tile id and bounds from an artifact file name
func ParseArtifactName(name, prefix string) (int, Bounds, error) {
	base := strings.TrimSuffix(filepath.Base(name), ArtifactExt)
	if !strings.HasPrefix(base, prefix) {
		return 0, Bounds{}, fmt.Errorf("artifact %q does not start with %q", name, prefix)
	}

	rest := strings.TrimPrefix(base, prefix)
	tilePart, boundsPart, found := strings.Cut(rest, "pos")
	if !found {
		return 0, Bounds{}, fmt.Errorf("artifact %q has no bounds section", name)
	}

	tile, err := strconv.Atoi(tilePart)
	if err != nil {
		return 0, Bounds{}, fmt.Errorf("artifact %q has invalid tile id: %w", name, err)
	}

	parts := strings.Split(boundsPart, "&")
	if len(parts) != 4 {
		return 0, Bounds{}, fmt.Errorf("artifact %q: expected 4 bounds, got %d", name, len(parts))
	}

	values := make([]float64, 4)
	for i, p := range parts {
		values[i], err = strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, Bounds{}, fmt.Errorf("artifact %q has invalid bound %q: %w", name, p, err)
		}
	}

	return tile, Bounds{North: values[0], South: values[1], West: values[2], East: values[3]}, nil
}
