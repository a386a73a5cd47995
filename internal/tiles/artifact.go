package tiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	_ "modernc.org/sqlite"

	"github.com/recway/roadquality/server/internal/lib/graph"
)

// ErrTileLoad is returned when a tile artifact cannot be found or read
var ErrTileLoad = errors.New("tile load failed")

const formatVersion = "1"

var schema = []string{`
CREATE TABLE meta (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`, `
CREATE TABLE nodes (
	id  INTEGER PRIMARY KEY,
	lon REAL NOT NULL,
	lat REAL NOT NULL
)`, `
CREATE TABLE edges (
	u        INTEGER NOT NULL,
	v        INTEGER NOT NULL,
	k        INTEGER NOT NULL,
	length_m REAL NOT NULL,
	highway  TEXT,
	name     TEXT,
	oneway   INTEGER NOT NULL DEFAULT 0,
	geometry BLOB,
	PRIMARY KEY (u, v, k)
)`, `
CREATE TABLE midpoints (
	seq     INTEGER PRIMARY KEY,
	lat_rad REAL NOT NULL,
	lon_rad REAL NOT NULL,
	u       INTEGER NOT NULL,
	v       INTEGER NOT NULL,
	k       INTEGER NOT NULL
)`,
}

// WriteArtifact stores the graph of one tile, with its midpoint table, into a
// new SQLite file at path. An existing file is replaced.
func WriteArtifact(ctx context.Context, path string, tile int, g *graph.Graph) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to replace artifact %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to create artifact %s: %w", path, err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin artifact transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create artifact schema: %w", err)
		}
	}

	meta := map[string]string{"tile": strconv.Itoa(tile), "format_version": formatVersion}
	for key, value := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (name, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("failed to write artifact meta: %w", err)
		}
	}

	for _, n := range g.Nodes() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO nodes (id, lon, lat) VALUES (?, ?, ?)`, int64(n.ID), n.Lon, n.Lat); err != nil {
			return fmt.Errorf("failed to write node %d: %w", n.ID, err)
		}
	}

	for _, id := range g.Edges() {
		e, err := g.Edge(id)
		if err != nil {
			return err
		}

		var geometry []byte
		if len(e.Geometry) >= 2 {
			geometry, err = wkb.Marshal(e.Geometry)
			if err != nil {
				return fmt.Errorf("failed to encode geometry of edge %s: %w", id, err)
			}
		}

		oneway := 0
		if e.Oneway {
			oneway = 1
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO edges (u, v, k, length_m, highway, name, oneway, geometry) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			int64(id.U), int64(id.V), id.Key, e.Length, e.Highway, e.Name, oneway, geometry); err != nil {
			return fmt.Errorf("failed to write edge %s: %w", id, err)
		}
	}

	for row, m := range g.Midpoints() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO midpoints (seq, lat_rad, lon_rad, u, v, k) VALUES (?, ?, ?, ?, ?, ?)`,
			row, m.LatRad, m.LonRad, int64(m.Edge.U), int64(m.Edge.V), m.Edge.Key); err != nil {
			return fmt.Errorf("failed to write midpoint %d: %w", row, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit artifact %s: %w", path, err)
	}
	return nil
}

// ReadArtifact loads a tile artifact written by WriteArtifact
func ReadArtifact(ctx context.Context, path string) (*graph.Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTileLoad, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", ErrTileLoad, path, err)
	}
	defer db.Close()

	index, err := readArtifact(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTileLoad, path, err)
	}
	index.Source = path
	return index, nil
}

func readArtifact(ctx context.Context, db *sql.DB) (*graph.Index, error) {
	var tileValue string
	if err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE name = 'tile'`).Scan(&tileValue); err != nil {
		return nil, fmt.Errorf("failed to read tile id: %w", err)
	}
	tile, err := strconv.Atoi(tileValue)
	if err != nil {
		return nil, fmt.Errorf("invalid tile id %q: %w", tileValue, err)
	}

	g := graph.New()
	if err := readNodes(ctx, db, g); err != nil {
		return nil, err
	}
	if err := readEdges(ctx, db, g); err != nil {
		return nil, err
	}
	mids, err := readMidpoints(ctx, db, g)
	if err != nil {
		return nil, err
	}

	return &graph.Index{
		Tile:    tile,
		Graph:   g,
		Spatial: graph.NewSpatialIndex(mids),
	}, nil
}

func readNodes(ctx context.Context, db *sql.DB, g *graph.Graph) error {
	rows, err := db.QueryContext(ctx, `SELECT id, lon, lat FROM nodes`)
	if err != nil {
		return fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var n graph.Node
		if err := rows.Scan(&id, &n.Lon, &n.Lat); err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}
		n.ID = graph.NodeID(id)
		g.AddNode(n)
	}
	return rows.Err()
}

func readEdges(ctx context.Context, db *sql.DB, g *graph.Graph) error {
	rows, err := db.QueryContext(ctx,
		`SELECT u, v, k, length_m, highway, name, oneway, geometry FROM edges ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			u, v          int64
			e             graph.Edge
			highway, name sql.NullString
			geometry      []byte
		)
		if err := rows.Scan(&u, &v, &e.ID.Key, &e.Length, &highway, &name, &e.Oneway, &geometry); err != nil {
			return fmt.Errorf("failed to scan edge: %w", err)
		}
		e.ID.U = graph.NodeID(u)
		e.ID.V = graph.NodeID(v)
		e.Highway = highway.String
		e.Name = name.String

		if len(geometry) > 0 {
			decoded, err := wkb.Unmarshal(geometry)
			if err != nil {
				return fmt.Errorf("failed to decode geometry of edge %s: %w", e.ID, err)
			}
			line, ok := decoded.(orb.LineString)
			if !ok {
				return fmt.Errorf("edge %s geometry is %s, not a LineString", e.ID, decoded.GeoJSONType())
			}
			e.Geometry = line
		}

		if err := g.AddEdge(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func readMidpoints(ctx context.Context, db *sql.DB, g *graph.Graph) ([]graph.Midpoint, error) {
	rows, err := db.QueryContext(ctx, `SELECT seq, lat_rad, lon_rad, u, v, k FROM midpoints ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query midpoints: %w", err)
	}
	defer rows.Close()

	var mids []graph.Midpoint
	for rows.Next() {
		var (
			row  int
			u, v int64
			m    graph.Midpoint
		)
		if err := rows.Scan(&row, &m.LatRad, &m.LonRad, &u, &v, &m.Edge.Key); err != nil {
			return nil, fmt.Errorf("failed to scan midpoint: %w", err)
		}
		m.Edge.U = graph.NodeID(u)
		m.Edge.V = graph.NodeID(v)

		if !g.HasEdge(m.Edge) {
			return nil, fmt.Errorf("midpoint row %d references edge %s: %w", row, m.Edge, graph.ErrEdgeNotFound)
		}
		mids = append(mids, m)
	}
	return mids, rows.Err()
}
