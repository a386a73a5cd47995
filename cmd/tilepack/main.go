package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"

	"github.com/recway/roadquality/server/internal/tiles"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "pack":
		handlePack()
	case "inspect":
		handleInspect()
	case "locate":
		handleLocate()
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func handlePack() {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	input := fs.String("geojson", "", "GeoJSON FeatureCollection of street nodes and edges")
	outDir := fs.String("out", "graphs", "directory the artifact is written to")
	prefix := fs.String("prefix", tiles.DefaultPrefix, "artifact name prefix")
	tile := fs.Int("tile", -1, "tile id (default: the tile holding the center of the graph)")
	fs.Parse(os.Args[2:])

	if *input == "" {
		fmt.Println("Example usage:")
		fmt.Println("  tilepack pack --geojson bogota.geojson --out graphs")
		fmt.Println("  tilepack pack --geojson bogota.geojson --tile 412")
		os.Exit(1)
	}

	data, err := os.ReadFile(*input)
	if err != nil {
		log.Fatalf("Error reading %s: %v", *input, err)
	}

	g, err := tiles.GraphFromGeoJSON(data)
	if err != nil {
		log.Fatalf("Error building graph: %v", err)
	}
	if g.NodeCount() == 0 {
		log.Fatalf("No nodes in %s", *input)
	}

	grid := tiles.DefaultGrid()
	id := *tile
	if id < 0 {
		points := make(orb.MultiPoint, 0, g.NodeCount())
		for _, n := range g.Nodes() {
			points = append(points, n.Point())
		}
		center := points.Bound().Center()
		id = grid.TileFor(center.Lat(), center.Lon())
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("Error creating %s: %v", *outDir, err)
	}
	path := filepath.Join(*outDir, tiles.ArtifactName(*prefix, id, grid.TileBounds(id)))

	if err := tiles.WriteArtifact(context.Background(), path, id, g); err != nil {
		log.Fatalf("Error writing artifact: %v", err)
	}

	fmt.Printf("Tile %d: %d nodes, %d edges\n", id, g.NodeCount(), g.EdgeCount())
	fmt.Printf("Wrote %s\n", path)
}

func handleInspect() {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	path := fs.String("artifact", "", "tile artifact to read")
	fs.Parse(os.Args[2:])

	if *path == "" {
		fmt.Println("Example usage:")
		fmt.Println("  tilepack inspect --artifact graphs/segN412pos4.57&-76.36&4.16&-76.05.sqlite")
		os.Exit(1)
	}

	index, err := tiles.ReadArtifact(context.Background(), *path)
	if err != nil {
		log.Fatalf("Error reading artifact: %v", err)
	}

	fmt.Printf("Tile:      %d\n", index.Tile)
	fmt.Printf("Nodes:     %d\n", index.Graph.NodeCount())
	fmt.Printf("Edges:     %d\n", index.Graph.EdgeCount())
	fmt.Printf("Midpoints: %d\n", index.Spatial.Len())

	if tile, bounds, err := tiles.ParseArtifactName(*path, tiles.DefaultPrefix); err == nil {
		fmt.Printf("Name:      tile %d, N %.6f S %.6f W %.6f E %.6f\n", tile, bounds.North, bounds.South, bounds.West, bounds.East)
	}
}

func handleLocate() {
	fs := flag.NewFlagSet("locate", flag.ExitOnError)
	lat := fs.Float64("lat", 0, "latitude")
	lon := fs.Float64("lon", 0, "longitude")
	prefix := fs.String("prefix", tiles.DefaultPrefix, "artifact name prefix")
	fs.Parse(os.Args[2:])

	grid := tiles.DefaultGrid()
	id := grid.TileFor(*lat, *lon)
	fmt.Printf("Tile %d\n", id)
	fmt.Printf("Artifact %s\n", tiles.ArtifactName(*prefix, id, grid.TileBounds(id)))
}

func printUsage() {
	fmt.Println("Tile artifact tool")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  tilepack <command> [options]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  pack      Build a tile artifact from a GeoJSON street graph")
	fmt.Println("  inspect   Print the contents of a tile artifact")
	fmt.Println("  locate    Print the tile and artifact name for a coordinate")
	fmt.Println("  help      Show this help message")
}
