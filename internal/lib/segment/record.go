package segment

import (
	"github.com/paulmach/orb"

	"github.com/recway/roadquality/server/internal/lib/graph"
	"github.com/recway/roadquality/server/internal/lib/signal"
)

// Pothole is a detected transient placed on a piece
type Pothole struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Magnitude float64 `json:"magnitude"`
	Speed     float64 `json:"speed"`
}

// Record is the result reported for one traversed piece of street
type Record struct {
	ID              uint64         `json:"id"`
	Name            string         `json:"name"`
	RoadType        string         `json:"road_type"`
	LengthM         float64        `json:"length_m"`
	StartTime       string         `json:"start_time"`
	StartSample     int            `json:"start_sample"`
	Edge            graph.EdgeID   `json:"edge"`
	PieceIndex      int            `json:"piece_index"`
	Polyline        orb.LineString `json:"polyline"`
	EncodedPolyline string         `json:"encoded_polyline"`
	Potholes        []Pothole      `json:"potholes"`

	signal.Roughness
}

// UndefinedName is reported for streets without a name
const UndefinedName = "Undefined"
