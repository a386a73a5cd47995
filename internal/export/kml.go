package export

import (
	"context"
	"fmt"
	"image/color"
	"strings"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-kml"
	"go.uber.org/multierr"

	"github.com/recway/roadquality/server/internal/lib/segment"
)

// Quality classes by composite quality index
const (
	styleGood = "good"
	styleFair = "fair"
	stylePoor = "poor"

	goodQuality = 4.0
	fairQuality = 2.5
)

// KMLSink writes each trace as a KML document to <dir>/<name>.kml: one line
// placemark per record, coloured by quality, plus one point per pothole.
type KMLSink struct {
	Dir string
}

func (s KMLSink) Write(ctx context.Context, name string, records []segment.Record) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := createOutput(s.Dir, name, ".kml")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	if err := Document(name, records).WriteIndent(f, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML for %s: %w", name, err)
	}
	return nil
}

// Document renders records as a KML document
func Document(name string, records []segment.Record) *kml.CompoundElement {
	children := []kml.Element{
		kml.Name(name),
		lineStyle(styleGood, color.RGBA{R: 0x2e, G: 0xb8, B: 0x4b, A: 0xff}),
		lineStyle(styleFair, color.RGBA{R: 0xf2, G: 0xc0, B: 0x1e, A: 0xff}),
		lineStyle(stylePoor, color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}),
	}

	for _, r := range records {
		children = append(children, kml.Placemark(
			kml.Name(fmt.Sprintf("%s #%d", r.Name, r.PieceIndex)),
			kml.Description(describe(r)),
			kml.StyleURL("#"+QualityClass(r.IQR)),
			kml.LineString(kml.Coordinates(coordinates(r.Polyline)...)),
		))
		for _, p := range r.Potholes {
			children = append(children, kml.Placemark(
				kml.Name(fmt.Sprintf("pothole %.1f", p.Magnitude)),
				kml.Point(kml.Coordinates(kml.Coordinate{Lon: p.Lon, Lat: p.Lat})),
			))
		}
	}

	return kml.KML(kml.Document(children...))
}

// QualityClass maps a composite quality index to a style id
func QualityClass(iqr float64) string {
	switch {
	case iqr >= goodQuality:
		return styleGood
	case iqr >= fairQuality:
		return styleFair
	default:
		return stylePoor
	}
}

func lineStyle(id string, c color.Color) kml.Element {
	return kml.SharedStyle(id, kml.LineStyle(kml.Color(c), kml.Width(5)))
}

func coordinates(line orb.LineString) []kml.Coordinate {
	out := make([]kml.Coordinate, len(line))
	for i, p := range line {
		out[i] = kml.Coordinate{Lon: p.Lon(), Lat: p.Lat()}
	}
	return out
}

func describe(r segment.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", r.ID)
	fmt.Fprintf(&b, "road type: %s\n", r.RoadType)
	fmt.Fprintf(&b, "length: %.1f m\n", r.LengthM)
	fmt.Fprintf(&b, "start: %s\n", r.StartTime)
	fmt.Fprintf(&b, "IRI: %.3f (%.2f)\n", r.IRIRaw, r.IRIHuman)
	fmt.Fprintf(&b, "IQR: %.2f\n", r.IQR)
	fmt.Fprintf(&b, "potholes: %d", len(r.Potholes))
	return b.String()
}
