package sensorlog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/recway/roadquality/server/internal/lib/sensor"
)

// ErrMalformed is returned when a trace file cannot be interpreted
var ErrMalformed = errors.New("malformed sensor log")

// Column names of the sample table
const (
	ColTimestamp = "timestamp"
	ColAccX      = "acc_x"
	ColAccY      = "acc_y"
	ColAccZ      = "acc_z"
	ColGyroX     = "gyro_x"
	ColGyroY     = "gyro_y"
	ColLat       = "gps_lat"
	ColLon       = "gps_lng"
	ColSpeed     = "gps_speed"
	ColHeading   = "gps_heading"
)

var requiredColumns = []string{ColTimestamp, ColAccX, ColAccZ, ColLat, ColLon, ColSpeed}

// Reader parses trace files exported by the recording app: '#key: value'
// metadata lines followed by a CSV table starting at the 'timestamp' header.
type Reader struct {
	logger *zap.Logger
}

// NewReader creates a sensor log reader
func NewReader(logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{logger: logger}
}

// ReadFile parses the trace at path, named after its base name
func (r *Reader) ReadFile(path string) (*sensor.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return r.Parse(bytes.NewReader(data), name)
}

// Parse reads a full trace
func (r *Reader) Parse(in io.Reader, name string) (*sensor.Table, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace %s: %w", name, err)
	}

	if !utf8.Valid(data) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: undecodable text: %v", ErrMalformed, name, err)
		}
		r.logger.Debug("Decoded trace as windows-1252", zap.String("trace", name))
		data = decoded
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	values, body, err := splitMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}

	table := &sensor.Table{Name: name, Metadata: metadataFrom(values)}
	table.Samples, err = parseSamples(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}

	// Exports list the newest sample first.
	if n := len(table.Samples); n > 1 && table.Samples[0].Timestamp > table.Samples[n-1].Timestamp {
		table.Reverse()
	}

	r.logger.Debug("Parsed trace",
		zap.String("trace", name),
		zap.Int("samples", len(table.Samples)),
		zap.Float64("sampling_rate", table.Metadata.SamplingRate),
		zap.Bool("gyroscope", table.Metadata.Gyroscope))

	return table, nil
}

// splitMetadata collects the metadata lines and returns the rest of the file
// from the header line on.
func splitMetadata(data []byte) (map[string]string, []byte, error) {
	values := make(map[string]string)

	rest := data
	for len(rest) > 0 {
		line, next := rest, []byte(nil)
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, next = rest[:i], rest[i+1:]
		}

		text := strings.TrimSpace(string(line))
		if strings.HasPrefix(text, ColTimestamp) {
			return values, rest, nil
		}
		if strings.HasPrefix(text, "#") && strings.Contains(text, ":") {
			key, value, _ := strings.Cut(strings.Trim(text, "# "), ":")
			values[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
		rest = next
	}
	return nil, nil, errors.New("no header line")
}

func metadataFrom(values map[string]string) sensor.Metadata {
	meta := sensor.Metadata{Values: values}
	meta.SamplingRate = leadingNumber(values[sensor.KeySamplingRate])
	meta.Gyroscope = strings.EqualFold(values[sensor.KeyGyroscope], "true")
	return meta
}

// leadingNumber parses the number at the start of s, such as 50 in "50 Hz"
func leadingNumber(s string) float64 {
	end := 0
	for end < len(s) && (s[end] == '.' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return v
}

func parseSamples(body []byte) ([]sensor.Sample, error) {
	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var samples []sensor.Sample
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		row := rowReader{record: record, columns: columns}
		s := sensor.Sample{
			Timestamp: int64(row.float(ColTimestamp)),
			AccX:      row.float(ColAccX),
			AccY:      row.float(ColAccY),
			AccZ:      row.float(ColAccZ),
			GyroX:     row.float(ColGyroX),
			GyroY:     row.float(ColGyroY),
			Lat:       row.float(ColLat),
			Lon:       row.float(ColLon),
			Speed:     row.float(ColSpeed),
			Heading:   row.float(ColHeading),
		}
		if row.err != nil {
			return nil, fmt.Errorf("line %d: %w", line, row.err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// rowReader converts named fields of one record, keeping the first error
type rowReader struct {
	record  []string
	columns map[string]int
	err     error
}

func (r *rowReader) float(name string) float64 {
	i, ok := r.columns[name]
	if !ok || i >= len(r.record) {
		return 0
	}
	field := strings.TrimSpace(r.record[i])
	if field == "" {
		return 0
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("column %s: %w", name, err)
	}
	return v
}
