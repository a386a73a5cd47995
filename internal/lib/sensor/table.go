package sensor

import (
	"errors"
	"time"
)

var (
	// ErrEmptyTrace is returned for a trace without samples
	ErrEmptyTrace = errors.New("trace has no samples")

	// ErrMissingRate is returned when the sampling rate metadata is absent
	ErrMissingRate = errors.New("trace has no sampling rate")
)

// Metadata keys written by the recording app
const (
	KeySamplingRate = "Sampling Rate Configured"
	KeyGyroscope    = "Gyroscope Available"
)

// TimeFormat is the UTC ISO-8601 layout of reported timestamps
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Sample is one row of a recorded trace
type Sample struct {
	Timestamp int64 // milliseconds since the epoch
	AccX      float64
	AccY      float64
	AccZ      float64
	GyroX     float64
	GyroY     float64
	Lat       float64
	Lon       float64
	Speed     float64
	Heading   float64
}

// Time returns the sample timestamp
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.Timestamp).UTC()
}

// Metadata describes the recording device
type Metadata struct {
	SamplingRate float64
	Gyroscope    bool
	Values       map[string]string
}

// Table is a full trace ordered by increasing time
type Table struct {
	Name     string
	Metadata Metadata
	Samples  []Sample
}

// Len returns the number of samples
func (t *Table) Len() int {
	return len(t.Samples)
}

// Validate checks the preconditions of processing a trace
func (t *Table) Validate() error {
	if t == nil || len(t.Samples) == 0 {
		return ErrEmptyTrace
	}
	if t.Metadata.SamplingRate <= 0 {
		return ErrMissingRate
	}
	return nil
}

// Channel extracts one column of the table
func (t *Table) Channel(column func(Sample) float64) []float64 {
	out := make([]float64, len(t.Samples))
	for i, s := range t.Samples {
		out[i] = column(s)
	}
	return out
}

// GPSChanged returns the rows whose position differs from the previous row.
// The first row is always included.
func (t *Table) GPSChanged() []int {
	if len(t.Samples) == 0 {
		return nil
	}
	rows := []int{0}
	for i := 1; i < len(t.Samples); i++ {
		prev, cur := t.Samples[i-1], t.Samples[i]
		if prev.Lat != cur.Lat || prev.Lon != cur.Lon {
			rows = append(rows, i)
		}
	}
	return rows
}

// MeanSpeed averages the GPS speed of rows [start, end)
func (t *Table) MeanSpeed(start, end int) float64 {
	start = max(start, 0)
	end = min(end, len(t.Samples))
	if end <= start {
		return 0
	}
	var sum float64
	for _, s := range t.Samples[start:end] {
		sum += s.Speed
	}
	return sum / float64(end-start)
}

// Reverse flips the row order in place
func (t *Table) Reverse() {
	for i, j := 0, len(t.Samples)-1; i < j; i, j = i+1, j-1 {
		t.Samples[i], t.Samples[j] = t.Samples[j], t.Samples[i]
	}
}

// Channels selects the columns of the inertial sensors
var (
	AccX  = func(s Sample) float64 { return s.AccX }
	AccZ  = func(s Sample) float64 { return s.AccZ }
	GyroX = func(s Sample) float64 { return s.GyroX }
	GyroY = func(s Sample) float64 { return s.GyroY }
)
