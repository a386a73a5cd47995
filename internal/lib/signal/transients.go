package signal

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// MaxTransientPeaks is the number of local maxima examined per window
const MaxTransientPeaks = 20

type peak struct {
	row, col int
	value    float64
}

// DetectTransients finds short high energy events in x (sampled at fs) whose
// frequency lies in band. The signal is normalised by the median of
// |x|*speedFactor, peaks of the masked wavelet surface above
// magnitudeThreshold are kept, and of every group of peaks closer than
// timeThreshold seconds only the earliest survives.
func DetectTransients(x []float64, fs float64, band Band, magnitudeThreshold, timeThreshold, speedFactor float64) ([]Transient, error) {
	n := len(x)
	if n < 2 {
		return nil, fmt.Errorf("%w: %d samples", ErrWindowTooShort, n)
	}

	abs := make([]float64, n)
	for i, v := range x {
		abs[i] = math.Abs(v * speedFactor)
	}
	median, err := stats.Median(abs)
	if err != nil {
		return nil, err
	}
	if median == 0 || math.IsNaN(median) {
		// A flat window has no reference level to compare against.
		return nil, nil
	}

	normalized := make([]float64, n)
	for i, v := range x {
		normalized[i] = v / median
	}

	freq, widths, decay := scaleGrid(n, fs)
	if len(freq) == 0 {
		return nil, fmt.Errorf("%w: %d samples give no wavelet scale", ErrWindowTooShort, n)
	}

	surface := cwtMagnitude(normalized, widths, decay)
	applyCone(surface, coneOfInfluence(freq, fs, n))

	// Frequencies decrease with the row, so the high edge comes first.
	top := nearestIndex(freq, band.High)
	bottom := nearestIndex(freq, band.Low) + 1
	if top >= bottom {
		return nil, nil
	}
	cropped := surface[top:bottom]

	total := float64(n) / fs
	var transients []Transient
	for _, p := range localMaxima(cropped, MaxTransientPeaks) {
		if p.value <= magnitudeThreshold {
			continue
		}
		transients = append(transients, Transient{
			Time:      float64(p.col) * total / float64(n-1),
			Frequency: freq[top+p.row],
			Magnitude: p.value,
		})
	}

	return dedupeByTime(transients, timeThreshold), nil
}

// MergeTransients combines gyroscope and accelerometer detections of the same
// window. Accelerometer events within window seconds of a gyroscope event are
// dropped; the rest follow the gyroscope list.
func MergeTransients(gyro, accel []Transient, window float64) []Transient {
	merged := make([]Transient, 0, len(gyro)+len(accel))
	merged = append(merged, gyro...)

	for _, a := range accel {
		near := false
		for _, g := range gyro {
			if math.Abs(a.Time-g.Time) < window {
				near = true
				break
			}
		}
		if !near {
			merged = append(merged, a)
		}
	}
	return merged
}

func nearestIndex(values []float64, target float64) int {
	best := 0
	bestDiff := math.Inf(1)
	for i, v := range values {
		if d := math.Abs(target - v); d < bestDiff {
			best = i
			bestDiff = d
		}
	}
	return best
}

// localMaxima returns up to limit non-zero points equal to the maximum of
// their 8-neighbourhood (outside the surface counts as zero), highest first.
func localMaxima(surface [][]float64, limit int) []peak {
	var peaks []peak
	for r := range surface {
		for c, v := range surface[r] {
			if v == 0 {
				continue
			}
			if isNeighbourhoodMax(surface, r, c) {
				peaks = append(peaks, peak{row: r, col: c, value: v})
			}
		}
	}

	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].value < peaks[j].value })

	if limit > len(peaks) {
		limit = len(peaks)
	}
	out := make([]peak, 0, limit)
	for i := len(peaks) - 1; i >= len(peaks)-limit; i-- {
		out = append(out, peaks[i])
	}
	return out
}

func isNeighbourhoodMax(surface [][]float64, r, c int) bool {
	v := surface[r][c]
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			rr, cc := r+dr, c+dc
			if rr < 0 || rr >= len(surface) || cc < 0 || cc >= len(surface[rr]) {
				if v < 0 {
					return false
				}
				continue
			}
			if surface[rr][cc] > v {
				return false
			}
		}
	}
	return true
}

// dedupeByTime sorts by time and keeps the earliest transient of every group
// closer than threshold seconds.
func dedupeByTime(transients []Transient, threshold float64) []Transient {
	if len(transients) == 0 {
		return nil
	}
	sort.SliceStable(transients, func(i, j int) bool { return transients[i].Time < transients[j].Time })

	dropped := make([]bool, len(transients))
	var kept []Transient
	for i, t := range transients {
		if dropped[i] {
			continue
		}
		kept = append(kept, t)
		for j := range transients {
			dt := transients[j].Time - t.Time
			if dt >= 0 && dt < threshold {
				dropped[j] = true
			}
		}
	}
	return kept
}
