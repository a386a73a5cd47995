package signal

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/dsp/fourier"
)

// ResampledLength is the number of samples of an n sample signal taken at
// fsIn once resampled to fsOut
func ResampledLength(n int, fsIn, fsOut float64) int {
	if fsIn <= 0 {
		return n
	}
	return int(math.Round(float64(n) * fsOut / fsIn))
}

// Resample changes the number of samples of x to num using the Fourier method:
// the spectrum is truncated or zero padded and transformed back. The signal
// is assumed periodic.
func Resample(x []float64, num int) []float64 {
	nx := len(x)
	if num <= 0 || nx == 0 {
		return nil
	}
	if num == nx {
		return append([]float64(nil), x...)
	}

	spectrum := fourier.NewFFT(nx).Coefficients(nil, x)

	out := make([]complex128, num/2+1)
	n := min(num, nx)
	copy(out, spectrum[:n/2+1])

	// An even length keeps a Nyquist bin that has to be split or joined.
	if n%2 == 0 {
		switch {
		case num < nx:
			out[n/2] *= 2
		case nx < num:
			out[n/2] *= 0.5
		}
	}

	y := fourier.NewFFT(num).Sequence(nil, out)
	for i := range y {
		y[i] /= float64(nx)
	}
	return y
}

// RemoveMean returns x minus its mean
func RemoveMean(x []float64) []float64 {
	out := make([]float64, len(x))
	mean, err := stats.Mean(x)
	if err != nil {
		return out
	}
	for i, v := range x {
		out[i] = v - mean
	}
	return out
}
