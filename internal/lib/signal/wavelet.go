package signal

import (
	"math"
	"math/cmplx"
)

// Calibration of the scale grid so that it matches the reference toolchain
// the thresholds were tuned with.
const (
	scaleConstant = 0.4652830842
	scaleExponent = -0.069314718
	morletOmega   = 6.0
)

// Morlet samples the complex Morlet wavelet
// pi^(-1/4) * exp(i*w*t/s) * exp(-t^2/(2*s^2)) on ceil(m) points centred at (m-1)/2.
func Morlet(m, s, w float64) []complex128 {
	n := int(math.Ceil(m))
	if n <= 0 {
		return nil
	}

	norm := math.Pow(math.Pi, -0.25)
	center := (m - 1) / 2
	out := make([]complex128, n)
	for i := range out {
		x := (float64(i) - center) / s
		out[i] = complex(norm*math.Exp(-0.5*x*x), 0) * cmplx.Exp(complex(0, w*x))
	}
	return out
}

// scaleGrid returns the analysed frequencies, the wavelet widths and the energy
// correction of each scale for a window of n samples.
func scaleGrid(n int, fs float64) (freq, widths, decay []float64) {
	fMin := fs / float64(n)
	count := int(math.Log(fMin*(10.0/3.0)/(fs*scaleConstant))/scaleExponent + 1)
	if count < 1 {
		return nil, nil, nil
	}

	freq = make([]float64, count)
	widths = make([]float64, count)
	decay = make([]float64, count)
	for i := 0; i < count; i++ {
		k := float64(i + 1)
		freq[i] = scaleConstant * fs * math.Exp(scaleExponent*k)
		widths[i] = morletOmega * fs / (2 * math.Pi * freq[i])
		decay[i] = math.Exp(scaleExponent / 2 * k)
	}
	return freq, widths, decay
}

// cwtMagnitude computes |CWT| of x with a Morlet wavelet per width, scaled by
// decay. Rows follow widths, columns follow x.
func cwtMagnitude(x []float64, widths, decay []float64) [][]float64 {
	n := len(x)
	out := make([][]float64, len(widths))
	for row, width := range widths {
		m := math.Min(10*width, float64(n))
		wavelet := Morlet(m, width, morletOmega)

		// Correlating with the wavelet is convolving with its reversed conjugate.
		kernel := make([]complex128, len(wavelet))
		for i, v := range wavelet {
			kernel[len(wavelet)-1-i] = cmplx.Conj(v)
		}

		out[row] = sameConvolution(x, kernel, decay[row])
	}
	return out
}

// sameConvolution returns the centre part of the full convolution of x and
// kernel, as long as x, in magnitude and multiplied by gain.
func sameConvolution(x []float64, kernel []complex128, gain float64) []float64 {
	n, l := len(x), len(kernel)
	offset := (l - 1) / 2
	out := make([]float64, n)
	for j := 0; j < n; j++ {
		k := j + offset
		var sum complex128
		lo := max(0, k-l+1)
		hi := min(n-1, k)
		for i := lo; i <= hi; i++ {
			sum += complex(x[i], 0) * kernel[k-i]
		}
		out[j] = cmplx.Abs(sum) * gain
	}
	return out
}

// coneOfInfluence returns, per column, the first row that lies inside the
// border region of the transform. Rows at or after the limit are masked.
func coneOfInfluence(freq []float64, fs float64, columns int) []int {
	half := columns / 2
	centers := half
	if columns%2 != 0 {
		centers = half + 1
	}

	limits := make([]int, columns)
	for c := 0; c < centers && c < columns; c++ {
		threshold := fs * 1.55 / float64(c+1)
		limit := len(freq) + 1
		for row, f := range freq {
			if f < threshold {
				limit = row
				break
			}
		}
		limits[c] = limit
	}

	// Mirror the first half onto the second.
	start := half
	if columns%2 != 0 {
		start = half + 1
	}
	for i := 0; i < half; i++ {
		limits[start+i] = limits[half-1-i]
	}
	return limits
}

func applyCone(surface [][]float64, limits []int) {
	for row := range surface {
		for col := range surface[row] {
			if row >= limits[col] {
				surface[row][col] = 0
			}
		}
	}
}
