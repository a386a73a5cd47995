package signal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Welch parameters used by the roughness indices
const (
	WelchSegment = 64
	WelchOverlap = 32
	WelchFFT     = 64
)

// Spectrum is a one-sided power spectral density
type Spectrum struct {
	Freq []float64
	PSD  []float64
}

// Step returns the frequency resolution of the spectrum
func (s Spectrum) Step() float64 {
	if len(s.Freq) < 2 {
		return 0
	}
	return s.Freq[1] - s.Freq[0]
}

// HammingWindow returns the periodic Hamming window of length n
func HammingWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// Welch estimates the power spectral density of x with averaged, Hamming
// windowed periodograms (density scaling, one-sided, no detrending). Inputs
// shorter than nperseg are analysed as a single segment of their own length.
func Welch(x []float64, fs float64, nperseg, noverlap, nfft int) (Spectrum, error) {
	if len(x) < 2 {
		return Spectrum{}, fmt.Errorf("%w: %d samples", ErrWindowTooShort, len(x))
	}
	if len(x) < nperseg {
		nperseg = len(x)
	}
	if noverlap >= nperseg {
		noverlap = nperseg / 2
	}
	if nfft < nperseg {
		return Spectrum{}, fmt.Errorf("nfft %d shorter than segment %d", nfft, nperseg)
	}

	window := HammingWindow(nperseg)
	var windowPower float64
	for _, w := range window {
		windowPower += w * w
	}
	scale := 1 / (fs * windowPower)

	bins := nfft/2 + 1
	psd := make([]float64, bins)
	fft := fourier.NewFFT(nfft)
	frame := make([]float64, nfft)
	coeffs := make([]complex128, bins)

	step := nperseg - noverlap
	segments := 0
	for start := 0; start+nperseg <= len(x); start += step {
		for i := range frame {
			frame[i] = 0
		}
		for i := 0; i < nperseg; i++ {
			frame[i] = x[start+i] * window[i]
		}
		coeffs = fft.Coefficients(coeffs, frame)
		for k, c := range coeffs {
			psd[k] += (real(c)*real(c) + imag(c)*imag(c)) * scale
		}
		segments++
	}

	for k := range psd {
		psd[k] /= float64(segments)
		if k > 0 && (k < bins-1 || nfft%2 != 0) {
			psd[k] *= 2
		}
	}

	freq := make([]float64, bins)
	for k := range freq {
		freq[k] = float64(k) * fs / float64(nfft)
	}
	return Spectrum{Freq: freq, PSD: psd}, nil
}
