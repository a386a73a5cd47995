package signal

import (
	"fmt"
	"math"
	"math/cmplx"
)

const (
	azBandLimit = 3.0
	wxBandLimit = 6.0

	// MinRoughnessSamples is the shortest window the indices are computed for
	MinRoughnessSamples = WelchSegment / 2
)

// SpeedFactor is the complex calibration factor for the average speed (m/s)
// of a window. Slow windows are not corrected.
func SpeedFactor(avgSpeed float64) complex128 {
	if avgSpeed <= 5 {
		return 1
	}
	rotation := cmplx.Exp(complex(0, -10*math.Pi/avgSpeed))
	return complex(0.8453153406199, 0.5658028957503)*rotation + complex(-0.5661842683643, -1.9824881204756)
}

// quarterCar is the frequency response applied to the vertical spectrum
func quarterCar(f float64) complex128 {
	pi := math.Pi
	numerator := complex(pi*pi*f*f, 0)
	denominator := complex(3*math.Pow(pi, 4)*math.Pow(f, 4)/3265, 0) -
		complex(0, 69*math.Pow(pi, 3)*math.Pow(f, 3)/3265) -
		complex(145159*pi*pi*f*f/130600, 0) +
		complex(0, 3*pi*f) +
		complex(633.0/40, 0)
	return numerator / denominator
}

// HumanScale maps a raw roughness index to the bounded [0, 5.2] scale
func HumanScale(iri float64) float64 {
	return 5.2 * (1 - 1/(1+math.Exp(-0.8*(iri-4))))
}

// CompositeIndex blends the bump index with the human scale roughness
func CompositeIndex(ibf, iriHuman float64) float64 {
	k := 1 / (0.5*ibf*ibf + 1)
	return (1-0.5*k)*iriHuman + 0.5*ibf*k
}

// energySpectrum returns the Welch spectrum of x rescaled to energy per bin
func energySpectrum(x []float64, fs float64) (Spectrum, error) {
	spectrum, err := Welch(x, fs, WelchSegment, WelchOverlap, WelchFFT)
	if err != nil {
		return Spectrum{}, err
	}
	n := float64(len(x))
	gain := spectrum.Step() * 8 * n * n
	for i := range spectrum.PSD {
		spectrum.PSD[i] *= gain
	}
	return spectrum, nil
}

// bandEnergy sums the spectrum from DC through the bin nearest to limit
func bandEnergy(s Spectrum, limit float64) float64 {
	upper := nearestIndex(s.Freq, limit) + 1
	var energy float64
	for _, v := range s.PSD[:upper] {
		energy += v
	}
	return energy
}

// ComputeRoughness computes the roughness indices of one window sampled at fs,
// recorded over a piece of pieceLength meters at avgSpeed m/s.
func ComputeRoughness(w Window, fs, pieceLength, avgSpeed float64) (Roughness, error) {
	n := len(w.Az)
	if n < MinRoughnessSamples || len(w.Ax) < MinRoughnessSamples {
		return Roughness{}, fmt.Errorf("%w: %d samples, need %d", ErrWindowTooShort, n, MinRoughnessSamples)
	}
	if w.Gyro && len(w.Wx) < MinRoughnessSamples {
		return Roughness{}, fmt.Errorf("%w: %d gyroscope samples", ErrWindowTooShort, len(w.Wx))
	}
	if pieceLength <= 0 {
		return Roughness{}, fmt.Errorf("invalid piece length %f", pieceLength)
	}

	speed := cmplx.Abs(SpeedFactor(avgSpeed))
	duration := float64(n) / fs

	var r Roughness

	az, err := energySpectrum(w.Az, fs)
	if err != nil {
		return Roughness{}, err
	}
	r.Az = bandEnergy(az, azBandLimit) / (duration * pieceLength * speed)
	if r.Az < 2 {
		r.Az = 2
	}
	if r.Az > 512 {
		r.Az = -1/(r.Az*r.Az) + 600
	}
	lg := math.Log2(r.Az)
	r.AzAdjusted = -0.0666*lg*lg + 0.0835*lg + 4.91

	var axEnergy float64
	for _, v := range w.Ax {
		axEnergy += v * v
	}
	r.Ax = 100 * axEnergy / (float64(len(w.Ax)) * pieceLength)
	if r.Ax > 0.36 {
		r.Ax = -0.0072/r.Ax + 0.38
	}
	r.AxAdjusted = -11.679*r.Ax + 4.4797

	var weighted float64
	for i, f := range az.Freq {
		h := cmplx.Abs(quarterCar(f))
		omega := 2 * math.Pi * f
		weighted += h * h * az.PSD[i] * omega * omega * omega * omega
	}
	r.IRIRaw = math.Abs(math.Sqrt(weighted/speed)) / (10000 * pieceLength)
	r.IRIHuman = HumanScale(r.IRIRaw)

	if w.Gyro {
		wx, err := energySpectrum(w.Wx, fs)
		if err != nil {
			return Roughness{}, err
		}
		index := bandEnergy(wx, wxBandLimit) / (float64(len(w.Wx)) / fs * pieceLength)
		if index > 8.57 {
			index = -1/(index*index*index) + 8.815
		}
		lw := math.Log2(index)
		adjusted := -0.0021*lw*lw*lw - 0.0675*lw*lw - 0.6786*lw + 2.8683

		r.Wx = &index
		r.WxAdjusted = &adjusted
		r.IBF = (r.AxAdjusted + adjusted + r.AzAdjusted) / 3
	} else {
		r.IBF = (r.AxAdjusted + r.AzAdjusted) / 2
	}

	r.IQR = CompositeIndex(r.IBF, r.IRIHuman)

	if err := r.validate(); err != nil {
		return Roughness{}, err
	}
	return r, nil
}

func (r Roughness) validate() error {
	values := map[string]float64{
		"iri":           r.IRIRaw,
		"iri_human":     r.IRIHuman,
		"az":            r.Az,
		"az_adjusted":   r.AzAdjusted,
		"ax":            r.Ax,
		"ax_adjusted":   r.AxAdjusted,
		"bump_index":    r.IBF,
		"quality_index": r.IQR,
	}
	if r.Wx != nil {
		values["wx"] = *r.Wx
		values["wx_adjusted"] = *r.WxAdjusted
	}
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s = %v", ErrNonFinite, name, v)
		}
	}
	return nil
}
