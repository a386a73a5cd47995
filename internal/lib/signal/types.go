package signal

import "errors"

var (
	// ErrWindowTooShort is returned when a window has too few samples for the analysis
	ErrWindowTooShort = errors.New("signal window too short")

	// ErrNonFinite is returned when an index evaluates to NaN or infinity
	ErrNonFinite = errors.New("non-finite roughness index")
)

// ReferenceRate is the sampling rate every channel is resampled to (Hz)
const ReferenceRate = 25.0

// Band is a frequency range in Hz
type Band struct {
	Low  float64 `koanf:"low"`
	High float64 `koanf:"high"`
}

// Transient is a short, high energy event found in the wavelet surface
type Transient struct {
	Time      float64 `json:"time_s"`
	Frequency float64 `json:"frequency_hz"`
	Magnitude float64 `json:"magnitude"`
}

// Window is the inertial data recorded while driving one piece of street
type Window struct {
	Az   []float64
	Ax   []float64
	Wx   []float64
	Gyro bool
}

// Roughness holds the indices computed for one window
type Roughness struct {
	IRIRaw     float64  `json:"roughness_index_raw"`
	IRIHuman   float64  `json:"roughness_index_human"`
	Az         float64  `json:"az"`
	AzAdjusted float64  `json:"az_adjusted"`
	Ax         float64  `json:"ax"`
	AxAdjusted float64  `json:"ax_adjusted"`
	Wx         *float64 `json:"wx"`
	WxAdjusted *float64 `json:"wx_adjusted"`
	IBF        float64  `json:"bump_index"`
	IQR        float64  `json:"composite_quality_index"`
}
