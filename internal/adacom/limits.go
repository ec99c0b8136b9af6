package adacom

import (
	"math"
	"time"
)

// Device defaults for the Adaura attenuator family.
const (
	DefaultMaxChannels    = 16
	DefaultMinAttenuation = 0.0
	DefaultMaxAttenuation = 95.0
	DefaultStep           = 0.25
	DefaultTimeout        = 1000 * time.Millisecond
)

// Limits describes what the device accepts for attenuation writes.
type Limits struct {
	MaxChannels    int     `yaml:"max_channels" json:"maxChannels"`
	MinAttenuation float64 `yaml:"min_attenuation" json:"minAttenuation"` // dB
	MaxAttenuation float64 `yaml:"max_attenuation" json:"maxAttenuation"` // dB
	Step           float64 `yaml:"step" json:"step"`                      // smallest sub-dB increment the device resolves
}

// DefaultLimits returns the limits of a stock Adaura unit.
func DefaultLimits() Limits {
	return Limits{
		MaxChannels:    DefaultMaxChannels,
		MinAttenuation: DefaultMinAttenuation,
		MaxAttenuation: DefaultMaxAttenuation,
		Step:           DefaultStep,
	}
}

// Quantize clamps v to [MinAttenuation, MaxAttenuation], then snaps the
// fractional part down to a multiple of Step.
//
//	Quantize(95.37) == 95   (clamped)
//	Quantize(-3)    == 0    (clamped)
//	Quantize(10.6)  == 10.5 (snapped down)
func (l Limits) Quantize(v float64) float64 {
	if v > l.MaxAttenuation {
		v = l.MaxAttenuation
	} else if v < l.MinAttenuation {
		v = l.MinAttenuation
	}
	whole := math.Trunc(v)
	if l.Step <= 0 {
		return whole
	}
	steps := math.Trunc((v - whole) / l.Step)
	return whole + steps*l.Step
}

func validAttenuation(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
