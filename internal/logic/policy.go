package logic

import "math"

// Threshold limits [%].
const (
	MinThreshold     = 0
	MaxThreshold     = 100
	DefaultThreshold = 50
)

// ActuatorConfig configures automatic valve control.
type ActuatorConfig struct {
	Threshold   float64 // relative humidity [%], within [0, 100]
	OpenOnAbove bool    // open when humidity > threshold, else when humidity < threshold
}

// DefaultActuatorConfig opens the valve above 50 % humidity.
func DefaultActuatorConfig() ActuatorConfig {
	return ActuatorConfig{Threshold: DefaultThreshold, OpenOnAbove: true}
}

// ClampThreshold limits v to [0, 100]. NaN is returned unchanged; callers reject it.
func ClampThreshold(v float64) float64 {
	return math.Max(MinThreshold, math.Min(MaxThreshold, v))
}

// Decide returns whether the valve should be open.
//
// An invalid humidity always closes the valve. A humidity equal to the
// threshold is neither above nor below it and closes the valve for either
// polarity.
func Decide(humi Reading, cfg ActuatorConfig) bool {
	if !humi.Valid {
		return false
	}
	if cfg.OpenOnAbove {
		return humi.Value > cfg.Threshold
	}
	return humi.Value < cfg.Threshold
}

// Mode names a valve control variant.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Policy is the valve control mode: exactly one of Auto or Manual.
type Policy interface {
	// Mode returns the variant name.
	Mode() Mode
	// Open returns the valve decision for the given readings.
	Open(c Cache) bool

	policy()
}

// Auto drives the valve from humidity against a threshold.
type Auto struct {
	ActuatorConfig
}

func (Auto) Mode() Mode { return ModeAuto }

func (a Auto) Open(c Cache) bool { return Decide(c.DHTHumi, a.ActuatorConfig) }

func (Auto) policy() {}

// Manual holds the valve at an operator-chosen level regardless of readings.
type Manual struct {
	Level bool
}

func (Manual) Mode() Mode { return ModeManual }

func (m Manual) Open(Cache) bool { return m.Level }

func (Manual) policy() {}
