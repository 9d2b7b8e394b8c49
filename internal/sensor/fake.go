package sensor

import (
	"math"

	"github.com/sweeney/ambre-chamber/internal/logic"
)

// Fake is a test double that returns scripted readings.
// Each RequestAcquisition consumes the next sample; once samples are
// exhausted the last one repeats.
type Fake struct {
	// Samples holds one value per channel per acquisition.
	Samples []map[logic.Channel]float64

	// Requests counts RequestAcquisition calls.
	Requests int

	index   int
	current map[logic.Channel]float64
}

// NewFake creates a Fake with the given samples.
func NewFake(samples ...map[logic.Channel]float64) *Fake {
	return &Fake{Samples: samples}
}

// Constant creates a Fake that always reports the same values.
func Constant(values map[logic.Channel]float64) *Fake {
	return NewFake(values)
}

// RequestAcquisition advances to the next scripted sample.
func (f *Fake) RequestAcquisition() {
	f.Requests++
	if len(f.Samples) == 0 {
		return
	}
	f.current = f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
}

// ReadLastResult returns the current sample for ch, or NaN if there is none.
func (f *Fake) ReadLastResult(ch logic.Channel) float64 {
	v, ok := f.current[ch]
	if !ok {
		return nan()
	}
	return v
}

// Set replaces the script with a single constant sample.
func (f *Fake) Set(values map[logic.Channel]float64) {
	f.Samples = []map[logic.Channel]float64{values}
	f.index = 0
}

// Reset rewinds the script.
func (f *Fake) Reset() {
	f.index = 0
	f.current = nil
	f.Requests = 0
}

func nan() float64 { return math.NaN() }
