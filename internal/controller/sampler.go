package controller

import (
	"time"

	"github.com/sweeney/ambre-chamber/internal/logic"
	"github.com/sweeney/ambre-chamber/internal/sensor"
)

// Sampler refreshes the channels of one sensor driver on a fixed period.
type Sampler struct {
	Name     string
	Timer    logic.Timer
	Driver   sensor.Driver
	Channels []logic.Channel

	// Floor is the failure floor for this driver's values.
	Floor float64
}

// NewSampler returns a sampler armed at zero.
func NewSampler(name string, period time.Duration, d sensor.Driver, floor float64, channels ...logic.Channel) *Sampler {
	return &Sampler{
		Name:     name,
		Timer:    logic.NewTimer(uint32(period.Milliseconds()), 0),
		Driver:   d,
		Channels: channels,
		Floor:    floor,
	}
}

// Tick acquires and overwrites the sampler's channels when its period has
// elapsed. A failed acquisition is not retried until the next period.
func (s *Sampler) Tick(now uint32, c *logic.Cache) bool {
	if !s.Timer.Check(now) {
		return false
	}
	s.Driver.RequestAcquisition()
	s.store(c)
	return true
}

// store copies the driver's last results into c.
func (s *Sampler) store(c *logic.Cache) {
	for _, ch := range s.Channels {
		c.Set(ch, logic.NewReading(s.Driver.ReadLastResult(ch), s.Floor))
	}
}
