// Package logic contains the pure control logic of the chamber controller.
// This package has NO external dependencies (no GPIO, serial, MQTT, OS, or time.Sleep).
// Time is always injectable as a millisecond counter.
package logic

import "math"

// Channel identifies one physical measurement stream.
type Channel int

const (
	ChannelDS18Temp Channel = iota // DS18B20 temperature ['C]
	ChannelDHTTemp                 // DHT22 temperature ['C]
	ChannelDHTHumi                 // DHT22 relative humidity [%]
)

// String returns the short name used in logs and metrics labels.
func (c Channel) String() string {
	switch c {
	case ChannelDS18Temp:
		return "ds18_temp"
	case ChannelDHTTemp:
		return "dht_temp"
	case ChannelDHTHumi:
		return "dht_humi"
	}
	return "unknown"
}

// Channels lists every tracked channel in report order.
var Channels = [...]Channel{ChannelDS18Temp, ChannelDHTTemp, ChannelDHTHumi}

// Reading is a single sampled value and its validity.
// An invalid reading always carries NaN so that both representations agree.
type Reading struct {
	Value float64
	Valid bool
}

// Invalid returns the reading used for failed or missing acquisitions.
func Invalid() Reading {
	return Reading{Value: math.NaN()}
}

// NewReading classifies a raw driver result. NaN, infinities and values at or
// below floor are acquisition failures.
func NewReading(v, floor float64) Reading {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= floor {
		return Invalid()
	}
	return Reading{Value: v, Valid: true}
}

// Cache holds the most recently sampled readings.
// It is owned by the main cycle; samplers overwrite only their own channels.
type Cache struct {
	DS18Temp Reading
	DHTTemp  Reading
	DHTHumi  Reading
}

// NewCache returns a cache with every channel invalid (nothing sampled yet).
func NewCache() *Cache {
	return &Cache{
		DS18Temp: Invalid(),
		DHTTemp:  Invalid(),
		DHTHumi:  Invalid(),
	}
}

// Get returns a snapshot of the cache.
func (c *Cache) Get() Cache {
	return *c
}

// Set overwrites one channel.
func (c *Cache) Set(ch Channel, r Reading) {
	switch ch {
	case ChannelDS18Temp:
		c.DS18Temp = r
	case ChannelDHTTemp:
		c.DHTTemp = r
	case ChannelDHTHumi:
		c.DHTHumi = r
	}
}

// Reading returns the reading of one channel.
func (c Cache) Reading(ch Channel) Reading {
	switch ch {
	case ChannelDS18Temp:
		return c.DS18Temp
	case ChannelDHTTemp:
		return c.DHTTemp
	case ChannelDHTHumi:
		return c.DHTHumi
	}
	return Invalid()
}

// Status is the aggregate sensor health.
type Status string

const (
	StatusSetup Status = "SETUP"
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// Color is an RGB triple for the status indicator.
type Color struct {
	R, G, B uint8
}

// Indicator colours.
var (
	ColorSetup = Color{0, 0, 255}
	ColorOK    = Color{0, 255, 0}
	ColorError = Color{255, 0, 0}
)

// Indicator is what the status LED should show.
type Indicator struct {
	Status Status
	Color  Color
	Bright bool
	Level  uint8
}

// Palette maps heartbeat parity to indicator brightness levels [0-255].
type Palette struct {
	Dim    uint8
	Bright uint8
}

// DefaultPalette is dim 3, bright 8 on the NeoPixel scale.
var DefaultPalette = Palette{Dim: 3, Bright: 8}
