// Package config loads the controller's start-up configuration from YAML.
//
// The file is read once at start; values changed at runtime through the
// serial protocol are not written back.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/ambre-chamber/internal/command"
	"github.com/sweeney/ambre-chamber/internal/gpio"
	"github.com/sweeney/ambre-chamber/internal/link"
	"github.com/sweeney/ambre-chamber/internal/logic"
	"github.com/sweeney/ambre-chamber/internal/sensor"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/ambre-chamber.yaml"

// Config represents the application configuration.
type Config struct {
	Identity  string          `yaml:"identity"`
	Serial    SerialConfig    `yaml:"serial"`
	Sensors   SensorsConfig   `yaml:"sensors"`
	Valve     ValveConfig     `yaml:"valve"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Loop      LoopConfig      `yaml:"loop"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// SerialConfig contains the command link configuration. An empty port
// disables the link.
type SerialConfig struct {
	Port   string `yaml:"port"`
	Baud   int    `yaml:"baud"`
	Buffer int    `yaml:"buffer"` // received lines held before dropping
}

// SensorsConfig groups the two sampler groups.
type SensorsConfig struct {
	DS18B20 DS18B20Config `yaml:"ds18b20"`
	DHT22   DHT22Config   `yaml:"dht22"`
}

// DS18B20Config configures the 1-Wire temperature probe.
type DS18B20Config struct {
	W1Root string        `yaml:"w1_root"`
	Device string        `yaml:"device"` // empty selects the first 28-* device
	Period time.Duration `yaml:"period"`
	Floor  float64       `yaml:"floor"` // readings at or below are failures
}

// DHT22Config configures the temperature/humidity sensor.
type DHT22Config struct {
	Pin    int           `yaml:"pin"` // BCM numbering
	Period time.Duration `yaml:"period"`
}

// ValveConfig configures the solenoid valve and its control policy.
type ValveConfig struct {
	Chip        string  `yaml:"chip"`
	Line        int     `yaml:"line"`
	Mode        string  `yaml:"mode"` // auto or manual
	Threshold   float64 `yaml:"threshold"`
	OpenOnAbove bool    `yaml:"open_on_above"`
	ManualOpen  bool    `yaml:"manual_open"` // initial level in manual mode
}

// IndicatorConfig configures the RGB status LED.
type IndicatorConfig struct {
	Chip    string `yaml:"chip"`
	Red     int    `yaml:"red"`
	Green   int    `yaml:"green"`
	Blue    int    `yaml:"blue"`
	PWMPin  int    `yaml:"pwm_pin"` // 0 disables brightness control
	PWMFreq int    `yaml:"pwm_freq"`
	Dim     uint8  `yaml:"dim"`
	Bright  uint8  `yaml:"bright"`
}

// LoopConfig paces the main cycle.
type LoopConfig struct {
	Interval     time.Duration `yaml:"interval"`
	SetupTimeout time.Duration `yaml:"setup_timeout"`
}

// MQTTConfig configures telemetry publishing. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`  // topic prefix
	Buffer   int    `yaml:"buffer"` // messages held while disconnected
}

// HTTPConfig configures the status server. An empty address disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Identity: command.DefaultIdentity,
		Serial: SerialConfig{
			Port:   "/dev/ttyGS0", // USB gadget serial on the Pi
			Baud:   link.DefaultBaudRate,
			Buffer: link.DefaultBufferSize,
		},
		Sensors: SensorsConfig{
			DS18B20: DS18B20Config{
				W1Root: sensor.DefaultW1Root,
				Period: time.Second,
				Floor:  sensor.DS18B20Floor,
			},
			DHT22: DHT22Config{
				Pin:    4,
				Period: 2 * time.Second,
			},
		},
		Valve: ValveConfig{
			Chip:        gpio.DefaultChip,
			Line:        gpio.DefaultPinValve,
			Mode:        string(logic.ModeAuto),
			Threshold:   logic.DefaultThreshold,
			OpenOnAbove: true,
		},
		Indicator: IndicatorConfig{
			Chip:    gpio.DefaultChip,
			Red:     gpio.DefaultPinRed,
			Green:   gpio.DefaultPinGreen,
			Blue:    gpio.DefaultPinBlue,
			PWMPin:  gpio.DefaultPinPWM,
			PWMFreq: gpio.DefaultPWMFreqHz,
			Dim:     logic.DefaultPalette.Dim,
			Bright:  logic.DefaultPalette.Bright,
		},
		Loop: LoopConfig{
			Interval:     time.Millisecond,
			SetupTimeout: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker: "tcp://192.168.1.200:1883",
			Topic:  "lab/ambre/chamber",
			Buffer: 1000,
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist,
// defaults are returned; missing fields take their default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ensureDefaults fills zero values that are never meaningful.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Identity == "" {
		c.Identity = def.Identity
	}

	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}
	if c.Serial.Buffer == 0 {
		c.Serial.Buffer = def.Serial.Buffer
	}

	if c.Sensors.DS18B20.W1Root == "" {
		c.Sensors.DS18B20.W1Root = def.Sensors.DS18B20.W1Root
	}
	if c.Sensors.DS18B20.Period == 0 {
		c.Sensors.DS18B20.Period = def.Sensors.DS18B20.Period
	}
	if c.Sensors.DHT22.Period == 0 {
		c.Sensors.DHT22.Period = def.Sensors.DHT22.Period
	}

	if c.Valve.Chip == "" {
		c.Valve.Chip = def.Valve.Chip
	}
	if c.Valve.Mode == "" {
		c.Valve.Mode = def.Valve.Mode
	}

	if c.Indicator.Chip == "" {
		c.Indicator.Chip = def.Indicator.Chip
	}
	if c.Indicator.PWMFreq == 0 {
		c.Indicator.PWMFreq = def.Indicator.PWMFreq
	}

	if c.Loop.Interval == 0 {
		c.Loop.Interval = def.Loop.Interval
	}
	if c.Loop.SetupTimeout == 0 {
		c.Loop.SetupTimeout = def.Loop.SetupTimeout
	}

	if c.MQTT.Topic == "" {
		c.MQTT.Topic = def.MQTT.Topic
	}
	if c.MQTT.Buffer == 0 {
		c.MQTT.Buffer = def.MQTT.Buffer
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Serial.Baud < 0:
		return fmt.Errorf("config: serial.baud must be positive, got %d", c.Serial.Baud)
	case c.Sensors.DS18B20.Period <= 0:
		return fmt.Errorf("config: sensors.ds18b20.period must be positive, got %v", c.Sensors.DS18B20.Period)
	case c.Sensors.DHT22.Period <= 0:
		return fmt.Errorf("config: sensors.dht22.period must be positive, got %v", c.Sensors.DHT22.Period)
	case c.Valve.Mode != string(logic.ModeAuto) && c.Valve.Mode != string(logic.ModeManual):
		return fmt.Errorf("config: valve.mode must be %q or %q, got %q", logic.ModeAuto, logic.ModeManual, c.Valve.Mode)
	case math.IsNaN(c.Valve.Threshold):
		return errors.New("config: valve.threshold must be a number, got NaN")
	case c.Valve.Threshold < logic.MinThreshold || c.Valve.Threshold > logic.MaxThreshold:
		return fmt.Errorf("config: valve.threshold must be within [%d, %d], got %v", logic.MinThreshold, logic.MaxThreshold, c.Valve.Threshold)
	case c.Indicator.Dim > c.Indicator.Bright:
		return fmt.Errorf("config: indicator.dim (%d) must not exceed indicator.bright (%d)", c.Indicator.Dim, c.Indicator.Bright)
	case c.Loop.Interval <= 0:
		return fmt.Errorf("config: loop.interval must be positive, got %v", c.Loop.Interval)
	case c.MQTT.Buffer < 0:
		return fmt.Errorf("config: mqtt.buffer must not be negative, got %d", c.MQTT.Buffer)
	}
	return nil
}

// Policy returns the valve control policy selected at start-up.
func (c *Config) Policy() logic.Policy {
	if c.Valve.Mode == string(logic.ModeManual) {
		return logic.Manual{Level: c.Valve.ManualOpen}
	}
	return logic.Auto{ActuatorConfig: logic.ActuatorConfig{
		Threshold:   logic.ClampThreshold(c.Valve.Threshold),
		OpenOnAbove: c.Valve.OpenOnAbove,
	}}
}

// Palette returns the indicator brightness levels.
func (c *Config) Palette() logic.Palette {
	return logic.Palette{Dim: c.Indicator.Dim, Bright: c.Indicator.Bright}
}

// IndicatorPins returns the LED pin assignment.
func (c *Config) IndicatorPins() gpio.IndicatorPins {
	return gpio.IndicatorPins{
		Red:    c.Indicator.Red,
		Green:  c.Indicator.Green,
		Blue:   c.Indicator.Blue,
		PWM:    c.Indicator.PWMPin,
		FreqHz: c.Indicator.PWMFreq,
	}
}
