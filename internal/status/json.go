package status

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/ambre-chamber/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Health        string        `json:"health"`
	Ready         bool          `json:"ready"`
	Readings      ReadingsJSON  `json:"readings"`
	Valve         ValveJSON     `json:"valve"`
	Indicator     IndicatorJSON `json:"indicator"`
	SampleTimeMs  uint32        `json:"sample_time_ms"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"counts"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// ReadingsJSON holds the sensor cache. Invalid readings are null.
type ReadingsJSON struct {
	DS18Temp *float64 `json:"ds18_temp"`
	DHTTemp  *float64 `json:"dht_temp"`
	DHTHumi  *float64 `json:"dht_humi"`
}

// ValveJSON reports the valve and its control policy. Threshold and
// polarity are present in automatic mode only.
type ValveJSON struct {
	Open        bool     `json:"open"`
	Mode        string   `json:"mode"`
	Threshold   *float64 `json:"threshold,omitempty"`
	OpenOnAbove *bool    `json:"open_on_above,omitempty"`
}

// IndicatorJSON reports what the status LED shows.
type IndicatorJSON struct {
	Color  string `json:"color"`
	Bright bool   `json:"bright"`
	Level  uint8  `json:"level"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of the loop counters.
type CountsJSON struct {
	FastSamples    uint64            `json:"fast_samples"`
	SlowSamples    uint64            `json:"slow_samples"`
	Commands       uint64            `json:"commands"`
	ValveSwitches  uint64            `json:"valve_switches"`
	SensorFailures map[string]uint64 `json:"sensor_failures"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Identity     string `json:"identity"`
	LoopMs       int64  `json:"loop_ms"`
	FastPeriodMs int64  `json:"fast_period_ms"`
	SlowPeriodMs int64  `json:"slow_period_ms"`
	SerialPort   string `json:"serial_port"`
	Broker       string `json:"broker"`
	HTTPPort     string `json:"http_port"`
}

// readingValue rounds a valid reading to one decimal, matching the serial
// status line. Invalid readings yield nil.
func readingValue(r logic.Reading) *float64 {
	if !r.Valid {
		return nil
	}
	v := math.Round(r.Value*10) / 10
	return &v
}

func colorName(c logic.Color) string {
	switch c {
	case logic.ColorSetup:
		return "blue"
	case logic.ColorOK:
		return "green"
	case logic.ColorError:
		return "red"
	case logic.Color{}:
		return "off"
	}
	return "mixed"
}

func buildInner(snap Snapshot) StatusInner {
	ch := snap.Chamber

	health := string(ch.Status)
	if health == "" {
		health = string(logic.StatusSetup)
	}

	valve := ValveJSON{Open: ch.ValveOpen, Mode: string(snap.Mode())}
	if cfg, ok := snap.Threshold(); ok {
		th, above := cfg.Threshold, cfg.OpenOnAbove
		valve.Threshold = &th
		valve.OpenOnAbove = &above
	}

	failures := make(map[string]uint64, len(logic.Channels))
	for _, c := range logic.Channels {
		failures[c.String()] = ch.Counts.SensorFailures[c]
	}

	return StatusInner{
		Health: health,
		Ready:  snap.Ready,
		Readings: ReadingsJSON{
			DS18Temp: readingValue(ch.Cache.DS18Temp),
			DHTTemp:  readingValue(ch.Cache.DHTTemp),
			DHTHumi:  readingValue(ch.Cache.DHTHumi),
		},
		Valve: valve,
		Indicator: IndicatorJSON{
			Color:  colorName(ch.Indicator.Color),
			Bright: ch.Indicator.Bright,
			Level:  ch.Indicator.Level,
		},
		SampleTimeMs:  ch.SampleTime,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			FastSamples:    ch.Counts.FastSamples,
			SlowSamples:    ch.Counts.SlowSamples,
			Commands:       ch.Counts.Commands,
			ValveSwitches:  ch.Counts.ValveSwitches,
			SensorFailures: failures,
		},
		Config: ConfigJSON{
			Identity:     snap.Config.Identity,
			LoopMs:       snap.Config.LoopMs,
			FastPeriodMs: snap.Config.FastPeriodMs,
			SlowPeriodMs: snap.Config.SlowPeriodMs,
			SerialPort:   snap.Config.SerialPort,
			Broker:       snap.Config.Broker,
			HTTPPort:     snap.Config.HTTPPort,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
