// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/ambre-chamber/internal/logic"
)

// DefaultPrefix is the topic prefix of the chamber.
const DefaultPrefix = "lab/ambre/chamber"

// Topics are the MQTT topics the chamber publishes to.
type Topics struct {
	Telemetry string // readings, every slow-group refresh
	Events    string // valve transitions
	System    string // lifecycle events (retained)
}

// NewTopics derives the topic set from a prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{
		Telemetry: prefix + "/telemetry",
		Events:    prefix + "/events",
		System:    prefix + "/system",
	}
}

// Publisher publishes chamber data to MQTT.
type Publisher interface {
	// PublishTelemetry sends a reading snapshot.
	// Returns error if publishing fails (should not crash the process).
	PublishTelemetry(t Telemetry) error

	// PublishValve sends a valve transition.
	PublishValve(event ValveEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close flushes pending messages and disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Valve event names.
const (
	EventValveOpen   = "VALVE_OPEN"
	EventValveClosed = "VALVE_CLOSED"
)

// Telemetry is one published reading snapshot.
type Telemetry struct {
	Timestamp  time.Time
	SampleTime uint32 // controller ms counter
	Cache      logic.Cache
	Status     logic.Status
	ValveOpen  bool
	Policy     logic.Policy
}

// ValveEvent is a valve transition.
type ValveEvent struct {
	Timestamp time.Time
	Open      bool
	Humidity  logic.Reading
	Policy    logic.Policy
}

// Event returns VALVE_OPEN or VALVE_CLOSED.
func (e ValveEvent) Event() string {
	if e.Open {
		return EventValveOpen
	}
	return EventValveClosed
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, reconnect).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// TelemetryPayload is the MQTT message payload for telemetry.
type TelemetryPayload struct {
	Telemetry TelemetryInner `json:"telemetry"`
}

// TelemetryInner contains the readings. Invalid readings are null.
type TelemetryInner struct {
	Timestamp    string   `json:"timestamp"`
	SampleTimeMs uint32   `json:"sample_time_ms"`
	DS18Temp     *float64 `json:"ds18_temp"`
	DHTTemp      *float64 `json:"dht_temp"`
	DHTHumi      *float64 `json:"dht_humi"`
	Health       string   `json:"health"`
	ValveOpen    bool     `json:"valve_open"`
	PolicyJSON
}

// PolicyJSON describes the valve control policy. Threshold and polarity
// are present in automatic mode only.
type PolicyJSON struct {
	Mode        string   `json:"mode"`
	Threshold   *float64 `json:"threshold,omitempty"`
	OpenOnAbove *bool    `json:"open_on_above,omitempty"`
}

// ValvePayload is the MQTT message payload for valve transitions.
type ValvePayload struct {
	Valve ValveInner `json:"valve"`
}

// ValveInner contains the valve transition details.
type ValveInner struct {
	Timestamp string   `json:"timestamp"`
	Event     string   `json:"event"`
	DHTHumi   *float64 `json:"dht_humi"`
	PolicyJSON
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

func reading(r logic.Reading) *float64 {
	if !r.Valid {
		return nil
	}
	v := math.Round(r.Value*10) / 10
	return &v
}

func policyJSON(p logic.Policy) PolicyJSON {
	switch p := p.(type) {
	case logic.Auto:
		th, above := p.Threshold, p.OpenOnAbove
		return PolicyJSON{Mode: string(logic.ModeAuto), Threshold: &th, OpenOnAbove: &above}
	case logic.Manual:
		return PolicyJSON{Mode: string(logic.ModeManual)}
	}
	return PolicyJSON{}
}

// FormatTelemetryPayload creates the JSON payload for telemetry.
func FormatTelemetryPayload(t Telemetry) ([]byte, error) {
	return json.Marshal(TelemetryPayload{
		Telemetry: TelemetryInner{
			Timestamp:    t.Timestamp.UTC().Format(time.RFC3339),
			SampleTimeMs: t.SampleTime,
			DS18Temp:     reading(t.Cache.DS18Temp),
			DHTTemp:      reading(t.Cache.DHTTemp),
			DHTHumi:      reading(t.Cache.DHTHumi),
			Health:       string(t.Status),
			ValveOpen:    t.ValveOpen,
			PolicyJSON:   policyJSON(t.Policy),
		},
	})
}

// FormatValvePayload creates the JSON payload for a valve transition.
func FormatValvePayload(e ValveEvent) ([]byte, error) {
	return json.Marshal(ValvePayload{
		Valve: ValveInner{
			Timestamp:  e.Timestamp.UTC().Format(time.RFC3339),
			Event:      e.Event(),
			DHTHumi:    reading(e.Humidity),
			PolicyJSON: policyJSON(e.Policy),
		},
	})
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
