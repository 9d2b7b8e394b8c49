// Package status provides a thread-safe status tracker for the chamber daemon.
// It is written by the control loop and read by the HTTP handlers, the
// metrics collector and the MQTT status events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/ambre-chamber/internal/controller"
	"github.com/sweeney/ambre-chamber/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Identity     string
	LoopMs       int64
	FastPeriodMs int64
	SlowPeriodMs int64
	SerialPort   string
	Broker       string
	HTTPPort     string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Chamber       controller.State
	Ready         bool // start-up acquisition done
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Threshold returns the automatic-mode threshold and polarity. ok is false
// in manual mode.
func (s Snapshot) Threshold() (cfg logic.ActuatorConfig, ok bool) {
	a, ok := s.Chamber.Policy.(logic.Auto)
	return a.ActuatorConfig, ok
}

// Mode returns the valve control mode, or "" before the first update.
func (s Snapshot) Mode() logic.Mode {
	if s.Chamber.Policy == nil {
		return ""
	}
	return s.Chamber.Policy.Mode()
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Chamber: controller.State{
				Cache:  *logic.NewCache(),
				Status: logic.StatusSetup,
			},
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update stores the controller state. Called from runLoop after every tick.
func (t *Tracker) Update(st controller.State) {
	t.mu.Lock()
	t.snap.Chamber = st
	t.snap.Ready = st.Status != logic.StatusSetup
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
