package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/ambre-chamber/internal/logic"
)

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

var (
	readingDesc        = desc("reading", "Last sampled value per channel (NaN when invalid).", "channel")
	readingValidDesc   = desc("reading_valid", "1 if the last acquisition of the channel succeeded.", "channel")
	healthDesc         = desc("health_ok", "1 if every tracked reading is valid.")
	readyDesc          = desc("ready", "1 once the start-up acquisition is done.")
	valveDesc          = desc("valve_open", "1 if the valve is open.")
	manualDesc         = desc("manual_mode", "1 if the valve is under manual control.")
	thresholdDesc      = desc("threshold_percent", "Humidity threshold of automatic control.")
	openOnAboveDesc    = desc("open_on_above", "1 if the valve opens above the threshold, 0 if below.")
	samplesDesc        = desc("samples_total", "Sampler firings by group.", "group")
	commandsDesc       = desc("commands_total", "Serial commands handled.")
	valveSwitchesDesc  = desc("valve_switches_total", "Valve transitions.")
	sensorFailuresDesc = desc("sensor_failures_total", "Failed acquisitions per channel.", "channel")
	mqttDesc           = desc("mqtt_connected", "1 if the MQTT broker connection is up.")
	uptimeDesc         = desc("uptime_seconds", "Seconds since the daemon started.")
)

// Collector reports the tracker snapshot as const metrics on every scrape.
type Collector struct {
	src Source
}

// NewCollector returns a collector reading src.
func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		readingDesc, readingValidDesc, healthDesc, readyDesc, valveDesc, manualDesc,
		thresholdDesc, openOnAboveDesc, samplesDesc, commandsDesc, valveSwitchesDesc,
		sensorFailuresDesc, mqttDesc, uptimeDesc,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.src.Snapshot()
	st := snap.Chamber

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	for _, channel := range logic.Channels {
		r := st.Cache.Reading(channel)
		v := math.NaN()
		if r.Valid {
			v = r.Value
		}
		gauge(readingDesc, v, channel.String())
		gauge(readingValidDesc, boolValue(r.Valid), channel.String())
		counter(sensorFailuresDesc, st.Counts.SensorFailures[channel], channel.String())
	}

	gauge(healthDesc, boolValue(st.Status == logic.StatusOK))
	gauge(readyDesc, boolValue(snap.Ready))
	gauge(valveDesc, boolValue(st.ValveOpen))
	gauge(manualDesc, boolValue(snap.Mode() == logic.ModeManual))
	if cfg, ok := snap.Threshold(); ok {
		gauge(thresholdDesc, cfg.Threshold)
		gauge(openOnAboveDesc, boolValue(cfg.OpenOnAbove))
	}

	counter(samplesDesc, st.Counts.FastSamples, "fast")
	counter(samplesDesc, st.Counts.SlowSamples, "slow")
	counter(commandsDesc, st.Counts.Commands)
	counter(valveSwitchesDesc, st.Counts.ValveSwitches)

	gauge(mqttDesc, boolValue(snap.MQTTConnected))
	gauge(uptimeDesc, snap.Uptime().Seconds())
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
