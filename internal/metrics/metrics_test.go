package metrics

import (
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/ambre-chamber/internal/controller"
	"github.com/sweeney/ambre-chamber/internal/logic"
	"github.com/sweeney/ambre-chamber/internal/status"
)

func tracker(policy logic.Policy, humi float64) *status.Tracker {
	start := time.Now().Add(-time.Minute)
	tr := status.NewTracker(start, status.Config{})

	c := logic.NewCache()
	c.Set(logic.ChannelDS18Temp, logic.Reading{Value: 21.5, Valid: true})
	c.Set(logic.ChannelDHTTemp, logic.Reading{Value: 22, Valid: true})
	c.Set(logic.ChannelDHTHumi, logic.NewReading(humi, math.Inf(-1)))

	st := controller.State{
		Cache:     c.Get(),
		Status:    logic.Evaluate(c.Get()),
		Policy:    policy,
		ValveOpen: true,
	}
	st.Counts.FastSamples = 10
	st.Counts.SlowSamples = 5
	st.Counts.Commands = 3
	st.Counts.ValveSwitches = 1
	st.Counts.SensorFailures[logic.ChannelDHTHumi] = 2
	tr.Update(st)
	tr.SetMQTTConnected(true)
	return tr
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollectorAutoMode(t *testing.T) {
	m := New(tracker(logic.Auto{ActuatorConfig: logic.ActuatorConfig{Threshold: 55, OpenOnAbove: true}}, 61.5))
	body := scrape(t, m.Handler())

	for _, line := range []string{
		`ambre_reading{channel="ds18_temp"} 21.5`,
		`ambre_reading{channel="dht_humi"} 61.5`,
		`ambre_reading_valid{channel="dht_humi"} 1`,
		`ambre_health_ok 1`,
		`ambre_ready 1`,
		`ambre_valve_open 1`,
		`ambre_manual_mode 0`,
		`ambre_threshold_percent 55`,
		`ambre_open_on_above 1`,
		`ambre_samples_total{group="fast"} 10`,
		`ambre_samples_total{group="slow"} 5`,
		`ambre_commands_total 3`,
		`ambre_valve_switches_total 1`,
		`ambre_sensor_failures_total{channel="dht_humi"} 2`,
		`ambre_sensor_failures_total{channel="ds18_temp"} 0`,
		`ambre_mqtt_connected 1`,
	} {
		assert.Contains(t, body, line+"\n")
	}
	assert.Contains(t, body, "go_goroutines")
}

func TestCollectorInvalidReading(t *testing.T) {
	m := New(tracker(logic.Auto{ActuatorConfig: logic.DefaultActuatorConfig()}, math.NaN()))
	body := scrape(t, m.Handler())

	assert.Contains(t, body, `ambre_reading{channel="dht_humi"} NaN`+"\n")
	assert.Contains(t, body, `ambre_reading_valid{channel="dht_humi"} 0`+"\n")
	assert.Contains(t, body, "ambre_health_ok 0\n")
}

func TestCollectorManualModeHasNoThreshold(t *testing.T) {
	m := New(tracker(logic.Manual{Level: true}, 40))
	body := scrape(t, m.Handler())

	assert.Contains(t, body, "ambre_manual_mode 1\n")
	assert.NotContains(t, body, "ambre_threshold_percent ")
	assert.NotContains(t, body, "ambre_open_on_above ")
}

func TestWrapHandlerCountsRequests(t *testing.T) {
	m := New(tracker(logic.Auto{ActuatorConfig: logic.DefaultActuatorConfig()}, 40))

	teapot := m.WrapHandler("/brew", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	ok := m.WrapHandler("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	for i := 0; i < 2; i++ {
		teapot.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))
	}
	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	body := scrape(t, m.Handler())
	assert.Contains(t, body, `ambre_http_requests_total{route="/brew",status="418"} 2`+"\n")
	assert.Contains(t, body, `ambre_http_requests_total{route="/",status="200"} 1`+"\n")
	assert.Contains(t, body, `ambre_http_request_duration_seconds_count{route="/brew"} 2`+"\n")
}

func TestWrapHandlerNilMetrics(t *testing.T) {
	var m *Metrics
	called := false
	h := m.WrapHandler("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
