package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/ambre-chamber/internal/logic"
)

func testCache(humi float64) logic.Cache {
	c := logic.NewCache()
	c.Set(logic.ChannelDS18Temp, logic.Reading{Value: 21.54, Valid: true})
	c.Set(logic.ChannelDHTTemp, logic.Reading{Value: 22, Valid: true})
	c.Set(logic.ChannelDHTHumi, logic.Reading{Value: humi, Valid: true})
	return c.Get()
}

var autoPolicy = logic.Auto{ActuatorConfig: logic.DefaultActuatorConfig()}

func TestNewTopics(t *testing.T) {
	topics := NewTopics("")
	if topics.Telemetry != "lab/ambre/chamber/telemetry" {
		t.Errorf("Telemetry: got %q", topics.Telemetry)
	}
	if topics.Events != "lab/ambre/chamber/events" {
		t.Errorf("Events: got %q", topics.Events)
	}
	if topics.System != "lab/ambre/chamber/system" {
		t.Errorf("System: got %q", topics.System)
	}

	if got := NewTopics("lab/b2").System; got != "lab/b2/system" {
		t.Errorf("custom prefix: got %q", got)
	}
}

func TestFormatTelemetryPayloadExactJSON(t *testing.T) {
	tel := Telemetry{
		Timestamp:  time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		SampleTime: 123000,
		Cache:      testCache(61.26),
		Status:     logic.StatusOK,
		ValveOpen:  true,
		Policy:     autoPolicy,
	}

	payload, err := FormatTelemetryPayload(tel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"telemetry":{"timestamp":"2026-02-10T08:30:00Z","sample_time_ms":123000,"ds18_temp":21.5,"dht_temp":22,"dht_humi":61.3,"health":"OK","valve_open":true,"mode":"auto","threshold":50,"open_on_above":true}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatTelemetryPayloadInvalidReadings(t *testing.T) {
	tel := Telemetry{
		Timestamp: time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		Cache:     *logic.NewCache(),
		Status:    logic.StatusError,
		Policy:    logic.Manual{},
	}

	payload, err := FormatTelemetryPayload(tel)
	if err != nil {
		t.Fatalf("NaN readings must still marshal: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	inner := parsed["telemetry"].(map[string]interface{})
	for _, k := range []string{"ds18_temp", "dht_temp", "dht_humi"} {
		if v, ok := inner[k]; !ok || v != nil {
			t.Errorf("%s: got %v, want null", k, v)
		}
	}
	if inner["mode"] != "manual" {
		t.Errorf("mode: got %v, want manual", inner["mode"])
	}
	if _, ok := inner["threshold"]; ok {
		t.Error("threshold should be omitted in manual mode")
	}
}

func TestFormatValvePayload(t *testing.T) {
	tests := []struct {
		open bool
		want string
	}{
		{true, `{"valve":{"timestamp":"2026-02-10T08:30:00Z","event":"VALVE_OPEN","dht_humi":70,"mode":"auto","threshold":50,"open_on_above":true}}`},
		{false, `{"valve":{"timestamp":"2026-02-10T08:30:00Z","event":"VALVE_CLOSED","dht_humi":70,"mode":"auto","threshold":50,"open_on_above":true}}`},
	}
	for _, tt := range tests {
		payload, err := FormatValvePayload(ValveEvent{
			Timestamp: time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
			Open:      tt.open,
			Humidity:  logic.Reading{Value: 70, Valid: true},
			Policy:    autoPolicy,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(payload) != tt.want {
			t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, tt.want)
		}
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"SHUTDOWN","reason":"MQTT_DISCONNECT"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadReconnectedOmitsReason(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
		Event:     "RECONNECTED",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T14:30:00Z","event":"RECONNECTED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload not passed through: %s", payload)
	}
}

func TestFormatSystemPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 9, 30, 0, 0, loc),
		Event:     "STARTUP",
	}

	payload, _ := FormatSystemPayload(event)

	var parsed SystemPayload
	json.Unmarshal(payload, &parsed)
	if parsed.System.Timestamp != "2026-02-10T08:30:00Z" {
		t.Errorf("timestamp should be UTC: got %s", parsed.System.Timestamp)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	f.PublishTelemetry(Telemetry{Cache: testCache(40), Status: logic.StatusOK, Policy: autoPolicy})
	f.PublishValve(ValveEvent{Open: true, Policy: autoPolicy})
	f.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true})

	if len(f.Telemetry) != 1 || len(f.TelemetryPayloads) != 1 {
		t.Errorf("telemetry: got %d/%d", len(f.Telemetry), len(f.TelemetryPayloads))
	}
	if len(f.ValveEvents) != 1 || f.ValveEvents[0].Event() != EventValveOpen {
		t.Errorf("valve events: got %+v", f.ValveEvents)
	}
	if len(f.SystemEvents) != 1 || !f.SystemEvents[0].Retained {
		t.Errorf("system events: got %+v", f.SystemEvents)
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("simulated error")
	f.PublishSystemError = errors.New("simulated system error")

	if err := f.PublishTelemetry(Telemetry{}); err == nil {
		t.Error("expected telemetry error")
	}
	if err := f.PublishValve(ValveEvent{}); err == nil {
		t.Error("expected valve error")
	}
	if err := f.PublishSystem(SystemEvent{}); err == nil {
		t.Error("expected system error")
	}
	if len(f.Telemetry)+len(f.ValveEvents)+len(f.SystemEvents) != 0 {
		t.Error("failed publishes should not be recorded")
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.PublishValve(ValveEvent{Open: true})
	f.PublishSystem(SystemEvent{Event: "STARTUP"})
	f.Connected = true
	f.Close()

	f.Reset()

	if f.ValveEvents != nil || f.SystemEvents != nil || f.Closed || f.Connected {
		t.Errorf("reset incomplete: %+v", f)
	}
}

// fakeConn is a broker connection for exercising the publisher worker.
type fakeConn struct {
	mu        sync.Mutex
	open      bool
	failAfter int // fail publishes once this many succeeded; -1 never
	published []bufferedMsg
}

func newFakeConn(open bool) *fakeConn {
	return &fakeConn{open: open, failAfter: -1}
}

func (c *fakeConn) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *fakeConn) publish(topic string, qos byte, retained bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAfter >= 0 && len(c.published) >= c.failAfter {
		return errors.New("broker gone")
	}
	c.published = append(c.published, bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (c *fakeConn) events(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.published {
		var p SystemPayload
		if err := json.Unmarshal(m.payload, &p); err != nil {
			t.Fatalf("invalid payload: %v", err)
		}
		out = append(out, p.System.Event)
	}
	return out
}

func startPublisher(c conn, opts Options) *RealPublisher {
	if opts.Topics == (Topics{}) {
		opts.Topics = NewTopics(DefaultPrefix)
	}
	p := newPublisher(c, opts)
	go p.run()
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRealPublisherPublishesWhenConnected(t *testing.T) {
	c := newFakeConn(true)
	p := startPublisher(c, Options{})

	if err := p.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.PublishValve(ValveEvent{Open: true, Policy: autoPolicy})
	p.PublishTelemetry(Telemetry{Cache: testCache(40), Policy: autoPolicy})
	p.Close()

	if len(c.published) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(c.published))
	}
	sys, valve, tel := c.published[0], c.published[1], c.published[2]
	if sys.topic != "lab/ambre/chamber/system" || sys.qos != 1 || !sys.retained {
		t.Errorf("system message: %+v", sys)
	}
	if valve.topic != "lab/ambre/chamber/events" || valve.qos != 1 || valve.retained {
		t.Errorf("valve message: %+v", valve)
	}
	if tel.topic != "lab/ambre/chamber/telemetry" || tel.qos != 0 || tel.retained {
		t.Errorf("telemetry message: %+v", tel)
	}
	if !p.IsConnected() {
		t.Error("expected IsConnected=true")
	}
}

func TestRealPublisherBacklogReplayedInOrder(t *testing.T) {
	c := newFakeConn(false)
	p := startPublisher(c, Options{})

	for _, ev := range []string{"STARTUP", "A", "B"} {
		p.PublishSystem(SystemEvent{Event: ev})
	}
	waitFor(t, func() bool { return len(p.queue) == 0 })

	if got := c.events(t); len(got) != 0 {
		t.Fatalf("nothing should be sent while disconnected, got %v", got)
	}

	c.setOpen(true)
	p.notifyConnected()
	waitFor(t, func() bool { return len(c.events(t)) == 3 })

	p.PublishSystem(SystemEvent{Event: "C"})
	p.Close()

	want := []string{"STARTUP", "A", "B", "C"}
	got := c.events(t)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRealPublisherFailedPublishIsRetried(t *testing.T) {
	c := newFakeConn(true)
	c.failAfter = 1
	p := startPublisher(c, Options{})

	p.PublishSystem(SystemEvent{Event: "A"})
	p.PublishSystem(SystemEvent{Event: "B"})
	waitFor(t, func() bool { return len(p.queue) == 0 })

	c.mu.Lock()
	c.failAfter = -1
	c.mu.Unlock()
	p.PublishSystem(SystemEvent{Event: "C"})
	p.Close()

	got := c.events(t)
	want := []string{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRealPublisherQueueFull(t *testing.T) {
	c := newFakeConn(false)
	p := newPublisher(c, Options{Topics: NewTopics(""), QueueSize: 2})
	// worker not started: the queue cannot drain

	p.PublishSystem(SystemEvent{Event: "A"})
	p.PublishSystem(SystemEvent{Event: "B"})
	if err := p.PublishSystem(SystemEvent{Event: "C"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestRealPublisherClosed(t *testing.T) {
	p := startPublisher(newFakeConn(true), Options{})

	if err := p.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := p.PublishSystem(SystemEvent{Event: "LATE"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
