package command

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/ambre-chamber/internal/logic"
)

func autoState() *State {
	return &State{
		Policy: logic.Auto{ActuatorConfig: logic.DefaultActuatorConfig()},
		Cache: logic.Cache{
			DS18Temp: logic.Reading{Value: 21.46, Valid: true},
			DHTTemp:  logic.Reading{Value: 22.04, Valid: true},
			DHTHumi:  logic.Reading{Value: 61.26, Valid: true},
		},
		ValveOpen:  true,
		SampleTime: 123456,
	}
}

func TestIdentify(t *testing.T) {
	it := NewInterpreter("")
	var out bytes.Buffer

	res := it.Handle("id?", autoState(), &out)

	assert.Equal(t, KindIdentify, res.Kind)
	assert.Equal(t, "Arduino, Ambre chamber\n", out.String())
}

func TestIdentifyCustom(t *testing.T) {
	it := NewInterpreter("Arduino, Chamber 2")
	var out bytes.Buffer

	it.Handle("  id?\r", &State{Policy: logic.Manual{}}, &out)

	assert.Equal(t, "Arduino, Chamber 2\n", out.String())
}

func TestThresholdQuery(t *testing.T) {
	tests := []struct {
		threshold float64
		want      string
	}{
		{50, "50\n"},
		{0, "0\n"},
		{100, "100\n"},
		{42.4, "42\n"},
		{42.6, "43\n"},
	}
	for _, tt := range tests {
		st := autoState()
		st.Policy = logic.Auto{ActuatorConfig: logic.ActuatorConfig{Threshold: tt.threshold, OpenOnAbove: true}}
		var out bytes.Buffer

		res := NewInterpreter("").Handle("th?", st, &out)

		assert.Equal(t, KindThresholdQuery, res.Kind)
		assert.Equal(t, tt.want, out.String(), "threshold %v", tt.threshold)
	}
}

func TestThresholdSet(t *testing.T) {
	tests := []struct {
		token string
		want  float64
	}{
		{"th60", 60},
		{"th 35.5", 35.5},
		{"th150", 100},
		{"th-5", 0},
		{"th55%", 55},
		{"th1e1", 10},
		{"th1e999", 100},
		{"th.5", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			st := autoState()
			var out bytes.Buffer

			res := NewInterpreter("").Handle(tt.token, st, &out)

			assert.Equal(t, KindThresholdSet, res.Kind)
			assert.Empty(t, out.String(), "threshold set has no reply")
			auto, ok := st.Policy.(logic.Auto)
			require.True(t, ok)
			assert.Equal(t, tt.want, auto.Threshold)
			assert.True(t, auto.OpenOnAbove, "polarity untouched")
		})
	}
}

func TestThresholdSetUnparsableKeepsValue(t *testing.T) {
	for _, token := range []string{"th", "thabc", "th nan", "thNaN", "th-", "th.", "thirsty"} {
		t.Run(token, func(t *testing.T) {
			st := autoState()
			st.Policy = logic.Auto{ActuatorConfig: logic.ActuatorConfig{Threshold: 42, OpenOnAbove: false}}
			var out bytes.Buffer

			res := NewInterpreter("").Handle(token, st, &out)

			assert.Equal(t, KindThresholdSet, res.Kind)
			assert.False(t, res.Changed)
			assert.Empty(t, out.String())
			assert.Equal(t, logic.ActuatorConfig{Threshold: 42, OpenOnAbove: false}, st.Policy.(logic.Auto).ActuatorConfig)
		})
	}
}

func TestThresholdSetReportsChange(t *testing.T) {
	st := autoState()
	it := NewInterpreter("")

	assert.True(t, it.Handle("th70", st, &bytes.Buffer{}).Changed)
	assert.False(t, it.Handle("th70", st, &bytes.Buffer{}).Changed)
}

func TestPolaritySet(t *testing.T) {
	st := autoState()
	it := NewInterpreter("")
	var out bytes.Buffer

	res := it.Handle("open when sub humi", st, &out)
	assert.Equal(t, KindPolaritySet, res.Kind)
	assert.True(t, res.Changed)
	assert.False(t, st.Policy.(logic.Auto).OpenOnAbove)
	assert.Equal(t, float64(50), st.Policy.(logic.Auto).Threshold, "threshold untouched")

	res = it.Handle("open when super humi", st, &out)
	assert.True(t, res.Changed)
	assert.True(t, st.Policy.(logic.Auto).OpenOnAbove)

	res = it.Handle("open when super humi", st, &out)
	assert.False(t, res.Changed)
	assert.Empty(t, out.String())
}

func TestPolarityQuery(t *testing.T) {
	st := autoState()
	it := NewInterpreter("")

	var out bytes.Buffer
	it.Handle("open when super humi?", st, &out)
	assert.Equal(t, "1\n", out.String())

	it.Handle("open when sub humi", st, &bytes.Buffer{})
	out.Reset()
	res := it.Handle("open when super humi?", st, &out)
	assert.Equal(t, KindPolarityQuery, res.Kind)
	assert.Equal(t, "0\n", out.String())
}

func TestUnknownTokensReportStatus(t *testing.T) {
	for _, token := range []string{"?", "", "status", "ID?", "0", "1", "open when", "xyz"} {
		t.Run(token, func(t *testing.T) {
			st := autoState()
			before := st.Policy
			var out bytes.Buffer

			res := NewInterpreter("").Handle(token, st, &out)

			assert.Equal(t, KindReport, res.Kind)
			assert.NoError(t, res.Err)
			assert.Equal(t, "123456\t21.5\t22.0\t61.3\t1\n", out.String())
			assert.Equal(t, before, st.Policy)
		})
	}
}

func TestReportInvalidReadings(t *testing.T) {
	st := autoState()
	st.Cache.DS18Temp = logic.Invalid()
	st.Cache.DHTHumi = logic.Reading{Value: 12, Valid: false}
	st.ValveOpen = false
	var out bytes.Buffer

	NewInterpreter("").Handle("?", st, &out)

	assert.Equal(t, "123456\tnan\t22.0\tnan\t0\n", out.String())
}

func TestManualMode(t *testing.T) {
	st := autoState()
	st.Policy = logic.Manual{}
	st.ValveOpen = false
	it := NewInterpreter("")
	var out bytes.Buffer

	res := it.Handle("1", st, &out)
	assert.Equal(t, KindManualSet, res.Kind)
	assert.True(t, res.Changed)
	assert.Equal(t, logic.Manual{Level: true}, st.Policy)
	assert.Empty(t, out.String())

	res = it.Handle("0", st, &out)
	assert.True(t, res.Changed)
	assert.Equal(t, logic.Manual{Level: false}, st.Policy)

	// Threshold commands are not part of the manual protocol.
	res = it.Handle("th?", st, &out)
	assert.Equal(t, KindReport, res.Kind)
	assert.Equal(t, "123456\t21.5\t22.0\t61.3\n", out.String(), "manual status line has no valve column")

	out.Reset()
	res = it.Handle("th80", st, &out)
	assert.Equal(t, KindReport, res.Kind)
	assert.Equal(t, logic.Manual{Level: false}, st.Policy)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("port closed") }

func TestWriteErrorIsReturned(t *testing.T) {
	res := NewInterpreter("").Handle("?", autoState(), failingWriter{})
	assert.Equal(t, KindReport, res.Kind)
	assert.EqualError(t, res.Err, "port closed")
}

func TestParseThreshold(t *testing.T) {
	v, ok := ParseThreshold("th42")
	assert.True(t, ok)
	assert.Equal(t, float64(42), v)

	_, ok = ParseThreshold("t")
	assert.False(t, ok)

	v, ok = ParseThreshold("th+7.25e1")
	assert.True(t, ok)
	assert.Equal(t, 72.5, v)

	_, ok = ParseThreshold("thinf")
	assert.False(t, ok)
}

func TestReportDoesNotAllocate(t *testing.T) {
	it := NewInterpreter("")
	st := autoState()
	var out discard

	allocs := testing.AllocsPerRun(100, func() {
		it.Handle("?", st, out)
	})
	assert.Zero(t, allocs)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestReportHugeValuesStayInBuffer(t *testing.T) {
	it := NewInterpreter("")
	st := autoState()
	st.SampleTime = 4294967295
	st.Cache.DS18Temp.Value = -1e300
	st.Cache.DHTTemp.Value = math.Inf(1)
	st.Cache.DHTHumi.Value = 1e9

	var out bytes.Buffer
	it.Handle("?", st, &out)
	assert.Equal(t, "4294967295\t-1.0e+300\t+Inf\t1.0e+09\t1\n", out.String())
	assert.LessOrEqual(t, out.Len(), maxLine)

	var sink discard
	allocs := testing.AllocsPerRun(100, func() {
		it.Handle("?", st, sink)
	})
	assert.Zero(t, allocs)
}
