package logic

import (
	"math"
	"testing"
)

func TestDecideInvalidHumidityClosesValve(t *testing.T) {
	configs := []ActuatorConfig{
		{Threshold: 0, OpenOnAbove: true},
		{Threshold: 50, OpenOnAbove: true},
		{Threshold: 100, OpenOnAbove: false},
		{Threshold: 50, OpenOnAbove: false},
	}
	for _, cfg := range configs {
		if Decide(Invalid(), cfg) {
			t.Errorf("Decide(invalid, %+v): got open, want closed", cfg)
		}
		// A stale value behind an invalid flag must not leak through.
		if Decide(Reading{Value: 99, Valid: false}, cfg) {
			t.Errorf("Decide({99, invalid}, %+v): got open, want closed", cfg)
		}
	}
}

func TestDecidePolarity(t *testing.T) {
	tests := []struct {
		name string
		humi float64
		cfg  ActuatorConfig
		want bool
	}{
		{"above threshold opens when open_on_above", 70, ActuatorConfig{50, true}, true},
		{"below threshold closes when open_on_above", 30, ActuatorConfig{50, true}, false},
		{"below threshold opens when open_on_below", 30, ActuatorConfig{50, false}, true},
		{"above threshold closes when open_on_below", 70, ActuatorConfig{50, false}, false},
		{"equal closes when open_on_above", 50, ActuatorConfig{50, true}, false},
		{"equal closes when open_on_below", 50, ActuatorConfig{50, false}, false},
		{"zero threshold, zero humidity, above", 0, ActuatorConfig{0, true}, false},
		{"hundred threshold, hundred humidity, below", 100, ActuatorConfig{100, false}, false},
		{"fractional just above", 50.05, ActuatorConfig{50, true}, true},
		{"fractional just below", 49.95, ActuatorConfig{50, false}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(Reading{Value: tt.humi, Valid: true}, tt.cfg)
			if got != tt.want {
				t.Errorf("Decide(%v, %+v): got %v, want %v", tt.humi, tt.cfg, got, tt.want)
			}
		})
	}
}

func TestDecideMatchesStrictComparison(t *testing.T) {
	for th := 0.0; th <= 100; th += 12.5 {
		for h := -10.0; h <= 110; h += 2.5 {
			r := Reading{Value: h, Valid: true}
			if got := Decide(r, ActuatorConfig{th, true}); got != (h > th) {
				t.Errorf("above: h=%v th=%v got %v", h, th, got)
			}
			if got := Decide(r, ActuatorConfig{th, false}); got != (h < th) {
				t.Errorf("below: h=%v th=%v got %v", h, th, got)
			}
		}
	}
}

func TestDecideIsIdempotent(t *testing.T) {
	r := Reading{Value: 62.3, Valid: true}
	cfg := ActuatorConfig{Threshold: 50, OpenOnAbove: true}
	first := Decide(r, cfg)
	for i := 0; i < 100; i++ {
		if Decide(r, cfg) != first {
			t.Fatalf("call %d: result changed", i)
		}
	}
}

func TestClampThreshold(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{150, 100},
		{-5, 0},
		{0, 0},
		{100, 100},
		{42.5, 42.5},
		{math.Inf(1), 100},
		{math.Inf(-1), 0},
	}
	for _, tt := range tests {
		if got := ClampThreshold(tt.in); got != tt.want {
			t.Errorf("ClampThreshold(%v): got %v, want %v", tt.in, got, tt.want)
		}
	}
	if !math.IsNaN(ClampThreshold(math.NaN())) {
		t.Error("ClampThreshold(NaN) should stay NaN")
	}
}

func TestPolicyVariants(t *testing.T) {
	wet := Cache{DHTHumi: Reading{Value: 80, Valid: true}}
	dry := Cache{DHTHumi: Reading{Value: 20, Valid: true}}
	broken := Cache{DHTHumi: Invalid()}

	var p Policy = Auto{DefaultActuatorConfig()}
	if p.Mode() != ModeAuto {
		t.Errorf("Mode: got %q, want auto", p.Mode())
	}
	if !p.Open(wet) || p.Open(dry) || p.Open(broken) {
		t.Error("auto policy: want open only for wet")
	}

	p = Manual{Level: true}
	if p.Mode() != ModeManual {
		t.Errorf("Mode: got %q, want manual", p.Mode())
	}
	if !p.Open(wet) || !p.Open(dry) || !p.Open(broken) {
		t.Error("manual open policy must ignore readings")
	}
	if (Manual{}).Open(wet) {
		t.Error("manual closed policy must stay closed")
	}
}

func TestDefaultActuatorConfig(t *testing.T) {
	cfg := DefaultActuatorConfig()
	if cfg.Threshold != 50 || !cfg.OpenOnAbove {
		t.Errorf("got %+v, want {50 true}", cfg)
	}
}
