// Package controller runs the chamber's main cycle: periodic sampling,
// health indication, valve actuation and command handling, one
// non-blocking step per Tick.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/ambre-chamber/internal/command"
	"github.com/sweeney/ambre-chamber/internal/gpio"
	"github.com/sweeney/ambre-chamber/internal/link"
	"github.com/sweeney/ambre-chamber/internal/logic"
	"github.com/sweeney/ambre-chamber/internal/sensor"
)

// DefaultSetupTimeout bounds the start-up acquisition.
const DefaultSetupTimeout = 5 * time.Second

// Config wires a Controller to its collaborators.
type Config struct {
	// Fast and Slow are the two sampler groups. Health and the heartbeat
	// refresh when Slow fires.
	Fast, Slow *Sampler

	Policy   logic.Policy
	Palette  logic.Palette
	Identity string

	Valve     gpio.Output
	Indicator gpio.Indicator
	Link      link.Link // optional

	// Clock is a wrapping millisecond counter.
	Clock func() uint32

	SetupTimeout time.Duration
}

// Counts are cumulative loop statistics.
type Counts struct {
	FastSamples    uint64
	SlowSamples    uint64
	Commands       uint64
	ValveSwitches  uint64
	SensorFailures [len(logic.Channels)]uint64 // indexed by logic.Channel
}

// State is a snapshot of the controller.
type State struct {
	Cache      logic.Cache
	Status     logic.Status
	Indicator  logic.Indicator
	Policy     logic.Policy
	ValveOpen  bool
	SampleTime uint32
	Counts     Counts
}

// TickResult reports what one Tick did.
type TickResult struct {
	Now          uint32
	FastFired    bool
	SlowFired    bool
	Status       logic.Status
	ValveOpen    bool
	ValveChanged bool

	// Command is the token handled in this tick, if Handled.
	Command string
	Handled bool
	Result  command.Result
}

// Controller owns the sensor cache and all control state. It is not safe
// for concurrent use; other goroutines see it through State snapshots.
type Controller struct {
	fast, slow *Sampler
	samplers   [2]*Sampler

	cache     *logic.Cache
	policy    logic.Policy
	palette   logic.Palette
	heartbeat logic.Heartbeat
	status    logic.Status
	indicator logic.Indicator
	valveOpen bool

	valve  gpio.Output
	led    gpio.Indicator
	link   link.Link
	interp *command.Interpreter
	clock  func() uint32

	setupTimeout time.Duration
	valveFailed  bool
	counts       Counts
}

// New validates cfg and returns a controller in the SETUP state.
func New(cfg Config) (*Controller, error) {
	if cfg.Fast == nil || cfg.Slow == nil {
		return nil, errors.New("controller: two samplers are required")
	}
	if cfg.Valve == nil || cfg.Indicator == nil {
		return nil, errors.New("controller: valve and indicator are required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("controller: clock is required")
	}
	if cfg.Policy == nil {
		cfg.Policy = logic.Auto{ActuatorConfig: logic.DefaultActuatorConfig()}
	}
	if cfg.Palette == (logic.Palette{}) {
		cfg.Palette = logic.DefaultPalette
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = DefaultSetupTimeout
	}

	return &Controller{
		fast:         cfg.Fast,
		slow:         cfg.Slow,
		samplers:     [2]*Sampler{cfg.Fast, cfg.Slow},
		cache:        logic.NewCache(),
		policy:       cfg.Policy,
		palette:      cfg.Palette,
		status:       logic.StatusSetup,
		valve:        cfg.Valve,
		led:          cfg.Indicator,
		link:         cfg.Link,
		interp:       command.NewInterpreter(cfg.Identity),
		clock:        cfg.Clock,
		setupTimeout: cfg.SetupTimeout,
	}, nil
}

// Setup performs one best-effort acquisition of every channel before the
// main cycle starts. The indicator shows SETUP meanwhile and OK or ERROR
// afterwards, whether or not the acquisition succeeded. It only fails when
// ctx is cancelled.
func (c *Controller) Setup(ctx context.Context) error {
	c.applyValve(false)
	c.render(logic.StatusSetup, true)

	for _, s := range c.samplers {
		s.Driver.RequestAcquisition()
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.setupTimeout)
	defer cancel()
	for _, s := range c.samplers {
		w, ok := s.Driver.(sensor.Waiter)
		if !ok {
			continue
		}
		if err := w.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("setup: %w", ctx.Err())
			}
			log.Printf("controller: %s did not answer within %v", s.Name, c.setupTimeout)
		}
	}

	for _, s := range c.samplers {
		s.store(c.cache)
		c.countFailures(s)
	}

	c.status = logic.Evaluate(c.cache.Get())
	c.render(c.status, c.heartbeat.Next())
	c.applyValve(c.policy.Open(c.cache.Get()))

	now := c.clock()
	for _, s := range c.samplers {
		s.Timer.Fire(now)
	}

	log.Printf("controller: setup complete: status=%s %s", c.status, describePolicy(c.policy))
	return nil
}

// Tick runs one iteration of the main cycle. Sensor refresh happens before
// health and actuation, which happen before command handling, so a status
// report always reflects this iteration's cache.
func (c *Controller) Tick() TickResult {
	now := c.clock()
	res := TickResult{Now: now}

	if c.fast.Tick(now, c.cache) {
		res.FastFired = true
		c.counts.FastSamples++
		c.countFailures(c.fast)
	}
	if c.slow.Tick(now, c.cache) {
		res.SlowFired = true
		c.counts.SlowSamples++
		c.countFailures(c.slow)

		st := logic.Evaluate(c.cache.Get())
		if st != c.status {
			log.Printf("controller: health %s -> %s", c.status, st)
		}
		c.status = st
		c.render(st, c.heartbeat.Next())
	}

	open := c.policy.Open(c.cache.Get())
	res.ValveChanged = c.applyValve(open)
	if res.ValveChanged {
		c.counts.ValveSwitches++
	}

	if c.link != nil {
		if token, ok := c.link.Poll(); ok {
			res.Command = token
			res.Handled = true
			res.Result = c.handle(token)
		}
	}

	res.Status = c.status
	res.ValveOpen = c.valveOpen
	return res
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	return State{
		Cache:      c.cache.Get(),
		Status:     c.status,
		Indicator:  c.indicator,
		Policy:     c.policy,
		ValveOpen:  c.valveOpen,
		SampleTime: c.fast.Timer.Last,
		Counts:     c.counts,
	}
}

// Shutdown closes the valve.
func (c *Controller) Shutdown() {
	c.applyValve(false)
}

func (c *Controller) handle(token string) command.Result {
	c.counts.Commands++

	st := command.State{
		Policy:     c.policy,
		Cache:      c.cache.Get(),
		ValveOpen:  c.valveOpen,
		SampleTime: c.fast.Timer.Last,
	}
	res := c.interp.Handle(token, &st, c.link)
	if res.Err != nil {
		log.Printf("controller: reply to %q: %v", token, res.Err)
	}
	if res.Changed {
		c.policy = st.Policy
		log.Printf("controller: %s", describePolicy(c.policy))
	}
	return res
}

// applyValve drives the valve and reports whether the decision changed.
// Output errors are logged once per failure episode.
func (c *Controller) applyValve(open bool) bool {
	changed := open != c.valveOpen
	c.valveOpen = open

	if err := c.valve.SetLevel(open); err != nil {
		if !c.valveFailed {
			log.Printf("controller: valve output failed: %v", err)
			c.valveFailed = true
		}
	} else if c.valveFailed {
		log.Printf("controller: valve output recovered")
		c.valveFailed = false
	}
	return changed
}

func (c *Controller) render(st logic.Status, bright bool) {
	ind := logic.Render(st, bright, c.palette)
	c.led.SetColor(ind.Color.R, ind.Color.G, ind.Color.B)
	c.led.SetBrightness(ind.Level)
	c.indicator = ind
}

func (c *Controller) countFailures(s *Sampler) {
	for _, ch := range s.Channels {
		if !c.cache.Reading(ch).Valid && int(ch) < len(c.counts.SensorFailures) {
			c.counts.SensorFailures[ch]++
		}
	}
}

func describePolicy(p logic.Policy) string {
	switch p := p.(type) {
	case logic.Auto:
		dir := "above"
		if !p.OpenOnAbove {
			dir = "below"
		}
		return fmt.Sprintf("mode=auto open %s %.0f%%", dir, p.Threshold)
	case logic.Manual:
		return fmt.Sprintf("mode=manual open=%v", p.Level)
	}
	return "mode=unknown"
}
