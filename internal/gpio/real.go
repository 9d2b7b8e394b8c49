//go:build linux

package gpio

import (
	"fmt"
	"log"

	rpio "github.com/stianeikeland/go-rpio/v4"
	"github.com/warthog618/go-gpiocdev"
)

const consumer = "ambre-chamber"

// RealOutput drives a digital output using the Linux GPIO character device.
type RealOutput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealOutput requests pin on chip as an output, initially low.
func NewRealOutput(chipName string, pin int) (*RealOutput, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}

	return &RealOutput{chip: chip, line: line}, nil
}

// SetLevel drives the line.
func (o *RealOutput) SetLevel(high bool) error {
	v := 0
	if high {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set output: %w", err)
	}
	return nil
}

// Close drives the line low, then reconfigures it to input with pull-down
// (matching Pi boot defaults) before releasing it, so the valve stays
// de-energised across restarts.
func (o *RealOutput) Close() error {
	var errs []error

	if o.line != nil {
		if err := o.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive output low: %w", err))
		}
		if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure output: %w", err))
		}
		if err := o.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output: %w", err))
		}
	}
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// IndicatorPins selects the lines of an RGB status LED.
type IndicatorPins struct {
	Red, Green, Blue int
	// PWM is a hardware PWM capable BCM pin driving the LED's common pin.
	// Zero disables brightness control (the LED is then always full on).
	PWM    int
	FreqHz int
}

// RealIndicator drives an RGB LED: colour components switch three GPIO
// lines, brightness is the duty cycle of the common pin.
type RealIndicator struct {
	chip   *gpiocdev.Chip
	lines  *gpiocdev.Lines
	pwm    rpio.Pin
	hasPWM bool

	failed bool
}

// NewRealIndicator requests the colour lines and, if configured, the PWM pin.
func NewRealIndicator(chipName string, pins IndicatorPins) (*RealIndicator, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	lines, err := chip.RequestLines([]int{pins.Red, pins.Green, pins.Blue}, gpiocdev.AsOutput(0, 0, 0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request indicator pins %d/%d/%d: %w", pins.Red, pins.Green, pins.Blue, err)
	}

	ind := &RealIndicator{chip: chip, lines: lines}

	if pins.PWM != 0 {
		if err := rpio.Open(); err != nil {
			log.Printf("indicator: brightness control disabled: open gpiomem: %v", err)
		} else {
			freq := pins.FreqHz
			if freq <= 0 {
				freq = DefaultPWMFreqHz
			}
			ind.pwm = rpio.Pin(pins.PWM)
			ind.pwm.Pwm()
			ind.pwm.Freq(freq * brightnessCycle)
			ind.pwm.DutyCycle(brightnessCycle, brightnessCycle)
			ind.hasPWM = true
		}
	}

	return ind, nil
}

// SetColor switches each colour line on for components of 128 and above.
func (i *RealIndicator) SetColor(r, g, b uint8) {
	lv := colorLevels(r, g, b)
	if err := i.lines.SetValues(lv[:]); err != nil {
		if !i.failed {
			log.Printf("indicator: set colour: %v", err)
			i.failed = true
		}
		return
	}
	i.failed = false
}

// SetBrightness sets the duty cycle of the common pin.
func (i *RealIndicator) SetBrightness(level uint8) {
	if !i.hasPWM {
		return
	}
	i.pwm.DutyCycle(uint32(level), brightnessCycle)
}

// Close turns the LED off and releases the lines.
func (i *RealIndicator) Close() error {
	var errs []error

	if i.hasPWM {
		i.pwm.DutyCycle(0, brightnessCycle)
		i.pwm.Input()
	}
	if i.lines != nil {
		if err := i.lines.SetValues([]int{0, 0, 0}); err != nil {
			errs = append(errs, fmt.Errorf("clear indicator: %w", err))
		}
		if err := i.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close indicator lines: %w", err))
		}
	}
	if i.chip != nil {
		if err := i.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
