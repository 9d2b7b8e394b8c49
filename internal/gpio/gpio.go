// Package gpio provides the valve output and status indicator with hardware abstraction.
// The real implementation uses the Linux GPIO character device (and /dev/gpiomem for PWM).
// The fake implementation allows testing without hardware.
package gpio

// Output drives a single digital line.
type Output interface {
	// SetLevel drives the line high (true) or low (false).
	SetLevel(high bool) error

	// Close drives the line low and releases it.
	Close() error
}

// Indicator renders the status LED. Calls are fire-and-forget.
type Indicator interface {
	SetColor(r, g, b uint8)
	SetBrightness(level uint8)
}

// Pin defaults (BCM numbering).
const (
	DefaultChip      = "gpiochip0"
	DefaultPinValve  = 12
	DefaultPinRed    = 5
	DefaultPinGreen  = 6
	DefaultPinBlue   = 13
	DefaultPinPWM    = 18 // hardware PWM0, drives the common LED pin
	DefaultPWMFreqHz = 64000
)

const (
	brightnessCycle  = 255
	colorOnThreshold = 128
)

// colorLevels maps 8-bit colour components to line levels.
func colorLevels(r, g, b uint8) [3]int {
	var lv [3]int
	for i, c := range [3]uint8{r, g, b} {
		if c >= colorOnThreshold {
			lv[i] = 1
		}
	}
	return lv
}
