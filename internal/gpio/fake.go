package gpio

import "github.com/sweeney/ambre-chamber/internal/logic"

// FakeOutput is a test double that records output levels.
type FakeOutput struct {
	// Level is the current line level.
	Level bool

	// Writes counts SetLevel calls.
	Writes int

	// Transitions records every level change, starting from low.
	Transitions []bool

	// SetError, if set, will be returned by SetLevel (the level is not changed).
	SetError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeOutput creates a FakeOutput, initially low.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// SetLevel records the level.
func (f *FakeOutput) SetLevel(high bool) error {
	f.Writes++
	if f.SetError != nil {
		return f.SetError
	}
	if high != f.Level {
		f.Transitions = append(f.Transitions, high)
	}
	f.Level = high
	return nil
}

// Close drives the line low and marks it closed.
func (f *FakeOutput) Close() error {
	f.Level = false
	f.Closed = true
	return nil
}

// FakeIndicator records what the status LED shows.
type FakeIndicator struct {
	Color      logic.Color
	Brightness uint8

	// History records every (colour, brightness) pair after a SetBrightness
	// call, which is how the controller finishes each render.
	History []logic.Indicator
}

// NewFakeIndicator creates a FakeIndicator.
func NewFakeIndicator() *FakeIndicator {
	return &FakeIndicator{}
}

// SetColor records the colour.
func (f *FakeIndicator) SetColor(r, g, b uint8) {
	f.Color = logic.Color{R: r, G: g, B: b}
}

// SetBrightness records the brightness and appends a history entry.
func (f *FakeIndicator) SetBrightness(level uint8) {
	f.Brightness = level
	f.History = append(f.History, logic.Indicator{Color: f.Color, Level: level})
}

// Reset clears the history.
func (f *FakeIndicator) Reset() {
	f.History = nil
}
