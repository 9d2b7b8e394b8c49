package logic

// Evaluate returns StatusError if any tracked reading is invalid.
func Evaluate(c Cache) Status {
	for _, ch := range Channels {
		if !c.Reading(ch).Valid {
			return StatusError
		}
	}
	return StatusOK
}

// Heartbeat alternates on every status refresh so a stalled loop is
// distinguishable from a sustained fault.
type Heartbeat struct {
	toggle bool
}

// Next returns the current parity and flips it.
func (h *Heartbeat) Next() bool {
	bright := h.toggle
	h.toggle = !h.toggle
	return bright
}

// Peek returns the parity the next call to Next will return.
func (h Heartbeat) Peek() bool {
	return h.toggle
}

// Render maps a status and heartbeat parity to what the indicator shows.
func Render(s Status, bright bool, p Palette) Indicator {
	ind := Indicator{Status: s, Bright: bright, Level: p.Dim}
	if bright {
		ind.Level = p.Bright
	}
	switch s {
	case StatusOK:
		ind.Color = ColorOK
	case StatusError:
		ind.Color = ColorError
	default:
		ind.Color = ColorSetup
	}
	return ind
}
