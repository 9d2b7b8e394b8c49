package controller

import "time"

// MillisClock returns a wrapping millisecond counter started at start.
func MillisClock(start time.Time) func() uint32 {
	return func() uint32 {
		return uint32(time.Since(start).Milliseconds())
	}
}
