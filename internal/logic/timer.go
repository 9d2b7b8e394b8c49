package logic

// Timer is a fixed-period trigger on a wrapping millisecond counter.
//
// Elapsed time is always computed as now-Last in uint32 arithmetic, so a
// counter overflow (about 49.7 days) neither skips nor sticks a firing.
// Firing re-arms at now, not at Last+Period: jitter is not corrected.
type Timer struct {
	Last   uint32
	Period uint32
}

// NewTimer returns a timer armed at start.
func NewTimer(period, start uint32) Timer {
	return Timer{Last: start, Period: period}
}

// Elapsed returns the milliseconds since the last firing.
func (t Timer) Elapsed(now uint32) uint32 {
	return now - t.Last
}

// Due reports whether the period has elapsed.
func (t Timer) Due(now uint32) bool {
	return now-t.Last >= t.Period
}

// Fire re-arms the timer at now.
func (t *Timer) Fire(now uint32) {
	t.Last = now
}

// Check fires the timer and returns true when it is due.
func (t *Timer) Check(now uint32) bool {
	if !t.Due(now) {
		return false
	}
	t.Fire(now)
	return true
}
