package sensor

import (
	"context"
	"log"
	"math"
	"sync"

	"github.com/sweeney/ambre-chamber/internal/logic"
)

// readFunc performs one blocking bus transaction and returns one value per
// channel of the driver, in the driver's channel order.
type readFunc func() ([]float64, error)

// async runs blocking reads on a goroutine so RequestAcquisition returns
// immediately. ReadLastResult returns the last completed result; before the
// first completion every channel reads as failed.
type async struct {
	name     string
	channels []logic.Channel
	failed   float64
	read     readFunc

	mu      sync.Mutex
	values  []float64
	pending chan struct{} // closed when the in-flight read completes; nil when idle
	lastErr error
	stalled bool
}

func newAsync(name string, channels []logic.Channel, failed float64, read readFunc) *async {
	a := &async{
		name:     name,
		channels: channels,
		failed:   failed,
		read:     read,
		values:   make([]float64, len(channels)),
	}
	for i := range a.values {
		a.values[i] = failed
	}
	return a
}

// RequestAcquisition starts a read unless one is already in flight. A read
// still running when the next one is requested has missed its period, so
// every channel reads as failed until it completes.
func (a *async) RequestAcquisition() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending != nil {
		if !a.stalled {
			log.Printf("sensor: %s read still running, marking channels failed", a.name)
			a.stalled = true
		}
		a.setFailed()
		return
	}
	done := make(chan struct{})
	a.pending = done
	go a.run(done)
}

func (a *async) run(done chan struct{}) {
	values, err := a.read()

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil || len(values) != len(a.channels) {
		if err != nil && (a.lastErr == nil || a.lastErr.Error() != err.Error()) {
			log.Printf("sensor: %s read failed: %v", a.name, err)
		}
		a.lastErr = err
		a.setFailed()
	} else {
		if a.lastErr != nil {
			log.Printf("sensor: %s recovered", a.name)
		}
		a.lastErr = nil
		copy(a.values, values)
	}
	a.pending = nil
	a.stalled = false
	close(done)
}

func (a *async) setFailed() {
	for i := range a.values {
		a.values[i] = a.failed
	}
}

// ReadLastResult returns the last completed value for ch.
func (a *async) ReadLastResult(ch logic.Channel) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, c := range a.channels {
		if c == ch {
			return a.values[i]
		}
	}
	return math.NaN()
}

// Wait blocks until the in-flight read, if any, completes.
func (a *async) Wait(ctx context.Context) error {
	a.mu.Lock()
	done := a.pending
	a.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
