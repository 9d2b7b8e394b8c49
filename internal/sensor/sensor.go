// Package sensor provides the temperature/humidity driver boundary with
// hardware abstraction. Real drivers talk to the Linux 1-Wire bus and GPIO;
// the fake driver allows testing without hardware.
package sensor

import (
	"context"
	"math"

	"github.com/sweeney/ambre-chamber/internal/logic"
)

// Driver is one physical sensor that produces one or more channels.
type Driver interface {
	// RequestAcquisition starts a new measurement. It never blocks.
	RequestAcquisition()

	// ReadLastResult returns the latest result for ch, or NaN (or a
	// driver-specific sentinel) when the acquisition failed.
	ReadLastResult(ch logic.Channel) float64
}

// Waiter is implemented by drivers whose acquisitions complete in the
// background. Wait blocks until the pending acquisition is done.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Closer is implemented by drivers holding OS resources.
type Closer interface {
	Close() error
}

// Sentinels and failure floors.
const (
	// DS18B20Disconnected is what a DS18B20 read reports when the device
	// does not answer.
	DS18B20Disconnected = -127.0

	// DS18B20Floor is the disconnect floor: readings at or below are failures.
	DS18B20Floor = -126.0
)

// NoFloor accepts any finite reading.
var NoFloor = math.Inf(-1)
