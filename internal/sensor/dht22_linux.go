//go:build linux

package sensor

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	rpio "github.com/stianeikeland/go-rpio/v4"

	"github.com/sweeney/ambre-chamber/internal/logic"
)

// maxPulse bounds a single busy-wait on the data line, in loop iterations.
const maxPulse = 10000

var rpioOnce struct {
	sync.Once
	err error
}

// openRPIO maps /dev/gpiomem once per process.
func openRPIO() error {
	rpioOnce.Do(func() {
		rpioOnce.err = rpio.Open()
	})
	return rpioOnce.err
}

// DHT22 bit-bangs an AM2302/DHT22 on a BCM pin.
type DHT22 struct {
	*async
	pin rpio.Pin
}

// NewDHT22 opens the GPIO memory map and returns a driver for the BCM pin.
func NewDHT22(pin int) (*DHT22, error) {
	if err := openRPIO(); err != nil {
		return nil, fmt.Errorf("open gpiomem: %w", err)
	}
	d := &DHT22{pin: rpio.Pin(pin)}
	d.async = newAsync("dht22", []logic.Channel{logic.ChannelDHTTemp, logic.ChannelDHTHumi}, nan(), d.read)
	return d, nil
}

func (d *DHT22) read() ([]float64, error) {
	t, h, err := readDHT22(d.pin)
	if err != nil {
		return nil, err
	}
	return []float64{float64(t), float64(h)}, nil
}

// Close releases the line back to an input.
func (d *DHT22) Close() error {
	d.pin.Input()
	return nil
}

func readDHT22(pin rpio.Pin) (float32, float32, error) {
	var pulseLen [82]int

	// Timing-critical section: keep the goroutine on its thread and the GC quiet.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	gc := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gc)

	// Start signal: hold the line low for at least 1ms, then release.
	pin.Output()
	pin.High()
	time.Sleep(10 * time.Millisecond)
	pin.Low()
	start := time.Now()
	for time.Since(start) < 2*time.Millisecond {
	}
	pin.Input()
	pin.PullUp()
	defer pin.PullOff()

	// Wait for the sensor to pull the line low.
	start = time.Now()
	for pin.Read() == rpio.High {
		if time.Since(start) > 5*time.Millisecond {
			return 0, 0, errors.New("no response")
		}
	}

	// 80us low + 80us high preamble, then 40 bits of (50us low, 26-70us high).
	// The sensor ends with a 50us low before releasing the line.
	for i := 0; i < 82; i += 2 {
		n := 0
		for pin.Read() == rpio.Low {
			if n++; n > maxPulse {
				return 0, 0, fmt.Errorf("timeout at pulse %d", i)
			}
		}
		pulseLen[i] = n

		n = 0
		for pin.Read() == rpio.High {
			if n++; n > maxPulse {
				return 0, 0, fmt.Errorf("timeout at pulse %d", i+1)
			}
		}
		pulseLen[i+1] = n
	}

	// The low pulses are all ~50us; their mean separates short (0) from long (1) highs.
	threshold := 0
	for i := 2; i < 82; i += 2 {
		threshold += pulseLen[i]
	}
	threshold /= 40

	var b [5]uint8
	for i := 3; i < 82; i += 2 {
		bi := (i - 3) / 16
		b[bi] <<= 1
		if pulseLen[i] > threshold {
			b[bi] |= 0x01
		}
	}
	if b[0]+b[1]+b[2]+b[3] != b[4] {
		return 0, 0, errors.New("checksum mismatch")
	}

	humidity := float32(uint16(b[0])<<8|uint16(b[1])) / 10
	temperature := float32(uint16(b[2]&0x7F)<<8|uint16(b[3])) / 10
	if b[2]&0x80 != 0 {
		temperature = -temperature
	}
	return temperature, humidity, nil
}
