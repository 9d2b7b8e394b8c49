//go:build !linux

package sensor

import "errors"

// DHT22 is not available on non-Linux platforms.
type DHT22 struct {
	*async
}

// NewDHT22 returns an error on non-Linux platforms.
func NewDHT22(pin int) (*DHT22, error) {
	return nil, errors.New("dht22: not supported on this platform (requires Linux)")
}

// Close is not implemented on non-Linux platforms.
func (d *DHT22) Close() error {
	return nil
}
