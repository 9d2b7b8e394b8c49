package sensor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sweeney/ambre-chamber/internal/logic"
)

// DefaultW1Root is where the w1-gpio/w1-therm kernel drivers expose devices.
const DefaultW1Root = "/sys/bus/w1/devices"

// DS18B20 reads a single DS18B20 through the kernel w1-therm driver.
// A conversion takes up to 750ms, so reads run in the background.
type DS18B20 struct {
	*async
	root   string
	device string
}

// NewDS18B20 creates a driver for device under root. An empty device selects
// the first "28-*" family device found at read time.
func NewDS18B20(root, device string) *DS18B20 {
	if root == "" {
		root = DefaultW1Root
	}
	d := &DS18B20{root: root, device: device}
	d.async = newAsync("ds18b20", []logic.Channel{logic.ChannelDS18Temp}, DS18B20Disconnected, d.read)
	return d
}

func (d *DS18B20) read() ([]float64, error) {
	dev := d.device
	if dev == "" {
		found, err := FindDS18B20(d.root)
		if err != nil {
			return nil, err
		}
		dev = found
	}
	data, err := os.ReadFile(filepath.Join(d.root, dev, "w1_slave"))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dev, err)
	}
	t, err := ParseW1Slave(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", dev, err)
	}
	return []float64{t}, nil
}

// FindDS18B20 returns the name of the first DS18B20 (family 0x28) under root.
func FindDS18B20(root string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(root, "28-*"))
	if err != nil {
		return "", fmt.Errorf("scan w1 devices: %w", err)
	}
	if len(matches) == 0 {
		return "", errors.New("no DS18B20 on the 1-Wire bus")
	}
	sort.Strings(matches)
	return filepath.Base(matches[0]), nil
}

// ParseW1Slave parses w1_slave contents into degrees Celsius:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func ParseW1Slave(data []byte) (float64, error) {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("expected 2 lines, got %d", len(lines))
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, errors.New("crc check failed")
	}
	i := strings.LastIndex(lines[1], "t=")
	if i < 0 {
		return 0, errors.New("missing temperature field")
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][i+2:]))
	if err != nil {
		return 0, fmt.Errorf("invalid temperature: %w", err)
	}
	return float64(milli) / 1000, nil
}
