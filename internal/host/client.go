// Package host talks to a chamber controller from the PC side of the serial
// line: queries, threshold control and status parsing.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sweeney/ambre-chamber/internal/command"
	"github.com/sweeney/ambre-chamber/internal/logic"
)

// DefaultTimeout bounds a single query.
const DefaultTimeout = 2 * time.Second

// FallbackThreshold is used when threshold input cannot be parsed.
const FallbackThreshold = 50

var (
	// ErrTimeout is returned when no reply arrives in time.
	ErrTimeout = errors.New("host: query timed out")
	// ErrClosed is returned when the link closes while waiting for a reply.
	ErrClosed = errors.New("host: link closed")
	// ErrWrongDevice is returned by Identify for an unexpected identity.
	ErrWrongDevice = errors.New("host: unexpected device")
)

// Conn is a line oriented connection to the controller. *link.Serial and
// *link.Fake satisfy it.
type Conn interface {
	io.Writer
	Lines() <-chan string
}

// Sample is one parsed status line.
type Sample struct {
	Millis    uint32
	DS18Temp  float64 // NaN when invalid
	DHTTemp   float64
	DHTHumi   float64
	ValveOpen bool
	HasValve  bool // false for controllers in manual mode
}

// Client issues one query at a time over a Conn.
type Client struct {
	mu      sync.Mutex
	conn    Conn
	timeout time.Duration
}

// NewClient returns a client with DefaultTimeout.
func NewClient(conn Conn) *Client {
	return &Client{conn: conn, timeout: DefaultTimeout}
}

// SetTimeout changes the per-query timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// Query writes cmd and returns the first non-empty line received after it.
// Stale lines already buffered are discarded first.
func (c *Client) Query(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines := c.conn.Lines()
	c.drain(lines)

	if err := c.send(cmd); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return "", ErrClosed
			}
			if line = strings.TrimSpace(line); line != "" {
				return line, nil
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: %q", ErrTimeout, cmd)
			}
			return "", ctx.Err()
		}
	}
}

// Send writes a command that has no reply.
func (c *Client) Send(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(cmd)
}

func (c *Client) send(cmd string) error {
	if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
		return fmt.Errorf("host: write %q: %w", cmd, err)
	}
	return nil
}

func (c *Client) drain(lines <-chan string) {
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Identify asks for the identity and checks that it contains want.
func (c *Client) Identify(ctx context.Context, want string) (string, error) {
	id, err := c.Query(ctx, command.TokenID)
	if err != nil {
		return "", err
	}
	if want != "" && !strings.Contains(id, want) {
		return id, fmt.Errorf("%w: %q", ErrWrongDevice, id)
	}
	return id, nil
}

// Status queries and parses the status line.
func (c *Client) Status(ctx context.Context) (Sample, error) {
	line, err := c.Query(ctx, "?")
	if err != nil {
		return Sample{}, err
	}
	return ParseStatus(line)
}

// Threshold returns the humidity threshold of automatic control.
func (c *Client) Threshold(ctx context.Context) (float64, error) {
	reply, err := c.Query(ctx, command.TokenThresholdQuery)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(reply, 64)
	if err != nil {
		return 0, fmt.Errorf("host: threshold reply %q: %w", reply, err)
	}
	return v, nil
}

// OpenOnAbove reports whether the valve opens above the threshold.
func (c *Client) OpenOnAbove(ctx context.Context) (bool, error) {
	reply, err := c.Query(ctx, command.TokenPolarityQuery)
	if err != nil {
		return false, err
	}
	switch reply {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, fmt.Errorf("host: polarity reply %q", reply)
}

// SetThreshold clamps v to [0, 100], sends it rounded to a whole percent
// and returns the value sent.
func (c *Client) SetThreshold(v float64) (float64, error) {
	v = math.Round(logic.ClampThreshold(v))
	return v, c.Send(fmt.Sprintf("%s%.0f", command.TokenThresholdSet, v))
}

// SetOpenOnAbove selects the valve polarity.
func (c *Client) SetOpenOnAbove(above bool) error {
	if above {
		return c.Send(command.TokenOpenAbove)
	}
	return c.Send(command.TokenOpenBelow)
}

// ParseThresholdInput parses user input for a threshold. Unparsable input
// yields FallbackThreshold; the result is clamped to [0, 100].
func ParseThresholdInput(text string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(v) {
		v = FallbackThreshold
	}
	return logic.ClampThreshold(v)
}

// ParseStatus parses a tab separated status line of 4 fields (manual mode)
// or 5 fields (with the valve state). Readings may be "nan".
func ParseStatus(line string) (Sample, error) {
	fields := strings.Split(strings.TrimSpace(line), "\t")
	if len(fields) != 4 && len(fields) != 5 {
		return Sample{}, fmt.Errorf("host: status line has %d fields: %q", len(fields), line)
	}

	ms, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return Sample{}, fmt.Errorf("host: status time %q: %w", fields[0], err)
	}
	s := Sample{Millis: uint32(ms)}

	for i, dst := range []*float64{&s.DS18Temp, &s.DHTTemp, &s.DHTHumi} {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return Sample{}, fmt.Errorf("host: status field %d %q: %w", i+1, fields[i+1], err)
		}
		*dst = v
	}

	if len(fields) == 5 {
		switch fields[4] {
		case "1":
			s.ValveOpen = true
		case "0":
		default:
			return Sample{}, fmt.Errorf("host: status valve %q", fields[4])
		}
		s.HasValve = true
	}
	return s, nil
}
