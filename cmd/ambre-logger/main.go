// Command ambre-logger records the chamber readings from the PC side of the
// serial line to a tab separated log file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/ambre-chamber/internal/host"
	"github.com/sweeney/ambre-chamber/internal/link"
)

// Consecutive failed polls before the connection is considered lost.
const maxFailures = 3

// DeviceName is the part of the identity reply that selects a port.
const DeviceName = "Ambre chamber"

func main() {
	port := flag.String("port", "", "Serial port (empty scans all ports for the chamber)")
	baud := flag.Int("baud", link.DefaultBaudRate, "Serial baud rate")
	interval := flag.Duration("interval", time.Second, "Polling interval")
	dir := flag.String("dir", ".", "Directory for log files")
	comments := flag.String("comments", "", "Comments written to the log header")
	threshold := flag.String("threshold", "", "Humidity threshold to set before recording [%]")
	polarity := flag.String("open-when", "", `Valve polarity to set before recording ("above" or "below")`)

	flag.Parse()

	if err := run(*port, *baud, *interval, *dir, *comments, *threshold, *polarity); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(port string, baud int, interval time.Duration, dir, comments, threshold, polarity string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, name, err := connect(ctx, port, baud)
	if err != nil {
		return err
	}
	defer conn.Close()
	client := host.NewClient(conn)

	if err := configure(ctx, client, threshold, polarity); err != nil {
		return err
	}

	start := time.Now()
	rec, path, err := host.Create(dir, start, comments)
	if err != nil {
		return err
	}
	defer rec.Close()
	log.Printf("recording %s to %s (run %s)", name, path, rec.RunID())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	err = record(ctx, client, rec, time.Now, ticker.C)
	log.Printf("stopped after %d rows", rec.Rows())
	return err
}

// connect opens port, or the first port whose identity names the chamber.
func connect(ctx context.Context, port string, baud int) (*link.Serial, string, error) {
	ports := []string{port}
	if port == "" {
		found, err := link.Ports()
		if err != nil {
			return nil, "", err
		}
		if len(found) == 0 {
			return nil, "", errors.New("no serial ports found")
		}
		ports = found
	}

	for _, p := range ports {
		s, err := link.Open(p, baud, link.DefaultBufferSize)
		if err != nil {
			log.Printf("%s: %v", p, err)
			continue
		}
		id, err := host.NewClient(s).Identify(ctx, DeviceName)
		if err != nil {
			log.Printf("%s: %v", p, err)
			s.Close()
			continue
		}
		log.Printf("%s: found %q", p, id)
		return s, p, nil
	}
	return nil, "", fmt.Errorf("no %q found on %s", DeviceName, strings.Join(ports, ", "))
}

// configure applies the optional threshold and polarity, then reads both
// back.
func configure(ctx context.Context, client *host.Client, threshold, polarity string) error {
	if threshold != "" {
		v, err := client.SetThreshold(host.ParseThresholdInput(threshold))
		if err != nil {
			return err
		}
		log.Printf("threshold set to %.0f %%", v)
	}

	switch polarity {
	case "":
	case "above", "below":
		if err := client.SetOpenOnAbove(polarity == "above"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("open-when must be \"above\" or \"below\", got %q", polarity)
	}

	th, err := client.Threshold(ctx)
	if err != nil {
		return fmt.Errorf("read threshold: %w", err)
	}
	above, err := client.OpenOnAbove(ctx)
	if err != nil {
		return fmt.Errorf("read polarity: %w", err)
	}
	cmp := "<"
	if above {
		cmp = ">"
	}
	log.Printf("valve opens when humidity %s %.0f %%", cmp, th)
	return nil
}

// record polls the status on every tick until ctx is done or the
// connection is lost.
func record(ctx context.Context, client *host.Client, rec *host.Recorder, now func() time.Time, tick <-chan time.Time) error {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			s, err := client.Status(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, host.ErrClosed) {
					return fmt.Errorf("lost connection: %w", err)
				}
				failures++
				log.Printf("poll: %v", err)
				if failures >= maxFailures {
					return fmt.Errorf("lost connection after %d failed polls: %w", failures, err)
				}
				continue
			}
			failures = 0
			if err := rec.Record(now(), s); err != nil {
				return err
			}
		}
	}
}
