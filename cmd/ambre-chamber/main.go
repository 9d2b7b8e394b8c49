// Command ambre-chamber samples the chamber sensors, drives the humidity
// valve and the status LED, answers the serial command protocol and
// publishes telemetry to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/ambre-chamber/internal/config"
	"github.com/sweeney/ambre-chamber/internal/controller"
	"github.com/sweeney/ambre-chamber/internal/gpio"
	"github.com/sweeney/ambre-chamber/internal/link"
	"github.com/sweeney/ambre-chamber/internal/logic"
	"github.com/sweeney/ambre-chamber/internal/metrics"
	"github.com/sweeney/ambre-chamber/internal/mqtt"
	"github.com/sweeney/ambre-chamber/internal/sensor"
	"github.com/sweeney/ambre-chamber/internal/status"
	"github.com/sweeney/ambre-chamber/internal/web"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the YAML configuration")
	broker := flag.String("broker", "", `MQTT broker address (overrides the config, "off" disables)`)
	httpAddr := flag.String("http", "", `HTTP status address (overrides the config, "off" disables)`)
	printState := flag.Bool("print-state", false, "Print one acquisition of every sensor and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	applyOverrides(cfg, *broker, *httpAddr)

	if err := run(cfg, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// applyOverrides applies non-empty flag values on top of the config.
func applyOverrides(cfg *config.Config, broker, httpAddr string) {
	switch broker {
	case "":
	case "off":
		cfg.MQTT.Broker = ""
	default:
		cfg.MQTT.Broker = broker
	}
	switch httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = httpAddr
	}
}

func run(cfg *config.Config, printState bool) error {
	// Initialize sensors
	ds := sensor.NewDS18B20(cfg.Sensors.DS18B20.W1Root, cfg.Sensors.DS18B20.Device)
	dht, err := sensor.NewDHT22(cfg.Sensors.DHT22.Pin)
	if err != nil {
		return fmt.Errorf("init dht22: %w", err)
	}
	defer dht.Close()

	dsSampler := controller.NewSampler("ds18b20", cfg.Sensors.DS18B20.Period, ds, cfg.Sensors.DS18B20.Floor, logic.ChannelDS18Temp)
	dhtSampler := controller.NewSampler("dht22", cfg.Sensors.DHT22.Period, dht, sensor.NoFloor, logic.ChannelDHTTemp, logic.ChannelDHTHumi)
	fast, slow := sortGroups(dsSampler, dhtSampler)

	// Print state mode
	if printState {
		return printReadings(cfg.Loop.SetupTimeout, fast, slow)
	}

	// Initialize GPIO
	valve, err := gpio.NewRealOutput(cfg.Valve.Chip, cfg.Valve.Line)
	if err != nil {
		return fmt.Errorf("init valve: %w", err)
	}
	defer valve.Close()

	indicator, err := gpio.NewRealIndicator(cfg.Indicator.Chip, cfg.IndicatorPins())
	if err != nil {
		return fmt.Errorf("init indicator: %w", err)
	}
	defer indicator.Close()

	// Initialize command link
	var cmdLink link.Link
	if cfg.Serial.Port != "" {
		s, err := link.Open(cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.Buffer)
		if err != nil {
			return fmt.Errorf("open serial: %w", err)
		}
		defer s.Close()
		cmdLink = s
	}

	start := time.Now()
	ctrl, err := controller.New(controller.Config{
		Fast:         fast,
		Slow:         slow,
		Policy:       cfg.Policy(),
		Palette:      cfg.Palette(),
		Identity:     cfg.Identity,
		Valve:        valve,
		Indicator:    indicator,
		Link:         cmdLink,
		Clock:        controller.MillisClock(start),
		SetupTimeout: cfg.Loop.SetupTimeout,
	})
	if err != nil {
		return err
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(start, status.Config{
		Identity:     cfg.Identity,
		LoopMs:       cfg.Loop.Interval.Milliseconds(),
		FastPeriodMs: int64(fast.Timer.Period),
		SlowPeriodMs: int64(slow.Timer.Period),
		SerialPort:   cfg.Serial.Port,
		Broker:       cfg.MQTT.Broker,
		HTTPPort:     cfg.HTTP.Addr,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Start-up acquisition; the indicator shows SETUP meanwhile.
	setupCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = ctrl.Setup(setupCtx)
	stop()
	if err != nil {
		ctrl.Shutdown()
		return err
	}
	tracker.Update(ctrl.State())

	// Initialize MQTT
	var publisher mqtt.Publisher = nopPublisher{}
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		p := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topics:   mqtt.NewTopics(cfg.MQTT.Topic),
			Backlog:  cfg.MQTT.Buffer,
		})
		publisher, mqttStatus = p, p
	}
	defer publisher.Close()

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, metrics.New(tracker))
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: fast=%s slow=%s loop=%v serial=%q broker=%q",
		groupLabel(fast), groupLabel(slow), cfg.Loop.Interval, cfg.Serial.Port, cfg.MQTT.Broker)

	ticker := time.NewTicker(cfg.Loop.Interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctrl, publisher, mqttStatus, tracker, time.Now, ticker.C, sigCh)
}

// sortGroups returns the sampler with the shorter period first. The slow
// group drives health and the heartbeat.
func sortGroups(a, b *controller.Sampler) (fast, slow *controller.Sampler) {
	if b.Timer.Period < a.Timer.Period {
		return b, a
	}
	return a, b
}

// groupLabel names a sampler with its own period.
func groupLabel(s *controller.Sampler) string {
	return fmt.Sprintf("%s/%v", s.Name, time.Duration(s.Timer.Period)*time.Millisecond)
}

// printReadings runs one acquisition of every sampler and prints the result.
func printReadings(timeout time.Duration, samplers ...*controller.Sampler) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cache := logic.NewCache()
	for _, s := range samplers {
		s.Driver.RequestAcquisition()
	}
	for _, s := range samplers {
		if w, ok := s.Driver.(sensor.Waiter); ok {
			if err := w.Wait(ctx); err != nil {
				return fmt.Errorf("wait for %s: %w", s.Name, err)
			}
		}
		for _, ch := range s.Channels {
			cache.Set(ch, logic.NewReading(s.Driver.ReadLastResult(ch), s.Floor))
		}
	}

	c := cache.Get()
	fmt.Printf("DS18B20: %s, DHT22: %s %s, health: %s\n",
		formatReading(c.DS18Temp, "°C"), formatReading(c.DHTTemp, "°C"), formatReading(c.DHTHumi, "%"),
		logic.Evaluate(c))
	return nil
}

func formatReading(r logic.Reading, unit string) string {
	if !r.Valid {
		return "nan"
	}
	return fmt.Sprintf("%.1f %s", r.Value, unit)
}

func runLoop(ctrl *controller.Controller, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}

			ctrl.Shutdown()

			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				tracker.Update(ctrl.State())
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			res := ctrl.Tick()
			st := ctrl.State()

			if res.Handled && res.Result.Changed {
				log.Printf("command %q: %s", res.Command, res.Result.Kind)
			}

			if res.ValveChanged {
				event := mqtt.ValveEvent{
					Timestamp: now(),
					Open:      res.ValveOpen,
					Humidity:  st.Cache.DHTHumi,
					Policy:    st.Policy,
				}
				log.Printf("event: %s (humi=%s)", event.Event(), formatReading(event.Humidity, "%"))
				if err := publisher.PublishValve(event); err != nil {
					log.Printf("publish error: %v", err)
					// Don't crash on publish failure
				}
			}

			if res.SlowFired {
				telemetry := mqtt.Telemetry{
					Timestamp:  now(),
					SampleTime: st.SampleTime,
					Cache:      st.Cache,
					Status:     st.Status,
					ValveOpen:  st.ValveOpen,
					Policy:     st.Policy,
				}
				if err := publisher.PublishTelemetry(telemetry); err != nil {
					log.Printf("telemetry publish error: %v", err)
				}
				if tracker != nil {
					// Refresh network info with each telemetry snapshot
					if net := readNetworkInfo(); net != nil {
						tracker.SetNetwork(net)
					}
				}
			}

			// Update status tracker for HTTP/metrics consumers
			if tracker != nil {
				tracker.Update(st)
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
			}
		}
	}
}

// nopPublisher is used when MQTT is disabled.
type nopPublisher struct{}

func (nopPublisher) PublishTelemetry(mqtt.Telemetry) error { return nil }
func (nopPublisher) PublishValve(mqtt.ValveEvent) error    { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error  { return nil }
func (nopPublisher) Close() error                          { return nil }

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
