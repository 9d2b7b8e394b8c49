package mqtt

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	// Telemetry contains all telemetry snapshots that were published.
	Telemetry []Telemetry

	// TelemetryPayloads contains the JSON payloads for telemetry.
	TelemetryPayloads [][]byte

	// ValveEvents contains all valve transitions that were published.
	ValveEvents []ValveEvent

	// ValvePayloads contains the JSON payloads for valve transitions.
	ValvePayloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishTelemetry and PublishValve.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishTelemetry records the snapshot.
func (f *FakePublisher) PublishTelemetry(t Telemetry) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatTelemetryPayload(t)
	if err != nil {
		return err
	}
	f.Telemetry = append(f.Telemetry, t)
	f.TelemetryPayloads = append(f.TelemetryPayloads, payload)
	return nil
}

// PublishValve records the valve transition.
func (f *FakePublisher) PublishValve(event ValveEvent) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatValvePayload(event)
	if err != nil {
		return err
	}
	f.ValveEvents = append(f.ValveEvents, event)
	f.ValvePayloads = append(f.ValvePayloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.Telemetry = nil
	f.TelemetryPayloads = nil
	f.ValveEvents = nil
	f.ValvePayloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
