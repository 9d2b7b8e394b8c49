package mqtt

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Defaults for Options.
const (
	DefaultBacklog   = 1000
	DefaultQueueSize = 64

	publishTimeout = 5 * time.Second
	closeTimeout   = 5 * time.Second
)

// ErrQueueFull is returned when the publish queue cannot take a message.
// The control loop never waits for the broker.
var ErrQueueFull = errors.New("mqtt: publish queue full")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("mqtt: publisher closed")

// Options configures a RealPublisher.
type Options struct {
	Broker    string
	ClientID  string // empty generates ambre-chamber-<uuid>
	Topics    Topics
	Backlog   int // messages held while disconnected
	QueueSize int // messages waiting for the worker
}

// conn is the part of the broker connection the worker uses.
type conn interface {
	IsConnectionOpen() bool
	publish(topic string, qos byte, retained bool, payload []byte) error
}

type pahoConn struct {
	client paho.Client
}

func (c pahoConn) IsConnectionOpen() bool {
	return c.client.IsConnectionOpen()
}

func (c pahoConn) publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// RealPublisher publishes to an actual MQTT broker.
//
// Publish calls only enqueue; a worker goroutine talks to the broker.
// While the broker is unreachable messages are kept in a bounded backlog
// and replayed in order once the connection is back.
type RealPublisher struct {
	client paho.Client
	conn   conn
	topics Topics

	mu     sync.RWMutex
	closed bool
	queue  chan bufferedMsg

	connected chan struct{} // signalled on every (re)connect
	done      chan struct{}
	backlog   *backlog // worker only
}

// NewRealPublisher creates a publisher for the given broker. It does not
// wait for the connection: the client keeps retrying in the background.
func NewRealPublisher(opts Options) *RealPublisher {
	if opts.ClientID == "" {
		opts.ClientID = "ambre-chamber-" + uuid.NewString()[:8]
	}
	if opts.Topics == (Topics{}) {
		opts.Topics = NewTopics(DefaultPrefix)
	}

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})

	p := newPublisher(nil, opts)

	var once sync.Once
	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(opts.Topics.System, will, 1, true).
		SetOnConnectHandler(func(paho.Client) {
			first := false
			once.Do(func() { first = true })
			if first {
				log.Printf("mqtt: connected to %s", opts.Broker)
			} else {
				log.Printf("mqtt: reconnected to %s", opts.Broker)
				p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
			}
			p.notifyConnected()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(clientOpts)
	p.conn = pahoConn{client: p.client}
	p.client.Connect()

	go p.run()
	return p
}

func newPublisher(c conn, opts Options) *RealPublisher {
	if opts.Backlog <= 0 {
		opts.Backlog = DefaultBacklog
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &RealPublisher{
		conn:      c,
		topics:    opts.Topics,
		queue:     make(chan bufferedMsg, opts.QueueSize),
		connected: make(chan struct{}, 1),
		done:      make(chan struct{}),
		backlog:   newBacklog(opts.Backlog),
	}
}

// PublishTelemetry queues a reading snapshot (QoS 0, not retained).
func (p *RealPublisher) PublishTelemetry(t Telemetry) error {
	payload, err := FormatTelemetryPayload(t)
	if err != nil {
		return fmt.Errorf("format telemetry payload: %w", err)
	}
	return p.enqueue(bufferedMsg{topic: p.topics.Telemetry, payload: payload})
}

// PublishValve queues a valve transition (QoS 1).
func (p *RealPublisher) PublishValve(event ValveEvent) error {
	payload, err := FormatValvePayload(event)
	if err != nil {
		return fmt.Errorf("format valve payload: %w", err)
	}
	return p.enqueue(bufferedMsg{topic: p.topics.Events, payload: payload, qos: 1})
}

// PublishSystem queues a system lifecycle event (QoS 1).
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.enqueue(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnectionOpen()
}

// Close sends what is queued (if connected), then disconnects.
func (p *RealPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(closeTimeout):
		log.Printf("mqtt: timed out flushing publish queue")
	}

	if p.client != nil {
		p.client.Disconnect(1000) // 1 second timeout
	}
	return nil
}

func (p *RealPublisher) enqueue(msg bufferedMsg) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *RealPublisher) notifyConnected() {
	select {
	case p.connected <- struct{}{}:
	default:
	}
}

func (p *RealPublisher) run() {
	defer close(p.done)
	for {
		select {
		case msg, ok := <-p.queue:
			if !ok {
				if n := p.backlog.len(); n > 0 {
					log.Printf("mqtt: discarding %d unsent messages", n)
				}
				return
			}
			p.send(msg)
		case <-p.connected:
			p.replay()
		}
	}
}

// send publishes msg, or keeps it for later if the broker is unreachable.
// Backlogged messages go first so order is preserved.
func (p *RealPublisher) send(msg bufferedMsg) {
	if !p.conn.IsConnectionOpen() {
		p.backlog.push(msg)
		return
	}
	if p.backlog.len() > 0 && !p.replay() {
		p.backlog.push(msg)
		return
	}
	if err := p.conn.publish(msg.topic, msg.qos, msg.retained, msg.payload); err != nil {
		log.Printf("mqtt: %s: %v", msg.topic, err)
		p.backlog.push(msg)
	}
}

// replay publishes the backlog in order and reports whether it emptied.
func (p *RealPublisher) replay() bool {
	msgs := p.backlog.drainAll()
	if len(msgs) == 0 {
		return true
	}
	if !p.conn.IsConnectionOpen() {
		p.backlog.requeue(msgs)
		return false
	}
	log.Printf("mqtt: replaying %d buffered messages", len(msgs))
	for i, m := range msgs {
		if err := p.conn.publish(m.topic, m.qos, m.retained, m.payload); err != nil {
			log.Printf("mqtt: replay interrupted: %v", err)
			p.backlog.requeue(msgs[i:])
			return false
		}
	}
	return true
}
