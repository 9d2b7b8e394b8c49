package mqtt

import "log"

// bufferedMsg is a serialized MQTT message waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog is a fixed-capacity FIFO of messages held while the broker is
// unreachable. When full, the oldest message is overwritten.
// Not safe for concurrent use; only the publisher's worker touches it.
type backlog struct {
	buf      []bufferedMsg
	capacity int
	head     int // next write position
	count    int
	dropped  uint64
	overflow bool // a message was dropped since the last drain
}

func newBacklog(capacity int) *backlog {
	if capacity < 1 {
		capacity = 1
	}
	return &backlog{
		buf:      make([]bufferedMsg, capacity),
		capacity: capacity,
	}
}

func (b *backlog) push(msg bufferedMsg) {
	if b.count == b.capacity {
		if !b.overflow {
			log.Printf("mqtt: backlog full (%d messages), dropping oldest", b.capacity)
			b.overflow = true
		}
		b.dropped++
		// head points at the oldest entry when full
		b.buf[b.head] = msg
		b.head = (b.head + 1) % b.capacity
		return
	}
	b.buf[b.head] = msg
	b.head = (b.head + 1) % b.capacity
	b.count++
}

// drainAll removes and returns every message, oldest first.
func (b *backlog) drainAll() []bufferedMsg {
	if b.count == 0 {
		return nil
	}

	result := make([]bufferedMsg, b.count)
	start := (b.head - b.count + b.capacity) % b.capacity
	for i := 0; i < b.count; i++ {
		result[i] = b.buf[(start+i)%b.capacity]
		b.buf[(start+i)%b.capacity] = bufferedMsg{}
	}

	b.count = 0
	b.head = 0
	b.overflow = false
	return result
}

// requeue puts msgs back ahead of anything buffered since they were drained.
func (b *backlog) requeue(msgs []bufferedMsg) {
	newer := b.drainAll()
	for _, m := range msgs {
		b.push(m)
	}
	for _, m := range newer {
		b.push(m)
	}
}

func (b *backlog) len() int {
	return b.count
}
