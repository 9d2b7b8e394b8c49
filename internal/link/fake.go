package link

import (
	"bytes"
	"errors"
	"strings"
	"sync"
)

// Fake is an in-memory Link for testing.
type Fake struct {
	mu      sync.Mutex
	lines   chan string
	out     bytes.Buffer
	pending []byte
	closed  bool

	// Respond, if set, is called with every complete line written to the
	// fake. The returned lines are queued for reading.
	Respond func(line string) []string

	// WriteError, if set, will be returned by Write.
	WriteError error

	// Dropped counts pushed lines that did not fit in the buffer.
	Dropped int
}

// NewFake creates a Fake holding up to bufSize unread lines.
func NewFake(bufSize int) *Fake {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Fake{lines: make(chan string, bufSize)}
}

// Push queues lines for reading. Lines that do not fit are dropped.
func (f *Fake) Push(lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushLocked(lines)
}

func (f *Fake) pushLocked(lines []string) {
	if f.closed {
		return
	}
	for _, l := range lines {
		select {
		case f.lines <- l:
		default:
			f.Dropped++
		}
	}
}

// Poll returns the next queued line without blocking.
func (f *Fake) Poll() (string, bool) {
	select {
	case line, ok := <-f.lines:
		return line, ok
	default:
		return "", false
	}
}

// Lines returns the channel of queued lines.
func (f *Fake) Lines() <-chan string {
	return f.lines
}

// Write records p and answers complete lines through Respond.
func (f *Fake) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, errors.New("fake link: closed")
	}
	if f.WriteError != nil {
		return 0, f.WriteError
	}
	f.out.Write(p)

	if f.Respond == nil {
		return len(p), nil
	}
	f.pending = append(f.pending, p...)
	for {
		i := bytes.IndexByte(f.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(f.pending[:i]))
		f.pending = f.pending[i+1:]
		f.pushLocked(f.Respond(line))
	}
	return len(p), nil
}

// Output returns everything written so far.
func (f *Fake) Output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

// ResetOutput discards what has been written so far.
func (f *Fake) ResetOutput() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out.Reset()
}

// Close closes the line channel.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.lines)
	}
	return nil
}
