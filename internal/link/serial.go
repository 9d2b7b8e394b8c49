package link

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// Serial is a Link over a serial port.
type Serial struct {
	name string

	mu     sync.Mutex
	port   io.ReadWriteCloser
	lines  chan string
	done   chan struct{}
	closed bool
}

// Ports returns the names of the serial ports present on this machine.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// Open opens the named port (8N1) and starts reading lines from it.
func Open(name string, baudRate, bufSize int) (*Serial, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}

	s := newSerial(name, port, bufSize)
	go s.readLoop()
	return s, nil
}

func newSerial(name string, port io.ReadWriteCloser, bufSize int) *Serial {
	return &Serial{
		name:  name,
		port:  port,
		lines: make(chan string, bufSize),
		done:  make(chan struct{}),
	}
}

// Poll returns the next received line without blocking.
func (s *Serial) Poll() (string, bool) {
	select {
	case line, ok := <-s.lines:
		return line, ok
	default:
		return "", false
	}
}

// Lines returns the channel of received lines.
func (s *Serial) Lines() <-chan string {
	return s.lines
}

// Write sends p to the port.
func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.New("serial: closed")
	}
	n, err := s.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", s.name, err)
	}
	return n, nil
}

// Close closes the port and stops the reader.
func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	err := s.port.Close()
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("close %s: %w", s.name, err)
	}
	return nil
}

func (s *Serial) readLoop() {
	defer close(s.lines)

	scanner := newScanner(s.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		select {
		case s.lines <- line:
		case <-s.done:
			return
		default:
			log.Printf("serial: receive buffer full, dropping %q", line)
		}
	}

	select {
	case <-s.done:
		return
	default:
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		log.Printf("serial: read %s: %v", s.name, err)
	} else {
		log.Printf("serial: %s closed by peer", s.name)
	}
}
