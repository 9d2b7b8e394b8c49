// Package link carries text commands and replies over the serial line.
//
// Incoming bytes are split into lines by a background reader so that the
// control loop only ever does a non-blocking Poll.
package link

import (
	"bufio"
	"bytes"
	"io"
)

const (
	// DefaultBaudRate matches the chamber firmware.
	DefaultBaudRate = 9600
	// DefaultBufferSize is the number of received lines held before new ones
	// are dropped.
	DefaultBufferSize = 16
	// MaxLineLength bounds a single command. Longer input is split.
	MaxLineLength = 64
)

// Link is a line-oriented, non-blocking command channel.
type Link interface {
	// Poll returns the next complete received line, if any, without blocking.
	Poll() (string, bool)

	io.Writer
	io.Closer
}

// Lines is implemented by links that expose received lines as a channel.
// The channel is closed when the link is closed or the reader fails.
type Lines interface {
	Lines() <-chan string
}

// splitLines is a bufio.SplitFunc that terminates lines on '\n' or '\r' and
// never buffers more than MaxLineLength bytes of a line.
func splitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if i > MaxLineLength {
			return MaxLineLength, data[:MaxLineLength], nil
		}
		return i + 1, data[:i], nil
	}
	if len(data) >= MaxLineLength {
		return MaxLineLength, data[:MaxLineLength], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4*MaxLineLength), 4*MaxLineLength)
	s.Split(splitLines)
	return s
}
