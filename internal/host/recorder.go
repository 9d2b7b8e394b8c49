package host

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileName returns the log file name for a recording started at t.
func FileName(t time.Time) string {
	return t.Format("060102_150405") + ".txt"
}

// Recorder writes samples as a tab separated log with a header block.
type Recorder struct {
	w      *bufio.Writer
	closer io.Closer
	start  time.Time
	runID  string
	rows   int
}

// NewRecorder writes the header to w and returns a Recorder that measures
// elapsed time from start.
func NewRecorder(w io.Writer, start time.Time, comments string) (*Recorder, error) {
	r := &Recorder{
		w:     bufio.NewWriter(w),
		start: start,
		runID: uuid.NewString(),
	}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	if err := r.writeHeader(comments); err != nil {
		return nil, err
	}
	return r, nil
}

// Create opens FileName(start) in dir and writes the header.
func Create(dir string, start time.Time, comments string) (*Recorder, string, error) {
	path := filepath.Join(dir, FileName(start))
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("create log: %w", err)
	}
	r, err := NewRecorder(f, start, comments)
	if err != nil {
		f.Close()
		return nil, "", err
	}
	return r, path, nil
}

// RunID identifies the recording in its header.
func (r *Recorder) RunID() string {
	return r.runID
}

// Rows returns the number of samples written.
func (r *Recorder) Rows() int {
	return r.rows
}

func (r *Recorder) writeHeader(comments string) error {
	var b strings.Builder
	b.WriteString("[HEADER]\n")
	fmt.Fprintf(&b, "run: %s\n", r.runID)
	fmt.Fprintf(&b, "started: %s\n", r.start.Format("02-01-2006 15:04:05"))
	b.WriteString(strings.TrimRight(comments, "\n"))
	b.WriteString("\n\n[DATA]\n")
	b.WriteString("time\tDS18B20 temp.\tDHT22 temp.\tDHT22 humi.\tvalve\n")
	b.WriteString("[s]\t[±0.5 °C]\t[±0.5 °C]\t[±3 pct]\t[0/1]\n")

	if _, err := r.w.WriteString(b.String()); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	return r.w.Flush()
}

// Record appends one row stamped with the time elapsed since start.
func (r *Recorder) Record(now time.Time, s Sample) error {
	valve := 0
	if s.ValveOpen {
		valve = 1
	}
	_, err := fmt.Fprintf(r.w, "%.1f\t%s\t%s\t%s\t%d\n",
		now.Sub(r.start).Seconds(),
		formatValue(s.DS18Temp), formatValue(s.DHTTemp), formatValue(s.DHTHumi),
		valve)
	if err != nil {
		return fmt.Errorf("write log row: %w", err)
	}
	r.rows++
	return r.w.Flush()
}

// Close flushes and closes the underlying writer if it is a Closer.
func (r *Recorder) Close() error {
	if err := r.w.Flush(); err != nil {
		return err
	}
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}
