package command

import (
	"io"
	"math"
	"strconv"

	"github.com/sweeney/ambre-chamber/internal/logic"
)

// maxLine bounds every reply. The longest status line is well below it.
const maxLine = 128

// Values at or beyond maxFixed print in exponent form.
const maxFixed = 1e9

// LineWriter formats reply lines into a fixed buffer and emits each line
// with a single Write. It does not allocate once constructed.
type LineWriter struct {
	buf [maxLine]byte
	b   []byte
}

func (lw *LineWriter) begin() {
	lw.b = lw.buf[:0]
}

func (lw *LineWriter) flush(w io.Writer) error {
	lw.b = append(lw.b, '\n')
	_, err := w.Write(lw.b)
	return err
}

func (lw *LineWriter) str(s string) {
	// Never grow past the fixed buffer; leave room for the newline.
	if room := maxLine - 1 - len(lw.b); len(s) > room {
		s = s[:room]
	}
	lw.b = append(lw.b, s...)
}

func (lw *LineWriter) tab() {
	lw.b = append(lw.b, '\t')
}

func (lw *LineWriter) uint(v uint32) {
	lw.b = strconv.AppendUint(lw.b, uint64(v), 10)
}

func (lw *LineWriter) bit(v bool) {
	if v {
		lw.b = append(lw.b, '1')
	} else {
		lw.b = append(lw.b, '0')
	}
}

func (lw *LineWriter) float(v float64, prec int) {
	if math.IsNaN(v) {
		lw.b = append(lw.b, "nan"...)
		return
	}
	if math.Abs(v) >= maxFixed {
		// Exponent form keeps every number within a few bytes.
		lw.b = strconv.AppendFloat(lw.b, v, 'e', prec, 64)
		return
	}
	lw.b = strconv.AppendFloat(lw.b, v, 'f', prec, 64)
}

func (lw *LineWriter) reading(r logic.Reading) {
	if !r.Valid {
		lw.float(math.NaN(), 1)
		return
	}
	lw.float(r.Value, 1)
}

// WriteText writes s as one line.
func (lw *LineWriter) WriteText(w io.Writer, s string) error {
	lw.begin()
	lw.str(s)
	return lw.flush(w)
}

// WriteFloat writes v with prec decimals as one line.
func (lw *LineWriter) WriteFloat(w io.Writer, v float64, prec int) error {
	lw.begin()
	lw.float(v, prec)
	return lw.flush(w)
}

// WriteBool writes 1 or 0 as one line.
func (lw *LineWriter) WriteBool(w io.Writer, v bool) error {
	lw.begin()
	lw.bit(v)
	return lw.flush(w)
}

// WriteStatus writes the tab separated status line:
//
//	ts \t ds18_temp \t dht_temp \t dht_humi [\t valve]
//
// Readings carry one decimal; invalid readings print as nan.
func (lw *LineWriter) WriteStatus(w io.Writer, ts uint32, c logic.Cache, valve bool, withValve bool) error {
	lw.begin()
	lw.uint(ts)
	lw.tab()
	lw.reading(c.DS18Temp)
	lw.tab()
	lw.reading(c.DHTTemp)
	lw.tab()
	lw.reading(c.DHTHumi)
	if withValve {
		lw.tab()
		lw.bit(valve)
	}
	return lw.flush(w)
}
