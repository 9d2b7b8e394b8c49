// Package command interprets the line based serial protocol of the chamber.
//
// Every token either matches a known command or is answered with the status
// line; there is no "unknown command" reply. Hosts rely on any query such as
// "?" producing a status line.
package command

import (
	"io"
	"log"
	"math"
	"strconv"
	"strings"

	"github.com/sweeney/ambre-chamber/internal/logic"
)

// DefaultIdentity is the reply to "id?". Hosts match on the text after the comma.
const DefaultIdentity = "Arduino, Ambre chamber"

// Protocol tokens.
const (
	TokenID             = "id?"
	TokenThresholdQuery = "th?"
	TokenThresholdSet   = "th"
	TokenOpenAbove      = "open when super humi"
	TokenOpenBelow      = "open when sub humi"
	TokenPolarityQuery  = "open when super humi?"
	TokenManualClose    = "0"
	TokenManualOpen     = "1"
)

// Kind classifies a handled token.
type Kind string

const (
	KindIdentify       Kind = "identify"
	KindThresholdQuery Kind = "threshold_query"
	KindThresholdSet   Kind = "threshold_set"
	KindPolarityQuery  Kind = "polarity_query"
	KindPolaritySet    Kind = "polarity_set"
	KindManualSet      Kind = "manual_set"
	KindReport         Kind = "report"
)

// State is the controller state a command may read or change.
type State struct {
	Policy     logic.Policy
	Cache      logic.Cache
	ValveOpen  bool
	SampleTime uint32 // ms counter of the last fast-group sample
}

// Result describes what Handle did.
type Result struct {
	Kind    Kind
	Changed bool  // the policy was modified
	Err     error // reply could not be written
}

// Interpreter handles one token at a time. It keeps a reply buffer and is
// not safe for concurrent use.
type Interpreter struct {
	identity string
	out      LineWriter
}

// NewInterpreter returns an interpreter that answers "id?" with identity.
func NewInterpreter(identity string) *Interpreter {
	if identity == "" {
		identity = DefaultIdentity
	}
	return &Interpreter{identity: identity}
}

// Handle interprets token against st, writing any reply to w.
func (it *Interpreter) Handle(token string, st *State, w io.Writer) Result {
	token = strings.TrimSpace(token)

	if token == TokenID {
		return Result{Kind: KindIdentify, Err: it.out.WriteText(w, it.identity)}
	}

	switch p := st.Policy.(type) {
	case logic.Auto:
		return it.handleAuto(token, p, st, w)
	case logic.Manual:
		return it.handleManual(token, st, w)
	}
	return it.report(st, w)
}

func (it *Interpreter) handleAuto(token string, p logic.Auto, st *State, w io.Writer) Result {
	switch {
	case token == TokenThresholdQuery:
		return Result{Kind: KindThresholdQuery, Err: it.out.WriteFloat(w, p.Threshold, 0)}

	case token == TokenPolarityQuery:
		return Result{Kind: KindPolarityQuery, Err: it.out.WriteBool(w, p.OpenOnAbove)}

	case token == TokenOpenAbove, token == TokenOpenBelow:
		above := token == TokenOpenAbove
		changed := p.OpenOnAbove != above
		p.OpenOnAbove = above
		st.Policy = p
		return Result{Kind: KindPolaritySet, Changed: changed}

	case strings.HasPrefix(token, TokenThresholdSet):
		v, ok := ParseThreshold(token)
		if !ok {
			log.Printf("command: ignoring unparsable threshold %q", token)
			return Result{Kind: KindThresholdSet}
		}
		changed := p.Threshold != v
		p.Threshold = v
		st.Policy = p
		return Result{Kind: KindThresholdSet, Changed: changed}
	}
	return it.report(st, w)
}

func (it *Interpreter) handleManual(token string, st *State, w io.Writer) Result {
	switch token {
	case TokenManualClose, TokenManualOpen:
		level := token == TokenManualOpen
		changed := st.Policy.(logic.Manual).Level != level
		st.Policy = logic.Manual{Level: level}
		return Result{Kind: KindManualSet, Changed: changed}
	}
	return it.report(st, w)
}

func (it *Interpreter) report(st *State, w io.Writer) Result {
	_, auto := st.Policy.(logic.Auto)
	err := it.out.WriteStatus(w, st.SampleTime, st.Cache, st.ValveOpen, auto)
	return Result{Kind: KindReport, Err: err}
}

// ParseThreshold parses the numeric suffix of a threshold-set token.
//
// The first two characters are skipped, surrounding blanks ignored and the
// longest leading decimal number is taken, so "th55", "th 55" and "th55%"
// all yield 55. The result is clamped to [0, 100]. It reports false when no
// number is present or the number is NaN; callers keep the previous value.
func ParseThreshold(token string) (float64, bool) {
	if len(token) < len(TokenThresholdSet) {
		return 0, false
	}
	v, ok := leadingFloat(strings.TrimSpace(token[len(TokenThresholdSet):]))
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return logic.ClampThreshold(v), true
}

// leadingFloat parses the longest prefix of s that is a decimal number
// with optional sign, fraction and exponent.
func leadingFloat(s string) (float64, bool) {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0, false
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			i = k
		}
	}
	v, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		// Out of range yields ±Inf with ErrRange, which clamps fine.
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return v, true
		}
		return 0, false
	}
	return v, true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
