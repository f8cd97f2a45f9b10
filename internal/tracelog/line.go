// Package tracelog classifies the lines of an engine trace log.
//
// A trace line looks like
//
//	{traceId=t1}. <- 50ns inner: out2
//
// that is a trace tag, optional indentation made of dots and spaces, a direction
// marker, an optional duration (exit lines only), the method name, a colon and the
// value. Anything else is noise and classifies as Ignore.
package tracelog

import (
	"strconv"
	"strings"
)

// Kind is the classification of a single line.
type Kind uint8

const (
	Ignore Kind = iota
	Enter
	Exit
)

func (k Kind) String() string {
	switch k {
	case Enter:
		return "enter"
	case Exit:
		return "exit"
	default:
		return "ignore"
	}
}

// Event is a classified line. Fields other than Kind are empty for Ignore.
type Event struct {
	Kind    Kind
	TraceID string
	Method  string
	// Value is the input on Enter and the outcome on Exit.
	Value string
	// Duration is the exit duration in nanoseconds, nil when the line has none.
	Duration *int64
}

const (
	traceTagOpen = "{traceId="
	enterMarker  = "-> "
	exitMarker   = "<- "
)

// Classify recognizes one log line. It never fails: lines that do not have the
// trace shape are reported as Ignore.
func Classify(line string) Event {
	line = strings.TrimSuffix(line, "\r")

	rest, ok := strings.CutPrefix(line, traceTagOpen)
	if !ok {
		return Event{}
	}
	end := strings.IndexByte(rest, '}')
	if end < 0 {
		return Event{}
	}
	ev := Event{TraceID: rest[:end]}
	rest = strings.TrimLeft(rest[end+1:], ". ")

	switch {
	case strings.HasPrefix(rest, enterMarker):
		ev.Kind = Enter
		rest = rest[len(enterMarker):]
	case strings.HasPrefix(rest, exitMarker):
		ev.Kind = Exit
		rest = rest[len(exitMarker):]
		ev.Duration, rest = cutDuration(rest)
	default:
		return Event{}
	}

	method, value, ok := strings.Cut(rest, ":")
	if !ok || method == "" {
		return Event{}
	}
	value, ok = strings.CutPrefix(value, " ")
	if !ok {
		return Event{}
	}
	ev.Method = method
	ev.Value = value
	return ev
}

// cutDuration strips a leading "<digits><unit> " token. The unit is dropped and the
// digits are taken as nanoseconds. When the token is absent or malformed the input
// is returned unchanged and the duration is unknown.
func cutDuration(s string) (*int64, string) {
	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits == 0 {
		return nil, s
	}
	end := digits
	for end < len(s) && isUnitLetter(s[end]) {
		end++
	}
	if end >= len(s) || s[end] != ' ' {
		return nil, s
	}
	n, err := strconv.ParseInt(s[:digits], 10, 64)
	if err != nil {
		return nil, s
	}
	return &n, s[end+1:]
}

func isUnitLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
