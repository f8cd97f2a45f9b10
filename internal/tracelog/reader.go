package tracelog

import (
	"bufio"
	"io"

	"github.com/cockroachdb/errors"
)

// maxLineSize bounds a single log line. Inputs and outcomes are printed
// expressions and can be long.
const maxLineSize = 64 << 20

// Reader yields classified lines of a trace log in file order.
type Reader struct {
	sc   *bufio.Scanner
	line int
	ev   Event
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{sc: sc}
}

// Next advances to the next line, noise included. It returns false at the end of
// input or on a read error.
func (r *Reader) Next() bool {
	if !r.sc.Scan() {
		return false
	}
	r.line++
	r.ev = Classify(r.sc.Text())
	return true
}

// Event returns the classification of the current line.
func (r *Reader) Event() Event { return r.ev }

// Line returns the 1-based number of the current line.
func (r *Reader) Line() int { return r.line }

// Err returns the first read error, if any.
func (r *Reader) Err() error {
	if err := r.sc.Err(); err != nil {
		return errors.Wrapf(err, "reading trace log after line %d", r.line)
	}
	return nil
}
