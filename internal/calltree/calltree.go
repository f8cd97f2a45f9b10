// Package calltree rebuilds the nested call structure of a trace log.
//
// Calls live in an arena addressed by dense IDs: the call with ID n is
// Tree.Calls[n-1], and ParentID points back into the same arena.
package calltree

import (
	"io"

	"github.com/cockroachdb/errors"

	"tracedb/internal/tracelog"
)

// ID identifies a call. IDs start at 1 in creation order.
type ID int64

// NoParent is the ParentID of a top-level call.
const NoParent ID = 0

// ErrTreeCorrupt marks an exit event that has no open call to close.
var ErrTreeCorrupt = errors.New("call tree corrupted")

// Call is one reconstructed method invocation. Outcome and Time stay nil while the
// call is open, and Time also stays nil when the exit line carries no duration.
type Call struct {
	ID       ID      `json:"id" msgpack:"i"`
	TraceID  string  `json:"trace_id" msgpack:"t"`
	Method   string  `json:"method" msgpack:"m"`
	Input    string  `json:"input" msgpack:"in"`
	Outcome  *string `json:"outcome,omitempty" msgpack:"o,omitempty"`
	Time     *int64  `json:"time,omitempty" msgpack:"d,omitempty"`
	ParentID ID      `json:"parent_id,omitempty" msgpack:"p,omitempty"`
}

// Open reports whether the call's exit was never seen.
func (c *Call) Open() bool { return c.Outcome == nil }

// Options tune reconstruction.
type Options struct {
	// StackPerTrace keeps one open-call stack per trace ID instead of a single
	// stack shared by the whole log.
	StackPerTrace bool
}

// StackMode names the stack discipline selected by o.
func (o Options) StackMode() string {
	if o.StackPerTrace {
		return "per-trace"
	}
	return "shared"
}

// Stats summarizes one reconstruction pass.
type Stats struct {
	Lines   int `json:"lines"`
	Enters  int `json:"enters"`
	Exits   int `json:"exits"`
	Ignored int `json:"ignored"`
	// Mismatched counts exits whose method differs from the call they closed.
	Mismatched int `json:"mismatched"`
	// Open counts calls still open at end of input.
	Open int `json:"open"`
}

// Tree is the result of a reconstruction pass.
type Tree struct {
	Calls []Call
	Stats Stats
}

// Get returns the call with the given ID, or nil if there is none.
func (t *Tree) Get(id ID) *Call {
	if id < 1 || int(id) > len(t.Calls) {
		return nil
	}
	return &t.Calls[id-1]
}

// Reconstruct consumes the whole log in order and rebuilds its calls. An exit with
// no open call stops reconstruction with an error marked ErrTreeCorrupt; no partial
// tree is returned.
func Reconstruct(r io.Reader, opts Options) (*Tree, error) {
	var (
		tree   = &Tree{}
		stacks = newStacks(opts)
		lr     = tracelog.NewReader(r)
	)
	for lr.Next() {
		tree.Stats.Lines++
		ev := lr.Event()
		switch ev.Kind {
		case tracelog.Enter:
			tree.Stats.Enters++
			id := ID(len(tree.Calls) + 1)
			tree.Calls = append(tree.Calls, Call{
				ID:       id,
				TraceID:  ev.TraceID,
				Method:   ev.Method,
				Input:    ev.Value,
				ParentID: stacks.top(ev.TraceID),
			})
			stacks.push(ev.TraceID, id)
		case tracelog.Exit:
			tree.Stats.Exits++
			id, ok := stacks.pop(ev.TraceID)
			if !ok {
				return nil, errors.Mark(
					errors.Newf("line %d: exit from %q (trace %q) with no open call", lr.Line(), ev.Method, ev.TraceID),
					ErrTreeCorrupt)
			}
			c := tree.Get(id)
			outcome := ev.Value
			c.Outcome = &outcome
			c.Time = ev.Duration
			if c.Method != ev.Method {
				tree.Stats.Mismatched++
			}
		default:
			tree.Stats.Ignored++
		}
	}
	if err := lr.Err(); err != nil {
		return nil, err
	}
	tree.Stats.Open = stacks.size()
	return tree, nil
}

// stacks holds the open calls. With a shared stack every trace ID maps to the
// same slot.
type stacks struct {
	perTrace bool
	open     map[string][]ID
}

func newStacks(opts Options) *stacks {
	return &stacks{perTrace: opts.StackPerTrace, open: make(map[string][]ID)}
}

func (s *stacks) key(traceID string) string {
	if s.perTrace {
		return traceID
	}
	return ""
}

func (s *stacks) top(traceID string) ID {
	st := s.open[s.key(traceID)]
	if len(st) == 0 {
		return NoParent
	}
	return st[len(st)-1]
}

func (s *stacks) push(traceID string, id ID) {
	k := s.key(traceID)
	s.open[k] = append(s.open[k], id)
}

func (s *stacks) pop(traceID string) (ID, bool) {
	k := s.key(traceID)
	st := s.open[k]
	if len(st) == 0 {
		return NoParent, false
	}
	id := st[len(st)-1]
	s.open[k] = st[:len(st)-1]
	return id, true
}

func (s *stacks) size() int {
	n := 0
	for _, st := range s.open {
		n += len(st)
	}
	return n
}
