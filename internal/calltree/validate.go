package calltree

import "github.com/cockroachdb/errors"

// Validate checks that calls form a forest: IDs are dense and in creation order,
// and every parent was created strictly before its child. A parent that always
// precedes its child rules out cycles.
func Validate(calls []Call) error {
	for i := range calls {
		c := &calls[i]
		if c.ID != ID(i+1) {
			return errors.Mark(errors.Newf("call at position %d has id %d", i+1, c.ID), ErrTreeCorrupt)
		}
		if c.ParentID == NoParent {
			continue
		}
		if c.ParentID < 1 || c.ParentID >= c.ID {
			return errors.Mark(errors.Newf("call %d has parent %d created after it", c.ID, c.ParentID), ErrTreeCorrupt)
		}
	}
	return nil
}

// Validate checks the forest invariant of t.
func (t *Tree) Validate() error { return Validate(t.Calls) }
