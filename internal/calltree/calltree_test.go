package calltree

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleLog = `{traceId=t1} -> outer: in
{traceId=t1}. -> inner: in2
{traceId=t1}. <- 50ns inner: out2
{traceId=t1} <- 100ns outer: out
`

func ptr[T any](v T) *T { return &v }

func reconstruct(t *testing.T, log string, opts Options) *Tree {
	t.Helper()
	tree, err := Reconstruct(strings.NewReader(log), opts)
	require.NoError(t, err)
	require.NoError(t, tree.Validate())
	return tree
}

func TestReconstructExample(t *testing.T) {
	tree := reconstruct(t, exampleLog, Options{})

	want := []Call{
		{ID: 1, TraceID: "t1", Method: "outer", Input: "in", Outcome: ptr("out"), Time: ptr[int64](100)},
		{ID: 2, TraceID: "t1", Method: "inner", Input: "in2", Outcome: ptr("out2"), Time: ptr[int64](50), ParentID: 1},
	}
	assert.Equal(t, want, tree.Calls)
	assert.Equal(t, Stats{Lines: 4, Enters: 2, Exits: 2}, tree.Stats)
}

func TestReconstructSiblingsAndForest(t *testing.T) {
	log := strings.Join([]string{
		"{traceId=a} -> root1: x",
		"{traceId=a}. -> child1: x",
		"{traceId=a}. <- 10ns child1: y",
		"some unrelated output",
		"{traceId=a}. -> child2: x",
		"{traceId=a}. . -> grandchild: x",
		"{traceId=a}. . <- 3ns grandchild: y",
		"{traceId=a}. <- 20ns child2: y",
		"{traceId=a} <- 40ns root1: y",
		"{traceId=b} -> root2: x",
		"{traceId=b} <- 5ns root2: y",
	}, "\n")
	tree := reconstruct(t, log, Options{})

	parents := make(map[string]ID)
	for _, c := range tree.Calls {
		parents[c.Method] = c.ParentID
	}
	assert.Equal(t, map[string]ID{
		"root1":      NoParent,
		"child1":     1,
		"child2":     1,
		"grandchild": 3,
		"root2":      NoParent,
	}, parents)
	assert.Equal(t, 1, tree.Stats.Ignored)
	assert.Zero(t, tree.Stats.Open)
}

func TestReconstructTruncatedLogLeavesOpenCalls(t *testing.T) {
	log := "{traceId=t} -> outer: in\n{traceId=t}. -> inner: in2\n{traceId=t}. <- 7ns inner: out\n"
	tree := reconstruct(t, log, Options{})

	require.Len(t, tree.Calls, 2)
	outer := tree.Get(1)
	assert.True(t, outer.Open())
	assert.Nil(t, outer.Time)
	assert.Nil(t, outer.Outcome)
	assert.False(t, tree.Get(2).Open())
	assert.Equal(t, 1, tree.Stats.Open)
}

func TestReconstructExitWithoutDuration(t *testing.T) {
	tree := reconstruct(t, "{traceId=t} -> m: in\n{traceId=t} <- m: FAIL\n", Options{})

	c := tree.Get(1)
	assert.False(t, c.Open())
	assert.Equal(t, "FAIL", *c.Outcome)
	assert.Nil(t, c.Time, "missing duration is unknown, not zero")
}

func TestReconstructUnderflow(t *testing.T) {
	cases := []struct {
		name string
		log  string
	}{
		{name: "exit first", log: "{traceId=t} <- 5ns m: out\n"},
		{name: "one exit too many", log: "{traceId=t} -> m: in\n{traceId=t} <- 5ns m: out\nnoise\n{traceId=t} <- 5ns m: out\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tree, err := Reconstruct(strings.NewReader(tc.log), Options{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTreeCorrupt))
			assert.Nil(t, tree)
		})
	}
}

func TestReconstructUnderflowReportsLine(t *testing.T) {
	_, err := Reconstruct(strings.NewReader("noise\n{traceId=t} <- 5ns lonely: out\n"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Contains(t, err.Error(), `"lonely"`)
}

func TestReconstructCountsMismatchedExit(t *testing.T) {
	tree := reconstruct(t, "{traceId=t} -> a: in\n{traceId=t} <- 1ns b: out\n", Options{})
	assert.Equal(t, 1, tree.Stats.Mismatched)
	assert.Equal(t, "a", tree.Get(1).Method)
}

const interleaved = `{traceId=a} -> a.outer: x
{traceId=b} -> b.outer: x
{traceId=a}. -> a.inner: x
{traceId=b} <- 30ns b.outer: y
{traceId=a}. <- 10ns a.inner: y
{traceId=a} <- 50ns a.outer: y
`

func TestReconstructSharedStackInterleaving(t *testing.T) {
	tree := reconstruct(t, interleaved, Options{})

	// One stack for the whole log: events are attributed by position only.
	assert.Equal(t, ID(1), tree.Get(2).ParentID)
	assert.Equal(t, ID(2), tree.Get(3).ParentID)
	assert.Equal(t, int64(30), *tree.Get(3).Time)
	assert.Equal(t, int64(10), *tree.Get(2).Time)
	assert.Equal(t, 2, tree.Stats.Mismatched)
}

func TestReconstructStackPerTrace(t *testing.T) {
	tree := reconstruct(t, interleaved, Options{StackPerTrace: true})

	assert.Equal(t, NoParent, tree.Get(2).ParentID)
	assert.Equal(t, ID(1), tree.Get(3).ParentID)
	assert.Equal(t, int64(50), *tree.Get(1).Time)
	assert.Equal(t, int64(30), *tree.Get(2).Time)
	assert.Equal(t, int64(10), *tree.Get(3).Time)
	assert.Zero(t, tree.Stats.Mismatched)
}

func TestReconstructStackPerTraceUnderflow(t *testing.T) {
	log := "{traceId=a} -> m: x\n{traceId=b} <- 1ns m: y\n"
	_, err := Reconstruct(strings.NewReader(log), Options{StackPerTrace: true})
	assert.True(t, errors.Is(err, ErrTreeCorrupt))

	_, err = Reconstruct(strings.NewReader(log), Options{})
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate([]Call{{ID: 1}, {ID: 2, ParentID: 1}, {ID: 3, ParentID: 1}}))

	err := Validate([]Call{{ID: 1, ParentID: 2}, {ID: 2}})
	assert.True(t, errors.Is(err, ErrTreeCorrupt))

	err = Validate([]Call{{ID: 1, ParentID: 1}})
	assert.True(t, errors.Is(err, ErrTreeCorrupt), "self parent is a cycle")

	err = Validate([]Call{{ID: 2}})
	assert.True(t, errors.Is(err, ErrTreeCorrupt))
}

func TestStackMode(t *testing.T) {
	assert.Equal(t, "shared", Options{}.StackMode())
	assert.Equal(t, "per-trace", Options{StackPerTrace: true}.StackMode())
}
