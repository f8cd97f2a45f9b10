// Package rollup derives own time and per-method summaries from reconstructed
// calls. Nothing here is persisted: results are computed from the calls on every
// read. A nil time means unknown, and any sum with an unknown term is unknown.
package rollup

import (
	"sort"

	"tracedb/internal/calltree"
)

// AugmentedCall is a call together with the time spent in it but not in its direct
// children.
type AugmentedCall struct {
	calltree.Call
	OwnTime *int64 `json:"own_time,omitempty"`
}

// MethodSummary aggregates every call of one method.
type MethodSummary struct {
	Method       string `json:"method"`
	TotalTime    *int64 `json:"total_time"`
	TotalOwnTime *int64 `json:"total_own_time"`
	CallCount    int64  `json:"call_count"`
}

// Value returns the summary column selected by m.
func (s *MethodSummary) Value(m Metric) *int64 {
	switch m {
	case TotalTime:
		return s.TotalTime
	case TotalOwnTime:
		return s.TotalOwnTime
	case CallCount:
		n := s.CallCount
		return &n
	}
	return nil
}

// sum accumulates int64 values and turns unknown as soon as one term is unknown.
type sum struct {
	total   int64
	unknown bool
}

func (s *sum) add(v *int64) {
	if v == nil {
		s.unknown = true
		return
	}
	s.total += *v
}

func (s *sum) value() *int64 {
	if s.unknown {
		return nil
	}
	v := s.total
	return &v
}

// Augment computes own time for every call. calls must be a dense arena as produced
// by calltree.Reconstruct: the call with ID n at index n-1.
func Augment(calls []calltree.Call) []AugmentedCall {
	children := make([]sum, len(calls))
	for i := range calls {
		c := &calls[i]
		if c.ParentID == calltree.NoParent || int(c.ParentID) > len(calls) {
			continue
		}
		children[c.ParentID-1].add(c.Time)
	}

	out := make([]AugmentedCall, len(calls))
	for i := range calls {
		out[i] = AugmentedCall{Call: calls[i], OwnTime: ownTime(calls[i].Time, children[i])}
	}
	return out
}

// ownTime subtracts the direct children's total from an inclusive time.
func ownTime(inclusive *int64, children sum) *int64 {
	if inclusive == nil || children.unknown {
		return nil
	}
	v := *inclusive - children.total
	return &v
}

// Summarize rolls augmented calls up by method name, in method name order.
func Summarize(calls []AugmentedCall) []MethodSummary {
	type acc struct {
		time, own sum
		count     int64
	}
	byMethod := make(map[string]*acc)
	for i := range calls {
		c := &calls[i]
		a := byMethod[c.Method]
		if a == nil {
			a = &acc{}
			byMethod[c.Method] = a
		}
		a.time.add(c.Time)
		a.own.add(c.OwnTime)
		a.count++
	}

	out := make([]MethodSummary, 0, len(byMethod))
	for method, a := range byMethod {
		out = append(out, MethodSummary{
			Method:       method,
			TotalTime:    a.time.value(),
			TotalOwnTime: a.own.value(),
			CallCount:    a.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out
}

// Rank orders summaries by metric, largest first, and keeps at most limit rows.
// Unknown values sort after every known value; ties are broken by method name.
func Rank(summaries []MethodSummary, metric Metric, limit int) ([]MethodSummary, error) {
	if err := metric.Check(); err != nil {
		return nil, err
	}
	if err := CheckLimit(limit); err != nil {
		return nil, err
	}
	out := append([]MethodSummary(nil), summaries...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Value(metric), out[j].Value(metric)
		switch {
		case a == nil && b == nil:
		case a == nil:
			return false
		case b == nil:
			return true
		case *a != *b:
			return *a > *b
		}
		return out[i].Method < out[j].Method
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
