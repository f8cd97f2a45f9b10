// Package metrics counts what ingestion does. All methods are safe on a nil
// *Ingest, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tracedb/internal/calltree"
)

const namespace = "tracedb"

// Ingest holds the ingestion collectors.
type Ingest struct {
	lines          *prometheus.CounterVec
	calls          prometheus.Counter
	openCalls      prometheus.Counter
	rebuilds       *prometheus.CounterVec
	reuses         prometheus.Counter
	rebuildSeconds prometheus.Histogram
}

// New registers the ingestion collectors on reg.
func New(reg prometheus.Registerer) *Ingest {
	f := promauto.With(reg)
	return &Ingest{
		lines: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Trace log lines read, by classification.",
		}, []string{"kind"}),
		calls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Calls reconstructed and stored.",
		}),
		openCalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "open_calls_total",
			Help:      "Calls stored without a matching exit line.",
		}),
		rebuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuilds_total",
			Help:      "Stores rebuilt from their log, by reason.",
		}, []string{"reason"}),
		reuses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_reuses_total",
			Help:      "Stores found up to date and reused without parsing.",
		}),
		rebuildSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rebuild_seconds",
			Help:      "Time to parse a log and commit its store.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

// Rebuilt records a committed rebuild.
func (m *Ingest) Rebuilt(reason string, st calltree.Stats, took time.Duration) {
	if m == nil {
		return
	}
	m.lines.WithLabelValues("enter").Add(float64(st.Enters))
	m.lines.WithLabelValues("exit").Add(float64(st.Exits))
	m.lines.WithLabelValues("ignored").Add(float64(st.Ignored))
	m.calls.Add(float64(st.Enters))
	m.openCalls.Add(float64(st.Open))
	m.rebuilds.WithLabelValues(reason).Inc()
	m.rebuildSeconds.Observe(took.Seconds())
}

// StoreReused records a store opened without parsing its log.
func (m *Ingest) StoreReused() {
	if m == nil {
		return
	}
	m.reuses.Inc()
}
