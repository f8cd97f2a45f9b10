package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracedb/internal/calltree"
	"tracedb/internal/cli"
	"tracedb/internal/config"
	"tracedb/internal/rollup"
	"tracedb/internal/store"
)

type server struct {
	st       store.Store
	logger   *slog.Logger
	reg      *prometheus.Registry
	summary  config.Summary
	requests *prometheus.CounterVec
}

func newServer(st store.Store, s *cli.Session) *server {
	return &server{
		st:      st,
		logger:  s.Logger,
		reg:     s.Registry,
		summary: s.Config.Summary,
		requests: promauto.With(s.Registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracedb",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by handler and status code.",
		}, []string{"handler", "code", "method"}),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, promhttp.InstrumentHandlerCounter(
			s.requests.MustCurryWith(prometheus.Labels{"handler": name}), h))
	}
	handle("/", "index", s.handleIndex)
	handle("/api/info", "info", s.handleInfo)
	handle("/api/summary", "summary", s.handleSummary)
	handle("/api/calls", "calls", s.handleChildren)
	handle("/api/call", "call", s.handleCall)
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	return mux
}

// ========== API Handlers ==========

func (s *server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.st.Info())
}

func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := s.summary.OrderBy
	if v := q.Get("metric"); v != "" {
		name = v
	}
	metric, err := rollup.ParseMetric(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit := s.summary.Limit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			s.writeError(w, errors.Mark(errors.Newf("limit %q is not a number", v), rollup.ErrInvalidArgument))
			return
		}
	}

	rows, err := s.st.MethodSummary(r.Context(), metric, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rows == nil {
		rows = []rollup.MethodSummary{}
	}
	writeJSON(w, rows)
}

func (s *server) handleChildren(w http.ResponseWriter, r *http.Request) {
	parent := calltree.NoParent
	if v := r.URL.Query().Get("parent"); v != "" {
		id, err := parseID(v)
		if err != nil {
			s.writeError(w, err)
			return
		}
		parent = id
	}

	children, err := s.st.Children(r.Context(), parent)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if children == nil {
		children = []rollup.AugmentedCall{}
	}
	writeJSON(w, children)
}

func (s *server) handleCall(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("id")
	if v == "" {
		http.Error(w, "id parameter required", http.StatusBadRequest)
		return
	}
	id, err := parseID(v)
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.st.Call(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, c)
}

// ========== Utilities ==========

func parseID(v string) (calltree.ID, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.Mark(errors.Newf("invalid call id %q", v), rollup.ErrInvalidArgument)
	}
	return calltree.ID(n), nil
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, rollup.ErrInvalidArgument):
		code = http.StatusBadRequest
	case errors.Is(err, store.ErrCallNotFound):
		code = http.StatusNotFound
	default:
		s.logger.Error("request failed", "err", err)
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
