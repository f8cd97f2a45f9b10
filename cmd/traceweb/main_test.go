package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracedb/internal/cli"
	"tracedb/internal/config"
	"tracedb/internal/metrics"
	"tracedb/internal/rollup"
)

const exampleLog = `{traceId=t1} -> outer: in
{traceId=t1}. -> inner: in2
{traceId=t1}. <- 50ns inner: out2
{traceId=t1} <- 100ns outer: out
`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "trace.log")
	require.NoError(t, os.WriteFile(logPath, []byte(exampleLog), 0o644))

	reg := prometheus.NewRegistry()
	s := &cli.Session{
		Config:   config.Default(),
		Logger:   slog.New(slog.DiscardHandler),
		Registry: reg,
		Ingest:   metrics.New(reg),
	}
	st, err := s.OpenStore(context.Background(), logPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ts := httptest.NewServer(newServer(st, s).routes())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func getJSON(t *testing.T, ts *httptest.Server, path string, v any) {
	t.Helper()
	code, body := get(t, ts, path)
	require.Equal(t, http.StatusOK, code, string(body))
	require.NoError(t, json.Unmarshal(body, v))
}

func TestSummary(t *testing.T) {
	ts := newTestServer(t)

	var rows []rollup.MethodSummary
	getJSON(t, ts, "/api/summary?metric=total_own_time&limit=2", &rows)
	require.Len(t, rows, 2)
	assert.Equal(t, "inner", rows[0].Method)
	assert.Equal(t, int64(50), *rows[0].TotalOwnTime)
	assert.Equal(t, "outer", rows[1].Method)
	assert.Equal(t, int64(100), *rows[1].TotalTime)
	assert.Equal(t, int64(1), rows[1].CallCount)

	getJSON(t, ts, "/api/summary", &rows)
	assert.Len(t, rows, 2)

	for _, q := range []string{"?metric=latency", "?limit=abc", "?limit=0", "?limit=-3"} {
		code, _ := get(t, ts, "/api/summary"+q)
		assert.Equal(t, http.StatusBadRequest, code, q)
	}
}

func TestCalls(t *testing.T) {
	ts := newTestServer(t)

	var roots []rollup.AugmentedCall
	getJSON(t, ts, "/api/calls", &roots)
	require.Len(t, roots, 1)
	assert.Equal(t, "outer", roots[0].Method)
	assert.Equal(t, int64(50), *roots[0].OwnTime)

	var children []rollup.AugmentedCall
	getJSON(t, ts, "/api/calls?parent=1", &children)
	require.Len(t, children, 1)
	assert.Equal(t, "inner", children[0].Method)

	code, body := get(t, ts, "/api/calls?parent=2")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(body))

	code, _ = get(t, ts, "/api/calls?parent=x")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCall(t *testing.T) {
	ts := newTestServer(t)

	var c rollup.AugmentedCall
	getJSON(t, ts, "/api/call?id=2", &c)
	assert.Equal(t, "inner", c.Method)
	assert.Equal(t, "out2", *c.Outcome)

	code, _ := get(t, ts, "/api/call?id=9")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = get(t, ts, "/api/call")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestInfoIndexAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	var info struct {
		Backend   string `json:"backend"`
		Calls     int64  `json:"calls"`
		StackMode string `json:"stack_mode"`
	}
	getJSON(t, ts, "/api/info", &info)
	assert.Equal(t, "sqlite", info.Backend)
	assert.Equal(t, int64(2), info.Calls)
	assert.Equal(t, "shared", info.StackMode)

	code, body := get(t, ts, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "<title>Trace Calls</title>")
	code, _ = get(t, ts, "/nope")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = get(t, ts, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `tracedb_http_requests_total{code="200",handler="info",method="get"} 1`)
	assert.Contains(t, string(body), `tracedb_rebuilds_total{reason="missing"} 1`)
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, http.NotFoundHandler()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
