// Package store persists reconstructed call trees next to the trace log they were
// built from and answers queries over them.
//
// A store is a cache of its log: Open reuses it while it is at least as new as the
// log and rebuilds it from the whole log otherwise. Rebuilds are atomic. The log is
// reconstructed in memory first, written to a temporary store, and only then renamed
// over the previous one, so a failed run never leaves a half written tree behind.
package store

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"tracedb/internal/calltree"
	"tracedb/internal/metrics"
	"tracedb/internal/rollup"
)

// schemaVersion is bumped whenever the persisted layout changes; stores built with
// another version are rebuilt.
const schemaVersion = 1

var (
	// ErrLogNotFound is returned when the trace log does not exist.
	ErrLogNotFound = errors.New("log file not found")
	// ErrCallNotFound is returned by Store.Call for unknown IDs.
	ErrCallNotFound = errors.New("call not found")
	// errIncompatible marks stores that exist but cannot be reused as they are.
	errIncompatible = errors.New("incompatible store")
)

// Backend selects the storage engine.
type Backend string

const (
	SQLite Backend = "sqlite"
	Pebble Backend = "pebble"
)

// ParseBackend validates a backend name.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(strings.ToLower(name)); b {
	case SQLite, Pebble:
		return b, nil
	}
	return "", errors.Mark(errors.Newf("unknown backend %q (want sqlite or pebble)", name), rollup.ErrInvalidArgument)
}

// PathFor returns where the store of logPath lives for backend b.
func PathFor(b Backend, logPath string) string {
	if b == Pebble {
		return logPath + ".pebble"
	}
	return logPath + ".db"
}

// Info describes an opened store.
type Info struct {
	Backend   Backend        `json:"backend"`
	Path      string         `json:"path"`
	LogPath   string         `json:"log_path"`
	StackMode string         `json:"stack_mode"`
	ModTime   time.Time      `json:"mod_time"`
	Calls     int64          `json:"calls"`
	Stats     calltree.Stats `json:"stats"`
	// Reused is true when Open found an up to date store and did not parse the log.
	Reused bool `json:"reused"`
}

// Store is a committed, read-only call tree.
type Store interface {
	Info() Info
	// Call returns one call with its own time.
	Call(ctx context.Context, id calltree.ID) (*rollup.AugmentedCall, error)
	// Children returns the direct children of parent in creation order, or the
	// top-level calls when parent is calltree.NoParent.
	Children(ctx context.Context, parent calltree.ID) ([]rollup.AugmentedCall, error)
	// MethodSummary returns at most limit method rollups, largest metric first.
	MethodSummary(ctx context.Context, metric rollup.Metric, limit int) ([]rollup.MethodSummary, error)
	Close() error
}

// Options control Open.
type Options struct {
	Backend Backend
	// Force rebuilds the store even if it is up to date.
	Force       bool
	Reconstruct calltree.Options
	Logger      *slog.Logger
	Metrics     *metrics.Ingest
}

func (o *Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// buildMeta is what a backend records about a rebuild.
type buildMeta struct {
	StackMode string
	LogPath   string
	BuiltAt   time.Time
	Stats     calltree.Stats
}

// backend is a storage engine. open must not modify the store on disk.
type backend interface {
	kind() Backend
	open(ctx context.Context, path string, reused bool) (Store, error)
	build(ctx context.Context, path string, tree *calltree.Tree, meta buildMeta) error
}

func backendFor(b Backend, logger *slog.Logger) (backend, error) {
	switch b {
	case SQLite, "":
		return sqliteBackend{}, nil
	case Pebble:
		return pebbleBackend{logger: logger}, nil
	}
	_, err := ParseBackend(string(b))
	return nil, err
}

// Open returns the store for logPath, rebuilding it first when it is missing,
// older than the log, built with another stack mode or schema, or when
// opts.Force is set.
func Open(ctx context.Context, logPath string, opts Options) (Store, error) {
	logger := opts.logger()
	logInfo, err := os.Stat(logPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.WithHint(
				errors.Mark(errors.Newf("log file %s not found", logPath), ErrLogNotFound),
				"run the engine with LOG_LEVEL=TRACE to produce a trace log, or point --logfile at one")
		}
		return nil, errors.Wrapf(err, "stat log file %s", logPath)
	}
	if logInfo.IsDir() {
		return nil, errors.Newf("log file %s is a directory", logPath)
	}

	be, err := backendFor(opts.Backend, logger)
	if err != nil {
		return nil, err
	}
	path := PathFor(be.kind(), logPath)
	logger.Info("log file", "path", logPath)
	logger.Info("db file", "path", path, "backend", be.kind())

	reason, err := checkExisting(ctx, be, path, logInfo, opts)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		st, err := be.open(ctx, path, true)
		if err != nil {
			return nil, err
		}
		opts.Metrics.StoreReused()
		logger.Debug("reusing up to date store", "calls", st.Info().Calls)
		return st, nil
	}

	if reason != "missing" {
		logger.Info("replacing "+reason+" db file", "path", path)
	}
	if err := rebuild(ctx, be, path, logPath, reason, opts); err != nil {
		return nil, err
	}
	return be.open(ctx, path, false)
}

// checkExisting decides whether the store at path can be reused. It returns the
// rebuild reason, or "" when the store is up to date.
func checkExisting(ctx context.Context, be backend, path string, logInfo fs.FileInfo, opts Options) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "missing", nil
		}
		return "", errors.Wrapf(err, "stat store %s", path)
	}
	if opts.Force {
		return "existing", nil
	}

	st, err := be.open(ctx, path, true)
	if err != nil {
		if errors.Is(err, errIncompatible) {
			opts.logger().Debug("store cannot be reused", "err", err)
			return "incompatible", nil
		}
		return "", err
	}
	info := st.Info()
	if err := st.Close(); err != nil {
		return "", errors.Wrapf(err, "closing store %s", path)
	}

	switch {
	case logInfo.ModTime().After(info.ModTime):
		return "obsolete", nil
	case info.StackMode != opts.Reconstruct.StackMode():
		return "incompatible", nil
	}
	return "", nil
}

func rebuild(ctx context.Context, be backend, path, logPath, reason string, opts Options) error {
	logger := opts.logger()
	start := time.Now()

	f, err := os.Open(logPath)
	if err != nil {
		return errors.Wrapf(err, "opening log file %s", logPath)
	}
	defer f.Close()

	logger.Info("populating db file")
	tree, err := calltree.Reconstruct(f, opts.Reconstruct)
	if err != nil {
		return errors.Wrapf(err, "reconstructing calls from %s", logPath)
	}
	if tree.Stats.Mismatched > 0 {
		logger.Debug("exit lines closed calls of another method", "count", tree.Stats.Mismatched)
	}

	meta := buildMeta{
		StackMode: opts.Reconstruct.StackMode(),
		LogPath:   logPath,
		BuiltAt:   time.Now(),
		Stats:     tree.Stats,
	}
	if err := be.build(ctx, path, tree, meta); err != nil {
		return errors.Wrapf(err, "building store %s", path)
	}

	opts.Metrics.Rebuilt(reason, tree.Stats, time.Since(start))
	logger.Info("records created", "count", len(tree.Calls), "open", tree.Stats.Open, "ignored_lines", tree.Stats.Ignored)
	return nil
}
