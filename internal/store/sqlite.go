package store

import (
	"context"
	"database/sql"
	_ "embed"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"tracedb/internal/calltree"
	"tracedb/internal/rollup"
)

//go:embed schema.sql
var schemaSQL string

const (
	insertCall = `INSERT INTO method_call (id, trace_id, method, input, outcome, time, parent_id) VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertBuildInfo = `INSERT INTO build_info (schema_version, stack_mode, log_path, built_at, lines, ignored, mismatched, open_calls)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectBuildInfo = `SELECT schema_version, stack_mode, log_path, lines, ignored, mismatched, open_calls,
(SELECT COUNT(*) FROM method_call) FROM build_info`

	selectAugmented = `SELECT id, trace_id, method, input, outcome, time, parent_id, own_time FROM augmented_method_call`
)

// summaryColumns maps every metric to its column in method_summary. Only these
// constants are ever placed in an ORDER BY clause.
var summaryColumns = map[rollup.Metric]string{
	rollup.TotalTime:    "total_time",
	rollup.TotalOwnTime: "total_own_time",
	rollup.CallCount:    "call_count",
}

// summaryQuery returns the ranked method_summary query for metric. SQLite sorts
// NULL lowest, so unknown totals come last in descending order.
func summaryQuery(metric rollup.Metric) (string, error) {
	col, ok := summaryColumns[metric]
	if !ok {
		return "", metric.Check()
	}
	return `SELECT method, total_time, total_own_time, call_count FROM method_summary ORDER BY ` +
		col + ` DESC, method ASC LIMIT ?`, nil
}

// schemaStatements splits the embedded DDL into single statements.
func schemaStatements() []string {
	var stmts []string
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// sqliteDSN builds a file: URI so that query parameters reach SQLite and special
// characters in path are escaped.
func sqliteDSN(path string, readOnly bool) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "resolving %s", path)
	}
	q := url.Values{}
	if readOnly {
		q.Set("mode", "ro")
	}
	q.Add("_pragma", "foreign_keys(1)")
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: q.Encode()}
	return u.String(), nil
}

func openSQLiteDB(path string, readOnly bool) (*sql.DB, error) {
	dsn, err := sqliteDSN(path, readOnly)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening sqlite database %s", path)
	}
	// One connection: the store is a single file used by a single process.
	db.SetMaxOpenConns(1)
	return db, nil
}

type sqliteBackend struct{}

func (sqliteBackend) kind() Backend { return SQLite }

func (sqliteBackend) open(ctx context.Context, path string, reused bool) (Store, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat store %s", path)
	}
	db, err := openSQLiteDB(path, true)
	if err != nil {
		return nil, err
	}
	s := &sqliteStore{db: db, info: Info{Backend: SQLite, Path: path, ModTime: fi.ModTime(), Reused: reused}}

	var version int
	row := db.QueryRowContext(ctx, selectBuildInfo)
	err = row.Scan(&version, &s.info.StackMode, &s.info.LogPath,
		&s.info.Stats.Lines, &s.info.Stats.Ignored, &s.info.Stats.Mismatched, &s.info.Stats.Open, &s.info.Calls)
	if err == nil && version != schemaVersion {
		err = errors.Newf("schema version %d, want %d", version, schemaVersion)
	}
	if err != nil {
		_ = db.Close()
		// Stores written by older tools have no build_info table at all.
		return nil, errors.Mark(errors.Wrapf(err, "reading build info of %s", path), errIncompatible)
	}
	return s, nil
}

// build writes tree into a temporary database in one transaction and renames it
// over path once committed.
func (sqliteBackend) build(ctx context.Context, path string, tree *calltree.Tree, meta buildMeta) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating temporary store")
	}
	tmp := f.Name()
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "creating temporary store")
	}
	defer func() {
		if err != nil {
			removeSQLiteFiles(tmp)
		}
	}()

	db, err := openSQLiteDB(tmp, false)
	if err != nil {
		return err
	}
	if err := populateSQLite(ctx, db, tree, meta); err != nil {
		_ = db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return errors.Wrap(err, "closing temporary store")
	}
	return errors.Wrap(os.Rename(tmp, path), "replacing store")
}

func populateSQLite(ctx context.Context, db *sql.DB, tree *calltree.Tree, meta buildMeta) error {
	for _, stmt := range schemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "creating schema: %s", firstLine(stmt))
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	ins, err := tx.PrepareContext(ctx, insertCall)
	if err != nil {
		return errors.Wrap(err, "preparing insert")
	}
	defer ins.Close()

	for i := range tree.Calls {
		c := &tree.Calls[i]
		parent := sql.NullInt64{Int64: int64(c.ParentID), Valid: c.ParentID != calltree.NoParent}
		if _, err := ins.ExecContext(ctx, int64(c.ID), c.TraceID, c.Method, c.Input,
			nullString(c.Outcome), nullInt64(c.Time), parent); err != nil {
			return errors.Wrapf(err, "inserting call %d", c.ID)
		}
	}

	st := meta.Stats
	if _, err := tx.ExecContext(ctx, insertBuildInfo, schemaVersion, meta.StackMode, meta.LogPath,
		meta.BuiltAt.UnixNano(), st.Lines, st.Ignored, st.Mismatched, st.Open); err != nil {
		return errors.Wrap(err, "recording build info")
	}
	return errors.Wrap(tx.Commit(), "committing calls")
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func removeSQLiteFiles(path string) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// sqliteStore answers queries through the views of schema.sql.
type sqliteStore struct {
	db   *sql.DB
	info Info
}

func (s *sqliteStore) Info() Info { return s.info }

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Call(ctx context.Context, id calltree.ID) (*rollup.AugmentedCall, error) {
	rows, err := s.db.QueryContext(ctx, selectAugmented+` WHERE id = ?`, int64(id))
	if err != nil {
		return nil, errors.Wrapf(err, "querying call %d", id)
	}
	calls, err := scanAugmented(rows)
	if err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, errors.Mark(errors.Newf("call %d not found", id), ErrCallNotFound)
	}
	return &calls[0], nil
}

func (s *sqliteStore) Children(ctx context.Context, parent calltree.ID) ([]rollup.AugmentedCall, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if parent == calltree.NoParent {
		rows, err = s.db.QueryContext(ctx, selectAugmented+` WHERE parent_id IS NULL ORDER BY id`)
	} else {
		rows, err = s.db.QueryContext(ctx, selectAugmented+` WHERE parent_id = ? ORDER BY id`, int64(parent))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "querying children of %d", parent)
	}
	return scanAugmented(rows)
}

func (s *sqliteStore) MethodSummary(ctx context.Context, metric rollup.Metric, limit int) ([]rollup.MethodSummary, error) {
	query, err := summaryQuery(metric)
	if err != nil {
		return nil, err
	}
	if err := rollup.CheckLimit(limit); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying method summary")
	}
	defer rows.Close()

	var out []rollup.MethodSummary
	for rows.Next() {
		var m rollup.MethodSummary
		if err := rows.Scan(&m.Method, &m.TotalTime, &m.TotalOwnTime, &m.CallCount); err != nil {
			return nil, errors.Wrap(err, "scanning method summary")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "reading method summary")
}

func scanAugmented(rows *sql.Rows) ([]rollup.AugmentedCall, error) {
	defer rows.Close()
	var out []rollup.AugmentedCall
	for rows.Next() {
		var (
			c      rollup.AugmentedCall
			id     int64
			parent sql.NullInt64
		)
		if err := rows.Scan(&id, &c.TraceID, &c.Method, &c.Input, &c.Outcome, &c.Time, &parent, &c.OwnTime); err != nil {
			return nil, errors.Wrap(err, "scanning call")
		}
		c.ID = calltree.ID(id)
		c.ParentID = calltree.ID(parent.Int64)
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "reading calls")
}
