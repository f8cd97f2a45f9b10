package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fortio.org/safecast"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/vmihailenco/msgpack/v5"

	"tracedb/internal/calltree"
	"tracedb/internal/rollup"
)

/*
Pebble layout:

- "c:<id>"          -> calltree.Call (msgpack)
- "p:<parent><id>"  -> empty; children index, parent 0 holds the top-level calls
- "m:build"         -> buildRecord (msgpack), written last

IDs are 8 byte big endian so keys sort in creation order.
*/
const (
	callPrefix  = "c:"
	childPrefix = "p:"
	buildKey    = "m:build"

	// batchLimit bounds the writes held in one batch while building.
	batchLimit = 1000
)

type buildRecord struct {
	Schema    int            `msgpack:"v"`
	StackMode string         `msgpack:"s"`
	LogPath   string         `msgpack:"l"`
	BuiltAt   int64          `msgpack:"b"`
	Calls     int64          `msgpack:"n"`
	Stats     calltree.Stats `msgpack:"st"`
}

func pebbleOptions(logger *slog.Logger, readOnly bool) *pebble.Options {
	levels := make([]pebble.LevelOptions, 7)
	for i := range levels {
		levels[i].Compression = pebble.ZstdCompression
	}
	return &pebble.Options{
		Levels:   levels,
		Logger:   pebbleLogger{logger: logger},
		ReadOnly: readOnly,
	}
}

type pebbleBackend struct {
	logger *slog.Logger
}

func (pebbleBackend) kind() Backend { return Pebble }

func (b pebbleBackend) open(ctx context.Context, path string, reused bool) (Store, error) {
	db, err := pebble.Open(path, pebbleOptions(b.logger, true))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "opening pebble store %s", path), errIncompatible)
	}

	var rec buildRecord
	if err := getRecord(db, []byte(buildKey), &rec); err != nil {
		_ = db.Close()
		return nil, errors.Mark(errors.Wrapf(err, "reading build info of %s", path), errIncompatible)
	}
	if rec.Schema != schemaVersion {
		_ = db.Close()
		return nil, errors.Mark(errors.Newf("store %s has schema version %d, want %d", path, rec.Schema, schemaVersion), errIncompatible)
	}

	return &pebbleStore{
		db: db,
		info: Info{
			Backend:   Pebble,
			Path:      path,
			LogPath:   rec.LogPath,
			StackMode: rec.StackMode,
			ModTime:   time.Unix(0, rec.BuiltAt),
			Calls:     rec.Calls,
			Stats:     rec.Stats,
			Reused:    reused,
		},
	}, nil
}

// build writes tree into a temporary pebble directory and moves it over path once
// every batch has been committed.
func (b pebbleBackend) build(ctx context.Context, path string, tree *calltree.Tree, meta buildMeta) (err error) {
	tmp, err := os.MkdirTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating temporary store")
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(tmp)
		}
	}()

	db, err := pebble.Open(tmp, pebbleOptions(b.logger, false))
	if err != nil {
		return errors.Wrap(err, "opening temporary store")
	}
	if err := writeTree(ctx, db, tree, meta); err != nil {
		_ = db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return errors.Wrap(err, "closing temporary store")
	}

	if err := os.RemoveAll(path); err != nil {
		return errors.Wrap(err, "removing previous store")
	}
	return errors.Wrap(os.Rename(tmp, path), "replacing store")
}

func writeTree(ctx context.Context, db *pebble.DB, tree *calltree.Tree, meta buildMeta) error {
	batch := db.NewBatch()
	pending := 0
	for i := range tree.Calls {
		c := &tree.Calls[i]
		callKey, err := idKey(callPrefix, c.ID)
		if err != nil {
			return err
		}
		childKey, err := idKey(childPrefix, c.ParentID, c.ID)
		if err != nil {
			return err
		}
		value, err := msgpack.Marshal(c)
		if err != nil {
			return errors.Wrapf(err, "encoding call %d", c.ID)
		}
		if err := batch.Set(callKey, value, nil); err != nil {
			return errors.Wrapf(err, "writing call %d", c.ID)
		}
		if err := batch.Set(childKey, nil, nil); err != nil {
			return errors.Wrapf(err, "indexing call %d", c.ID)
		}

		pending++
		if pending >= batchLimit {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := batch.Commit(pebble.NoSync); err != nil {
				return errors.Wrap(err, "committing calls")
			}
			batch = db.NewBatch()
			pending = 0
		}
	}

	value, err := msgpack.Marshal(&buildRecord{
		Schema:    schemaVersion,
		StackMode: meta.StackMode,
		LogPath:   meta.LogPath,
		BuiltAt:   meta.BuiltAt.UnixNano(),
		Calls:     int64(len(tree.Calls)),
		Stats:     meta.Stats,
	})
	if err != nil {
		return errors.Wrap(err, "encoding build info")
	}
	if err := batch.Set([]byte(buildKey), value, nil); err != nil {
		return errors.Wrap(err, "writing build info")
	}
	return errors.Wrap(batch.Commit(pebble.Sync), "committing calls")
}

func getRecord(db *pebble.DB, key []byte, v interface{}) error {
	val, closer, err := db.Get(key)
	if err != nil {
		return err
	}
	defer closer.Close()
	return msgpack.Unmarshal(val, v)
}

// idKey appends big endian ids to prefix.
func idKey(prefix string, ids ...calltree.ID) ([]byte, error) {
	key := make([]byte, len(prefix), len(prefix)+8*len(ids))
	copy(key, prefix)
	for _, id := range ids {
		u, err := safecast.Conv[uint64](int64(id))
		if err != nil {
			return nil, errors.Wrapf(err, "encoding call id %d", id)
		}
		key = binary.BigEndian.AppendUint64(key, u)
	}
	return key, nil
}

// keyID decodes the trailing id of a key built by idKey.
func keyID(key []byte) (calltree.ID, error) {
	if len(key) < 8 {
		return 0, errors.Newf("key %q too short", key)
	}
	id, err := safecast.Conv[int64](binary.BigEndian.Uint64(key[len(key)-8:]))
	return calltree.ID(id), err
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// pebbleStore aggregates in memory: the calls are loaded once on first use and
// never change afterwards.
type pebbleStore struct {
	db   *pebble.DB
	info Info

	once      sync.Once
	loadErr   error
	calls     []rollup.AugmentedCall
	summaries []rollup.MethodSummary
}

func (s *pebbleStore) Info() Info { return s.info }

func (s *pebbleStore) Close() error { return s.db.Close() }

func (s *pebbleStore) load() error {
	s.once.Do(func() {
		calls, err := s.readCalls()
		if err == nil {
			err = calltree.Validate(calls)
		}
		if err != nil {
			s.loadErr = errors.Wrapf(err, "loading calls from %s", s.info.Path)
			return
		}
		s.calls = rollup.Augment(calls)
		s.summaries = rollup.Summarize(s.calls)
	})
	return s.loadErr
}

func (s *pebbleStore) readCalls() ([]calltree.Call, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(callPrefix),
		UpperBound: prefixUpperBound([]byte(callPrefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	calls := make([]calltree.Call, 0, s.info.Calls)
	for iter.First(); iter.Valid(); iter.Next() {
		var c calltree.Call
		if err := msgpack.Unmarshal(iter.Value(), &c); err != nil {
			return nil, errors.Wrapf(err, "decoding %x", iter.Key())
		}
		calls = append(calls, c)
	}
	return calls, iter.Error()
}

func (s *pebbleStore) Call(ctx context.Context, id calltree.ID) (*rollup.AugmentedCall, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	if id < 1 || int(id) > len(s.calls) {
		return nil, errors.Mark(errors.Newf("call %d not found", id), ErrCallNotFound)
	}
	c := s.calls[id-1]
	return &c, nil
}

func (s *pebbleStore) Children(ctx context.Context, parent calltree.ID) ([]rollup.AugmentedCall, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	prefix, err := idKey(childPrefix, parent)
	if err != nil {
		return nil, err
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "iterating children of %d", parent)
	}
	defer iter.Close()

	var out []rollup.AugmentedCall
	for iter.First(); iter.Valid(); iter.Next() {
		id, err := keyID(iter.Key())
		if err != nil {
			return nil, err
		}
		if id < 1 || int(id) > len(s.calls) {
			return nil, errors.Mark(errors.Newf("children index references missing call %d", id), calltree.ErrTreeCorrupt)
		}
		out = append(out, s.calls[id-1])
	}
	return out, errors.Wrapf(iter.Error(), "iterating children of %d", parent)
}

func (s *pebbleStore) MethodSummary(ctx context.Context, metric rollup.Metric, limit int) ([]rollup.MethodSummary, error) {
	if err := metric.Check(); err != nil {
		return nil, err
	}
	if err := rollup.CheckLimit(limit); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return rollup.Rank(s.summaries, metric, limit)
}

// pebbleLogger sends pebble's own logging to the debug level.
type pebbleLogger struct {
	logger *slog.Logger
}

func (l pebbleLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "pebble")
}

func (l pebbleLogger) Errorf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "pebble")
}

func (l pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "pebble")
	os.Exit(1)
}
