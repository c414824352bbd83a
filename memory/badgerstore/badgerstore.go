// Package badgerstore implements memory.Store on an embedded BadgerDB.
//
// Records are ordered by a persistent badger sequence, so append order
// survives restarts. Key segments are separated by a NUL byte so run ids and
// tool names may contain any printable character.
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/zero-day-ai/gauntlet/memory"
)

const (
	nsMutation = "stm"
	nsQuery    = "ltm-queries"
	nsBugID    = "ltm-bugs"
	nsBugOrder = "ltm-bugs-order"
	nsTool     = "ltm-func"

	sep = "\x00"

	// conflictRetries bounds retries of a transaction that lost a race.
	conflictRetries = 3
)

// Config holds configuration for a Badger-backed store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil disables them.
	Logger *slog.Logger
}

// Store implements memory.Store.
type Store struct {
	db     *badger.DB
	seq    *badger.Sequence
	closed atomic.Bool
}

var _ memory.Store = (*Store)(nil)

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens a Badger database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerstore: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger database: %v", memory.ErrStorageFailed, err)
	}

	seq, err := db.GetSequence([]byte("seq"+sep+"records"), 256)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: open sequence: %v", memory.ErrStorageFailed, err)
	}

	return &Store{db: db, seq: seq}, nil
}

// OpenInMemory opens a non-persistent store. Data is lost on Close.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

func (s *Store) ShortTerm() memory.ShortTermMemory { return s }
func (s *Store) LongTerm() memory.LongTermMemory   { return s }

// Ping reports whether the database is open.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() || s.db.IsClosed() {
		return memory.ErrClosed
	}
	return ctx.Err()
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	_ = s.seq.Release()
	return s.db.Close()
}

func (s *Store) AppendMutation(ctx context.Context, rec memory.MutationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.appendOrdered(ctx, prefix(nsMutation, rec.RunID), rec)
}

func (s *Store) Mutations(ctx context.Context, runID string, limit int) ([]memory.MutationRecord, error) {
	recs, err := scan[memory.MutationRecord](s, ctx, prefix(nsMutation, runID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.Before(recs[j].Timestamp)
	})
	return head(recs, memory.Limit(limit, memory.DefaultMutationLimit)), nil
}

func (s *Store) AppendQuery(ctx context.Context, rec memory.QueryRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.appendOrdered(ctx, prefix(nsQuery, rec.ToolName), rec)
}

func (s *Store) Queries(ctx context.Context, toolName string, limit int) ([]memory.QueryRecord, error) {
	recs, err := scan[memory.QueryRecord](s, ctx, prefix(nsQuery, toolName))
	if err != nil {
		return nil, err
	}
	reverse(recs)
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
	return head(recs, memory.Limit(limit, memory.DefaultQueryLimit)), nil
}

func (s *Store) AppendBug(ctx context.Context, rec memory.BugRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := s.Ping(ctx); err != nil {
		return err
	}
	data, err := memory.Encode(rec)
	if err != nil {
		return err
	}
	n, err := s.next()
	if err != nil {
		return err
	}

	idKey := []byte(prefix(nsBugID) + rec.BugID)
	orderKey := orderedKey(prefix(nsBugOrder), n)

	for attempt := 0; ; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			if _, err := txn.Get(idKey); err == nil {
				return fmt.Errorf("%w: bug %s", memory.ErrDuplicate, rec.BugID)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(idKey, data); err != nil {
				return err
			}
			return txn.Set(orderKey, []byte(rec.BugID))
		})
		if errors.Is(err, badger.ErrConflict) && attempt < conflictRetries {
			continue
		}
		break
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, memory.ErrDuplicate):
		return err
	default:
		return wrap("append bug", err)
	}
}

func (s *Store) SampleBugs(ctx context.Context, n int, sampler memory.Sampler) ([]memory.BugRecord, error) {
	all, err := s.allBugs(ctx)
	if err != nil {
		return nil, err
	}
	return memory.SampleSlice(all, n, sampler), nil
}

func (s *Store) Bugs(ctx context.Context, limit int) ([]memory.BugRecord, error) {
	all, err := s.allBugs(ctx)
	if err != nil {
		return nil, err
	}
	reverse(all)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	return head(all, memory.Limit(limit, len(all))), nil
}

func (s *Store) allBugs(ctx context.Context) ([]memory.BugRecord, error) {
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}

	var out []memory.BugRecord
	err := s.db.View(func(txn *badger.Txn) error {
		p := []byte(prefix(nsBugOrder))
		it := txn.NewIterator(badger.IteratorOptions{Prefix: p, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			item, err := txn.Get([]byte(prefix(nsBugID) + string(id)))
			if err != nil {
				return err
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec memory.BugRecord
			if err := memory.Decode(data, &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, memory.ErrStorageFailed) {
			return nil, err
		}
		return nil, wrap("read bugs", err)
	}
	return out, nil
}

func (s *Store) PutTool(ctx context.Context, d memory.ToolDescriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := s.Ping(ctx); err != nil {
		return err
	}
	data, err := memory.Encode(d)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefix(nsTool)+d.ToolName), data)
	})
	if err != nil {
		return wrap("put tool", err)
	}
	return nil
}

func (s *Store) Tools(ctx context.Context, limit int) ([]memory.ToolDescriptor, error) {
	// keys sort by tool name, so the scan is already ordered
	recs, err := scan[memory.ToolDescriptor](s, ctx, prefix(nsTool))
	if err != nil {
		return nil, err
	}
	return head(recs, memory.Limit(limit, memory.DefaultToolLimit)), nil
}

func (s *Store) next() (uint64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, wrap("next sequence", err)
	}
	return n, nil
}

func (s *Store) appendOrdered(ctx context.Context, p string, v any) error {
	if err := s.Ping(ctx); err != nil {
		return err
	}
	data, err := memory.Encode(v)
	if err != nil {
		return err
	}
	n, err := s.next()
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(orderedKey(p, n), data)
	})
	if err != nil {
		return wrap("append", err)
	}
	return nil
}

// scan decodes every value under p in key order.
func scan[T any](s *Store, ctx context.Context, p string) ([]T, error) {
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}

	var out []T
	err := s.db.View(func(txn *badger.Txn) error {
		pb := []byte(p)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: pb, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()

		for it.Seek(pb); it.ValidForPrefix(pb); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec T
			if err := memory.Decode(data, &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, memory.ErrStorageFailed) {
			return nil, err
		}
		return nil, wrap("scan", err)
	}
	return out, nil
}

func prefix(parts ...string) string {
	out := ""
	for _, p := range parts {
		out += p + sep
	}
	return out
}

// orderedKey appends n big-endian so byte order matches numeric order.
func orderedKey(p string, n uint64) []byte {
	key := make([]byte, len(p)+8)
	copy(key, p)
	binary.BigEndian.PutUint64(key[len(p):], n)
	return key
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", memory.ErrStorageFailed, op, err)
}

func head[T any](in []T, n int) []T {
	if len(in) > n {
		return in[:n]
	}
	return in
}

func reverse[T any](in []T) {
	for i, j := 0, len(in)-1; i < j; i, j = i+1, j-1 {
		in[i], in[j] = in[j], in[i]
	}
}
