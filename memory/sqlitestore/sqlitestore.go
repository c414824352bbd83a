// Package sqlitestore implements memory.Store on SQLite through the pure-Go
// modernc.org/sqlite driver.
//
// Each table keeps the full record as a JSON body next to the columns used
// for filtering and ordering. An autoincrement sequence column breaks
// timestamp ties in append order.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/zero-day-ai/gauntlet/memory"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Store implements memory.Store.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

var _ memory.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("sqlitestore: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", memory.ErrStorageFailed, err)
	}
	// one connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	if path != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: pragma %q: %v", memory.ErrStorageFailed, p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migration: %v", memory.ErrStorageFailed, err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS stm_mutations (
			seq     INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id  TEXT NOT NULL,
			ts      INTEGER NOT NULL,
			body    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_stm_run ON stm_mutations(run_id, ts, seq);

		CREATE TABLE IF NOT EXISTS ltm_queries (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			tool_name  TEXT NOT NULL,
			ts         INTEGER NOT NULL,
			body       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_ltm_queries_tool ON ltm_queries(tool_name, ts, seq);

		CREATE TABLE IF NOT EXISTS ltm_bugs (
			seq     INTEGER PRIMARY KEY AUTOINCREMENT,
			bug_id  TEXT NOT NULL UNIQUE,
			ts      INTEGER NOT NULL,
			body    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ltm_func (
			tool_name  TEXT PRIMARY KEY,
			body       TEXT NOT NULL
		);
	`)
	return err
}

func (s *Store) ShortTerm() memory.ShortTermMemory { return s }
func (s *Store) LongTerm() memory.LongTermMemory   { return s }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return memory.ErrClosed
	}
	if err := s.db.PingContext(ctx); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) AppendMutation(ctx context.Context, rec memory.MutationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.insert(ctx, `INSERT INTO stm_mutations (run_id, ts, body) VALUES (?, ?, ?)`,
		rec, rec.RunID, rec.Timestamp.UnixNano())
}

func (s *Store) Mutations(ctx context.Context, runID string, limit int) ([]memory.MutationRecord, error) {
	return query[memory.MutationRecord](s, ctx,
		`SELECT body FROM stm_mutations WHERE run_id = ? ORDER BY ts ASC, seq ASC LIMIT ?`,
		runID, memory.Limit(limit, memory.DefaultMutationLimit))
}

func (s *Store) AppendQuery(ctx context.Context, rec memory.QueryRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.insert(ctx, `INSERT INTO ltm_queries (tool_name, ts, body) VALUES (?, ?, ?)`,
		rec, rec.ToolName, rec.Timestamp.UnixNano())
}

func (s *Store) Queries(ctx context.Context, toolName string, limit int) ([]memory.QueryRecord, error) {
	return query[memory.QueryRecord](s, ctx,
		`SELECT body FROM ltm_queries WHERE tool_name = ? ORDER BY ts DESC, seq DESC LIMIT ?`,
		toolName, memory.Limit(limit, memory.DefaultQueryLimit))
}

func (s *Store) AppendBug(ctx context.Context, rec memory.BugRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if s.closed.Load() {
		return memory.ErrClosed
	}
	data, err := memory.Encode(rec)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO ltm_bugs (bug_id, ts, body) VALUES (?, ?, ?)`,
		rec.BugID, rec.Timestamp.UnixNano(), string(data))
	if err != nil {
		return wrap("append bug", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("append bug", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: bug %s", memory.ErrDuplicate, rec.BugID)
	}
	return nil
}

func (s *Store) SampleBugs(ctx context.Context, n int, sampler memory.Sampler) ([]memory.BugRecord, error) {
	all, err := query[memory.BugRecord](s, ctx, `SELECT body FROM ltm_bugs ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	return memory.SampleSlice(all, n, sampler), nil
}

func (s *Store) Bugs(ctx context.Context, limit int) ([]memory.BugRecord, error) {
	// LIMIT -1 is SQLite for "no limit"
	if limit <= 0 {
		limit = -1
	}
	return query[memory.BugRecord](s, ctx,
		`SELECT body FROM ltm_bugs ORDER BY ts DESC, seq DESC LIMIT ?`, limit)
}

func (s *Store) PutTool(ctx context.Context, d memory.ToolDescriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if s.closed.Load() {
		return memory.ErrClosed
	}
	data, err := memory.Encode(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ltm_func (tool_name, body) VALUES (?, ?)
		ON CONFLICT(tool_name) DO UPDATE SET body = excluded.body`,
		d.ToolName, string(data))
	if err != nil {
		return wrap("put tool", err)
	}
	return nil
}

func (s *Store) Tools(ctx context.Context, limit int) ([]memory.ToolDescriptor, error) {
	return query[memory.ToolDescriptor](s, ctx,
		`SELECT body FROM ltm_func ORDER BY tool_name LIMIT ?`,
		memory.Limit(limit, memory.DefaultToolLimit))
}

func (s *Store) insert(ctx context.Context, stmt string, rec any, key string, ts int64) error {
	if s.closed.Load() {
		return memory.ErrClosed
	}
	data, err := memory.Encode(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, stmt, key, ts, string(data)); err != nil {
		return wrap("insert", err)
	}
	return nil
}

func query[T any](s *Store, ctx context.Context, stmt string, args ...any) ([]T, error) {
	if s.closed.Load() {
		return nil, memory.ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, wrap("query", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, wrap("scan", err)
		}
		var rec T
		if err := memory.Decode([]byte(body), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("rows", err)
	}
	return out, nil
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", memory.ErrStorageFailed, op, err)
}
