// Package localstore is the device-local key-value store. It keeps the vote
// ledger, the spot cache and the voter identity in one sqlite file.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/mapthewalls/pkg/logger"
)

// SchemaVersion is stamped into meta after migrations run.
const SchemaVersion = 2

// DefaultQuota mirrors the few megabytes a browser grants local storage.
const DefaultQuota int64 = 5 << 20

const voterKey = "voter_id"

// migrations[i] upgrades the schema from version i to i+1.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`,
	`ALTER TABLE kv ADD COLUMN updated_at INTEGER NOT NULL DEFAULT 0`,
}

// KV is the read/write surface shared by the store and its transactions.
type KV interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Put stores value under key, subject to the quota.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a sqlite backed KV.
type Store struct {
	db    *sql.DB
	quota int64
	log   logger.Logger

	mu     sync.Mutex
	closed bool
}

var _ KV = (*Store)(nil)

// Open opens or creates the store at path and migrates it to SchemaVersion.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{quota: DefaultQuota, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// one connection serializes writers the way a single UI thread would
	db.SetMaxOpenConns(1)
	s.db = db

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create meta: %w", err)
	}
	version, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if version > SchemaVersion {
		return fmt.Errorf("%w: schema %d > %d", ErrNewerSchema, version, SchemaVersion)
	}
	for v := version; v < SchemaVersion; v++ {
		if _, err := s.db.ExecContext(ctx, migrations[v]); err != nil {
			return fmt.Errorf("migrate to %d: %w", v+1, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, v+1); err != nil {
			return fmt.Errorf("stamp schema %d: %w", v+1, err)
		}
		s.log.Debug(ctx, "local schema migrated", logger.Int("version", v+1))
	}
	return nil
}

// Version returns the stamped schema version.
func (s *Store) Version(ctx context.Context) (int, error) {
	return s.schemaVersion(ctx)
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'schema_version'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (s *Store) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.check(); err != nil {
		return nil, false, err
	}
	return get(ctx, s.db, key)
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Update(ctx, func(tx KV) error { return tx.Put(ctx, key, value) })
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.check(); err != nil {
		return err
	}
	return del(ctx, s.db, key)
}

// Update runs fn inside one transaction. Either every write fn makes lands
// or none does.
func (s *Store) Update(ctx context.Context, fn func(tx KV) error) error {
	if err := s.check(); err != nil {
		return err
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&tx{q: sqlTx, quota: s.quota}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// VoterID returns the device voter id, minting and persisting one on first
// use.
func (s *Store) VoterID(ctx context.Context) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`,
		voterKey, uuid.NewString()); err != nil {
		return "", fmt.Errorf("mint voter id: %w", err)
	}
	var id string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, voterKey).Scan(&id); err != nil {
		return "", fmt.Errorf("read voter id: %w", err)
	}
	return id, nil
}

// Usage returns the total size of stored values and the quota.
func (s *Store) Usage(ctx context.Context) (used, quota int64, err error) {
	if err := s.check(); err != nil {
		return 0, 0, err
	}
	used, err = usage(ctx, s.db, "")
	return used, s.quota, err
}

// Close releases the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type tx struct {
	q     queryer
	quota int64
}

func (t *tx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return get(ctx, t.q, key)
}

func (t *tx) Put(ctx context.Context, key string, value []byte) error {
	others, err := usage(ctx, t.q, key)
	if err != nil {
		return err
	}
	if others+int64(len(value)) > t.quota {
		return fmt.Errorf("%w: writing %q needs %d bytes, %d of %d in use",
			ErrQuotaExceeded, key, len(value), others, t.quota)
	}
	if _, err := t.q.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, strftime('%s', 'now'))
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, key string) error {
	return del(ctx, t.q, key)
}

func get(ctx context.Context, q queryer, key string) ([]byte, bool, error) {
	var v []byte
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return v, true, nil
}

func del(ctx context.Context, q queryer, key string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// usage sums value sizes, leaving out except.
func usage(ctx context.Context, q queryer, except string) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(length(value)), 0) FROM kv WHERE key <> ?`, except).Scan(&n); err != nil {
		return 0, fmt.Errorf("usage: %w", err)
	}
	return n, nil
}
