// Package sqlite keeps the ledger in a single SQLite file. Transactions run
// against the embedded memory store; the buckets a transaction changed are
// upserted into the state table before the new state is installed, so a
// failed write leaves both copies at the previous state.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"kittyledger/internal/infra/persistence/memory"
	"kittyledger/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "kittyledger.db"

var schema = []string{
	`PRAGMA journal_mode=WAL`,
	`PRAGMA busy_timeout=5000`,
	`CREATE TABLE IF NOT EXISTS state (
		bucket  TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

const upsertBucket = `INSERT INTO state(bucket, payload) VALUES(?, ?)
	ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload, updated_at = CURRENT_TIMESTAMP`

// Store is a memory store whose committed state survives restarts.
type Store struct {
	*memory.Store
	db      *sql.DB
	path    string
	mu      sync.Mutex
	journal memory.Journal
}

// NewStore opens (or creates) the database at path and hydrates the ledger
// from it. An empty path means kittyledger.db in the working directory.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; WAL lets readers proceed.
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prepare schema: %w", err)
		}
	}
	s := &Store{Store: memory.NewStore(engine, opts...), db: db, path: path}
	if err := s.hydrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) hydrate(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	loaded := make(map[string][]byte)
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		ok, err := snapshot.DecodeBucket(bucket, payload)
		if err != nil {
			return err
		}
		if ok {
			loaded[bucket] = payload
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if len(loaded) == 0 {
		return nil
	}
	if err := s.ImportState(ctx, snapshot); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	names := make([]string, 0, len(loaded))
	for name := range loaded {
		names = append(names, name)
	}
	s.journal.Record(loaded, names...)
	return nil
}

// RunInTransaction runs fn on the memory store and writes the changed
// buckets to SQLite as part of the commit.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	return s.RunAndPersist(ctx, fn, s.flush)
}

// Import validates snapshot, writes it, then installs it.
func (s *Store) Import(ctx context.Context, snapshot memory.Snapshot) error {
	return s.ImportAndPersist(ctx, snapshot, s.flush)
}

// flush writes the buckets of next that differ from the last write. It runs
// under the memory store's commit lock, before next is installed.
func (s *Store) flush(ctx context.Context, next memory.Snapshot) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := next.EncodeBuckets()
	if err != nil {
		return err
	}
	dirty := s.journal.Dirty(encoded)
	if len(dirty) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range dirty {
		if _, err = tx.ExecContext(ctx, upsertBucket, bucket, encoded[bucket]); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.journal.Record(encoded, dirty...)
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the database handle to tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }
