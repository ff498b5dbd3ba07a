// Package postgres keeps the ledger state in a Postgres state table. The
// schema is managed by goose migrations embedded in the binary.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"kittyledger/internal/infra/persistence/memory"
	"kittyledger/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/pressly/goose/v3"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/kittyledger?sslmode=disable"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	sqlOpen = sql.Open
	migrate = runMigrations
	openMu  sync.Mutex
	gooseMu sync.Mutex
)

const upsertBucket = `INSERT INTO state(bucket, payload) VALUES($1, $2)
	ON CONFLICT(bucket) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`

// Store is a memory store whose committed state lives in Postgres.
type Store struct {
	*memory.Store
	db      *sql.DB
	mu      sync.Mutex
	journal memory.Journal
}

// NewStore connects to dsn (default local kittyledger database), applies the
// embedded migrations and hydrates the ledger from the state table.
func NewStore(dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	run := migrate
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine, opts...), db: db}
	if err := s.start(context.Background(), run); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) start(ctx context.Context, run func(context.Context, *sql.DB) error) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if err := run(ctx, s.db); err != nil {
		return err
	}
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
	if len(loaded) > 0 {
		if err := s.ImportState(ctx, snapshot); err != nil {
			return fmt.Errorf("hydrate: %w", err)
		}
		// JSONB normalizes payloads, so loaded bytes are not recorded in the
		// journal; the first commit rewrites every bucket once.
	}
	return nil
}

// RunInTransaction runs fn on the memory store and upserts the changed
// buckets in one Postgres transaction as part of the commit.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	return s.RunAndPersist(ctx, fn, s.flush)
}

// Import validates snapshot, writes it, then installs it.
func (s *Store) Import(ctx context.Context, snapshot memory.Snapshot) error {
	return s.ImportAndPersist(ctx, snapshot, s.flush)
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the database handle to tests.
func (s *Store) DB() *sql.DB { return s.db }

func runMigrations(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
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
		return fmt.Errorf("begin tx: %w", err)
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

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

// OverrideMigrate swaps the schema migration step for tests and returns a restore function.
func OverrideMigrate(fn func(ctx context.Context, db *sql.DB) error) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := migrate
	migrate = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		migrate = prev
	}
}
