package core

import (
	"fmt"
	"strings"

	"kittyledger/internal/infra/persistence/memory"
	"kittyledger/internal/infra/persistence/postgres"
	"kittyledger/internal/infra/persistence/sqlite"
	"kittyledger/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// Durable reports whether d keeps ledger state across restarts.
func (d StorageDriver) Durable() bool {
	switch StorageDriver(strings.ToLower(string(d))) {
	case StorageSQLite, StoragePostgres:
		return true
	}
	return false
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver      StorageDriver `mapstructure:"driver"`
	SQLitePath  string        `mapstructure:"sqlite_path"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
}

// PersistentStore is a durable or in-memory ledger store that can also be
// closed, exported and restored.
type PersistentStore interface {
	domain.PersistentStore
	StateExporter
	StateImporter
	Close() error
}

type memoryStore struct{ *memory.Store }

func (memoryStore) Close() error { return nil }

// OpenPersistentStore selects a backend from cfg. Defaults to memory when
// the driver is unset.
func OpenPersistentStore(cfg StorageConfig, engine *domain.RulesEngine, opts ...memory.Option) (PersistentStore, error) {
	driver := StorageDriver(strings.ToLower(string(cfg.Driver)))
	if driver == "" {
		driver = StorageMemory
	}
	switch driver {
	case StorageMemory:
		return memoryStore{memory.NewStore(engine, opts...)}, nil
	case StorageSQLite:
		ss, err := sqlite.NewStore(cfg.SQLitePath, engine, opts...)
		if err != nil {
			return nil, err
		}
		return ss, nil
	case StoragePostgres:
		ps, err := postgres.NewStore(cfg.PostgresDSN, engine, opts...)
		if err != nil {
			return nil, err
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
