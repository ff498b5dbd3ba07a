package integration

import (
	"context"
	"database/sql"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"kittyledger/internal/core"
	"kittyledger/internal/infra/archive"
	archivecore "kittyledger/internal/infra/archive/core"
	archivefs "kittyledger/internal/infra/archive/fs"
	archivememory "kittyledger/internal/infra/archive/memory"
	"kittyledger/internal/infra/archive/s3"
	"kittyledger/internal/infra/balances"
	"kittyledger/internal/infra/events"
	"kittyledger/internal/infra/persistence/postgres"
	"kittyledger/internal/infra/persistence/postgres/testutil"
	"kittyledger/internal/infra/randomness"
	"kittyledger/pkg/domain"
)

func genesis() map[domain.AccountID]domain.Balance {
	return map[domain.AccountID]domain.Balance{
		1: 5_000_000,
		2: 51_000_000,
		3: 5_200_000,
		4: 53_000_000,
		5: 54_000_000,
	}
}

type storeVariant struct {
	name string
	open func(t *testing.T) core.PersistentStore
}

func storeVariants() []storeVariant {
	return []storeVariant{
		{
			name: "memory",
			open: func(t *testing.T) core.PersistentStore {
				s, err := core.OpenPersistentStore(core.StorageConfig{Driver: core.StorageMemory}, core.NewDefaultRulesEngine())
				if err != nil {
					t.Fatalf("open memory store: %v", err)
				}
				return s
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) core.PersistentStore {
				path := filepath.Join(t.TempDir(), "ledger.db")
				s, err := core.OpenPersistentStore(core.StorageConfig{Driver: core.StorageSQLite, SQLitePath: path}, core.NewDefaultRulesEngine())
				if err != nil {
					t.Fatalf("open sqlite store: %v", err)
				}
				return s
			},
		},
		{
			name: "postgres-stub",
			open: func(t *testing.T) core.PersistentStore {
				db, _ := testutil.NewStubDB()
				restoreOpen := postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
				t.Cleanup(restoreOpen)
				restoreMigrate := postgres.OverrideMigrate(func(context.Context, *sql.DB) error { return nil })
				t.Cleanup(restoreMigrate)
				s, err := core.OpenPersistentStore(core.StorageConfig{Driver: core.StoragePostgres}, core.NewDefaultRulesEngine())
				if err != nil {
					t.Fatalf("open postgres store: %v", err)
				}
				return s
			},
		},
	}
}

type archiveVariant struct {
	name string
	open func(t *testing.T) archivecore.Store
}

func archiveVariants() []archiveVariant {
	return []archiveVariant{
		{name: "memory", open: func(*testing.T) archivecore.Store { return archivememory.New() }},
		{name: "fs", open: func(t *testing.T) archivecore.Store {
			s, err := archivefs.New(t.TempDir())
			if err != nil {
				t.Fatalf("open fs archive: %v", err)
			}
			return s
		}},
		{name: "s3-mock", open: func(*testing.T) archivecore.Store { return s3.NewMockForTests(2) }},
	}
}

// TestLedgerSmoke runs the walkthrough scenario against every backend, then
// archives the result and restores it into a fresh store of the same kind.
func TestLedgerSmoke(t *testing.T) {
	ctx := context.Background()
	for _, sv := range storeVariants() {
		for _, av := range archiveVariants() {
			t.Run(sv.name+"/"+av.name, func(t *testing.T) {
				store := sv.open(t)
				t.Cleanup(func() { _ = store.Close() })
				recorder := events.NewRecorder()
				chain := randomness.NewCollective([]byte("smoke"), 0)
				ledger := balances.NewLedger(genesis())
				svc := core.NewService(store, ledger, core.WithEventSink(recorder), core.WithRandomness(chain))

				if _, err := svc.Create(ctx, domain.Signed(7)); err == nil {
					t.Fatalf("expected insufficient stake for account 7")
				}
				for want := domain.EntityID(0); want < 2; want++ {
					chain.Advance()
					id, err := svc.Create(ctx, domain.Signed(1))
					if err != nil || id != want {
						t.Fatalf("create: got %d %v, want %d", id, err, want)
					}
				}
				child, err := svc.Breed(ctx, domain.Signed(1), 0, 1)
				if err != nil || child != 2 {
					t.Fatalf("breed: got %d %v", child, err)
				}
				if err := svc.Transfer(ctx, domain.Signed(1), 2, 0); err != nil {
					t.Fatalf("transfer: %v", err)
				}

				want := []domain.Event{
					domain.Created(1, 0),
					domain.Created(1, 1),
					domain.Bred(1, 0, 1, 2),
					domain.Transferred(1, 2, 0),
				}
				if got := recorder.Events(); !reflect.DeepEqual(got, want) {
					t.Fatalf("events mismatch:\n got %v\nwant %v", got, want)
				}
				if r := ledger.Account(1).Reserved; r != 3*core.DefaultStakeAmount {
					t.Fatalf("expected three reservations, got %d", r)
				}

				arch := archive.New(av.open(t), func() time.Time { return time.Unix(1_700_000_000, 0) })
				key, err := svc.ArchiveSnapshot(ctx, arch)
				if err != nil {
					t.Fatalf("archive: %v", err)
				}

				fresh := sv.open(t)
				t.Cleanup(func() { _ = fresh.Close() })
				restoredSvc := core.NewService(fresh, balances.NewLedger(genesis()))
				if _, err := restoredSvc.RestoreSnapshot(ctx, arch, key); err != nil {
					t.Fatalf("restore: %v", err)
				}
				if !reflect.DeepEqual(fresh.ExportState(), store.ExportState()) {
					t.Fatalf("restored state differs")
				}
				if owner, err := restoredSvc.OwnerOf(ctx, 0); err != nil || owner != 2 {
					t.Fatalf("restored owner: %d %v", owner, err)
				}
				if id, err := restoredSvc.Create(ctx, domain.Signed(3)); err != nil || id != 3 {
					t.Fatalf("create after restore: %d %v", id, err)
				}
			})
		}
	}
}
