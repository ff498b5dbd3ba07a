package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kittyledger/internal/infra/persistence/memory"
	"kittyledger/pkg/domain"
)

func insertOwned(tx domain.Transaction, owner domain.AccountID) (domain.EntityID, error) {
	id, err := tx.AllocateID()
	if err != nil {
		return 0, err
	}
	if err := tx.InsertKitty(domain.Kitty{ID: id}); err != nil {
		return 0, err
	}
	tx.SetOwner(id, owner)
	tx.AddToHoldings(owner, id)
	return id, nil
}

func expectIntegrityViolation(t *testing.T, err error, fragment string) {
	t.Helper()
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	for _, v := range violation.Result.Violations {
		if v.Rule == ledgerIntegrityRuleName && strings.Contains(v.Message, fragment) {
			return
		}
	}
	t.Fatalf("expected violation containing %q, got %+v", fragment, violation.Result.Violations)
}

func TestLedgerIntegrityAcceptsConsistentTransactions(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	res, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		a, _ := insertOwned(tx, 1)
		b, _ := insertOwned(tx, 1)
		c, err := insertOwned(tx, 1)
		if err != nil {
			return err
		}
		tx.RecordPartners(a, b)
		tx.RecordParents(c, a, b)
		tx.RecordChild(a, b, c)
		return tx.RecordSiblings(c)
	})
	if err != nil || len(res.Violations) != 0 {
		t.Fatalf("expected clean commit, got %v %+v", err, res)
	}
}

func TestLedgerIntegrityKittyWithoutOwner(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.InsertKitty(domain.Kitty{ID: 0})
	})
	expectIntegrityViolation(t, err, "has no owner")
	if store.KittiesCount() != 0 {
		t.Fatalf("blocked transaction must not commit")
	}
}

func TestLedgerIntegrityOwnerWithoutHoldings(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if err := tx.InsertKitty(domain.Kitty{ID: 0}); err != nil {
			return err
		}
		tx.SetOwner(0, 3)
		return nil
	})
	expectIntegrityViolation(t, err, "appears 0 times")
}

func TestLedgerIntegrityStaleHoldings(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := insertOwned(tx, 1)
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// transfer that forgets to remove the sender's entry
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		tx.SetOwner(0, 2)
		tx.AddToHoldings(2, 0)
		tx.AddToHoldings(1, 0)
		return nil
	})
	expectIntegrityViolation(t, err, "does not own")
}

func TestLedgerIntegrityLineage(t *testing.T) {
	cases := []struct {
		name     string
		father   domain.EntityID
		mother   domain.EntityID
		fragment string
	}{
		{"identical", 0, 0, "as both parents"},
		{"missing", 0, 50, "missing parent"},
		{"younger parent", 0, 2, "not allocated before"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.NewStore(NewDefaultRulesEngine())
			_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
				for i := 0; i < 3; i++ {
					if _, err := insertOwned(tx, 1); err != nil {
						return err
					}
				}
				tx.RecordParents(2, tc.father, tc.mother)
				return nil
			})
			expectIntegrityViolation(t, err, tc.fragment)
		})
	}
}

func TestLedgerIntegrityChildListedUnderWrongPair(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for i := 0; i < 3; i++ {
			if _, err := insertOwned(tx, 1); err != nil {
				return err
			}
		}
		tx.RecordParents(2, 0, 1)
		tx.RecordChild(1, 0, 2)
		return nil
	})
	expectIntegrityViolation(t, err, "records different parents")
}

func TestDefaultRulesEngineRegistersIntegrity(t *testing.T) {
	rules := NewDefaultRulesEngine().Rules()
	if len(rules) != 1 || rules[0].Name() != ledgerIntegrityRuleName {
		t.Fatalf("unexpected default rules %+v", rules)
	}
}

func TestImportRejectsInconsistentSnapshots(t *testing.T) {
	ctx := context.Background()
	owned := map[memory.EntityID]memory.AccountID{0: 1, 1: 1}
	cases := map[string]struct {
		snapshot memory.Snapshot
		fragment string
	}{
		"holdings mismatch": {
			snapshot: memory.Snapshot{
				Kitties:  []memory.Kitty{{ID: 0}, {ID: 1}},
				Owners:   owned,
				Holdings: map[memory.AccountID][]memory.EntityID{1: {0}, 2: {1}},
			},
			fragment: "does not own",
		},
		"owner of missing kitty": {
			snapshot: memory.Snapshot{
				Kitties:  []memory.Kitty{{ID: 0}},
				Owners:   owned,
				Holdings: map[memory.AccountID][]memory.EntityID{1: {0, 1}},
			},
			fragment: "missing kitty 1",
		},
		"parent after child": {
			snapshot: memory.Snapshot{
				Kitties:  []memory.Kitty{{ID: 0}, {ID: 1}},
				Owners:   owned,
				Holdings: map[memory.AccountID][]memory.EntityID{1: {0, 1}},
				Parents:  map[memory.EntityID]memory.ParentPair{0: {Father: 1, Mother: 0}},
			},
			fragment: "was not allocated before it",
		},
	}
	for name, tc := range cases {
		store := memory.NewStore(NewDefaultRulesEngine())
		err := store.Import(ctx, tc.snapshot)
		if !errors.Is(err, memory.ErrInvalidSnapshot) {
			t.Fatalf("%s: expected ErrInvalidSnapshot, got %v", name, err)
		}
		expectIntegrityViolation(t, err, tc.fragment)
		if store.KittiesCount() != 0 {
			t.Fatalf("%s: rejected import must leave the store empty", name)
		}
	}
}

func TestImportRejectsSparseArenaBeforeRules(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	err := store.Import(context.Background(), memory.Snapshot{
		Kitties:  []memory.Kitty{{ID: 0}, {ID: 2}},
		Owners:   map[memory.EntityID]memory.AccountID{0: 1, 2: 1},
		Holdings: map[memory.AccountID][]memory.EntityID{1: {0, 2}},
	})
	var violation domain.RuleViolationError
	if !errors.Is(err, memory.ErrInvalidSnapshot) || errors.As(err, &violation) {
		t.Fatalf("expected arena error without rule evaluation, got %v", err)
	}
}
