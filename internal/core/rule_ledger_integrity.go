package core

import (
	"context"
	"fmt"

	"kittyledger/pkg/domain"
)

const ledgerIntegrityRuleName = "ledger_integrity"

// LedgerIntegrityRule enforces ownership and genealogy consistency on every
// entry touched by a transaction.
func LedgerIntegrityRule() domain.Rule {
	return ledgerIntegrityRule{}
}

type ledgerIntegrityRule struct{}

func (ledgerIntegrityRule) Name() string { return ledgerIntegrityRuleName }

func (ledgerIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	checkedOwnership := make(map[domain.EntityID]struct{})

	checkOwned := func(id domain.EntityID) {
		if _, done := checkedOwnership[id]; done {
			return
		}
		checkedOwnership[id] = struct{}{}
		if _, ok := view.FindKitty(id); !ok {
			res.Violations = append(res.Violations, integrityViolation(domain.EntityOwnership, id.String(), fmt.Sprintf("owner recorded for missing kitty %d", id)))
			return
		}
		owner, ok := view.OwnerOf(id)
		if !ok {
			res.Violations = append(res.Violations, integrityViolation(domain.EntityKitty, id.String(), fmt.Sprintf("kitty %d has no owner", id)))
			return
		}
		if count := countID(view.Holdings(owner), id); count != 1 {
			res.Violations = append(res.Violations, integrityViolation(domain.EntityOwnership, id.String(), fmt.Sprintf("kitty %d appears %d times in holdings of owner %d", id, count, owner)))
		}
	}

	for _, change := range changes {
		if change.After == nil {
			continue
		}
		switch after := change.After.(type) {
		case domain.Kitty:
			checkOwned(after.ID)
		case domain.Ownership:
			checkOwned(after.ID)
		case domain.Holdings:
			for _, id := range after.IDs {
				if owner, ok := view.OwnerOf(id); !ok || owner != after.Owner {
					res.Violations = append(res.Violations, integrityViolation(domain.EntityHoldings, fmt.Sprintf("%d", after.Owner), fmt.Sprintf("holdings of owner %d list kitty %d it does not own", after.Owner, id)))
				}
			}
		case domain.Lineage:
			evaluateLineage(&res, view, after)
		case domain.Brood:
			for _, child := range after.Children {
				if pair, ok := view.Parents(child); !ok || pair != after.Parents {
					res.Violations = append(res.Violations, integrityViolation(domain.EntityChildren, after.Parents.String(), fmt.Sprintf("child %d listed under %s records different parents", child, after.Parents)))
				}
			}
		}
	}
	return res, nil
}

func evaluateLineage(res *domain.Result, view domain.RuleView, lineage domain.Lineage) {
	child, pair := lineage.Child, lineage.Parents
	if pair.Father == pair.Mother {
		res.Violations = append(res.Violations, integrityViolation(domain.EntityParents, child.String(), fmt.Sprintf("kitty %d lists %d as both parents", child, pair.Father)))
		return
	}
	for _, parent := range []domain.EntityID{pair.Father, pair.Mother} {
		if _, ok := view.FindKitty(parent); !ok {
			res.Violations = append(res.Violations, integrityViolation(domain.EntityParents, child.String(), fmt.Sprintf("kitty %d references missing parent %d", child, parent)))
			continue
		}
		if parent >= child {
			res.Violations = append(res.Violations, integrityViolation(domain.EntityParents, child.String(), fmt.Sprintf("kitty %d parent %d was not allocated before it", child, parent)))
		}
	}
}

func integrityViolation(entity domain.EntityType, entityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     ledgerIntegrityRuleName,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   entity,
		EntityID: entityID,
	}
}

func countID(ids []domain.EntityID, id domain.EntityID) int {
	n := 0
	for _, existing := range ids {
		if existing == id {
			n++
		}
	}
	return n
}
