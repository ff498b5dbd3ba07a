// Package domain defines the core ledger entities, value types, and rule
// evaluation primitives used by kittyledger.
package domain

import (
	"encoding/hex"
	"fmt"
	"math"
)

// EntityType identifies the type of record stored in the ledger.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityKitty identifies a kitty record (genetic code registry entry).
	EntityKitty EntityType = "kitty"
	// EntityOwnership identifies an entry in the kitty -> owner map.
	EntityOwnership EntityType = "ownership"
	// EntityHoldings identifies an owner's holdings list.
	EntityHoldings EntityType = "holdings"
	// EntityParents identifies a parent-pair entry.
	EntityParents EntityType = "parents"
	// EntityChildren identifies a children-by-parent-pair list.
	EntityChildren EntityType = "children"
	// EntitySiblings identifies a sibling snapshot list.
	EntitySiblings EntityType = "siblings"
	// EntityPartners identifies a partner list.
	EntityPartners EntityType = "partners"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// EntityID is the dense, monotonically increasing kitty identifier.
type EntityID uint32

// MaxEntityID is the largest representable EntityID. It is never allocated:
// reaching it means the ID space is exhausted.
const MaxEntityID EntityID = math.MaxUint32

// String renders the identifier in decimal form.
func (id EntityID) String() string { return fmt.Sprintf("%d", uint32(id)) }

// AccountID identifies an external account. The ledger never creates accounts.
type AccountID uint64

// Balance is an amount of currency in its smallest unit.
type Balance uint64

// GeneticCodeSize is the fixed length of a genetic code in bytes.
const GeneticCodeSize = 16

// GeneticCode is the immutable 16-byte DNA carried by every kitty.
type GeneticCode [GeneticCodeSize]byte

// String returns the hex form of the code.
func (g GeneticCode) String() string { return hex.EncodeToString(g[:]) }

// MarshalText encodes the code as lowercase hex.
func (g GeneticCode) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(GeneticCodeSize))
	hex.Encode(out, g[:])
	return out, nil
}

// UnmarshalText decodes a hex encoded genetic code.
func (g *GeneticCode) UnmarshalText(text []byte) error {
	if hex.DecodedLen(len(text)) != GeneticCodeSize {
		return fmt.Errorf("genetic code must be %d hex bytes, got %d chars", GeneticCodeSize, len(text))
	}
	var decoded GeneticCode
	if _, err := hex.Decode(decoded[:], text); err != nil {
		return fmt.Errorf("decode genetic code: %w", err)
	}
	*g = decoded
	return nil
}

// Kitty is a registry entry: an identifier bound to its genetic code.
type Kitty struct {
	ID  EntityID    `json:"id"`
	DNA GeneticCode `json:"dna"`
}

// ParentPair is the ordered (father, mother) pair recorded for bred kitties.
// It also keys the children index.
type ParentPair struct {
	Father EntityID `json:"father"`
	Mother EntityID `json:"mother"`
}

// String renders the pair as "father:mother".
func (p ParentPair) String() string { return fmt.Sprintf("%d:%d", p.Father, p.Mother) }

// Ownership captures a single kitty -> owner assignment for change records.
type Ownership struct {
	ID    EntityID  `json:"id"`
	Owner AccountID `json:"owner"`
}

// Holdings captures an owner's list of held kitties for change records.
type Holdings struct {
	Owner AccountID  `json:"owner"`
	IDs   []EntityID `json:"ids"`
}

// Relation captures a genealogy list keyed by a single kitty (siblings, partners).
type Relation struct {
	ID      EntityID   `json:"id"`
	Members []EntityID `json:"members"`
}

// Lineage records a parent-pair assignment.
type Lineage struct {
	Child   EntityID   `json:"child"`
	Parents ParentPair `json:"parents"`
}

// Brood records the children list stored under a parent-pair key.
type Brood struct {
	Parents  ParentPair `json:"parents"`
	Children []EntityID `json:"children"`
}

// Change describes a mutation applied to an index during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate the mutations the append-only ledger supports.
const (
	// ActionCreate indicates an entry was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entry was overwritten or appended to.
	ActionUpdate Action = "update"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return fmt.Sprintf("transaction blocked by rules: %s: %s", v.Rule, v.Message)
		}
	}
	return "transaction blocked by rules"
}
