package domain

import "context"

// Transaction exposes the index operations a persistence implementation must
// support within an atomic scope. Every write is buffered in the transaction
// and discarded as a whole when the enclosing function returns an error.
type Transaction interface {
	Snapshot() TransactionView

	// Entity store.
	AllocateID() (EntityID, error)
	InsertKitty(Kitty) error
	FindKitty(id EntityID) (Kitty, bool)

	// Ownership index.
	SetOwner(id EntityID, owner AccountID)
	OwnerOf(id EntityID) (AccountID, bool)
	AddToHoldings(owner AccountID, id EntityID)
	RemoveFromHoldings(owner AccountID, id EntityID) bool

	// Genealogy graph.
	RecordParents(child, father, mother EntityID)
	RecordChild(father, mother, child EntityID)
	RecordSiblings(child EntityID) error
	RecordPartners(a, b EntityID)
}

// TransactionView provides read-only access to snapshot data for rules and
// queries.
type TransactionView interface {
	KittiesCount() EntityID
	ListKitties() []Kitty
	FindKitty(id EntityID) (Kitty, bool)
	OwnerOf(id EntityID) (AccountID, bool)
	Holdings(owner AccountID) []EntityID
	Parents(id EntityID) (ParentPair, bool)
	Children(pair ParentPair) []EntityID
	Siblings(id EntityID) []EntityID
	Partners(id EntityID) []EntityID
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
