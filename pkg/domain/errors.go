package domain

import (
	"errors"
	"fmt"
)

// Rejection errors surfaced by the ledger transitions. Every one of them is
// terminal for the current call; none are retried internally.
var (
	// ErrCountOverflow reports an exhausted EntityID space.
	ErrCountOverflow = errors.New("kitty count overflow")
	// ErrEntityNotFound reports a reference to a kitty that does not exist.
	ErrEntityNotFound = errors.New("kitty not found")
	// ErrNotOwner reports a caller acting on a kitty it does not own.
	ErrNotOwner = errors.New("caller is not the kitty owner")
	// ErrSelfTransfer reports a transfer whose recipient is the caller.
	ErrSelfTransfer = errors.New("cannot transfer to self")
	// ErrIdenticalParents reports a breed call with the same kitty on both sides.
	ErrIdenticalParents = errors.New("parents must be different kitties")
	// ErrInsufficientStake reports a failed stake reservation.
	ErrInsufficientStake = errors.New("insufficient balance to reserve stake")
	// ErrBadOrigin reports a call whose origin is not a signed account.
	ErrBadOrigin = errors.New("bad origin")
)

// ErrNotFound is returned when a store lookup fails within transactional helpers.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is lets errors.Is(err, ErrEntityNotFound) match missing kitty lookups.
func (e ErrNotFound) Is(target error) bool {
	return target == ErrEntityNotFound && e.Entity == EntityKitty
}
