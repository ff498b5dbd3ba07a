package core

import (
	"context"
	"errors"
	"fmt"

	"kittyledger/pkg/domain"
)

// StakeGate reserves the fixed stake taken by Create and Breed. It never
// releases the stake of a committed transition.
type StakeGate struct {
	currency domain.Currency
	amount   domain.Balance
}

// NewStakeGate binds the gate to a currency and a fixed amount.
func NewStakeGate(currency domain.Currency, amount domain.Balance) StakeGate {
	return StakeGate{currency: currency, amount: amount}
}

// Amount returns the reservation size.
func (g StakeGate) Amount() domain.Balance { return g.amount }

// Reserve takes the stake from account. Any currency failure is reported as
// ErrInsufficientStake with the cause attached.
func (g StakeGate) Reserve(ctx context.Context, account domain.AccountID) error {
	if g.currency == nil {
		return fmt.Errorf("%w: no currency configured", domain.ErrInsufficientStake)
	}
	if err := g.currency.Reserve(ctx, account, g.amount); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInsufficientStake, err)
	}
	return nil
}

// stakeHold tracks the reservations one transition took so that a failed
// transition hands back exactly those and nothing else.
type stakeHold struct {
	gate  StakeGate
	taken []domain.AccountID
}

func (g StakeGate) hold() *stakeHold { return &stakeHold{gate: g} }

// Reserve reserves through the gate and remembers the account on success.
func (h *stakeHold) Reserve(ctx context.Context, account domain.AccountID) error {
	if err := h.gate.Reserve(ctx, account); err != nil {
		return err
	}
	h.taken = append(h.taken, account)
	return nil
}

// release unreserves every stake taken through h. A currency that cannot
// unreserve keeps them.
func (h *stakeHold) release(ctx context.Context) error {
	taken := h.taken
	h.taken = nil
	u, ok := h.gate.currency.(domain.Unreserver)
	if !ok {
		return nil
	}
	var errs []error
	for _, account := range taken {
		if err := u.Unreserve(ctx, account, h.gate.amount); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
