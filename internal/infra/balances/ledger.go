// Package balances implements an in-memory reservable currency for the
// ledger's stake gate.
package balances

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"kittyledger/pkg/domain"
)

var (
	_ domain.Currency   = (*Ledger)(nil)
	_ domain.Unreserver = (*Ledger)(nil)
)

// ErrInsufficientBalance is returned when an account's free balance cannot
// cover a reservation.
var ErrInsufficientBalance = errors.New("insufficient free balance")

// ErrInsufficientReserve is returned when unreserving more than is held.
var ErrInsufficientReserve = errors.New("insufficient reserved balance")

// Account is the free and reserved balance held by one account.
type Account struct {
	Free     domain.Balance `json:"free"`
	Reserved domain.Balance `json:"reserved"`
}

// Total returns free plus reserved, saturating at the maximum balance.
func (a Account) Total() domain.Balance {
	if a.Free > math.MaxUint64-a.Reserved {
		return math.MaxUint64
	}
	return a.Free + a.Reserved
}

// Ledger tracks balances per account. It is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	accounts map[domain.AccountID]Account
}

// NewLedger returns a ledger seeded with the genesis free balances.
func NewLedger(genesis map[domain.AccountID]domain.Balance) *Ledger {
	l := &Ledger{accounts: make(map[domain.AccountID]Account, len(genesis))}
	for id, free := range genesis {
		l.accounts[id] = Account{Free: free}
	}
	return l
}

// Deposit credits free balance to account.
func (l *Ledger) Deposit(account domain.AccountID, amount domain.Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[account]
	if acct.Free > math.MaxUint64-amount {
		return fmt.Errorf("deposit %d to %d: balance overflow", amount, account)
	}
	acct.Free += amount
	l.accounts[account] = acct
	return nil
}

// Reserve moves amount from free to reserved balance.
func (l *Ledger) Reserve(_ context.Context, account domain.AccountID, amount domain.Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[account]
	if acct.Free < amount {
		return fmt.Errorf("reserve %d from %d (free %d): %w", amount, account, acct.Free, ErrInsufficientBalance)
	}
	acct.Free -= amount
	acct.Reserved += amount
	l.accounts[account] = acct
	return nil
}

// Unreserve moves amount from reserved back to free balance.
func (l *Ledger) Unreserve(_ context.Context, account domain.AccountID, amount domain.Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.accounts[account]
	if acct.Reserved < amount {
		return fmt.Errorf("unreserve %d from %d (reserved %d): %w", amount, account, acct.Reserved, ErrInsufficientReserve)
	}
	acct.Reserved -= amount
	acct.Free += amount
	l.accounts[account] = acct
	return nil
}

// Account returns the balances of account; unknown accounts are zero.
func (l *Ledger) Account(account domain.AccountID) Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[account]
}

// Accounts returns the known account IDs in ascending order.
func (l *Ledger) Accounts() []domain.AccountID {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]domain.AccountID, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
