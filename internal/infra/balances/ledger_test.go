package balances

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"

	"kittyledger/pkg/domain"
)

func TestReserveMovesFreeToReserved(t *testing.T) {
	l := NewLedger(map[domain.AccountID]domain.Balance{1: 5_000_000})
	if err := l.Reserve(context.Background(), 1, 5000); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	got := l.Account(1)
	if got.Free != 4_995_000 || got.Reserved != 5000 {
		t.Fatalf("unexpected balances %+v", got)
	}
	if got.Total() != 5_000_000 {
		t.Fatalf("total must be preserved, got %d", got.Total())
	}
}

func TestReserveRejectsInsufficientBalance(t *testing.T) {
	l := NewLedger(map[domain.AccountID]domain.Balance{1: 10})
	err := l.Reserve(context.Background(), 7, 5000)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := l.Reserve(context.Background(), 1, 11); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := l.Account(1); got.Free != 10 || got.Reserved != 0 {
		t.Fatalf("failed reserve must not change balances, got %+v", got)
	}
}

func TestUnreserve(t *testing.T) {
	l := NewLedger(map[domain.AccountID]domain.Balance{2: 100})
	_ = l.Reserve(context.Background(), 2, 60)
	if err := l.Unreserve(context.Background(), 2, 40); err != nil {
		t.Fatalf("unreserve: %v", err)
	}
	if got := l.Account(2); got.Free != 80 || got.Reserved != 20 {
		t.Fatalf("unexpected balances %+v", got)
	}
	if err := l.Unreserve(context.Background(), 2, 21); !errors.Is(err, ErrInsufficientReserve) {
		t.Fatalf("expected ErrInsufficientReserve, got %v", err)
	}
}

func TestDepositOverflow(t *testing.T) {
	l := NewLedger(map[domain.AccountID]domain.Balance{1: math.MaxUint64 - 1})
	if err := l.Deposit(1, 1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Deposit(1, 1); err == nil {
		t.Fatalf("expected overflow error")
	}
	if err := l.Deposit(3, 9); err != nil || l.Account(3).Free != 9 {
		t.Fatalf("deposit to new account failed: %v", err)
	}
	if got := l.Accounts(); !reflect.DeepEqual(got, []domain.AccountID{1, 3}) {
		t.Fatalf("unexpected accounts %v", got)
	}
}

func TestUnreserveKeepsConcurrentReservations(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(map[domain.AccountID]domain.Balance{1: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(refund bool) {
			defer wg.Done()
			if err := l.Reserve(ctx, 1, 10); err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if refund {
				if err := l.Unreserve(ctx, 1, 10); err != nil {
					t.Errorf("unreserve: %v", err)
				}
			}
		}(i%2 == 0)
	}
	wg.Wait()
	if got := l.Account(1); got.Free != 960 || got.Reserved != 40 {
		t.Fatalf("expected four reservations to survive, got %+v", got)
	}
}
