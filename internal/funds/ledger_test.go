package funds

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"auction-ledger/internal/kv"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store := kv.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "funds-test")
	return NewLedger(store)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDepositLockUnlock(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	if err := l.Deposit(ctx, "alice", dec("100")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Lock(ctx, "alice", dec("60")); err != nil {
		t.Fatalf("lock: %v", err)
	}

	acct, err := l.Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !acct.Available.Equal(dec("40")) || !acct.Locked.Equal(dec("60")) {
		t.Fatalf("unexpected balances: available=%s locked=%s", acct.Available, acct.Locked)
	}

	if err := l.Lock(ctx, "alice", dec("50")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	if err := l.Unlock(ctx, "alice", dec("60")); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := l.Unlock(ctx, "alice", dec("1")); !errors.Is(err, ErrInsufficientEscrow) {
		t.Fatalf("expected ErrInsufficientEscrow, got %v", err)
	}
}

func TestTransferLockedWithFee(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t).WithFee(250, "treasury") // 2.5%

	if err := l.Deposit(ctx, "buyer", dec("200")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Lock(ctx, "buyer", dec("200")); err != nil {
		t.Fatalf("lock: %v", err)
	}

	fee, err := l.TransferLocked(ctx, "buyer", "seller", dec("200"))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !fee.Equal(dec("5")) {
		t.Fatalf("expected fee 5, got %s", fee)
	}

	seller, _ := l.Balance(ctx, "seller")
	if !seller.Available.Equal(dec("195")) {
		t.Fatalf("seller should receive 195, got %s", seller.Available)
	}
	sink, _ := l.Balance(ctx, "treasury")
	if !sink.Available.Equal(dec("5")) {
		t.Fatalf("treasury should receive 5, got %s", sink.Available)
	}
	buyer, _ := l.Balance(ctx, "buyer")
	if !buyer.Locked.Equal(decimal.Zero) {
		t.Fatalf("buyer escrow should be drained, got %s", buyer.Locked)
	}
}

func TestTransferLockedRequiresEscrow(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	if err := l.Deposit(ctx, "buyer", dec("50")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := l.TransferLocked(ctx, "buyer", "seller", dec("50")); !errors.Is(err, ErrInsufficientEscrow) {
		t.Fatalf("expected ErrInsufficientEscrow, got %v", err)
	}
}

func TestInvalidAmounts(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	if err := l.Deposit(ctx, "alice", decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := l.Lock(ctx, "alice", dec("-1")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
