package bids

import (
	"context"
	"errors"
	"fmt"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"auction-ledger/internal/funds"
	"auction-ledger/internal/kv"
)

func newTestLedger(t *testing.T) (*Ledger, *funds.Ledger) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store := kv.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "bids-test")
	currency := funds.NewLedger(store)
	return NewLedger(store, currency), currency
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRecordBidReplacesEscrow(t *testing.T) {
	ctx := context.Background()
	ledger, currency := newTestLedger(t)

	if err := currency.Deposit(ctx, "alice", dec("300")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := ledger.RecordBid(ctx, 1, "alice", dec("100")); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if err := ledger.RecordBid(ctx, 1, "alice", dec("150")); err != nil {
		t.Fatalf("raise: %v", err)
	}

	// Replacement, not additive: only the latest amount stays locked.
	acct, err := currency.Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !acct.Locked.Equal(dec("150")) {
		t.Fatalf("expected 150 locked, got %s", acct.Locked)
	}
	if !acct.Available.Equal(dec("150")) {
		t.Fatalf("expected 150 available, got %s", acct.Available)
	}

	amount, err := ledger.Amount(ctx, 1, "alice")
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	if !amount.Equal(dec("150")) {
		t.Fatalf("expected recorded bid 150, got %s", amount)
	}

	participants, err := ledger.Participants(ctx, 1)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(participants) != 1 || participants[0] != "alice" {
		t.Fatalf("raising your own bid must not duplicate the participant entry: %v", participants)
	}
}

func TestRecordBidFailedLockKeepsPriorEscrow(t *testing.T) {
	ctx := context.Background()
	ledger, currency := newTestLedger(t)

	if err := currency.Deposit(ctx, "alice", dec("100")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := ledger.RecordBid(ctx, 1, "alice", dec("100")); err != nil {
		t.Fatalf("first bid: %v", err)
	}

	// Nothing left in available, so the raise cannot be escrowed.
	err := ledger.RecordBid(ctx, 1, "alice", dec("120"))
	if !errors.Is(err, funds.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	amount, err := ledger.Amount(ctx, 1, "alice")
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	if !amount.Equal(dec("100")) {
		t.Fatalf("prior bid must survive a failed raise, got %s", amount)
	}
}

func TestParticipantsKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	ledger, currency := newTestLedger(t)

	bidders := []string{"carol", "alice", "bob"}
	price := dec("100")
	for _, b := range bidders {
		if err := currency.Deposit(ctx, b, dec("500")); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		if err := ledger.RecordBid(ctx, 1, b, price); err != nil {
			t.Fatalf("bid by %s: %v", b, err)
		}
		price = price.Add(dec("10"))
	}

	participants, err := ledger.Participants(ctx, 1)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	for i, want := range bidders {
		if participants[i] != want {
			t.Fatalf("expected %v, got %v", bidders, participants)
		}
	}
}

// droppingCurrency fails a fixed number of unlocks before recovering.
type droppingCurrency struct {
	Currency
	failures int
}

func (d *droppingCurrency) Unlock(ctx context.Context, principal string, amount decimal.Decimal) error {
	if d.failures > 0 {
		d.failures--
		return fmt.Errorf("unlock %s: collaborator unavailable", principal)
	}
	return d.Currency.Unlock(ctx, principal, amount)
}

func TestRecordBidFailedPriorReleaseBacksOutNewEscrow(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store := kv.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "bids-test")
	currency := funds.NewLedger(store)
	drop := &droppingCurrency{Currency: currency}
	ledger := NewLedger(store, drop)

	if err := currency.Deposit(ctx, "alice", dec("300")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := ledger.RecordBid(ctx, 1, "alice", dec("100")); err != nil {
		t.Fatalf("first bid: %v", err)
	}

	// The raise locks 150, then fails to release the prior 100. The new
	// escrow must be backed out so alice is not double-locked.
	drop.failures = 1
	if err := ledger.RecordBid(ctx, 1, "alice", dec("150")); err == nil {
		t.Fatal("expected failure when prior escrow cannot be released")
	}

	acct, err := currency.Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !acct.Locked.Equal(dec("100")) || !acct.Available.Equal(dec("200")) {
		t.Fatalf("failed raise must leave only the prior escrow locked: %+v", acct)
	}
	amount, err := ledger.Amount(ctx, 1, "alice")
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	if !amount.Equal(dec("100")) {
		t.Fatalf("stored bid must stay at the prior amount, got %s", amount)
	}

	// With the collaborator healthy again the same raise goes through.
	if err := ledger.RecordBid(ctx, 1, "alice", dec("150")); err != nil {
		t.Fatalf("retried raise: %v", err)
	}
	acct, _ = currency.Balance(ctx, "alice")
	if !acct.Locked.Equal(dec("150")) || !acct.Available.Equal(dec("150")) {
		t.Fatalf("retried raise balances: %+v", acct)
	}
}

// failingCurrency rejects unlocks for one principal to exercise the
// continue-past-failure path of ReleaseAllExcept.
type failingCurrency struct {
	Currency
	failFor string
}

func (f *failingCurrency) Unlock(ctx context.Context, principal string, amount decimal.Decimal) error {
	if principal == f.failFor {
		return fmt.Errorf("unlock %s: collaborator unavailable", principal)
	}
	return f.Currency.Unlock(ctx, principal, amount)
}

func TestReleaseAllExceptContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store := kv.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "bids-test")
	currency := funds.NewLedger(store)
	flaky := &failingCurrency{Currency: currency, failFor: "bob"}
	ledger := NewLedger(store, flaky)

	price := dec("100")
	for _, b := range []string{"alice", "bob", "carol", "dave"} {
		if err := currency.Deposit(ctx, b, dec("500")); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		if err := ledger.RecordBid(ctx, 1, b, price); err != nil {
			t.Fatalf("bid by %s: %v", b, err)
		}
		price = price.Add(dec("10"))
	}

	released, err := ledger.ReleaseAllExcept(ctx, 1, "dave", nil)
	if err == nil {
		t.Fatal("expected aggregated failure for bob")
	}
	if len(released) != 2 || released[0] != "alice" || released[1] != "carol" {
		t.Fatalf("alice and carol should still be released, got %v", released)
	}

	// Retry with bob's collaborator healthy again; alice and carol must not
	// be released twice.
	flaky.failFor = ""
	released, err = ledger.ReleaseAllExcept(ctx, 1, "dave", released)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(released) != 1 || released[0] != "bob" {
		t.Fatalf("only bob should be released on retry, got %v", released)
	}

	acct, _ := currency.Balance(ctx, "alice")
	if !acct.Available.Equal(dec("500")) || !acct.Locked.Equal(decimal.Zero) {
		t.Fatalf("alice released exactly once: available=%s locked=%s", acct.Available, acct.Locked)
	}
}
