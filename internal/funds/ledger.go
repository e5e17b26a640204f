// Package funds implements the currency ledger the auction engine escrows
// through: every account has an available and a locked balance, bids move
// value between the two, and settlement transfers locked value to the seller
// with an optional fee skim to a disbursement sink.
package funds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"auction-ledger/internal/kv"
)

var (
	// ErrInsufficientFunds is returned when an account's available balance
	// cannot cover a lock.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientEscrow is returned when an unlock or locked transfer
	// exceeds the account's locked balance.
	ErrInsufficientEscrow = errors.New("insufficient escrow")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Account holds the two balances tracked per principal.
type Account struct {
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// Ledger persists accounts in the key-value store. Mutations are serialized
// by an internal mutex; the engine is single-writer, the mutex only guards
// the funds provisioning endpoint racing a settlement.
type Ledger struct {
	store   kv.Store
	mu      sync.Mutex
	feeBps  int64
	feeSink string
}

// NewLedger builds a ledger without a fee skim.
func NewLedger(store kv.Store) *Ledger {
	return &Ledger{store: store}
}

// WithFee enables the fee hook: on every successful TransferLocked,
// amount*bps/10000 is credited to the sink account instead of the payee.
func (l *Ledger) WithFee(bps int64, sink string) *Ledger {
	l.feeBps = bps
	l.feeSink = sink
	return l
}

func accountKey(principal string) string {
	return fmt.Sprintf("funds:%s", principal)
}

func (l *Ledger) load(ctx context.Context, principal string) (Account, error) {
	raw, err := l.store.Get(ctx, accountKey(principal))
	if errors.Is(err, kv.ErrNotFound) {
		return Account{Available: decimal.Zero, Locked: decimal.Zero}, nil
	}
	if err != nil {
		return Account{}, err
	}
	var acct Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return Account{}, fmt.Errorf("decode account %s: %w", principal, err)
	}
	return acct, nil
}

func (l *Ledger) save(ctx context.Context, principal string, acct Account) error {
	raw, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", principal, err)
	}
	return l.store.Put(ctx, accountKey(principal), raw)
}

// Balance returns the account for a principal; unknown principals read as
// empty accounts.
func (l *Ledger) Balance(ctx context.Context, principal string) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx, principal)
}

// Deposit credits the available balance. Used to provision accounts; the
// engine itself never deposits.
func (l *Ledger) Deposit(ctx context.Context, principal string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.load(ctx, principal)
	if err != nil {
		return err
	}
	acct.Available = acct.Available.Add(amount)
	return l.save(ctx, principal, acct)
}

// Lock moves amount from available to locked, failing if the available
// balance cannot cover it.
func (l *Ledger) Lock(ctx context.Context, principal string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.load(ctx, principal)
	if err != nil {
		return err
	}
	if acct.Available.LessThan(amount) {
		return fmt.Errorf("lock %s for %s: %w", amount, principal, ErrInsufficientFunds)
	}
	acct.Available = acct.Available.Sub(amount)
	acct.Locked = acct.Locked.Add(amount)
	return l.save(ctx, principal, acct)
}

// Unlock moves amount back from locked to available.
func (l *Ledger) Unlock(ctx context.Context, principal string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.load(ctx, principal)
	if err != nil {
		return err
	}
	if acct.Locked.LessThan(amount) {
		return fmt.Errorf("unlock %s for %s: %w", amount, principal, ErrInsufficientEscrow)
	}
	acct.Locked = acct.Locked.Sub(amount)
	acct.Available = acct.Available.Add(amount)
	return l.save(ctx, principal, acct)
}

// TransferLocked pays amount out of from's locked balance into to's available
// balance, skimming the configured fee to the sink. It returns the fee taken.
func (l *Ledger) TransferLocked(ctx context.Context, from, to string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	src, err := l.load(ctx, from)
	if err != nil {
		return decimal.Zero, err
	}
	if src.Locked.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("transfer %s from %s: %w", amount, from, ErrInsufficientEscrow)
	}

	fee := decimal.Zero
	if l.feeBps > 0 && l.feeSink != "" {
		fee = amount.Mul(decimal.NewFromInt(l.feeBps)).Shift(-4)
	}

	src.Locked = src.Locked.Sub(amount)
	if err := l.save(ctx, from, src); err != nil {
		return decimal.Zero, err
	}

	dst, err := l.load(ctx, to)
	if err != nil {
		return decimal.Zero, err
	}
	dst.Available = dst.Available.Add(amount.Sub(fee))
	if err := l.save(ctx, to, dst); err != nil {
		return decimal.Zero, err
	}

	if fee.Sign() > 0 {
		sink, err := l.load(ctx, l.feeSink)
		if err != nil {
			return decimal.Zero, err
		}
		sink.Available = sink.Available.Add(fee)
		if err := l.save(ctx, l.feeSink, sink); err != nil {
			return decimal.Zero, err
		}
	}
	return fee, nil
}
