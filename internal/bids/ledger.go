// Package bids is the per-auction bid ledger: each participant's currently
// escrowed amount plus the insertion-ordered participants list used to
// release escrow at settlement.
package bids

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"auction-ledger/internal/kv"
)

// ErrNoBid is returned when a principal has no recorded bid on an auction.
var ErrNoBid = errors.New("no bid recorded")

// Currency is the escrow collaborator the ledger locks and releases through.
type Currency interface {
	Lock(ctx context.Context, principal string, amount decimal.Decimal) error
	Unlock(ctx context.Context, principal string, amount decimal.Decimal) error
}

// Ledger stores bid records in the key-value store and escrows amounts via
// the currency collaborator.
type Ledger struct {
	store    kv.Store
	currency Currency
}

func NewLedger(store kv.Store, currency Currency) *Ledger {
	return &Ledger{store: store, currency: currency}
}

func bidKey(auctionID uint64, bidder string) string {
	return fmt.Sprintf("auction:%d:bid:%s", auctionID, bidder)
}

func participantsKey(auctionID uint64) string {
	return fmt.Sprintf("auction:%d:participants", auctionID)
}

// Amount returns the bidder's currently escrowed amount for the auction.
func (l *Ledger) Amount(ctx context.Context, auctionID uint64, bidder string) (decimal.Decimal, error) {
	raw, err := l.store.Get(ctx, bidKey(auctionID, bidder))
	if errors.Is(err, kv.ErrNotFound) {
		return decimal.Zero, ErrNoBid
	}
	if err != nil {
		return decimal.Zero, err
	}
	amount, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode bid for %s on auction %d: %w", bidder, auctionID, err)
	}
	return amount, nil
}

// Participants returns every principal that has ever bid, in first-bid order.
func (l *Ledger) Participants(ctx context.Context, auctionID uint64) ([]string, error) {
	raw, err := l.store.Get(ctx, participantsKey(auctionID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var participants []string
	if err := json.Unmarshal(raw, &participants); err != nil {
		return nil, fmt.Errorf("decode participants for auction %d: %w", auctionID, err)
	}
	return participants, nil
}

// RecordBid escrows amount for the bidder, releasing any prior escrow they
// held on this auction. The amount is assumed already validated against the
// auction's price rules. Locking the new amount happens before the old one is
// released, so a failed lock leaves the prior bid intact.
func (l *Ledger) RecordBid(ctx context.Context, auctionID uint64, bidder string, amount decimal.Decimal) error {
	prior, err := l.Amount(ctx, auctionID, bidder)
	hadPrior := err == nil
	if err != nil && !errors.Is(err, ErrNoBid) {
		return err
	}

	if err := l.currency.Lock(ctx, bidder, amount); err != nil {
		return fmt.Errorf("escrow bid: %w", err)
	}
	if hadPrior {
		if err := l.currency.Unlock(ctx, bidder, prior); err != nil {
			// Back out the new escrow so the bidder is not double-locked;
			// the stored record still holds the prior amount.
			if cerr := l.currency.Unlock(ctx, bidder, amount); cerr != nil {
				return errors.Join(
					fmt.Errorf("release prior escrow: %w", err),
					fmt.Errorf("back out new escrow: %w", cerr),
				)
			}
			return fmt.Errorf("release prior escrow: %w", err)
		}
	}

	if err := l.store.Put(ctx, bidKey(auctionID, bidder), []byte(amount.String())); err != nil {
		return err
	}
	if hadPrior {
		return nil
	}

	participants, err := l.Participants(ctx, auctionID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(append(participants, bidder))
	if err != nil {
		return fmt.Errorf("encode participants for auction %d: %w", auctionID, err)
	}
	return l.store.Put(ctx, participantsKey(auctionID), raw)
}

// ReleaseAllExcept releases escrow for every participant other than winner,
// in participant order, skipping principals already released by an earlier
// attempt. A failed release does not abort the pass; failures are joined into
// one error after every participant has been tried. It returns the principals
// newly released on this pass.
func (l *Ledger) ReleaseAllExcept(ctx context.Context, auctionID uint64, winner string, alreadyReleased []string) ([]string, error) {
	participants, err := l.Participants(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(alreadyReleased))
	for _, p := range alreadyReleased {
		done[p] = true
	}

	var released []string
	var failures []error
	for _, p := range participants {
		if p == winner || done[p] {
			continue
		}
		amount, err := l.Amount(ctx, auctionID, p)
		if errors.Is(err, ErrNoBid) {
			continue
		}
		if err != nil {
			failures = append(failures, fmt.Errorf("read bid for %s: %w", p, err))
			continue
		}
		if err := l.currency.Unlock(ctx, p, amount); err != nil {
			failures = append(failures, fmt.Errorf("release escrow for %s: %w", p, err))
			continue
		}
		released = append(released, p)
	}
	return released, errors.Join(failures...)
}
