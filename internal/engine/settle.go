package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"auction-ledger/internal/models"
)

// settle resolves a finished auction into an outcome. With no bids the
// outcome is no-winner and nothing is transferred. With a winner, the
// escrowed hammer price moves to the owner (minus the fee skim), the item
// moves to the winner, and every other participant's escrow is released.
//
// Each completed step is persisted in SettleProgress before the next one
// runs, so a retried stop never re-transfers funds, re-moves the item, or
// releases the same principal twice. Returning the already-recorded outcome
// for a settled auction makes a second invocation a no-op.
func (e *Engine) settle(ctx context.Context, a *models.Auction, at time.Time) (*models.Outcome, error) {
	if a.Settlement != nil {
		return a.Settlement, nil
	}

	participants, err := e.bids.Participants(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	if a.LatestBid == nil {
		return &models.Outcome{
			AuctionID:    a.ID,
			HammerPrice:  decimal.Zero,
			Fee:          decimal.Zero,
			Participants: len(participants),
			SettledAt:    at,
		}, nil
	}

	winner := a.LatestBid.Bidder
	price, err := e.bids.Amount(ctx, a.ID, winner)
	if err != nil {
		return nil, err
	}

	prog := a.Settling
	if prog == nil {
		prog = &models.SettleProgress{Fee: decimal.Zero}
	}

	if !prog.FundsMoved {
		fee, err := e.currency.TransferLocked(ctx, winner, a.Owner, price)
		if err != nil {
			return nil, err
		}
		prog.FundsMoved = true
		prog.Fee = fee
		a.Settling = prog
		if err := e.reg.Put(ctx, a); err != nil {
			return nil, err
		}
	}

	if !prog.ItemMoved {
		if err := e.items.TransferOwnership(ctx, a.Item, a.Owner, winner); err != nil {
			return nil, err
		}
		prog.ItemMoved = true
		a.Settling = prog
		if err := e.reg.Put(ctx, a); err != nil {
			return nil, err
		}
	}

	released, relErr := e.bids.ReleaseAllExcept(ctx, a.ID, winner, prog.Released)
	if len(released) > 0 {
		prog.Released = append(prog.Released, released...)
		a.Settling = prog
		if err := e.reg.Put(ctx, a); err != nil {
			return nil, err
		}
	}
	if relErr != nil {
		return nil, relErr
	}

	return &models.Outcome{
		AuctionID:    a.ID,
		Winner:       winner,
		HammerPrice:  price,
		Fee:          prog.Fee,
		Participants: len(participants),
		SettledAt:    at,
	}, nil
}
