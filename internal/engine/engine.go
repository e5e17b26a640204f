// Package engine is the auction state machine. It owns every status
// transition (PendingStart -> Active -> {Paused <-> Active} -> Stopped, plus
// PendingStart -> Stopped for cancellation), validates bids, and drives
// settlement exactly once per auction.
//
// All mutations are serialized: a mutex orders operations within one process
// and a Redis lease extends that exclusion across the api and trigger
// services, so bids are totally ordered by application order and the
// highest-bid check is race-free. Every operation validates its guards before
// touching the registry, so a rejected call leaves no partial state behind.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"auction-ledger/internal/bids"
	"auction-ledger/internal/lease"
	"auction-ledger/internal/models"
	"auction-ledger/internal/notify"
	"auction-ledger/internal/registry"
)

// Currency is the engine-side view of the currency ledger: provisioning and
// settlement. Escrow locking for bids goes through the bid ledger instead.
type Currency interface {
	Deposit(ctx context.Context, principal string, amount decimal.Decimal) error
	TransferLocked(ctx context.Context, from, to string, amount decimal.Decimal) (decimal.Decimal, error)
}

// ItemRegistry transfers item ownership at settlement and answers ownership
// checks when an item is bound.
type ItemRegistry interface {
	Owner(ctx context.Context, item string) (string, error)
	TransferOwnership(ctx context.Context, item, from, to string) error
}

// Archiver receives settled outcomes. Failures are logged, never propagated.
type Archiver interface {
	RecordSettlement(ctx context.Context, o models.Outcome) error
}

// Engine wires the registry, bid ledger, and collaborators into the auction
// state machine.
type Engine struct {
	mu       sync.Mutex
	locks    *lease.Locker
	reg      *registry.Registry
	bids     *bids.Ledger
	currency Currency
	items    ItemRegistry
	sink     notify.Sink
	archive  Archiver
}

// New wires the engine. locks serializes mutations against other processes
// sharing the same store; it must be set whenever more than one service
// mutates the registry (the api and trigger binaries always set it).
func New(reg *registry.Registry, bidLedger *bids.Ledger, currency Currency, items ItemRegistry, sink notify.Sink, locks *lease.Locker) *Engine {
	if sink == nil {
		sink = notify.Noop{}
	}
	return &Engine{
		locks:    locks,
		reg:      reg,
		bids:     bidLedger,
		currency: currency,
		items:    items,
		sink:     sink,
	}
}

// mutationLockKey is the single lease every mutation holds. Index lists are
// shared between auctions, so exclusion is engine-wide, not per auction.
const mutationLockKey = "lock:engine"

// lock takes the in-process mutex and the cross-process lease, returning the
// matching unlock. Queries read without it.
func (e *Engine) lock(ctx context.Context) (func(), error) {
	e.mu.Lock()
	if e.locks == nil {
		return e.mu.Unlock, nil
	}
	held, err := e.locks.Acquire(ctx, mutationLockKey)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	return func() {
		held.Release(ctx)
		e.mu.Unlock()
	}, nil
}

// WithArchiver attaches a settlement archive sink.
func (e *Engine) WithArchiver(a Archiver) *Engine {
	e.archive = a
	return e
}

// CreateParams are the creation-time auction parameters.
type CreateParams struct {
	BeginPrice      decimal.Decimal
	MinimumStep     decimal.Decimal
	UpperBoundPrice *decimal.Decimal
}

// TimingUpdate carries the optional schedule fields. Only non-nil fields
// overwrite the stored values.
type TimingUpdate struct {
	StartAt    *time.Time
	StopAt     *time.Time
	WaitPeriod *time.Duration
}

// CreateAuction allocates a new auction owned by caller in PendingStart.
func (e *Engine) CreateAuction(ctx context.Context, caller string, p CreateParams, now time.Time) (uint64, error) {
	if p.BeginPrice.Sign() <= 0 {
		return 0, fmt.Errorf("begin price must be positive: %w", ErrInvalidParameters)
	}
	if p.MinimumStep.Sign() <= 0 {
		// A zero step would allow two distinct bidders at equal amounts.
		return 0, fmt.Errorf("minimum step must be positive: %w", ErrInvalidParameters)
	}
	if p.UpperBoundPrice != nil && p.UpperBoundPrice.LessThan(p.BeginPrice) {
		return 0, fmt.Errorf("ceiling below opening price: %w", ErrInvalidParameters)
	}

	unlock, err := e.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	id, err := e.reg.NextID(ctx)
	if err != nil {
		return 0, err
	}
	a := &models.Auction{
		ID:              id,
		Owner:           caller,
		BeginPrice:      p.BeginPrice,
		MinimumStep:     p.MinimumStep,
		UpperBoundPrice: p.UpperBoundPrice,
		Status:          models.StatusPendingStart,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.reg.Put(ctx, a); err != nil {
		return 0, err
	}
	if err := e.reg.AddPending(ctx, id); err != nil {
		return 0, err
	}
	return id, nil
}

// BindItem attaches the item the auction is selling. Only the owner may bind,
// only while pending, and only an item they actually own. The item index
// guarantees at most one active auction per item.
func (e *Engine) BindItem(ctx context.Context, caller string, id uint64, item string, at time.Time) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	a, err := e.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != models.StatusPendingStart {
		return fmt.Errorf("auction %d is %s: %w", id, a.Status, ErrInvalidState)
	}
	if a.Owner != caller {
		return fmt.Errorf("auction %d: %w", id, ErrUnauthorized)
	}
	itemOwner, err := e.items.Owner(ctx, item)
	if err != nil {
		return err
	}
	if itemOwner != caller {
		return fmt.Errorf("item %s is owned by %s: %w", item, itemOwner, ErrUnauthorized)
	}
	if a.Item != "" && a.Item != item {
		if err := e.reg.UnbindItem(ctx, a.Item); err != nil {
			return err
		}
	}
	if err := e.reg.BindItem(ctx, item, id); err != nil {
		return err
	}
	a.Item = item
	a.UpdatedAt = at
	return e.reg.Put(ctx, a)
}

// ConfigureTiming overwrites the schedule fields that are present in the
// update; omitted fields keep their prior values. Timing is frozen once the
// auction leaves PendingStart.
func (e *Engine) ConfigureTiming(ctx context.Context, caller string, id uint64, u TimingUpdate, at time.Time) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	a, err := e.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != models.StatusPendingStart {
		return fmt.Errorf("auction %d is %s: %w", id, a.Status, ErrInvalidState)
	}
	if a.Owner != caller {
		return fmt.Errorf("auction %d: %w", id, ErrUnauthorized)
	}

	startAt := a.StartAt
	if u.StartAt != nil {
		startAt = u.StartAt
	}
	stopAt := a.StopAt
	if u.StopAt != nil {
		stopAt = u.StopAt
	}
	if startAt != nil && stopAt != nil && !stopAt.After(*startAt) {
		return fmt.Errorf("stop_at must be after start_at: %w", ErrInvalidParameters)
	}
	if u.WaitPeriod != nil && *u.WaitPeriod <= 0 {
		return fmt.Errorf("wait period must be positive: %w", ErrInvalidParameters)
	}

	a.StartAt = startAt
	a.StopAt = stopAt
	if u.WaitPeriod != nil {
		a.WaitPeriod = u.WaitPeriod
	}
	a.UpdatedAt = at
	return e.reg.Put(ctx, a)
}

// Pause suspends bidding on an active auction.
func (e *Engine) Pause(ctx context.Context, caller string, id uint64, at time.Time) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	a, err := e.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != models.StatusActive {
		return fmt.Errorf("auction %d is %s: %w", id, a.Status, ErrInvalidState)
	}
	if a.Owner != caller {
		return fmt.Errorf("auction %d: %w", id, ErrUnauthorized)
	}

	a.Status = models.StatusPaused
	a.UpdatedAt = at
	if err := e.reg.Put(ctx, a); err != nil {
		return err
	}
	e.sink.AuctionStatusChanged(notify.NewStatusChanged(id, models.StatusActive, models.StatusPaused, at))
	return nil
}

// Resume reopens a paused auction for bidding.
func (e *Engine) Resume(ctx context.Context, caller string, id uint64, at time.Time) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	a, err := e.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != models.StatusPaused {
		return fmt.Errorf("auction %d is %s: %w", id, a.Status, ErrInvalidState)
	}
	if a.Owner != caller {
		return fmt.Errorf("auction %d: %w", id, ErrUnauthorized)
	}

	a.Status = models.StatusActive
	a.UpdatedAt = at
	if err := e.reg.Put(ctx, a); err != nil {
		return err
	}
	e.sink.AuctionStatusChanged(notify.NewStatusChanged(id, models.StatusPaused, models.StatusActive, at))
	return nil
}

// Start promotes a pending auction to Active. The owner may start at will;
// the scheduler starts once start_at has been reached. An auction with no
// bound item cannot start.
func (e *Engine) Start(ctx context.Context, actor Actor, id uint64, at time.Time) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	a, err := e.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != models.StatusPendingStart {
		return fmt.Errorf("auction %d is %s: %w", id, a.Status, ErrInvalidState)
	}
	if !actor.mayAdminister(a.Owner) {
		return fmt.Errorf("auction %d: %w", id, ErrUnauthorized)
	}
	if a.Item == "" {
		return fmt.Errorf("auction %d has no item bound: %w", id, ErrInvalidState)
	}

	a.Status = models.StatusActive
	a.UpdatedAt = at
	if err := e.reg.Put(ctx, a); err != nil {
		return err
	}
	if err := e.reg.RemovePending(ctx, id); err != nil {
		return err
	}
	if err := e.reg.AddLive(ctx, id); err != nil {
		return err
	}
	e.sink.AuctionStatusChanged(notify.NewStatusChanged(id, models.StatusPendingStart, models.StatusActive, at))
	return nil
}

// Stop terminates an auction. If it ever left PendingStart, settlement runs
// first; a settlement failure aborts the stop with the status unchanged so
// the stop can be retried. Already-stopped auctions reject the call.
func (e *Engine) Stop(ctx context.Context, actor Actor, id uint64, at time.Time) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	a, err := e.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == models.StatusStopped {
		return fmt.Errorf("auction %d already stopped: %w", id, ErrInvalidState)
	}
	if !actor.mayAdminister(a.Owner) {
		return fmt.Errorf("auction %d: %w", id, ErrUnauthorized)
	}

	var outcome *models.Outcome
	wasPending := a.Status == models.StatusPendingStart
	if !wasPending {
		outcome, err = e.settle(ctx, a, at)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSettlementFailed, err)
		}
	}

	old := a.Status
	a.Status = models.StatusStopped
	a.Settlement = outcome
	a.Settling = nil
	a.UpdatedAt = at
	if err := e.reg.Put(ctx, a); err != nil {
		return err
	}
	if a.Item != "" {
		if err := e.reg.UnbindItem(ctx, a.Item); err != nil {
			return err
		}
	}
	if wasPending {
		if err := e.reg.RemovePending(ctx, id); err != nil {
			return err
		}
	} else if err := e.reg.RemoveLive(ctx, id); err != nil {
		return err
	}

	e.sink.AuctionStatusChanged(notify.NewStatusChanged(id, old, models.StatusStopped, at))

	if outcome != nil && e.archive != nil {
		if err := e.archive.RecordSettlement(ctx, *outcome); err != nil {
			log.Printf("engine: archive settlement for auction %d: %v", id, err)
		}
	}
	return nil
}

// Bid places or raises a bid. The accepted price sequence on an auction is
// strictly increasing by at least the minimum step.
func (e *Engine) Bid(ctx context.Context, caller string, id uint64, price decimal.Decimal, at time.Time) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	a, err := e.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != models.StatusActive {
		return fmt.Errorf("auction %d is %s: %w", id, a.Status, ErrInvalidState)
	}

	floor := a.BeginPrice
	if a.LatestBid != nil {
		if step := a.LatestBid.Price.Add(a.MinimumStep); step.GreaterThan(floor) {
			floor = step
		}
	}
	if price.LessThan(floor) {
		return fmt.Errorf("bid %s below %s: %w", price, floor, ErrPriceTooLow)
	}
	if a.UpperBoundPrice != nil && price.GreaterThan(*a.UpperBoundPrice) {
		return fmt.Errorf("bid %s above ceiling %s: %w", price, a.UpperBoundPrice, ErrPriceAboveCeiling)
	}

	if err := e.bids.RecordBid(ctx, id, caller, price); err != nil {
		return err
	}

	a.LatestBid = &models.LatestBid{Bidder: caller, Price: price, At: at}
	if a.UpperBoundPrice != nil && price.Equal(*a.UpperBoundPrice) {
		// Ceiling reached: eligible for closure on the next scheduler tick
		// instead of waiting out the quiet period.
		a.CeilingReached = true
	}
	a.UpdatedAt = at
	if err := e.reg.Put(ctx, a); err != nil {
		return err
	}
	e.sink.BidderUpdated(notify.NewBidderUpdated(id, caller, price, at))
	return nil
}

// Deposit credits a principal's available balance. Routed through the engine
// so provisioning cannot race a settlement in another process.
func (e *Engine) Deposit(ctx context.Context, principal string, amount decimal.Decimal) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return e.currency.Deposit(ctx, principal, amount)
}

// GetAuction loads one auction record.
func (e *Engine) GetAuction(ctx context.Context, id uint64) (*models.Auction, error) {
	return e.reg.Get(ctx, id)
}

// GetBid returns the principal's currently escrowed bid on an auction.
func (e *Engine) GetBid(ctx context.Context, id uint64, principal string) (decimal.Decimal, error) {
	if _, err := e.reg.Get(ctx, id); err != nil {
		return decimal.Zero, err
	}
	return e.bids.Amount(ctx, id, principal)
}

// ListPending returns all PendingStart auctions in ascending id order.
func (e *Engine) ListPending(ctx context.Context) ([]*models.Auction, error) {
	ids, err := e.reg.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	return e.loadAll(ctx, ids)
}

// ListActive returns all Active-or-Paused auctions in ascending id order.
func (e *Engine) ListActive(ctx context.Context) ([]*models.Auction, error) {
	ids, err := e.reg.ListLive(ctx)
	if err != nil {
		return nil, err
	}
	return e.loadAll(ctx, ids)
}

func (e *Engine) loadAll(ctx context.Context, ids []uint64) ([]*models.Auction, error) {
	out := make([]*models.Auction, 0, len(ids))
	for _, id := range ids {
		a, err := e.reg.Get(ctx, id)
		if errors.Is(err, registry.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
