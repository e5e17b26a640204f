// Package notify delivers auction events to interested parties. Delivery is
// fire-and-forget: a sink failure never fails the operation that emitted the
// event, and emit order matches operation application order.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"auction-ledger/internal/models"
)

// Sink receives auction events.
type Sink interface {
	BidderUpdated(e models.BidderUpdated)
	AuctionStatusChanged(e models.AuctionStatusChanged)
}

// NewBidderUpdated fills in the event envelope for an accepted bid.
func NewBidderUpdated(auctionID uint64, bidder string, price decimal.Decimal, at time.Time) models.BidderUpdated {
	return models.BidderUpdated{
		EventID:        uuid.New().String(),
		AuctionID:      auctionID,
		Bidder:         bidder,
		Price:          price,
		SlotsRemaining: 1,
		At:             at,
	}
}

// NewStatusChanged fills in the event envelope for a lifecycle transition.
func NewStatusChanged(auctionID uint64, from, to models.Status, at time.Time) models.AuctionStatusChanged {
	return models.AuctionStatusChanged{
		EventID:   uuid.New().String(),
		AuctionID: auctionID,
		From:      from,
		To:        to,
		At:        at,
	}
}

// Noop discards every event.
type Noop struct{}

func (Noop) BidderUpdated(models.BidderUpdated)               {}
func (Noop) AuctionStatusChanged(models.AuctionStatusChanged) {}

// Memory records events in order. Used by tests and as a default sink.
type Memory struct {
	mu       sync.Mutex
	Bids     []models.BidderUpdated
	Statuses []models.AuctionStatusChanged
}

func (m *Memory) BidderUpdated(e models.BidderUpdated) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Bids = append(m.Bids, e)
}

func (m *Memory) AuctionStatusChanged(e models.AuctionStatusChanged) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses = append(m.Statuses, e)
}

// LastStatus returns the most recent status event, if any.
func (m *Memory) LastStatus() (models.AuctionStatusChanged, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Statuses) == 0 {
		return models.AuctionStatusChanged{}, false
	}
	return m.Statuses[len(m.Statuses)-1], true
}
