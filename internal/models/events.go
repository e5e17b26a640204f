package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidderUpdated is emitted whenever an auction accepts a new highest bid.
// SlotsRemaining is always 1 for a single-winner auction; the field is kept on
// the wire for multi-lot listings.
type BidderUpdated struct {
	EventID        string          `json:"event_id"`
	AuctionID      uint64          `json:"auction_id"`
	Bidder         string          `json:"bidder"`
	Price          decimal.Decimal `json:"price"`
	SlotsRemaining uint32          `json:"slots_remaining"`
	At             time.Time       `json:"at"`
}

// AuctionStatusChanged is emitted on every lifecycle transition.
type AuctionStatusChanged struct {
	EventID   string    `json:"event_id"`
	AuctionID uint64    `json:"auction_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	At        time.Time `json:"at"`
}
