package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates auction lifecycle states persisted in the registry.
type Status string

const (
	StatusPendingStart Status = "pending_start"
	StatusActive       Status = "active"
	StatusPaused       Status = "paused"
	StatusStopped      Status = "stopped"
)

// LatestBid records the current highest bidder, their price, and when they bid.
type LatestBid struct {
	Bidder string          `json:"bidder"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

// Auction is a single sealed, time-boxed auction over one item.
//
// StartAt, StopAt and WaitPeriod are optional: all three may stay unset for a
// manual-only lifecycle, and they can only be changed while the auction is
// still pending. Item is empty until the owner binds one.
type Auction struct {
	ID              uint64           `json:"id"`
	Item            string           `json:"item,omitempty"`
	Owner           string           `json:"owner"`
	StartAt         *time.Time       `json:"start_at,omitempty"`
	StopAt          *time.Time       `json:"stop_at,omitempty"`
	WaitPeriod      *time.Duration   `json:"wait_period,omitempty"`
	BeginPrice      decimal.Decimal  `json:"begin_price"`
	UpperBoundPrice *decimal.Decimal `json:"upper_bound_price,omitempty"`
	MinimumStep     decimal.Decimal  `json:"minimum_step"`
	LatestBid       *LatestBid       `json:"latest_bid,omitempty"`
	CeilingReached  bool             `json:"ceiling_reached,omitempty"`
	Status          Status           `json:"status"`
	Settling        *SettleProgress  `json:"settling,omitempty"`
	Settlement      *Outcome         `json:"settlement,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// SettleProgress tracks which settlement steps have already been applied, so a
// retried stop never moves funds or the item twice.
type SettleProgress struct {
	FundsMoved bool            `json:"funds_moved"`
	Fee        decimal.Decimal `json:"fee"`
	ItemMoved  bool            `json:"item_moved"`
	Released   []string        `json:"released,omitempty"`
}

// Outcome is the terminal resolution of an auction. Winner is empty when the
// auction closed without any bid.
type Outcome struct {
	AuctionID    uint64          `json:"auction_id"`
	Winner       string          `json:"winner,omitempty"`
	HammerPrice  decimal.Decimal `json:"hammer_price"`
	Fee          decimal.Decimal `json:"fee"`
	Participants int             `json:"participants"`
	SettledAt    time.Time       `json:"settled_at"`
}

// HasWinner reports whether settlement produced a winning bidder.
func (o Outcome) HasWinner() bool {
	return o.Winner != ""
}
