package models

import "time"

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	AuctionPending AuctionStatus = "pending"
	AuctionActive  AuctionStatus = "active"
	AuctionEnded   AuctionStatus = "ended"
)

// CanTransitionTo reports whether the status may move to next.
// Only pending -> active -> ended is allowed.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case AuctionPending:
		return next == AuctionActive
	case AuctionActive:
		return next == AuctionEnded
	default:
		return false
	}
}

// Auction represents an item put up for bidding by a seller
type Auction struct {
	AuctionID  string        `json:"auction_id"`
	SellerID   string        `json:"seller_id"`
	Title      string        `json:"title"`
	StartPrice Money         `json:"start_price"`
	CurrentBid *Money        `json:"current_bid,omitempty"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Status     AuctionStatus `json:"status"`
	WinnerID   *string       `json:"winner_id,omitempty"`
	Version    int64         `json:"version"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Floor returns max(currentBid or 0, startPrice). A new bid must be strictly greater.
func (a Auction) Floor() Money {
	floor := a.StartPrice
	if a.CurrentBid != nil && *a.CurrentBid > floor {
		floor = *a.CurrentBid
	}
	return floor
}

// MinimumBid is the smallest acceptable amount for the next bid
func (a Auction) MinimumBid() Money {
	return a.Floor() + 1
}

// Bid represents a user's bid on an auction. Bids are immutable once recorded.
type Bid struct {
	BidID     string    `json:"bid_id"`
	AuctionID string    `json:"auction_id"`
	UserID    string    `json:"user_id"`
	Amount    Money     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Wallet holds a user's available balance
type Wallet struct {
	UserID    string    `json:"user_id"`
	Balance   Money     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Hold is the amount blocked from a user's wallet against one auction
type Hold struct {
	AuctionID string `json:"auction_id"`
	UserID    string `json:"user_id"`
	Amount    Money  `json:"amount"`
}

// NotificationKind distinguishes settlement notifications for deduplication
type NotificationKind string

const (
	NotificationWon    NotificationKind = "won"
	NotificationOutbid NotificationKind = "outbid_released"
)

// Notification is a message delivered to a user, created during settlement
type Notification struct {
	NotificationID string           `json:"notification_id"`
	UserID         string           `json:"user_id"`
	AuctionID      string           `json:"auction_id"`
	Kind           NotificationKind `json:"kind"`
	Message        string           `json:"message"`
	Read           bool             `json:"read"`
	CreatedAt      time.Time        `json:"created_at"`
}
