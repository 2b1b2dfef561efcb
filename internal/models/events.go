package models

import "time"

// EventType names the payload carried by a published event
type EventType string

const (
	EventBidAccepted         EventType = "bidAccepted"
	EventWalletChanged       EventType = "walletChanged"
	EventAuctionEnded        EventType = "auctionEnded"
	EventNotificationCreated EventType = "notificationCreated"
)

// WalletReason tags why a balance changed
type WalletReason string

const (
	ReasonBlocked               WalletReason = "blocked"
	ReasonUnblocked             WalletReason = "unblocked"
	ReasonPurchase              WalletReason = "purchase"
	ReasonAdded                 WalletReason = "added"
	ReasonAuctionEndedUnblocked WalletReason = "auction_ended_unblocked"
	ReasonCommission            WalletReason = "commission"
)

// BidAcceptedEvent is published on the auction channel once a bid commits
type BidAcceptedEvent struct {
	BidID     string    `json:"bidId"`
	AuctionID string    `json:"auctionId"`
	UserID    string    `json:"userId"`
	Amount    Money     `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// WalletChangedEvent is published on the user channel after every balance mutation
type WalletChangedEvent struct {
	UserID     string       `json:"userId"`
	NewBalance Money        `json:"newBalance"`
	Change     Money        `json:"change"`
	Reason     WalletReason `json:"reason"`
}

// AuctionEndedEvent is published on the auction channel once settlement commits
type AuctionEndedEvent struct {
	AuctionID string  `json:"auctionId"`
	WinnerID  *string `json:"winnerId"`
}

// NotificationCreatedEvent is published on the user channel for each new notification
type NotificationCreatedEvent struct {
	NotificationID string `json:"notificationId"`
	UserID         string `json:"userId"`
	Message        string `json:"message"`
	AuctionID      string `json:"auctionId"`
	Read           bool   `json:"read"`
}

// NewNotificationCreatedEvent builds the event payload for n
func NewNotificationCreatedEvent(n Notification) NotificationCreatedEvent {
	return NotificationCreatedEvent{
		NotificationID: n.NotificationID,
		UserID:         n.UserID,
		Message:        n.Message,
		AuctionID:      n.AuctionID,
		Read:           n.Read,
	}
}
