package helpers

import (
	"time"

	model "bidding-settlement/internal/models"
)

// Request/Response DTOs
type PlaceBidRequest struct {
	UserID string      `json:"user_id" binding:"required"`
	Amount model.Money `json:"amount" binding:"required,gt=0"`
}

type CreateAuctionRequest struct {
	SellerID   string      `json:"seller_id" binding:"required"`
	Title      string      `json:"title"`
	StartPrice model.Money `json:"start_price" binding:"required,gt=0"`
	StartTime  time.Time   `json:"start_time" binding:"required"`
	EndTime    time.Time   `json:"end_time" binding:"required"`
}

type AddFundsRequest struct {
	Amount model.Money `json:"amount" binding:"required,gt=0"`
}

type BidResponse struct {
	BidID     string      `json:"bid_id"`
	AuctionID string      `json:"auction_id"`
	UserID    string      `json:"user_id"`
	Amount    model.Money `json:"amount"`
	CreatedAt string      `json:"created_at"`
}

type FundsResponse struct {
	UserID  string      `json:"user_id"`
	Balance model.Money `json:"balance"`
}

// NewBidResponse converts a bid to its wire form
func NewBidResponse(bid model.Bid) BidResponse {
	return BidResponse{
		BidID:     bid.BidID,
		AuctionID: bid.AuctionID,
		UserID:    bid.UserID,
		Amount:    bid.Amount,
		CreatedAt: bid.CreatedAt.UTC().Format(time.RFC3339),
	}
}
