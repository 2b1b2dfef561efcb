package bidding

import (
	"bidding-settlement/internal/biddingerrors"
	"bidding-settlement/internal/clock"
	"bidding-settlement/internal/fanout"
	"bidding-settlement/internal/keylock"
	"bidding-settlement/internal/ledger"
	"bidding-settlement/internal/metrics"
	"bidding-settlement/internal/models"
	"bidding-settlement/internal/repository"
	"bidding-settlement/utils"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const defaultRetryLimit = 3

var defaultCommissionRate = decimal.RequireFromString("0.05")

// BiddingService defines the business logic for auction bidding
type BiddingService struct {
	repo           repository.AuctionDB
	notifications  repository.NotificationDB
	ledger         *ledger.Ledger
	publisher      fanout.Publisher
	clock          clock.Clock
	locks          *keylock.KeyedMutex
	retryLimit     int
	commissionRate decimal.Decimal
}

// Option customizes a BiddingService
type Option func(*BiddingService)

// WithClock overrides the system clock
func WithClock(clk clock.Clock) Option {
	return func(s *BiddingService) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithPublisher sets where bidAccepted events go
func WithPublisher(p fanout.Publisher) Option {
	return func(s *BiddingService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithAuctionLocks shares the per-auction locks with the lifecycle sweeper
func WithAuctionLocks(locks *keylock.KeyedMutex) Option {
	return func(s *BiddingService) {
		if locks != nil {
			s.locks = locks
		}
	}
}

// WithRetryLimit bounds how many times a bid is retried after a version conflict
func WithRetryLimit(n int) Option {
	return func(s *BiddingService) {
		if n >= 0 {
			s.retryLimit = n
		}
	}
}

// WithCommissionRate sets the share of the start price charged to sellers
func WithCommissionRate(rate decimal.Decimal) Option {
	return func(s *BiddingService) {
		if !rate.IsNegative() {
			s.commissionRate = rate
		}
	}
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, notifications repository.NotificationDB, l *ledger.Ledger, opts ...Option) *BiddingService {
	s := &BiddingService{
		repo:           repo,
		notifications:  notifications,
		ledger:         l,
		publisher:      fanout.Nop{},
		clock:          clock.NewSystem(),
		locks:          keylock.New(),
		retryLimit:     defaultRetryLimit,
		commissionRate: defaultCommissionRate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceBid validates a bid, blocks the bidder's funds, records the bid and
// releases the previous leader's hold. It runs to completion even if ctx is
// cancelled once the auction lock is taken.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, userID string, amount models.Money) (models.Bid, error) {
	if auctionID == "" || userID == "" {
		return s.reject(fmt.Errorf("service: %w - missing auctionID or userID", biddingerrors.ErrInvalidBid))
	}
	if amount <= 0 {
		return s.reject(fmt.Errorf("service: %w - non-positive bid amount", biddingerrors.ErrInvalidBid))
	}

	ctx = context.WithoutCancel(ctx)

	unlock := s.locks.Lock(auctionID)
	defer unlock()

	var err error
	for attempt := 0; attempt <= s.retryLimit; attempt++ {
		if attempt > 0 {
			metrics.BidRetries.Inc()
			utils.Warn("service: retrying bid after conflict", map[string]any{
				"auction_id": auctionID,
				"user_id":    userID,
				"attempt":    attempt,
			})
		}

		var bid models.Bid
		bid, err = s.placeBidOnce(ctx, auctionID, userID, amount)
		if err == nil {
			metrics.BidsAccepted.Inc()
			return bid, nil
		}
		if !biddingerrors.IsRetryable(err) {
			return s.reject(err)
		}
	}

	return s.reject(fmt.Errorf("service: bid on auction %s gave up after %d attempts: %w", auctionID, s.retryLimit+1, err))
}

func (s *BiddingService) reject(err error) (models.Bid, error) {
	metrics.BidsRejected.WithLabelValues(string(biddingerrors.KindOf(err))).Inc()
	return models.Bid{}, err
}

// placeBidOnce is a single attempt; the caller holds the auction lock
func (s *BiddingService) placeBidOnce(ctx context.Context, auctionID, userID string, amount models.Money) (models.Bid, error) {
	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to load auction %s: %w", auctionID, err)
	}

	now := s.clock.Now()
	if now.Before(auction.StartTime) {
		return models.Bid{}, fmt.Errorf("service: %w - auction %s starts at %s", biddingerrors.ErrAuctionNotStarted, auctionID, auction.StartTime.Format(time.RFC3339))
	}

	if auction.Status == models.AuctionPending {
		if auction, err = s.activate(ctx, auction); err != nil {
			return models.Bid{}, err
		}
	}

	if now.After(auction.EndTime) || auction.Status != models.AuctionActive {
		return models.Bid{}, fmt.Errorf("service: %w - auction %s is %s", biddingerrors.ErrAuctionEnded, auctionID, auction.Status)
	}

	floor := auction.Floor()
	if amount <= floor {
		return models.Bid{}, fmt.Errorf("service: %w - minimum bid is %s", biddingerrors.ErrBidTooLow, auction.MinimumBid())
	}

	prev, hasPrev, err := s.highestBid(ctx, auctionID)
	if err != nil {
		return models.Bid{}, err
	}

	blockAmount, err := blockDelta(floor, amount, userID, prev, hasPrev)
	if err != nil {
		return models.Bid{}, err
	}

	if _, err := s.ledger.Block(ctx, auctionID, userID, blockAmount); err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to block funds for bid on auction %s: %w", auctionID, err)
	}

	bid := models.Bid{
		BidID:     utils.GenerateID(),
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    amount,
		CreatedAt: now,
	}

	if _, err := s.repo.RecordBid(ctx, bid, auction.Version); err != nil {
		s.rollbackBlock(ctx, auctionID, userID, blockAmount)
		return models.Bid{}, fmt.Errorf("service: failed to record bid for auction %s by user %s: %w", auctionID, userID, err)
	}

	if hasPrev && prev.UserID != userID {
		// a failed release is picked up by settlement when the auction closes
		if _, err := s.ledger.Release(ctx, auctionID, prev.UserID, models.ReasonUnblocked); err != nil {
			utils.Error("service: failed to release outbid hold", map[string]any{
				"auction_id": auctionID,
				"user_id":    prev.UserID,
				"error":      err.Error(),
			})
		}
	}

	s.publisher.PublishAuction(auctionID, models.EventBidAccepted, models.BidAcceptedEvent{
		BidID:     bid.BidID,
		AuctionID: bid.AuctionID,
		UserID:    bid.UserID,
		Amount:    bid.Amount,
		CreatedAt: bid.CreatedAt,
	})

	utils.Info("service: bid accepted", map[string]any{
		"auction_id": auctionID,
		"user_id":    userID,
		"amount":     amount.String(),
		"blocked":    blockAmount.String(),
	})

	return bid, nil
}

// blockDelta decides how much of the bidder's balance the bid blocks.
// A new leader blocks the floor, not their own amount.
func blockDelta(floor, amount models.Money, userID string, prev models.Bid, hasPrev bool) (models.Money, error) {
	switch {
	case !hasPrev:
		return floor, nil
	case prev.UserID == userID:
		delta := amount - prev.Amount
		if delta <= 0 {
			return 0, fmt.Errorf("service: %w - standing bid is %s", biddingerrors.ErrSelfRaiseNotHigher, prev.Amount)
		}
		return delta, nil
	default:
		return floor, nil
	}
}

func (s *BiddingService) highestBid(ctx context.Context, auctionID string) (models.Bid, bool, error) {
	prev, err := s.repo.GetHighestBid(ctx, auctionID)
	if err == nil {
		return prev, true, nil
	}
	if errors.Is(err, biddingerrors.ErrNoBids) {
		return models.Bid{}, false, nil
	}
	return models.Bid{}, false, fmt.Errorf("service: failed to check highest bid: %w", err)
}

// activate promotes a pending auction whose start time has passed and returns its fresh state
func (s *BiddingService) activate(ctx context.Context, auction models.Auction) (models.Auction, error) {
	if _, err := s.repo.TransitionStatus(ctx, auction.AuctionID, models.AuctionPending, models.AuctionActive); err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to activate auction %s: %w", auction.AuctionID, err)
	}
	fresh, err := s.repo.GetAuction(ctx, auction.AuctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to reload auction %s: %w", auction.AuctionID, err)
	}
	return fresh, nil
}

func (s *BiddingService) rollbackBlock(ctx context.Context, auctionID, userID string, amount models.Money) {
	if _, err := s.ledger.Unblock(ctx, auctionID, userID, amount, models.ReasonUnblocked); err != nil {
		utils.Error("service: failed to roll back blocked funds", map[string]any{
			"auction_id": auctionID,
			"user_id":    userID,
			"amount":     amount.String(),
			"error":      err.Error(),
		})
	}
}

// CreateAuctionInput carries a seller's new auction
type CreateAuctionInput struct {
	SellerID   string
	Title      string
	StartPrice models.Money
	StartTime  time.Time
	EndTime    time.Time
}

// CreateAuction charges the seller's commission and stores the auction.
// It starts active when its start time has already passed.
func (s *BiddingService) CreateAuction(ctx context.Context, in CreateAuctionInput) (models.Auction, error) {
	now := s.clock.Now()

	switch {
	case in.SellerID == "":
		return models.Auction{}, fmt.Errorf("service: %w - empty seller ID", biddingerrors.ErrInvalidAuction)
	case in.StartPrice <= 0:
		return models.Auction{}, fmt.Errorf("service: %w - start price must be positive", biddingerrors.ErrInvalidAuction)
	case !in.EndTime.After(in.StartTime):
		return models.Auction{}, fmt.Errorf("service: %w - end time must be after start time", biddingerrors.ErrInvalidAuction)
	case !in.EndTime.After(now):
		return models.Auction{}, fmt.Errorf("service: %w - end time is in the past", biddingerrors.ErrInvalidAuction)
	}

	commission := in.StartPrice.MulRate(s.commissionRate)
	if commission > 0 {
		if _, err := s.ledger.Debit(ctx, in.SellerID, commission, models.ReasonCommission); err != nil {
			return models.Auction{}, fmt.Errorf("service: failed to charge commission of %s: %w", commission, err)
		}
	}

	status := models.AuctionPending
	if !now.Before(in.StartTime) {
		status = models.AuctionActive
	}

	auction := models.Auction{
		AuctionID:  utils.GenerateID(),
		SellerID:   in.SellerID,
		Title:      in.Title,
		StartPrice: in.StartPrice,
		StartTime:  in.StartTime.UTC(),
		EndTime:    in.EndTime.UTC(),
		Status:     status,
		CreatedAt:  now,
	}

	if err := s.repo.CreateAuction(ctx, auction); err != nil {
		if commission > 0 {
			if _, cerr := s.ledger.Credit(ctx, in.SellerID, commission, models.ReasonCommission); cerr != nil {
				utils.Error("service: failed to refund commission", map[string]any{
					"seller_id": in.SellerID,
					"amount":    commission.String(),
					"error":     cerr.Error(),
				})
			}
		}
		return models.Auction{}, fmt.Errorf("service: failed to create auction: %w", err)
	}

	utils.Info("service: auction created", map[string]any{
		"auction_id":  auction.AuctionID,
		"seller_id":   auction.SellerID,
		"start_price": auction.StartPrice.String(),
		"commission":  commission.String(),
		"status":      string(auction.Status),
	})

	return auction, nil
}

// GetAuction returns a single auction
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	if auctionID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}

	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}

	return auction, nil
}

// GetBidsForAuction returns the leaderboard of an auction
func (s *BiddingService) GetBidsForAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}

	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}

	return bids, nil
}

// GetHighestBid returns the current highest bid for an auction
func (s *BiddingService) GetHighestBid(ctx context.Context, auctionID string) (models.Bid, error) {
	if auctionID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}

	highest, err := s.repo.GetHighestBid(ctx, auctionID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to get highest bid for auction %s: %w", auctionID, err)
	}

	return highest, nil
}

// GetAuctionsByUser returns all auctions a user has placed bids on
func (s *BiddingService) GetAuctionsByUser(ctx context.Context, userID string) ([]models.Auction, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidBid)
	}

	auctions, err := s.repo.GetAuctionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auctions for user %s: %w", userID, err)
	}

	return auctions, nil
}

// AddFunds tops up a user's wallet
func (s *BiddingService) AddFunds(ctx context.Context, userID string, amount models.Money) (models.Money, error) {
	balance, err := s.ledger.AddFunds(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("service: failed to add funds for user %s: %w", userID, err)
	}
	return balance, nil
}

// Wallet returns a user's balance and outstanding holds
func (s *BiddingService) Wallet(ctx context.Context, userID string) (ledger.Statement, error) {
	if userID == "" {
		return ledger.Statement{}, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrUserNotFound)
	}

	st, err := s.ledger.Statement(ctx, userID)
	if err != nil {
		return ledger.Statement{}, fmt.Errorf("service: failed to get wallet for user %s: %w", userID, err)
	}
	return st, nil
}

// ListNotifications returns a user's notifications, newest first
func (s *BiddingService) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrUserNotFound)
	}

	list, err := s.notifications.ListNotifications(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list notifications for user %s: %w", userID, err)
	}
	return list, nil
}

// MarkNotificationRead flags one notification as read
func (s *BiddingService) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	if userID == "" || notificationID == "" {
		return fmt.Errorf("service: %w - missing userID or notificationID", biddingerrors.ErrNotificationNotFound)
	}

	if err := s.notifications.MarkNotificationRead(ctx, userID, notificationID); err != nil {
		return fmt.Errorf("service: failed to mark notification %s read: %w", notificationID, err)
	}
	return nil
}
