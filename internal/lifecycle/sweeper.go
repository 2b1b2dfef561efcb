// Package lifecycle runs the periodic sweep that opens started auctions and
// settles expired ones.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bidding-settlement/internal/biddingerrors"
	"bidding-settlement/internal/clock"
	"bidding-settlement/internal/fanout"
	"bidding-settlement/internal/keylock"
	"bidding-settlement/internal/ledger"
	"bidding-settlement/internal/metrics"
	"bidding-settlement/internal/models"
	"bidding-settlement/internal/repository"
	"bidding-settlement/utils"
)

const defaultInterval = 60 * time.Second

// Sweeper closes auctions whose end time has passed and settles their holds
type Sweeper struct {
	auctions      repository.AuctionDB
	notifications repository.NotificationDB
	ledger        *ledger.Ledger
	publisher     fanout.Publisher
	locks         *keylock.KeyedMutex
	clock         clock.Clock
	interval      time.Duration
}

type Option func(*Sweeper)

func WithClock(clk clock.Clock) Option {
	return func(s *Sweeper) {
		if clk != nil {
			s.clock = clk
		}
	}
}

func WithPublisher(p fanout.Publisher) Option {
	return func(s *Sweeper) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithAuctionLocks must be given the same locks as the bidding service
func WithAuctionLocks(locks *keylock.KeyedMutex) Option {
	return func(s *Sweeper) {
		if locks != nil {
			s.locks = locks
		}
	}
}

// WithInterval sets the tick period of Run
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func NewSweeper(auctions repository.AuctionDB, notifications repository.NotificationDB, l *ledger.Ledger, opts ...Option) *Sweeper {
	s := &Sweeper{
		auctions:      auctions,
		notifications: notifications,
		ledger:        l,
		publisher:     fanout.Nop{},
		locks:         keylock.New(),
		clock:         clock.NewSystem(),
		interval:      defaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepReport counts what one sweep did
type SweepReport struct {
	Activated int
	Closed    int
	Failed    int
}

// Run sweeps once per interval until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	utils.Info("lifecycle: sweeper started", map[string]any{"interval": s.interval.String()})

	for {
		select {
		case <-ctx.Done():
			utils.Info("lifecycle: sweeper stopped", nil)
			return
		case <-ticker.C:
			report := s.Sweep(ctx, s.clock.Now())
			if report != (SweepReport{}) {
				utils.Info("lifecycle: sweep finished", map[string]any{
					"activated": report.Activated,
					"closed":    report.Closed,
					"failed":    report.Failed,
				})
			}
		}
	}
}

// Sweep activates pending auctions that have started and settles active auctions
// that have ended as of now. A failing auction is logged and left for the next sweep.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) SweepReport {
	started := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(started).Seconds()) }()

	var report SweepReport

	pending, err := s.auctions.ListAuctionsDue(ctx, models.AuctionPending, now)
	if err != nil {
		utils.Error("lifecycle: failed to list pending auctions", map[string]any{"error": err.Error()})
		report.Failed++
	}
	for _, a := range pending {
		ok, err := s.auctions.TransitionStatus(ctx, a.AuctionID, models.AuctionPending, models.AuctionActive)
		if err != nil {
			utils.Error("lifecycle: failed to activate auction", map[string]any{"auction_id": a.AuctionID, "error": err.Error()})
			report.Failed++
			continue
		}
		if ok {
			report.Activated++
		}
	}

	// auctions activated above may already be past their end time
	due, err := s.auctions.ListAuctionsDue(ctx, models.AuctionActive, now)
	if err != nil {
		utils.Error("lifecycle: failed to list expired auctions", map[string]any{"error": err.Error()})
		report.Failed++
		return report
	}
	for _, a := range due {
		closed, err := s.Settle(ctx, a.AuctionID, now)
		if err != nil {
			metrics.SettlementFailures.Inc()
			utils.Error("lifecycle: settlement failed, will retry next sweep", map[string]any{
				"auction_id": a.AuctionID,
				"error":      err.Error(),
			})
			report.Failed++
			continue
		}
		if closed {
			report.Closed++
		}
	}

	return report
}

// Settle closes one expired auction: losers' holds are released, the winner keeps
// theirs, everyone involved is notified, and the auction moves to ended last.
// It reports false without error when the auction is not active or not yet over.
// Repeating it after a partial failure only redoes the missing steps.
func (s *Sweeper) Settle(ctx context.Context, auctionID string, now time.Time) (bool, error) {
	ctx = context.WithoutCancel(ctx)

	unlock := s.locks.Lock(auctionID)
	defer unlock()

	auction, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return false, fmt.Errorf("lifecycle: load auction %s: %w", auctionID, err)
	}
	if auction.Status != models.AuctionActive || auction.EndTime.After(now) {
		return false, nil
	}

	bids, err := s.auctions.GetBidsByAuction(ctx, auctionID)
	if err != nil && !errors.Is(err, biddingerrors.ErrNoBids) {
		return false, fmt.Errorf("lifecycle: leaderboard of auction %s: %w", auctionID, err)
	}

	var winnerID *string
	if len(bids) > 0 {
		winner := bids[0].UserID
		winnerID = &winner

		if err := s.notify(ctx, auction, winner, models.NotificationWon, now); err != nil {
			return false, err
		}

		for _, loser := range losers(bids) {
			released, err := s.ledger.Release(ctx, auctionID, loser, models.ReasonAuctionEndedUnblocked)
			if err != nil {
				return false, fmt.Errorf("lifecycle: release hold of %s on auction %s: %w", loser, auctionID, err)
			}
			if released > 0 {
				utils.Info("lifecycle: released losing hold", map[string]any{
					"auction_id": auctionID,
					"user_id":    loser,
					"amount":     released.String(),
				})
			}
			if err := s.notify(ctx, auction, loser, models.NotificationOutbid, now); err != nil {
				return false, err
			}
		}
	}

	if err := s.releaseStrayHolds(ctx, auctionID, winnerID); err != nil {
		return false, err
	}

	closed, err := s.auctions.CloseAuction(ctx, auctionID, winnerID)
	if err != nil {
		return false, fmt.Errorf("lifecycle: close auction %s: %w", auctionID, err)
	}
	if !closed {
		return false, nil
	}

	outcome := "no_bids"
	if winnerID != nil {
		outcome = "won"
	}
	metrics.AuctionsSettled.WithLabelValues(outcome).Inc()

	s.publisher.PublishAuction(auctionID, models.EventAuctionEnded, models.AuctionEndedEvent{
		AuctionID: auctionID,
		WinnerID:  winnerID,
	})

	fields := map[string]any{"auction_id": auctionID, "bids": len(bids)}
	if winnerID != nil {
		fields["winner_id"] = *winnerID
		fields["winning_bid"] = bids[0].Amount.String()
	}
	utils.Info("lifecycle: auction closed", fields)

	return true, nil
}

// releaseStrayHolds frees any hold left on the auction that does not back the winning bid,
// such as one whose rollback failed after a rejected bid.
func (s *Sweeper) releaseStrayHolds(ctx context.Context, auctionID string, winnerID *string) error {
	holds, err := s.ledger.HoldsOnAuction(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}
	for _, h := range holds {
		if winnerID != nil && h.UserID == *winnerID {
			continue
		}
		released, err := s.ledger.Release(ctx, auctionID, h.UserID, models.ReasonAuctionEndedUnblocked)
		if err != nil {
			return fmt.Errorf("lifecycle: release stray hold of %s on auction %s: %w", h.UserID, auctionID, err)
		}
		if released > 0 {
			utils.Warn("lifecycle: released hold without a losing bid", map[string]any{
				"auction_id": auctionID,
				"user_id":    h.UserID,
				"amount":     released.String(),
			})
		}
	}
	return nil
}

// losers returns every distinct bidder except the leader, in leaderboard order
func losers(leaderboard []models.Bid) []string {
	if len(leaderboard) == 0 {
		return nil
	}
	seen := map[string]bool{leaderboard[0].UserID: true}
	var out []string
	for _, b := range leaderboard[1:] {
		if seen[b.UserID] {
			continue
		}
		seen[b.UserID] = true
		out = append(out, b.UserID)
	}
	return out
}

func (s *Sweeper) notify(ctx context.Context, auction models.Auction, userID string, kind models.NotificationKind, now time.Time) error {
	n := models.Notification{
		NotificationID: utils.GenerateID(),
		UserID:         userID,
		AuctionID:      auction.AuctionID,
		Kind:           kind,
		Message:        notificationMessage(kind, auction),
		CreatedAt:      now,
	}

	stored, created, err := s.notifications.CreateNotification(ctx, n)
	if err != nil {
		return fmt.Errorf("lifecycle: notify %s about auction %s: %w", userID, auction.AuctionID, err)
	}
	if created {
		s.publisher.PublishUser(userID, models.EventNotificationCreated, models.NewNotificationCreatedEvent(stored))
	}
	return nil
}

func notificationMessage(kind models.NotificationKind, auction models.Auction) string {
	name := auction.Title
	if name == "" {
		name = auction.AuctionID
	}
	switch kind {
	case models.NotificationWon:
		return fmt.Sprintf("You won the auction for %q. Your blocked funds will be applied at checkout.", name)
	default:
		return fmt.Sprintf("You were outbid in the auction for %q. Your blocked funds have been released.", name)
	}
}
