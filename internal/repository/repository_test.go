package repository

import (
	"bidding-settlement/internal/biddingerrors"
	model "bidding-settlement/internal/models"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// Helper to create a new active Auction
func newAuction(auctionID string, startPrice model.Money) model.Auction {
	return model.Auction{
		AuctionID:  auctionID,
		SellerID:   "seller1",
		Title:      fmt.Sprintf("%s title", auctionID),
		StartPrice: startPrice,
		StartTime:  baseTime.Add(-time.Hour),
		EndTime:    baseTime.Add(time.Hour),
		Status:     model.AuctionActive,
	}
}

// Helper to create a new Bid
func newBid(bidID, auctionID, userID string, amount model.Money, createdAt time.Time) model.Bid {
	return model.Bid{
		BidID:     bidID,
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    amount,
		CreatedAt: createdAt,
	}
}

// Helper to record bids at whatever version the auction is currently at
func recordBids(t *testing.T, repo *MemoryRepo, bids ...model.Bid) {
	t.Helper()
	ctx := context.Background()
	for _, b := range bids {
		a, err := repo.GetAuction(ctx, b.AuctionID)
		require.NoError(t, err)
		_, err = repo.RecordBid(ctx, b, a.Version)
		require.NoError(t, err)
	}
}

// Test RecordBid
func TestMemoryRepo_RecordBid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name          string
		setup         func(repo *MemoryRepo)
		bid           model.Bid
		version       int64
		expectedError error
	}{
		{
			name:    "valid_bid",
			setup:   func(repo *MemoryRepo) { repo.AddAuction(newAuction("auction1", 5000)) },
			bid:     newBid("bid1", "auction1", "user1", 5100, baseTime),
			version: 0,
		},
		{
			name:          "auction_not_found",
			setup:         func(repo *MemoryRepo) {},
			bid:           newBid("bid2", "auctionX", "user1", 5100, baseTime),
			expectedError: biddingerrors.ErrAuctionNotFound,
		},
		{
			name:          "stale_version",
			setup:         func(repo *MemoryRepo) { repo.AddAuction(newAuction("auction1", 5000)) },
			bid:           newBid("bid3", "auction1", "user1", 5100, baseTime),
			version:       7,
			expectedError: biddingerrors.ErrVersionConflict,
		},
		{
			name: "auction_already_ended",
			setup: func(repo *MemoryRepo) {
				a := newAuction("auction1", 5000)
				a.Status = model.AuctionEnded
				repo.AddAuction(a)
			},
			bid:           newBid("bid4", "auction1", "user1", 5100, baseTime),
			expectedError: biddingerrors.ErrVersionConflict,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo := NewMemoryRepo()
			tc.setup(repo)

			updated, err := repo.RecordBid(ctx, tc.bid, tc.version)
			if tc.expectedError != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.expectedError), "expected error: %v, got: %v", tc.expectedError, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, updated.CurrentBid)
			require.Equal(t, tc.bid.Amount, *updated.CurrentBid)
			require.Equal(t, tc.version+1, updated.Version)

			bids, err := repo.GetBidsByAuction(ctx, tc.bid.AuctionID)
			require.NoError(t, err)
			require.Contains(t, bids, tc.bid)
		})
	}

	// concurrency test: only one writer can win each version
	t.Run("concurrent_bids_same_version", func(t *testing.T) {
		t.Parallel()

		repo := NewMemoryRepo()
		repo.AddAuction(newAuction("auction1", 5000))

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			i := i
			go func() {
				defer wg.Done()
				b := newBid(fmt.Sprintf("bid-%d", i), "auction1", fmt.Sprintf("user-%d", i), model.Money(5100+i), baseTime)
				if _, err := repo.RecordBid(ctx, b, 0); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				} else {
					require.ErrorIs(t, err, biddingerrors.ErrVersionConflict)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, succeeded)
		bids, err := repo.GetBidsByAuction(ctx, "auction1")
		require.NoError(t, err)
		require.Len(t, bids, 1)
	})
}

// Test GetBidsByAuction
func TestMemoryRepo_GetBidsByAuction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	repo.AddAuction(newAuction("auction1", 5000))
	repo.AddAuction(newAuction("auction2", 7500))
	repo.AddAuction(newAuction("auction3", 100))

	bid1 := newBid("bid1", "auction1", "user1", 5100, baseTime)
	bid2 := newBid("bid2", "auction1", "user2", 6000, baseTime.Add(time.Second))
	bid3 := newBid("bid3", "auction1", "user1", 6500, baseTime.Add(2*time.Second))
	recordBids(t, repo, bid1, bid2, bid3)

	var largeBids []model.Bid
	for i := 0; i < 1000; i++ {
		largeBids = append(largeBids, newBid(fmt.Sprintf("bid-large-%d", i), "auction3", fmt.Sprintf("user-%d", i), model.Money(101+i), baseTime.Add(time.Duration(i)*time.Millisecond)))
	}
	recordBids(t, repo, largeBids...)

	tests := []struct {
		name      string
		auctionID string
		wantBids  []model.Bid
		wantError bool
	}{
		{name: "leaderboard_order", auctionID: "auction1", wantBids: []model.Bid{bid3, bid2, bid1}},
		{name: "auction_without_bids", auctionID: "auction2", wantError: true},
		{name: "unknown_auction", auctionID: "auctionX", wantError: true},
		{name: "empty_auctionID", auctionID: "", wantError: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			bids, err := repo.GetBidsByAuction(ctx, tc.auctionID)
			if tc.wantError {
				require.ErrorIs(t, err, biddingerrors.ErrNoBids)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantBids, bids)
		})
	}

	t.Run("large_leaderboard_is_descending", func(t *testing.T) {
		t.Parallel()

		bids, err := repo.GetBidsByAuction(ctx, "auction3")
		require.NoError(t, err)
		require.Len(t, bids, 1000)
		for i := 1; i < len(bids); i++ {
			require.Greater(t, bids[i-1].Amount, bids[i].Amount)
		}
	})

	t.Run("concurrent_reads", func(t *testing.T) {
		t.Parallel()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				bids, err := repo.GetBidsByAuction(ctx, "auction1")
				require.NoError(t, err)
				require.Equal(t, []model.Bid{bid3, bid2, bid1}, bids)
			}()
		}
		wg.Wait()
	})
}

// Test GetHighestBid
func TestMemoryRepo_GetHighestBid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	repo.AddAuction(newAuction("auction1", 5000))
	repo.AddAuction(newAuction("auction2", 5000))
	repo.AddAuction(newAuction("auction3", 5000))

	bid1 := newBid("bid1", "auction1", "user1", 5100, baseTime)
	bid2 := newBid("bid2", "auction1", "user2", 6000, baseTime.Add(time.Second))
	recordBids(t, repo, bid1, bid2)

	// equal amounts can only appear through direct seeding; the most recent wins
	tieOld := newBid("bid-tie-old", "auction3", "userA", 9000, baseTime)
	tieNew := newBid("bid-tie-new", "auction3", "userB", 9000, baseTime.Add(time.Second))
	recordBids(t, repo, tieOld, tieNew)

	tests := []struct {
		name      string
		auctionID string
		wantBid   model.Bid
		wantError bool
	}{
		{name: "auction_with_bids", auctionID: "auction1", wantBid: bid2},
		{name: "auction_without_bids", auctionID: "auction2", wantError: true},
		{name: "tie_most_recent_wins", auctionID: "auction3", wantBid: tieNew},
		{name: "unknown_auction", auctionID: "auctionX", wantError: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			bid, err := repo.GetHighestBid(ctx, tc.auctionID)
			if tc.wantError {
				require.ErrorIs(t, err, biddingerrors.ErrNoBids)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantBid, bid)
		})
	}
}

// Test GetAuctionsByUser
func TestMemoryRepo_GetAuctionsByUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	repo.AddAuction(newAuction("auction1", 5000))
	repo.AddAuction(newAuction("auction2", 7500))

	recordBids(t, repo,
		newBid("bid1", "auction1", "user1", 5100, baseTime),
		newBid("bid2", "auction2", "user1", 7600, baseTime),
		newBid("bid3", "auction1", "user2", 5200, baseTime),
		newBid("bid4", "auction1", "user1", 5300, baseTime),
	)

	tests := []struct {
		name      string
		userID    string
		wantIDs   []string
		wantError bool
	}{
		{name: "user_with_multiple_auctions", userID: "user1", wantIDs: []string{"auction1", "auction2"}},
		{name: "user_with_single_auction", userID: "user2", wantIDs: []string{"auction1"}},
		{name: "user_without_bids", userID: "userX", wantError: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			auctions, err := repo.GetAuctionsByUser(ctx, tc.userID)
			if tc.wantError {
				require.ErrorIs(t, err, biddingerrors.ErrUserNoBids)
				return
			}
			require.NoError(t, err)
			ids := make([]string, 0, len(auctions))
			for _, a := range auctions {
				ids = append(ids, a.AuctionID)
			}
			require.ElementsMatch(t, tc.wantIDs, ids)
		})
	}
}

// Test status transitions and closing
func TestMemoryRepo_StatusTransitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("pending_to_active_once", func(t *testing.T) {
		t.Parallel()

		repo := NewMemoryRepo()
		a := newAuction("auction1", 5000)
		a.Status = model.AuctionPending
		repo.AddAuction(a)

		ok, err := repo.TransitionStatus(ctx, "auction1", model.AuctionPending, model.AuctionActive)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = repo.TransitionStatus(ctx, "auction1", model.AuctionPending, model.AuctionActive)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("backward_transition_rejected", func(t *testing.T) {
		t.Parallel()

		repo := NewMemoryRepo()
		repo.AddAuction(newAuction("auction1", 5000))

		_, err := repo.TransitionStatus(ctx, "auction1", model.AuctionEnded, model.AuctionActive)
		require.ErrorIs(t, err, biddingerrors.ErrInvalidTransition)
	})

	t.Run("close_is_guarded", func(t *testing.T) {
		t.Parallel()

		repo := NewMemoryRepo()
		repo.AddAuction(newAuction("auction1", 5000))
		winner := "user1"

		ok, err := repo.CloseAuction(ctx, "auction1", &winner)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = repo.CloseAuction(ctx, "auction1", nil)
		require.NoError(t, err)
		require.False(t, ok)

		a, err := repo.GetAuction(ctx, "auction1")
		require.NoError(t, err)
		require.Equal(t, model.AuctionEnded, a.Status)
		require.NotNil(t, a.WinnerID)
		require.Equal(t, "user1", *a.WinnerID)
	})

	t.Run("list_due", func(t *testing.T) {
		t.Parallel()

		repo := NewMemoryRepo()
		expired := newAuction("expired", 5000)
		expired.EndTime = baseTime.Add(-time.Minute)
		repo.AddAuction(expired)
		repo.AddAuction(newAuction("running", 5000))
		startable := newAuction("startable", 5000)
		startable.Status = model.AuctionPending
		repo.AddAuction(startable)
		future := newAuction("future", 5000)
		future.Status = model.AuctionPending
		future.StartTime = baseTime.Add(time.Minute)
		repo.AddAuction(future)

		active, err := repo.ListAuctionsDue(ctx, model.AuctionActive, baseTime)
		require.NoError(t, err)
		require.Len(t, active, 1)
		require.Equal(t, "expired", active[0].AuctionID)

		pending, err := repo.ListAuctionsDue(ctx, model.AuctionPending, baseTime)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, "startable", pending[0].AuctionID)
	})
}

// Test wallet and hold movements
func TestMemoryRepo_Wallets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name          string
		balance       model.Money
		held          model.Money
		delta         model.Money
		wantBalance   model.Money
		wantHeld      model.Money
		expectedError error
	}{
		{name: "block_within_balance", balance: 10000, delta: 5000, wantBalance: 5000, wantHeld: 5000},
		{name: "block_entire_balance", balance: 5000, delta: 5000, wantBalance: 0, wantHeld: 5000},
		{name: "block_exceeds_balance", balance: 4999, delta: 5000, expectedError: biddingerrors.ErrInsufficientFunds},
		{name: "release_part_of_hold", balance: 0, held: 5000, delta: -400, wantBalance: 400, wantHeld: 4600},
		{name: "release_more_than_held", balance: 0, held: 100, delta: -400, expectedError: biddingerrors.ErrInvalidAmount},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo := NewMemoryRepo()
			repo.SetBalance("user1", tc.balance+tc.held)
			if tc.held > 0 {
				_, _, err := repo.MoveToHold(ctx, "auction1", "user1", tc.held)
				require.NoError(t, err)
			}

			w, h, err := repo.MoveToHold(ctx, "auction1", "user1", tc.delta)
			if tc.expectedError != nil {
				require.ErrorIs(t, err, tc.expectedError)
				after, getErr := repo.GetWallet(ctx, "user1")
				require.NoError(t, getErr)
				require.Equal(t, tc.balance, after.Balance)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantBalance, w.Balance)
			require.Equal(t, tc.wantHeld, h.Amount)
		})
	}

	t.Run("adjust_balance_never_negative", func(t *testing.T) {
		t.Parallel()

		repo := NewMemoryRepo()
		_, err := repo.AdjustBalance(ctx, "ghost", 100)
		require.ErrorIs(t, err, biddingerrors.ErrUserNotFound)

		_, err = repo.CreateWallet(ctx, "user1")
		require.NoError(t, err)
		_, err = repo.AdjustBalance(ctx, "user1", -1)
		require.ErrorIs(t, err, biddingerrors.ErrInsufficientFunds)

		w, err := repo.AdjustBalance(ctx, "user1", 2500)
		require.NoError(t, err)
		require.Equal(t, model.Money(2500), w.Balance)
	})

	t.Run("list_holds", func(t *testing.T) {
		t.Parallel()

		repo := NewMemoryRepo()
		repo.SetBalance("user1", 10000)
		_, _, err := repo.MoveToHold(ctx, "b-auction", "user1", 300)
		require.NoError(t, err)
		_, _, err = repo.MoveToHold(ctx, "a-auction", "user1", 200)
		require.NoError(t, err)
		_, _, err = repo.MoveToHold(ctx, "b-auction", "user1", -300)
		require.NoError(t, err)

		holds, err := repo.ListHoldsByUser(ctx, "user1")
		require.NoError(t, err)
		require.Equal(t, []model.Hold{{AuctionID: "a-auction", UserID: "user1", Amount: 200}}, holds)
	})

	t.Run("list_holds_by_auction", func(t *testing.T) {
		t.Parallel()

		repo := NewMemoryRepo()
		for _, user := range []string{"user1", "user2", "user3"} {
			repo.SetBalance(user, 10000)
		}
		_, _, err := repo.MoveToHold(ctx, "auction1", "user2", 700)
		require.NoError(t, err)
		_, _, err = repo.MoveToHold(ctx, "auction1", "user1", 500)
		require.NoError(t, err)
		_, _, err = repo.MoveToHold(ctx, "auction2", "user3", 900)
		require.NoError(t, err)
		_, _, err = repo.MoveToHold(ctx, "auction1", "user3", 100)
		require.NoError(t, err)
		_, _, err = repo.MoveToHold(ctx, "auction1", "user3", -100)
		require.NoError(t, err)

		holds, err := repo.ListHoldsByAuction(ctx, "auction1")
		require.NoError(t, err)
		require.Equal(t, []model.Hold{
			{AuctionID: "auction1", UserID: "user1", Amount: 500},
			{AuctionID: "auction1", UserID: "user2", Amount: 700},
		}, holds)

		holds, err = repo.ListHoldsByAuction(ctx, "missing")
		require.NoError(t, err)
		require.Empty(t, holds)
	})
}

// Test notifications
func TestMemoryRepo_Notifications(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()

	first := model.Notification{NotificationID: "n1", UserID: "user1", AuctionID: "auction1", Kind: model.NotificationWon, Message: "won"}
	stored, created, err := repo.CreateNotification(ctx, first)
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, stored.CreatedAt.IsZero())

	dup := model.Notification{NotificationID: "n2", UserID: "user1", AuctionID: "auction1", Kind: model.NotificationWon, Message: "won again"}
	stored, created, err = repo.CreateNotification(ctx, dup)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "n1", stored.NotificationID)

	other := model.Notification{NotificationID: "n3", UserID: "user1", AuctionID: "auction2", Kind: model.NotificationOutbid, Message: "outbid"}
	_, created, err = repo.CreateNotification(ctx, other)
	require.NoError(t, err)
	require.True(t, created)

	list, err := repo.ListNotifications(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "n3", list[0].NotificationID)

	require.NoError(t, repo.MarkNotificationRead(ctx, "user1", "n1"))
	require.ErrorIs(t, repo.MarkNotificationRead(ctx, "user2", "n1"), biddingerrors.ErrNotificationNotFound)

	list, err = repo.ListNotifications(ctx, "user1")
	require.NoError(t, err)
	require.True(t, list[1].Read)
	require.False(t, list[0].Read)
}
