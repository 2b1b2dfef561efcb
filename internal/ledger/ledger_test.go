package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"bidding-settlement/internal/biddingerrors"
	"bidding-settlement/internal/fanout"
	"bidding-settlement/internal/models"
	"bidding-settlement/internal/repository"

	"github.com/stretchr/testify/require"
)

func newLedger(balances map[string]models.Money) (*Ledger, *repository.MemoryRepo, *fanout.Recorder) {
	repo := repository.NewMemoryRepo()
	for user, bal := range balances {
		repo.SetBalance(user, bal)
	}
	rec := fanout.NewRecorder()
	return New(repo, rec), repo, rec
}

func TestLedger_DebitCredit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name          string
		balance       models.Money
		debit         models.Money
		wantBalance   models.Money
		expectedError error
	}{
		{name: "debit_within_balance", balance: 10000, debit: 2500, wantBalance: 7500},
		{name: "debit_entire_balance", balance: 2500, debit: 2500, wantBalance: 0},
		{name: "insufficient_funds", balance: 2499, debit: 2500, expectedError: biddingerrors.ErrInsufficientFunds},
		{name: "zero_debit", balance: 100, debit: 0, expectedError: biddingerrors.ErrInvalidAmount},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			l, _, rec := newLedger(map[string]models.Money{"user1": tc.balance})

			bal, err := l.Debit(ctx, "user1", tc.debit, models.ReasonPurchase)
			if tc.expectedError != nil {
				require.ErrorIs(t, err, tc.expectedError)
				require.Empty(t, rec.Events())
				after, err := l.Balance(ctx, "user1")
				require.NoError(t, err)
				require.Equal(t, tc.balance, after)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantBalance, bal)

			events := rec.OfType(models.EventWalletChanged, "user:user1")
			require.Len(t, events, 1)
			require.Equal(t, models.WalletChangedEvent{
				UserID:     "user1",
				NewBalance: tc.wantBalance,
				Change:     -tc.debit,
				Reason:     models.ReasonPurchase,
			}, events[0].Payload)
		})
	}

	t.Run("credit_unknown_user", func(t *testing.T) {
		t.Parallel()

		l, _, _ := newLedger(nil)
		_, err := l.Credit(ctx, "ghost", 100, models.ReasonUnblocked)
		require.ErrorIs(t, err, biddingerrors.ErrUserNotFound)
	})

	t.Run("credit_zero_is_silent", func(t *testing.T) {
		t.Parallel()

		l, _, rec := newLedger(map[string]models.Money{"user1": 100})
		bal, err := l.Credit(ctx, "user1", 0, models.ReasonUnblocked)
		require.NoError(t, err)
		require.Equal(t, models.Money(100), bal)
		require.Empty(t, rec.Events())
	})
}

func TestLedger_AddFunds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _, rec := newLedger(nil)

	bal, err := l.AddFunds(ctx, "user1", 5000)
	require.NoError(t, err)
	require.Equal(t, models.Money(5000), bal)

	bal, err = l.AddFunds(ctx, "user1", 250)
	require.NoError(t, err)
	require.Equal(t, models.Money(5250), bal)

	_, err = l.AddFunds(ctx, "user1", -1)
	require.ErrorIs(t, err, biddingerrors.ErrInvalidAmount)
	_, err = l.AddFunds(ctx, "", 10)
	require.ErrorIs(t, err, biddingerrors.ErrUserNotFound)

	events := rec.OfType(models.EventWalletChanged, "user:user1")
	require.Len(t, events, 2)
	require.Equal(t, models.ReasonAdded, events[1].Payload.(models.WalletChangedEvent).Reason)
}

func TestLedger_BlockAndRelease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _, rec := newLedger(map[string]models.Money{"user1": 10000})

	bal, err := l.Block(ctx, "auction1", "user1", 5000)
	require.NoError(t, err)
	require.Equal(t, models.Money(5000), bal)

	bal, err = l.Block(ctx, "auction1", "user1", 400)
	require.NoError(t, err)
	require.Equal(t, models.Money(4600), bal)

	held, err := l.Held(ctx, "auction1", "user1")
	require.NoError(t, err)
	require.Equal(t, models.Money(5400), held)

	_, err = l.Block(ctx, "auction2", "user1", 4601)
	require.ErrorIs(t, err, biddingerrors.ErrInsufficientFunds)

	released, err := l.Release(ctx, "auction1", "user1", models.ReasonUnblocked)
	require.NoError(t, err)
	require.Equal(t, models.Money(5400), released)

	released, err = l.Release(ctx, "auction1", "user1", models.ReasonUnblocked)
	require.NoError(t, err)
	require.Equal(t, models.Money(0), released)

	st, err := l.Statement(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, models.Money(10000), st.Wallet.Balance)
	require.Equal(t, models.Money(0), st.Held)
	require.Empty(t, st.Holds)

	// two blocks and one release; the empty release and the failed block emit nothing
	require.Len(t, rec.OfType(models.EventWalletChanged, "user:user1"), 3)
}

func TestLedger_Unblock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _, _ := newLedger(map[string]models.Money{"user1": 1000})

	_, err := l.Block(ctx, "auction1", "user1", 600)
	require.NoError(t, err)

	bal, err := l.Unblock(ctx, "auction1", "user1", 200, models.ReasonUnblocked)
	require.NoError(t, err)
	require.Equal(t, models.Money(600), bal)

	_, err = l.Unblock(ctx, "auction1", "user1", 401, models.ReasonUnblocked)
	require.ErrorIs(t, err, biddingerrors.ErrInvalidAmount)

	st, err := l.Statement(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, models.Money(1000), st.Wallet.Balance+st.Held)
}

func TestLedger_ConcurrentMovesConserveFunds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _, _ := newLedger(map[string]models.Money{"user1": 100000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			auctionID := fmt.Sprintf("auction-%d", i%5)
			if _, err := l.Block(ctx, auctionID, "user1", 700); err != nil {
				return
			}
			if i%2 == 0 {
				_, _ = l.Release(ctx, auctionID, "user1", models.ReasonUnblocked)
			}
		}()
	}
	wg.Wait()

	st, err := l.Statement(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, models.Money(100000), st.Wallet.Balance+st.Held)
	require.GreaterOrEqual(t, st.Wallet.Balance, models.Money(0))
}
