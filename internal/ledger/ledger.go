// Package ledger is the only writer of wallet balances. Every mutation is
// serialized per user and announced on the user's fanout channel after it commits.
package ledger

import (
	"context"
	"fmt"

	"bidding-settlement/internal/biddingerrors"
	"bidding-settlement/internal/fanout"
	"bidding-settlement/internal/keylock"
	"bidding-settlement/internal/metrics"
	"bidding-settlement/internal/models"
	"bidding-settlement/internal/repository"
	"bidding-settlement/utils"
)

// Ledger moves money between users' available balances and their per-auction holds
type Ledger struct {
	store     repository.WalletDB
	publisher fanout.Publisher
	locks     *keylock.KeyedMutex
}

// New creates a Ledger backed by store. A nil publisher discards events.
func New(store repository.WalletDB, publisher fanout.Publisher) *Ledger {
	if publisher == nil {
		publisher = fanout.Nop{}
	}
	return &Ledger{
		store:     store,
		publisher: publisher,
		locks:     keylock.New(),
	}
}

// Debit takes amount from the user's balance, failing with ErrInsufficientFunds
func (l *Ledger) Debit(ctx context.Context, userID string, amount models.Money, reason models.WalletReason) (models.Money, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: %w - debit of %s", biddingerrors.ErrInvalidAmount, amount)
	}

	unlock := l.locks.Lock(userID)
	defer unlock()

	w, err := l.store.AdjustBalance(ctx, userID, -amount)
	if err != nil {
		return 0, fmt.Errorf("ledger: debit %s from %s: %w", amount, userID, err)
	}
	l.announce(w, -amount, reason)
	return w.Balance, nil
}

// Credit adds amount to the user's balance
func (l *Ledger) Credit(ctx context.Context, userID string, amount models.Money, reason models.WalletReason) (models.Money, error) {
	if amount < 0 {
		return 0, fmt.Errorf("ledger: %w - credit of %s", biddingerrors.ErrInvalidAmount, amount)
	}

	unlock := l.locks.Lock(userID)
	defer unlock()

	w, err := l.store.AdjustBalance(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("ledger: credit %s to %s: %w", amount, userID, err)
	}
	if amount > 0 {
		l.announce(w, amount, reason)
	}
	return w.Balance, nil
}

// AddFunds tops up a wallet from outside the bidding core, creating it on first use
func (l *Ledger) AddFunds(ctx context.Context, userID string, amount models.Money) (models.Money, error) {
	if userID == "" {
		return 0, fmt.Errorf("ledger: %w - empty user id", biddingerrors.ErrUserNotFound)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: %w - top-up of %s", biddingerrors.ErrInvalidAmount, amount)
	}
	if _, err := l.store.CreateWallet(ctx, userID); err != nil {
		return 0, fmt.Errorf("ledger: create wallet %s: %w", userID, err)
	}
	return l.Credit(ctx, userID, amount, models.ReasonAdded)
}

// Block debits amount and earmarks it against the auction in one atomic step
func (l *Ledger) Block(ctx context.Context, auctionID, userID string, amount models.Money) (models.Money, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: %w - block of %s", biddingerrors.ErrInvalidAmount, amount)
	}

	unlock := l.locks.Lock(userID)
	defer unlock()

	w, _, err := l.store.MoveToHold(ctx, auctionID, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("ledger: block %s for %s on auction %s: %w", amount, userID, auctionID, err)
	}
	l.announce(w, -amount, models.ReasonBlocked)
	return w.Balance, nil
}

// Unblock returns part of a hold to the balance. It undoes a Block whose bid never committed.
func (l *Ledger) Unblock(ctx context.Context, auctionID, userID string, amount models.Money, reason models.WalletReason) (models.Money, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: %w - unblock of %s", biddingerrors.ErrInvalidAmount, amount)
	}

	unlock := l.locks.Lock(userID)
	defer unlock()

	w, _, err := l.store.MoveToHold(ctx, auctionID, userID, -amount)
	if err != nil {
		return 0, fmt.Errorf("ledger: unblock %s for %s on auction %s: %w", amount, userID, auctionID, err)
	}
	l.announce(w, amount, reason)
	return w.Balance, nil
}

// Release returns the user's whole hold on the auction to their balance and reports
// how much was released. Releasing an empty hold changes nothing.
func (l *Ledger) Release(ctx context.Context, auctionID, userID string, reason models.WalletReason) (models.Money, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()

	hold, err := l.store.GetHold(ctx, auctionID, userID)
	if err != nil {
		return 0, fmt.Errorf("ledger: read hold of %s on auction %s: %w", userID, auctionID, err)
	}
	if hold.Amount == 0 {
		return 0, nil
	}

	w, _, err := l.store.MoveToHold(ctx, auctionID, userID, -hold.Amount)
	if err != nil {
		return 0, fmt.Errorf("ledger: release %s for %s on auction %s: %w", hold.Amount, userID, auctionID, err)
	}
	l.announce(w, hold.Amount, reason)
	return hold.Amount, nil
}

// Balance returns the user's available balance
func (l *Ledger) Balance(ctx context.Context, userID string) (models.Money, error) {
	w, err := l.store.GetWallet(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("ledger: balance of %s: %w", userID, err)
	}
	return w.Balance, nil
}

// Held returns the user's hold on one auction
func (l *Ledger) Held(ctx context.Context, auctionID, userID string) (models.Money, error) {
	h, err := l.store.GetHold(ctx, auctionID, userID)
	if err != nil {
		return 0, fmt.Errorf("ledger: hold of %s on auction %s: %w", userID, auctionID, err)
	}
	return h.Amount, nil
}

// HoldsOnAuction returns every outstanding hold on one auction
func (l *Ledger) HoldsOnAuction(ctx context.Context, auctionID string) ([]models.Hold, error) {
	holds, err := l.store.ListHoldsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("ledger: holds on auction %s: %w", auctionID, err)
	}
	return holds, nil
}

// Statement is a user's wallet together with every outstanding hold
type Statement struct {
	Wallet models.Wallet `json:"wallet"`
	Holds  []models.Hold `json:"holds"`
	Held   models.Money  `json:"held"`
}

// Statement returns the user's balance and holds. Balance + Held is what the user owns inside the core.
func (l *Ledger) Statement(ctx context.Context, userID string) (Statement, error) {
	w, err := l.store.GetWallet(ctx, userID)
	if err != nil {
		return Statement{}, fmt.Errorf("ledger: statement of %s: %w", userID, err)
	}
	holds, err := l.store.ListHoldsByUser(ctx, userID)
	if err != nil {
		return Statement{}, fmt.Errorf("ledger: holds of %s: %w", userID, err)
	}
	st := Statement{Wallet: w, Holds: holds}
	if st.Holds == nil {
		st.Holds = []models.Hold{}
	}
	for _, h := range holds {
		st.Held += h.Amount
	}
	return st, nil
}

func (l *Ledger) announce(w models.Wallet, change models.Money, reason models.WalletReason) {
	metrics.WalletMovements.WithLabelValues(string(reason)).Inc()
	l.publisher.PublishUser(w.UserID, models.EventWalletChanged, models.WalletChangedEvent{
		UserID:     w.UserID,
		NewBalance: w.Balance,
		Change:     change,
		Reason:     reason,
	})
	utils.Debug("ledger: balance changed", map[string]any{
		"user_id":     w.UserID,
		"new_balance": w.Balance.String(),
		"change":      change.String(),
		"reason":      string(reason),
	})
}
