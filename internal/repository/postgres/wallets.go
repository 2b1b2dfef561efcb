package postgres

import (
	"context"
	"errors"
	"fmt"

	"bidding-settlement/internal/biddingerrors"
	"bidding-settlement/internal/models"

	"github.com/jackc/pgx/v5"
)

func scanWallet(row pgx.Row) (models.Wallet, error) {
	var (
		w       models.Wallet
		balance int64
	)
	if err := row.Scan(&w.UserID, &balance, &w.UpdatedAt); err != nil {
		return models.Wallet{}, err
	}
	w.Balance = models.Money(balance)
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func (s *Store) CreateWallet(ctx context.Context, userID string) (models.Wallet, error) {
	if userID == "" {
		return models.Wallet{}, fmt.Errorf("create wallet: %w - empty user id", biddingerrors.ErrUserNotFound)
	}
	if _, err := s.exec(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return models.Wallet{}, fmt.Errorf("create wallet %s: %w", userID, err)
	}
	return s.GetWallet(ctx, userID)
}

func (s *Store) GetWallet(ctx context.Context, userID string) (models.Wallet, error) {
	w, err := scanWallet(s.queryRow(ctx, `SELECT user_id, balance, updated_at FROM wallets WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Wallet{}, fmt.Errorf("get wallet %s: %w", userID, biddingerrors.ErrUserNotFound)
		}
		return models.Wallet{}, fmt.Errorf("get wallet %s: %w", userID, err)
	}
	return w, nil
}

// AdjustBalance applies delta only if the balance stays non-negative
func (s *Store) AdjustBalance(ctx context.Context, userID string, delta models.Money) (models.Wallet, error) {
	const stmt = `
UPDATE wallets SET balance = balance + $2, updated_at = NOW()
WHERE user_id = $1 AND balance + $2 >= 0
RETURNING user_id, balance, updated_at`

	w, err := scanWallet(s.queryRow(ctx, stmt, userID, int64(delta)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Wallet{}, s.explainMissedUpdate(ctx, userID, delta)
		}
		return models.Wallet{}, fmt.Errorf("adjust balance %s: %w", userID, err)
	}
	return w, nil
}

// MoveToHold moves delta between balance and hold in one transaction.
// The hold row is changed first so a release can never exceed what is held.
func (s *Store) MoveToHold(ctx context.Context, auctionID, userID string, delta models.Money) (models.Wallet, models.Hold, error) {
	const upsertHold = `
INSERT INTO holds (auction_id, user_id, amount) VALUES ($1, $2, $3)
ON CONFLICT (auction_id, user_id) DO UPDATE SET amount = holds.amount + EXCLUDED.amount
WHERE holds.amount + EXCLUDED.amount >= 0
RETURNING amount`

	var (
		wallet models.Wallet
		hold   = models.Hold{AuctionID: auctionID, UserID: userID}
	)

	err := s.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.GetWallet(ctx, userID); err != nil {
			return fmt.Errorf("move to hold: %w", err)
		}

		var held int64
		if err := s.queryRow(ctx, upsertHold, auctionID, userID, int64(delta)).Scan(&held); err != nil {
			if errors.Is(err, pgx.ErrNoRows) || isCheckViolation(err) {
				return fmt.Errorf("release %s from hold on %s for %s: %w - more than held", -delta, auctionID, userID, biddingerrors.ErrInvalidAmount)
			}
			return fmt.Errorf("move %s to hold on %s for %s: %w", delta, auctionID, userID, err)
		}
		hold.Amount = models.Money(held)

		w, err := s.AdjustBalance(ctx, userID, -delta)
		if err != nil {
			return fmt.Errorf("move %s to hold on %s for %s: %w", delta, auctionID, userID, err)
		}
		wallet = w

		if held == 0 {
			if _, err := s.exec(ctx, `DELETE FROM holds WHERE auction_id = $1 AND user_id = $2 AND amount = 0`, auctionID, userID); err != nil {
				return fmt.Errorf("drop empty hold on %s for %s: %w", auctionID, userID, err)
			}
		}
		return nil
	})
	if err != nil {
		return models.Wallet{}, models.Hold{}, err
	}
	return wallet, hold, nil
}

func (s *Store) GetHold(ctx context.Context, auctionID, userID string) (models.Hold, error) {
	hold := models.Hold{AuctionID: auctionID, UserID: userID}

	var amount int64
	err := s.queryRow(ctx, `SELECT amount FROM holds WHERE auction_id = $1 AND user_id = $2`, auctionID, userID).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return hold, nil
		}
		return models.Hold{}, fmt.Errorf("get hold of %s on %s: %w", userID, auctionID, err)
	}
	hold.Amount = models.Money(amount)
	return hold, nil
}

func (s *Store) ListHoldsByUser(ctx context.Context, userID string) ([]models.Hold, error) {
	rows, err := s.query(ctx, `SELECT auction_id, user_id, amount FROM holds WHERE user_id = $1 AND amount > 0 ORDER BY auction_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list holds of %s: %w", userID, err)
	}
	holds, err := pgx.CollectRows(rows, scanHold)
	if err != nil {
		return nil, fmt.Errorf("list holds of %s: %w", userID, err)
	}
	return holds, nil
}

func (s *Store) ListHoldsByAuction(ctx context.Context, auctionID string) ([]models.Hold, error) {
	rows, err := s.query(ctx, `SELECT auction_id, user_id, amount FROM holds WHERE auction_id = $1 AND amount > 0 ORDER BY user_id`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list holds on %s: %w", auctionID, err)
	}
	holds, err := pgx.CollectRows(rows, scanHold)
	if err != nil {
		return nil, fmt.Errorf("list holds on %s: %w", auctionID, err)
	}
	return holds, nil
}

func scanHold(row pgx.CollectableRow) (models.Hold, error) {
	var (
		h      models.Hold
		amount int64
	)
	if err := row.Scan(&h.AuctionID, &h.UserID, &amount); err != nil {
		return models.Hold{}, err
	}
	h.Amount = models.Money(amount)
	return h, nil
}

// explainMissedUpdate tells a missing wallet apart from a guarded balance
func (s *Store) explainMissedUpdate(ctx context.Context, userID string, delta models.Money) error {
	if _, err := s.GetWallet(ctx, userID); err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	return fmt.Errorf("adjust balance %s by %s: %w", userID, delta, biddingerrors.ErrInsufficientFunds)
}
