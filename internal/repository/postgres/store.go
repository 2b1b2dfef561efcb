// Package postgres is the pgx-backed implementation of the repository contracts.
// Every guarded write is a single conditional UPDATE, so it stays correct when
// several processes share the database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bidding-settlement/internal/biddingerrors"
	"bidding-settlement/internal/models"
	"bidding-settlement/internal/repository"
	"bidding-settlement/internal/repository/postgres/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ repository.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn, checks the connection and applies migrations
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := migrations.Apply(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return pool, nil
}

// WithTx runs fn in one transaction; store calls made with the ctx passed to fn join it
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, s.pool, fn)
}

const auctionColumns = `id, seller_id, title, start_price, current_bid, start_time, end_time, status, winner_id, version, created_at`

func scanAuction(row pgx.Row) (models.Auction, error) {
	var (
		a          models.Auction
		startPrice int64
		currentBid *int64
		status     string
	)
	err := row.Scan(&a.AuctionID, &a.SellerID, &a.Title, &startPrice, &currentBid,
		&a.StartTime, &a.EndTime, &status, &a.WinnerID, &a.Version, &a.CreatedAt)
	if err != nil {
		return models.Auction{}, err
	}
	a.StartPrice = models.Money(startPrice)
	if currentBid != nil {
		m := models.Money(*currentBid)
		a.CurrentBid = &m
	}
	a.Status = models.AuctionStatus(status)
	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func collectAuction(row pgx.CollectableRow) (models.Auction, error) {
	return scanAuction(row)
}

func collectBid(row pgx.CollectableRow) (models.Bid, error) {
	var (
		b      models.Bid
		amount int64
	)
	if err := row.Scan(&b.BidID, &b.AuctionID, &b.UserID, &amount, &b.CreatedAt); err != nil {
		return models.Bid{}, err
	}
	b.Amount = models.Money(amount)
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

func (s *Store) CreateAuction(ctx context.Context, a models.Auction) error {
	const stmt = `
INSERT INTO auctions (` + auctionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	var currentBid *int64
	if a.CurrentBid != nil {
		v := int64(*a.CurrentBid)
		currentBid = &v
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, stmt, a.AuctionID, a.SellerID, a.Title, int64(a.StartPrice), currentBid,
		a.StartTime, a.EndTime, string(a.Status), a.WinnerID, a.Version, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create auction %s: %w - duplicate id", a.AuctionID, biddingerrors.ErrInvalidAuction)
		}
		if isCheckViolation(err) {
			return fmt.Errorf("create auction %s: %w - %v", a.AuctionID, biddingerrors.ErrInvalidAuction, err)
		}
		return fmt.Errorf("create auction %s: %w", a.AuctionID, err)
	}
	return nil
}

func (s *Store) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	a, err := scanAuction(s.queryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
		}
		return models.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	return a, nil
}

func (s *Store) ListAuctionsDue(ctx context.Context, status models.AuctionStatus, now time.Time) ([]models.Auction, error) {
	var query string
	switch status {
	case models.AuctionPending:
		query = `SELECT ` + auctionColumns + ` FROM auctions WHERE status = $1 AND start_time <= $2 ORDER BY end_time`
	case models.AuctionActive:
		query = `SELECT ` + auctionColumns + ` FROM auctions WHERE status = $1 AND end_time <= $2 ORDER BY end_time`
	default:
		return nil, nil
	}

	rows, err := s.query(ctx, query, string(status), now)
	if err != nil {
		return nil, fmt.Errorf("list %s auctions due: %w", status, err)
	}
	auctions, err := pgx.CollectRows(rows, collectAuction)
	if err != nil {
		return nil, fmt.Errorf("list %s auctions due: %w", status, err)
	}
	return auctions, nil
}

func (s *Store) TransitionStatus(ctx context.Context, auctionID string, from, to models.AuctionStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("transition %s -> %s: %w", from, to, biddingerrors.ErrInvalidTransition)
	}

	const stmt = `UPDATE auctions SET status = $3, version = version + 1 WHERE id = $1 AND status = $2`
	tag, err := s.exec(ctx, stmt, auctionID, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("transition auction %s: %w", auctionID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, s.requireAuction(ctx, auctionID)
	}
	return true, nil
}

func (s *Store) CloseAuction(ctx context.Context, auctionID string, winnerID *string) (bool, error) {
	const stmt = `
UPDATE auctions SET status = 'ended', winner_id = $2, version = version + 1
WHERE id = $1 AND status = 'active'`

	tag, err := s.exec(ctx, stmt, auctionID, winnerID)
	if err != nil {
		return false, fmt.Errorf("close auction %s: %w", auctionID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, s.requireAuction(ctx, auctionID)
	}
	return true, nil
}

// RecordBid advances the auction with a compare-and-swap on version, then inserts the bid
func (s *Store) RecordBid(ctx context.Context, bid models.Bid, expectedVersion int64) (models.Auction, error) {
	const advance = `
UPDATE auctions SET current_bid = $2, version = version + 1
WHERE id = $1 AND version = $3 AND status = 'active'
RETURNING ` + auctionColumns

	const insert = `INSERT INTO bids (id, auction_id, user_id, amount, created_at) VALUES ($1, $2, $3, $4, $5)`

	var updated models.Auction
	err := s.WithTx(ctx, func(ctx context.Context) error {
		a, err := scanAuction(s.queryRow(ctx, advance, bid.AuctionID, int64(bid.Amount), expectedVersion))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				if err := s.requireAuction(ctx, bid.AuctionID); err != nil {
					return err
				}
				return fmt.Errorf("record bid for auction %s at version %d: %w", bid.AuctionID, expectedVersion, biddingerrors.ErrVersionConflict)
			}
			return fmt.Errorf("record bid for auction %s: %w", bid.AuctionID, err)
		}
		if _, err := s.exec(ctx, insert, bid.BidID, bid.AuctionID, bid.UserID, int64(bid.Amount), bid.CreatedAt); err != nil {
			return fmt.Errorf("insert bid %s: %w", bid.BidID, err)
		}
		updated = a
		return nil
	})
	if err != nil {
		return models.Auction{}, err
	}
	return updated, nil
}

func (s *Store) GetBidsByAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	const query = `
SELECT id, auction_id, user_id, amount, created_at FROM bids
WHERE auction_id = $1
ORDER BY amount DESC, created_at DESC`

	rows, err := s.query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	bids, err := pgx.CollectRows(rows, collectBid)
	if err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	if len(bids) == 0 {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return bids, nil
}

func (s *Store) GetHighestBid(ctx context.Context, auctionID string) (models.Bid, error) {
	const query = `
SELECT id, auction_id, user_id, amount, created_at FROM bids
WHERE auction_id = $1
ORDER BY amount DESC, created_at DESC
LIMIT 1`

	rows, err := s.query(ctx, query, auctionID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("get highest bid for auction %s: %w", auctionID, err)
	}
	bid, err := pgx.CollectOneRow(rows, collectBid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Bid{}, fmt.Errorf("get highest bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
		}
		return models.Bid{}, fmt.Errorf("get highest bid for auction %s: %w", auctionID, err)
	}
	return bid, nil
}

func (s *Store) GetAuctionsByUser(ctx context.Context, userID string) ([]models.Auction, error) {
	const query = `
SELECT a.id, a.seller_id, a.title, a.start_price, a.current_bid, a.start_time, a.end_time,
       a.status, a.winner_id, a.version, a.created_at
FROM auctions a
JOIN (
	SELECT auction_id, MIN(created_at) AS first_bid
	FROM bids WHERE user_id = $1
	GROUP BY auction_id
) b ON b.auction_id = a.id
ORDER BY b.first_bid`

	rows, err := s.query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, err)
	}
	auctions, err := pgx.CollectRows(rows, collectAuction)
	if err != nil {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, err)
	}
	if len(auctions) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}
	return auctions, nil
}

func (s *Store) requireAuction(ctx context.Context, auctionID string) error {
	var exists bool
	if err := s.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, auctionID).Scan(&exists); err != nil {
		return fmt.Errorf("check auction %s: %w", auctionID, err)
	}
	if !exists {
		return fmt.Errorf("auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return s.pool.Exec(ctx, sql, args...)
}

func (s *Store) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return s.pool.QueryRow(ctx, sql, args...)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return s.pool.Query(ctx, sql, args...)
}
