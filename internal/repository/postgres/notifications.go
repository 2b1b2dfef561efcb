package postgres

import (
	"context"
	"errors"
	"fmt"

	"bidding-settlement/internal/biddingerrors"
	"bidding-settlement/internal/models"

	"github.com/jackc/pgx/v5"
)

const notificationColumns = `id, user_id, auction_id, kind, message, read, created_at`

func collectNotification(row pgx.CollectableRow) (models.Notification, error) {
	return scanNotification(row)
}

func scanNotification(row pgx.Row) (models.Notification, error) {
	var (
		n    models.Notification
		kind string
	)
	if err := row.Scan(&n.NotificationID, &n.UserID, &n.AuctionID, &kind, &n.Message, &n.Read, &n.CreatedAt); err != nil {
		return models.Notification{}, err
	}
	n.Kind = models.NotificationKind(kind)
	n.CreatedAt = n.CreatedAt.UTC()
	return n, nil
}

// CreateNotification inserts n unless (user, auction, kind) already has one
func (s *Store) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, bool, error) {
	const insert = `
INSERT INTO notifications (` + notificationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
ON CONFLICT (user_id, auction_id, kind) DO NOTHING
RETURNING ` + notificationColumns

	const existing = `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1 AND auction_id = $2 AND kind = $3`

	var createdAt any
	if !n.CreatedAt.IsZero() {
		createdAt = n.CreatedAt
	}

	stored, err := scanNotification(s.queryRow(ctx, insert,
		n.NotificationID, n.UserID, n.AuctionID, string(n.Kind), n.Message, n.Read, createdAt))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Notification{}, false, fmt.Errorf("create notification for %s: %w", n.UserID, err)
	}

	stored, err = scanNotification(s.queryRow(ctx, existing, n.UserID, n.AuctionID, string(n.Kind)))
	if err != nil {
		return models.Notification{}, false, fmt.Errorf("load existing notification for %s: %w", n.UserID, err)
	}
	return stored, false, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	rows, err := s.query(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE user_id = $1 ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications of %s: %w", userID, err)
	}
	list, err := pgx.CollectRows(rows, collectNotification)
	if err != nil {
		return nil, fmt.Errorf("list notifications of %s: %w", userID, err)
	}
	return list, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	tag, err := s.exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification %s read: %w", notificationID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark notification %s read: %w", notificationID, biddingerrors.ErrNotificationNotFound)
	}
	return nil
}
