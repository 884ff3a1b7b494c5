package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

// NotificationRepo implements ports.NotificationRepository.
type NotificationRepo struct {
	db *DB
}

func NewNotificationRepo(db *DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// Create stores n. A second write for the same (recipient, event key) is a
// no-op that leaves n.ID zero.
func (r *NotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO notifications (recipient_id, title, message, event_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (recipient_id, event_key) WHERE event_key <> '' DO NOTHING
		RETURNING id, is_read, created_at
	`, n.RecipientID, n.Title, n.Message, n.EventKey).Scan(&n.ID, &n.IsRead, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return mapErr(err)
}

func (r *NotificationRepo) ListByRecipient(ctx context.Context, recipientID int64, offset, limit int) ([]domain.Notification, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM notifications WHERE recipient_id = $1
	`, recipientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, recipient_id, title, message, event_key, is_read, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3
	`, recipientID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Message, &n.EventKey, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (r *NotificationRepo) MarkRead(ctx context.Context, id, recipientID int64) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE notifications SET is_read = true WHERE id = $1 AND recipient_id = $2
	`, id, recipientID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("notification %d", id)
	}
	return nil
}
