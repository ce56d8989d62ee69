package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/skillswap/timebank-api/internal/models"
)

// NotificationRepository persists in-app notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs a NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// CreateBatch inserts notifications in one statement.
func (r *NotificationRepository) CreateBatch(ctx context.Context, items []*models.Notification) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, n := range items {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		if len(n.Payload) == 0 {
			n.Payload = []byte(`{}`)
		}
	}
	const query = `INSERT INTO notifications (id, recipient_id, type, session_id, payload, created_at) VALUES (:id, :recipient_id, :type, :session_id, :payload, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, items); err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}
	return nil
}

// ListByRecipient returns a page of notifications newest first along with
// the total and unread counts.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, page, size int) ([]models.Notification, int, int, error) {
	page, size = models.NormalizePage(page, size)
	where := "recipient_id = $1"
	if unreadOnly {
		where += " AND read_at IS NULL"
	}

	query := fmt.Sprintf(`SELECT id, recipient_id, type, session_id, payload, read_at, created_at FROM notifications WHERE %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, where, size, (page-1)*size)
	items := make([]models.Notification, 0)
	if err := r.db.SelectContext(ctx, &items, query, recipientID); err != nil {
		return nil, 0, 0, fmt.Errorf("list notifications: %w", err)
	}

	var counts struct {
		Total  int `db:"total"`
		Unread int `db:"unread"`
	}
	const countQuery = `SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE read_at IS NULL) AS unread FROM notifications WHERE recipient_id = $1`
	if err := r.db.GetContext(ctx, &counts, countQuery, recipientID); err != nil {
		return nil, 0, 0, fmt.Errorf("count notifications: %w", err)
	}
	total := counts.Total
	if unreadOnly {
		total = counts.Unread
	}
	return items, total, counts.Unread, nil
}

// MarkRead stamps read_at on a notification owned by recipientID. Marking an
// already read notification is a no-op; a foreign or missing id is sql.ErrNoRows.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string, ts time.Time) error {
	const query = `UPDATE notifications SET read_at = COALESCE(read_at, $3) WHERE id = $1 AND recipient_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, recipientID, ts)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return rowsAffected(res, "mark notification read")
}

// MarkAllRead stamps every unread notification of recipientID.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string, ts time.Time) (int64, error) {
	const query = `UPDATE notifications SET read_at = $2 WHERE recipient_id = $1 AND read_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, recipientID, ts)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read rows affected: %w", err)
	}
	return n, nil
}
