package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/evalite/evalite/internal/core"
)

// NotificationStore keeps the delivery log.
type NotificationStore struct {
	db *DB
}

// NewNotificationStore creates a new notification store
func NewNotificationStore(db *DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// Save appends a delivery attempt. ID and CreatedAt are filled in when unset.
func (s *NotificationStore) Save(ctx context.Context, n *core.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}

	_, err := s.db.exec(ctx, `
		INSERT INTO notifications (
		    id, user_id, checkin_id, kind, channel, recipient,
		    subject, body, status, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID, n.UserID, n.CheckInID, string(n.Kind), string(n.Channel), n.Recipient,
		n.Subject, n.Body, string(n.Status), n.Error, n.CreatedAt,
	)
	if err != nil {
		return &core.PersistenceError{Op: "save_notification", Err: err}
	}
	return nil
}

// ListByUser returns a user's delivery log, newest first.
func (s *NotificationStore) ListByUser(ctx context.Context, userID int64, limit int) ([]core.Notification, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	rows, err := s.db.query(ctx, `
		SELECT id, user_id, checkin_id, kind, channel, recipient,
		       subject, body, status, error, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, &core.PersistenceError{Op: "list_notifications", Err: err}
	}
	defer rows.Close()

	out := []core.Notification{}
	for rows.Next() {
		var n core.Notification
		var kind, channel, status string
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.CheckInID, &kind, &channel, &n.Recipient,
			&n.Subject, &n.Body, &status, &n.Error, &n.CreatedAt,
		); err != nil {
			return nil, &core.PersistenceError{Op: "list_notifications", Err: err}
		}
		n.Kind = core.NotificationKind(kind)
		n.Channel = core.Channel(channel)
		n.Status = core.DeliveryStatus(status)
		n.CreatedAt = n.CreatedAt.UTC()
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "list_notifications", Err: err}
	}
	return out, nil
}
