package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/evalite/evalite/internal/core"
)

// FollowUpStore holds scheduled reminders.
type FollowUpStore struct {
	db *DB
}

// NewFollowUpStore creates a new follow-up store
func NewFollowUpStore(db *DB) *FollowUpStore {
	return &FollowUpStore{db: db}
}

// Create stores a pending follow-up. ID, Status and CreatedAt are filled in.
func (s *FollowUpStore) Create(ctx context.Context, f *core.FollowUp) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.Status = core.FollowUpPending
	f.CreatedAt = now()
	f.DueAt = f.DueAt.UTC().Truncate(time.Microsecond)

	_, err := s.db.exec(ctx, `
		INSERT INTO follow_ups (id, user_id, checkin_id, phone, email, due_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.UserID, f.CheckInID, f.Phone, f.Email, f.DueAt, string(f.Status), f.CreatedAt)
	if err != nil {
		return &core.PersistenceError{Op: "create_follow_up", Err: err}
	}
	return nil
}

// CancelPending cancels every pending follow-up for a user and returns how
// many were cancelled.
func (s *FollowUpStore) CancelPending(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.exec(ctx, `
		UPDATE follow_ups SET status = ? WHERE user_id = ? AND status = ?
	`, string(core.FollowUpCancelled), userID, string(core.FollowUpPending))
	if err != nil {
		return 0, &core.PersistenceError{Op: "cancel_follow_ups", Err: err}
	}
	return res.RowsAffected()
}

// Due returns pending follow-ups whose due time is at or before now, oldest first.
func (s *FollowUpStore) Due(ctx context.Context, at time.Time, limit int) ([]core.FollowUp, error) {
	if limit <= 0 {
		limit = MaxRecentLimit
	}
	rows, err := s.db.query(ctx, selectFollowUp+`
		WHERE status = ? AND due_at <= ?
		ORDER BY due_at ASC
		LIMIT ?
	`, string(core.FollowUpPending), at.UTC(), limit)
	if err != nil {
		return nil, &core.PersistenceError{Op: "due_follow_ups", Err: err}
	}
	defer rows.Close()

	out := []core.FollowUp{}
	for rows.Next() {
		f, err := scanFollowUp(rows)
		if err != nil {
			return nil, &core.PersistenceError{Op: "due_follow_ups", Err: err}
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "due_follow_ups", Err: err}
	}
	return out, nil
}

// Get returns a follow-up by ID
func (s *FollowUpStore) Get(ctx context.Context, id string) (*core.FollowUp, error) {
	f, err := scanFollowUp(s.db.queryRow(ctx, selectFollowUp+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, &core.PersistenceError{Op: "get_follow_up", Err: err}
	}
	return f, nil
}

// MarkSent records a delivered follow-up.
func (s *FollowUpStore) MarkSent(ctx context.Context, id string) error {
	return s.mark(ctx, id, core.FollowUpSent)
}

// MarkFailed records a follow-up that could not be delivered on any channel.
func (s *FollowUpStore) MarkFailed(ctx context.Context, id string) error {
	return s.mark(ctx, id, core.FollowUpFailed)
}

func (s *FollowUpStore) mark(ctx context.Context, id string, status core.FollowUpStatus) error {
	res, err := s.db.exec(ctx, `
		UPDATE follow_ups SET status = ?, sent_at = ? WHERE id = ? AND status = ?
	`, string(status), now(), id, string(core.FollowUpPending))
	if err != nil {
		return &core.PersistenceError{Op: "mark_follow_up", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &core.PersistenceError{Op: "mark_follow_up", Err: err}
	}
	if n == 0 {
		return core.ErrRecordNotFound
	}
	return nil
}

const selectFollowUp = `
	SELECT id, user_id, checkin_id, phone, email, due_at, status, created_at, sent_at
	FROM follow_ups`

func scanFollowUp(row rowScanner) (*core.FollowUp, error) {
	f := &core.FollowUp{}
	var status string
	var sentAt sql.NullTime
	if err := row.Scan(
		&f.ID, &f.UserID, &f.CheckInID, &f.Phone, &f.Email,
		&f.DueAt, &status, &f.CreatedAt, &sentAt,
	); err != nil {
		return nil, err
	}
	f.Status = core.FollowUpStatus(status)
	f.DueAt = f.DueAt.UTC()
	f.CreatedAt = f.CreatedAt.UTC()
	if sentAt.Valid {
		t := sentAt.Time.UTC()
		f.SentAt = &t
	}
	return f, nil
}
