package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evalite/evalite/internal/core"
)

// UserStore handles user persistence
type UserStore struct {
	db *DB
}

// NewUserStore creates a new user store
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// Ensure returns the user with id, creating it on first sight. Non-empty
// phone or email values replace the stored contact details.
func (s *UserStore) Ensure(ctx context.Context, id int64, phone, email string) (*core.User, error) {
	_, err := s.db.exec(ctx, `
		INSERT INTO users (id, name, phone, email, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, id, fmt.Sprintf("user-%d", id), phone, email, now())
	if err != nil {
		return nil, fmt.Errorf("ensure user %d: %w", id, err)
	}

	if phone != "" || email != "" {
		_, err = s.db.exec(ctx, `
			UPDATE users
			SET phone = CASE WHEN ? <> '' THEN ? ELSE phone END,
			    email = CASE WHEN ? <> '' THEN ? ELSE email END
			WHERE id = ?
		`, phone, phone, email, email, id)
		if err != nil {
			return nil, fmt.Errorf("update user %d contact: %w", id, err)
		}
	}

	return s.Get(ctx, id)
}

// Get returns a user by ID
func (s *UserStore) Get(ctx context.Context, id int64) (*core.User, error) {
	u := &core.User{}
	err := s.db.queryRow(ctx, `
		SELECT id, name, phone, email, created_at FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Name, &u.Phone, &u.Email, &u.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

// now is the storage clock: UTC at microsecond precision, which every
// backend round-trips exactly.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
