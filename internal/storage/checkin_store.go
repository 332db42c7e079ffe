package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evalite/evalite/internal/core"
)

// Limits for Recent.
const (
	DefaultRecentLimit = 10
	MaxRecentLimit     = 100
)

// CheckInStore handles check-in persistence. Check-ins are append-only.
type CheckInStore struct {
	db *DB
}

// NewCheckInStore creates a new check-in store
func NewCheckInStore(db *DB) *CheckInStore {
	return &CheckInStore{db: db}
}

// Append stores a check-in with its analysis and returns the stored record.
// ID and CreatedAt are assigned here. Failures are *core.PersistenceError.
func (s *CheckInStore) Append(ctx context.Context, c core.CheckIn, a core.AnalysisResult, source core.Source, provider core.Provider) (*core.Record, error) {
	c.CreatedAt = now()
	suggestions := a.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	encoded, err := json.Marshal(suggestions)
	if err != nil {
		return nil, &core.PersistenceError{Op: "append_checkin", Err: err}
	}

	err = s.db.queryRow(ctx, `
		INSERT INTO checkins (
		    user_id, text, contact_phone, contact_email,
		    mood, priority, emergency, suggestions, follow_up_days, explanation,
		    source, provider, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		c.UserID, c.Text, c.ContactPhone, c.ContactEmail,
		a.Mood, string(a.Priority), a.Emergency, string(encoded), a.FollowUpDays, a.Explanation,
		string(source), string(provider), c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return nil, &core.PersistenceError{Op: "append_checkin", Err: err}
	}

	a.Suggestions = suggestions
	return &core.Record{CheckIn: c, Analysis: a, Source: source, Provider: provider}, nil
}

const selectRecord = `
	SELECT id, user_id, text, contact_phone, contact_email,
	       mood, priority, emergency, suggestions, follow_up_days, explanation,
	       source, provider, created_at
	FROM checkins`

// Get returns a stored check-in by ID
func (s *CheckInStore) Get(ctx context.Context, id int64) (*core.Record, error) {
	rec, err := scanRecord(s.db.queryRow(ctx, selectRecord+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, &core.PersistenceError{Op: "get_checkin", Err: err}
	}
	return rec, nil
}

// Recent returns a user's check-ins, newest first. limit defaults to 10 and
// is capped at 100.
func (s *CheckInStore) Recent(ctx context.Context, userID int64, limit int) ([]core.Record, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	rows, err := s.db.query(ctx, selectRecord+`
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, &core.PersistenceError{Op: "recent_checkins", Err: err}
	}
	defer rows.Close()

	records := []core.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &core.PersistenceError{Op: "recent_checkins", Err: err}
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "recent_checkins", Err: err}
	}
	return records, nil
}

// Count returns the number of stored check-ins for a user.
func (s *CheckInStore) Count(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM checkins WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*core.Record, error) {
	rec := &core.Record{}
	var priority, source, provider, suggestions string

	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Text, &rec.ContactPhone, &rec.ContactEmail,
		&rec.Analysis.Mood, &priority, &rec.Analysis.Emergency, &suggestions,
		&rec.Analysis.FollowUpDays, &rec.Analysis.Explanation,
		&source, &provider, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(suggestions), &rec.Analysis.Suggestions); err != nil {
		return nil, fmt.Errorf("decode suggestions for check-in %d: %w", rec.ID, err)
	}
	if rec.Analysis.Suggestions == nil {
		rec.Analysis.Suggestions = []string{}
	}
	rec.Analysis.Priority = core.Priority(priority)
	rec.Source = core.Source(source)
	rec.Provider = core.Provider(provider)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}
