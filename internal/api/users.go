package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/evalite/evalite/internal/core"
	"github.com/evalite/evalite/internal/logging"
	"github.com/evalite/evalite/internal/storage"
)

// checkInView is the flat JSON shape of a stored check-in.
type checkInView struct {
	ID           int64         `json:"id"`
	UserID       int64         `json:"user_id"`
	Text         string        `json:"text"`
	Mood         float64       `json:"mood"`
	Priority     core.Priority `json:"priority"`
	Emergency    bool          `json:"emergency"`
	Suggestions  []string      `json:"suggestions"`
	FollowUpDays int           `json:"follow_up_days"`
	Explanation  string        `json:"explanation"`
	Source       core.Source   `json:"source"`
	Provider     core.Provider `json:"provider,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

func newCheckInView(rec core.Record) checkInView {
	return checkInView{
		ID:           rec.ID,
		UserID:       rec.UserID,
		Text:         rec.Text,
		Mood:         rec.Analysis.Mood,
		Priority:     rec.Analysis.Priority,
		Emergency:    rec.Analysis.Emergency,
		Suggestions:  rec.Analysis.Suggestions,
		FollowUpDays: rec.Analysis.FollowUpDays,
		Explanation:  rec.Analysis.Explanation,
		Source:       rec.Source,
		Provider:     rec.Provider,
		CreatedAt:    rec.CreatedAt,
	}
}

// handleGetCheckIns returns a user's recent check-ins, newest first.
func (s *Server) handleGetCheckIns(w http.ResponseWriter, r *http.Request) {
	userID, limit, ok := s.userQuery(w, r)
	if !ok {
		return
	}

	records, err := s.checkIns.Recent(r.Context(), userID, limit)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("failed to fetch check-ins for user %d", userID)
		s.respondError(w, http.StatusInternalServerError, "failed to fetch check-ins", "")
		return
	}

	views := make([]checkInView, 0, len(records))
	for _, rec := range records {
		views = append(views, newCheckInView(rec))
	}
	s.respondJSON(w, http.StatusOK, views)
}

// handleGetNotifications returns a user's delivery log, newest first.
func (s *Server) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	userID, limit, ok := s.userQuery(w, r)
	if !ok {
		return
	}

	list, err := s.notifications.ListByUser(r.Context(), userID, limit)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("failed to fetch notifications for user %d", userID)
		s.respondError(w, http.StatusInternalServerError, "failed to fetch notifications", "")
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

// userQuery parses {userID} and ?limit=. It writes a 400 and returns false
// on bad input.
func (s *Server) userQuery(w http.ResponseWriter, r *http.Request) (int64, int, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid user ID", "user ID must be a positive integer")
		return 0, 0, false
	}

	limit := storage.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > storage.MaxRecentLimit {
			s.respondError(w, http.StatusBadRequest, "invalid limit", "limit must be between 1 and 100")
			return 0, 0, false
		}
	}
	return userID, limit, true
}
