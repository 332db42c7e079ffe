package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/evalite/evalite/internal/core"
	"github.com/evalite/evalite/internal/logging"
	"github.com/evalite/evalite/internal/notifications"
	"github.com/evalite/evalite/internal/triage"
)

// HeaderAnalysisSource tells the client which path produced the analysis.
const HeaderAnalysisSource = "X-Analysis-Source"

// maxBodyBytes bounds a check-in request body.
const maxBodyBytes = 64 << 10

// persistenceFailure is returned with 500 when the analysis succeeded but
// could not be stored.
type persistenceFailure struct {
	Error    string              `json:"error"`
	Analysis core.AnalysisResult `json:"analysis"`
}

// handleCheckIn analyzes a check-in, stores it and triggers notifications.
func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CheckInRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if fields, err := req.Validate(); err != nil {
		s.respondValidation(w, err, fields)
		return
	}

	log := logging.FromContext(ctx).WithField("user_id", req.UserID)

	if !s.limiter.Allow(req.UserID) {
		w.Header().Set("Retry-After", "60")
		s.respondError(w, http.StatusTooManyRequests, "too many check-ins", "try again in a minute")
		return
	}

	log.Info("Processing check-in")
	checkIn := req.CheckIn()

	result, err := s.engine.Analyze(ctx, checkIn)
	if err != nil {
		var verr *core.ValidationError
		switch {
		case errors.As(err, &verr):
			s.respondValidation(w, err, nil)
		case errors.Is(err, core.ErrAnalysisUnavailable):
			s.respondError(w, http.StatusServiceUnavailable, "analysis unavailable", "the AI provider could not be reached; try again later")
		default:
			log.WithError(err).Error("unexpected analysis error")
			s.respondError(w, http.StatusInternalServerError, "internal server error processing check-in", "")
		}
		return
	}

	rec, storeErr := s.store(ctx, checkIn, result)
	if storeErr != nil {
		log.WithError(storeErr).Error("failed to store check-in")
		s.metrics.RecordPersistenceError(persistenceOp(storeErr))
		// Still notify: the contacts should hear about an emergency even if
		// the database is down.
		rec = &core.Record{CheckIn: checkIn, Analysis: result.Analysis, Source: result.Source, Provider: result.Provider}
		rec.CreatedAt = time.Now().UTC()
	}

	log.WithFields(map[string]interface{}{
		"outcome":    result.Outcome.String(),
		"priority":   string(result.Analysis.Priority),
		"emergency":  result.Analysis.Emergency,
		"mood":       result.Analysis.Mood,
		"checkin_id": rec.ID,
	}).Info("Check-in analyzed")

	if s.notifier != nil {
		s.notifier.Publish(notifications.Event{Type: notifications.EventCheckInAnalyzed, Payload: newCheckInView(*rec)})
		s.notifier.Notify(*rec)
	}

	w.Header().Set(HeaderAnalysisSource, string(result.Source))
	if storeErr != nil {
		s.respondJSON(w, http.StatusInternalServerError, persistenceFailure{
			Error:    "failed to store check-in",
			Analysis: result.Analysis,
		})
		return
	}
	s.respondJSON(w, http.StatusCreated, result.Analysis)
}

// store creates the user on first sight and appends the check-in.
func (s *Server) store(ctx context.Context, checkIn core.CheckIn, result triage.Result) (*core.Record, error) {
	if _, err := s.users.Ensure(ctx, checkIn.UserID, checkIn.ContactPhone, checkIn.ContactEmail); err != nil {
		return nil, &core.PersistenceError{Op: "ensure_user", Err: err}
	}
	return s.checkIns.Append(ctx, checkIn, result.Analysis, result.Source, result.Provider)
}

func persistenceOp(err error) string {
	var perr *core.PersistenceError
	if errors.As(err, &perr) {
		return perr.Op
	}
	return "unknown"
}

func (s *Server) respondValidation(w http.ResponseWriter, err error, fields map[string]string) {
	s.respondJSON(w, http.StatusBadRequest, errorResponse{
		Error:     err.Error(),
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	})
}
