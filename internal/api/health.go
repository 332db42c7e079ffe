package api

import (
	"context"
	"net/http"
	"time"

	"github.com/evalite/evalite/internal/config"
	"github.com/evalite/evalite/internal/llm"
	"github.com/evalite/evalite/internal/scheduler"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status               string           `json:"status"`
	Timestamp            time.Time        `json:"timestamp"`
	Version              string           `json:"version"`
	Service              string           `json:"service"`
	Provider             string           `json:"provider"`
	LocalAnalysisEnabled bool             `json:"local_analysis_enabled"`
	Database             string           `json:"database"`
	AI                   *llm.RouterStats `json:"ai,omitempty"`
	Scheduler            *scheduler.Stats `json:"scheduler,omitempty"`
	WebSocketClients     int              `json:"websocket_clients"`
}

// handleHealth reports liveness. A failed database ping marks the service
// degraded with 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:           "healthy",
		Timestamp:        time.Now().UTC(),
		Version:          config.Version,
		Service:          "EVA-Lite API",
		Provider:         string(s.provider),
		Database:         "ok",
		WebSocketClients: s.wsHub.ClientCount(),
	}
	if resp.Provider == "" {
		resp.Provider = "none"
	}
	if s.engine != nil {
		resp.LocalAnalysisEnabled = s.engine.LocalAnalysisEnabled()
	}
	if s.aiRouter != nil {
		stats := s.aiRouter.GetStats()
		resp.AI = &stats
	}
	if s.scheduler != nil {
		stats := s.scheduler.GetStats()
		resp.Scheduler = &stats
	}

	status := http.StatusOK
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}

	s.respondJSON(w, status, resp)
}
