// Package api provides the HTTP API server for EVA-Lite.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evalite/evalite/internal/config"
	"github.com/evalite/evalite/internal/core"
	"github.com/evalite/evalite/internal/llm"
	"github.com/evalite/evalite/internal/logging"
	"github.com/evalite/evalite/internal/notifications"
	"github.com/evalite/evalite/internal/observability"
	"github.com/evalite/evalite/internal/scheduler"
	"github.com/evalite/evalite/internal/storage"
	"github.com/evalite/evalite/internal/triage"
)

// Notifier receives analyzed check-ins and fans events out to subscribers.
// *notifications.Dispatcher satisfies it.
type Notifier interface {
	Notify(rec core.Record)
	Publish(event notifications.Event)
	Subscribe(sub notifications.Subscriber)
	Unsubscribe(id string)
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	engine        *triage.Engine
	aiRouter      *llm.Router
	notifier      Notifier
	scheduler     *scheduler.Scheduler
	db            *storage.DB
	users         *storage.UserStore
	checkIns      *storage.CheckInStore
	notifications *storage.NotificationStore
	metrics       *observability.Metrics
	gatherer      prometheus.Gatherer
	limiter       *userLimiter
	wsHub         *Hub

	settings config.Settings
	provider core.Provider
}

// Config for the server
type Config struct {
	Settings  config.Settings
	Engine    *triage.Engine
	Router    *llm.Router // optional, its stats are reported by /health
	Notifier  Notifier
	Scheduler *scheduler.Scheduler // optional, reported by /health
	DB        *storage.DB
	Metrics   *observability.Metrics
	Gatherer  prometheus.Gatherer // source for /metrics; nil disables it
	// Provider is the configured AI provider, reported by /health.
	Provider core.Provider
}

// New creates a new API server
func New(cfg Config) *Server {
	s := &Server{
		engine:        cfg.Engine,
		aiRouter:      cfg.Router,
		notifier:      cfg.Notifier,
		scheduler:     cfg.Scheduler,
		db:            cfg.DB,
		users:         storage.NewUserStore(cfg.DB),
		checkIns:      storage.NewCheckInStore(cfg.DB),
		notifications: storage.NewNotificationStore(cfg.DB),
		metrics:       cfg.Metrics,
		gatherer:      cfg.Gatherer,
		limiter:       newUserLimiter(cfg.Settings.CheckInRateLimit),
		wsHub:         NewHub(cfg.Settings.CORS.Origins),
		settings:      cfg.Settings,
		provider:      cfg.Provider,
	}

	if s.notifier != nil {
		s.notifier.Subscribe(s.wsHub)
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:              cfg.Settings.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      checkInTimeout(cfg.Settings.AI.Timeout) + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// checkInTimeout bounds a check-in request. It outlasts the provider
// timeout so the fallback still has time to answer, and the server's write
// deadline outlasts it in turn.
func checkInTimeout(aiTimeout time.Duration) time.Duration {
	timeout := aiTimeout + 15*time.Second
	if timeout < 30*time.Second {
		timeout = 30 * time.Second
	}
	return timeout
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.settings.CORS.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Analysis-Source", "X-Request-ID"},
		AllowCredentials: s.settings.CORS.AllowCredentials,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.Timeout(checkInTimeout(s.settings.AI.Timeout))).Post("/checkin", s.handleCheckIn)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/checkins", s.handleGetCheckIns)
			r.Get("/notifications", s.handleGetNotifications)
		})
	})

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/ws", s.wsHub.ServeWS)

	s.router = r
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the WebSocket hub and serves HTTP until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	go s.wsHub.Run(ctx)

	logging.Info("API server listening on http://%s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.notifier != nil {
		s.notifier.Unsubscribe(s.wsHub.ID())
	}
	err := s.httpServer.Shutdown(ctx)
	s.wsHub.Close()
	return err
}

// requestLogger logs each request through the structured logger with its
// request ID.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		ctx := logging.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("request completed")
	})
}

// --- Response helpers ---

// errorResponse is the body of every 4xx/5xx reply.
type errorResponse struct {
	Error     string            `json:"error"`
	Detail    string            `json:"detail,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.WithError(err).Debug("failed to write response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message, detail string) {
	s.respondJSON(w, status, errorResponse{Error: message, Detail: detail, Timestamp: time.Now().UTC()})
}
