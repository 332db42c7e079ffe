package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/evalite/evalite/internal/api"
	"github.com/evalite/evalite/internal/config"
	"github.com/evalite/evalite/internal/email"
	"github.com/evalite/evalite/internal/llm"
	"github.com/evalite/evalite/internal/logging"
	"github.com/evalite/evalite/internal/notifications"
	"github.com/evalite/evalite/internal/observability"
	"github.com/evalite/evalite/internal/scheduler"
	"github.com/evalite/evalite/internal/storage"
	"github.com/evalite/evalite/internal/triage"
)

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(nil)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logging.Info("Starting EVA-Lite v%s", config.Version)
	for _, w := range settings.Warnings() {
		logging.Warn("%s", w)
	}

	db, err := openDatabase(ctx, settings.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	logging.Info("Database ready (%s)", db.Dialect())

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	// Analysis
	provider, err := llm.New(ctx, settings.AI)
	if err != nil {
		return fmt.Errorf("failed to build AI provider: %w", err)
	}
	router := llm.NewRouter(llm.RouterConfig{
		Provider: provider,
		Timeout:  settings.AI.Timeout,
		Metrics:  metrics,
	})
	if router.IsConfigured() {
		logging.Info("AI provider: %s", router.Provider())
	}
	engine := triage.NewEngine(router, triage.EngineConfig{
		LocalAnalysisEnabled: settings.AI.LocalAnalysisEnabled,
		Metrics:              metrics,
	})

	// Notifications
	sms := notifications.NewTwilioSender(settings.Twilio)
	mailer, err := email.New(ctx, settings.Email)
	if err != nil {
		logging.WithError(err).Warn("Email transport unavailable; email notifications disabled")
		mailer = email.NewSMTPSender(email.SMTPConfig{})
	}
	dispatcher := notifications.NewDispatcher(sms, mailer,
		storage.NewNotificationStore(db), storage.NewFollowUpStore(db),
		notifications.Config{
			RetryAttempts: settings.Notifications.RetryAttempts,
			RetryDelay:    settings.Notifications.RetryDelay,
			Metrics:       metrics,
		})
	logging.Info("Notifications: %s", dispatcher)

	// Follow-ups
	sched := scheduler.NewScheduler(scheduler.Config{Timezone: settings.Scheduler.Timezone})
	if err := sched.Register(scheduler.FollowUpSweep(dispatcher, settings.Scheduler.SweepInterval)); err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}

	server := api.New(api.Config{
		Settings:  settings,
		Engine:    engine,
		Router:    router,
		Notifier:  dispatcher,
		Scheduler: sched,
		DB:        db,
		Metrics:   metrics,
		Gatherer:  registry,
		Provider:  router.Provider(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			logging.WithError(err).Error("API server failed")
		}
		cancel()
		shutdown(server, sched, dispatcher)
		return err
	case <-ctx.Done():
	}

	logging.Info("Shutting down...")
	shutdown(server, sched, dispatcher)
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// shutdown stops intake first, then background work, so in-flight
// notifications finish before the database closes.
func shutdown(server *api.Server, sched *scheduler.Scheduler, dispatcher *notifications.Dispatcher) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logging.WithError(err).Warn("HTTP shutdown incomplete")
	}
	sched.Stop()
	dispatcher.Close()
}
