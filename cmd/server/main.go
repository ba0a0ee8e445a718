package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dandantas/ordersweep/internal/config"
	"github.com/dandantas/ordersweep/internal/database"
	"github.com/dandantas/ordersweep/internal/election"
	"github.com/dandantas/ordersweep/internal/export"
	"github.com/dandantas/ordersweep/internal/handler"
	"github.com/dandantas/ordersweep/internal/metrics"
	"github.com/dandantas/ordersweep/internal/model"
	"github.com/dandantas/ordersweep/internal/scheduler"
	"github.com/dandantas/ordersweep/internal/service"
	"github.com/dandantas/ordersweep/internal/webhook"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	config.InitLogger(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting Ordersweep", "version", version)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to MongoDB
	db, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTimeout)
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Disconnect(context.Background()); err != nil {
			slog.Error("Failed to disconnect from MongoDB", "error", err)
		}
	}()

	// Create indexes
	if err := database.CreateIndexes(ctx, db); err != nil {
		slog.Error("Failed to create indexes", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	leaseRepo := database.NewLeaseRepository(db)
	instanceRepo := database.NewInstanceRepository(db)
	orderRepo := database.NewOrderRepository(db)
	productRepo := database.NewProductRepository(db)
	phoneRepo := database.NewPhoneNumberRepository(db)
	sweepRunRepo := database.NewSweepRunRepository(db)

	// Leader election
	gate := election.NewGate(leaseRepo, instanceRepo,
		election.WithLeaseName(cfg.LeaderLeaseName),
		election.WithTTL(cfg.LeaderLeaseTTL),
		election.WithRenewInterval(cfg.LeaderRenewInterval),
		election.WithInstanceID(cfg.InstanceID),
		election.WithStatusHook(metrics.SetMaster),
	)
	gate.Start(ctx)
	slog.Info("Leader election started", "instance_id", gate.InstanceID(), "lease", cfg.LeaderLeaseName)

	reconciler := service.NewReconciler(
		orderRepo,
		productRepo,
		phoneRepo,
		sweepRunRepo,
		metrics.Recorder{},
		service.ThresholdsFromConfig(cfg),
		gate.InstanceID(),
	)

	// Failure alerts are optional; without a webhook the task log is the only report
	var notifier *webhook.Notifier
	if cfg.AlertWebhookURL != "" {
		notifier, err = webhook.NewNotifier(
			model.Webhook{URL: cfg.AlertWebhookURL},
			gate.InstanceID(),
			cfg.DefaultWebhookTimeout,
			webhook.WithDeliveryObserver(metrics.ObserveAlert),
		)
		if err != nil {
			slog.Error("Invalid alert webhook", "error", err)
			os.Exit(1)
		}
		notifier.Start(ctx)
	}

	// Initialize scheduler
	sched := scheduler.NewScheduler(gate, slog.Default())
	taskOpts := []scheduler.TaskOption{
		scheduler.WithActionTimeout(cfg.SweepTimeout),
		scheduler.WithFireObserver(func(task string, result scheduler.FireResult, elapsed time.Duration) {
			ran := result == scheduler.FireSucceeded || result == scheduler.FireFailed
			metrics.ObserveFire(task, result.String(), elapsed, ran)
		}),
	}
	if notifier != nil {
		taskOpts = append(taskOpts, scheduler.WithErrorSink(notifier))
	}

	sweeps := []struct{ name, expr string }{
		{service.SweepDaily, cfg.DailySweepCron},
		{service.SweepFrequent, cfg.FrequentSweepCron},
	}
	for _, sw := range sweeps {
		action, _ := reconciler.Action(sw.name)
		if _, err := sched.Schedule(sw.name, sw.expr, cfg.SchedulerTimezone, action, taskOpts...); err != nil {
			var cfgErr *scheduler.ScheduleConfigError
			if errors.As(err, &cfgErr) {
				slog.Error("Invalid sweep schedule",
					"sweep", cfgErr.Name,
					"expression", cfgErr.Expression,
					"timezone", cfgErr.Timezone,
					"error", cfgErr.Err,
				)
			} else {
				slog.Error("Failed to schedule sweep", "sweep", sw.name, "error", err)
			}
			os.Exit(1)
		}
	}

	if cfg.SchedulerEnabled {
		sched.Start(ctx)
	} else {
		slog.Warn("Scheduler disabled; sweeps run only on manual trigger")
	}

	// Initialize services
	sweepRunner := service.NewSweepRunner(ctx, sched, sweepRunRepo)
	historyService := service.NewHistoryService(sweepRunRepo)
	exporter := export.NewExporter(orderRepo)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(db, gate, version)
	leaderHandler := handler.NewLeaderHandler(gate, leaseRepo, instanceRepo)
	sweepHandler := handler.NewSweepHandler(sched, sweepRunner, historyService)
	exportHandler := handler.NewExportHandler(exporter)

	// Create router
	router := handler.NewRouter(
		healthHandler,
		leaderHandler,
		sweepHandler,
		exportHandler,
		metrics.Handler(),
		metrics.ObserveHTTP,
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Received shutdown signal, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Stop timers first and wait for in-flight sweeps
	slog.Info("Stopping scheduler...")
	sched.Stop(shutdownCtx)

	// Give up the lease so a standby can take over without waiting for expiry
	slog.Info("Releasing leadership...")
	gate.Stop(shutdownCtx)

	if notifier != nil {
		notifier.Close(shutdownCtx)
	}

	slog.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Ordersweep stopped")
}
