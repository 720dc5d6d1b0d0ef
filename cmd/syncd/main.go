package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashgrovepsych/practice-sync/internal/api/router"
	"github.com/ashgrovepsych/practice-sync/internal/app/bootstrap"
	appconfig "github.com/ashgrovepsych/practice-sync/internal/config"
	"github.com/ashgrovepsych/practice-sync/internal/http/handlers"
	"github.com/ashgrovepsych/practice-sync/internal/notify"
	"github.com/ashgrovepsych/practice-sync/internal/observability/metrics"
	"github.com/ashgrovepsych/practice-sync/internal/scheduler"
	"github.com/ashgrovepsych/practice-sync/internal/store"
	syncsvc "github.com/ashgrovepsych/practice-sync/internal/sync"
	"github.com/ashgrovepsych/practice-sync/internal/webhookdedupe"
	"github.com/ashgrovepsych/practice-sync/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting practice-sync daemon",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bootstrap.BuildPool(ctx, cfg)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	st := store.NewPostgres(pool)

	syncMetrics := metrics.NewSyncMetrics(nil)

	remote := bootstrap.BuildPMSClient(cfg, logger)
	configured := cfg.ValidatePMS()

	var service *syncsvc.Service
	if remote != nil {
		service = syncsvc.NewService(remote, st, logger, syncMetrics, cfg.SyncWindowPastDays, cfg.SyncWindowDays)
	} else if configured == nil {
		configured = appconfig.ErrNotConfigured
	}
	reporter := syncsvc.NewStatusReporter(st)

	var emailSender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		emailSender = sg
	} else if cfg.AlertEmail != "" {
		emailSender = notify.NewStubEmailSender(logger)
	}
	var alerter *notify.Alerter
	if emailSender != nil {
		alerter = notify.NewAlerter(emailSender, cfg.AlertEmail, logger)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	var deduper handlers.DeliveryDeduper
	if redisClient != nil {
		deduper = webhookdedupe.New(redisClient, 0, logger)
		defer redisClient.Close()
	}

	var triggerHandler *handlers.SyncTriggerHandler
	var webhookHandler *handlers.PMSWebhookHandler
	if service != nil {
		triggerHandler = handlers.NewSyncTriggerHandler(service, st, configured, logger)
		webhookHandler = handlers.NewPMSWebhookHandler(cfg.WebhookSecret, service, deduper, syncMetrics, logger)
	} else {
		triggerHandler = handlers.NewSyncTriggerHandler(nil, st, configured, logger)
	}
	dashboardHandler := handlers.NewDashboardHandler(st, reporter, logger)

	r := router.New(&router.Config{
		Logger:               logger,
		SyncTrigger:          triggerHandler,
		Webhook:              webhookHandler,
		Dashboard:            dashboardHandler,
		AdminAuthSecret:      cfg.AdminJWTSecret,
		MetricsHandler:       promhttp.Handler(),
		WebhookRatePerSecond: 20,
		WebhookBurst:         40,
	})

	if service != nil {
		sweep, err := scheduler.NewSweep(scheduler.SweepConfig{
			Runner:            service,
			Store:             st,
			Alerter:           alerter,
			Logger:            logger,
			BootstrapRemoteID: cfg.PMSPractitionerID,
			Interval:          cfg.SyncInterval,
		})
		if err != nil {
			logger.Error("sweep construction failed", "error", err)
			os.Exit(1)
		}
		go sweep.Start(ctx)
	} else {
		logger.Warn("scheduled sync disabled until PM system credentials are set")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
