package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parlae/pms-gateway/internal/api/router"
	"github.com/parlae/pms-gateway/internal/app/bootstrap"
	appconfig "github.com/parlae/pms-gateway/internal/config"
	"github.com/parlae/pms-gateway/internal/events"
	"github.com/parlae/pms-gateway/internal/http/handlers"
	"github.com/parlae/pms-gateway/internal/pms/sikka"
	"github.com/parlae/pms-gateway/internal/pms/writebacks"
	"github.com/parlae/pms-gateway/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting pms gateway",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}
	rdb := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	metricsHandler, registry, pmsMetrics := setupMetrics()

	credStore, err := bootstrap.BuildCredentialStore(pool, cfg, logger)
	if err != nil {
		logger.Error("failed to build credential store", "error", err)
		os.Exit(1)
	}
	writebackStore := bootstrap.BuildWritebackStore(pool)

	services, err := bootstrap.BuildRegistry(bootstrap.PMSDeps{
		Config:      cfg,
		Credentials: credStore,
		Locker:      bootstrap.BuildLocker(rdb),
		Writebacks:  writebackStore,
		Metrics:     pmsMetrics,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("invalid sikka configuration", "error", err)
		os.Exit(1)
	}

	db := auditDB(pool)
	if db != nil {
		defer func() { _ = db.Close() }()
	}
	audit := bootstrap.BuildAuditService(db, cfg)

	toolsHandler := handlers.NewPMSToolsHandler(handlers.PMSToolsConfig{
		Services:     services,
		Writebacks:   writebackStore,
		Audit:        audit,
		Metrics:      pmsMetrics,
		Logger:       logger,
		MaxBodyBytes: cfg.HTTPRequestBodyLimitBytes,
	})
	var auditReader handlers.AuditReader
	if audit != nil {
		auditReader = audit
	}
	adminHandler := handlers.NewAdminPMSHandler(registry, auditReader, services, logger)

	routerCfg := &router.Config{
		Logger:             logger,
		PMSTools:           toolsHandler,
		AdminPMS:           adminHandler,
		HealthChecks:       healthChecks(pool, rdb),
		ToolAPIKey:         cfg.ToolAPIKey,
		AdminAuthSecret:    cfg.AdminAuthSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.HTTPRateLimitPerMinute,
	}
	if cfg.MetricsEnabled {
		routerCfg.MetricsHandler = metricsHandler
	}
	if cfg.ToolAPIKey == "" {
		logger.Warn("PMS_TOOL_API_KEY is empty; tool endpoints are unauthenticated")
	}

	var workers sync.WaitGroup
	if !cfg.DisableBackgroundWorkers {
		refresher := sikka.NewRefreshWorker(credStore, bootstrap.TokenEnsurers(services), logger).
			WithInterval(cfg.SikkaTokenRefreshInterval).
			WithRefreshBefore(cfg.SikkaTokenRefreshMargin * 2)
		resumer := writebacks.NewResumer(writebackStore, bootstrap.WritebackCheckers(services), logger).
			WithInterval(cfg.WritebackResumeInterval).
			WithStaleAfter(cfg.WritebackStaleAfter).
			WithMaxAge(cfg.WritebackResumeMaxAge)
		run(&workers, func() { refresher.Start(ctx) })
		run(&workers, func() { resumer.Run(ctx) })

		if pool != nil {
			deliverer := events.NewDeliverer(
				events.NewOutboxStore(pool),
				bootstrap.BuildOutboxHandler(setupSQS(ctx, cfg, logger), cfg, logger),
				logger,
			).WithBatchSize(int32(cfg.OutboxDeliveryBatchSize)).
				WithInterval(cfg.OutboxDeliveryInterval).
				WithMaxAttempts(cfg.OutboxMaxAttempts)
			run(&workers, func() { deliverer.Start(ctx) })
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // writebacks poll for up to a minute
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	cancel()
	workers.Wait()
	logger.Info("server stopped")
}

func run(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
}
