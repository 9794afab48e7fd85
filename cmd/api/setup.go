package main

import (
	"context"
	"database/sql"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/parlae/pms-gateway/cmd/mainconfig"
	"github.com/parlae/pms-gateway/internal/api/router"
	appconfig "github.com/parlae/pms-gateway/internal/config"
	"github.com/parlae/pms-gateway/internal/observability/metrics"
	"github.com/parlae/pms-gateway/pkg/logging"
)

func setupMetrics() (http.Handler, *prometheus.Registry, *metrics.PMSMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pmsMetrics := metrics.NewPMSMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), reg, pmsMetrics
}

func connectPostgresPool(ctx context.Context, dbURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(dbURL) == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres ping failed", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// auditDB shares the pgx pool with database/sql for the audit log.
func auditDB(pool *pgxpool.Pool) *sql.DB {
	if pool == nil {
		return nil
	}
	return stdlib.OpenDBFromPool(pool)
}

func setupSQS(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *sqs.Client {
	if !mainconfig.NeedsSQS(cfg) {
		return nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config, outbox events will be logged only", "error", err)
		return nil
	}
	return sqs.NewFromConfig(awsCfg)
}

func healthChecks(pool *pgxpool.Pool, rdb *redis.Client) map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}
