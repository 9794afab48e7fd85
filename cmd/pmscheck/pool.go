package main

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parlae/pms-gateway/pkg/logging"
)

func connectPool(ctx context.Context, dbURL string, logger *logging.Logger) *pgxpool.Pool {
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
