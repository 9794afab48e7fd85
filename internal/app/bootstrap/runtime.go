package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/parlae/pms-gateway/internal/compliance"
	appconfig "github.com/parlae/pms-gateway/internal/config"
	"github.com/parlae/pms-gateway/internal/events"
	"github.com/parlae/pms-gateway/internal/pms/credentials"
	"github.com/parlae/pms-gateway/internal/pms/writebacks"
	"github.com/parlae/pms-gateway/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, token refresh lock is process-local", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildLocker returns a Redis-backed refresh lock, or a no-op lock when Redis is absent.
func BuildLocker(client *redis.Client) credentials.Locker {
	if client == nil {
		return credentials.NoopLocker{}
	}
	return credentials.NewRedisLocker(client, "")
}

// BuildCredentialStore picks Postgres when a pool exists. The in-memory store
// is only allowed outside production or when explicitly enabled.
func BuildCredentialStore(pool *pgxpool.Pool, cfg *appconfig.Config, logger *logging.Logger) (credentials.Store, error) {
	if pool != nil {
		return credentials.NewPGStore(pool), nil
	}
	if cfg == nil || (!cfg.AllowInMemoryCredentialRepo && strings.EqualFold(cfg.Env, "production")) {
		return nil, errors.New("bootstrap: DATABASE_URL is required to persist pms credentials in production")
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger.Warn("using in-memory pms credential store; tokens are lost on restart")
	return credentials.NewMemoryStore(), nil
}

// BuildWritebackStore returns the Postgres tracker, or memory when no pool exists.
func BuildWritebackStore(pool *pgxpool.Pool) writebacks.Store {
	if pool == nil {
		return writebacks.NewMemoryStore()
	}
	return writebacks.NewPGStore(pool)
}

// BuildOutboxHandler delivers to SQS when a queue is configured, otherwise logs.
func BuildOutboxHandler(client *sqs.Client, cfg *appconfig.Config, logger *logging.Logger) events.DeliveryHandler {
	if client != nil && cfg != nil && strings.TrimSpace(cfg.OutboxQueueURL) != "" {
		return events.NewSQSHandler(client, cfg.OutboxQueueURL)
	}
	return events.NewLogHandler(logger)
}

// BuildAuditService returns nil when auditing is off or no database is available.
func BuildAuditService(db *sql.DB, cfg *appconfig.Config) *compliance.AuditService {
	if db == nil || cfg == nil || !cfg.AuditEnabled {
		return nil
	}
	return compliance.NewAuditService(db)
}
