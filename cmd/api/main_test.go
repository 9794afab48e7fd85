package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/parlae/pms-gateway/internal/config"
	"github.com/parlae/pms-gateway/pkg/logging"
)

func TestSetupMetricsExposesPMSMetrics(t *testing.T) {
	handler, reg, pmsMetrics := setupMetrics()
	if handler == nil || reg == nil || pmsMetrics == nil {
		t.Fatalf("expected non-nil handler, registry and metrics")
	}

	pmsMetrics.ObserveToolCall("appointments.book", "")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "parlae_pms_tool_calls_total") {
		t.Fatalf("expected tool call counter to be exported")
	}
}

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	logger := logging.Discard()
	if pool := connectPostgresPool(context.Background(), "", logger); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
	if db := auditDB(nil); db != nil {
		t.Fatalf("expected nil audit db without a pool")
	}
}

func TestSetupSQSSkippedWithoutQueue(t *testing.T) {
	if client := setupSQS(context.Background(), &appconfig.Config{}, logging.Discard()); client != nil {
		t.Fatalf("expected no SQS client without OUTBOX_QUEUE_URL")
	}
}

func TestSetupSQSWithQueue(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	cfg := &appconfig.Config{
		AWSRegion:           "us-east-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
		OutboxQueueURL:      "http://localhost:4566/000000000000/pms-events",
	}
	if client := setupSQS(context.Background(), cfg, logging.Discard()); client == nil {
		t.Fatalf("expected SQS client")
	}
}

func TestHealthChecks(t *testing.T) {
	if checks := healthChecks(nil, nil); len(checks) != 0 {
		t.Fatalf("expected no checks, got %d", len(checks))
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	checks := healthChecks(nil, rdb)
	check, ok := checks["redis"]
	if !ok {
		t.Fatalf("expected redis check")
	}
	if err := check(context.Background()); err != nil {
		t.Fatalf("redis check: %v", err)
	}
}
