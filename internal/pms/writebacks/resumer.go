package writebacks

import (
	"context"
	"time"

	"github.com/parlae/pms-gateway/internal/pms/sikka"
	"github.com/parlae/pms-gateway/pkg/logging"
)

// Checker polls one writeback. *sikka.Service satisfies it.
type Checker interface {
	CheckWriteback(ctx context.Context, writebackID string) (sikka.WritebackStatus, error)
}

// CheckerResolver finds the Checker for an integration.
type CheckerResolver func(ctx context.Context, integrationID string) (Checker, error)

// Resumer resolves writebacks whose original poll was abandoned. Each pass
// polls every stale writeback once; writebacks older than maxAge are timed out.
type Resumer struct {
	store      Store
	resolve    CheckerResolver
	logger     *logging.Logger
	interval   time.Duration
	staleAfter time.Duration
	maxAge     time.Duration
	batch      int
	now        func() time.Time
}

func NewResumer(store Store, resolve CheckerResolver, logger *logging.Logger) *Resumer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resumer{
		store:      store,
		resolve:    resolve,
		logger:     logger,
		interval:   time.Minute,
		staleAfter: 2 * time.Minute,
		maxAge:     24 * time.Hour,
		batch:      50,
		now:        time.Now,
	}
}

func (r *Resumer) WithInterval(d time.Duration) *Resumer {
	if d > 0 {
		r.interval = d
	}
	return r
}

// WithStaleAfter sets how long a pending writeback must sit untouched before
// the resumer takes it over.
func (r *Resumer) WithStaleAfter(d time.Duration) *Resumer {
	if d > 0 {
		r.staleAfter = d
	}
	return r
}

func (r *Resumer) WithMaxAge(d time.Duration) *Resumer {
	if d > 0 {
		r.maxAge = d
	}
	return r
}

func (r *Resumer) WithBatchSize(n int) *Resumer {
	if n > 0 {
		r.batch = n
	}
	return r
}

func (r *Resumer) Run(ctx context.Context) {
	if r.store == nil || r.resolve == nil {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs one pass and reports how many writebacks reached a terminal state.
func (r *Resumer) RunOnce(ctx context.Context) int {
	now := r.now()
	stale, err := r.store.ListStale(ctx, now.Add(-r.staleAfter), r.batch)
	if err != nil {
		r.logger.Error("list stale writebacks failed", "error", err)
		return 0
	}

	resolved := 0
	for _, rec := range stale {
		if r.resume(ctx, now, rec) {
			resolved++
		}
	}
	if len(stale) > 0 {
		r.logger.Info("writeback resume pass complete", "stale", len(stale), "resolved", resolved)
	}
	return resolved
}

func (r *Resumer) resume(ctx context.Context, now time.Time, rec Record) bool {
	logger := r.logger.With("writeback_id", rec.WritebackID, "integration_id", rec.IntegrationID, "operation", rec.Operation)
	attempts := rec.Attempts + 1

	if now.Sub(rec.CreatedAt) > r.maxAge {
		logger.Warn("writeback abandoned after max age", "age", now.Sub(rec.CreatedAt).String())
		return r.finish(ctx, logger, rec.WritebackID, sikka.WritebackTimeout, "", rec.Attempts)
	}

	checker, err := r.resolve(ctx, rec.IntegrationID)
	if err != nil {
		logger.Error("resolve integration for writeback failed", "error", err)
		return false
	}
	status, err := checker.CheckWriteback(ctx, rec.WritebackID)
	if err != nil {
		logger.Warn("writeback status check failed", "error", err)
		r.attempt(ctx, logger, rec.WritebackID, attempts)
		return false
	}

	switch status.Result {
	case sikka.WritebackCompleted, sikka.WritebackFailed:
		logger.Info("resumed writeback resolved", "status", status.Result)
		return r.finish(ctx, logger, rec.WritebackID, status.Result, status.ErrorMessage, attempts)
	default:
		r.attempt(ctx, logger, rec.WritebackID, attempts)
		return false
	}
}

func (r *Resumer) attempt(ctx context.Context, logger *logging.Logger, id string, attempts int) {
	if err := r.store.Attempt(ctx, id, attempts); err != nil {
		logger.Error("record writeback attempt failed", "error", err)
	}
}

func (r *Resumer) finish(ctx context.Context, logger *logging.Logger, id, status, msg string, attempts int) bool {
	if err := r.store.Finish(ctx, id, status, msg, attempts); err != nil {
		logger.Error("finish writeback failed", "error", err)
		return false
	}
	return true
}
