package sikka

import (
	"context"
	"time"

	"github.com/parlae/pms-gateway/internal/pms/credentials"
	"github.com/parlae/pms-gateway/pkg/logging"
)

// TokenEnsurer is satisfied by Service and TokenManager.
type TokenEnsurer interface {
	EnsureValidToken(ctx context.Context) error
}

// EnsurerResolver finds the token owner for an integration.
type EnsurerResolver func(ctx context.Context, integrationID string) (TokenEnsurer, error)

// RefreshWorker renews request keys that are about to expire so voice calls
// never pay for a token round trip.
type RefreshWorker struct {
	store         credentials.Store
	resolve       EnsurerResolver
	logger        *logging.Logger
	interval      time.Duration
	refreshBefore time.Duration
}

// NewRefreshWorker creates a worker. refreshBefore should match the token manager's margin.
func NewRefreshWorker(store credentials.Store, resolve EnsurerResolver, logger *logging.Logger) *RefreshWorker {
	if logger == nil {
		logger = logging.Default()
	}
	return &RefreshWorker{
		store:         store,
		resolve:       resolve,
		logger:        logger,
		interval:      15 * time.Minute,
		refreshBefore: defaultRefreshMargin,
	}
}

// WithInterval sets the check interval.
func (w *RefreshWorker) WithInterval(interval time.Duration) *RefreshWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithRefreshBefore sets how long before expiry to refresh.
func (w *RefreshWorker) WithRefreshBefore(d time.Duration) *RefreshWorker {
	if d > 0 {
		w.refreshBefore = d
	}
	return w
}

// Start runs the worker until ctx is cancelled.
func (w *RefreshWorker) Start(ctx context.Context) {
	if w.store == nil || w.resolve == nil {
		return
	}
	w.logger.Info("starting sikka token refresh worker",
		"interval", w.interval.String(),
		"refresh_before", w.refreshBefore.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("token refresh worker shutting down")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce refreshes every integration expiring within refreshBefore and
// reports how many succeeded.
func (w *RefreshWorker) RunOnce(ctx context.Context) int {
	states, err := w.store.ListExpiring(ctx, w.refreshBefore)
	if err != nil {
		w.logger.Error("failed to list expiring sikka credentials", "error", err)
		return 0
	}
	if len(states) == 0 {
		w.logger.Debug("no sikka tokens need refresh")
		return 0
	}

	refreshed := 0
	for _, st := range states {
		ensurer, err := w.resolve(ctx, st.IntegrationID)
		if err != nil {
			w.logger.Error("resolve integration for refresh failed", "integration_id", st.IntegrationID, "error", err)
			continue
		}
		if err := ensurer.EnsureValidToken(ctx); err != nil {
			w.logger.Error("failed to refresh sikka token", "integration_id", st.IntegrationID, "error", err)
			continue
		}
		refreshed++
	}
	w.logger.Info("sikka token refresh pass complete", "candidates", len(states), "refreshed", refreshed)
	return refreshed
}
