package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	appconfig "github.com/parlae/pms-gateway/internal/config"
	"github.com/parlae/pms-gateway/internal/observability/metrics"
	"github.com/parlae/pms-gateway/internal/pms"
	"github.com/parlae/pms-gateway/internal/pms/credentials"
	"github.com/parlae/pms-gateway/internal/pms/sikka"
	"github.com/parlae/pms-gateway/internal/pms/writebacks"
	"github.com/parlae/pms-gateway/pkg/logging"
)

// PMSDeps bundles what the Sikka factory needs.
type PMSDeps struct {
	Config      *appconfig.Config
	Credentials credentials.Store
	Locker      credentials.Locker
	Writebacks  sikka.WritebackTracker
	Metrics     *metrics.PMSMetrics
	Logger      *logging.Logger
	HTTPClient  *http.Client
}

// SikkaFactory validates configuration once and returns a factory building one
// sikka.Service per integration. All services share the HTTP transport.
func SikkaFactory(deps PMSDeps) (pms.Factory, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("bootstrap: credential store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	loc, err := time.LoadLocation(cfg.PMSOfficeTimezone)
	if err != nil {
		return nil, &pms.Error{Code: pms.CodeConfig, Message: "invalid PMS_OFFICE_TIMEZONE " + cfg.PMSOfficeTimezone, Err: err}
	}

	client, err := sikka.NewClient(sikka.ClientConfig{
		BaseURL:        cfg.SikkaBaseURL,
		AppID:          cfg.SikkaAppID,
		AppKey:         cfg.SikkaAppKey,
		RequestTimeout: cfg.SikkaRequestTimeout,
		AuthTimeout:    cfg.SikkaAuthTimeout,
		RetryMax:       cfg.SikkaHTTPRetryMax,
		HTTPClient:     deps.HTTPClient,
		Logger:         logger,
		Metrics:        deps.Metrics,
	})
	if err != nil {
		return nil, err
	}

	svcCfg := sikka.ServiceConfig{
		Store:         deps.Credentials,
		Locker:        deps.Locker,
		LockTTL:       cfg.SikkaRefreshLockTTL,
		RefreshMargin: cfg.SikkaTokenRefreshMargin,
		Poller: sikka.PollerConfig{
			Interval:    cfg.SikkaWritebackPollInterval,
			MaxAttempts: cfg.SikkaWritebackMaxAttempts,
			Tracker:     deps.Writebacks,
		},
		DefaultDuration: time.Duration(cfg.PMSDefaultAppointmentMins) * time.Minute,
		Location:        loc,
		OfficeOpen:      cfg.PMSOfficeOpen,
		OfficeClose:     cfg.PMSOfficeClose,
		SlotLength:      time.Duration(cfg.PMSAvailabilitySlotMins) * time.Minute,
		Logger:          logger,
		Metrics:         deps.Metrics,
	}
	// Validate office hours up front rather than on the first tool call.
	check := svcCfg
	check.IntegrationID = "config-check"
	if _, err := sikka.New(client, check); err != nil {
		return nil, err
	}

	store := deps.Credentials
	return func(ctx context.Context, integrationID string) (pms.Service, error) {
		// Only provisioned integrations get a service; unknown ids never reach discovery.
		state, err := store.Load(ctx, integrationID)
		if errors.Is(err, credentials.ErrNotFound) {
			return nil, &pms.Error{Code: pms.CodeNotFound, Message: "pms integration " + integrationID + " is not configured", Err: err}
		}
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load integration %s: %w", integrationID, err)
		}
		c := svcCfg
		c.IntegrationID = integrationID
		c.InitialState = state
		svc, err := sikka.New(client, c)
		if err != nil {
			return nil, err
		}
		return svc, nil
	}, nil
}

// BuildRegistry wires the Sikka factory into a caching registry.
func BuildRegistry(deps PMSDeps) (*pms.Registry, error) {
	factory, err := SikkaFactory(deps)
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(0)
	if deps.Config != nil {
		ttl = deps.Config.PMSServiceCacheTTL
	}
	return pms.NewRegistry(factory, ttl), nil
}

// TokenEnsurers adapts the registry for the refresh worker.
func TokenEnsurers(reg *pms.Registry) sikka.EnsurerResolver {
	return func(ctx context.Context, integrationID string) (sikka.TokenEnsurer, error) {
		svc, err := reg.Get(ctx, integrationID)
		if err != nil {
			return nil, err
		}
		ensurer, ok := svc.(sikka.TokenEnsurer)
		if !ok {
			return nil, fmt.Errorf("bootstrap: integration %s does not manage request keys", integrationID)
		}
		return ensurer, nil
	}
}

// WritebackCheckers adapts the registry for the writeback resumer.
func WritebackCheckers(reg *pms.Registry) writebacks.CheckerResolver {
	return func(ctx context.Context, integrationID string) (writebacks.Checker, error) {
		svc, err := reg.Get(ctx, integrationID)
		if err != nil {
			return nil, err
		}
		checker, ok := svc.(writebacks.Checker)
		if !ok {
			return nil, fmt.Errorf("bootstrap: integration %s cannot check writebacks", integrationID)
		}
		return checker, nil
	}
}
