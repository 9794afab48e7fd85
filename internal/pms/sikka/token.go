package sikka

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/parlae/pms-gateway/internal/observability/metrics"
	"github.com/parlae/pms-gateway/internal/pms"
	"github.com/parlae/pms-gateway/internal/pms/credentials"
	"github.com/parlae/pms-gateway/pkg/logging"
)

const (
	defaultRefreshMargin = time.Hour
	defaultTokenLifetime = 24 * time.Hour
	defaultLockTTL       = 30 * time.Second
	defaultLockWait      = 250 * time.Millisecond
	defaultLockAttempts  = 20
)

// TokenConfig configures a TokenManager.
type TokenConfig struct {
	IntegrationID string
	Store         credentials.Store  // optional; state stays in memory without it
	Locker        credentials.Locker // optional; defaults to a no-op lock
	RefreshMargin time.Duration      // keys expiring sooner than this are refreshed (default 1h)
	LockTTL       time.Duration
	LockWait      time.Duration
	LockAttempts  int
	Logger        *logging.Logger
	Metrics       *metrics.PMSMetrics
}

// TokenManager keeps a valid Request-Key for one integration. Concurrent
// callers share a single refresh: in-process through singleflight and across
// processes through the Locker plus a reload from the Store.
type TokenManager struct {
	api           *Client
	integrationID string
	store         credentials.Store
	locker        credentials.Locker
	margin        time.Duration
	lockTTL       time.Duration
	lockWait      time.Duration
	lockAttempts  int
	logger        *logging.Logger
	metrics       *metrics.PMSMetrics
	now           func() time.Time

	mu       sync.RWMutex
	state    credentials.State
	loaded   bool
	rejected string // request key the API refused; never reused

	group singleflight.Group
}

// NewTokenManager creates a manager seeded with initial state.
func NewTokenManager(api *Client, cfg TokenConfig, initial *credentials.State) (*TokenManager, error) {
	if api == nil {
		return nil, &pms.Error{Code: pms.CodeConfig, Message: "sikka: client is required"}
	}
	if cfg.IntegrationID == "" {
		return nil, &pms.Error{Code: pms.CodeConfig, Message: "sikka: IntegrationID is required"}
	}
	m := &TokenManager{
		api:           api,
		integrationID: cfg.IntegrationID,
		store:         cfg.Store,
		locker:        cfg.Locker,
		margin:        cfg.RefreshMargin,
		lockTTL:       cfg.LockTTL,
		lockWait:      cfg.LockWait,
		lockAttempts:  cfg.LockAttempts,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		now:           time.Now,
	}
	if m.locker == nil {
		m.locker = credentials.NoopLocker{}
	}
	if m.margin <= 0 {
		m.margin = defaultRefreshMargin
	}
	if m.lockTTL <= 0 {
		m.lockTTL = defaultLockTTL
	}
	if m.lockWait <= 0 {
		m.lockWait = defaultLockWait
	}
	if m.lockAttempts <= 0 {
		m.lockAttempts = defaultLockAttempts
	}
	if m.logger == nil {
		m.logger = logging.Default()
	}
	m.logger = m.logger.With("integration_id", cfg.IntegrationID)

	m.state.IntegrationID = cfg.IntegrationID
	if initial != nil {
		m.state = *initial
		m.state.IntegrationID = cfg.IntegrationID
		m.loaded = true
	}
	return m, nil
}

// State returns a copy of the current credential state.
func (m *TokenManager) State() credentials.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// RequestKey returns a request key valid for at least the refresh margin.
func (m *TokenManager) RequestKey(ctx context.Context) (string, error) {
	if err := m.EnsureValidToken(ctx); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.RequestKey, nil
}

// EnsureValidToken is a no-op while the request key is more than the refresh
// margin away from expiry. Otherwise it refreshes, acquires, or discovers and
// acquires, in that order of preference.
func (m *TokenManager) EnsureValidToken(ctx context.Context) error {
	if m.valid() {
		return nil
	}

	// The refresh outlives any single caller's cancellation so the other
	// waiters still get its result.
	ch := m.group.DoChan(m.integrationID, func() (any, error) {
		return nil, m.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// Invalidate forces the next EnsureValidToken to renew the request key.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.rejected = m.state.RequestKey
	m.state.TokenExpiry = time.Time{}
	m.mu.Unlock()
}

func (m *TokenManager) valid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rejected != "" && m.state.RequestKey == m.rejected {
		return false
	}
	return m.loaded && m.state.ValidFor(m.now(), m.margin)
}

func (m *TokenManager) refresh(ctx context.Context) error {
	if err := m.reload(ctx); err != nil {
		return err
	}
	if m.valid() {
		return nil
	}

	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	if unlock != nil {
		defer func() {
			if err := unlock(context.Background()); err != nil {
				m.logger.Warn("release token refresh lock failed", "error", err)
			}
		}()
		// Another process may have finished a refresh between our reload and the lock.
		if err := m.reload(ctx); err != nil {
			return err
		}
		if m.valid() {
			return nil
		}
	} else if m.valid() {
		return nil
	}

	st := m.State()
	if err := m.renew(ctx, &st); err != nil {
		return err
	}
	return m.commit(ctx, st)
}

// lock takes the cross-process refresh lock. A nil Unlock with a nil error
// means another process refreshed while we waited, or we gave up waiting.
func (m *TokenManager) lock(ctx context.Context) (credentials.Unlock, error) {
	for attempt := 0; attempt < m.lockAttempts; attempt++ {
		unlock, ok, err := m.locker.TryLock(ctx, m.integrationID, m.lockTTL)
		if err != nil {
			m.logger.Warn("token refresh lock unavailable, refreshing without it", "error", err)
			return nil, nil
		}
		if ok {
			return unlock, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.lockWait):
		}
		if err := m.reload(ctx); err != nil {
			return nil, err
		}
		if m.valid() {
			return nil, nil
		}
	}
	m.logger.Warn("timed out waiting for token refresh lock, refreshing without it")
	return nil, nil
}

// renew runs the state machine: refresh, else (re)acquire, discovering office
// credentials first when they are unknown.
func (m *TokenManager) renew(ctx context.Context, st *credentials.State) error {
	if st.RefreshKey != "" {
		err := m.refreshKey(ctx, st)
		if err == nil {
			return nil
		}
		if statusOf(err) != http.StatusUnauthorized {
			return err
		}
		m.logger.Warn("refresh key rejected, re-acquiring request key")
		st.ClearToken()
	}

	if !st.HasOfficeCredentials() {
		if err := m.discover(ctx, st); err != nil {
			return err
		}
	}
	return m.acquire(ctx, st)
}

func (m *TokenManager) discover(ctx context.Context, st *credentials.State) error {
	body, err := m.api.do(ctx, apiRequest{
		method:   http.MethodGet,
		endpoint: "/authorized_practices",
		path:     "/authorized_practices",
		header:   m.api.appHeaders(),
		auth:     true,
		retry:    true,
	})
	if err != nil {
		m.metrics.ObserveTokenRefresh("discover", "error")
		return authError("discover authorized practices", err)
	}
	items, _, err := decodeRecords(body)
	if err != nil {
		m.metrics.ObserveTokenRefresh("discover", "error")
		return authError("decode authorized practices", err)
	}

	// A known office id must match exactly. Without one, only an unambiguous
	// single practice is adopted.
	var candidates []record
	for _, item := range items {
		if item.str("office_id", "officeId") == "" || item.str("secret_key", "secretKey") == "" {
			continue
		}
		if st.OfficeID == "" || item.str("office_id", "officeId") == st.OfficeID {
			candidates = append(candidates, item)
		}
	}
	switch {
	case len(candidates) == 0 && st.OfficeID != "":
		m.metrics.ObserveTokenRefresh("discover", "error")
		return &pms.Error{Code: pms.CodeCredentials, Message: "sikka: office " + st.OfficeID + " has not authorized this application"}
	case len(candidates) == 0:
		m.metrics.ObserveTokenRefresh("discover", "error")
		return &pms.Error{Code: pms.CodeCredentials, Message: "sikka: no authorized practice found for this application"}
	case len(candidates) > 1:
		m.metrics.ObserveTokenRefresh("discover", "error")
		return &pms.Error{Code: pms.CodeCredentials, Message: "sikka: several practices authorized this application; set office_id for the integration"}
	}
	chosen := candidates[0]
	st.OfficeID = chosen.str("office_id", "officeId")
	st.SecretKey = chosen.str("secret_key", "secretKey")
	m.metrics.ObserveTokenRefresh("discover", "ok")
	m.logger.Info("discovered sikka practice", "office_id", st.OfficeID)
	return nil
}

func (m *TokenManager) acquire(ctx context.Context, st *credentials.State) error {
	payload := map[string]string{
		"grant_type": "request_key",
		"office_id":  st.OfficeID,
		"secret_key": st.SecretKey,
		"app_id":     m.api.appID,
		"app_key":    m.api.appKey,
	}
	if err := m.requestKey(ctx, "acquire", payload, st); err != nil {
		return err
	}
	m.logger.Info("acquired sikka request key", "office_id", st.OfficeID, "expires_at", st.TokenExpiry)
	return nil
}

func (m *TokenManager) refreshKey(ctx context.Context, st *credentials.State) error {
	payload := map[string]string{
		"grant_type":  "refresh_key",
		"refresh_key": st.RefreshKey,
		"app_id":      m.api.appID,
		"app_key":     m.api.appKey,
	}
	if err := m.requestKey(ctx, "refresh", payload, st); err != nil {
		return err
	}
	m.logger.Info("refreshed sikka request key", "expires_at", st.TokenExpiry)
	return nil
}

func (m *TokenManager) requestKey(ctx context.Context, mode string, payload map[string]string, st *credentials.State) error {
	body, err := m.api.do(ctx, apiRequest{
		method:   http.MethodPost,
		endpoint: "/request_key",
		path:     "/request_key",
		body:     payload,
		header:   m.api.appHeaders(),
		auth:     true,
	})
	if err != nil {
		m.metrics.ObserveTokenRefresh(mode, "error")
		return authError(mode+" request key", err)
	}

	var resp record
	if err := decodeJSON(body, &resp); err != nil {
		m.metrics.ObserveTokenRefresh(mode, "error")
		return authError("decode request key response", err)
	}
	requestKey := resp.str("request_key", "requestKey")
	if requestKey == "" {
		m.metrics.ObserveTokenRefresh(mode, "error")
		return &pms.Error{Code: pms.CodeAuthFailed, Message: "sikka: " + mode + " response missing request_key"}
	}

	lifetime := defaultTokenLifetime
	if raw, ok := resp.lookup("expires_in", "expiresIn"); ok {
		if d, ok := parseExpiresIn(raw); ok {
			lifetime = d
		}
	}
	st.RequestKey = requestKey
	if refresh := resp.str("refresh_key", "refreshKey"); refresh != "" {
		st.RefreshKey = refresh
	}
	st.TokenExpiry = m.now().Add(lifetime).UTC()
	m.metrics.ObserveTokenRefresh(mode, "ok")
	return nil
}

func (m *TokenManager) reload(ctx context.Context) error {
	if m.store == nil {
		m.mu.Lock()
		m.loaded = true
		m.mu.Unlock()
		return nil
	}
	st, err := m.store.Load(ctx, m.integrationID)
	if errors.Is(err, credentials.ErrNotFound) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.loaded {
			return &pms.Error{Code: pms.CodeCredentials, Message: "sikka: no credentials on file for integration " + m.integrationID, Err: err}
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("sikka: load credential state: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded || st.TokenExpiry.After(m.state.TokenExpiry) {
		m.state = *st
	} else if !m.state.HasOfficeCredentials() && st.HasOfficeCredentials() {
		m.state.OfficeID, m.state.SecretKey = st.OfficeID, st.SecretKey
	}
	m.state.IntegrationID = m.integrationID
	m.loaded = true
	return nil
}

func (m *TokenManager) commit(ctx context.Context, st credentials.State) error {
	m.mu.Lock()
	m.state = st
	m.loaded = true
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	if err := m.store.Save(ctx, &st); err != nil {
		// The in-memory key is still usable; the next refresh persists again.
		m.logger.Error("persist credential state failed", "error", err)
	}
	return nil
}

func authError(op string, err error) error {
	return &pms.Error{Code: pms.CodeAuthFailed, Message: "sikka: " + op, Status: statusOf(err), Err: err}
}
