package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/parlae/pms-gateway/internal/config"
	"github.com/parlae/pms-gateway/internal/events"
	"github.com/parlae/pms-gateway/internal/pms"
	"github.com/parlae/pms-gateway/internal/pms/credentials"
	"github.com/parlae/pms-gateway/internal/pms/sikka"
	"github.com/parlae/pms-gateway/internal/pms/writebacks"
	"github.com/parlae/pms-gateway/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		Env:                        "test",
		SikkaBaseURL:               "https://api.sikkasoft.test/v4",
		SikkaAppID:                 "app-id",
		SikkaAppKey:                "app-key",
		SikkaRequestTimeout:        time.Second,
		SikkaAuthTimeout:           time.Second,
		SikkaWritebackPollInterval: time.Millisecond,
		SikkaWritebackMaxAttempts:  3,
		PMSDefaultAppointmentMins:  30,
		PMSOfficeOpen:              "08:00",
		PMSOfficeClose:             "17:00",
		PMSOfficeTimezone:          "America/New_York",
		PMSAvailabilitySlotMins:    30,
		PMSServiceCacheTTL:         time.Minute,
	}
}

func TestBuildRedisClient(t *testing.T) {
	logger := logging.Discard()

	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, logger, true))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, true)
	require.NotNil(t, client)
	defer client.Close()

	_, ok := BuildLocker(client).(*credentials.RedisLocker)
	assert.True(t, ok)
}

func TestBuildRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, logging.Discard(), true)
	assert.Nil(t, client)
	assert.IsType(t, credentials.NoopLocker{}, BuildLocker(client))
}

func TestBuildCredentialStoreFallback(t *testing.T) {
	store, err := BuildCredentialStore(nil, &appconfig.Config{Env: "development"}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &credentials.MemoryStore{}, store)

	_, err = BuildCredentialStore(nil, &appconfig.Config{Env: "production"}, logging.Discard())
	assert.Error(t, err)

	store, err = BuildCredentialStore(nil, &appconfig.Config{Env: "production", AllowInMemoryCredentialRepo: true}, logging.Discard())
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestBuildWritebackStoreWithoutPool(t *testing.T) {
	assert.IsType(t, &writebacks.MemoryStore{}, BuildWritebackStore(nil))
}

func TestBuildOutboxHandlerDefaultsToLog(t *testing.T) {
	cfg := &appconfig.Config{OutboxQueueURL: "https://sqs.test/queue"}
	assert.IsType(t, &events.LogHandler{}, BuildOutboxHandler(nil, cfg, logging.Discard()))
}

func TestBuildAuditServiceDisabled(t *testing.T) {
	assert.Nil(t, BuildAuditService(nil, &appconfig.Config{AuditEnabled: true}))
}

func TestSikkaFactoryBuildsServices(t *testing.T) {
	store := credentials.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), &credentials.State{IntegrationID: "int-1", OfficeID: "D1", SecretKey: "S1"}))
	reg, err := BuildRegistry(PMSDeps{
		Config:      testConfig(),
		Credentials: store,
		Writebacks:  writebacks.NewMemoryStore(),
		Logger:      logging.Discard(),
	})
	require.NoError(t, err)

	svc, err := reg.Get(context.Background(), "int-1")
	require.NoError(t, err)
	assert.IsType(t, &sikka.Service{}, svc)
	assert.Equal(t, 1, reg.Len())

	ensurer, err := TokenEnsurers(reg)(context.Background(), "int-1")
	require.NoError(t, err)
	assert.NotNil(t, ensurer)

	checker, err := WritebackCheckers(reg)(context.Background(), "int-1")
	require.NoError(t, err)
	assert.NotNil(t, checker)
}

func TestSikkaFactoryRejectsUnknownIntegration(t *testing.T) {
	store := credentials.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), &credentials.State{IntegrationID: "clinic-b", OfficeID: "CLINIC-B", SecretKey: "SB"}))
	reg, err := BuildRegistry(PMSDeps{
		Config:      testConfig(),
		Credentials: store,
		Logger:      logging.Discard(),
	})
	require.NoError(t, err)

	svc, err := reg.Get(context.Background(), "never-configured")
	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Equal(t, pms.CodeNotFound, pms.CodeOf(err))
	assert.Equal(t, 0, reg.Len())

	_, err = store.Load(context.Background(), "never-configured")
	assert.ErrorIs(t, err, credentials.ErrNotFound)
}

func TestSikkaFactoryConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*appconfig.Config)
	}{
		{"missing app key", func(c *appconfig.Config) { c.SikkaAppKey = "" }},
		{"bad timezone", func(c *appconfig.Config) { c.PMSOfficeTimezone = "Mars/Olympus" }},
		{"inverted hours", func(c *appconfig.Config) { c.PMSOfficeOpen = "18:00" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			factory, err := SikkaFactory(PMSDeps{Config: cfg, Credentials: credentials.NewMemoryStore()})
			require.Error(t, err)
			assert.Nil(t, factory)

			var perr *pms.Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, pms.CodeConfig, perr.Code)
		})
	}
}
