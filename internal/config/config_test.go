package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("SIKKA_BASE_URL", "")
	t.Setenv("SIKKA_WRITEBACK_POLL_INTERVAL", "")
	t.Setenv("SIKKA_WRITEBACK_MAX_ATTEMPTS", "")
	t.Setenv("SIKKA_TOKEN_REFRESH_MARGIN", "")
	t.Setenv("PMS_DEFAULT_APPOINTMENT_MINUTES", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.SikkaBaseURL != "https://api.sikkasoft.com/v4" {
		t.Fatalf("expected default sikka base url, got %s", cfg.SikkaBaseURL)
	}
	if cfg.SikkaWritebackPollInterval != 2*time.Second {
		t.Fatalf("expected default poll interval 2s, got %s", cfg.SikkaWritebackPollInterval)
	}
	if cfg.SikkaWritebackMaxAttempts != 10 {
		t.Fatalf("expected default max attempts 10, got %d", cfg.SikkaWritebackMaxAttempts)
	}
	if cfg.SikkaTokenRefreshMargin != time.Hour {
		t.Fatalf("expected default refresh margin 1h, got %s", cfg.SikkaTokenRefreshMargin)
	}
	if cfg.PMSDefaultAppointmentMins != 30 {
		t.Fatalf("expected default appointment length 30, got %d", cfg.PMSDefaultAppointmentMins)
	}
	if !cfg.AuditEnabled {
		t.Fatalf("expected audit enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("SIKKA_APP_ID", "app-1")
	t.Setenv("SIKKA_APP_KEY", "key-1")
	t.Setenv("SIKKA_WRITEBACK_POLL_INTERVAL", "500ms")
	t.Setenv("SIKKA_WRITEBACK_MAX_ATTEMPTS", "4")
	t.Setenv("PMS_DEFAULT_APPOINTMENT_MINUTES", "45")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.parlae.ai, ,https://admin.parlae.ai")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.SikkaAppID != "app-1" || cfg.SikkaAppKey != "key-1" {
		t.Fatalf("expected sikka app credentials override, got %q/%q", cfg.SikkaAppID, cfg.SikkaAppKey)
	}
	if cfg.SikkaWritebackPollInterval != 500*time.Millisecond {
		t.Fatalf("expected poll interval override, got %s", cfg.SikkaWritebackPollInterval)
	}
	if cfg.SikkaWritebackMaxAttempts != 4 {
		t.Fatalf("expected max attempts override, got %d", cfg.SikkaWritebackMaxAttempts)
	}
	if cfg.PMSDefaultAppointmentMins != 45 {
		t.Fatalf("expected appointment length override, got %d", cfg.PMSDefaultAppointmentMins)
	}
	if !cfg.RedisTLS {
		t.Fatalf("expected redis tls enabled")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://admin.parlae.ai" {
		t.Fatalf("expected trimmed origins, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SIKKA_WRITEBACK_MAX_ATTEMPTS", "ten")
	t.Setenv("SIKKA_REQUEST_TIMEOUT", "soon")
	t.Setenv("PMS_AUDIT_ENABLED", "maybe")
	cfg := Load()
	if cfg.SikkaWritebackMaxAttempts != 10 {
		t.Fatalf("expected fallback max attempts, got %d", cfg.SikkaWritebackMaxAttempts)
	}
	if cfg.SikkaRequestTimeout != 20*time.Second {
		t.Fatalf("expected fallback request timeout, got %s", cfg.SikkaRequestTimeout)
	}
	if !cfg.AuditEnabled {
		t.Fatalf("expected fallback audit flag")
	}
}
