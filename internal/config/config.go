package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	OutboxQueueURL      string

	// Sikka PMS
	SikkaBaseURL                string
	SikkaAppID                  string
	SikkaAppKey                 string
	SikkaRequestTimeout         time.Duration
	SikkaAuthTimeout            time.Duration
	SikkaHTTPRetryMax           int
	SikkaWritebackPollInterval  time.Duration
	SikkaWritebackMaxAttempts   int
	SikkaTokenRefreshMargin     time.Duration
	SikkaTokenRefreshInterval   time.Duration
	SikkaRefreshLockTTL         time.Duration
	PMSDefaultAppointmentMins   int
	PMSOfficeOpen               string
	PMSOfficeClose              string
	PMSOfficeTimezone           string
	PMSAvailabilitySlotMins     int
	PMSServiceCacheTTL          time.Duration
	WritebackResumeInterval     time.Duration
	WritebackStaleAfter         time.Duration
	WritebackResumeMaxAge       time.Duration
	OutboxDeliveryInterval      time.Duration
	OutboxDeliveryBatchSize     int
	OutboxMaxAttempts           int
	AuditEnabled                bool
	HTTPRateLimitPerMinute      int
	HTTPRequestBodyLimitBytes   int64
	ShutdownGracePeriod         time.Duration
	DisableBackgroundWorkers    bool
	MetricsEnabled              bool
	AllowInMemoryCredentialRepo bool

	AdminAuthSecret    string
	ToolAPIKey         string
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		OutboxQueueURL:      getEnv("OUTBOX_QUEUE_URL", ""),

		SikkaBaseURL:                getEnv("SIKKA_BASE_URL", "https://api.sikkasoft.com/v4"),
		SikkaAppID:                  getEnv("SIKKA_APP_ID", ""),
		SikkaAppKey:                 getEnv("SIKKA_APP_KEY", ""),
		SikkaRequestTimeout:         getEnvAsDuration("SIKKA_REQUEST_TIMEOUT", 20*time.Second),
		SikkaAuthTimeout:            getEnvAsDuration("SIKKA_AUTH_TIMEOUT", 15*time.Second),
		SikkaHTTPRetryMax:           getEnvAsInt("SIKKA_HTTP_RETRY_MAX", 2),
		SikkaWritebackPollInterval:  getEnvAsDuration("SIKKA_WRITEBACK_POLL_INTERVAL", 2*time.Second),
		SikkaWritebackMaxAttempts:   getEnvAsInt("SIKKA_WRITEBACK_MAX_ATTEMPTS", 10),
		SikkaTokenRefreshMargin:     getEnvAsDuration("SIKKA_TOKEN_REFRESH_MARGIN", time.Hour),
		SikkaTokenRefreshInterval:   getEnvAsDuration("SIKKA_TOKEN_REFRESH_INTERVAL", 15*time.Minute),
		SikkaRefreshLockTTL:         getEnvAsDuration("SIKKA_REFRESH_LOCK_TTL", 30*time.Second),
		PMSDefaultAppointmentMins:   getEnvAsInt("PMS_DEFAULT_APPOINTMENT_MINUTES", 30),
		PMSOfficeOpen:               getEnv("PMS_OFFICE_OPEN", "08:00"),
		PMSOfficeClose:              getEnv("PMS_OFFICE_CLOSE", "17:00"),
		PMSOfficeTimezone:           getEnv("PMS_OFFICE_TIMEZONE", "UTC"),
		PMSAvailabilitySlotMins:     getEnvAsInt("PMS_AVAILABILITY_SLOT_MINUTES", 30),
		PMSServiceCacheTTL:          getEnvAsDuration("PMS_SERVICE_CACHE_TTL", 30*time.Minute),
		WritebackResumeInterval:     getEnvAsDuration("WRITEBACK_RESUME_INTERVAL", time.Minute),
		WritebackStaleAfter:         getEnvAsDuration("WRITEBACK_STALE_AFTER", 2*time.Minute),
		WritebackResumeMaxAge:       getEnvAsDuration("WRITEBACK_RESUME_MAX_AGE", 24*time.Hour),
		OutboxDeliveryInterval:      getEnvAsDuration("OUTBOX_DELIVERY_INTERVAL", 2*time.Second),
		OutboxDeliveryBatchSize:     getEnvAsInt("OUTBOX_DELIVERY_BATCH_SIZE", 25),
		OutboxMaxAttempts:           getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 10),
		AuditEnabled:                getEnvAsBool("PMS_AUDIT_ENABLED", true),
		HTTPRateLimitPerMinute:      getEnvAsInt("HTTP_RATE_LIMIT_PER_MINUTE", 120),
		HTTPRequestBodyLimitBytes:   int64(getEnvAsInt("HTTP_REQUEST_BODY_LIMIT_BYTES", 1<<20)),
		ShutdownGracePeriod:         getEnvAsDuration("SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		DisableBackgroundWorkers:    getEnvAsBool("DISABLE_BACKGROUND_WORKERS", false),
		MetricsEnabled:              getEnvAsBool("METRICS_ENABLED", true),
		AllowInMemoryCredentialRepo: getEnvAsBool("ALLOW_IN_MEMORY_CREDENTIALS", false),

		AdminAuthSecret:    getEnv("ADMIN_JWT_SECRET", ""),
		ToolAPIKey:         getEnv("PMS_TOOL_API_KEY", ""),
		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
