package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/parlae/pms-gateway/internal/http/handlers"
	httpmiddleware "github.com/parlae/pms-gateway/internal/http/middleware"
	"github.com/parlae/pms-gateway/pkg/logging"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	PMSTools       *handlers.PMSToolsHandler
	AdminPMS       *handlers.AdminPMSHandler
	MetricsHandler http.Handler
	HealthChecks   map[string]HealthCheck

	ToolAPIKey         string
	AdminAuthSecret    string
	CORSAllowedOrigins []string
	RateLimitPerMinute int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints
	r.Get("/health", healthHandler(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Tool endpoints called by the voice assistant
	if cfg.PMSTools != nil {
		r.Route("/v1/integrations/{integrationID}", func(tools chi.Router) {
			tools.Use(requireIntegrationID)
			tools.Use(httpmiddleware.ToolAPIKey(cfg.ToolAPIKey))
			if cfg.RateLimitPerMinute > 0 {
				tools.Use(httpmiddleware.RateLimit(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMinute, burstFor(cfg.RateLimitPerMinute))))
			}
			tools.Use(middleware.Timeout(90 * time.Second))
			tools.Mount("/", cfg.PMSTools.Routes())
		})
	}

	// Admin routes (protected by JWT)
	if cfg.AdminPMS != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Mount("/pms", cfg.AdminPMS.Routes())
		})
	}

	return r
}

func burstFor(perMinute int) int {
	if burst := perMinute / 6; burst > 1 {
		return burst
	}
	return 1
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		resp := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				resp["status"] = "degraded"
				resp[name] = err.Error()
				continue
			}
			resp[name] = "ok"
		}
		writeJSON(w, status, resp)
	}
}
