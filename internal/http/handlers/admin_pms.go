package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parlae/pms-gateway/internal/compliance"
	"github.com/parlae/pms-gateway/internal/observability/metrics"
	"github.com/parlae/pms-gateway/internal/pms"
	"github.com/parlae/pms-gateway/pkg/logging"
)

// AuditReader queries the PHI access log.
type AuditReader interface {
	QueryEvents(ctx context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error)
}

// ServiceCache drops cached integrations. *pms.Registry satisfies it.
type ServiceCache interface {
	Forget(integrationID string)
	Len() int
}

// AdminPMSHandler serves operational endpoints for the PMS integrations.
type AdminPMSHandler struct {
	gatherer prometheus.Gatherer
	audit    AuditReader
	cache    ServiceCache
	logger   *logging.Logger
}

// NewAdminPMSHandler creates a new admin handler. A nil gatherer reads the default registry.
func NewAdminPMSHandler(gatherer prometheus.Gatherer, audit AuditReader, cache ServiceCache, logger *logging.Logger) *AdminPMSHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminPMSHandler{gatherer: gatherer, audit: audit, cache: cache, logger: logger}
}

// Routes mounts under /admin/pms.
func (h *AdminPMSHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/writebacks/stats", h.WritebackStats)
	r.Get("/integrations/{integrationID}/audit", h.AuditEvents)
	r.Delete("/integrations/{integrationID}/cache", h.ForgetIntegration)
	return r
}

// WritebackStatsResponse is the payload of the stats endpoint.
type WritebackStatsResponse struct {
	metrics.WritebackSnapshot
	CachedIntegrations int `json:"cachedIntegrations"`
}

// WritebackStats summarizes writeback outcomes since the process started.
func (h *AdminPMSHandler) WritebackStats(w http.ResponseWriter, r *http.Request) {
	resp := WritebackStatsResponse{WritebackSnapshot: metrics.SnapshotWritebacks(h.gatherer)}
	if h.cache != nil {
		resp.CachedIntegrations = h.cache.Len()
	}
	writeJSON(w, http.StatusOK, pms.OK(resp))
}

// AuditEvents lists PHI access events for an integration.
func (h *AdminPMSHandler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusNotImplemented, pms.HandleError[any](pms.NewError(pms.CodeConfig, "audit log is disabled")))
		return
	}
	q := r.URL.Query()
	filter := compliance.AuditFilter{
		IntegrationID: chi.URLParam(r, "integrationID"),
		ResourceID:    q.Get("resource_id"),
		EventType:     compliance.AuditEventType(q.Get("event_type")),
		Limit:         100,
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 1000 {
			writeJSON(w, http.StatusBadRequest, pms.HandleError[any](pms.Invalid("limit must be between 1 and 1000")))
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, pms.HandleError[any](pms.Invalid("since must be RFC3339")))
			return
		}
		filter.StartTime = since
	}

	events, err := h.audit.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit events", "integration_id", filter.IntegrationID, "error", err)
		writeJSON(w, http.StatusInternalServerError, pms.HandleError[any](err))
		return
	}
	if events == nil {
		events = []compliance.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, pms.OK(events))
}

// ForgetIntegration evicts a cached service so rotated credentials take effect.
func (h *AdminPMSHandler) ForgetIntegration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "integrationID")
	if h.cache != nil {
		h.cache.Forget(id)
	}
	h.logger.Info("pms integration cache cleared", "integration_id", id)
	w.WriteHeader(http.StatusNoContent)
}
