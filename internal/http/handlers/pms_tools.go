package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/parlae/pms-gateway/internal/compliance"
	httpmiddleware "github.com/parlae/pms-gateway/internal/http/middleware"
	"github.com/parlae/pms-gateway/internal/observability/metrics"
	"github.com/parlae/pms-gateway/internal/pms"
	"github.com/parlae/pms-gateway/internal/pms/writebacks"
	"github.com/parlae/pms-gateway/pkg/logging"
)

const defaultMaxBodyBytes int64 = 1 << 20

// ServiceResolver returns the PMS service for an integration. *pms.Registry satisfies it.
type ServiceResolver interface {
	Get(ctx context.Context, integrationID string) (pms.Service, error)
}

// WritebackLookup reads tracked writebacks.
type WritebackLookup interface {
	Get(ctx context.Context, writebackID string) (*writebacks.Record, error)
}

// PMSToolsHandler serves the tool endpoints the voice assistant calls during a
// phone conversation, plus the connection test used by the admin pages.
type PMSToolsHandler struct {
	services   ServiceResolver
	writebacks WritebackLookup
	audit      *compliance.AuditService
	metrics    *metrics.PMSMetrics
	validate   *validator.Validate
	logger     *logging.Logger
	maxBody    int64
}

// PMSToolsConfig wires a PMSToolsHandler. Only Services is required.
type PMSToolsConfig struct {
	Services     ServiceResolver
	Writebacks   WritebackLookup
	Audit        *compliance.AuditService
	Metrics      *metrics.PMSMetrics
	Logger       *logging.Logger
	MaxBodyBytes int64
}

// NewPMSToolsHandler creates the tool handler.
func NewPMSToolsHandler(cfg PMSToolsConfig) *PMSToolsHandler {
	if cfg.Services == nil {
		panic("handlers: pms service resolver cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &PMSToolsHandler{
		services:   cfg.Services,
		writebacks: cfg.Writebacks,
		audit:      cfg.Audit,
		metrics:    cfg.Metrics,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     cfg.Logger,
		maxBody:    cfg.MaxBodyBytes,
	}
}

// Routes mounts under /v1/integrations/{integrationID}.
func (h *PMSToolsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/test-connection", h.TestConnection)

	r.Get("/appointments", h.ListAppointments)
	r.Post("/appointments", h.BookAppointment)
	r.Get("/appointments/{appointmentID}", h.GetAppointment)
	r.Patch("/appointments/{appointmentID}", h.RescheduleAppointment)
	r.Delete("/appointments/{appointmentID}", h.CancelAppointment)
	r.Get("/availability", h.CheckAvailability)

	r.Get("/patients", h.SearchPatients)
	r.Post("/patients", h.CreatePatient)
	r.Route("/patients/{patientID}", func(r chi.Router) {
		r.Get("/", h.GetPatient)
		r.Patch("/", h.UpdatePatient)
		r.Get("/insurance", h.GetPatientInsurance)
		r.Post("/insurance", h.AddPatientInsurance)
		r.Get("/balance", h.GetPatientBalance)
		r.Get("/notes", h.GetPatientNotes)
		r.Post("/notes", h.AddPatientNote)
		r.Get("/payments", h.GetPaymentHistory)
		r.Post("/payments", h.ProcessPayment)
	})

	r.Get("/providers", h.GetProviders)
	r.Get("/providers/{providerID}", h.GetProvider)
	r.Get("/writebacks/{writebackID}", h.GetWriteback)
	return r
}

// toolCall describes one endpoint for metrics and the PHI audit trail.
type toolCall struct {
	operation string
	resource  string // non-empty when the call touches patient data
	ids       []string
	write     bool
	status    int // success status, 200 when zero
	search    []string
}

func runTool[T any](h *PMSToolsHandler, w http.ResponseWriter, r *http.Request, call toolCall, fn func(ctx context.Context, svc pms.Service) (T, error)) {
	svc, err := h.services.Get(r.Context(), chi.URLParam(r, "integrationID"))
	if err != nil {
		h.finish(w, r, call, nil, err)
		return
	}
	result, err := fn(r.Context(), svc)
	h.finish(w, r, call, result, err)
}

// finish records metrics and the audit trail, then writes the envelope.
func (h *PMSToolsHandler) finish(w http.ResponseWriter, r *http.Request, call toolCall, result any, err error) {
	ctx := r.Context()
	integrationID := chi.URLParam(r, "integrationID")

	code := pms.CodeOf(err)
	h.metrics.ObserveToolCall(call.operation, string(code))
	if call.resource != "" {
		h.recordAccess(ctx, integrationID, call, code, result, err == nil)
	}

	if err != nil {
		h.logger.Warn("pms tool call failed",
			"operation", call.operation,
			"integration_id", integrationID,
			"code", code,
			"error", err,
		)
		writeJSON(w, pms.HTTPStatus(err), pms.HandleError[any](err))
		return
	}
	status := call.status
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, pms.OK(result))
}

func (h *PMSToolsHandler) recordAccess(ctx context.Context, integrationID string, call toolCall, code pms.Code, result any, ok bool) {
	details := &compliance.AccessDetails{SearchBy: call.search}
	if ok {
		if v := reflect.ValueOf(result); v.Kind() == reflect.Slice {
			details.ResultCount = v.Len()
		}
	}
	err := h.audit.LogAccess(ctx, compliance.Access{
		IntegrationID: integrationID,
		Operation:     call.operation,
		Actor:         httpmiddleware.ActorFromContext(ctx),
		RequestID:     chimw.GetReqID(ctx),
		ResourceType:  call.resource,
		ResourceIDs:   call.ids,
		Write:         call.write,
		ErrorCode:     string(code),
		Details:       details,
	})
	if err != nil {
		h.logger.Error("failed to record phi access", "operation", call.operation, "integration_id", integrationID, "error", err)
	}
}

// decode reads a size-limited JSON body into dst and validates it.
func (h *PMSToolsHandler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return pms.Invalid("request body exceeds %d bytes", tooLarge.Limit)
		case errors.Is(err, io.EOF):
			return pms.Invalid("request body is required")
		default:
			return pms.Invalid("invalid JSON body: %v", err)
		}
	}
	return h.check(dst)
}

func (h *PMSToolsHandler) check(v any) error {
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return pms.Invalid("%s", strings.Join(fields, "; "))
		}
		return pms.Invalid("%v", err)
	}
	return nil
}

func (h *PMSToolsHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	runTool(h, w, r, toolCall{operation: "connection.test"}, func(ctx context.Context, svc pms.Service) (*pms.ConnectionStatus, error) {
		return svc.TestConnection(ctx)
	})
}

func (h *PMSToolsHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := pms.AppointmentQuery{
		ProviderID: q.Get("provider_id"),
		PatientID:  q.Get("patient_id"),
		Status:     q.Get("status"),
	}
	call := toolCall{operation: "appointments.list", resource: "appointment", ids: idsOf(query.PatientID)}

	var err error
	if query.StartDate, err = parseDay(q.Get("start")); err == nil {
		query.EndDate, err = parseDay(q.Get("end"))
	}
	if err == nil {
		query.Offset, query.Limit, err = parsePage(q)
	}
	if err != nil {
		h.finish(w, r, call, nil, err)
		return
	}
	runTool(h, w, r, call, func(ctx context.Context, svc pms.Service) ([]pms.Appointment, error) {
		return svc.GetAppointments(ctx, query)
	})
}

func (h *PMSToolsHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentID")
	runTool(h, w, r, toolCall{operation: "appointments.get", resource: "appointment", ids: []string{id}}, func(ctx context.Context, svc pms.Service) (*pms.Appointment, error) {
		return svc.GetAppointment(ctx, id)
	})
}

func (h *PMSToolsHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	var req pms.AppointmentRequest
	err := h.decode(w, r, &req)
	call := toolCall{operation: "appointments.book", resource: "appointment", ids: idsOf(req.PatientID), write: true, status: http.StatusCreated}
	if err != nil {
		h.finish(w, r, call, nil, err)
		return
	}
	runTool(h, w, r, call, func(ctx context.Context, svc pms.Service) (*pms.Appointment, error) {
		return svc.BookAppointment(ctx, req)
	})
}

func (h *PMSToolsHandler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentID")
	call := toolCall{operation: "appointments.reschedule", resource: "appointment", ids: []string{id}, write: true}
	var req pms.RescheduleRequest
	if err := h.decode(w, r, &req); err != nil {
		h.finish(w, r, call, nil, err)
		return
	}
	runTool(h, w, r, call, func(ctx context.Context, svc pms.Service) (*pms.Appointment, error) {
		return svc.RescheduleAppointment(ctx, id, req)
	})
}

// CancelResult is returned by the cancel endpoint.
type CancelResult struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

func (h *PMSToolsHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentID")
	reason := r.URL.Query().Get("reason")
	runTool(h, w, r, toolCall{operation: "appointments.cancel", resource: "appointment", ids: []string{id}, write: true}, func(ctx context.Context, svc pms.Service) (CancelResult, error) {
		if err := svc.CancelAppointment(ctx, id, reason); err != nil {
			return CancelResult{}, err
		}
		return CancelResult{ID: id, Cancelled: true}, nil
	})
}

func (h *PMSToolsHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	call := toolCall{operation: "availability.check"}
	query := pms.AvailabilityQuery{ProviderID: q.Get("provider_id")}

	date, err := parseDay(q.Get("date"))
	if err == nil && date.IsZero() {
		err = pms.Invalid("date is required")
	}
	if err == nil && q.Get("duration") != "" {
		query.DurationMins, err = parsePositive("duration", q.Get("duration"))
	}
	if err != nil {
		h.finish(w, r, call, nil, err)
		return
	}
	query.Date = date
	runTool(h, w, r, call, func(ctx context.Context, svc pms.Service) ([]pms.TimeSlot, error) {
		return svc.CheckAvailability(ctx, query)
	})
}

func (h *PMSToolsHandler) SearchPatients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := pms.PatientSearchQuery{
		FirstName:   q.Get("first_name"),
		LastName:    q.Get("last_name"),
		Phone:       q.Get("phone"),
		Email:       q.Get("email"),
		DateOfBirth: q.Get("dob"),
	}
	call := toolCall{operation: "patients.search", resource: "patient", search: searchKeys(q)}
	if query.Empty() {
		h.finish(w, r, call, nil, pms.Invalid("at least one search field is required"))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := parsePositive("limit", raw)
		if err != nil {
			h.finish(w, r, call, nil, err)
			return
		}
		query.Limit = limit
	}
	runTool(h, w, r, call, func(ctx context.Context, svc pms.Service) ([]pms.Patient, error) {
		return svc.SearchPatients(ctx, query)
	})
}

func (h *PMSToolsHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patientID")
	runTool(h, w, r, toolCall{operation: "patients.get", resource: "patient", ids: []string{id}}, func(ctx context.Context, svc pms.Service) (*pms.Patient, error) {
		return svc.GetPatient(ctx, id)
	})
}

func (h *PMSToolsHandler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	call := toolCall{operation: "patients.create", resource: "patient", write: true, status: http.StatusCreated}
	var input pms.PatientInput
	err := h.decode(w, r, &input)
	if err == nil && (input.FirstName == "" || input.LastName == "") {
		err = pms.Invalid("firstName and lastName are required")
	}
	if err != nil {
		h.finish(w, r, call, nil, err)
		return
	}
	runTool(h, w, r, call, func(ctx context.Context, svc pms.Service) (*pms.Patient, error) {
		return svc.CreatePatient(ctx, input)
	})
}

func (h *PMSToolsHandler) UpdatePatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patientID")
	call := toolCall{operation: "patients.update", resource: "patient", ids: []string{id}, write: true}
	var input pms.PatientInput
	if err := h.decode(w, r, &input); err != nil {
		h.finish(w, r, call, nil, err)
		return
	}
	runTool(h, w, r, call, func(ctx context.Context, svc pms.Service) (*pms.Patient, error) {
		return svc.UpdatePatient(ctx, id, input)
	})
}

func (h *PMSToolsHandler) GetPatientInsurance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patientID")
	runTool(h, w, r, toolCall{operation: "insurance.list", resource: "insurance", ids: []string{id}}, func(ctx context.Context, svc pms.Service) ([]pms.Insurance, error) {
		return svc.GetPatientInsurance(ctx, id)
	})
}

func (h *PMSToolsHandler) AddPatientInsurance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patientID")
	call := toolCall{operation: "insurance.add", resource: "insurance", ids: []string{id}, write: true, status: http.StatusCreated}
	var input pms.InsuranceInput
	if err := h.decode(w, r, &input); err != nil {
		h.finish(w, r, call, nil, err)
		return
	}
	runTool(h, w, r, call, func(ctx context.Context, svc pms.Service) (*pms.Insurance, error) {
		return svc.AddPatientInsurance(ctx, id, input)
	})
}

func (h *PMSToolsHandler) GetPatientBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patientID")
	runTool(h, w, r, toolCall{operation: "balance.get", resource: "balance", ids: []string{id}}, func(ctx context.Context, svc pms.Service) (*pms.PatientBalance, error) {
		return svc.GetPatientBalance(ctx, id)
	})
}

func (h *PMSToolsHandler) GetPatientNotes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patientID")
	runTool(h, w, r, toolCall{operation: "notes.list", resource: "note", ids: []string{id}}, func(ctx context.Context, svc pms.Service) ([]pms.PatientNote, error) {
		return svc.GetPatientNotes(ctx, id)
	})
}

func (h *PMSToolsHandler) AddPatientNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patientID")
	call := toolCall{operation: "notes.add", resource: "note", ids: []string{id}, write: true, status: http.StatusCreated}
	var input pms.NoteInput
	if err := h.decode(w, r, &input); err != nil {
		h.finish(w, r, call, nil, err)
		return
	}
	runTool(h, w, r, call, func(ctx context.Context, svc pms.Service) (*pms.PatientNote, error) {
		return svc.AddPatientNote(ctx, id, input)
	})
}

func (h *PMSToolsHandler) GetPaymentHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patientID")
	runTool(h, w, r, toolCall{operation: "payments.list", resource: "payment", ids: []string{id}}, func(ctx context.Context, svc pms.Service) ([]pms.Payment, error) {
		return svc.GetPaymentHistory(ctx, id)
	})
}

func (h *PMSToolsHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patientID")
	call := toolCall{operation: "payments.process", resource: "payment", ids: []string{id}, write: true, status: http.StatusCreated}
	var req pms.PaymentRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		err = pms.Invalid("invalid JSON body: %v", err)
	} else {
		req.PatientID = id
		err = h.check(&req)
	}
	if err != nil {
		h.finish(w, r, call, nil, err)
		return
	}
	runTool(h, w, r, call, func(ctx context.Context, svc pms.Service) (*pms.Payment, error) {
		return svc.ProcessPayment(ctx, req)
	})
}

func (h *PMSToolsHandler) GetProviders(w http.ResponseWriter, r *http.Request) {
	runTool(h, w, r, toolCall{operation: "providers.list"}, func(ctx context.Context, svc pms.Service) ([]pms.Provider, error) {
		return svc.GetProviders(ctx)
	})
}

func (h *PMSToolsHandler) GetProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "providerID")
	runTool(h, w, r, toolCall{operation: "providers.get"}, func(ctx context.Context, svc pms.Service) (*pms.Provider, error) {
		return svc.GetProvider(ctx, id)
	})
}

// WritebackState is the public view of a tracked writeback. The stored
// request fields are kept server side.
type WritebackState struct {
	WritebackID  string     `json:"writebackId"`
	Operation    string     `json:"operation"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

// GetWriteback reports the tracked state of a writeback, including ones whose
// originating request gave up before the PMS answered.
func (h *PMSToolsHandler) GetWriteback(w http.ResponseWriter, r *http.Request) {
	integrationID := chi.URLParam(r, "integrationID")
	id := chi.URLParam(r, "writebackID")
	if h.writebacks == nil {
		writeJSON(w, http.StatusNotImplemented, pms.HandleError[any](pms.NewError(pms.CodeConfig, "writeback tracking is disabled")))
		return
	}
	rec, err := h.writebacks.Get(r.Context(), id)
	if errors.Is(err, writebacks.ErrNotFound) || (err == nil && rec.IntegrationID != integrationID) {
		err = pms.ErrNotFound
	}
	h.metrics.ObserveToolCall("writebacks.get", string(pms.CodeOf(err)))
	if err != nil {
		writeJSON(w, pms.HTTPStatus(err), pms.HandleError[any](err))
		return
	}
	writeJSON(w, http.StatusOK, pms.OK(WritebackState{
		WritebackID:  rec.WritebackID,
		Operation:    rec.Operation,
		Status:       rec.Status,
		ErrorMessage: rec.ErrorMessage,
		Attempts:     rec.Attempts,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		ResolvedAt:   rec.ResolvedAt,
	}))
}

// idsOf lists the non-blank resource ids for the audit trail.
func idsOf(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out = append(out, id)
		}
	}
	return out
}

// parseDay accepts YYYY-MM-DD or RFC3339. Empty input yields the zero time.
func parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, pms.Invalid("invalid date %q, expected YYYY-MM-DD", raw)
}

func parsePositive(name, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, pms.Invalid("%s must be a positive integer", name)
	}
	return n, nil
}

func parsePage(q map[string][]string) (offset, limit int, err error) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	if raw := get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, pms.Invalid("offset must be a non-negative integer")
		}
	}
	if raw := get("limit"); raw != "" {
		if limit, err = parsePositive("limit", raw); err != nil {
			return 0, 0, err
		}
	}
	return offset, limit, nil
}

// searchKeys names the fields used in a patient search without their values.
func searchKeys(q map[string][]string) []string {
	var keys []string
	for _, k := range []string{"first_name", "last_name", "phone", "email", "dob"} {
		if v := q[k]; len(v) > 0 && v[0] != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
