package sikka

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parlae/pms-gateway/internal/observability/metrics"
	"github.com/parlae/pms-gateway/internal/pms"
	"github.com/parlae/pms-gateway/internal/pms/credentials"
	"github.com/parlae/pms-gateway/pkg/logging"
)

const (
	pageSize        = 100
	maxPages        = 20
	defaultSearchN  = 25
	dateLayout      = "2006-01-02"
	clockLayout     = "15:04"
	defaultOpening  = "08:00"
	defaultClosing  = "17:00"
	defaultSlotMins = 30
)

// ServiceConfig configures a Service for one integration.
type ServiceConfig struct {
	IntegrationID   string
	InitialState    *credentials.State
	Store           credentials.Store
	Locker          credentials.Locker
	LockTTL         time.Duration
	RefreshMargin   time.Duration
	Poller          PollerConfig
	DefaultDuration time.Duration  // appointment length when neither caller nor API supplies one
	Location        *time.Location // office timezone
	OfficeOpen      string         // "08:00"
	OfficeClose     string         // "17:00"
	SlotLength      time.Duration  // availability grid step
	Logger          *logging.Logger
	Metrics         *metrics.PMSMetrics
}

// Service implements pms.Service against the Sikka v4 API.
type Service struct {
	client        *Client
	tokens        *TokenManager
	poller        *WritebackPoller
	mapper        mapper
	integrationID string
	loc           *time.Location
	openH, openM  int
	closeH        int
	closeM        int
	slotLength    time.Duration
	logger        *logging.Logger
	now           func() time.Time
}

var _ pms.Service = (*Service)(nil)

// New builds a Service on top of client.
func New(client *Client, cfg ServiceConfig) (*Service, error) {
	if client == nil {
		return nil, &pms.Error{Code: pms.CodeConfig, Message: "sikka: client is required"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = client.logger
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	open, closing := cfg.OfficeOpen, cfg.OfficeClose
	if open == "" {
		open = defaultOpening
	}
	if closing == "" {
		closing = defaultClosing
	}
	openH, openM, ok := parseClock(open)
	if !ok {
		return nil, &pms.Error{Code: pms.CodeConfig, Message: "sikka: invalid office opening time " + open}
	}
	closeH, closeM, ok := parseClock(closing)
	if !ok {
		return nil, &pms.Error{Code: pms.CodeConfig, Message: "sikka: invalid office closing time " + closing}
	}
	if closeH*60+closeM <= openH*60+openM {
		return nil, &pms.Error{Code: pms.CodeConfig, Message: "sikka: office closes before it opens"}
	}
	slot := cfg.SlotLength
	if slot <= 0 {
		slot = defaultSlotMins * time.Minute
	}

	tokens, err := NewTokenManager(client, TokenConfig{
		IntegrationID: cfg.IntegrationID,
		Store:         cfg.Store,
		Locker:        cfg.Locker,
		LockTTL:       cfg.LockTTL,
		RefreshMargin: cfg.RefreshMargin,
		Logger:        logger,
		Metrics:       cfg.Metrics,
	}, cfg.InitialState)
	if err != nil {
		return nil, err
	}

	s := &Service{
		client:        client,
		tokens:        tokens,
		mapper:        newMapper(cfg.DefaultDuration, loc, logger),
		integrationID: cfg.IntegrationID,
		loc:           loc,
		openH:         openH,
		openM:         openM,
		closeH:        closeH,
		closeM:        closeM,
		slotLength:    slot,
		logger:        logger.With("integration_id", cfg.IntegrationID),
		now:           time.Now,
	}
	pollCfg := cfg.Poller
	if pollCfg.Logger == nil {
		pollCfg.Logger = s.logger
	}
	if pollCfg.Metrics == nil {
		pollCfg.Metrics = cfg.Metrics
	}
	s.poller = newWritebackPoller(client, cfg.IntegrationID, s.CheckWriteback, pollCfg)
	return s, nil
}

// EnsureValidToken exposes the token manager to the refresh worker.
func (s *Service) EnsureValidToken(ctx context.Context) error {
	return s.tokens.EnsureValidToken(ctx)
}

// Credentials returns the current credential state.
func (s *Service) Credentials() credentials.State {
	return s.tokens.State()
}

// CheckWriteback polls the status endpoint once.
func (s *Service) CheckWriteback(ctx context.Context, writebackID string) (WritebackStatus, error) {
	return fetchWritebackStatus(ctx, s.client, s.tokens.RequestKey, writebackID)
}

// call sends an authenticated request. A 401 on a read invalidates the
// request key and retries once.
func (s *Service) call(ctx context.Context, req apiRequest) ([]byte, error) {
	key, err := s.tokens.RequestKey(ctx)
	if err != nil {
		return nil, err
	}
	req.header = requestKeyHeader(key)
	body, err := s.client.do(ctx, req)
	if err == nil || statusOf(err) != http.StatusUnauthorized || req.method != http.MethodGet {
		return body, err
	}

	s.logger.Warn("request key rejected, renewing", "endpoint", req.endpoint)
	s.tokens.Invalidate()
	if key, err = s.tokens.RequestKey(ctx); err != nil {
		return nil, err
	}
	req.header = requestKeyHeader(key)
	return s.client.do(ctx, req)
}

func requestKeyHeader(key string) http.Header {
	h := http.Header{}
	h.Set("Request-Key", key)
	return h
}

func (s *Service) get(ctx context.Context, endpoint, path string, query url.Values) ([]byte, error) {
	return s.call(ctx, apiRequest{method: http.MethodGet, endpoint: endpoint, path: path, query: query, retry: true})
}

// list pages through a collection until limit records (0 = all) are read.
func (s *Service) list(ctx context.Context, endpoint, path string, query url.Values, offset, limit int) ([]record, int, error) {
	size := pageSize
	if limit > 0 && limit < size {
		size = limit
	}
	var (
		all   []record
		total int
	)
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(size))

		body, err := s.get(ctx, endpoint, path, q)
		if err != nil {
			return nil, 0, err
		}
		items, count, err := decodeRecords(body)
		if err != nil {
			return nil, 0, fmt.Errorf("sikka: decode %s: %w", endpoint, err)
		}
		total = count
		all = append(all, items...)
		offset += len(items)
		if len(items) < size || offset >= total || (limit > 0 && len(all) >= limit) {
			break
		}
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (s *Service) one(ctx context.Context, endpoint, path string, query url.Values) (record, error) {
	body, err := s.get(ctx, endpoint, path, query)
	if err != nil {
		return nil, err
	}
	items, _, err := decodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("sikka: decode %s: %w", endpoint, err)
	}
	if len(items) == 0 {
		return nil, pms.ErrNotFound
	}
	return items[0], nil
}

// mutate submits a writeback and blocks until it resolves.
func (s *Service) mutate(ctx context.Context, operation string, req apiRequest) (WritebackStatus, error) {
	body, err := s.call(ctx, req)
	if err != nil {
		return WritebackStatus{}, fmt.Errorf("sikka: %s: %w", operation, err)
	}
	id, err := writebackID(body)
	if err != nil {
		return WritebackStatus{}, err
	}
	s.logger.Info("writeback submitted", "writeback_id", id, "operation", operation)
	s.poller.Begin(ctx, id, operation, req.body)

	status, err := s.poller.Wait(ctx, id, operation)
	if err != nil {
		return status, err
	}
	if status.ID == "" {
		status.ID = id
	}
	return status, nil
}

// resultID prefers the record id reported by the writeback.
func resultID(st WritebackStatus) string {
	if st.ResourceID != "" {
		return st.ResourceID
	}
	return st.ID
}

func escape(id string) string {
	return url.PathEscape(strings.TrimSpace(id))
}

// TestConnection checks credentials by listing a single provider.
func (s *Service) TestConnection(ctx context.Context) (*pms.ConnectionStatus, error) {
	if err := s.tokens.EnsureValidToken(ctx); err != nil {
		return nil, err
	}
	body, err := s.get(ctx, "/providers", "/providers", url.Values{"limit": []string{"1"}})
	if err != nil {
		return nil, err
	}
	items, total, err := decodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("sikka: decode providers: %w", err)
	}
	if total < len(items) {
		total = len(items)
	}
	return &pms.ConnectionStatus{
		Connected:     true,
		OfficeID:      s.tokens.State().OfficeID,
		ProviderCount: total,
		CheckedAt:     s.now().UTC(),
	}, nil
}

func (s *Service) GetAppointments(ctx context.Context, query pms.AppointmentQuery) ([]pms.Appointment, error) {
	q := url.Values{}
	if !query.StartDate.IsZero() {
		q.Set("startdate", query.StartDate.Format(dateLayout))
	}
	if !query.EndDate.IsZero() {
		q.Set("enddate", query.EndDate.Format(dateLayout))
	}
	if query.ProviderID != "" {
		q.Set("provider_id", query.ProviderID)
	}
	if query.PatientID != "" {
		q.Set("patient_id", query.PatientID)
	}
	if query.Status == "" {
		items, _, err := s.list(ctx, "/appointments", "/appointments", q, query.Offset, query.Limit)
		if err != nil {
			return nil, err
		}
		return mapItems(s.mapper, "appointment", items, s.mapper.appointment, func(a pms.Appointment) string { return a.ID }), nil
	}

	// Several raw PMS statuses fold into one canonical status, so the filter
	// runs here over the whole window and offset/limit page the filtered set.
	items, _, err := s.list(ctx, "/appointments", "/appointments", q, 0, 0)
	if err != nil {
		return nil, err
	}
	appts := mapItems(s.mapper, "appointment", items, s.mapper.appointment, func(a pms.Appointment) string { return a.ID })
	want := normalizeAppointmentStatus(query.Status)
	filtered := appts[:0]
	for _, a := range appts {
		if strings.EqualFold(a.Status, want) {
			filtered = append(filtered, a)
		}
	}
	return pageOf(filtered, query.Offset, query.Limit), nil
}

func pageOf[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (s *Service) GetAppointment(ctx context.Context, appointmentID string) (*pms.Appointment, error) {
	if strings.TrimSpace(appointmentID) == "" {
		return nil, pms.Invalid("appointment id is required")
	}
	r, err := s.one(ctx, "/appointments/{id}", "/appointments/"+escape(appointmentID), nil)
	if err != nil {
		return nil, err
	}
	appt := s.mapper.appointment(r)
	if appt.ID == "" {
		appt.ID = appointmentID
	}
	return &appt, nil
}

func (s *Service) BookAppointment(ctx context.Context, req pms.AppointmentRequest) (*pms.Appointment, error) {
	if strings.TrimSpace(req.PatientID) == "" {
		return nil, pms.Invalid("patient id is required")
	}
	if req.StartTime.IsZero() {
		return nil, pms.Invalid("start time is required")
	}
	duration := s.duration(req.Duration)

	payload := s.schedulePayload(req.StartTime, duration, req.ProviderID)
	payload["patient_id"] = req.PatientID
	setIf(payload, "operatory", req.OperatoryID)
	setIf(payload, "type", req.AppointmentType)
	setIf(payload, "note", req.Notes)

	st, err := s.mutate(ctx, "appointment.create", apiRequest{
		method:   http.MethodPost,
		endpoint: "/appointment",
		path:     "/appointment",
		body:     payload,
	})
	if err != nil {
		return nil, err
	}
	return &pms.Appointment{
		ID:              resultID(st),
		PatientID:       req.PatientID,
		ProviderID:      req.ProviderID,
		OperatoryID:     req.OperatoryID,
		StartTime:       req.StartTime,
		EndTime:         req.StartTime.Add(duration),
		Duration:        int(duration / time.Minute),
		Status:          pms.AppointmentScheduled,
		AppointmentType: req.AppointmentType,
		Notes:           req.Notes,
	}, nil
}

func (s *Service) RescheduleAppointment(ctx context.Context, appointmentID string, req pms.RescheduleRequest) (*pms.Appointment, error) {
	if strings.TrimSpace(appointmentID) == "" {
		return nil, pms.Invalid("appointment id is required")
	}
	if req.StartTime.IsZero() {
		return nil, pms.Invalid("start time is required")
	}
	duration := s.duration(req.Duration)
	if _, err := s.mutate(ctx, "appointment.update", apiRequest{
		method:   http.MethodPatch,
		endpoint: "/appointments/{id}",
		path:     "/appointments/" + escape(appointmentID),
		body:     s.schedulePayload(req.StartTime, duration, req.ProviderID),
	}); err != nil {
		return nil, err
	}

	appt, err := s.GetAppointment(ctx, appointmentID)
	if err == nil {
		return appt, nil
	}
	s.logger.Warn("re-fetch after reschedule failed", "error", err, "appointment_id", appointmentID)
	return &pms.Appointment{
		ID:         appointmentID,
		ProviderID: req.ProviderID,
		StartTime:  req.StartTime,
		EndTime:    req.StartTime.Add(duration),
		Duration:   int(duration / time.Minute),
		Status:     pms.AppointmentScheduled,
	}, nil
}

func (s *Service) CancelAppointment(ctx context.Context, appointmentID string, reason string) error {
	if strings.TrimSpace(appointmentID) == "" {
		return pms.Invalid("appointment id is required")
	}
	req := apiRequest{
		method:   http.MethodDelete,
		endpoint: "/appointments/{id}",
		path:     "/appointments/" + escape(appointmentID),
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		req.body = map[string]any{"cancel_reason": reason}
	}
	_, err := s.mutate(ctx, "appointment.cancel", req)
	return err
}

func (s *Service) SearchPatients(ctx context.Context, query pms.PatientSearchQuery) ([]pms.Patient, error) {
	if query.Empty() {
		return nil, pms.Invalid("at least one search field is required")
	}
	q := url.Values{}
	setQuery(q, "firstname", query.FirstName)
	setQuery(q, "lastname", query.LastName)
	setQuery(q, "cell", digitsOnly(query.Phone))
	setQuery(q, "email", query.Email)
	setQuery(q, "birthdate", query.DateOfBirth)
	limit := query.Limit
	if limit <= 0 {
		limit = defaultSearchN
	}
	items, _, err := s.list(ctx, "/patients", "/patients", q, 0, limit)
	if err != nil {
		return nil, err
	}
	return mapItems(s.mapper, "patient", items, s.mapper.patient, func(p pms.Patient) string { return p.ID }), nil
}

func (s *Service) GetPatient(ctx context.Context, patientID string) (*pms.Patient, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, pms.Invalid("patient id is required")
	}
	r, err := s.one(ctx, "/patients/{id}", "/patients/"+escape(patientID), nil)
	if err != nil {
		return nil, err
	}
	p := s.mapper.patient(r)
	if p.ID == "" {
		p.ID = patientID
	}
	return &p, nil
}

func (s *Service) CreatePatient(ctx context.Context, input pms.PatientInput) (*pms.Patient, error) {
	if strings.TrimSpace(input.FirstName) == "" || strings.TrimSpace(input.LastName) == "" {
		return nil, pms.Invalid("first and last name are required")
	}
	st, err := s.mutate(ctx, "patient.create", apiRequest{
		method:   http.MethodPost,
		endpoint: "/patient",
		path:     "/patient",
		body:     patientPayload(input),
	})
	if err != nil {
		return nil, err
	}
	p := patientFromInput(resultID(st), input)
	return &p, nil
}

func (s *Service) UpdatePatient(ctx context.Context, patientID string, input pms.PatientInput) (*pms.Patient, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, pms.Invalid("patient id is required")
	}
	payload := patientPayload(input)
	if len(payload) == 0 {
		return nil, pms.Invalid("no patient fields to update")
	}
	if _, err := s.mutate(ctx, "patient.update", apiRequest{
		method:   http.MethodPatch,
		endpoint: "/patients/{id}",
		path:     "/patients/" + escape(patientID),
		body:     payload,
	}); err != nil {
		return nil, err
	}
	p, err := s.GetPatient(ctx, patientID)
	if err == nil {
		return p, nil
	}
	s.logger.Warn("re-fetch after patient update failed", "error", err, "patient_id", patientID)
	fallback := patientFromInput(patientID, input)
	return &fallback, nil
}

func (s *Service) GetPatientInsurance(ctx context.Context, patientID string) ([]pms.Insurance, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, pms.Invalid("patient id is required")
	}
	items, _, err := s.list(ctx, "/patients/{id}/insurance", "/patients/"+escape(patientID)+"/insurance", nil, 0, 0)
	if err != nil {
		return nil, err
	}
	return mapItems(s.mapper, "insurance", items,
		func(r record) pms.Insurance { return s.mapper.insurance(r, patientID) },
		func(i pms.Insurance) string { return i.ID }), nil
}

func (s *Service) AddPatientInsurance(ctx context.Context, patientID string, input pms.InsuranceInput) (*pms.Insurance, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, pms.Invalid("patient id is required")
	}
	if strings.TrimSpace(input.CarrierName) == "" || strings.TrimSpace(input.SubscriberID) == "" {
		return nil, pms.Invalid("carrier name and subscriber id are required")
	}
	payload := map[string]any{
		"insurance_company_name": input.CarrierName,
		"subscriber_id":          input.SubscriberID,
		"is_primary":             input.IsPrimary,
	}
	setIf(payload, "plan_name", input.PlanName)
	setIf(payload, "group_number", input.GroupNumber)
	setIf(payload, "subscriber_name", input.SubscriberName)
	setIf(payload, "relationship", input.Relationship)

	st, err := s.mutate(ctx, "insurance.create", apiRequest{
		method:   http.MethodPost,
		endpoint: "/patients/{id}/insurance",
		path:     "/patients/" + escape(patientID) + "/insurance",
		body:     payload,
	})
	if err != nil {
		return nil, err
	}
	return &pms.Insurance{
		ID:             resultID(st),
		PatientID:      patientID,
		CarrierName:    input.CarrierName,
		PlanName:       input.PlanName,
		GroupNumber:    input.GroupNumber,
		SubscriberID:   input.SubscriberID,
		SubscriberName: input.SubscriberName,
		Relationship:   input.Relationship,
		IsPrimary:      input.IsPrimary,
	}, nil
}

func (s *Service) GetPatientBalance(ctx context.Context, patientID string) (*pms.PatientBalance, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, pms.Invalid("patient id is required")
	}
	r, err := s.one(ctx, "/patient_balance", "/patient_balance", url.Values{"patient_id": []string{patientID}})
	if err != nil {
		return nil, err
	}
	b := s.mapper.balance(r, patientID)
	return &b, nil
}

func (s *Service) GetProviders(ctx context.Context) ([]pms.Provider, error) {
	items, _, err := s.list(ctx, "/providers", "/providers", nil, 0, 0)
	if err != nil {
		return nil, err
	}
	return mapItems(s.mapper, "provider", items, s.mapper.provider, func(p pms.Provider) string { return p.ID }), nil
}

func (s *Service) GetProvider(ctx context.Context, providerID string) (*pms.Provider, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, pms.Invalid("provider id is required")
	}
	r, err := s.one(ctx, "/providers/{id}", "/providers/"+escape(providerID), nil)
	if err != nil {
		return nil, err
	}
	p := s.mapper.provider(r)
	if p.ID == "" {
		p.ID = providerID
	}
	return &p, nil
}

func (s *Service) ProcessPayment(ctx context.Context, req pms.PaymentRequest) (*pms.Payment, error) {
	if strings.TrimSpace(req.PatientID) == "" {
		return nil, pms.Invalid("patient id is required")
	}
	if req.Amount <= 0 {
		return nil, pms.Invalid("amount must be positive")
	}
	now := s.now()
	payload := map[string]any{
		"patient_id":       req.PatientID,
		"amount":           roundCents(req.Amount),
		"payment_type":     req.Method,
		"transaction_type": "payment",
		"transaction_date": now.In(s.loc).Format(dateLayout),
	}
	setIf(payload, "provider_id", req.ProviderID)
	setIf(payload, "description", req.Description)

	st, err := s.mutate(ctx, "payment.create", apiRequest{
		method:   http.MethodPost,
		endpoint: "/transaction",
		path:     "/transaction",
		body:     payload,
	})
	if err != nil {
		return nil, err
	}
	return &pms.Payment{
		ID:          resultID(st),
		PatientID:   req.PatientID,
		Amount:      roundCents(req.Amount),
		Method:      req.Method,
		Status:      "posted",
		Description: req.Description,
		PostedAt:    now.UTC(),
	}, nil
}

func (s *Service) GetPaymentHistory(ctx context.Context, patientID string) ([]pms.Payment, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, pms.Invalid("patient id is required")
	}
	q := url.Values{"patient_id": []string{patientID}, "transaction_type": []string{"payment"}}
	items, _, err := s.list(ctx, "/transactions", "/transactions", q, 0, 0)
	if err != nil {
		return nil, err
	}
	payments := mapItems(s.mapper, "payment", items,
		func(r record) pms.Payment { return s.mapper.payment(r, patientID) },
		func(p pms.Payment) string { return p.ID })
	sort.SliceStable(payments, func(i, j int) bool { return payments[i].PostedAt.After(payments[j].PostedAt) })
	return payments, nil
}

func (s *Service) GetPatientNotes(ctx context.Context, patientID string) ([]pms.PatientNote, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, pms.Invalid("patient id is required")
	}
	items, _, err := s.list(ctx, "/medical_notes", "/medical_notes", url.Values{"patient_id": []string{patientID}}, 0, 0)
	if err != nil {
		return nil, err
	}
	notes := mapItems(s.mapper, "note", items,
		func(r record) pms.PatientNote { return s.mapper.note(r, patientID) },
		func(n pms.PatientNote) string { return n.ID })
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
	return notes, nil
}

func (s *Service) AddPatientNote(ctx context.Context, patientID string, input pms.NoteInput) (*pms.PatientNote, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, pms.Invalid("patient id is required")
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, pms.Invalid("note content is required")
	}
	now := s.now()
	payload := map[string]any{
		"patient_id": patientID,
		"note":       input.Content,
		"note_date":  now.In(s.loc).Format("2006-01-02T15:04:05"),
	}
	setIf(payload, "category", input.Category)

	st, err := s.mutate(ctx, "note.create", apiRequest{
		method:   http.MethodPost,
		endpoint: "/medical_notes",
		path:     "/medical_notes",
		body:     payload,
	})
	if err != nil {
		return nil, err
	}
	return &pms.PatientNote{
		ID:        resultID(st),
		PatientID: patientID,
		Content:   input.Content,
		Category:  input.Category,
		CreatedAt: now.UTC(),
	}, nil
}

func (s *Service) duration(mins int) time.Duration {
	if mins > 0 {
		return time.Duration(mins) * time.Minute
	}
	return s.mapper.defaultDuration
}

func (s *Service) schedulePayload(start time.Time, duration time.Duration, providerID string) map[string]any {
	local := start.In(s.loc)
	payload := map[string]any{
		"date":   local.Format(dateLayout),
		"time":   local.Format(clockLayout),
		"length": int(duration / time.Minute),
	}
	setIf(payload, "provider_id", providerID)
	return payload
}

func patientPayload(in pms.PatientInput) map[string]any {
	payload := map[string]any{}
	setIf(payload, "firstname", in.FirstName)
	setIf(payload, "lastname", in.LastName)
	setIf(payload, "birthdate", in.DateOfBirth)
	setIf(payload, "gender", in.Gender)
	setIf(payload, "email", in.Email)
	setIf(payload, "cell", digitsOnly(in.Phone))
	if in.Address != nil {
		setIf(payload, "address_line1", in.Address.Line1)
		setIf(payload, "address_line2", in.Address.Line2)
		setIf(payload, "city", in.Address.City)
		setIf(payload, "state", in.Address.State)
		setIf(payload, "zipcode", in.Address.PostalCode)
	}
	return payload
}

func patientFromInput(id string, in pms.PatientInput) pms.Patient {
	return pms.Patient{
		ID:          id,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		DateOfBirth: in.DateOfBirth,
		Gender:      in.Gender,
		Email:       in.Email,
		Phone:       in.Phone,
		Address:     in.Address,
	}
}

func setIf(m map[string]any, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		m[key] = value
	}
}

func setQuery(q url.Values, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		q.Set(key, value)
	}
}
