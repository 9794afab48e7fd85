package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlae/pms-gateway/internal/compliance"
	"github.com/parlae/pms-gateway/internal/observability/metrics"
	"github.com/parlae/pms-gateway/internal/pms"
	"github.com/parlae/pms-gateway/internal/pms/writebacks"
	"github.com/parlae/pms-gateway/pkg/logging"
)

// fakeService implements the handful of pms.Service methods a test needs.
// Calling anything else panics through the nil embedded interface.
type fakeService struct {
	pms.Service

	booked      []pms.AppointmentRequest
	bookErr     error
	searched    []pms.PatientSearchQuery
	patients    []pms.Patient
	payments    []pms.PaymentRequest
	cancelled   []string
	available   []pms.AvailabilityQuery
	appointment []pms.AppointmentQuery
}

func (f *fakeService) BookAppointment(ctx context.Context, req pms.AppointmentRequest) (*pms.Appointment, error) {
	f.booked = append(f.booked, req)
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	return &pms.Appointment{
		ID:        "W123",
		PatientID: req.PatientID,
		StartTime: req.StartTime,
		EndTime:   req.StartTime.Add(time.Duration(req.Duration) * time.Minute),
		Duration:  req.Duration,
		Status:    pms.AppointmentScheduled,
	}, nil
}

func (f *fakeService) SearchPatients(ctx context.Context, q pms.PatientSearchQuery) ([]pms.Patient, error) {
	f.searched = append(f.searched, q)
	return f.patients, nil
}

func (f *fakeService) ProcessPayment(ctx context.Context, req pms.PaymentRequest) (*pms.Payment, error) {
	f.payments = append(f.payments, req)
	return &pms.Payment{ID: "T1", PatientID: req.PatientID, Amount: req.Amount, Method: req.Method, Status: "posted"}, nil
}

func (f *fakeService) CancelAppointment(ctx context.Context, id, reason string) error {
	f.cancelled = append(f.cancelled, id+":"+reason)
	return nil
}

func (f *fakeService) CheckAvailability(ctx context.Context, q pms.AvailabilityQuery) ([]pms.TimeSlot, error) {
	f.available = append(f.available, q)
	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	return []pms.TimeSlot{{StartTime: start, EndTime: start.Add(30 * time.Minute), Available: true}}, nil
}

func (f *fakeService) GetAppointments(ctx context.Context, q pms.AppointmentQuery) ([]pms.Appointment, error) {
	f.appointment = append(f.appointment, q)
	return []pms.Appointment{}, nil
}

func (f *fakeService) TestConnection(ctx context.Context) (*pms.ConnectionStatus, error) {
	return &pms.ConnectionStatus{Connected: true, OfficeID: "D1", ProviderCount: 3}, nil
}

type fakeResolver struct {
	svc pms.Service
	err error
	ids []string
}

func (f *fakeResolver) Get(ctx context.Context, integrationID string) (pms.Service, error) {
	f.ids = append(f.ids, integrationID)
	return f.svc, f.err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *pms.ErrorBody  `json:"error"`
}

type toolsFixture struct {
	router   http.Handler
	svc      *fakeService
	resolver *fakeResolver
	registry *prometheus.Registry
	store    *writebacks.MemoryStore
}

func newToolsFixture(t *testing.T, audit *compliance.AuditService) *toolsFixture {
	t.Helper()
	svc := &fakeService{}
	resolver := &fakeResolver{svc: svc}
	reg := prometheus.NewRegistry()
	store := writebacks.NewMemoryStore()
	h := NewPMSToolsHandler(PMSToolsConfig{
		Services:     resolver,
		Writebacks:   store,
		Audit:        audit,
		Metrics:      metrics.NewPMSMetrics(reg),
		Logger:       logging.Discard(),
		MaxBodyBytes: 512,
	})
	r := chi.NewRouter()
	r.Mount("/v1/integrations/{integrationID}", h.Routes())
	return &toolsFixture{router: r, svc: svc, resolver: resolver, registry: reg, store: store}
}

func (f *toolsFixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestBookAppointmentEndpoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO pms_audit_events").
		WithArgs(sqlmock.AnyArg(), compliance.EventPHIWrite, "int-1", "appointments.book", nil, nil,
			"appointment", sqlmock.AnyArg(), compliance.OutcomeSuccess, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	f := newToolsFixture(t, compliance.NewAuditService(db))
	rec, env := f.do(t, http.MethodPost, "/v1/integrations/int-1/appointments",
		`{"patientId":"P1","startTime":"2024-01-01T10:00:00Z","duration":30}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)

	var appt pms.Appointment
	require.NoError(t, json.Unmarshal(env.Data, &appt))
	assert.Equal(t, "W123", appt.ID)
	assert.Equal(t, "P1", appt.PatientID)
	assert.Equal(t, 30, appt.Duration)
	assert.Equal(t, pms.AppointmentScheduled, appt.Status)
	assert.True(t, appt.StartTime.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))

	assert.Equal(t, []string{"int-1"}, f.resolver.ids)
	assert.NoError(t, mock.ExpectationsWereMet())

	count, err := testutil.GatherAndCount(f.registry, "parlae_pms_tool_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBookAppointmentValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing patient", body: `{"startTime":"2024-01-01T10:00:00Z"}`},
		{name: "missing start", body: `{"patientId":"P1"}`},
		{name: "duration too short", body: `{"patientId":"P1","startTime":"2024-01-01T10:00:00Z","duration":1}`},
		{name: "malformed json", body: `{"patientId":`},
		{name: "oversized body", body: `{"patientId":"P1","notes":"` + strings.Repeat("x", 600) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newToolsFixture(t, nil)
			rec, env := f.do(t, http.MethodPost, "/v1/integrations/int-1/appointments", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, pms.CodeInvalidRequest, env.Error.Code)
			assert.Empty(t, f.svc.booked)
			assert.Empty(t, f.resolver.ids, "invalid requests must not build a service")
		})
	}
}

func TestBookAppointmentErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		code     pms.Code
		contains string
	}{
		{
			name:     "writeback failed keeps upstream message",
			err:      &pms.Error{Code: pms.CodeWritebackFailed, Message: "Provider is not available at this time"},
			status:   http.StatusUnprocessableEntity,
			code:     pms.CodeWritebackFailed,
			contains: "Provider is not available at this time",
		},
		{
			name:   "writeback timeout",
			err:    pms.ErrWritebackTimeout,
			status: http.StatusGatewayTimeout,
			code:   pms.CodeWritebackTimeout,
		},
		{
			name:   "foreign error",
			err:    errors.New("connection refused"),
			status: http.StatusBadGateway,
			code:   pms.CodeUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newToolsFixture(t, nil)
			f.svc.bookErr = tt.err
			rec, env := f.do(t, http.MethodPost, "/v1/integrations/int-1/appointments",
				`{"patientId":"P1","startTime":"2024-01-01T10:00:00Z","duration":30}`)

			assert.Equal(t, tt.status, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			if tt.contains != "" {
				assert.Equal(t, tt.contains, env.Error.Message)
			}
		})
	}
}

func TestResolverErrorIsReturned(t *testing.T) {
	f := newToolsFixture(t, nil)
	f.resolver.err = pms.NewError(pms.CodeCredentials, "integration has no stored credentials")

	rec, env := f.do(t, http.MethodPost, "/v1/integrations/int-9/test-connection", "")

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, pms.CodeCredentials, env.Error.Code)
}

func TestTestConnectionEndpoint(t *testing.T) {
	f := newToolsFixture(t, nil)
	rec, env := f.do(t, http.MethodPost, "/v1/integrations/int-1/test-connection", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var status pms.ConnectionStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.True(t, status.Connected)
	assert.Equal(t, 3, status.ProviderCount)
}

func TestSearchPatientsEndpoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO pms_audit_events").
		WithArgs(sqlmock.AnyArg(), compliance.EventPHIRead, "int-1", "patients.search", nil, nil,
			"patient", sqlmock.AnyArg(), compliance.OutcomeSuccess, nil,
			[]byte(`{"result_count":1,"search_by":["last_name","dob"]}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	f := newToolsFixture(t, compliance.NewAuditService(db))
	f.svc.patients = []pms.Patient{{ID: "P1", FirstName: "Ada", LastName: "Lovelace"}}

	rec, env := f.do(t, http.MethodGet, "/v1/integrations/int-1/patients?last_name=Lovelace&dob=1815-12-10&limit=5", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var patients []pms.Patient
	require.NoError(t, json.Unmarshal(env.Data, &patients))
	assert.Len(t, patients, 1)
	require.Len(t, f.svc.searched, 1)
	assert.Equal(t, pms.PatientSearchQuery{LastName: "Lovelace", DateOfBirth: "1815-12-10", Limit: 5}, f.svc.searched[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchPatientsRequiresCriteria(t *testing.T) {
	f := newToolsFixture(t, nil)
	rec, env := f.do(t, http.MethodGet, "/v1/integrations/int-1/patients", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, pms.CodeInvalidRequest, env.Error.Code)
	assert.Empty(t, f.svc.searched)
}

func TestProcessPaymentUsesPathPatient(t *testing.T) {
	f := newToolsFixture(t, nil)
	rec, env := f.do(t, http.MethodPost, "/v1/integrations/int-1/patients/P7/payments",
		`{"patientId":"ignored","amount":25.5,"method":"card"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, f.svc.payments, 1)
	assert.Equal(t, "P7", f.svc.payments[0].PatientID)

	var payment pms.Payment
	require.NoError(t, json.Unmarshal(env.Data, &payment))
	assert.Equal(t, 25.5, payment.Amount)
}

func TestProcessPaymentRejectsUnknownMethod(t *testing.T) {
	f := newToolsFixture(t, nil)
	rec, env := f.do(t, http.MethodPost, "/v1/integrations/int-1/patients/P7/payments", `{"amount":10,"method":"bitcoin"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error.Message, "Method")
	assert.Empty(t, f.svc.payments)
}

func TestCancelAppointmentEndpoint(t *testing.T) {
	f := newToolsFixture(t, nil)
	rec, env := f.do(t, http.MethodDelete, "/v1/integrations/int-1/appointments/A1?reason=sick", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var res CancelResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, CancelResult{ID: "A1", Cancelled: true}, res)
	assert.Equal(t, []string{"A1:sick"}, f.svc.cancelled)
}

func TestCheckAvailabilityEndpoint(t *testing.T) {
	f := newToolsFixture(t, nil)

	rec, _ := f.do(t, http.MethodGet, "/v1/integrations/int-1/availability", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/v1/integrations/int-1/availability?date=2024-01-02&duration=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := f.do(t, http.MethodGet, "/v1/integrations/int-1/availability?date=2024-01-02&provider_id=DR1&duration=60", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.svc.available, 1)
	assert.Equal(t, "DR1", f.svc.available[0].ProviderID)
	assert.Equal(t, 60, f.svc.available[0].DurationMins)
	assert.True(t, f.svc.available[0].Date.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))

	var slots []pms.TimeSlot
	require.NoError(t, json.Unmarshal(env.Data, &slots))
	assert.Len(t, slots, 1)
}

func TestListAppointmentsParsesQuery(t *testing.T) {
	f := newToolsFixture(t, nil)

	rec, _ := f.do(t, http.MethodGet, "/v1/integrations/int-1/appointments?start=2024-01-01&end=2024-01-07&provider_id=DR1&offset=20&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.svc.appointment, 1)
	q := f.svc.appointment[0]
	assert.Equal(t, "DR1", q.ProviderID)
	assert.Equal(t, 20, q.Offset)
	assert.Equal(t, 10, q.Limit)
	assert.Equal(t, 7, q.EndDate.Day())

	rec, _ = f.do(t, http.MethodGet, "/v1/integrations/int-1/appointments?start=January", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/v1/integrations/int-1/appointments?offset=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAppointmentsAuditsWithoutBlankPatientID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO pms_audit_events").
		WithArgs(sqlmock.AnyArg(), compliance.EventPHIRead, "int-1", "appointments.list", nil, nil,
			"appointment", "{}", compliance.OutcomeSuccess, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO pms_audit_events").
		WithArgs(sqlmock.AnyArg(), compliance.EventPHIRead, "int-1", "appointments.list", nil, nil,
			"appointment", `{"P9"}`, compliance.OutcomeSuccess, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	f := newToolsFixture(t, compliance.NewAuditService(db))
	rec, _ := f.do(t, http.MethodGet, "/v1/integrations/int-1/appointments?start=2024-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/v1/integrations/int-1/appointments?patient_id=P9", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIDsOf(t *testing.T) {
	assert.Equal(t, []string{}, idsOf(""))
	assert.Equal(t, []string{}, idsOf(" ", ""))
	assert.Equal(t, []string{"P1", "A2"}, idsOf("P1", "", "A2"))
}

func TestGetWritebackEndpoint(t *testing.T) {
	f := newToolsFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Begin(ctx, "int-1", "W1", "appointment.create", map[string]string{"patient_id": "P1", "note": "latex allergy"}))
	require.NoError(t, f.store.Finish(ctx, "W1", "failed", "slot taken", 3))

	rec, env := f.do(t, http.MethodGet, "/v1/integrations/int-1/writebacks/W1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state WritebackState
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.Equal(t, "W1", state.WritebackID)
	assert.Equal(t, "failed", state.Status)
	assert.Equal(t, "slot taken", state.ErrorMessage)
	assert.Equal(t, 3, state.Attempts)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &raw))
	assert.NotContains(t, raw, "payload")
	assert.NotContains(t, rec.Body.String(), "latex allergy")
	assert.NotContains(t, rec.Body.String(), "P1")

	rec, env = f.do(t, http.MethodGet, "/v1/integrations/int-2/writebacks/W1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, pms.CodeNotFound, env.Error.Code)

	rec, _ = f.do(t, http.MethodGet, "/v1/integrations/int-1/writebacks/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseDay(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "", want: time.Time{}},
		{in: "2024-03-05", want: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{in: "2024-03-05T09:30:00Z", want: time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)},
		{in: "03/05/2024", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}
