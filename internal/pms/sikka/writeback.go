package sikka

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/parlae/pms-gateway/internal/observability/metrics"
	"github.com/parlae/pms-gateway/internal/pms"
	"github.com/parlae/pms-gateway/pkg/logging"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxAttempts  = 10
)

// Writeback states reported by the status endpoint.
const (
	WritebackPending   = "pending"
	WritebackCompleted = "completed"
	WritebackFailed    = "failed"
	WritebackTimeout   = "timeout"
)

// WritebackStatus is one observation of a writeback.
type WritebackStatus struct {
	ID           string
	Result       string // pending, completed or failed
	ErrorMessage string
	ResourceID   string // id of the created record when the API reports it
}

// WritebackTracker persists writeback progress so an interrupted poll can be
// resumed by another process.
type WritebackTracker interface {
	Begin(ctx context.Context, integrationID, writebackID, operation string, payload any) error
	Attempt(ctx context.Context, writebackID string, attempts int) error
	Finish(ctx context.Context, writebackID, status, errorMessage string, attempts int) error
}

// PollerConfig configures a WritebackPoller.
type PollerConfig struct {
	Interval    time.Duration // delay between polls (default 2s)
	MaxAttempts int           // polls before giving up (default 10)
	Tracker     WritebackTracker
	Logger      *logging.Logger
	Metrics     *metrics.PMSMetrics
}

// statusFunc fetches the current status of a writeback.
type statusFunc func(ctx context.Context, id string) (WritebackStatus, error)

// WritebackPoller turns Sikka's submit-then-poll mutations into blocking calls.
type WritebackPoller struct {
	integrationID string
	check         statusFunc
	interval      time.Duration
	maxAttempts   int
	tracker       WritebackTracker
	logger        *logging.Logger
	metrics       *metrics.PMSMetrics
	tracer        trace.Tracer
}

func newWritebackPoller(client *Client, integrationID string, check statusFunc, cfg PollerConfig) *WritebackPoller {
	p := &WritebackPoller{
		integrationID: integrationID,
		check:         check,
		interval:      cfg.Interval,
		maxAttempts:   cfg.MaxAttempts,
		tracker:       cfg.Tracker,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		tracer:        client.tracer,
	}
	if p.interval <= 0 {
		p.interval = defaultPollInterval
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = defaultMaxAttempts
	}
	if p.logger == nil {
		p.logger = logging.Default()
	}
	return p
}

// Begin records a freshly submitted writeback with the tracker, if any.
func (p *WritebackPoller) Begin(ctx context.Context, writebackID, operation string, payload any) {
	if p.tracker == nil {
		return
	}
	if err := p.tracker.Begin(ctx, p.integrationID, writebackID, operation, trackedFields(payload)); err != nil {
		p.logger.Warn("track writeback failed", "error", err, "writeback_id", writebackID, "operation", operation)
	}
}

// Wait polls until the writeback completes, fails, or the attempt budget runs out.
// Transient poll errors consume an attempt and are retried.
func (p *WritebackPoller) Wait(ctx context.Context, writebackID, operation string) (WritebackStatus, error) {
	ctx, span := p.tracer.Start(ctx, "sikka.writeback.wait")
	defer span.End()
	span.SetAttributes(
		attribute.String("sikka.writeback_id", writebackID),
		attribute.String("sikka.operation", operation),
	)

	var (
		attempts int
		last     WritebackStatus
	)
	poll := func() error {
		attempts++
		status, err := p.check(ctx, writebackID)
		p.trackAttempt(ctx, writebackID, attempts)
		if err != nil {
			p.logger.Warn("writeback poll failed", "error", err, "writeback_id", writebackID, "attempt", attempts)
			return err
		}
		last = status
		switch status.Result {
		case WritebackCompleted:
			return nil
		case WritebackFailed:
			return backoff.Permanent(&pms.Error{Code: pms.CodeWritebackFailed, Message: status.ErrorMessage})
		default:
			return errWritebackPending
		}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.interval), uint64(p.maxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(poll, b)
	span.SetAttributes(attribute.Int("sikka.writeback_attempts", attempts))

	switch {
	case err == nil:
		p.finish(ctx, writebackID, operation, WritebackCompleted, "", attempts)
		return last, nil
	case errors.Is(err, pms.ErrWritebackFailed):
		span.SetStatus(codes.Error, "writeback failed")
		p.finish(ctx, writebackID, operation, WritebackFailed, last.ErrorMessage, attempts)
		return last, err
	case ctx.Err() != nil:
		span.SetStatus(codes.Error, "cancelled")
		// Left pending in the tracker so the resumer can pick it up.
		return last, fmt.Errorf("sikka: wait for writeback %s: %w", writebackID, ctx.Err())
	default:
		span.SetStatus(codes.Error, "timeout")
		// The tracker row stays pending: the PMS may still apply the write, and
		// the resumer either resolves it later or times it out past its max age.
		p.metrics.ObserveWriteback(operation, WritebackTimeout, attempts)
		p.logger.Warn("writeback timed out", "writeback_id", writebackID, "operation", operation, "attempts", attempts, "last_error", err)
		return last, &pms.Error{
			Code:    pms.CodeWritebackTimeout,
			Message: fmt.Sprintf("writeback %s not completed after %d attempts", writebackID, attempts),
		}
	}
}

var errWritebackPending = errors.New("sikka: writeback pending")

// trackedKeys are the request fields worth keeping next to a writeback. Names,
// contact details, notes and amounts never leave the request.
var trackedKeys = []string{
	"patient_id", "provider_id", "operatory", "appointment_sr_no",
	"date", "time", "length", "type", "transaction_type", "payment_type",
}

// trackedFields reduces a request body to its reference fields.
func trackedFields(payload any) map[string]any {
	var body map[string]any
	switch v := payload.(type) {
	case map[string]any:
		body = v
	case map[string]string:
		body = make(map[string]any, len(v))
		for k, val := range v {
			body[k] = val
		}
	}
	out := map[string]any{}
	for _, k := range trackedKeys {
		if v, ok := body[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (p *WritebackPoller) trackAttempt(ctx context.Context, writebackID string, attempts int) {
	if p.tracker == nil {
		return
	}
	if err := p.tracker.Attempt(ctx, writebackID, attempts); err != nil {
		p.logger.Warn("track writeback attempt failed", "error", err, "writeback_id", writebackID)
	}
}

func (p *WritebackPoller) finish(ctx context.Context, writebackID, operation, status, errMsg string, attempts int) {
	p.metrics.ObserveWriteback(operation, status, attempts)
	if p.tracker == nil {
		return
	}
	if err := p.tracker.Finish(ctx, writebackID, status, errMsg, attempts); err != nil {
		p.logger.Warn("track writeback result failed", "error", err, "writeback_id", writebackID, "status", status)
	}
}

// fetchWritebackStatus performs one GET /writebacks?id= call.
func fetchWritebackStatus(ctx context.Context, c *Client, requestKey func(context.Context) (string, error), id string) (WritebackStatus, error) {
	key, err := requestKey(ctx)
	if err != nil {
		return WritebackStatus{}, err
	}
	h := http.Header{}
	h.Set("Request-Key", key)
	body, err := c.do(ctx, apiRequest{
		method:   http.MethodGet,
		endpoint: "/writebacks",
		path:     "/writebacks",
		query:    url.Values{"id": []string{id}},
		header:   h,
	})
	if err != nil {
		return WritebackStatus{}, err
	}
	items, _, err := decodeRecords(body)
	if err != nil {
		return WritebackStatus{}, fmt.Errorf("sikka: decode writeback status: %w", err)
	}
	if len(items) == 0 {
		return WritebackStatus{ID: id, Result: WritebackPending}, nil
	}
	return parseWritebackStatus(items[0], id), nil
}

func parseWritebackStatus(r record, id string) WritebackStatus {
	status := WritebackStatus{
		ID:           r.str("id", "writeback_id", "writebackId"),
		ErrorMessage: r.str("error_message", "errorMessage", "error"),
		ResourceID:   r.str("resource_id", "resourceId", "record_id", "recordId"),
	}
	if status.ID == "" {
		status.ID = id
	}
	switch strings.ToLower(r.str("result", "status")) {
	case "completed", "complete", "success", "succeeded":
		status.Result = WritebackCompleted
	case "failed", "failure", "error":
		status.Result = WritebackFailed
	default:
		status.Result = WritebackPending
	}
	return status
}

// writebackID extracts the operation id from a mutation response.
func writebackID(body []byte) (string, error) {
	items, _, err := decodeRecords(body)
	if err != nil {
		return "", fmt.Errorf("sikka: decode writeback response: %w", err)
	}
	for _, item := range items {
		if id := item.str("id", "writeback_id", "writebackId"); id != "" {
			return id, nil
		}
	}
	return "", &pms.Error{Code: pms.CodeUpstream, Message: "sikka: mutation response missing writeback id"}
}
