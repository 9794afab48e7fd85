package sikka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/parlae/pms-gateway/internal/observability/metrics"
	"github.com/parlae/pms-gateway/internal/pms"
	"github.com/parlae/pms-gateway/pkg/logging"
)

const (
	DefaultBaseURL        = "https://api.sikkasoft.com/v4"
	defaultRequestTimeout = 20 * time.Second
	defaultAuthTimeout    = 15 * time.Second
	maxErrorBody          = 300
)

// ClientConfig configures the Sikka HTTP transport.
type ClientConfig struct {
	BaseURL        string        // defaults to DefaultBaseURL
	AppID          string        // Sikka application id (App-Id header)
	AppKey         string        // Sikka application key (App-Key header)
	RequestTimeout time.Duration // per-call timeout for data endpoints
	AuthTimeout    time.Duration // per-call timeout for discovery and token endpoints
	RetryMax       int           // retries for idempotent reads; mutations never retry
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration
	HTTPClient     *http.Client // optional, mostly for tests
	Logger         *logging.Logger
	Metrics        *metrics.PMSMetrics
	Tracer         trace.Tracer
}

// Client is the low-level Sikka transport. It knows headers, timeouts and
// error mapping but nothing about tokens.
type Client struct {
	baseURL        string
	appID          string
	appKey         string
	reads          *retryablehttp.Client
	writes         *retryablehttp.Client
	requestTimeout time.Duration
	authTimeout    time.Duration
	logger         *logging.Logger
	metrics        *metrics.PMSMetrics
	tracer         trace.Tracer
}

// NewClient validates cfg and builds the transport.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, &pms.Error{Code: pms.CodeConfig, Message: "sikka: AppID is required"}
	}
	if strings.TrimSpace(cfg.AppKey) == "" {
		return nil, &pms.Error{Code: pms.CodeConfig, Message: "sikka: AppKey is required"}
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, &pms.Error{Code: pms.CodeConfig, Message: "sikka: invalid BaseURL", Err: err}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("parlae.internal.pms.sikka")
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	authTimeout := cfg.AuthTimeout
	if authTimeout <= 0 {
		authTimeout = defaultAuthTimeout
	}
	retryMax := cfg.RetryMax
	if retryMax < 0 {
		retryMax = 0
	}

	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		appID:          cfg.AppID,
		appKey:         cfg.AppKey,
		reads:          newRetryClient(cfg, logger, retryMax),
		writes:         newRetryClient(cfg, logger, 0),
		requestTimeout: requestTimeout,
		authTimeout:    authTimeout,
		logger:         logger,
		metrics:        cfg.Metrics,
		tracer:         tracer,
	}, nil
}

func newRetryClient(cfg ClientConfig, logger *logging.Logger, retryMax int) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}
	rc.RetryMax = retryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.Logger = logger.Logger
	// Hand the final response back instead of a generic "giving up" error so
	// callers can map the status.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc
}

// apiRequest describes one call.
type apiRequest struct {
	method   string
	endpoint string // route template used for metrics and spans, e.g. /appointments/{id}
	path     string
	query    url.Values
	body     any
	header   http.Header
	auth     bool // discovery and token calls
	retry    bool
}

// do sends req and returns the raw body of a 2xx response. Non-2xx responses
// become *pms.Error carrying the status and a truncated body.
func (c *Client) do(ctx context.Context, req apiRequest) ([]byte, error) {
	timeout := c.requestTimeout
	if req.auth {
		timeout = c.authTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "sikka.request")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", req.method),
		attribute.String("sikka.endpoint", req.endpoint),
	)

	endpoint := c.baseURL + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	var body any
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("sikka: marshal request: %w", err)
		}
		body = payload
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("sikka: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, values := range req.header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	client := c.writes
	if req.retry {
		client = c.reads
	}

	started := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		c.metrics.ObserveRequest(req.method, req.endpoint, "error", time.Since(started).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("sikka: %s %s: %w", req.method, req.endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	c.metrics.ObserveRequest(req.method, req.endpoint, strconv.Itoa(resp.StatusCode), time.Since(started).Seconds())
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sikka: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(bytes.TrimSpace(respBody))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		c.logger.Warn("sikka API non-2xx response", "status", resp.StatusCode, "endpoint", req.endpoint, "method", req.method, "body", msg)
		span.SetStatus(codes.Error, resp.Status)
		code := pms.CodeUpstream
		if resp.StatusCode == http.StatusNotFound {
			code = pms.CodeNotFound
		}
		return nil, &pms.Error{
			Code:    code,
			Message: fmt.Sprintf("sikka %s %s returned %d: %s", req.method, req.endpoint, resp.StatusCode, msg),
			Status:  resp.StatusCode,
		}
	}
	return respBody, nil
}

// appHeaders carries the static application credentials.
func (c *Client) appHeaders() http.Header {
	h := http.Header{}
	h.Set("App-Id", c.appID)
	h.Set("App-Key", c.appKey)
	return h
}

// statusOf returns the upstream HTTP status carried by err, or zero.
func statusOf(err error) int {
	var pe *pms.Error
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}
