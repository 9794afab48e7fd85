package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "parlae"
	subsystem = "pms"
)

// PMSMetrics exposes counters/histograms for the practice-management integration.
type PMSMetrics struct {
	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	tokenRefreshes *prometheus.CounterVec
	writebacks     *prometheus.CounterVec
	writebackPolls *prometheus.HistogramVec
	toolCalls      *prometheus.CounterVec
}

func NewPMSMetrics(reg prometheus.Registerer) *PMSMetrics {
	m := &PMSMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upstream_requests_total",
			Help:      "Total HTTP requests sent to the PMS API",
		}, []string{"method", "endpoint", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upstream_request_seconds",
			Help:      "Latency of PMS API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "token_refresh_total",
			Help:      "Request key acquisitions and refreshes",
		}, []string{"mode", "outcome"}),
		writebacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "writeback_total",
			Help:      "Writebacks by terminal outcome",
		}, []string{"operation", "outcome"}),
		writebackPolls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "writeback_polls",
			Help:      "Status polls needed before a writeback resolved",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		}, []string{"operation"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tool_calls_total",
			Help:      "PMS tool calls served over HTTP",
		}, []string{"operation", "code"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.requestLatency, m.tokenRefreshes, m.writebacks, m.writebackPolls, m.toolCalls)
	return m
}

func (m *PMSMetrics) ObserveRequest(method, endpoint, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.requestLatency.WithLabelValues(method, endpoint).Observe(seconds)
}

// ObserveTokenRefresh records a token lifecycle step. mode is discover, acquire or refresh.
func (m *PMSMetrics) ObserveTokenRefresh(mode, outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(mode, outcome).Inc()
}

func (m *PMSMetrics) ObserveWriteback(operation, outcome string, polls int) {
	if m == nil {
		return
	}
	m.writebacks.WithLabelValues(operation, outcome).Inc()
	if polls > 0 {
		m.writebackPolls.WithLabelValues(operation).Observe(float64(polls))
	}
}

// ObserveToolCall records an HTTP tool call. code is empty on success.
func (m *PMSMetrics) ObserveToolCall(operation, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	m.toolCalls.WithLabelValues(operation, code).Inc()
}
