package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes recorded by RecordFetch.
const (
	OutcomeOK       = "ok"
	OutcomeCanceled = "canceled"
	OutcomeError    = "error"
)

// Cookie save results recorded by RecordCookieSave.
const (
	SaveOK         = "ok"
	SaveError      = "error"
	SaveSuperseded = "superseded"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Fetch metrics
	FetchesStarted  prometheus.Counter
	FetchesFinished *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	ResourcesOpen   *prometheus.GaugeVec
	BodyBytes       prometheus.Counter

	// Streaming metrics
	StreamEvents  *prometheus.CounterVec
	WSConnections prometheus.Gauge

	// Session metrics
	SessionsActive prometheus.Gauge

	// Cookie metrics
	CookieSaves *prometheus.CounterVec

	// CORS proxy metrics
	ProxyRequests *prometheus.CounterVec
}

// NewMetrics creates a metrics collector registered on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchbridge_http_requests_total",
				Help: "Total number of bridge API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetchbridge_http_request_duration_seconds",
				Help:    "Bridge API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// Fetch metrics
		FetchesStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fetchbridge_fetches_started_total",
				Help: "Total number of fetches started",
			},
		),
		FetchesFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchbridge_fetches_finished_total",
				Help: "Total number of fetches that reached a response or failed",
			},
			[]string{"outcome"},
		),
		FetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fetchbridge_fetch_headers_seconds",
				Help:    "Time from send until response headers arrived",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		ResourcesOpen: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fetchbridge_resources_open",
				Help: "Number of live resources by kind",
			},
			[]string{"kind"},
		),
		BodyBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fetchbridge_body_bytes_total",
				Help: "Total response body bytes delivered to clients",
			},
		),

		// Streaming metrics
		StreamEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchbridge_stream_events_total",
				Help: "Total number of streaming fetch events emitted",
			},
			[]string{"type"},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fetchbridge_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fetchbridge_sessions_active",
				Help: "Number of active client sessions",
			},
		),

		// Cookie metrics
		CookieSaves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchbridge_cookie_saves_total",
				Help: "Cookie jar save attempts by result",
			},
			[]string{"result"},
		),

		// CORS proxy metrics
		ProxyRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchbridge_proxy_requests_total",
				Help: "CORS proxy requests by status",
			},
			[]string{"status"},
		),
	}
}

// RecordHTTPRequest records a bridge API request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncFetchesStarted counts a fetch registered in a resource table
func (m *Metrics) IncFetchesStarted() {
	if m == nil {
		return
	}
	m.FetchesStarted.Inc()
}

// RecordFetch records how a fetch await ended
func (m *Metrics) RecordFetch(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FetchesFinished.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		m.FetchDuration.Observe(duration.Seconds())
	}
}

// ResourceOpened increments the live resource gauge for kind
func (m *Metrics) ResourceOpened(kind string) {
	if m == nil {
		return
	}
	m.ResourcesOpen.WithLabelValues(kind).Inc()
}

// ResourceClosed decrements the live resource gauge for kind
func (m *Metrics) ResourceClosed(kind string) {
	if m == nil {
		return
	}
	m.ResourcesOpen.WithLabelValues(kind).Dec()
}

// AddBodyBytes counts body bytes handed to a client
func (m *Metrics) AddBodyBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BodyBytes.Add(float64(n))
}

// RecordStreamEvent records an emitted streaming event
func (m *Metrics) RecordStreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.StreamEvents.WithLabelValues(eventType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// SetSessionsActive sets the number of active sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

// RecordCookieSave records the result of a cookie jar save task
func (m *Metrics) RecordCookieSave(result string) {
	if m == nil {
		return
	}
	m.CookieSaves.WithLabelValues(result).Inc()
}

// RecordProxyRequest records a CORS proxy response status
func (m *Metrics) RecordProxyRequest(status string) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(status).Inc()
}
