package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the adaptation service.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        *prometheus.CounterVec
	errorsTotal          prometheus.Counter
	sessionsCreatedTotal prometheus.Counter
	sessionsEndedTotal   prometheus.Counter
	activeSessions       prometheus.Gauge
	decisionsTotal       *prometheus.CounterVec
	switchesTotal        *prometheus.CounterVec
	holdsTotal           *prometheus.CounterVec
	protocolErrorsTotal  prometheus.Counter
	factor               prometheus.Histogram
	selectedBitrate      prometheus.Histogram
	throughput           prometheus.Histogram
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abr_requests_total",
			Help: "Total number of HTTP requests received, by route pattern and status code",
		}, []string{"route", "code"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		sessionsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_sessions_created_total",
			Help: "Total number of adaptation sessions created",
		}),
		sessionsEndedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_sessions_ended_total",
			Help: "Total number of adaptation sessions ended or reaped",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "abr_active_sessions",
			Help: "Number of sessions that are not ended",
		}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abr_decisions_total",
			Help: "Segment decisions by kind (cold_start, fuzzy, fallback)",
		}, []string{"kind"}),
		switchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abr_switches_total",
			Help: "Representation switches by direction",
		}, []string{"direction"}),
		holdsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abr_holds_total",
			Help: "Switches suppressed by the hysteresis policy, by reason",
		}, []string{"reason"}),
		protocolErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_protocol_errors_total",
			Help: "Sessions failed by an out-of-order event",
		}),
		factor: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "abr_factor",
			Help:    "Defuzzified adjustment factor",
			Buckets: prometheus.LinearBuckets(0.25, 0.25, 9),
		}),
		selectedBitrate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "abr_selected_bitrate_bps",
			Help:    "Bitrate of the representation chosen for each segment",
			Buckets: prometheus.ExponentialBuckets(100e3, 2, 10),
		}),
		throughput: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "abr_throughput_bps",
			Help:    "Measured segment download throughput",
			Buckets: prometheus.ExponentialBuckets(100e3, 2, 12),
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsCreatedTotal,
		m.sessionsEndedTotal,
		m.activeSessions,
		m.decisionsTotal,
		m.switchesTotal,
		m.holdsTotal,
		m.protocolErrorsTotal,
		m.factor,
		m.selectedBitrate,
		m.throughput,
	)
	return m
}

// IncRequests counts one request served by route with status code.
func (m *Metrics) IncRequests(route string, code int) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

func (m *Metrics) IncSessionsCreated() {
	m.sessionsCreatedTotal.Inc()
}

// IncSessionsEnded adds n ended sessions.
func (m *Metrics) IncSessionsEnded(n int) {
	m.sessionsEndedTotal.Add(float64(n))
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) IncProtocolErrors() {
	m.protocolErrorsTotal.Inc()
}

// ObserveDecision records one segment decision. kind is "cold_start",
// "fuzzy" or "fallback"; factor is ignored for cold starts.
func (m *Metrics) ObserveDecision(kind string, factor, bitrate float64) {
	m.decisionsTotal.WithLabelValues(kind).Inc()
	if kind != "cold_start" {
		m.factor.Observe(factor)
	}
	m.selectedBitrate.Observe(bitrate)
}

// IncSwitch counts a representation change, direction "up" or "down".
func (m *Metrics) IncSwitch(direction string) {
	m.switchesTotal.WithLabelValues(direction).Inc()
}

// IncHold counts a suppressed switch.
func (m *Metrics) IncHold(reason string) {
	m.holdsTotal.WithLabelValues(reason).Inc()
}

// ObserveThroughput records a measured download rate in bits/s.
func (m *Metrics) ObserveThroughput(bps float64) {
	m.throughput.Observe(bps)
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
