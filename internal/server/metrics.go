package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "roomchat"

// Metrics is a prometheus.Collector for connection, event and HTTP request
// metrics. A nil *Metrics records nothing.
type Metrics struct {
	connections  prometheus.Gauge
	events       *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics returns a new Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "websocket_connections",
				Help:      "The number of live realtime connections.",
			},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_total",
				Help:      "Inbound realtime events by name and outcome.",
			}, []string{"event", "outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status code.",
			}, []string{"method", "route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.connections.Describe(ch)
	m.events.Describe(ch)
	m.httpRequests.Describe(ch)
	m.httpDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.connections.Collect(ch)
	m.events.Collect(ch)
	m.httpRequests.Collect(ch)
	m.httpDuration.Collect(ch)
}

// Handler serves the metrics in the Prometheus exposition format from a
// registry holding m and the Go runtime collectors.
func (m *Metrics) Handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(m)
	registry.MustRegister(collectors.NewGoCollector())
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) eventHandled(event, outcome string) {
	if m != nil {
		m.events.WithLabelValues(event, outcome).Inc()
	}
}

func (m *Metrics) requestServed(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
