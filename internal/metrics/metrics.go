// Package metrics exposes prometheus collectors for the companion services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors shared by all services in the process.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	httpInFlight  prometheus.Gauge
	webhookEvents *prometheus.CounterVec
	eventsStored  prometheus.Counter
	eventsDropped prometheus.Counter
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_http_requests_total",
			Help: "HTTP requests by service, method, route and status.",
		}, []string{"service", "method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "companion_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "method", "route"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "companion_http_requests_in_flight",
			Help: "Requests currently being served.",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_webhook_events_total",
			Help: "Provider webhook notifications by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		eventsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companion_analytics_events_stored_total",
			Help: "Analytics events accepted and persisted.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companion_analytics_events_dropped_total",
			Help: "Analytics events dropped during validation.",
		}),
	}

	reg.MustRegister(
		m.httpRequests, m.httpDuration, m.httpInFlight,
		m.webhookEvents, m.eventsStored, m.eventsDropped,
	)
	return m
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(service, method, route, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(service, method, route, status).Inc()
	m.httpDuration.WithLabelValues(service, method, route).Observe(duration.Seconds())
}

// IncrementInFlight marks a request as started.
func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }

// DecrementInFlight marks a request as finished.
func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordWebhookEvent counts a processed provider notification.
func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordEventsStored counts persisted analytics events.
func (m *Metrics) RecordEventsStored(n int) {
	m.eventsStored.Add(float64(n))
}

// RecordEventsDropped counts validation-dropped analytics events.
func (m *Metrics) RecordEventsDropped(n int) {
	m.eventsDropped.Add(float64(n))
}
