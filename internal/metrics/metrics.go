// Package metrics exposes Prometheus metrics for target calls, request
// transitions, notification delivery and catalog refreshes.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
)

const namespace = "tally_connect"

// Metrics owns a registry so tests and multiple servers in one process do
// not collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	syncCalls   *prometheus.CounterVec
	syncLatency *prometheus.HistogramVec

	transitions *prometheus.CounterVec
	deliveries  *prometheus.CounterVec

	catalogRefreshes *prometheus.CounterVec
	catalogLatency   *prometheus.HistogramVec
	catalogMasters   *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New creates Metrics on a fresh registry with the Go and process
// collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		syncCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_calls_total",
			Help:      "Target system calls by operation and result.",
		}, []string{"operation", "result"}),
		syncLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_call_duration_seconds",
			Help:      "Latency of target system calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"operation"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_events_total",
			Help:      "Master request lifecycle events.",
		}, []string{"event"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Notification delivery attempts by event and result.",
		}, []string{"event", "result"}),
		catalogRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_refreshes_total",
			Help:      "Successful catalog refreshes by company.",
		}, []string{"company"}),
		catalogLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_refresh_duration_seconds",
			Help:      "Duration of full catalog exports.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"company"}),
		catalogMasters: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_masters",
			Help:      "Masters in the latest catalog snapshot.",
		}, []string{"company", "kind"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		}, []string{"method", "route", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry metrics are recorded on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSync records one target call. It matches SyncGateway.OnSync.
func (m *Metrics) ObserveSync(log domain.SyncLog) {
	result := "success"
	if !log.Success {
		result = string(log.ErrorKind)
		if result == "" {
			result = "error"
		}
	}
	m.syncCalls.WithLabelValues(log.Operation, result).Inc()
	m.syncLatency.WithLabelValues(log.Operation).Observe(log.Duration.Seconds())
}

// ObserveDelivery records one notification attempt. It matches
// Dispatcher.OnDelivery.
func (m *Metrics) ObserveDelivery(event domain.NotificationEvent, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.deliveries.WithLabelValues(string(event), result).Inc()
}

// ObserveRefresh records a catalog refresh. It matches catalog.Options.OnRefresh.
func (m *Metrics) ObserveRefresh(company string, counts map[domain.CatalogKind]int, took time.Duration) {
	m.catalogRefreshes.WithLabelValues(company).Inc()
	m.catalogLatency.WithLabelValues(company).Observe(took.Seconds())
	for kind, n := range counts {
		m.catalogMasters.WithLabelValues(company, string(kind)).Set(float64(n))
	}
}

// HandleEvent counts lifecycle events. It is a domain.EventHandler.
func (m *Metrics) HandleEvent(_ context.Context, event *domain.DomainEvent) error {
	m.transitions.WithLabelValues(string(event.EventType)).Inc()
	return nil
}

// GinMiddleware records request counts and latency keyed by route pattern,
// never by raw path.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status()/100) + "xx"
		m.httpRequests.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
