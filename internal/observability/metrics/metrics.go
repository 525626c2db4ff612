package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application-level instruments backed by a private registry.
type Metrics struct {
	registry *prometheus.Registry

	calculations        *prometheus.CounterVec
	calculationDuration prometheus.Histogram
	transactions        *prometheus.CounterVec
	exemptionChecks     *prometheus.CounterVec
	rateFeedRefreshes   *prometheus.CounterVec
	anomalies           *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewRegistry builds the registry with standard process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// New configures the domain instruments on the registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: registry,
		calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taxengine_calculations_total",
			Help: "Tax calculations performed, by tax type and exemption outcome.",
		}, []string{"tax_type", "exempt"}),
		calculationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taxengine_calculation_duration_seconds",
			Help:    "End-to-end duration of composite tax calculations.",
			Buckets: prometheus.DefBuckets,
		}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taxengine_transactions_total",
			Help: "Tax transaction state transitions.",
		}, []string{"action"}),
		exemptionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taxengine_exemption_checks_total",
			Help: "Exemption certificate validations, by result.",
		}, []string{"result"}),
		rateFeedRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taxengine_rate_feed_refreshes_total",
			Help: "External rate feed refresh attempts, by source and status.",
		}, []string{"source", "status"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taxengine_audit_anomalies_total",
			Help: "Suspicious activity patterns detected by the audit analyzer.",
		}, []string{"anomaly_type", "severity"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taxengine_http_requests_total",
			Help: "Inbound HTTP requests, by method, route and status code.",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taxengine_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	for _, c := range []prometheus.Collector{
		m.calculations,
		m.calculationDuration,
		m.transactions,
		m.exemptionChecks,
		m.rateFeedRefreshes,
		m.anomalies,
		m.httpRequests,
		m.httpDuration,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Handler serves the registry over HTTP for Prometheus scrapes.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GinMiddleware records per-request counters and latency.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		method := c.Request.Method
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordCalculation increments calculation counts and observes duration.
func (m *Metrics) RecordCalculation(taxType string, exempt bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calculations.WithLabelValues(normalizeLabel(taxType), strconv.FormatBool(exempt)).Inc()
	m.calculationDuration.Observe(elapsed.Seconds())
}

// RecordTransaction increments transaction lifecycle counts.
func (m *Metrics) RecordTransaction(action string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(normalizeLabel(action)).Inc()
}

// RecordExemptionCheck increments exemption validation counts.
func (m *Metrics) RecordExemptionCheck(result string) {
	if m == nil {
		return
	}
	m.exemptionChecks.WithLabelValues(normalizeLabel(result)).Inc()
}

// RecordRateFeedRefresh increments feed refresh counts.
func (m *Metrics) RecordRateFeedRefresh(source, status string) {
	if m == nil {
		return
	}
	m.rateFeedRefreshes.WithLabelValues(normalizeLabel(source), normalizeLabel(status)).Inc()
}

// RecordAnomaly increments detected anomaly counts.
func (m *Metrics) RecordAnomaly(anomalyType, severity string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(normalizeLabel(anomalyType), normalizeLabel(severity)).Inc()
}

func normalizeLabel(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "unknown"
	}
	return value
}
