package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Access metrics
	AccessChecksTotal    *prometheus.CounterVec
	WriteRejectionsTotal prometheus.Counter

	// Impersonation metrics
	ViewAsStartsTotal        prometheus.Counter
	ViewAsActive             prometheus.Gauge
	ViewAsFetchFailuresTotal prometheus.Counter
	ViewAsStaleDiscardsTotal prometheus.Counter

	// Business metrics
	SessionsActive      prometheus.Gauge
	GrantDocumentsTotal prometheus.Gauge

	// Rate limiting
	RateLimitedTotal *prometheus.CounterVec

	// Audit webhook deliveries
	WebhookDeliveriesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_store_operations_total",
				Help: "Total number of permission store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_store_operation_duration_seconds",
				Help:    "Permission store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_store_errors_total",
				Help: "Total number of permission store errors",
			},
			[]string{"operation", "backend"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_cache_hits_total",
				Help: "Total number of grant cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_cache_misses_total",
				Help: "Total number of grant cache misses",
			},
			[]string{"cache"},
		),

		AccessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_access_checks_total",
				Help: "Total number of page and feature checks",
			},
			[]string{"kind", "result", "viewing_as"},
		),
		WriteRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_write_rejections_total",
				Help: "Grant writes rejected because the target is a system administrator",
			},
		),

		ViewAsStartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_viewas_starts_total",
				Help: "Total number of View As sessions started",
			},
		),
		ViewAsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_viewas_active",
				Help: "Number of sessions currently viewing as another user",
			},
		),
		ViewAsFetchFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_viewas_fetch_failures_total",
				Help: "Target grant fetches that failed and fell back to empty grants",
			},
		),
		ViewAsStaleDiscardsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_viewas_stale_discards_total",
				Help: "Target grant fetches discarded because the target changed",
			},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_sessions_active",
				Help: "Number of live sessions",
			},
		),
		GrantDocumentsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_grant_documents_total",
				Help: "Number of stored grant documents",
			},
		),

		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"scope"},
		),

		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_webhook_deliveries_total",
				Help: "Audit webhook deliveries by outcome",
			},
			[]string{"status"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.StoreOperationsTotal,
			m.StoreOperationDuration,
			m.StoreErrorsTotal,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.AccessChecksTotal,
			m.WriteRejectionsTotal,
			m.ViewAsStartsTotal,
			m.ViewAsActive,
			m.ViewAsFetchFailuresTotal,
			m.ViewAsStaleDiscardsTotal,
			m.SessionsActive,
			m.GrantDocumentsTotal,
			m.RateLimitedTotal,
			m.WebhookDeliveriesTotal,
		)
	}

	return m
}

// NewTestMetrics returns metrics registered against a throwaway registry
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// RecordStoreOperation records a permission store call
func (m *Metrics) RecordStoreOperation(operation, backend string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		m.StoreErrorsTotal.WithLabelValues(operation, backend).Inc()
	}
	m.StoreOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// RecordAccessCheck records one page or feature decision
func (m *Metrics) RecordAccessCheck(kind string, allowed, viewingAs bool) {
	if m == nil {
		return
	}
	m.AccessChecksTotal.WithLabelValues(kind, strconv.FormatBool(allowed), strconv.FormatBool(viewingAs)).Inc()
}

// RecordCache records a cache lookup
func (m *Metrics) RecordCache(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// HTTPMiddleware wraps HTTP handlers with metrics collection
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the Prometheus HTTP handler for a registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
