package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.ViewAsStartsTotal.Inc()
	m.SessionsActive.Set(3)

	families, err := registry.Gather()
	assert.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["gatehouse_viewas_starts_total"])
	assert.True(t, names["gatehouse_sessions_active"])
}

func TestRecordStoreOperation(t *testing.T) {
	m := NewTestMetrics()

	m.RecordStoreOperation("get", "sql", time.Millisecond, nil)
	m.RecordStoreOperation("get", "sql", time.Millisecond, errors.New("down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("get", "sql", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("get", "sql", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrorsTotal.WithLabelValues("get", "sql")))
}

func TestRecordAccessCheckAndCache(t *testing.T) {
	m := NewTestMetrics()

	m.RecordAccessCheck("page", true, false)
	m.RecordAccessCheck("feature", false, true)
	m.RecordCache("lru", true)
	m.RecordCache("lru", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AccessChecksTotal.WithLabelValues("page", "true", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AccessChecksTotal.WithLabelValues("feature", "false", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("lru")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("lru")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordStoreOperation("get", "memory", 0, nil)
		m.RecordAccessCheck("page", true, false)
		m.RecordCache("lru", true)
	})
}

func TestHTTPMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/session", "403")))

	metricsRec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(metricsRec.Body.String(), "gatehouse_http_requests_total"))
}
