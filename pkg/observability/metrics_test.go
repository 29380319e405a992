package observability

import (
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	require.NotNil(t, metrics)

	// Vec collectors only show up once a label set exists
	metrics.RecordPermissionCheck("allowed")
	metrics.RecordCacheHit()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["bastion_rbac_permission_checks_total"])
	assert.True(t, names["bastion_rbac_cache_hits_total"])
	assert.True(t, names["bastion_db_connections_open"])

	assert.Panics(t, func() { NewMetrics(registry) }, "duplicate registration must panic")
}

func TestMetrics_RecordMethods(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordPermissionCheck("allowed")
	metrics.RecordPermissionCheck("allowed")
	metrics.RecordPermissionCheck("denied")
	metrics.RecordGuardDenial("assign")
	metrics.RecordCacheHit()
	metrics.RecordCacheMiss()
	metrics.RecordCacheMiss()
	metrics.RecordCacheError("get")
	metrics.RecordCacheInvalidation("user")
	metrics.RecordCacheInvalidation("all")
	metrics.RecordAuditWrite("ROLE_ASSIGN")
	metrics.RecordAuditFailure("ROLE_ASSIGN")
	metrics.RecordUnknownPermission("reports.legacy")

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PermissionChecksTotal.WithLabelValues("allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PermissionChecksTotal.WithLabelValues("denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GuardDenialsTotal.WithLabelValues("assign")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHitsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CacheMissesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheErrorsTotal.WithLabelValues("get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheInvalidationsTotal.WithLabelValues("all")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditWritesTotal.WithLabelValues("ROLE_ASSIGN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditWriteFailuresTotal.WithLabelValues("ROLE_ASSIGN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UnknownPermissionsTotal.WithLabelValues("reports.legacy")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.RecordPermissionCheck("allowed")
		metrics.RecordGuardDenial("define")
		metrics.RecordCacheHit()
		metrics.RecordCacheMiss()
		metrics.RecordCacheError("put")
		metrics.RecordCacheInvalidation("user")
		metrics.RecordAuditWrite("ROLE_CREATE")
		metrics.RecordAuditFailure("ROLE_CREATE")
		metrics.RecordDBStats(sql.DBStats{})
	})
}

func TestMetrics_RecordDBStats(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.RecordDBStats(sql.DBStats{OpenConnections: 5, InUse: 2, Idle: 3, WaitCount: 7})

	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.DBConnectionsOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DBConnectionsInUse))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.DBConnectionsIdle))
	assert.Equal(t, 7.0, testutil.ToFloat64(metrics.DBWaitCount))
}

func TestResponseWriter(t *testing.T) {
	t.Run("captures status code", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: recorder, statusCode: http.StatusOK}

		rw.WriteHeader(http.StatusCreated)

		assert.Equal(t, http.StatusCreated, rw.statusCode)
		assert.Equal(t, http.StatusCreated, recorder.Code)
	})

	t.Run("accumulates bytes across multiple writes", func(t *testing.T) {
		rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}

		rw.Write([]byte("Hello, "))
		rw.Write([]byte("World!"))

		assert.Equal(t, len("Hello, World!"), rw.bytesWritten)
		assert.Equal(t, http.StatusOK, rw.statusCode)
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	t.Run("labels by route template", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())

		router := mux.NewRouter()
		router.Use(HTTPMetricsMiddleware(metrics))
		router.HandleFunc("/rbac/roles/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, "missing")
		}).Methods("GET")

		for _, path := range []string{"/rbac/roles/1", "/rbac/roles/2"} {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			assert.Equal(t, http.StatusNotFound, rec.Code)
		}

		assert.Equal(t, 2.0, testutil.ToFloat64(
			metrics.HTTPRequestsTotal.WithLabelValues("GET", "/rbac/roles/{id}", "404")))
	})

	t.Run("unmatched without router", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())
		handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/anything", nil))

		assert.Equal(t, 1.0, testutil.ToFloat64(
			metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "200")))
	})

	t.Run("nil metrics passes through", func(t *testing.T) {
		called := false
		handler := HTTPMetricsMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
		assert.True(t, called)
	})
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.RecordCacheMiss()

	router := mux.NewRouter()
	RegisterMetricsEndpoint(router, registry)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "bastion_rbac_cache_misses_total 1"))
}

func BenchmarkHTTPMetricsMiddleware(b *testing.B) {
	metrics := NewMetrics(prometheus.NewRegistry())
	handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	req := httptest.NewRequest("GET", "/test", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
