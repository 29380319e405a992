package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSearcher struct {
	entries []*Entry
	err     error
	last    SearchFilter
}

func (s *stubSearcher) Search(_ context.Context, filter SearchFilter) ([]*Entry, error) {
	s.last = filter
	return s.entries, s.err
}

func setupAuditRouter(searcher Searcher, protect func(http.Handler) http.Handler) *mux.Router {
	router := mux.NewRouter()
	NewHandlers(searcher).RegisterRoutes(router, protect)
	return router
}

func TestHandlers_ListEntries(t *testing.T) {
	searcher := &stubSearcher{entries: exportFixture()}
	router := setupAuditRouter(searcher, nil)

	req := httptest.NewRequest("GET", "/audit/logs?actor_user_id=4&action=ROLE_ASSIGN,%20ROLE_UNASSIGN&entity_type=user&entity_id=10&since=2026-01-01T00:00:00Z&until=2026-12-31T00:00:00Z&limit=5&offset=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2.0, body["count"])
	assert.Equal(t, 5.0, body["limit"])

	f := searcher.last
	require.NotNil(t, f.ActorUserID)
	assert.Equal(t, int64(4), *f.ActorUserID)
	assert.Equal(t, []Action{ActionRoleAssign, ActionRoleUnassign}, f.Actions)
	assert.Equal(t, EntityUser, f.EntityType)
	assert.Equal(t, "10", f.EntityID)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *f.Since)
	assert.Equal(t, 5, f.Limit)
	assert.Equal(t, 10, f.Offset)
}

func TestHandlers_ListEntriesBadFilter(t *testing.T) {
	router := setupAuditRouter(&stubSearcher{}, nil)

	for _, query := range []string{
		"actor_user_id=abc",
		"since=yesterday",
		"until=tomorrow",
		"limit=0",
		"limit=5000",
		"offset=-1",
	} {
		t.Run(query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest("GET", "/audit/logs?"+query, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandlers_SearchError(t *testing.T) {
	router := setupAuditRouter(&stubSearcher{err: errors.New("db down")}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/audit/logs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandlers_Export(t *testing.T) {
	router := setupAuditRouter(&stubSearcher{entries: exportFixture()}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/audit/logs/export?format=csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "audit-logs.csv")
	assert.Contains(t, rec.Body.String(), "ROLE_ASSIGN")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/audit/logs/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/audit/logs/export?format=xml", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_Protected(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	}
	searcher := &stubSearcher{}
	router := setupAuditRouter(searcher, deny)

	for _, path := range []string{"/audit/logs", "/audit/logs/export"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	}
	assert.Equal(t, SearchFilter{}, searcher.last, "searcher never reached")
}

func TestRequestContextFromHTTP(t *testing.T) {
	req := httptest.NewRequest("POST", "/rbac/roles", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	req.Header.Set("User-Agent", "curl/8")

	rc := RequestContextFromHTTP(req)
	assert.Equal(t, "10.0.0.1", rc.IPAddress)
	assert.Equal(t, "curl/8", rc.UserAgent)
	assert.Equal(t, "POST", rc.Method)
	assert.Equal(t, "/rbac/roles", rc.Path)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Real-IP", "192.168.1.5")
	assert.Equal(t, "192.168.1.5", RequestContextFromHTTP(req).IPAddress)

	req = httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "172.16.0.9:5555"
	assert.Equal(t, "172.16.0.9", RequestContextFromHTTP(req).IPAddress)

	assert.True(t, RequestContextFromHTTP(nil).IsZero())
}
