package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/bastion/pkg/contextkeys"
)

func TestIdentity(t *testing.T) {
	var (
		actorID int64
		present bool
		called  bool
	)
	handler := Identity("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		actorID, present = contextkeys.GetActorID(r.Context())
	}))

	tests := []struct {
		name       string
		header     string
		wantCalled bool
		wantID     int64
		wantCode   int
	}{
		{"valid", "42", true, 42, http.StatusOK},
		{"padded", " 7 ", true, 7, http.StatusOK},
		{"absent passes through", "", true, 0, http.StatusOK},
		{"not a number", "alice", false, 0, http.StatusUnauthorized},
		{"zero", "0", false, 0, http.StatusUnauthorized},
		{"negative", "-1", false, 0, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called, present, actorID = false, false, 0

			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set(DefaultIdentityHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantCalled, called)
			assert.Equal(t, tt.wantID, actorID)
			assert.Equal(t, tt.wantID != 0, present)
		})
	}
}

func TestIdentity_CustomHeader(t *testing.T) {
	var got string
	handler := Identity("X-User")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = contextkeys.GetUserID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-User", "9")
	req.Header.Set(DefaultIdentityHeader, "1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "9", got)
}
