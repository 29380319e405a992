package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/bastion/pkg/contextkeys"
	"github.com/platinummonkey/bastion/pkg/httputil"
)

// DefaultIdentityHeader is set by the authenticating proxy in front of the service
const DefaultIdentityHeader = "X-Authenticated-User-Id"

// Identity reads the caller's user ID from a header set by a trusted
// upstream and stores it in the request context. A request without the
// header passes through unauthenticated; routes that need a caller reject
// it later. A header that is not a positive integer is rejected with 401.
//
// The header must be stripped from client requests by the proxy.
func Identity(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultIdentityHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(header))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			actorID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || actorID <= 0 {
				httputil.WriteError(w, http.StatusUnauthorized, "invalid caller identity")
				return
			}

			ctx := contextkeys.WithActorID(r.Context(), actorID)
			ctx = contextkeys.WithUserID(ctx, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
