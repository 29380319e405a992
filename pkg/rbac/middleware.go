package rbac

import (
	"net/http"

	"github.com/platinummonkey/bastion/pkg/audit"
	"github.com/platinummonkey/bastion/pkg/contextkeys"
	"github.com/platinummonkey/bastion/pkg/observability"
)

// PermissionMiddleware gates routes on the caller's permissions. The
// caller is read from the request context (see middleware.Identity).
type PermissionMiddleware struct {
	resolver *Resolver
	service  *Service
	logger   *observability.Logger
}

// NewPermissionMiddleware creates a new permission middleware. service is
// only used to record denials and may be nil.
func NewPermissionMiddleware(resolver *Resolver, service *Service, logger *observability.Logger) *PermissionMiddleware {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &PermissionMiddleware{resolver: resolver, service: service, logger: logger}
}

// RequirePermission creates middleware that requires every permission in perms
func (pm *PermissionMiddleware) RequirePermission(perms ...Permission) func(http.Handler) http.Handler {
	return pm.require(func(r *http.Request, actorID int64) error {
		return pm.resolver.RequireAll(r.Context(), actorID, perms...)
	})
}

// RequireAnyPermission creates middleware that requires at least one of perms
func (pm *PermissionMiddleware) RequireAnyPermission(perms ...Permission) func(http.Handler) http.Handler {
	return pm.require(func(r *http.Request, actorID int64) error {
		return pm.resolver.RequireAny(r.Context(), actorID, perms...)
	})
}

// RequireAuthenticated only requires a known caller
func (pm *PermissionMiddleware) RequireAuthenticated() func(http.Handler) http.Handler {
	return pm.require(func(r *http.Request, actorID int64) error {
		_, err := pm.resolver.store.GetUser(r.Context(), actorID)
		return err
	})
}

func (pm *PermissionMiddleware) require(check func(r *http.Request, actorID int64) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID, ok := contextkeys.GetActorID(r.Context())
			if !ok {
				writeUnauthenticated(w)
				return
			}

			if err := check(r, actorID); err != nil {
				if pm.service != nil {
					pm.service.RecordDenial(r.Context(), actorID, audit.RequestContextFromHTTP(r), err)
				}
				writeCallerError(w, r, err, pm.logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
