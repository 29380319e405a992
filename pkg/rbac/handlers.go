package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/bastion/pkg/audit"
	"github.com/platinummonkey/bastion/pkg/contextkeys"
	"github.com/platinummonkey/bastion/pkg/httputil"
	"github.com/platinummonkey/bastion/pkg/observability"
)

// Handlers provides HTTP handlers for RBAC operations
type Handlers struct {
	service    *Service
	resolver   *Resolver
	middleware *PermissionMiddleware
	logger     *observability.Logger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(service *Service, resolver *Resolver, mw *PermissionMiddleware, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handlers{
		service:    service,
		resolver:   resolver,
		middleware: mw,
		logger:     logger,
	}
}

// RegisterRoutes registers all RBAC routes, each behind its permission check
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	view := h.middleware.RequirePermission(PermRolesView)
	manage := h.middleware.RequirePermission(PermRolesManage)
	assign := h.middleware.RequirePermission(PermRolesAssign)
	usersView := h.middleware.RequirePermission(PermUsersView)

	// Catalog and role definitions
	router.Handle("/rbac/permissions", view(http.HandlerFunc(h.ListPermissions))).Methods("GET")
	router.Handle("/rbac/roles", view(http.HandlerFunc(h.ListRoles))).Methods("GET")
	router.Handle("/rbac/roles", manage(http.HandlerFunc(h.CreateRole))).Methods("POST")
	router.Handle("/rbac/roles/{id}", view(http.HandlerFunc(h.GetRole))).Methods("GET")
	router.Handle("/rbac/roles/{id}/permissions", manage(http.HandlerFunc(h.UpdateRolePermissions))).Methods("PUT")
	router.Handle("/rbac/roles/{id}", manage(http.HandlerFunc(h.DeleteRole))).Methods("DELETE")

	// User role assignments
	router.Handle("/rbac/users/{id}/roles", usersView(http.HandlerFunc(h.GetUserRoles))).Methods("GET")
	router.Handle("/rbac/users/{id}/roles", assign(http.HandlerFunc(h.ReplaceUserRoles))).Methods("PUT")
	router.Handle("/rbac/users/{id}/roles/{role_id}", assign(http.HandlerFunc(h.AssignRole))).Methods("POST")
	router.Handle("/rbac/users/{id}/roles/{role_id}", assign(http.HandlerFunc(h.UnassignRole))).Methods("DELETE")

	// Caller
	router.Handle("/rbac/me/permissions", h.middleware.RequireAuthenticated()(http.HandlerFunc(h.MyPermissions))).Methods("GET")
}

type permissionInfo struct {
	Code   string `json:"code"`
	Domain Domain `json:"domain"`
}

// ListPermissions returns the permission catalog
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	all := AllPermissions()
	out := make([]permissionInfo, len(all))
	for i, p := range all {
		out[i] = permissionInfo{Code: p.String(), Domain: p.Domain()}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"permissions": out})
}

// ListRoles lists every role
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles})
}

// GetRole returns a single role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.PathID(w, r, "id")
	if !ok {
		return
	}

	role, err := h.service.GetRole(r.Context(), roleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

type createRoleRequest struct {
	Name        string       `json:"name"`
	Code        string       `json:"code"`
	Permissions []Permission `json:"permissions"`
}

// CreateRole creates a new role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	actorID, _ := contextkeys.GetActorID(r.Context())
	role, err := h.service.CreateRole(r.Context(), actorID, CreateRoleRequest{
		Name:        req.Name,
		Code:        req.Code,
		Permissions: req.Permissions,
	}, audit.RequestContextFromHTTP(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

type updatePermissionsRequest struct {
	Permissions *[]Permission `json:"permissions"`
}

// UpdateRolePermissions replaces a role's permissions
func (h *Handlers) UpdateRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.PathID(w, r, "id")
	if !ok {
		return
	}

	var req updatePermissionsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Permissions == nil {
		httputil.WriteError(w, http.StatusBadRequest, "permissions is required")
		return
	}

	actorID, _ := contextkeys.GetActorID(r.Context())
	role, err := h.service.UpdateRolePermissions(r.Context(), actorID, roleID, *req.Permissions, audit.RequestContextFromHTTP(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.PathID(w, r, "id")
	if !ok {
		return
	}

	actorID, _ := contextkeys.GetActorID(r.Context())
	if err := h.service.DeleteRole(r.Context(), actorID, roleID, audit.RequestContextFromHTTP(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserRoles returns a user and its roles
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.PathID(w, r, "id")
	if !ok {
		return
	}

	user, err := h.service.GetUserWithRoles(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

type replaceRolesRequest struct {
	RoleIDs *[]int64 `json:"roleIds"`
}

// ReplaceUserRoles handles PUT /rbac/users/{id}/roles with {"roleIds": [...]}
func (h *Handlers) ReplaceUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.PathID(w, r, "id")
	if !ok {
		return
	}

	var req replaceRolesRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.RoleIDs == nil {
		httputil.WriteError(w, http.StatusBadRequest, "roleIds must be an array")
		return
	}

	actorID, _ := contextkeys.GetActorID(r.Context())
	user, err := h.service.ReplaceUserRoles(r.Context(), ReplaceRolesRequest{
		ActorID: actorID,
		UserID:  userID,
		RoleIDs: *req.RoleIDs,
		Request: audit.RequestContextFromHTTP(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// AssignRole grants one role
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.PathID(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.PathID(w, r, "role_id")
	if !ok {
		return
	}

	actorID, _ := contextkeys.GetActorID(r.Context())
	if err := h.service.AssignRole(r.Context(), actorID, userID, roleID, audit.RequestContextFromHTTP(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// UnassignRole revokes one role
func (h *Handlers) UnassignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.PathID(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.PathID(w, r, "role_id")
	if !ok {
		return
	}

	actorID, _ := contextkeys.GetActorID(r.Context())
	if err := h.service.UnassignRole(r.Context(), actorID, userID, roleID, audit.RequestContextFromHTTP(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// MyPermissions returns the caller's effective permissions
func (h *Handlers) MyPermissions(w http.ResponseWriter, r *http.Request) {
	actorID, _ := contextkeys.GetActorID(r.Context())

	perms, superAdmin, err := h.resolver.EffectivePermissions(r.Context(), actorID)
	if err != nil {
		writeCallerError(w, r, err, h.logger)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"userId":       actorID,
		"isSuperAdmin": superAdmin,
		"permissions":  perms,
	})
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, err, h.logger)
}

// writeError maps core errors to HTTP status codes
func writeError(w http.ResponseWriter, r *http.Request, err error, logger *observability.Logger) {
	var (
		denied     *PermissionDeniedError
		validation *ValidationError
	)

	switch {
	case errors.As(err, &denied):
		httputil.WriteErrorDetails(w, http.StatusForbidden, "permission denied", deniedDetails(denied))
	case errors.As(err, &validation):
		details := map[string]interface{}{}
		if validation.Field != "" {
			details["field"] = validation.Field
		}
		httputil.WriteErrorDetails(w, http.StatusBadRequest, validation.Error(), details)
	case errors.Is(err, ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicate):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	default:
		logger.WithError(err).WithFields(map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": contextkeys.GetRequestID(r.Context()),
		}).Error("Request failed")
		httputil.WriteInternalError(w, err)
	}
}

// writeCallerError is writeError for checks on the caller itself, where an
// unknown user means the caller is not authenticated.
func writeCallerError(w http.ResponseWriter, r *http.Request, err error, logger *observability.Logger) {
	if errors.Is(err, ErrNotFound) {
		writeUnauthenticated(w)
		return
	}
	writeError(w, r, err, logger)
}

func writeUnauthenticated(w http.ResponseWriter) {
	httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
}

func deniedDetails(err *PermissionDeniedError) map[string]interface{} {
	details := map[string]interface{}{}
	if len(err.Missing) > 0 {
		details["missingPermissions"] = PermissionCodes(err.Missing)
	}
	if len(err.Roles) > 0 {
		details["deniedRoles"] = err.RoleNames()
	}
	return details
}
