package rbac

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/bastion/pkg/audit"
	"github.com/platinummonkey/bastion/pkg/observability"
)

var roleCodePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,99}$`)

// Service performs role and assignment mutations.
//
// Callers gate entry with a permission check (for example roles.assign);
// Service enforces assignment authority on top of that. Every mutation
// commits, then invalidates the permission cache, then writes the audit
// entry, then returns.
type Service struct {
	store    Store
	resolver *Resolver
	guard    *Guard
	audit    *audit.Writer
	logger   *observability.Logger
}

// NewService wires a service. writer and logger may be nil.
func NewService(store Store, resolver *Resolver, guard *Guard, writer *audit.Writer, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if writer == nil {
		writer = audit.NewWriter(nil, logger)
	}
	return &Service{
		store:    store,
		resolver: resolver,
		guard:    guard,
		audit:    writer,
		logger:   logger,
	}
}

// ReplaceRolesRequest asks for a user's role set to become exactly RoleIDs
type ReplaceRolesRequest struct {
	ActorID int64
	UserID  int64
	RoleIDs []int64
	Request audit.RequestContext
}

// ReplaceUserRoles replaces every role of a user. The actor must be able
// to assign each requested role; if any one is not assignable nothing
// changes.
func (s *Service) ReplaceUserRoles(ctx context.Context, req ReplaceRolesRequest) (*UserWithRoles, error) {
	if req.ActorID <= 0 {
		return nil, invalid("actor_id", "must be positive")
	}
	if req.UserID <= 0 {
		return nil, invalid("user_id", "must be positive")
	}
	roleIDs, err := normalizeRoleIDs(req.RoleIDs)
	if err != nil {
		return nil, err
	}

	ctx, span := s.startSpan(ctx, "rbac.Service.ReplaceUserRoles",
		attribute.Int64("rbac.actor_id", req.ActorID),
		attribute.Int64("rbac.user_id", req.UserID))
	defer span.End()

	target, err := s.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, spanError(span, err)
	}

	previous, err := s.store.GetUserRoles(ctx, req.UserID)
	if err != nil {
		return nil, spanError(span, err)
	}

	roles, err := s.guard.CheckAssignable(ctx, req.ActorID, roleIDs)
	if err != nil {
		s.recordDenial(ctx, req.ActorID, req.Request, err, audit.EntityUser, req.UserID)
		return nil, spanError(span, err)
	}

	if err := s.store.ReplaceUserRoles(ctx, req.UserID, roleIDs, &req.ActorID); err != nil {
		return nil, spanError(span, err)
	}

	s.resolver.InvalidateUser(ctx, req.UserID)

	added, removed := diffRoles(previous, roles)
	s.audit.CreateAuditLog(ctx, req.Request, audit.Record{
		UserID:     &req.ActorID,
		Action:     audit.ActionRoleAssign,
		EntityType: audit.EntityUser,
		EntityID:   strconv.FormatInt(req.UserID, 10),
		Metadata: map[string]interface{}{
			"assignedRoles": roleNames(roles),
			"roleIds":       roleIDs,
			"previousRoles": roleNames(previous),
			"addedRoles":    added,
			"removedRoles":  removed,
		},
	})

	s.logger.WithFields(map[string]interface{}{
		"actor_id": req.ActorID,
		"user_id":  req.UserID,
		"roles":    roleNames(roles),
	}).Info("Replaced user roles")

	sorted := append([]Role(nil), roles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &UserWithRoles{User: *target, Roles: sorted}, nil
}

// AssignRole grants a single role. Granting a role the user already holds
// succeeds without side effects.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, roleID int64, rc audit.RequestContext) error {
	if err := validateIDs(actorID, userID, roleID); err != nil {
		return err
	}

	ctx, span := s.startSpan(ctx, "rbac.Service.AssignRole",
		attribute.Int64("rbac.actor_id", actorID),
		attribute.Int64("rbac.user_id", userID),
		attribute.Int64("rbac.role_id", roleID))
	defer span.End()

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return spanError(span, err)
	}

	roles, err := s.guard.CheckAssignable(ctx, actorID, []int64{roleID})
	if err != nil {
		s.recordDenial(ctx, actorID, rc, err, audit.EntityUser, userID)
		return spanError(span, err)
	}

	created, err := s.store.AssignRole(ctx, RoleAssignment{UserID: userID, RoleID: roleID, AssignedBy: &actorID})
	if err != nil {
		return spanError(span, err)
	}
	if !created {
		return nil
	}

	s.resolver.InvalidateUser(ctx, userID)

	s.audit.CreateAuditLog(ctx, rc, audit.Record{
		UserID:     &actorID,
		Action:     audit.ActionRoleAssign,
		EntityType: audit.EntityUser,
		EntityID:   strconv.FormatInt(userID, 10),
		Metadata: map[string]interface{}{
			"assignedRoles": roleNames(roles),
			"roleIds":       []int64{roleID},
		},
	})

	return nil
}

// UnassignRole revokes a single role. It fails with a *NotFoundError if
// the role does not exist or the user does not hold it.
func (s *Service) UnassignRole(ctx context.Context, actorID, userID, roleID int64, rc audit.RequestContext) error {
	if err := validateIDs(actorID, userID, roleID); err != nil {
		return err
	}

	ctx, span := s.startSpan(ctx, "rbac.Service.UnassignRole",
		attribute.Int64("rbac.actor_id", actorID),
		attribute.Int64("rbac.user_id", userID),
		attribute.Int64("rbac.role_id", roleID))
	defer span.End()

	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return spanError(span, err)
	}

	if err := s.store.UnassignRole(ctx, userID, roleID); err != nil {
		return spanError(span, err)
	}

	s.resolver.InvalidateUser(ctx, userID)

	s.audit.CreateAuditLog(ctx, rc, audit.Record{
		UserID:     &actorID,
		Action:     audit.ActionRoleUnassign,
		EntityType: audit.EntityUser,
		EntityID:   strconv.FormatInt(userID, 10),
		Metadata: map[string]interface{}{
			"removedRoles": []string{role.Name},
			"roleIds":      []int64{roleID},
		},
	})

	return nil
}

// CreateRoleRequest describes a new role
type CreateRoleRequest struct {
	Name        string
	Code        string
	Permissions []Permission
}

// CreateRole defines a new role. The actor must hold every permission the
// role grants.
func (s *Service) CreateRole(ctx context.Context, actorID int64, req CreateRoleRequest, rc audit.RequestContext) (*Role, error) {
	if actorID <= 0 {
		return nil, invalid("actor_id", "must be positive")
	}
	if err := validateRoleDefinition(req.Name, req.Code, req.Permissions); err != nil {
		return nil, err
	}

	ctx, span := s.startSpan(ctx, "rbac.Service.CreateRole",
		attribute.Int64("rbac.actor_id", actorID),
		attribute.String("rbac.role_code", req.Code))
	defer span.End()

	if err := s.guard.CheckGrantable(ctx, actorID, req.Permissions); err != nil {
		s.recordDenial(ctx, actorID, rc, err, audit.EntityRole, 0)
		return nil, spanError(span, err)
	}

	role := &Role{
		Name:        req.Name,
		Code:        req.Code,
		Permissions: NewPermissionSet(req.Permissions...).Sorted(),
	}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, spanError(span, err)
	}

	s.audit.CreateAuditLog(ctx, rc, audit.Record{
		UserID:     &actorID,
		Action:     audit.ActionRoleCreate,
		EntityType: audit.EntityRole,
		EntityID:   strconv.FormatInt(role.ID, 10),
		Metadata: map[string]interface{}{
			"name":        role.Name,
			"code":        role.Code,
			"permissions": PermissionCodes(role.Permissions),
		},
	})

	return role, nil
}

// UpdateRolePermissions replaces the permissions of a role. The actor must
// hold both the old and the new permissions. Every cached computation is
// discarded because any user may hold the role.
func (s *Service) UpdateRolePermissions(ctx context.Context, actorID, roleID int64, perms []Permission, rc audit.RequestContext) (*Role, error) {
	if actorID <= 0 {
		return nil, invalid("actor_id", "must be positive")
	}
	if roleID <= 0 {
		return nil, invalid("role_id", "must be positive")
	}
	if err := validatePermissions(perms); err != nil {
		return nil, err
	}

	ctx, span := s.startSpan(ctx, "rbac.Service.UpdateRolePermissions",
		attribute.Int64("rbac.actor_id", actorID),
		attribute.Int64("rbac.role_id", roleID))
	defer span.End()

	existing, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, spanError(span, err)
	}

	before := existing.PermissionSet()
	after := NewPermissionSet(perms...)
	if err := s.guard.CheckGrantable(ctx, actorID, before.Union(after).Sorted()); err != nil {
		s.recordDenial(ctx, actorID, rc, err, audit.EntityRole, roleID)
		return nil, spanError(span, err)
	}

	if err := s.store.UpdateRolePermissions(ctx, roleID, after.Sorted()); err != nil {
		return nil, spanError(span, err)
	}

	s.resolver.InvalidateAll(ctx)

	updated := *existing
	updated.Permissions = after.Sorted()

	s.audit.CreateAuditLog(ctx, rc, audit.Record{
		UserID:     &actorID,
		Action:     audit.ActionRoleUpdate,
		EntityType: audit.EntityRole,
		EntityID:   strconv.FormatInt(roleID, 10),
		Metadata: map[string]interface{}{
			"name":               existing.Name,
			"before":             PermissionCodes(before.Sorted()),
			"after":              PermissionCodes(updated.Permissions),
			"addedPermissions":   PermissionCodes(before.Missing(updated.Permissions)),
			"removedPermissions": PermissionCodes(after.Missing(before.Sorted())),
		},
	})

	return &updated, nil
}

// DeleteRole removes a role and all of its assignments
func (s *Service) DeleteRole(ctx context.Context, actorID, roleID int64, rc audit.RequestContext) error {
	if actorID <= 0 {
		return invalid("actor_id", "must be positive")
	}
	if roleID <= 0 {
		return invalid("role_id", "must be positive")
	}

	ctx, span := s.startSpan(ctx, "rbac.Service.DeleteRole",
		attribute.Int64("rbac.actor_id", actorID),
		attribute.Int64("rbac.role_id", roleID))
	defer span.End()

	existing, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return spanError(span, err)
	}

	if err := s.guard.CheckGrantable(ctx, actorID, existing.Permissions); err != nil {
		s.recordDenial(ctx, actorID, rc, err, audit.EntityRole, roleID)
		return spanError(span, err)
	}

	members, err := s.store.ListRoleMembers(ctx, roleID)
	if err != nil {
		return spanError(span, err)
	}

	if err := s.store.DeleteRole(ctx, roleID); err != nil {
		return spanError(span, err)
	}

	s.resolver.InvalidateAll(ctx)

	s.audit.CreateAuditLog(ctx, rc, audit.Record{
		UserID:     &actorID,
		Action:     audit.ActionRoleDelete,
		EntityType: audit.EntityRole,
		EntityID:   strconv.FormatInt(roleID, 10),
		Metadata: map[string]interface{}{
			"name":          existing.Name,
			"code":          existing.Code,
			"permissions":   PermissionCodes(existing.Permissions),
			"affectedUsers": members,
		},
	})

	return nil
}

// GetRole returns a role by ID
func (s *Service) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	return s.store.GetRole(ctx, roleID)
}

// ListRoles returns every role
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetUserWithRoles returns a user and its roles
func (s *Service) GetUserWithRoles(ctx context.Context, userID int64) (*UserWithRoles, error) {
	return s.resolver.GetUserWithRoles(ctx, userID)
}

// RecordDenial writes a PERMISSION_DENIED entry when denial auditing is on
func (s *Service) RecordDenial(ctx context.Context, actorID int64, rc audit.RequestContext, err error) {
	s.recordDenial(ctx, actorID, rc, err, audit.EntityUser, actorID)
}

func (s *Service) recordDenial(ctx context.Context, actorID int64, rc audit.RequestContext, err error, entityType audit.EntityType, entityID int64) {
	var denied *PermissionDeniedError
	if !s.audit.LogsDenials() || !errors.As(err, &denied) {
		return
	}

	metadata := map[string]interface{}{}
	if len(denied.Missing) > 0 {
		metadata["missingPermissions"] = PermissionCodes(denied.Missing)
	}
	if len(denied.Roles) > 0 {
		metadata["deniedRoles"] = denied.RoleNames()
	}

	s.audit.CreateAuditLog(ctx, rc, audit.Record{
		UserID:     &actorID,
		Action:     audit.ActionPermissionDenied,
		EntityType: entityType,
		EntityID:   strconv.FormatInt(entityID, 10),
		Metadata:   metadata,
	})
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.resolver.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func validateIDs(actorID, userID, roleID int64) error {
	if actorID <= 0 {
		return invalid("actor_id", "must be positive")
	}
	if userID <= 0 {
		return invalid("user_id", "must be positive")
	}
	if roleID <= 0 {
		return invalid("role_id", "must be positive")
	}
	return nil
}

// normalizeRoleIDs rejects non-positive IDs and drops duplicates, keeping
// the first occurrence.
func normalizeRoleIDs(ids []int64) ([]int64, error) {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, invalid("roleIds", "role id %d must be positive", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

func validateRoleDefinition(name, code string, perms []Permission) error {
	if name == "" || len(name) > 255 {
		return invalid("name", "must be between 1 and 255 characters")
	}
	if !roleCodePattern.MatchString(code) {
		return invalid("code", "must be lowercase letters, digits, '-' or '_'")
	}
	return validatePermissions(perms)
}

func validatePermissions(perms []Permission) error {
	for _, p := range perms {
		if !p.IsValid() {
			return invalid("permissions", "unknown permission %q", p.String())
		}
	}
	return nil
}

func roleNames(roles []Role) []string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	return names
}

// diffRoles returns the names of roles gained and lost going from
// previous to next
func diffRoles(previous, next []Role) (added, removed []string) {
	before := make(map[int64]bool, len(previous))
	for _, r := range previous {
		before[r.ID] = true
	}
	after := make(map[int64]bool, len(next))
	for _, r := range next {
		after[r.ID] = true
		if !before[r.ID] {
			added = append(added, r.Name)
		}
	}
	for _, r := range previous {
		if !after[r.ID] {
			removed = append(removed, r.Name)
		}
	}
	if added == nil {
		added = []string{}
	}
	if removed == nil {
		removed = []string{}
	}
	return added, removed
}
