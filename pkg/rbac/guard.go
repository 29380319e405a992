package rbac

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/bastion/pkg/observability"
)

// Guard enforces assignment authority: an actor may only hand out
// permissions it holds itself.
type Guard struct {
	store    Store
	resolver *Resolver
	metrics  *observability.Metrics
}

// NewGuard creates a guard. metrics may be nil.
func NewGuard(store Store, resolver *Resolver, metrics *observability.Metrics) *Guard {
	return &Guard{store: store, resolver: resolver, metrics: metrics}
}

// CanAssignRole reports whether actorID may grant roleID. A missing role
// is a *NotFoundError, never a denial.
func (g *Guard) CanAssignRole(ctx context.Context, actorID, roleID int64) (bool, error) {
	role, err := g.store.GetRole(ctx, roleID)
	if err != nil {
		return false, err
	}

	missing, err := g.resolver.Covers(ctx, actorID, role.Permissions)
	if err != nil {
		return false, err
	}

	return len(missing) == 0, nil
}

// CheckAssignable resolves every requested role and verifies the actor may
// grant each of them. It fails with a *NotFoundError on the first unknown
// role, or with a *PermissionDeniedError naming every role the actor may
// not grant. On success the resolved roles are returned in request order.
func (g *Guard) CheckAssignable(ctx context.Context, actorID int64, roleIDs []int64) ([]Role, error) {
	ctx, span := g.resolver.tracer.Start(ctx, "rbac.Guard.CheckAssignable",
		trace.WithAttributes(
			attribute.Int64("rbac.actor_id", actorID),
			attribute.Int("rbac.role_count", len(roleIDs)),
		))
	defer span.End()

	roles := make([]Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		role, err := g.store.GetRole(ctx, id)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}

	var denied []DeniedRole
	for _, role := range roles {
		missing, err := g.resolver.Covers(ctx, actorID, role.Permissions)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			denied = append(denied, DeniedRole{ID: role.ID, Name: role.Name, Missing: missing})
		}
	}

	if len(denied) > 0 {
		g.metrics.RecordGuardDenial("assign")
		span.SetAttributes(attribute.Int("rbac.denied_roles", len(denied)))
		return nil, &PermissionDeniedError{UserID: actorID, Roles: denied}
	}

	return roles, nil
}

// CheckGrantable applies the same rule to a role definition: the actor
// must hold every permission it is putting into the role.
func (g *Guard) CheckGrantable(ctx context.Context, actorID int64, perms []Permission) error {
	missing, err := g.resolver.Covers(ctx, actorID, perms)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		g.metrics.RecordGuardDenial("define")
		return &PermissionDeniedError{UserID: actorID, Missing: missing}
	}
	return nil
}
