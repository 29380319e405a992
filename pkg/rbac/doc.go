// Package rbac provides role-based access control for administrative
// operations of the platform.
//
// # Overview
//
// Users hold roles, roles bundle permissions, and every administrative
// operation asks one question: does user U hold permission P. Users flagged
// as super-admins hold every permission without any role.
//
// # Architecture
//
// The package is built from five components, leaf first:
//
//  1. Catalog: the closed set of Permission values (catalog.go)
//  2. Store: roles, assignments and the users table (store.go, migrations.go)
//  3. Resolver: computes and caches a user's effective permissions (resolver.go)
//  4. Guard: enforces assignment authority (guard.go)
//  5. Service: mutations in the order guard, store, invalidate, audit (service.go)
//
// Handlers and PermissionMiddleware expose the package over HTTP; Manager
// wires everything from a *sql.DB.
//
// # Permissions
//
// A Permission is an opaque value. Only the Perm* variables are valid and
// decoding an unknown code fails:
//
//	rbac.PermUsersView           // "users.view"
//	rbac.PermRolesAssign         // "roles.assign"
//	rbac.PermCompaniesEdit       // "companies.edit"
//	rbac.PermEmailTemplatesSend  // "email-templates.send"
//
// # Checking permissions
//
//	resolver := rbac.NewResolver(store, rbac.WithCache(rbac.NewMemoryCache(10000, ttl), ttl))
//
//	if err := resolver.RequirePermission(ctx, userID, rbac.PermCompaniesEdit); err != nil {
//		// *rbac.PermissionDeniedError, *rbac.NotFoundError or a datastore error
//	}
//
// Results are cached per user for the TTL. InvalidateUser and InvalidateAll
// delete entries, and a load that started before an invalidation never
// writes its result back.
//
// # Assignment authority
//
// An actor may grant a role only if it holds every permission of that role.
// Bulk replacement is all-or-nothing:
//
//	_, err := service.ReplaceUserRoles(ctx, rbac.ReplaceRolesRequest{
//		ActorID: actorID,
//		UserID:  targetID,
//		RoleIDs: []int64{viewerID, managerID},
//	})
//	var denied *rbac.PermissionDeniedError
//	if errors.As(err, &denied) {
//		fmt.Println(denied.RoleNames()) // [Manager]
//	}
//
// The same rule applies to role definitions: creating, changing or deleting
// a role requires holding the permissions involved.
//
// # HTTP
//
//	manager := rbac.NewManager(db, rbac.DefaultConfig(), rbac.Deps{Audit: writer, Logger: logger})
//	manager.RegisterRoutes(router)
//
// The caller is read from the request context. Errors map to 401 for an
// unknown caller, 403 for denials, 404, 400 for validation and 409 for a
// duplicate role code.
//
// # Seeding
//
// SyncRoles creates or updates roles by code from a YAML seed:
//
//	roles:
//	  - name: Support
//	    code: support
//	    permissions: [users.view, companies.view]
package rbac
