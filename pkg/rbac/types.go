package rbac

import (
	"time"
)

// Built-in role codes
const (
	RoleCodeViewer       = "viewer"
	RoleCodeManager      = "manager"
	RoleCodeAuditor      = "auditor"
	RoleCodeBillingAdmin = "billing-admin"
)

// Role is a named bundle of permissions
type Role struct {
	ID          int64        `json:"id" yaml:"-"`
	Name        string       `json:"name" yaml:"name"`
	Code        string       `json:"code" yaml:"code"`
	Permissions []Permission `json:"permissions" yaml:"permissions"`
	CreatedAt   time.Time    `json:"created_at" yaml:"-"`
}

// PermissionSet returns the role's permissions as a set
func (r Role) PermissionSet() PermissionSet {
	return NewPermissionSet(r.Permissions...)
}

// RoleAssignment grants a role to a user
type RoleAssignment struct {
	UserID     int64     `json:"user_id"`
	RoleID     int64     `json:"role_id"`
	AssignedBy *int64    `json:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}

// User is the authorization view of a platform user
type User struct {
	ID           int64 `json:"id"`
	IsSuperAdmin bool  `json:"is_super_admin"`
}

// UserWithRoles is a user together with every role assigned to it
type UserWithRoles struct {
	User
	Roles []Role `json:"roles"`
}

// RolePermissions is the union of permissions over the user's roles. It
// does not account for the super-admin flag; use the Resolver for checks.
func (u *UserWithRoles) RolePermissions() PermissionSet {
	set := make(PermissionSet)
	for _, role := range u.Roles {
		for _, p := range role.Permissions {
			set.Add(p)
		}
	}
	return set
}

// RoleNames returns the names of the user's roles in load order
func (u *UserWithRoles) RoleNames() []string {
	names := make([]string, len(u.Roles))
	for i, r := range u.Roles {
		names[i] = r.Name
	}
	return names
}

// CacheEntry is a memoized permission computation for one user
type CacheEntry struct {
	UserID      int64         `json:"user_id"`
	Permissions PermissionSet `json:"permissions"`
	SuperAdmin  bool          `json:"super_admin"`
	ComputedAt  time.Time     `json:"computed_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at now
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// DefaultRoles returns the roles seeded on a fresh installation
func DefaultRoles() []Role {
	return []Role{
		{
			Name: "Viewer",
			Code: RoleCodeViewer,
			Permissions: []Permission{
				PermUsersView,
				PermCompaniesView,
				PermHealthScoresView,
				PermEmailTemplatesView,
			},
		},
		{
			Name: "Manager",
			Code: RoleCodeManager,
			Permissions: []Permission{
				PermUsersView,
				PermUsersManage,
				PermRolesView,
				PermRolesManage,
				PermRolesAssign,
				PermCompaniesView,
				PermCompaniesCreate,
				PermCompaniesEdit,
				PermHealthScoresView,
				PermHealthScoresManage,
				PermEmailTemplatesView,
				PermEmailTemplatesManage,
				PermEmailTemplatesSend,
			},
		},
		{
			Name: "Auditor",
			Code: RoleCodeAuditor,
			Permissions: []Permission{
				PermUsersView,
				PermRolesView,
				PermAuditLogsView,
				PermSettingsView,
			},
		},
		{
			Name: "Billing Admin",
			Code: RoleCodeBillingAdmin,
			Permissions: []Permission{
				PermCompaniesView,
				PermBillingView,
				PermBillingManage,
			},
		},
	}
}
