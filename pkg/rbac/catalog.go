package rbac

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Domain groups permissions by the administrative area they guard.
type Domain string

const (
	DomainUsers          Domain = "users"
	DomainRoles          Domain = "roles"
	DomainCompanies      Domain = "companies"
	DomainBilling        Domain = "billing"
	DomainHealthScores   Domain = "health-scores"
	DomainEmailTemplates Domain = "email-templates"
	DomainAuditLogs      Domain = "audit-logs"
	DomainSettings       Domain = "settings"
)

// Permission is an identifier from the closed permission catalog.
//
// The only valid values are the Perm* variables declared in this file. The
// zero value is not a permission and never matches a grant. Permissions
// serialize as their string code ("companies.view") and decoding rejects
// codes the catalog does not know.
type Permission struct {
	code string
}

var (
	catalog = make(map[string]Permission)
	ordered []Permission
)

func define(domain Domain, action string) Permission {
	p := Permission{code: string(domain) + "." + action}
	if _, dup := catalog[p.code]; dup {
		panic("rbac: duplicate permission " + p.code)
	}
	catalog[p.code] = p
	ordered = append(ordered, p)
	return p
}

// Users
var (
	PermUsersView   = define(DomainUsers, "view")
	PermUsersManage = define(DomainUsers, "manage")
)

// Roles
var (
	PermRolesView   = define(DomainRoles, "view")
	PermRolesManage = define(DomainRoles, "manage")
	PermRolesAssign = define(DomainRoles, "assign")
)

// Companies
var (
	PermCompaniesView   = define(DomainCompanies, "view")
	PermCompaniesCreate = define(DomainCompanies, "create")
	PermCompaniesEdit   = define(DomainCompanies, "edit")
	PermCompaniesDelete = define(DomainCompanies, "delete")
)

// Billing
var (
	PermBillingView   = define(DomainBilling, "view")
	PermBillingManage = define(DomainBilling, "manage")
)

// Health scores
var (
	PermHealthScoresView   = define(DomainHealthScores, "view")
	PermHealthScoresManage = define(DomainHealthScores, "manage")
)

// Email templates
var (
	PermEmailTemplatesView   = define(DomainEmailTemplates, "view")
	PermEmailTemplatesManage = define(DomainEmailTemplates, "manage")
	PermEmailTemplatesSend   = define(DomainEmailTemplates, "send")
)

// Audit logs
var (
	PermAuditLogsView = define(DomainAuditLogs, "view")
)

// Settings
var (
	PermSettingsView   = define(DomainSettings, "view")
	PermSettingsManage = define(DomainSettings, "manage")
)

// String returns the permission code.
func (p Permission) String() string {
	return p.code
}

// IsValid reports whether p is a catalog permission.
func (p Permission) IsValid() bool {
	_, ok := catalog[p.code]
	return ok
}

// Domain returns the domain the permission belongs to.
func (p Permission) Domain() Domain {
	if i := strings.IndexByte(p.code, '.'); i > 0 {
		return Domain(p.code[:i])
	}
	return ""
}

// MarshalText implements encoding.TextMarshaler.
func (p Permission) MarshalText() ([]byte, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("rbac: cannot marshal unknown permission %q", p.code)
	}
	return []byte(p.code), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Permission) UnmarshalText(text []byte) error {
	parsed, err := ParsePermission(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePermission looks up a permission by code.
func ParsePermission(code string) (Permission, error) {
	p, ok := catalog[code]
	if !ok {
		return Permission{}, &ValidationError{Field: "permission", Message: fmt.Sprintf("unknown permission %q", code)}
	}
	return p, nil
}

// ParsePermissions parses every code, failing on the first unknown one.
func ParsePermissions(codes []string) ([]Permission, error) {
	perms := make([]Permission, 0, len(codes))
	for _, code := range codes {
		p, err := ParsePermission(code)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}

// AllPermissions returns the full catalog in declaration order.
func AllPermissions() []Permission {
	out := make([]Permission, len(ordered))
	copy(out, ordered)
	return out
}

// Domains returns every domain that has at least one permission.
func Domains() []Domain {
	seen := make(map[Domain]bool)
	var out []Domain
	for _, p := range ordered {
		if d := p.Domain(); !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// DomainPermissions returns the permissions of a single domain.
func DomainPermissions(domain Domain) []Permission {
	var out []Permission
	for _, p := range ordered {
		if p.Domain() == domain {
			out = append(out, p)
		}
	}
	return out
}

// PermissionSet is an unordered set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s.Add(p)
	}
	return s
}

// Add inserts p. Invalid permissions are ignored.
func (s PermissionSet) Add(p Permission) {
	if p.IsValid() {
		s[p] = struct{}{}
	}
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Len returns the number of permissions in the set.
func (s PermissionSet) Len() int {
	return len(s)
}

// Union returns a new set holding the permissions of s and other.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s)+len(other))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range other {
		out[p] = struct{}{}
	}
	return out
}

// Missing returns the required permissions absent from s, sorted by code.
func (s PermissionSet) Missing(required []Permission) []Permission {
	var missing []Permission
	seen := make(map[Permission]bool, len(required))
	for _, p := range required {
		if seen[p] {
			continue
		}
		seen[p] = true
		if !s.Has(p) {
			missing = append(missing, p)
		}
	}
	sortPermissions(missing)
	return missing
}

// Sorted returns the set contents ordered by code.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sortPermissions(out)
	return out
}

// MarshalJSON encodes the set as a sorted array of codes.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of codes.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var perms []Permission
	if err := json.Unmarshal(data, &perms); err != nil {
		return err
	}
	*s = NewPermissionSet(perms...)
	return nil
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i].code < perms[j].code })
}

// PermissionCodes converts permissions to their string codes.
func PermissionCodes(perms []Permission) []string {
	codes := make([]string, len(perms))
	for i, p := range perms {
		codes[i] = p.code
	}
	return codes
}
