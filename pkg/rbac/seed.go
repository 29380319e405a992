package rbac

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/bastion/pkg/audit"
)

// SeedFile is the on-disk format of a role seed:
//
//	roles:
//	  - name: Viewer
//	    code: viewer
//	    permissions: [users.view, companies.view]
type SeedFile struct {
	Roles []Role `yaml:"roles"`
}

// SyncResult counts what SyncRoles changed
type SyncResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// ParseSeed decodes a YAML role seed. Unknown permission codes fail.
func ParseSeed(r io.Reader) ([]Role, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var seed SeedFile
	if err := dec.Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse role seed: %w", err)
	}

	seen := make(map[string]bool, len(seed.Roles))
	for _, role := range seed.Roles {
		if err := validateRoleDefinition(role.Name, role.Code, role.Permissions); err != nil {
			return nil, fmt.Errorf("role %q: %w", role.Code, err)
		}
		if seen[role.Code] {
			return nil, fmt.Errorf("role %q: %w", role.Code, invalid("code", "listed more than once"))
		}
		seen[role.Code] = true
	}
	return seed.Roles, nil
}

// LoadSeedFile reads and parses a role seed from path
func LoadSeedFile(path string) ([]Role, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open role seed: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// SyncRoles creates missing roles and brings the permissions of existing
// ones (matched by code) in line with roles. Roles absent from the list
// are left alone. Seeding runs with system authority, so there is no
// assignment check and audit entries carry no actor.
func (s *Service) SyncRoles(ctx context.Context, roles []Role) (SyncResult, error) {
	var result SyncResult

	ctx, span := s.startSpan(ctx, "rbac.Service.SyncRoles")
	defer span.End()

	for _, want := range roles {
		if err := validateRoleDefinition(want.Name, want.Code, want.Permissions); err != nil {
			return result, spanError(span, err)
		}
		wantSet := want.PermissionSet()

		existing, err := s.store.GetRoleByCode(ctx, want.Code)
		if errors.Is(err, ErrNotFound) {
			role := &Role{Name: want.Name, Code: want.Code, Permissions: wantSet.Sorted()}
			if err := s.store.CreateRole(ctx, role); err != nil {
				return result, spanError(span, err)
			}
			result.Created++
			s.audit.CreateAuditLog(ctx, seedRequest(), audit.Record{
				Action:     audit.ActionRoleCreate,
				EntityType: audit.EntityRole,
				EntityID:   strconv.FormatInt(role.ID, 10),
				Metadata: map[string]interface{}{
					"name":        role.Name,
					"code":        role.Code,
					"permissions": PermissionCodes(role.Permissions),
					"source":      "seed",
				},
			})
			continue
		}
		if err != nil {
			return result, spanError(span, err)
		}

		before := existing.PermissionSet()
		if len(before.Missing(wantSet.Sorted())) == 0 && len(wantSet.Missing(before.Sorted())) == 0 {
			result.Unchanged++
			continue
		}

		if err := s.store.UpdateRolePermissions(ctx, existing.ID, wantSet.Sorted()); err != nil {
			return result, spanError(span, err)
		}
		result.Updated++
		s.audit.CreateAuditLog(ctx, seedRequest(), audit.Record{
			Action:     audit.ActionRoleUpdate,
			EntityType: audit.EntityRole,
			EntityID:   strconv.FormatInt(existing.ID, 10),
			Metadata: map[string]interface{}{
				"name":               existing.Name,
				"before":             PermissionCodes(before.Sorted()),
				"after":              PermissionCodes(wantSet.Sorted()),
				"addedPermissions":   PermissionCodes(before.Missing(wantSet.Sorted())),
				"removedPermissions": PermissionCodes(wantSet.Missing(before.Sorted())),
				"source":             "seed",
			},
		})
	}

	if result.Updated > 0 {
		s.resolver.InvalidateAll(ctx)
	}

	s.logger.WithFields(map[string]interface{}{
		"created":   result.Created,
		"updated":   result.Updated,
		"unchanged": result.Unchanged,
	}).Info("Synchronized roles")

	return result, nil
}

// SeedDefaultRoles syncs DefaultRoles
func (s *Service) SeedDefaultRoles(ctx context.Context) (SyncResult, error) {
	return s.SyncRoles(ctx, DefaultRoles())
}

func seedRequest() audit.RequestContext {
	return audit.RequestContext{Path: "seed"}
}
