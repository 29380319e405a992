package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/bastion/pkg/observability"
)

// Store persists roles and role assignments
type Store interface {
	// GetUser loads the authorization view of a user
	GetUser(ctx context.Context, userID int64) (*User, error)

	// GetRole retrieves a role by ID
	GetRole(ctx context.Context, roleID int64) (*Role, error)

	// GetRoleByCode retrieves a role by its machine code
	GetRoleByCode(ctx context.Context, code string) (*Role, error)

	// ListRoles returns every role ordered by ID
	ListRoles(ctx context.Context) ([]Role, error)

	// CreateRole inserts a role and sets its ID and CreatedAt
	CreateRole(ctx context.Context, role *Role) error

	// UpdateRolePermissions replaces the permission set of a role
	UpdateRolePermissions(ctx context.Context, roleID int64, perms []Permission) error

	// DeleteRole removes a role and its assignments
	DeleteRole(ctx context.Context, roleID int64) error

	// GetUserRoles returns the roles assigned to a user
	GetUserRoles(ctx context.Context, userID int64) ([]Role, error)

	// ListRoleMembers returns the IDs of users holding a role
	ListRoleMembers(ctx context.Context, roleID int64) ([]int64, error)

	// AssignRole creates an assignment, reporting false if it already existed
	AssignRole(ctx context.Context, assignment RoleAssignment) (bool, error)

	// UnassignRole deletes an assignment
	UnassignRole(ctx context.Context, userID, roleID int64) error

	// ReplaceUserRoles makes roleIDs the exact role set of a user, atomically
	ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy *int64) error
}

// SQLStore implements Store on database/sql. Queries use PostgreSQL
// placeholders and are also accepted by SQLite.
type SQLStore struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// StoreOption configures a SQLStore
type StoreOption func(*SQLStore)

// WithStoreLogger sets the logger used to report unknown stored permissions
func WithStoreLogger(logger *observability.Logger) StoreOption {
	return func(s *SQLStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreMetrics counts unknown stored permissions
func WithStoreMetrics(metrics *observability.Metrics) StoreOption {
	return func(s *SQLStore) {
		s.metrics = metrics
	}
}

// NewSQLStore creates a new SQL-backed store
func NewSQLStore(db *sql.DB, opts ...StoreOption) *SQLStore {
	s := &SQLStore{
		db:     db,
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying connection pool
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

const roleColumns = "id, name, code, permissions, created_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRole reads a role row. Stored codes the catalog no longer defines
// are dropped: they can never match a check, and the role stays readable
// so it can be repaired.
func (s *SQLStore) scanRole(row rowScanner) (*Role, error) {
	var role Role
	var permissionsJSON []byte

	if err := row.Scan(&role.ID, &role.Name, &role.Code, &permissionsJSON, &role.CreatedAt); err != nil {
		return nil, err
	}

	var codes []string
	if len(permissionsJSON) > 0 {
		if err := json.Unmarshal(permissionsJSON, &codes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions for role %d: %w", role.ID, err)
		}
	}

	role.Permissions = make([]Permission, 0, len(codes))
	for _, code := range codes {
		p, err := ParsePermission(code)
		if err != nil {
			s.metrics.RecordUnknownPermission(code)
			s.logger.WithFields(map[string]interface{}{
				"role_id":    role.ID,
				"role_code":  role.Code,
				"permission": code,
			}).Warn("Ignoring unknown permission stored on role")
			continue
		}
		role.Permissions = append(role.Permissions, p)
	}

	return &role, nil
}

func marshalPermissions(perms []Permission) (string, error) {
	sorted := NewPermissionSet(perms...).Sorted()
	data, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("failed to marshal permissions: %w", err)
	}
	return string(data), nil
}

// GetUser loads the authorization view of a user
func (s *SQLStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, is_super_admin FROM users WHERE id = $1", userID,
	).Scan(&user.ID, &user.IsSuperAdmin)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, userNotFound(userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// GetRole retrieves a role by ID
func (s *SQLStore) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	role, err := s.scanRole(s.db.QueryRowContext(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE id = $1", roleID))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, roleNotFound(roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return role, nil
}

// GetRoleByCode retrieves a role by its machine code
func (s *SQLStore) GetRoleByCode(ctx context.Context, code string) (*Role, error) {
	role, err := s.scanRole(s.db.QueryRowContext(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE code = $1", code))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "role", Code: code}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return role, nil
}

// ListRoles returns every role ordered by ID
func (s *SQLStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+roleColumns+" FROM roles ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return s.collectRoles(rows)
}

func (s *SQLStore) collectRoles(rows *sql.Rows) ([]Role, error) {
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		role, err := s.scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}

	return roles, nil
}

// CreateRole inserts a role and sets its ID and CreatedAt
func (s *SQLStore) CreateRole(ctx context.Context, role *Role) error {
	permissionsJSON, err := marshalPermissions(role.Permissions)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO roles (name, code, permissions, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, role.Name, role.Code, permissionsJSON, now).Scan(&role.ID)

	if isUniqueViolation(err) {
		return fmt.Errorf("role code %q: %w", role.Code, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	return nil
}

// UpdateRolePermissions replaces the permission set of a role
func (s *SQLStore) UpdateRolePermissions(ctx context.Context, roleID int64, perms []Permission) error {
	permissionsJSON, err := marshalPermissions(perms)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE roles SET permissions = $1 WHERE id = $2", permissionsJSON, roleID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	return requireAffected(result, roleNotFound(roleID))
}

// DeleteRole removes a role and its assignments
func (s *SQLStore) DeleteRole(ctx context.Context, roleID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM role_assignments WHERE role_id = $1", roleID); err != nil {
			return fmt.Errorf("failed to delete role assignments: %w", err)
		}

		result, err := tx.ExecContext(ctx, "DELETE FROM roles WHERE id = $1", roleID)
		if err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}

		return requireAffected(result, roleNotFound(roleID))
	})
}

// GetUserRoles returns the roles assigned to a user, ordered by role ID
func (s *SQLStore) GetUserRoles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.code, r.permissions, r.created_at
		FROM roles r
		JOIN role_assignments ra ON ra.role_id = r.id
		WHERE ra.user_id = $1
		ORDER BY r.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	return s.collectRoles(rows)
}

// ListRoleMembers returns the IDs of users holding a role
func (s *SQLStore) ListRoleMembers(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM role_assignments WHERE role_id = $1 ORDER BY user_id", roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role members: %w", err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role member: %w", err)
		}
		userIDs = append(userIDs, id)
	}

	return userIDs, rows.Err()
}

// AssignRole creates an assignment, reporting false if it already existed
func (s *SQLStore) AssignRole(ctx context.Context, assignment RoleAssignment) (bool, error) {
	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO role_assignments (user_id, role_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`, assignment.UserID, assignment.RoleID, assignment.AssignedBy, assignment.AssignedAt)
	if err != nil {
		return false, fmt.Errorf("failed to assign role: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return n > 0, nil
}

// UnassignRole deletes an assignment
func (s *SQLStore) UnassignRole(ctx context.Context, userID, roleID int64) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM role_assignments WHERE user_id = $1 AND role_id = $2", userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to unassign role: %w", err)
	}

	return requireAffected(result, &NotFoundError{Kind: "role assignment", ID: roleID})
}

// ReplaceUserRoles makes roleIDs the exact role set of a user. Roles the
// user keeps retain their original assignment metadata.
func (s *SQLStore) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy *int64) error {
	now := time.Now().UTC()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		deleteQuery := "DELETE FROM role_assignments WHERE user_id = $1"
		args := []interface{}{userID}
		if len(roleIDs) > 0 {
			placeholders := make([]string, len(roleIDs))
			for i, id := range roleIDs {
				placeholders[i] = fmt.Sprintf("$%d", i+2)
				args = append(args, id)
			}
			deleteQuery += " AND role_id NOT IN (" + strings.Join(placeholders, ", ") + ")"
		}

		if _, err := tx.ExecContext(ctx, deleteQuery, args...); err != nil {
			return fmt.Errorf("failed to remove role assignments: %w", err)
		}

		for _, roleID := range roleIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO role_assignments (user_id, role_id, assigned_by, assigned_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (user_id, role_id) DO NOTHING
			`, userID, roleID, assignedBy, now); err != nil {
				return fmt.Errorf("failed to assign role %d: %w", roleID, err)
			}
		}

		return nil
	})
}

// withTx runs fn in a transaction, rolling back on error
func (s *SQLStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func requireAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// isUniqueViolation recognizes unique constraint failures from PostgreSQL
// and, for tests, SQLite.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
