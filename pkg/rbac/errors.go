package rbac

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is matched by every PermissionDeniedError.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicate is returned when a role code is already taken.
	ErrDuplicate = errors.New("already exists")
)

// NotFoundError reports a user, role or assignment that does not exist.
type NotFoundError struct {
	Kind string
	ID   int64
	Code string
}

func (e *NotFoundError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %q not found", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func userNotFound(id int64) error { return &NotFoundError{Kind: "user", ID: id} }
func roleNotFound(id int64) error { return &NotFoundError{Kind: "role", ID: id} }

// DeniedRole names a role the actor is not allowed to hand out.
type DeniedRole struct {
	ID      int64        `json:"id"`
	Name    string       `json:"name"`
	Missing []Permission `json:"missing"`
}

// PermissionDeniedError is returned when a user lacks a required
// permission, or lacks the authority to grant one or more roles.
type PermissionDeniedError struct {
	UserID  int64
	Missing []Permission
	Roles   []DeniedRole
}

func (e *PermissionDeniedError) Error() string {
	if len(e.Roles) > 0 {
		names := make([]string, len(e.Roles))
		for i, r := range e.Roles {
			names[i] = r.Name
		}
		return fmt.Sprintf("user %d is not allowed to assign role(s): %s", e.UserID, strings.Join(names, ", "))
	}
	return fmt.Sprintf("user %d lacks permission(s): %s", e.UserID, strings.Join(PermissionCodes(e.Missing), ", "))
}

func (e *PermissionDeniedError) Unwrap() error { return ErrPermissionDenied }

// Permission returns the first missing permission, if any.
func (e *PermissionDeniedError) Permission() Permission {
	if len(e.Missing) > 0 {
		return e.Missing[0]
	}
	return Permission{}
}

// RoleNames returns the names of the unassignable roles.
func (e *PermissionDeniedError) RoleNames() []string {
	names := make([]string, len(e.Roles))
	for i, r := range e.Roles {
		names[i] = r.Name
	}
	return names
}

// ValidationError reports malformed input. It is always raised before
// the datastore is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
