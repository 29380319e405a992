package audit

import (
	"time"
)

// Action is the kind of authorization-relevant mutation being recorded
type Action string

const (
	ActionRoleAssign       Action = "ROLE_ASSIGN"
	ActionRoleUnassign     Action = "ROLE_UNASSIGN"
	ActionRoleCreate       Action = "ROLE_CREATE"
	ActionRoleUpdate       Action = "ROLE_UPDATE"
	ActionRoleDelete       Action = "ROLE_DELETE"
	ActionPermissionDenied Action = "PERMISSION_DENIED"
)

// EntityType names the kind of entity an entry is about
type EntityType string

const (
	EntityUser EntityType = "user"
	EntityRole EntityType = "role"
)

// Record is what a caller asks to be audited
type Record struct {
	UserID     *int64                 `json:"user_id,omitempty"`
	Action     Action                 `json:"action"`
	EntityType EntityType             `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Entry is a persisted, immutable audit log row
type Entry struct {
	ID          int64                  `json:"id"`
	ActorUserID *int64                 `json:"actor_user_id,omitempty"`
	Action      Action                 `json:"action"`
	EntityType  EntityType             `json:"entity_type"`
	EntityID    string                 `json:"entity_id"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// RequestContext carries the inbound request details stored with an entry
type RequestContext struct {
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
}

// IsZero reports whether no request details are set
func (rc RequestContext) IsZero() bool {
	return rc == RequestContext{}
}

// Map returns the non-empty fields keyed by their JSON names
func (rc RequestContext) Map() map[string]interface{} {
	m := make(map[string]interface{})
	for k, v := range map[string]string{
		"request_id": rc.RequestID,
		"ip_address": rc.IPAddress,
		"user_agent": rc.UserAgent,
		"method":     rc.Method,
		"path":       rc.Path,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// SearchFilter narrows an audit log query
type SearchFilter struct {
	ActorUserID *int64
	Actions     []Action
	EntityType  EntityType
	EntityID    string
	Since       *time.Time
	Until       *time.Time
	Limit       int
	Offset      int
}

// DefaultSearchLimit is applied when a filter sets no limit
const DefaultSearchLimit = 100
