package domain

import (
	"context"
	"time"
)

// Audit actions emitted by the core
const (
	ActionLogin            = "login"
	ActionLoginFailed      = "login_failed"
	ActionLoginBlocked     = "login_blocked"
	ActionLockout          = "lockout"
	ActionLogout           = "logout"
	ActionPermissionDenied = "permission_denied"
	ActionPasswordChange   = "password_change"
	ActionRoleChange       = "role_change"
	ActionStatusChange     = "status_change"
)

// AuditEvent is a write-once record handed to the audit sink
type AuditEvent struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	ActorUserID *int64         `json:"actor_user_id,omitempty"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	IPAddress   string         `json:"ip_address"`
	UserAgent   string         `json:"user_agent"`
	Metadata    map[string]any `json:"metadata"`
}

// AuditRepository appends audit events
type AuditRepository interface {
	Append(ctx context.Context, event *AuditEvent) error
}
