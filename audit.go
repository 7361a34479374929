package authcore

import (
	"context"
	"io"

	"github.com/MrEthical07/authcore/internal/audit"
)

// AuditEvent is one entry of the security audit trail.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
// Implementations must be safe for concurrent use when shared across engines.
type AuditSink = audit.Sink

// NoOpSink discards every event.
type NoOpSink = audit.NoOpSink

// ChannelSink forwards events into a buffered channel, mostly for tests.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes newline-delimited JSON.
type JSONWriterSink = audit.JSONWriterSink

// NewChannelSink returns a sink buffering up to buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// Audit event types.
const (
	auditLoginSuccess        = "login_success"
	auditLoginFailure        = "login_failure"
	auditLoginRateLimited    = "login_rate_limited"
	auditRefreshSuccess      = "refresh_success"
	auditRefreshFailure      = "refresh_failure"
	auditRefreshReuse        = "refresh_reuse_detected"
	auditLogout              = "logout"
	auditLogoutAll           = "logout_all"
	auditRegister            = "register"
	auditOTPRequested        = "otp_requested"
	auditOTPVerified         = "otp_verified"
	auditOTPFailed           = "otp_failed"
	auditOTPLockedOut        = "otp_locked_out"
	auditEmailVerified       = "email_verified"
	auditPasswordReset       = "password_reset"
	auditPasswordChanged     = "password_changed"
	auditOAuthLogin          = "oauth_login"
	auditRoleCreated         = "role_created"
	auditRoleUpdated         = "role_updated"
	auditRoleDeleted         = "role_deleted"
	auditRolePermissions     = "role_permissions_set"
	auditPermissionCreated   = "permission_created"
	auditPermissionUpdated   = "permission_updated"
	auditPermissionDeleted   = "permission_deleted"
	auditRoleAssigned        = "role_assigned"
	auditOverrideSet         = "permission_override_set"
	auditSuperAdminBootstrap = "super_admin_bootstrapped"
	auditAccountDeactivated  = "account_deactivated"
	auditAccountReactivated  = "account_reactivated"
	auditAdminCreated        = "admin_created"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID string, err error, metadata func() map[string]string) {
	e.emitAuditEvent(ctx, AuditEvent{
		EventType: eventType,
		UserID:    userID,
		Success:   success,
	}, err, metadata)
}

func (e *Engine) emitAdminAudit(ctx context.Context, eventType, actorID, target string, err error) {
	e.emitAuditEvent(ctx, AuditEvent{
		EventType: eventType,
		ActorID:   actorID,
		Target:    target,
		Success:   err == nil,
	}, err, nil)
}

func (e *Engine) emitAuditEvent(ctx context.Context, event AuditEvent, err error, metadata func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	event.Timestamp = e.now().UTC()
	event.IP = clientIPFromContext(ctx)
	event.UserAgent = userAgentFromContext(ctx)
	if err != nil {
		event.Error = ErrorCode(err)
	}
	if metadata != nil {
		event.Metadata = metadata()
	}
	e.audit.Emit(ctx, event)
}
