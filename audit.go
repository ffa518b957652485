package credvault

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess      = "successful_login"
	auditEventLoginFailure      = "failed_login"
	auditEventLoginRateLimited  = "login_rate_limited"
	auditEventAccountLocked     = "account_locked"
	auditEventAccountUnlocked   = "account_unlocked"
	auditEventUserRegistered    = "user_registered"
	auditEventUserDeleted       = "user_deleted"
	auditEventPasswordChanged   = "password_changed"
	auditEventPasswordRejected  = "password_change_rejected"
	auditEventRefreshIssued     = "token_issued"
	auditEventRefreshRedeemed   = "token_refresh"
	auditEventRefreshRejected   = "token_rejected"
	auditEventRefreshRevoked    = "token_revoked"
	auditEventVaultStored       = "oauth2_token_created"
	auditEventVaultUpdated      = "oauth2_token_updated"
	auditEventVaultAccessed     = "oauth2_token_accessed"
	auditEventVaultRevoked      = "oauth2_token_revoked"
	auditEventPermissionDenied  = "permission_denied"
	auditEventSweepRefreshRun   = "refresh_sweep"
	auditEventSweepVaultRun     = "vault_sweep"
	auditEventDecryptionFailure = "vault_decryption_failure"
)

// AuditErrorCode defines a public type used by credvault APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrValidation       AuditErrorCode = "validation"
	auditErrInvalidCreds     AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked    AuditErrorCode = "account_locked"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrInvalidToken     AuditErrorCode = "invalid_token"
	auditErrNotFound         AuditErrorCode = "not_found"
	auditErrConflict         AuditErrorCode = "duplicate"
	auditErrPasswordPolicy   AuditErrorCode = "password_policy"
	auditErrPermissionDenied AuditErrorCode = "permission_denied"
	auditErrUnavailable      AuditErrorCode = "backend_unavailable"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID int64,
	username string,
	severity Severity,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Username:  username,
		Severity:  string(severity),
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCreds
	case errors.Is(err, ErrLoginRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

// recordEvent persists a security event and mirrors it to the audit sink.
// Persistence failures are swallowed after logging: event recording must
// never turn a successful domain operation into a failure.
func (e *Engine) recordEvent(ctx context.Context, event SecurityEvent) {
	if e == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if event.IPAddress == "" {
		event.IPAddress = clientIPFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = userAgentFromContext(ctx)
	}

	if err := e.store.InsertSecurityEvent(ctx, event); err != nil {
		e.metricInc(MetricEventRecordFailure)
		e.logger.WarnContext(ctx, "security event persistence failed",
			"event_type", event.EventType,
			"error", err,
		)
		return
	}
	e.metricInc(MetricEventRecorded)
}
