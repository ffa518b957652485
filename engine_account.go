package credvault

import (
	"context"
	"errors"
	"fmt"
)

// Register creates a new account after validating the username, email, and
// password policy. Username and email collisions surface as [ErrUsernameTaken]
// and [ErrEmailTaken].
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}

	if err := validateUsername(req.Username); err != nil {
		return nil, err
	}
	if err := validateEmail(req.Email); err != nil {
		return nil, err
	}
	if err := validatePasswordPolicy(req.Password, e.config.Password.MinLength); err != nil {
		e.metricInc(MetricPasswordChangeRejected)
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	req.Password = ""

	now := e.now().UTC()
	user, err := e.store.CreateUser(ctx, User{
		Username:          req.Username,
		Email:             req.Email,
		PasswordHash:      hash,
		IsActive:          true,
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			e.metricInc(MetricRegisterConflict)
			e.emitAudit(ctx, auditEventUserRegistered, false, 0, req.Username, SeverityWarning, err, nil)
		}
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventUserRegistered, true, user.ID, user.Username, SeverityInfo, nil, nil)
	e.recordEvent(ctx, SecurityEvent{
		UserID:    &user.ID,
		EventType: auditEventUserRegistered,
		EventData: fmt.Sprintf(`{"username":%q}`, user.Username),
		Severity:  SeverityInfo,
	})

	return user, nil
}

// ChangePassword replaces a user's credential after verifying the current
// one. The new password must pass policy and differ from the current one; on
// success the failed-login counter and any lockout are cleared.
func (e *Engine) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	if e == nil || e.hasher == nil {
		return ErrEngineNotReady
	}

	user, err := e.store.UserByID(ctx, userID)
	if err != nil {
		return err
	}

	oldOK, err := e.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !oldOK {
		e.metricInc(MetricPasswordChangeRejected)
		e.emitAudit(ctx, auditEventPasswordRejected, false, userID, user.Username, SeverityWarning, ErrInvalidCredentials, nil)
		e.recordEvent(ctx, SecurityEvent{
			UserID:    &userID,
			EventType: auditEventPasswordRejected,
			EventData: `{"reason":"invalid_old_password"}`,
			Severity:  SeverityWarning,
		})
		return ErrInvalidCredentials
	}

	if err := validatePasswordPolicy(newPassword, e.config.Password.MinLength); err != nil {
		e.metricInc(MetricPasswordChangeRejected)
		return err
	}
	if same, err := e.hasher.Verify(newPassword, user.PasswordHash); err == nil && same {
		e.metricInc(MetricPasswordChangeRejected)
		return fmt.Errorf("%w: new password must differ from the current one", ErrPasswordPolicy)
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	oldPassword = ""
	newPassword = ""

	now := e.now().UTC()
	user.PasswordHash = newHash
	user.PasswordChangedAt = now
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	if err := e.store.UpdateUser(ctx, user); err != nil {
		return err
	}

	if e.rateLimiter != nil {
		// Limiter reset is best-effort and must not block a completed change.
		if err := e.rateLimiter.ResetLogin(ctx, user.Username, clientIPFromContext(ctx)); err != nil {
			e.logger.WarnContext(ctx, "login limiter reset failed after password change", "user_id", user.ID)
		}
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChanged, true, user.ID, user.Username, SeverityInfo, nil, nil)
	e.recordEvent(ctx, SecurityEvent{
		UserID:    &user.ID,
		EventType: auditEventPasswordChanged,
		Severity:  SeverityInfo,
	})

	return nil
}

// LockAccount locks a user for the configured lockout duration. Requires
// [CapabilityManageUsers] on the actor.
func (e *Engine) LockAccount(ctx context.Context, actor *User, userID int64) error {
	if err := e.Authorize(ctx, actor, CapabilityManageUsers); err != nil {
		return err
	}

	user, err := e.store.UserByID(ctx, userID)
	if err != nil {
		return err
	}

	until := e.now().UTC().Add(e.config.Lockout.Duration)
	user.LockedUntil = &until
	user.FailedLoginAttempts = 0
	if err := e.store.UpdateUser(ctx, user); err != nil {
		return err
	}

	e.metricInc(MetricAccountLockedOut)
	e.emitAudit(ctx, auditEventAccountLocked, true, user.ID, user.Username, SeverityWarning, nil, func() map[string]string {
		return map[string]string{"locked_by": fmt.Sprintf("%d", actor.ID), "locked_until": until.Format(timeLayout)}
	})
	e.recordEvent(ctx, SecurityEvent{
		UserID:    &user.ID,
		EventType: auditEventAccountLocked,
		EventData: fmt.Sprintf(`{"locked_by":%d,"locked_until":%q}`, actor.ID, until.Format(timeLayout)),
		Severity:  SeverityWarning,
	})

	return nil
}

// UnlockAccount clears a lockout and the failed-attempt counter. Requires
// [CapabilityManageUsers] on the actor.
func (e *Engine) UnlockAccount(ctx context.Context, actor *User, userID int64) error {
	if err := e.Authorize(ctx, actor, CapabilityManageUsers); err != nil {
		return err
	}

	user, err := e.store.UserByID(ctx, userID)
	if err != nil {
		return err
	}

	user.LockedUntil = nil
	user.FailedLoginAttempts = 0
	if err := e.store.UpdateUser(ctx, user); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventAccountUnlocked, true, user.ID, user.Username, SeverityInfo, nil, nil)
	e.recordEvent(ctx, SecurityEvent{
		UserID:    &user.ID,
		EventType: auditEventAccountUnlocked,
		EventData: fmt.Sprintf(`{"unlocked_by":%d}`, actor.ID),
		Severity:  SeverityInfo,
	})

	return nil
}

// GetUser loads one user by ID.
func (e *Engine) GetUser(ctx context.Context, id int64) (*User, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	return e.store.UserByID(ctx, id)
}

// GetUserByUsername loads one user by username.
func (e *Engine) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	return e.store.UserByUsername(ctx, username)
}

// ListUsers pages through accounts. Requires [CapabilityManageUsers] on the
// actor.
func (e *Engine) ListUsers(ctx context.Context, actor *User, offset, limit int) ([]User, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.Authorize(ctx, actor, CapabilityManageUsers); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return e.store.ListUsers(ctx, offset, limit)
}

// DeleteUser removes an account. Requires [CapabilityManageUsers] on the
// actor; actors cannot delete themselves.
func (e *Engine) DeleteUser(ctx context.Context, actor *User, userID int64) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if err := e.Authorize(ctx, actor, CapabilityManageUsers); err != nil {
		return err
	}
	if actor != nil && actor.ID == userID {
		return fmt.Errorf("%w: cannot delete own account", ErrValidation)
	}

	user, err := e.store.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.store.DeleteUser(ctx, userID); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventUserDeleted, true, userID, user.Username, SeverityWarning, nil, nil)
	e.recordEvent(ctx, SecurityEvent{
		UserID:    &actor.ID,
		EventType: auditEventUserDeleted,
		EventData: fmt.Sprintf(`{"deleted_user_id":%d,"deleted_username":%q}`, userID, user.Username),
		Severity:  SeverityWarning,
	})

	return nil
}

// Authorize decides whether the actor may perform operations in the given
// capability class. Every denial is recorded as a security event.
func (e *Engine) Authorize(ctx context.Context, actor *User, capability Capability) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if actor == nil {
		return ErrPermissionDenied
	}

	allowed := false
	switch capability {
	case CapabilitySelfService:
		allowed = actor.IsActive
	case CapabilityManageUsers, CapabilityViewSecurityEvents, CapabilityMaintenance:
		allowed = actor.IsActive && actor.IsSuperuser
	}
	if allowed && actor.Locked(e.now().UTC()) {
		allowed = false
	}

	if !allowed {
		e.emitAudit(ctx, auditEventPermissionDenied, false, actor.ID, actor.Username, SeverityWarning, ErrPermissionDenied, func() map[string]string {
			return map[string]string{"capability": fmt.Sprintf("%d", capability)}
		})
		e.recordEvent(ctx, SecurityEvent{
			UserID:    &actor.ID,
			EventType: auditEventPermissionDenied,
			EventData: fmt.Sprintf(`{"capability":%d}`, capability),
			Severity:  SeverityWarning,
		})
		return ErrPermissionDenied
	}

	return nil
}
