package credvault

import (
	"context"
	"fmt"
)

// Authenticate verifies a username/password pair and issues a token pair.
//
// The lock check runs before any credential comparison so a locked account
// never burns hashing work and never leaks whether the supplied password was
// correct. Failed attempts increment the persistent per-account counter;
// reaching the configured threshold locks the account for the lockout
// duration and resets the counter.
//
// Unknown usernames, wrong passwords, and disabled accounts all return
// [ErrInvalidCredentials] so responses do not reveal which accounts exist.
func (e *Engine) Authenticate(ctx context.Context, username, pw string) (*TokenPair, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	ip := clientIPFromContext(ctx)

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckLogin(ctx, username, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, 0, username, SeverityWarning, ErrLoginRateLimited, nil)
			e.recordEvent(ctx, SecurityEvent{
				EventType: auditEventLoginRateLimited,
				EventData: fmt.Sprintf(`{"username":%q}`, username),
				Severity:  SeverityWarning,
			})
			return nil, ErrLoginRateLimited
		}
	}

	if username == "" || pw == "" {
		return nil, e.failLogin(ctx, nil, username, "empty_input")
	}

	user, err := e.store.UserByUsername(ctx, username)
	if err != nil {
		// Burn a verification anyway so the miss path costs as much as a
		// mismatch and response timing does not enumerate accounts.
		_, _ = e.hasher.Verify(pw, e.dummyHash)
		return nil, e.failLogin(ctx, nil, username, "user_not_found")
	}

	now := e.now().UTC()
	if user.Locked(now) {
		e.metricInc(MetricLoginFailure)
		lockErr := &AccountLockedError{Until: *user.LockedUntil}
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, username, SeverityWarning, lockErr, nil)
		e.recordEvent(ctx, SecurityEvent{
			UserID:    &user.ID,
			EventType: auditEventLoginFailure,
			EventData: fmt.Sprintf(`{"reason":"account_locked","locked_until":%q}`, user.LockedUntil.Format(timeLayout)),
			Severity:  SeverityWarning,
		})
		return nil, lockErr
	}

	ok, verr := e.hasher.Verify(pw, user.PasswordHash)
	if verr != nil || !ok {
		return nil, e.failLogin(ctx, user, username, "password_mismatch")
	}

	if !user.IsActive {
		return nil, e.failLogin(ctx, user, username, "account_disabled")
	}

	// Transparent work-factor upgrade on successful verification.
	if needs, err := e.hasher.NeedsRehash(user.PasswordHash); err == nil && needs {
		if upgraded, err := e.hasher.Hash(pw); err == nil {
			user.PasswordHash = upgraded
		} else {
			e.logger.WarnContext(ctx, "password rehash on login failed", "user_id", user.ID)
		}
	}
	pw = ""

	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLogin = timePtr(now)
	if err := e.store.UpdateUser(ctx, user); err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, err
	}

	if e.rateLimiter != nil {
		// Limiter reset is best-effort and must not block successful login.
		if err := e.rateLimiter.ResetLogin(ctx, username, ip); err != nil {
			e.logger.WarnContext(ctx, "login limiter reset failed", "user_id", user.ID)
		}
	}

	pair, err := e.issueTokens(ctx, user)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, username, SeverityInfo, nil, nil)
	e.recordEvent(ctx, SecurityEvent{
		UserID:    &user.ID,
		EventType: auditEventLoginSuccess,
		Severity:  SeverityInfo,
	})

	return pair, nil
}

// failLogin handles the bookkeeping shared by every failed authentication
// path: throttle increment, persistent failure counter, lockout transition,
// event recording. It always returns [ErrInvalidCredentials].
func (e *Engine) failLogin(ctx context.Context, user *User, username, reason string) error {
	ip := clientIPFromContext(ctx)
	if e.rateLimiter != nil {
		if err := e.rateLimiter.IncrementLogin(ctx, username, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, 0, username, SeverityWarning, ErrLoginRateLimited, nil)
			return ErrLoginRateLimited
		}
	}

	e.metricInc(MetricLoginFailure)

	var userID *int64
	if user != nil {
		userID = &user.ID

		user.FailedLoginAttempts++
		if user.FailedLoginAttempts >= e.config.Lockout.Threshold {
			until := e.now().UTC().Add(e.config.Lockout.Duration)
			user.LockedUntil = &until
			user.FailedLoginAttempts = 0

			e.metricInc(MetricAccountLockedOut)
			e.emitAudit(ctx, auditEventAccountLocked, false, user.ID, username, SeverityWarning, ErrAccountLocked, func() map[string]string {
				return map[string]string{"locked_until": until.Format(timeLayout)}
			})
			e.recordEvent(ctx, SecurityEvent{
				UserID:    userID,
				EventType: auditEventAccountLocked,
				EventData: fmt.Sprintf(`{"locked_until":%q}`, until.Format(timeLayout)),
				Severity:  SeverityWarning,
			})
		}
		if err := e.store.UpdateUser(ctx, user); err != nil {
			e.logger.WarnContext(ctx, "failed-login counter update failed", "user_id", user.ID, "error", err)
		}
	}

	e.emitAudit(ctx, auditEventLoginFailure, false, derefID(userID), username, SeverityWarning, ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	e.recordEvent(ctx, SecurityEvent{
		UserID:    userID,
		EventType: auditEventLoginFailure,
		EventData: fmt.Sprintf(`{"reason":%q,"username":%q}`, reason, username),
		Severity:  SeverityWarning,
	})

	return ErrInvalidCredentials
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

const timeLayout = "2006-01-02T15:04:05Z07:00"
