package credvault

import (
	"context"
	"errors"
	"fmt"
)

// issueTokens mints an access/refresh pair for the user and persists the
// refresh token's SHA-256 hash. Shared by login and redemption.
func (e *Engine) issueTokens(ctx context.Context, user *User) (*TokenPair, error) {
	now := e.now().UTC()

	access, err := e.tokens.CreateAccess(user.Username, user.ID, now)
	if err != nil {
		return nil, err
	}

	refresh, _, expiresAt, err := e.tokens.CreateRefresh(user.ID, now)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.InsertRefreshToken(ctx, RefreshTokenRecord{
		UserID:    user.ID,
		TokenHash: hashToken(refresh),
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UserAgent: userAgentFromContext(ctx),
		IPAddress: clientIPFromContext(ctx),
	}); err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshIssued)

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(e.tokens.AccessTTL().Seconds()),
	}, nil
}

// RedeemRefreshToken exchanges a refresh token for a fresh token pair.
//
// Redemption is single-use: the presented token is revoked before the new
// pair is issued, so a replayed token fails with [ErrTokenInvalid]. Beyond
// signature and expiry checks, the token must still exist unrevoked in the
// persistent store — tokens revoked out-of-band stay dead even while their
// signatures verify.
func (e *Engine) RedeemRefreshToken(ctx context.Context, raw string) (*TokenPair, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.VerifyRefresh(raw)
	if err != nil {
		return nil, e.rejectRefresh(ctx, nil, "jwt_invalid")
	}

	record, err := e.store.RefreshTokenByHash(ctx, hashToken(raw))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, e.rejectRefresh(ctx, &claims.UserID, "not_on_record")
		}
		return nil, err
	}

	now := e.now().UTC()
	if !record.Usable(now) {
		return nil, e.rejectRefresh(ctx, &record.UserID, "revoked_or_expired")
	}
	if record.UserID != claims.UserID {
		return nil, e.rejectRefresh(ctx, &record.UserID, "subject_mismatch")
	}

	user, err := e.store.UserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, e.rejectRefresh(ctx, &record.UserID, "user_gone")
		}
		return nil, err
	}
	if !user.IsActive || user.Locked(now) {
		return nil, e.rejectRefresh(ctx, &user.ID, "account_unusable")
	}

	// Rotate before issuing: if revocation fails the old token stays valid
	// and no second token enters circulation.
	revoked, err := e.store.RevokeRefreshToken(ctx, record.TokenHash)
	if err != nil {
		return nil, err
	}
	if !revoked {
		// Lost the race to a concurrent redemption of the same token.
		return nil, e.rejectRefresh(ctx, &user.ID, "concurrent_redemption")
	}
	if err := e.store.TouchRefreshToken(ctx, record.ID, now); err != nil {
		e.logger.WarnContext(ctx, "refresh token touch failed", "token_id", record.ID)
	}

	pair, err := e.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshRedeemed)
	e.emitAudit(ctx, auditEventRefreshRedeemed, true, user.ID, user.Username, SeverityInfo, nil, nil)
	e.recordEvent(ctx, SecurityEvent{
		UserID:    &user.ID,
		EventType: auditEventRefreshRedeemed,
		Severity:  SeverityInfo,
	})

	return pair, nil
}

func (e *Engine) rejectRefresh(ctx context.Context, userID *int64, reason string) error {
	e.metricInc(MetricRefreshRejected)
	e.emitAudit(ctx, auditEventRefreshRejected, false, derefID(userID), "", SeverityWarning, ErrTokenInvalid, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	e.recordEvent(ctx, SecurityEvent{
		UserID:    userID,
		EventType: auditEventRefreshRejected,
		EventData: fmt.Sprintf(`{"reason":%q}`, reason),
		Severity:  SeverityWarning,
	})
	return ErrTokenInvalid
}

// RevokeRefreshToken invalidates a single refresh token ahead of its expiry.
// Revoking an unknown or already-revoked token returns [ErrNotFound].
func (e *Engine) RevokeRefreshToken(ctx context.Context, raw string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	hash := hashToken(raw)
	record, err := e.store.RefreshTokenByHash(ctx, hash)
	if err != nil {
		return err
	}

	revoked, err := e.store.RevokeRefreshToken(ctx, hash)
	if err != nil {
		return err
	}
	if !revoked {
		return fmt.Errorf("%w: token already revoked", ErrNotFound)
	}

	e.metricInc(MetricRefreshRevoked)
	e.emitAudit(ctx, auditEventRefreshRevoked, true, record.UserID, "", SeverityInfo, nil, nil)
	e.recordEvent(ctx, SecurityEvent{
		UserID:    &record.UserID,
		EventType: auditEventRefreshRevoked,
		Severity:  SeverityInfo,
	})

	return nil
}

// VerifyAccessToken validates an access token and returns its claims' user.
// It is a pure token check: no store round-trip, suitable for per-request
// middleware.
func (e *Engine) VerifyAccessToken(ctx context.Context, raw string) (username string, userID int64, err error) {
	if e == nil || e.tokens == nil {
		return "", 0, ErrEngineNotReady
	}
	claims, err := e.tokens.VerifyAccess(raw)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims.Subject, claims.UserID, nil
}

// SweepExpiredRefreshTokens deletes refresh token rows whose expiry has
// passed. Intended to run periodically from the host application.
func (e *Engine) SweepExpiredRefreshTokens(ctx context.Context) (int64, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}

	removed, err := e.store.DeleteExpiredRefreshTokens(ctx, e.now().UTC())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		e.recordEvent(ctx, SecurityEvent{
			EventType: auditEventSweepRefreshRun,
			EventData: fmt.Sprintf(`{"removed":%d}`, removed),
			Severity:  SeverityInfo,
		})
	}
	return removed, nil
}

// ListActiveRefreshTokens returns the unrevoked, unexpired refresh token
// records. Requires [CapabilityViewSecurityEvents] on the actor.
func (e *Engine) ListActiveRefreshTokens(ctx context.Context, actor *User) ([]RefreshTokenRecord, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.Authorize(ctx, actor, CapabilityViewSecurityEvents); err != nil {
		return nil, err
	}
	return e.store.ListActiveRefreshTokens(ctx, e.now().UTC())
}
