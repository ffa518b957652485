package credvault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// VaultStore seals and persists a third-party token set for (user, service).
//
// Storing for a pair that already has an active row replaces that row's
// material in place, preserving the one-active-row invariant; the store's
// partial unique index backstops concurrent writers.
func (e *Engine) VaultStore(ctx context.Context, userID int64, req VaultStoreRequest) (*VaultToken, error) {
	if e == nil || e.sealer == nil {
		return nil, ErrEngineNotReady
	}
	service := strings.TrimSpace(req.Service)
	if service == "" {
		return nil, fmt.Errorf("%w: service name required", ErrValidation)
	}
	if req.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token required", ErrValidation)
	}

	accessSealed, err := e.sealer.Seal(req.AccessToken)
	if err != nil {
		return nil, err
	}
	var refreshSealed string
	if req.RefreshToken != "" {
		refreshSealed, err = e.sealer.Seal(req.RefreshToken)
		if err != nil {
			return nil, err
		}
	}
	req.AccessToken = ""
	req.RefreshToken = ""

	now := e.now().UTC()
	var expiresAt *time.Time
	if req.ExpiresIn > 0 {
		expiresAt = timePtr(now.Add(time.Duration(req.ExpiresIn) * time.Second))
	}

	existing, err := e.store.ActiveVaultToken(ctx, userID, service, "")
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		existing.AccessTokenSealed = accessSealed
		existing.RefreshTokenSealed = refreshSealed
		existing.TokenType = req.TokenType
		existing.Scope = req.Scope
		existing.ClientID = req.ClientID
		existing.ExpiresAt = expiresAt
		existing.UpdatedAt = now
		if err := e.store.UpdateVaultToken(ctx, existing); err != nil {
			return nil, err
		}

		e.metricInc(MetricVaultStored)
		e.emitAudit(ctx, auditEventVaultUpdated, true, userID, "", SeverityInfo, nil, func() map[string]string {
			return map[string]string{"service": service}
		})
		e.recordEvent(ctx, SecurityEvent{
			UserID:    &userID,
			EventType: auditEventVaultUpdated,
			EventData: fmt.Sprintf(`{"service":%q}`, service),
			Severity:  SeverityInfo,
		})
		return existing, nil
	}

	created, err := e.store.InsertVaultToken(ctx, VaultToken{
		UserID:             userID,
		ServiceName:        service,
		AccessTokenSealed:  accessSealed,
		RefreshTokenSealed: refreshSealed,
		TokenType:          req.TokenType,
		Scope:              req.Scope,
		ClientID:           req.ClientID,
		ExpiresAt:          expiresAt,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricVaultStored)
	e.emitAudit(ctx, auditEventVaultStored, true, userID, "", SeverityInfo, nil, func() map[string]string {
		return map[string]string{"service": service}
	})
	e.recordEvent(ctx, SecurityEvent{
		UserID:    &userID,
		EventType: auditEventVaultStored,
		EventData: fmt.Sprintf(`{"service":%q}`, service),
		Severity:  SeverityInfo,
	})

	return created, nil
}

// VaultFetch returns the active sealed token row for (user, service), still
// encrypted. Expiry is enforced lazily: a row found past its expiry is
// deactivated on the spot and reported as [ErrNotFound].
//
// scopeContains optionally narrows the match to rows whose scope string
// contains the given fragment; when strict scope filtering is enabled a
// non-matching row is a miss rather than being returned anyway.
func (e *Engine) VaultFetch(ctx context.Context, userID int64, service, scopeContains string) (*VaultToken, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	filter := ""
	if e.config.Vault.StrictScopeFilter {
		filter = scopeContains
	}

	token, err := e.store.ActiveVaultToken(ctx, userID, service, filter)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.metricInc(MetricVaultFetchMiss)
		}
		return nil, err
	}

	now := e.now().UTC()
	if token.Expired(now) {
		if _, err := e.store.DeactivateVaultToken(ctx, userID, service, now); err != nil {
			e.logger.WarnContext(ctx, "lazy vault expiry deactivation failed",
				"user_id", userID, "service", service, "error", err)
		}
		e.metricInc(MetricVaultFetchMiss)
		return nil, fmt.Errorf("%w: token expired", ErrNotFound)
	}

	if !e.config.Vault.StrictScopeFilter && scopeContains != "" && !strings.Contains(token.Scope, scopeContains) {
		e.logger.WarnContext(ctx, "vault token scope mismatch",
			"user_id", userID, "service", service, "wanted", scopeContains)
	}

	token.LastUsedAt = timePtr(now)
	if err := e.store.UpdateVaultToken(ctx, token); err != nil {
		e.logger.WarnContext(ctx, "vault token usage update failed", "token_id", token.ID)
	}

	e.metricInc(MetricVaultFetchHit)
	e.recordEvent(ctx, SecurityEvent{
		UserID:    &userID,
		EventType: auditEventVaultAccessed,
		EventData: fmt.Sprintf(`{"service":%q}`, service),
		Severity:  SeverityDebug,
	})

	return token, nil
}

// VaultFetchDecrypted fetches the active row and opens its sealed material.
//
// A row that fails authentication on decrypt (key rotation, storage
// corruption, tampering) is reported as [ErrNotFound]: callers never learn
// whether the miss was absence or an unreadable secret, and the failure is
// recorded at CRITICAL severity for operators.
func (e *Engine) VaultFetchDecrypted(ctx context.Context, userID int64, service, scopeContains string) (accessToken, refreshToken string, err error) {
	token, err := e.VaultFetch(ctx, userID, service, scopeContains)
	if err != nil {
		return "", "", err
	}

	accessToken, err = e.sealer.Open(token.AccessTokenSealed)
	if err != nil {
		return "", "", e.failVaultDecrypt(ctx, userID, service, err)
	}
	if token.RefreshTokenSealed != "" {
		refreshToken, err = e.sealer.Open(token.RefreshTokenSealed)
		if err != nil {
			return "", "", e.failVaultDecrypt(ctx, userID, service, err)
		}
	}

	return accessToken, refreshToken, nil
}

func (e *Engine) failVaultDecrypt(ctx context.Context, userID int64, service string, cause error) error {
	e.metricInc(MetricVaultDecryptFailure)
	e.emitAudit(ctx, auditEventDecryptionFailure, false, userID, "", SeverityCritical, ErrNotFound, func() map[string]string {
		return map[string]string{"service": service}
	})
	e.recordEvent(ctx, SecurityEvent{
		UserID:    &userID,
		EventType: auditEventDecryptionFailure,
		EventData: fmt.Sprintf(`{"service":%q}`, service),
		Severity:  SeverityCritical,
	})
	e.logger.ErrorContext(ctx, "vault token decryption failed",
		"user_id", userID, "service", service, "error", cause)
	return fmt.Errorf("%w: no usable token", ErrNotFound)
}

// VaultRevoke deactivates the active token row for (user, service). Revoking
// when no active row exists returns [ErrNotFound].
func (e *Engine) VaultRevoke(ctx context.Context, userID int64, service string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	deactivated, err := e.store.DeactivateVaultToken(ctx, userID, service, e.now().UTC())
	if err != nil {
		return err
	}
	if !deactivated {
		return fmt.Errorf("%w: no active token for service", ErrNotFound)
	}

	e.metricInc(MetricVaultRevoked)
	e.emitAudit(ctx, auditEventVaultRevoked, true, userID, "", SeverityInfo, nil, func() map[string]string {
		return map[string]string{"service": service}
	})
	e.recordEvent(ctx, SecurityEvent{
		UserID:    &userID,
		EventType: auditEventVaultRevoked,
		EventData: fmt.Sprintf(`{"service":%q}`, service),
		Severity:  SeverityInfo,
	})

	return nil
}

// VaultList returns the user's vault rows, sealed. Secrets stay encrypted;
// the listing is metadata only as far as the caller is concerned.
func (e *Engine) VaultList(ctx context.Context, userID int64, activeOnly bool) ([]VaultToken, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	return e.store.ListVaultTokens(ctx, userID, activeOnly)
}

// SweepExpiredVaultTokens deactivates every active row whose expiry has
// passed, complementing the lazy per-fetch expiry.
func (e *Engine) SweepExpiredVaultTokens(ctx context.Context) (int64, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}

	deactivated, err := e.store.DeactivateExpiredVaultTokens(ctx, e.now().UTC())
	if err != nil {
		return 0, err
	}
	if deactivated > 0 {
		e.recordEvent(ctx, SecurityEvent{
			EventType: auditEventSweepVaultRun,
			EventData: fmt.Sprintf(`{"deactivated":%d}`, deactivated),
			Severity:  SeverityInfo,
		})
	}
	return deactivated, nil
}
