package credvault

import (
	"context"
	"fmt"
	"time"
)

// Health thresholds over the trailing window, matching operational runbooks:
// sustained high-severity or failed-login volume degrades the reported status
// before an operator would notice organically.
const (
	healthWindow = time.Hour

	highSeverityWarningThreshold  = 10
	highSeverityCriticalThreshold = 50
	failedLoginWarningThreshold   = 50
	failedLoginCriticalThreshold  = 100
)

// RecordSecurityEvent persists a caller-supplied security event.
//
// Recording never fails the caller: persistence errors are logged and counted
// but the method returns only on invalid input. The engine fills timestamp,
// IP, and user agent from the context when absent.
func (e *Engine) RecordSecurityEvent(ctx context.Context, event SecurityEvent) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if event.EventType == "" {
		return fmt.Errorf("%w: event type required", ErrValidation)
	}
	if event.Severity != "" && !event.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrValidation, event.Severity)
	}

	e.recordEvent(ctx, event)
	return nil
}

// QuerySecurityEvents returns events matching the filter, newest first.
// Requires [CapabilityViewSecurityEvents] on the actor. The query window and
// page size are clamped to the configured maxima.
func (e *Engine) QuerySecurityEvents(ctx context.Context, actor *User, filter EventFilter) ([]SecurityEvent, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.Authorize(ctx, actor, CapabilityViewSecurityEvents); err != nil {
		return nil, err
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrValidation, filter.Severity)
	}

	now := e.now().UTC()
	oldest := now.Add(-e.config.Events.MaxWindow)
	if filter.Since.IsZero() || filter.Since.Before(oldest) {
		filter.Since = oldest
	}
	if filter.Limit <= 0 || filter.Limit > e.config.Events.QueryMaxLimit {
		filter.Limit = e.config.Events.QueryMaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	return e.store.QuerySecurityEvents(ctx, filter)
}

// SecurityEventStats aggregates events over the trailing window. Requires
// [CapabilityViewSecurityEvents] on the actor.
func (e *Engine) SecurityEventStats(ctx context.Context, actor *User, window time.Duration) (*EventStats, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.Authorize(ctx, actor, CapabilityViewSecurityEvents); err != nil {
		return nil, err
	}
	if window <= 0 || window > e.config.Events.MaxWindow {
		window = e.config.Events.MaxWindow
	}

	stats, err := e.store.SecurityEventStats(ctx, e.now().UTC().Add(-window))
	if err != nil {
		return nil, err
	}
	stats.Window = window
	return stats, nil
}

// SecurityHealth derives a coarse health signal from the last hour of events
// plus the count of currently locked accounts. It requires no capability: the
// report contains aggregates only and is meant for liveness endpoints.
func (e *Engine) SecurityHealth(ctx context.Context) (*HealthReport, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	now := e.now().UTC()
	since := now.Add(-healthWindow)

	highSeverity, err := e.store.CountSecurityEvents(ctx, since, "", []Severity{SeverityError, SeverityCritical})
	if err != nil {
		return nil, err
	}
	failedLogins, err := e.store.CountSecurityEvents(ctx, since, auditEventLoginFailure, nil)
	if err != nil {
		return nil, err
	}
	lockedUsers, err := e.store.CountLockedUsers(ctx, now)
	if err != nil {
		return nil, err
	}

	status := HealthOK
	switch {
	case highSeverity > highSeverityCriticalThreshold || failedLogins > failedLoginCriticalThreshold:
		status = HealthCritical
	case highSeverity > highSeverityWarningThreshold || failedLogins > failedLoginWarningThreshold:
		status = HealthWarning
	}

	return &HealthReport{
		Status:                   status,
		RecentHighSeverityEvents: highSeverity,
		FailedLoginsLastHour:     failedLogins,
		LockedUsers:              lockedUsers,
		Timestamp:                now,
	}, nil
}
