package credvault

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecordSecurityEvent(t *testing.T) {
	engine, store, clock := newTestEngine(t, engineTestConfig())
	ctx := context.Background()

	if err := engine.RecordSecurityEvent(ctx, SecurityEvent{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing event type: err = %v, want ErrValidation", err)
	}
	if err := engine.RecordSecurityEvent(ctx, SecurityEvent{EventType: "custom", Severity: "LOUD"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad severity: err = %v, want ErrValidation", err)
	}

	if err := engine.RecordSecurityEvent(ctx, SecurityEvent{EventType: "custom"}); err != nil {
		t.Fatalf("RecordSecurityEvent failed: %v", err)
	}

	events, err := store.QuerySecurityEvents(ctx, EventFilter{Since: clock.Now().Add(-time.Minute)})
	if err != nil {
		t.Fatalf("QuerySecurityEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Severity != SeverityInfo {
		t.Fatalf("Severity = %q, want default INFO", events[0].Severity)
	}
	if events[0].CreatedAt.IsZero() {
		t.Fatal("CreatedAt not defaulted")
	}
}

// Persistence failures are swallowed; recording never errors back to the
// caller.
func TestRecordSecurityEventNeverFails(t *testing.T) {
	engine, store, _ := newTestEngine(t, engineTestConfig())
	store.failEvents = true

	if err := engine.RecordSecurityEvent(context.Background(), SecurityEvent{EventType: "custom"}); err != nil {
		t.Fatalf("RecordSecurityEvent surfaced a store error: %v", err)
	}
}

func TestQuerySecurityEvents(t *testing.T) {
	cfg := engineTestConfig()
	engine, store, clock := newTestEngine(t, cfg)
	admin := registerTestAdmin(t, engine, store, "admin")
	user := registerTestUser(t, engine, "alice")
	ctx := context.Background()

	if _, err := engine.QuerySecurityEvents(ctx, user, EventFilter{}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("non-admin query: err = %v, want ErrPermissionDenied", err)
	}

	for i := 0; i < 3; i++ {
		_, _ = engine.Authenticate(ctx, "alice", "not-the-password")
	}

	events, err := engine.QuerySecurityEvents(ctx, admin, EventFilter{EventType: auditEventLoginFailure})
	if err != nil {
		t.Fatalf("QuerySecurityEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	for _, event := range events {
		if event.EventType != auditEventLoginFailure {
			t.Fatalf("unexpected event type %q", event.EventType)
		}
	}

	if _, err := engine.QuerySecurityEvents(ctx, admin, EventFilter{Severity: "SHOUTING"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad severity filter: err = %v, want ErrValidation", err)
	}

	// A window older than the configured maximum is clamped, not rejected.
	events, err = engine.QuerySecurityEvents(ctx, admin, EventFilter{
		Since: clock.Now().Add(-10 * cfg.Events.MaxWindow),
	})
	if err != nil {
		t.Fatalf("clamped query failed: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("clamped query returned nothing")
	}
}

func TestSecurityEventStats(t *testing.T) {
	engine, store, _ := newTestEngine(t, engineTestConfig())
	admin := registerTestAdmin(t, engine, store, "admin")
	ctx := context.Background()

	registerTestUser(t, engine, "alice")
	_, _ = engine.Authenticate(ctx, "alice", "not-the-password")
	authenticateTestUser(t, engine, "alice")

	stats, err := engine.SecurityEventStats(ctx, admin, time.Hour)
	if err != nil {
		t.Fatalf("SecurityEventStats failed: %v", err)
	}
	if stats.Total == 0 {
		t.Fatal("stats.Total = 0")
	}
	if stats.ByType[auditEventLoginFailure] != 1 {
		t.Fatalf("failed logins = %d, want 1", stats.ByType[auditEventLoginFailure])
	}
	if stats.ByType[auditEventLoginSuccess] != 1 {
		t.Fatalf("successful logins = %d, want 1", stats.ByType[auditEventLoginSuccess])
	}
	if stats.Window != time.Hour {
		t.Fatalf("Window = %v, want 1h", stats.Window)
	}
}

func TestSecurityHealth(t *testing.T) {
	engine, store, clock := newTestEngine(t, engineTestConfig())
	ctx := context.Background()

	report, err := engine.SecurityHealth(ctx)
	if err != nil {
		t.Fatalf("SecurityHealth failed: %v", err)
	}
	if report.Status != HealthOK {
		t.Fatalf("Status = %q, want healthy", report.Status)
	}

	seedEvents := func(eventType string, severity Severity, n int) {
		t.Helper()
		for i := 0; i < n; i++ {
			if err := store.InsertSecurityEvent(ctx, SecurityEvent{
				EventType: eventType,
				Severity:  severity,
				CreatedAt: clock.Now(),
			}); err != nil {
				t.Fatalf("InsertSecurityEvent failed: %v", err)
			}
		}
	}

	seedEvents(auditEventLoginFailure, SeverityWarning, failedLoginWarningThreshold+1)
	report, err = engine.SecurityHealth(ctx)
	if err != nil {
		t.Fatalf("SecurityHealth failed: %v", err)
	}
	if report.Status != HealthWarning {
		t.Fatalf("Status = %q, want warning after %d failed logins", report.Status, failedLoginWarningThreshold+1)
	}
	if report.FailedLoginsLastHour != int64(failedLoginWarningThreshold+1) {
		t.Fatalf("FailedLoginsLastHour = %d", report.FailedLoginsLastHour)
	}

	seedEvents("vault_decryption_failure", SeverityCritical, highSeverityCriticalThreshold+1)
	report, err = engine.SecurityHealth(ctx)
	if err != nil {
		t.Fatalf("SecurityHealth failed: %v", err)
	}
	if report.Status != HealthCritical {
		t.Fatalf("Status = %q, want critical", report.Status)
	}
	if report.RecentHighSeverityEvents <= int64(highSeverityCriticalThreshold) {
		t.Fatalf("RecentHighSeverityEvents = %d", report.RecentHighSeverityEvents)
	}

	// Old events age out of the window.
	clock.Advance(2 * healthWindow)
	report, err = engine.SecurityHealth(ctx)
	if err != nil {
		t.Fatalf("SecurityHealth failed: %v", err)
	}
	if report.Status != HealthOK {
		t.Fatalf("Status = %q, want healthy after window passes", report.Status)
	}
}

func TestSecurityHealthCountsLockedUsers(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, _ := newTestEngine(t, cfg)
	registerTestUser(t, engine, "alice")
	ctx := context.Background()

	for i := 0; i < cfg.Lockout.Threshold; i++ {
		_, _ = engine.Authenticate(ctx, "alice", "not-the-password")
	}

	report, err := engine.SecurityHealth(ctx)
	if err != nil {
		t.Fatalf("SecurityHealth failed: %v", err)
	}
	if report.LockedUsers != 1 {
		t.Fatalf("LockedUsers = %d, want 1", report.LockedUsers)
	}
}
