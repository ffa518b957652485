package credvault

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	internalaudit "github.com/credvault/credvault/internal/audit"
	"github.com/credvault/credvault/internal/rate"
	"github.com/credvault/credvault/internal/secret"
	"github.com/credvault/credvault/jwt"
	"github.com/credvault/credvault/password"
)

// Engine defines a public type used by credvault APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config      Config
	store       Store
	hasher      *password.Hasher
	tokens      *jwt.Manager
	sealer      *secret.AESGCMSealer
	rateLimiter *rate.Limiter
	audit       *internalaudit.Dispatcher
	metrics     *Metrics
	logger      *slog.Logger

	// dummyHash is a throwaway credential hash verified against on the
	// unknown-user login path so timing does not enumerate accounts.
	dummyHash string

	// now is the engine clock; tests substitute it to drive lockout and
	// expiry transitions deterministically.
	now func() time.Time
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// hashToken returns the hex-encoded SHA-256 digest under which refresh tokens
// are persisted. The raw token never reaches the store.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func timePtr(t time.Time) *time.Time {
	return &t
}
