package credvault

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/credvault/credvault/internal/audit"
	internalmetrics "github.com/credvault/credvault/internal/metrics"
)

// Severity classifies a security event, mirroring the syslog-style levels
// accepted by the event log.
type Severity string

const (
	// SeverityDebug is an exported constant or variable used by the credential engine.
	SeverityDebug Severity = "DEBUG"
	// SeverityInfo is an exported constant or variable used by the credential engine.
	SeverityInfo Severity = "INFO"
	// SeverityWarning is an exported constant or variable used by the credential engine.
	SeverityWarning Severity = "WARNING"
	// SeverityError is an exported constant or variable used by the credential engine.
	SeverityError Severity = "ERROR"
	// SeverityCritical is an exported constant or variable used by the credential engine.
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is one of the recognized severity levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityDebug, SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Capability identifies a privileged operation class. The capability model
// replaces a bare superuser flag check with an explicit
// (actor, required capability) decision so richer policy can be added later
// without touching call sites.
type Capability uint8

const (
	// CapabilitySelfService is an exported constant or variable used by the credential engine.
	CapabilitySelfService Capability = iota
	// CapabilityManageUsers is an exported constant or variable used by the credential engine.
	CapabilityManageUsers
	// CapabilityViewSecurityEvents is an exported constant or variable used by the credential engine.
	CapabilityViewSecurityEvents
	// CapabilityMaintenance is an exported constant or variable used by the credential engine.
	CapabilityMaintenance
)

// User defines a public type used by credvault APIs.
//
// User instances are loaded from and persisted through [UserStore]; the Engine
// treats them as snapshots, not live records.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string

	IsActive    bool
	IsVerified  bool
	IsSuperuser bool

	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLogin           *time.Time
	PasswordChangedAt   time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether the account rejects authentication at the given
// instant. A nil LockedUntil means the account was never locked or has been
// explicitly unlocked.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// RefreshTokenRecord defines a public type used by credvault APIs.
//
// The raw refresh token is never persisted; TokenHash carries the hex-encoded
// SHA-256 of the raw value and all lookups go through it.
type RefreshTokenRecord struct {
	ID        int64
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	IsRevoked bool

	CreatedAt  time.Time
	LastUsedAt *time.Time
	UserAgent  string
	IPAddress  string
}

// Usable reports whether the record may still be redeemed at the given
// instant.
func (r *RefreshTokenRecord) Usable(now time.Time) bool {
	return !r.IsRevoked && now.Before(r.ExpiresAt)
}

// VaultToken defines a public type used by credvault APIs.
//
// AccessTokenSealed and RefreshTokenSealed hold AES-GCM sealed ciphertext; the
// plaintext secrets exist only transiently inside [Engine.VaultStore] and
// [Engine.VaultFetchDecrypted]. At most one row per (UserID, ServiceName) is
// active at a time.
type VaultToken struct {
	ID          int64
	UserID      int64
	ServiceName string

	AccessTokenSealed  string
	RefreshTokenSealed string
	TokenType          string
	Scope              string
	ClientID           string

	ExpiresAt *time.Time
	IsActive  bool

	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastUsedAt *time.Time
}

// Expired reports whether the row carries an expiry that has passed.
func (t *VaultToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// SecurityEvent defines a public type used by credvault APIs.
//
// Events are append-only facts: the store supports inserts and time-windowed
// reads, never updates or deletes. A nil UserID marks a system-level event.
type SecurityEvent struct {
	ID        int64
	UserID    *int64
	EventType string
	EventData string
	IPAddress string
	UserAgent string
	Severity  Severity
	CreatedAt time.Time
}

// EventFilter narrows a security event query. Zero-valued fields are ignored.
type EventFilter struct {
	Since     time.Time
	EventType string
	Severity  Severity
	UserID    *int64
	Offset    int
	Limit     int
}

// EventStats aggregates security events over a window.
type EventStats struct {
	Total      int64
	ByType     map[string]int64
	BySeverity map[Severity]int64
	Window     time.Duration
}

// HealthStatus is the coarse health signal derived from recent event volume.
type HealthStatus string

const (
	// HealthOK is an exported constant or variable used by the credential engine.
	HealthOK HealthStatus = "healthy"
	// HealthWarning is an exported constant or variable used by the credential engine.
	HealthWarning HealthStatus = "warning"
	// HealthCritical is an exported constant or variable used by the credential engine.
	HealthCritical HealthStatus = "critical"
)

// HealthReport is returned by [Engine.SecurityHealth].
type HealthReport struct {
	Status                   HealthStatus
	RecentHighSeverityEvents int64
	FailedLoginsLastHour     int64
	LockedUsers              int64
	Timestamp                time.Time
}

// RegisterRequest is the input for [Engine.Register].
type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

// TokenPair is returned by [Engine.Authenticate] and carries a short-lived
// access token plus the revocable refresh token backing it.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// VaultStoreRequest is the input for [Engine.VaultStore]. RefreshToken may be
// empty; ExpiresIn is a lifetime in seconds, zero meaning the upstream token
// never expires.
type VaultStoreRequest struct {
	Service      string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scope        string
	ClientID     string
}

// UserStore is the persistence boundary for identity records. Implementations
// must enforce uniqueness on username and email and surface violations as
// [ErrUsernameTaken] / [ErrEmailTaken].
type UserStore interface {
	CreateUser(ctx context.Context, user User) (*User, error)
	UserByID(ctx context.Context, id int64) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id int64) error
	ListUsers(ctx context.Context, offset, limit int) ([]User, error)
	CountLockedUsers(ctx context.Context, now time.Time) (int64, error)
}

// RefreshTokenStore is the persistence boundary for hashed refresh tokens.
// TokenHash is unique; lookups are always by hash, never by raw value.
type RefreshTokenStore interface {
	InsertRefreshToken(ctx context.Context, record RefreshTokenRecord) (*RefreshTokenRecord, error)
	RefreshTokenByHash(ctx context.Context, tokenHash string) (*RefreshTokenRecord, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) (bool, error)
	TouchRefreshToken(ctx context.Context, id int64, usedAt time.Time) error
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
	ListActiveRefreshTokens(ctx context.Context, now time.Time) ([]RefreshTokenRecord, error)
}

// VaultTokenStore is the persistence boundary for sealed third-party tokens.
// Implementations must serialize the one-active-row-per-(user, service)
// invariant, e.g. with a partial unique index.
type VaultTokenStore interface {
	InsertVaultToken(ctx context.Context, token VaultToken) (*VaultToken, error)
	UpdateVaultToken(ctx context.Context, token *VaultToken) error
	ActiveVaultToken(ctx context.Context, userID int64, service, scopeContains string) (*VaultToken, error)
	DeactivateVaultToken(ctx context.Context, userID int64, service string, at time.Time) (bool, error)
	ListVaultTokens(ctx context.Context, userID int64, activeOnly bool) ([]VaultToken, error)
	DeactivateExpiredVaultTokens(ctx context.Context, now time.Time) (int64, error)
}

// SecurityEventStore is the persistence boundary for the append-only event
// log.
type SecurityEventStore interface {
	InsertSecurityEvent(ctx context.Context, event SecurityEvent) error
	QuerySecurityEvents(ctx context.Context, filter EventFilter) ([]SecurityEvent, error)
	CountSecurityEvents(ctx context.Context, since time.Time, eventType string, severities []Severity) (int64, error)
	SecurityEventStats(ctx context.Context, since time.Time) (*EventStats, error)
}

// Store is the full persistence boundary the Engine builds on. Callers supply
// one implementation covering all four entities; store/sqlite provides the
// bundled one.
type Store interface {
	UserStore
	RefreshTokenStore
	VaultTokenStore
	SecurityEventStore
}

// AuditEvent is the structured record mirrored to audit sinks alongside
// persistent security events.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's async dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a counter in the in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	// MetricLoginSuccess is an exported constant or variable used by the credential engine.
	MetricLoginSuccess = internalmetrics.MetricLoginSuccess
	// MetricLoginFailure is an exported constant or variable used by the credential engine.
	MetricLoginFailure = internalmetrics.MetricLoginFailure
	// MetricLoginRateLimited is an exported constant or variable used by the credential engine.
	MetricLoginRateLimited = internalmetrics.MetricLoginRateLimited
	// MetricAccountLockedOut is an exported constant or variable used by the credential engine.
	MetricAccountLockedOut = internalmetrics.MetricAccountLockedOut
	// MetricRegisterSuccess is an exported constant or variable used by the credential engine.
	MetricRegisterSuccess = internalmetrics.MetricRegisterSuccess
	// MetricRegisterConflict is an exported constant or variable used by the credential engine.
	MetricRegisterConflict = internalmetrics.MetricRegisterConflict
	// MetricPasswordChangeSuccess is an exported constant or variable used by the credential engine.
	MetricPasswordChangeSuccess = internalmetrics.MetricPasswordChangeSuccess
	// MetricPasswordChangeRejected is an exported constant or variable used by the credential engine.
	MetricPasswordChangeRejected = internalmetrics.MetricPasswordChangeRejected
	// MetricRefreshIssued is an exported constant or variable used by the credential engine.
	MetricRefreshIssued = internalmetrics.MetricRefreshIssued
	// MetricRefreshRedeemed is an exported constant or variable used by the credential engine.
	MetricRefreshRedeemed = internalmetrics.MetricRefreshRedeemed
	// MetricRefreshRejected is an exported constant or variable used by the credential engine.
	MetricRefreshRejected = internalmetrics.MetricRefreshRejected
	// MetricRefreshRevoked is an exported constant or variable used by the credential engine.
	MetricRefreshRevoked = internalmetrics.MetricRefreshRevoked
	// MetricVaultStored is an exported constant or variable used by the credential engine.
	MetricVaultStored = internalmetrics.MetricVaultStored
	// MetricVaultFetchHit is an exported constant or variable used by the credential engine.
	MetricVaultFetchHit = internalmetrics.MetricVaultFetchHit
	// MetricVaultFetchMiss is an exported constant or variable used by the credential engine.
	MetricVaultFetchMiss = internalmetrics.MetricVaultFetchMiss
	// MetricVaultDecryptFailure is an exported constant or variable used by the credential engine.
	MetricVaultDecryptFailure = internalmetrics.MetricVaultDecryptFailure
	// MetricVaultRevoked is an exported constant or variable used by the credential engine.
	MetricVaultRevoked = internalmetrics.MetricVaultRevoked
	// MetricEventRecorded is an exported constant or variable used by the credential engine.
	MetricEventRecorded = internalmetrics.MetricEventRecorded
	// MetricEventRecordFailure is an exported constant or variable used by the credential engine.
	MetricEventRecordFailure = internalmetrics.MetricEventRecordFailure
)

// Metrics holds the engine's atomic counters.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot
