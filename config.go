package credvault

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config defines a public type used by credvault APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	JWT      JWTConfig
	Password PasswordConfig
	Lockout  LockoutConfig
	Vault    VaultConfig
	Throttle ThrottleConfig
	Audit    AuditConfig
	Events   EventsConfig
	Metrics  MetricsConfig
	Security SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig defines a public type used by credvault APIs.
//
// JWTConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type JWTConfig struct {
	Secret     string        `env:"CREDVAULT_JWT_SECRET"`
	Algorithm  string        `env:"CREDVAULT_JWT_ALGORITHM"` // "HS256" (default), "HS384", "HS512"
	AccessTTL  time.Duration `env:"CREDVAULT_ACCESS_TTL"`
	RefreshTTL time.Duration `env:"CREDVAULT_REFRESH_TTL"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by credvault APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Memory      uint32 `env:"CREDVAULT_PASSWORD_MEMORY"` // in KB
	Time        uint32 `env:"CREDVAULT_PASSWORD_TIME"`
	Parallelism uint8  `env:"CREDVAULT_PASSWORD_PARALLELISM"`
	SaltLength  uint32 `env:"CREDVAULT_PASSWORD_SALT_LENGTH"`
	KeyLength   uint32 `env:"CREDVAULT_PASSWORD_KEY_LENGTH"`
	MinLength   int    `env:"CREDVAULT_PASSWORD_MIN_LENGTH"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig defines a public type used by credvault APIs.
//
// LockoutConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LockoutConfig struct {
	Threshold int           `env:"CREDVAULT_LOCKOUT_THRESHOLD"`
	Duration  time.Duration `env:"CREDVAULT_LOCKOUT_DURATION"`
}

/*
====================================
VAULT CONFIG
====================================
*/

// VaultConfig defines a public type used by credvault APIs.
//
// EncryptionKey must be 16, 24, or 32 bytes when supplied. When empty, Build
// generates a fresh 32-byte key for the life of the process; vaulted secrets
// sealed under a generated key are unrecoverable after restart unless the
// surrounding system persists the key externally.
type VaultConfig struct {
	EncryptionKey     []byte `env:"CREDVAULT_VAULT_KEY"`
	StrictScopeFilter bool   `env:"CREDVAULT_VAULT_STRICT_SCOPE"`
}

/*
====================================
THROTTLE CONFIG
====================================
*/

// ThrottleConfig defines a public type used by credvault APIs.
//
// The throttle is active only when a Redis client is supplied to the Builder;
// it runs ahead of the persistent per-account lockout counter.
type ThrottleConfig struct {
	EnableIPThrottle bool          `env:"CREDVAULT_THROTTLE_IP"`
	MaxLoginAttempts int           `env:"CREDVAULT_THROTTLE_MAX_ATTEMPTS"`
	LoginCooldown    time.Duration `env:"CREDVAULT_THROTTLE_COOLDOWN"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by credvault APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool `env:"CREDVAULT_AUDIT_ENABLED"`
	BufferSize int  `env:"CREDVAULT_AUDIT_BUFFER"`
	DropIfFull bool `env:"CREDVAULT_AUDIT_DROP_IF_FULL"`
}

/*
====================================
EVENTS CONFIG
====================================
*/

// EventsConfig defines a public type used by credvault APIs.
//
// EventsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type EventsConfig struct {
	QueryMaxLimit int           `env:"CREDVAULT_EVENTS_QUERY_MAX_LIMIT"`
	MaxWindow     time.Duration `env:"CREDVAULT_EVENTS_MAX_WINDOW"`
}

// MetricsConfig defines a public type used by credvault APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool `env:"CREDVAULT_METRICS_ENABLED"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig defines a public type used by credvault APIs.
//
// ProductionMode raises the password work-factor floor and the signing-secret
// requirements; test environments leave it off to keep hashing cheap.
type SecurityConfig struct {
	ProductionMode bool `env:"CREDVAULT_PRODUCTION_MODE"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the development baseline configuration. Callers still
// have to supply the JWT secret, and [Config.Validate] runs at Build time.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Algorithm:  "HS256",
			AccessTTL:  30 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   8,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		Vault: VaultConfig{
			StrictScopeFilter: false,
		},
		Throttle: ThrottleConfig{
			EnableIPThrottle: true,
			MaxLoginAttempts: 60,
			LoginCooldown:    time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Events: EventsConfig{
			QueryMaxLimit: 1000,
			MaxWindow:     7 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
		Security: SecurityConfig{
			ProductionMode: false,
		},
	}
}

// LoadEnv returns the default configuration overridden by CREDVAULT_*
// environment variables. The result still has to pass [Config.Validate];
// loading never applies partial values silently.
func LoadEnv() (Config, error) {
	cfg := defaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Vault.EncryptionKey = cloneBytes(cfg.Vault.EncryptionKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// JWT
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT Secret must be at least 32 characters")
	}
	switch c.JWT.Algorithm {
	case "HS256", "HS384", "HS512":
		// valid
	default:
		return errors.New("unsupported JWT signing algorithm")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// Vault
	switch len(c.Vault.EncryptionKey) {
	case 0, 16, 24, 32:
		// valid; empty means generate at Build
	default:
		return errors.New("Vault EncryptionKey must be 16, 24, or 32 bytes")
	}

	// Throttle
	if c.Throttle.MaxLoginAttempts <= 0 {
		return errors.New("Throttle MaxLoginAttempts must be > 0")
	}
	if c.Throttle.LoginCooldown <= 0 {
		return errors.New("Throttle LoginCooldown must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Events
	if c.Events.QueryMaxLimit <= 0 {
		return errors.New("Events QueryMaxLimit must be > 0")
	}
	if c.Events.MaxWindow <= 0 {
		return errors.New("Events MaxWindow must be > 0")
	}

	if c.Security.ProductionMode {
		if c.Password.Memory < 64*1024 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Time >= 2")
		}
		if c.Password.KeyLength < 32 {
			return errors.New("ProductionMode requires Password KeyLength >= 32")
		}
		if c.JWT.AccessTTL > time.Hour {
			return errors.New("ProductionMode requires JWT AccessTTL <= 1h")
		}
		if c.JWT.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires JWT RefreshTTL <= 30d")
		}
		if len(c.Vault.EncryptionKey) == 0 {
			return errors.New("ProductionMode requires an externally supplied Vault EncryptionKey")
		}
	}

	return nil
}
