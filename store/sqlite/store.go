package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	credvault "github.com/credvault/credvault"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	username              TEXT    NOT NULL,
	email                 TEXT    NOT NULL,
	password_hash         TEXT    NOT NULL,
	is_active             INTEGER NOT NULL DEFAULT 1,
	is_verified           INTEGER NOT NULL DEFAULT 0,
	is_superuser          INTEGER NOT NULL DEFAULT 0,
	failed_login_attempts INTEGER NOT NULL DEFAULT 0,
	locked_until          INTEGER,
	last_login            INTEGER,
	password_changed_at   INTEGER NOT NULL,
	created_at            INTEGER NOT NULL,
	updated_at            INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users (username);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (email);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	token_hash   TEXT    NOT NULL,
	expires_at   INTEGER NOT NULL,
	is_revoked   INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	last_used_at INTEGER,
	user_agent   TEXT    NOT NULL DEFAULT '',
	ip_address   TEXT    NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_refresh_tokens_hash ON refresh_tokens (token_hash);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expiry ON refresh_tokens (expires_at);

CREATE TABLE IF NOT EXISTS oauth2_tokens (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id              INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	service_name         TEXT    NOT NULL,
	access_token_sealed  TEXT    NOT NULL,
	refresh_token_sealed TEXT    NOT NULL DEFAULT '',
	token_type           TEXT    NOT NULL DEFAULT '',
	scope                TEXT    NOT NULL DEFAULT '',
	client_id            TEXT    NOT NULL DEFAULT '',
	expires_at           INTEGER,
	is_active            INTEGER NOT NULL DEFAULT 1,
	created_at           INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL,
	last_used_at         INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_oauth2_tokens_active
	ON oauth2_tokens (user_id, service_name) WHERE is_active = 1;
CREATE INDEX IF NOT EXISTS idx_oauth2_tokens_user ON oauth2_tokens (user_id);

CREATE TABLE IF NOT EXISTS security_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	-- Deliberately no FK: historical events must keep their user id after the
	-- account is deleted.
	user_id    INTEGER,
	event_type TEXT    NOT NULL,
	event_data TEXT    NOT NULL DEFAULT '',
	ip_address TEXT    NOT NULL DEFAULT '',
	user_agent TEXT    NOT NULL DEFAULT '',
	severity   TEXT    NOT NULL DEFAULT 'INFO',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_security_events_created ON security_events (created_at);
CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events (event_type, created_at);
`

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Store implements credential-vault persistence over SQLite.
//
// A single SQLite file backs identity, refresh-token, vault, and event state
// so every subflow shares the same transaction and visibility boundaries.
type Store struct {
	sqlDB *sql.DB
}

// DB returns the raw database handle for maintenance callers.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Open opens a credvault SQLite store and applies the bundled schema.
//
// This keeps startup and schema creation in one place, instead of requiring
// callers to coordinate DDL independently.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	// modernc's driver takes pragmas as _pragma=name(value) pairs, applied on
	// every new connection. foreign_keys must be on for the schema's cascades.
	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// isUniqueConstraintError detects SQLite unique-index violations so they can
// be mapped onto domain conflict errors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ credvault.Store = (*Store)(nil)
