package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	credvault "github.com/credvault/credvault"
)

const refreshColumns = `id, user_id, token_hash, expires_at, is_revoked,
	created_at, last_used_at, user_agent, ip_address`

func scanRefreshToken(row userScanner) (*credvault.RefreshTokenRecord, error) {
	var r credvault.RefreshTokenRecord
	var expiresAt, createdAt int64
	var lastUsedAt sql.NullInt64

	if err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.TokenHash,
		&expiresAt,
		&r.IsRevoked,
		&createdAt,
		&lastUsedAt,
		&r.UserAgent,
		&r.IPAddress,
	); err != nil {
		return nil, err
	}

	r.ExpiresAt = fromMillis(expiresAt)
	r.CreatedAt = fromMillis(createdAt)
	r.LastUsedAt = fromNullMillis(lastUsedAt)
	return &r, nil
}

func (s *Store) InsertRefreshToken(ctx context.Context, record credvault.RefreshTokenRecord) (*credvault.RefreshTokenRecord, error) {
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO refresh_tokens (
	user_id, token_hash, expires_at, is_revoked, created_at, last_used_at,
	user_agent, ip_address
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.UserID,
		record.TokenHash,
		toMillis(record.ExpiresAt),
		record.IsRevoked,
		toMillis(record.CreatedAt),
		toNullMillis(record.LastUsedAt),
		record.UserAgent,
		record.IPAddress,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: token hash already present", credvault.ErrConflict)
		}
		return nil, fmt.Errorf("insert refresh token: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert refresh token id: %w", err)
	}
	record.ID = id
	return &record, nil
}

func (s *Store) RefreshTokenByHash(ctx context.Context, tokenHash string) (*credvault.RefreshTokenRecord, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+refreshColumns+` FROM refresh_tokens WHERE token_hash = ?`, tokenHash)
	record, err := scanRefreshToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: unknown refresh token", credvault.ErrNotFound)
		}
		return nil, fmt.Errorf("refresh token by hash: %w", err)
	}
	return record, nil
}

// RevokeRefreshToken marks the token revoked. The guard on is_revoked makes
// the update atomic: exactly one of two concurrent revocations observes
// affected = 1.
func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string) (bool, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE refresh_tokens SET is_revoked = 1 WHERE token_hash = ? AND is_revoked = 0`,
		tokenHash)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token affected: %w", err)
	}
	return affected == 1, nil
}

func (s *Store) TouchRefreshToken(ctx context.Context, id int64, usedAt time.Time) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`UPDATE refresh_tokens SET last_used_at = ? WHERE id = ?`,
		toMillis(usedAt), id)
	if err != nil {
		return fmt.Errorf("touch refresh token: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens affected: %w", err)
	}
	return removed, nil
}

func (s *Store) ListActiveRefreshTokens(ctx context.Context, now time.Time) ([]credvault.RefreshTokenRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+refreshColumns+` FROM refresh_tokens
		 WHERE is_revoked = 0 AND expires_at > ? ORDER BY id`, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("list active refresh tokens: %w", err)
	}
	defer rows.Close()

	var records []credvault.RefreshTokenRecord
	for rows.Next() {
		record, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("list active refresh tokens scan: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active refresh tokens rows: %w", err)
	}
	return records, nil
}
