package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	credvault "github.com/credvault/credvault"
)

const vaultColumns = `id, user_id, service_name, access_token_sealed, refresh_token_sealed,
	token_type, scope, client_id, expires_at, is_active, created_at, updated_at, last_used_at`

func scanVaultToken(row userScanner) (*credvault.VaultToken, error) {
	var t credvault.VaultToken
	var expiresAt, lastUsedAt sql.NullInt64
	var createdAt, updatedAt int64

	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.ServiceName,
		&t.AccessTokenSealed,
		&t.RefreshTokenSealed,
		&t.TokenType,
		&t.Scope,
		&t.ClientID,
		&expiresAt,
		&t.IsActive,
		&createdAt,
		&updatedAt,
		&lastUsedAt,
	); err != nil {
		return nil, err
	}

	t.ExpiresAt = fromNullMillis(expiresAt)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	t.LastUsedAt = fromNullMillis(lastUsedAt)
	return &t, nil
}

// InsertVaultToken adds a sealed token row. The partial unique index on
// (user_id, service_name) WHERE is_active = 1 rejects a second active row for
// the same pair; that violation surfaces as [credvault.ErrConflict].
func (s *Store) InsertVaultToken(ctx context.Context, token credvault.VaultToken) (*credvault.VaultToken, error) {
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO oauth2_tokens (
	user_id, service_name, access_token_sealed, refresh_token_sealed,
	token_type, scope, client_id, expires_at, is_active,
	created_at, updated_at, last_used_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		token.UserID,
		token.ServiceName,
		token.AccessTokenSealed,
		token.RefreshTokenSealed,
		token.TokenType,
		token.Scope,
		token.ClientID,
		toNullMillis(token.ExpiresAt),
		token.IsActive,
		toMillis(token.CreatedAt),
		toMillis(token.UpdatedAt),
		toNullMillis(token.LastUsedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: active token already present for service", credvault.ErrConflict)
		}
		return nil, fmt.Errorf("insert vault token: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert vault token id: %w", err)
	}
	token.ID = id
	return &token, nil
}

func (s *Store) UpdateVaultToken(ctx context.Context, token *credvault.VaultToken) error {
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE oauth2_tokens SET
	access_token_sealed = ?,
	refresh_token_sealed = ?,
	token_type = ?,
	scope = ?,
	client_id = ?,
	expires_at = ?,
	is_active = ?,
	updated_at = ?,
	last_used_at = ?
WHERE id = ?
`,
		token.AccessTokenSealed,
		token.RefreshTokenSealed,
		token.TokenType,
		token.Scope,
		token.ClientID,
		toNullMillis(token.ExpiresAt),
		token.IsActive,
		toMillis(token.UpdatedAt),
		toNullMillis(token.LastUsedAt),
		token.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: active token already present for service", credvault.ErrConflict)
		}
		return fmt.Errorf("update vault token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update vault token affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: vault token %d", credvault.ErrNotFound, token.ID)
	}
	return nil
}

// ActiveVaultToken returns the single active row for (user, service),
// optionally requiring the scope column to contain scopeContains.
func (s *Store) ActiveVaultToken(ctx context.Context, userID int64, service, scopeContains string) (*credvault.VaultToken, error) {
	query := `SELECT ` + vaultColumns + ` FROM oauth2_tokens
		WHERE user_id = ? AND service_name = ? AND is_active = 1`
	args := []any{userID, service}
	if scopeContains != "" {
		query += ` AND instr(scope, ?) > 0`
		args = append(args, scopeContains)
	}

	row := s.sqlDB.QueryRowContext(ctx, query, args...)
	token, err := scanVaultToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no active token for service", credvault.ErrNotFound)
		}
		return nil, fmt.Errorf("active vault token: %w", err)
	}
	return token, nil
}

func (s *Store) DeactivateVaultToken(ctx context.Context, userID int64, service string, at time.Time) (bool, error) {
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE oauth2_tokens SET is_active = 0, updated_at = ?
WHERE user_id = ? AND service_name = ? AND is_active = 1
`, toMillis(at), userID, service)
	if err != nil {
		return false, fmt.Errorf("deactivate vault token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate vault token affected: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) ListVaultTokens(ctx context.Context, userID int64, activeOnly bool) ([]credvault.VaultToken, error) {
	query := `SELECT ` + vaultColumns + ` FROM oauth2_tokens WHERE user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.sqlDB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list vault tokens: %w", err)
	}
	defer rows.Close()

	var tokens []credvault.VaultToken
	for rows.Next() {
		token, err := scanVaultToken(rows)
		if err != nil {
			return nil, fmt.Errorf("list vault tokens scan: %w", err)
		}
		tokens = append(tokens, *token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list vault tokens rows: %w", err)
	}
	return tokens, nil
}

func (s *Store) DeactivateExpiredVaultTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE oauth2_tokens SET is_active = 0, updated_at = ?
WHERE is_active = 1 AND expires_at IS NOT NULL AND expires_at <= ?
`, toMillis(now), toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("deactivate expired vault tokens: %w", err)
	}
	deactivated, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate expired vault tokens affected: %w", err)
	}
	return deactivated, nil
}
