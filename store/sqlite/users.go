package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	credvault "github.com/credvault/credvault"
)

const userColumns = `id, username, email, password_hash, is_active, is_verified, is_superuser,
	failed_login_attempts, locked_until, last_login, password_changed_at, created_at, updated_at`

type userScanner interface {
	Scan(dest ...any) error
}

func scanUser(row userScanner) (*credvault.User, error) {
	var u credvault.User
	var lockedUntil, lastLogin sql.NullInt64
	var passwordChangedAt, createdAt, updatedAt int64

	if err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.IsActive,
		&u.IsVerified,
		&u.IsSuperuser,
		&u.FailedLoginAttempts,
		&lockedUntil,
		&lastLogin,
		&passwordChangedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	u.LockedUntil = fromNullMillis(lockedUntil)
	u.LastLogin = fromNullMillis(lastLogin)
	u.PasswordChangedAt = fromMillis(passwordChangedAt)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

// CreateUser persists a new identity record. Username and email collisions
// are mapped onto the domain conflict errors by inspecting the violated
// index.
func (s *Store) CreateUser(ctx context.Context, user credvault.User) (*credvault.User, error) {
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (
	username, email, password_hash, is_active, is_verified, is_superuser,
	failed_login_attempts, locked_until, last_login, password_changed_at,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.IsActive,
		user.IsVerified,
		user.IsSuperuser,
		user.FailedLoginAttempts,
		toNullMillis(user.LockedUntil),
		toNullMillis(user.LastLogin),
		toMillis(user.PasswordChangedAt),
		toMillis(user.CreatedAt),
		toMillis(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "users.email") {
				return nil, credvault.ErrEmailTaken
			}
			return nil, credvault.ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create user id: %w", err)
	}
	user.ID = id
	return &user, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (*credvault.User, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %d", credvault.ErrNotFound, id)
		}
		return nil, fmt.Errorf("user by id: %w", err)
	}
	return user, nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*credvault.User, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: unknown username", credvault.ErrNotFound)
		}
		return nil, fmt.Errorf("user by username: %w", err)
	}
	return user, nil
}

// UpdateUser writes back every mutable column of the snapshot.
func (s *Store) UpdateUser(ctx context.Context, user *credvault.User) error {
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE users SET
	username = ?,
	email = ?,
	password_hash = ?,
	is_active = ?,
	is_verified = ?,
	is_superuser = ?,
	failed_login_attempts = ?,
	locked_until = ?,
	last_login = ?,
	password_changed_at = ?,
	updated_at = ?
WHERE id = ?
`,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.IsActive,
		user.IsVerified,
		user.IsSuperuser,
		user.FailedLoginAttempts,
		toNullMillis(user.LockedUntil),
		toNullMillis(user.LastLogin),
		toMillis(user.PasswordChangedAt),
		toMillis(time.Now().UTC()),
		user.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "users.email") {
				return credvault.ErrEmailTaken
			}
			return credvault.ErrUsernameTaken
		}
		return fmt.Errorf("update user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %d", credvault.ErrNotFound, user.ID)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %d", credvault.ErrNotFound, id)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context, offset, limit int) ([]credvault.User, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []credvault.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users scan: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users rows: %w", err)
	}
	return users, nil
}

func (s *Store) CountLockedUsers(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE locked_until IS NOT NULL AND locked_until > ?`,
		toMillis(now)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count locked users: %w", err)
	}
	return count, nil
}
