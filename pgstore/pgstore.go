// Package pgstore implements the credential store over PostgreSQL.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/helpdeskd/authkit"
)

// Schema creates the users table. Kept as a constant so EnsureSchema and
// operational tooling apply the exact same DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    email VARCHAR(255) UNIQUE NOT NULL,
    password VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL DEFAULT 'user',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_login TIMESTAMPTZ,
    password_changed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users (email);
`

// Store is a PostgreSQL-backed authkit.UserStore.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle. The caller owns the handle's lifecycle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema applies Schema. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const userColumns = "id, email, password, role, created_at, last_login, password_changed_at"

func scanUser(row *sql.Row) (*authkit.User, error) {
	var (
		u                 authkit.User
		lastLogin         sql.NullTime
		passwordChangedAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &lastLogin, &passwordChangedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authkit.ErrUserNotFound
		}
		return nil, err
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	if passwordChangedAt.Valid {
		u.PasswordChangedAt = &passwordChangedAt.Time
	}
	return &u, nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*authkit.User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1", email)
	return scanUser(row)
}

func (s *Store) GetByID(ctx context.Context, id string) (*authkit.User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id)
	return scanUser(row)
}

func (s *Store) Create(ctx context.Context, u *authkit.User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password, role, created_at) VALUES ($1, $2, $3, $4, $5)",
		u.ID, u.Email, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return authkit.ErrUserExists
		}
		return err
	}
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, id, hash string, changedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET password = $1, password_changed_at = $2 WHERE id = $3",
		hash, changedAt, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login = $1 WHERE id = $2", at, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authkit.ErrUserNotFound
	}
	return nil
}
