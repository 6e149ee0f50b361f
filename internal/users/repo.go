package users

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists staff accounts in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `username, password_hash, role, class, created_at, last_password_change`

func scanUser(row interface{ Scan(dest ...any) error }) (User, error) {
	var u User
	var class sql.NullString
	if err := row.Scan(&u.Username, &u.PasswordHash, &u.Role, &class, &u.CreatedAt, &u.LastPasswordChange); err != nil {
		return User{}, err
	}
	u.Class = class.String
	return u, nil
}

// GetUser returns an account by username.
func (r *Repository) GetUser(ctx context.Context, username string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser writes a new account.
func (r *Repository) CreateUser(ctx context.Context, u User) error {
	var class any
	if u.Class != "" {
		class = u.Class
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, class, created_at, last_password_change)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.Username, u.PasswordHash, u.Role, class, u.CreatedAt, u.LastPasswordChange)
	return err
}

// UpdateUserPassword rotates a password hash.
func (r *Repository) UpdateUserPassword(ctx context.Context, username, hash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, last_password_change = $3 WHERE username = $1
	`, username, hash, at)
	return err
}

// DeleteUser removes an account.
func (r *Repository) DeleteUser(ctx context.Context, username string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE username = $1`, username)
	return err
}

// ListUsers returns accounts, optionally filtered by role.
func (r *Repository) ListUsers(ctx context.Context, role string) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role = $1`
		args = append(args, role)
	}
	query += ` ORDER BY username`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
