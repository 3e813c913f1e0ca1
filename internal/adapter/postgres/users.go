package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/couchcryptid/flood-monitor-service/internal/auth"
)

// UserRepo persists admin accounts. It implements auth.UserStore.
type UserRepo struct {
	q querier
}

// Create stores a new admin user, returning auth.ErrUsernameTaken on a
// duplicate username.
func (r *UserRepo) Create(ctx context.Context, username, passwordHash string) (auth.User, error) {
	row := r.q.QueryRowContext(ctx,
		`INSERT INTO admin_users (username, hashed_password)
		 VALUES ($1, $2) RETURNING id, created_at`,
		username, passwordHash,
	)

	u := auth.User{Username: username, PasswordHash: passwordHash}
	if err := row.Scan(&u.ID, &u.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return auth.User{}, auth.ErrUsernameTaken
		}
		return auth.User{}, fmt.Errorf("create user %s: %w", username, err)
	}
	return u, nil
}

// FindByUsername fetches an admin user, returning auth.ErrUserNotFound when
// absent.
func (r *UserRepo) FindByUsername(ctx context.Context, username string) (auth.User, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, username, hashed_password, created_at
		 FROM admin_users WHERE username = $1`,
		username,
	)

	var u auth.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, auth.ErrUserNotFound
		}
		return auth.User{}, fmt.Errorf("find user %s: %w", username, err)
	}
	return u, nil
}
