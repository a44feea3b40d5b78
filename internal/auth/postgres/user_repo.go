// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/nexora/agenda/internal/auth"
)

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)

const userColumns = `id, email, name, avatar, password_hash, role, must_change_password, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		user.ID.String(),
		user.Email,
		user.Name,
		user.Avatar,
		user.PasswordHash,
		string(user.Role),
		user.MustChangePassword,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("USER_DUPLICATE_EMAIL").
				With("email", user.Email).
				Wrap(auth.ErrDuplicateEmail)
		}
		return oops.With("operation", "insert user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeUserNotFound).With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "get user by id").With("id", id.String()).Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeUserNotFound).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "get user by email").Wrap(err)
	}
	return user, nil
}

// UpdatePassword replaces the password hash and the forced-change flag.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, mustChangePassword bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $2, must_change_password = $3, updated_at = NOW()
		WHERE id = $1
	`, id.String(), passwordHash, mustChangePassword)
	if err != nil {
		return oops.With("operation", "update password").With("id", id.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(auth.CodeUserNotFound).With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		user      auth.User
		idStr     string
		role      string
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(
		&idStr,
		&user.Email,
		&user.Name,
		&user.Avatar,
		&user.PasswordHash,
		&role,
		&user.MustChangePassword,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.With("operation", "parse user id").With("id", idStr).Wrap(err)
	}
	user.ID = id
	user.Role = auth.Role(role)
	user.CreatedAt = createdAt.UTC()
	user.UpdatedAt = updatedAt.UTC()
	return &user, nil
}
