// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/nexora/agenda/internal/auth"
)

// Compile-time interface check.
var _ auth.TokenRepository = (*TokenRepository)(nil)

// upsertPairSQL relies on the unique user_id column: the user's previous
// pair is overwritten by the same statement that stores the new one.
const upsertPairSQL = `
	INSERT INTO auth_tokens (id, user_id, access_token_hash, refresh_token_hash, access_expires_at, refresh_expires_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (user_id) DO UPDATE SET
		id = EXCLUDED.id,
		access_token_hash = EXCLUDED.access_token_hash,
		refresh_token_hash = EXCLUDED.refresh_token_hash,
		access_expires_at = EXCLUDED.access_expires_at,
		refresh_expires_at = EXCLUDED.refresh_expires_at,
		created_at = EXCLUDED.created_at
`

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TokenRepository implements auth.TokenRepository using PostgreSQL.
type TokenRepository struct {
	pool poolIface
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(pool poolIface) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// Replace stores pair as its user's only pair.
func (r *TokenRepository) Replace(ctx context.Context, pair *auth.TokenPair) error {
	return upsertPair(ctx, r.pool, pair)
}

func upsertPair(ctx context.Context, db execer, pair *auth.TokenPair) error {
	_, err := db.Exec(ctx, upsertPairSQL,
		pair.ID.String(),
		pair.UserID.String(),
		pair.AccessTokenHash,
		pair.RefreshTokenHash,
		pair.AccessExpiresAt,
		pair.RefreshExpiresAt,
		pair.CreatedAt,
	)
	if err != nil {
		return oops.With("operation", "upsert token pair").
			With("user_id", pair.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByAccessHash retrieves a pair by access token digest.
func (r *TokenRepository) GetByAccessHash(ctx context.Context, accessHash string) (*auth.TokenPair, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, access_token_hash, refresh_token_hash, access_expires_at, refresh_expires_at, created_at
		FROM auth_tokens
		WHERE access_token_hash = $1
	`, accessHash)

	pair, err := scanPair(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "get token pair by access hash").Wrap(err)
	}
	return pair, nil
}

// Rotate consumes the pair holding refreshHash with DELETE ... RETURNING.
// A concurrent rotation of the same token waits on the row lock and then
// finds nothing, so a refresh token is used at most once.
func (r *TokenRepository) Rotate(ctx context.Context, refreshHash string, now time.Time, next auth.RotateFunc) (*auth.TokenPair, error) {
	var (
		rotated *auth.TokenPair
		expired bool
	)
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			userIDStr        string
			refreshExpiresAt time.Time
		)
		err := tx.QueryRow(ctx, `
			DELETE FROM auth_tokens
			WHERE refresh_token_hash = $1
			RETURNING user_id, refresh_expires_at
		`, refreshHash).Scan(&userIDStr, &refreshExpiresAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
		}
		if err != nil {
			return oops.With("operation", "consume refresh token").Wrap(err)
		}

		// the deletion of an expired pair is kept
		if now.After(refreshExpiresAt) {
			expired = true
			return nil
		}

		userID, err := ulid.Parse(userIDStr)
		if err != nil {
			return oops.With("operation", "parse user id").With("user_id", userIDStr).Wrap(err)
		}
		pair, err := next(userID)
		if err != nil {
			return err
		}
		if err := upsertPair(ctx, tx, pair); err != nil {
			return err
		}
		rotated = pair
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, oops.Code("TOKEN_REFRESH_EXPIRED").Wrap(auth.ErrExpired)
	}
	return rotated, nil
}

// DeleteByUser removes the pair of userID, if any.
func (r *TokenRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM auth_tokens WHERE user_id = $1`, userID.String())
	if err != nil {
		return oops.With("operation", "delete token pair").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes pairs whose refresh horizon is before now.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM auth_tokens WHERE refresh_expires_at < $1`, now)
	if err != nil {
		return 0, oops.With("operation", "delete expired token pairs").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func scanPair(row pgx.Row) (*auth.TokenPair, error) {
	var (
		pair              auth.TokenPair
		idStr, userIDStr  string
		accessExp, refExp time.Time
		createdAt         time.Time
	)
	if err := row.Scan(
		&idStr,
		&userIDStr,
		&pair.AccessTokenHash,
		&pair.RefreshTokenHash,
		&accessExp,
		&refExp,
		&createdAt,
	); err != nil {
		return nil, err
	}

	var err error
	if pair.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.With("operation", "parse token pair id").With("id", idStr).Wrap(err)
	}
	if pair.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.With("operation", "parse user id").With("user_id", userIDStr).Wrap(err)
	}
	pair.AccessExpiresAt = accessExp.UTC()
	pair.RefreshExpiresAt = refExp.UTC()
	pair.CreatedAt = createdAt.UTC()
	return &pair, nil
}
