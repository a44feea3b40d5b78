// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token configuration.
const (
	TokenBytes      = 32 // 32 bytes = 64 hex chars
	AccessTokenTTL  = 30 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenPair is the stored form of an issued access/refresh pair. Only token
// digests are kept; the plaintext values exist solely in Tokens.
type TokenPair struct {
	ID               ulid.ULID
	UserID           ulid.ULID
	AccessTokenHash  string
	RefreshTokenHash string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	CreatedAt        time.Time
}

// Tokens is an issued pair as handed to the caller.
type Tokens struct {
	UserID           ulid.ULID
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Validation is the outcome of looking up an access token. UserID is set
// whenever the token is known, including when it has expired.
type Validation struct {
	Valid     bool
	UserID    ulid.ULID
	Expired   bool
	ExpiresAt time.Time
}

// Known reports whether the token resolved to a user.
func (v Validation) Known() bool {
	return v.UserID.Compare(ulid.ULID{}) != 0
}

// NewTokenPair creates a pair for userID issued at now, returning the stored
// record together with the plaintext tokens.
func NewTokenPair(userID ulid.ULID, now time.Time) (*TokenPair, *Tokens, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, nil, oops.Code(CodeValidation).Errorf("user ID cannot be zero")
	}
	access, accessHash, err := GenerateToken()
	if err != nil {
		return nil, nil, err
	}
	refresh, refreshHash, err := GenerateToken()
	if err != nil {
		return nil, nil, err
	}

	pair := &TokenPair{
		ID:               ulid.Make(),
		UserID:           userID,
		AccessTokenHash:  accessHash,
		RefreshTokenHash: refreshHash,
		AccessExpiresAt:  now.Add(AccessTokenTTL),
		RefreshExpiresAt: now.Add(RefreshTokenTTL),
		CreatedAt:        now,
	}
	return pair, &Tokens{
		UserID:           userID,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}, nil
}

// AccessExpiredAt reports whether the access token is past its horizon at t.
func (p *TokenPair) AccessExpiredAt(t time.Time) bool {
	return t.After(p.AccessExpiresAt)
}

// RefreshExpiredAt reports whether the refresh token is past its horizon at t.
func (p *TokenPair) RefreshExpiredAt(t time.Time) bool {
	return t.After(p.RefreshExpiresAt)
}

// GenerateToken creates a random opaque token and its digest.
// Returns (plaintext_token, sha256_hash, error).
func GenerateToken() (token, hash string, err error) {
	buf := make([]byte, TokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", TokenBytes).
			Wrap(err)
	}
	token = hex.EncodeToString(buf)
	return token, HashToken(token), nil
}

// HashToken computes the SHA256 digest under which a token is stored.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RotateFunc builds the replacement pair for the owner of a consumed
// refresh token.
type RotateFunc func(userID ulid.ULID) (*TokenPair, error)

// TokenRepository manages token pair persistence. A user owns at most one pair.
type TokenRepository interface {
	// Replace stores pair as the only pair of its user, discarding any
	// previous one in the same statement.
	Replace(ctx context.Context, pair *TokenPair) error

	// GetByAccessHash retrieves a pair by access token digest.
	// Returns ErrNotFound if absent.
	GetByAccessHash(ctx context.Context, accessHash string) (*TokenPair, error)

	// Rotate atomically consumes the pair holding refreshHash. A pair whose
	// refresh horizon is before now is deleted and ErrExpired returned; an
	// unknown digest yields ErrNotFound. Otherwise next builds the
	// replacement, which is stored before the consumption commits.
	Rotate(ctx context.Context, refreshHash string, now time.Time, next RotateFunc) (*TokenPair, error)

	// DeleteByUser removes the pair of a user. Deleting nothing is not an error.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpired removes pairs whose refresh horizon is before now and
	// returns the count of deleted records.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
