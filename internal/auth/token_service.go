// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// TokenService is the sole authority over token pair creation, validation
// and destruction.
type TokenService struct {
	tokens TokenRepository
	now    func() time.Time
}

// TokenServiceOption configures a TokenService.
type TokenServiceOption func(*TokenService)

// WithClock sets the time source used for issuance and expiry checks.
func WithClock(now func() time.Time) TokenServiceOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTokenService creates a TokenService backed by tokens.
func NewTokenService(tokens TokenRepository, opts ...TokenServiceOption) *TokenService {
	s := &TokenService{
		tokens: tokens,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a new pair for userID, superseding any pair the user held.
func (s *TokenService) Issue(ctx context.Context, userID ulid.ULID) (*Tokens, error) {
	pair, tokens, err := NewTokenPair(userID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Replace(ctx, pair); err != nil {
		return nil, storageError("replace token pair", err)
	}
	return tokens, nil
}

// Validate looks up an access token. Unknown tokens yield the zero
// Validation; known tokens past their horizon report Expired with the owner.
func (s *TokenService) Validate(ctx context.Context, accessToken string) (Validation, error) {
	if accessToken == "" {
		return Validation{}, nil
	}
	pair, err := s.tokens.GetByAccessHash(ctx, HashToken(accessToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Validation{}, nil
		}
		return Validation{}, storageError("get token pair by access hash", err)
	}

	v := Validation{UserID: pair.UserID, ExpiresAt: pair.AccessExpiresAt}
	if pair.AccessExpiredAt(s.now()) {
		v.Expired = true
		return v, nil
	}
	v.Valid = true
	return v, nil
}

// Refresh consumes refreshToken and returns a fully rotated pair. It
// returns (nil, nil) when the token is unknown, already consumed, or
// expired; an expired token's pair is deleted.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, nil
	}

	now := s.now().UTC()
	var issued *Tokens
	_, err := s.tokens.Rotate(ctx, HashToken(refreshToken), now, func(userID ulid.ULID) (*TokenPair, error) {
		pair, tokens, err := NewTokenPair(userID, now)
		if err != nil {
			return nil, err
		}
		issued = tokens
		return pair, nil
	})
	switch {
	case err == nil:
		return issued, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrExpired):
		return nil, nil
	default:
		return nil, storageError("rotate token pair", err)
	}
}

// Revoke deletes the pair of userID. Revoking a user without a pair succeeds.
func (s *TokenService) Revoke(ctx context.Context, userID ulid.ULID) error {
	if err := s.tokens.DeleteByUser(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
		return storageError("delete token pair", err)
	}
	return nil
}

// PurgeExpired deletes pairs whose refresh token can no longer be used.
func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, storageError("delete expired token pairs", err)
	}
	return n, nil
}
