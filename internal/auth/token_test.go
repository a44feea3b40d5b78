// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexora/agenda/internal/auth"
	"github.com/nexora/agenda/pkg/errutil"
)

func TestGenerateToken(t *testing.T) {
	token, hash, err := auth.GenerateToken()
	require.NoError(t, err)
	assert.Len(t, token, 2*auth.TokenBytes)
	assert.Equal(t, auth.HashToken(token), hash)
	assert.NotEqual(t, token, hash)

	other, _, err := auth.GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestHashToken_IsStable(t *testing.T) {
	assert.Equal(t, auth.HashToken("abc"), auth.HashToken("abc"))
	assert.Len(t, auth.HashToken("abc"), 64)
	assert.NotEqual(t, auth.HashToken("abc"), auth.HashToken("abd"))
}

func TestNewTokenPair(t *testing.T) {
	userID := ulid.Make()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	pair, tokens, err := auth.NewTokenPair(userID, now)
	require.NoError(t, err)

	assert.Equal(t, userID, pair.UserID)
	assert.Equal(t, now, pair.CreatedAt)
	assert.Equal(t, now.Add(30*time.Minute), pair.AccessExpiresAt)
	assert.Equal(t, now.Add(7*24*time.Hour), pair.RefreshExpiresAt)
	assert.True(t, pair.AccessExpiresAt.Before(pair.RefreshExpiresAt))

	assert.Equal(t, auth.HashToken(tokens.AccessToken), pair.AccessTokenHash)
	assert.Equal(t, auth.HashToken(tokens.RefreshToken), pair.RefreshTokenHash)
	assert.NotEqual(t, tokens.AccessToken, tokens.RefreshToken)
	assert.Equal(t, pair.AccessExpiresAt, tokens.AccessExpiresAt)
}

func TestNewTokenPair_RejectsZeroUser(t *testing.T) {
	_, _, err := auth.NewTokenPair(ulid.ULID{}, time.Now())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeValidation)
}

func TestTokenPair_ExpiryIsStrict(t *testing.T) {
	now := time.Now()
	pair, _, err := auth.NewTokenPair(ulid.Make(), now)
	require.NoError(t, err)

	assert.False(t, pair.AccessExpiredAt(pair.AccessExpiresAt))
	assert.True(t, pair.AccessExpiredAt(pair.AccessExpiresAt.Add(time.Nanosecond)))
	assert.False(t, pair.RefreshExpiredAt(pair.RefreshExpiresAt))
	assert.True(t, pair.RefreshExpiredAt(pair.RefreshExpiresAt.Add(time.Second)))
}
