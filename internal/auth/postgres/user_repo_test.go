// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexora/agenda/internal/auth"
	"github.com/nexora/agenda/pkg/errutil"
)

var userColumnNames = []string{
	"id", "email", "name", "avatar", "password_hash", "role", "must_change_password", "created_at", "updated_at",
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func sampleUser(t *testing.T) *auth.User {
	t.Helper()
	user, err := auth.NewUser("ana@example.com", "Ana", "$argon2id$hash", auth.RoleUser, false)
	require.NoError(t, err)
	return user
}

func userRow(user *auth.User) *pgxmock.Rows {
	return pgxmock.NewRows(userColumnNames).AddRow(
		user.ID.String(), user.Email, user.Name, user.Avatar, user.PasswordHash,
		string(user.Role), user.MustChangePassword, user.CreatedAt, user.UpdatedAt,
	)
}

func TestUserRepository_Create(t *testing.T) {
	user := sampleUser(t)

	tests := []struct {
		name    string
		execErr error
		check   func(t *testing.T, err error)
	}{
		{
			name: "inserts",
			check: func(t *testing.T, err error) {
				require.NoError(t, err)
			},
		},
		{
			name:    "unique violation is a duplicate email",
			execErr: &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_lower_idx"},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, auth.ErrDuplicateEmail)
				errutil.AssertErrorContext(t, err, "email", "ana@example.com")
			},
		},
		{
			name:    "other failures are wrapped without a code",
			execErr: errors.New("connection refused"),
			check: func(t *testing.T, err error) {
				require.Error(t, err)
				assert.NotErrorIs(t, err, auth.ErrDuplicateEmail)
				errutil.AssertErrorContext(t, err, "operation", "insert user")
				assert.Empty(t, errutil.Code(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockPool(t)
			exp := mock.ExpectExec(`INSERT INTO users`).
				WithArgs(user.ID.String(), user.Email, user.Name, user.Avatar, user.PasswordHash,
					"user", false, user.CreatedAt, user.UpdatedAt)
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("INSERT", 1))
			}

			tt.check(t, NewUserRepository(mock).Create(context.Background(), user))
		})
	}
}

func TestUserRepository_GetByID(t *testing.T) {
	user := sampleUser(t)

	t.Run("found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`FROM users WHERE id = \$1`).
			WithArgs(user.ID.String()).
			WillReturnRows(userRow(user))

		got, err := NewUserRepository(mock).GetByID(context.Background(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, user.Email, got.Email)
		assert.Equal(t, auth.RoleUser, got.Role)
		assert.Nil(t, got.Avatar)
	})

	t.Run("missing", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`FROM users WHERE id = \$1`).
			WithArgs(user.ID.String()).
			WillReturnError(pgx.ErrNoRows)

		_, err := NewUserRepository(mock).GetByID(context.Background(), user.ID)
		require.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, auth.CodeUserNotFound)
	})

	t.Run("corrupt id", func(t *testing.T) {
		mock := newMockPool(t)
		rows := pgxmock.NewRows(userColumnNames).AddRow(
			"not-a-ulid", user.Email, user.Name, user.Avatar, user.PasswordHash,
			"user", false, user.CreatedAt, user.UpdatedAt)
		mock.ExpectQuery(`FROM users WHERE id = \$1`).WillReturnRows(rows)

		_, err := NewUserRepository(mock).GetByID(context.Background(), user.ID)
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestUserRepository_GetByEmail(t *testing.T) {
	user := sampleUser(t)
	avatar := "https://cdn.example.com/ana.png"
	user.Avatar = &avatar
	user.MustChangePassword = true

	mock := newMockPool(t)
	mock.ExpectQuery(`WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("ANA@example.com").
		WillReturnRows(userRow(user))
	mock.ExpectQuery(`WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)

	repo := NewUserRepository(mock)
	got, err := repo.GetByEmail(context.Background(), "ANA@example.com")
	require.NoError(t, err)
	require.NotNil(t, got.Avatar)
	assert.Equal(t, avatar, *got.Avatar)
	assert.True(t, got.MustChangePassword)

	_, err = repo.GetByEmail(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	id := ulid.Make()

	tests := []struct {
		name    string
		result  pgconn.CommandTag
		execErr error
		wantErr error
	}{
		{name: "updated", result: pgxmock.NewResult("UPDATE", 1)},
		{name: "no such user", result: pgxmock.NewResult("UPDATE", 0), wantErr: auth.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockPool(t)
			mock.ExpectExec(`UPDATE users`).
				WithArgs(id.String(), "new-hash", false).
				WillReturnResult(tt.result)

			err := NewUserRepository(mock).UpdatePassword(context.Background(), id, "new-hash", false)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}

	t.Run("driver failure", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`UPDATE users`).WillReturnError(errors.New("deadlock detected"))

		err := NewUserRepository(mock).UpdatePassword(context.Background(), id, "h", true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "deadlock detected")
	})
}

func TestScanUser_NormalizesTimesToUTC(t *testing.T) {
	user := sampleUser(t)
	paris := time.FixedZone("CET", 3600)
	user.CreatedAt = user.CreatedAt.In(paris)

	mock := newMockPool(t)
	mock.ExpectQuery(`FROM users WHERE id`).WillReturnRows(userRow(user))

	got, err := NewUserRepository(mock).GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
}
