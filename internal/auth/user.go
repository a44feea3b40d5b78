// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the authorization level of a user.
type Role string

// Known roles.
const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// emailRegex accepts anything of the shape local@domain.tld without spaces.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// User is an account able to hold a token pair.
type User struct {
	ID                 ulid.ULID
	Email              string
	Name               string
	Avatar             *string
	PasswordHash       string
	Role               Role
	MustChangePassword bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewUser creates a validated User with a fresh ID. The email is normalized.
func NewUser(email, name, passwordHash string, role Role, mustChangePassword bool) (*User, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, oops.Code(CodeValidation).Errorf("name cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code(CodeValidation).Errorf("password hash cannot be empty")
	}
	if !role.Valid() {
		return nil, oops.Code(CodeValidation).With("role", string(role)).Errorf("unknown role")
	}

	now := time.Now().UTC()
	return &User{
		ID:                 ulid.Make(),
		Email:              email,
		Name:               name,
		PasswordHash:       passwordHash,
		Role:               role,
		MustChangePassword: mustChangePassword,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// NormalizeEmail trims and lower-cases an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks the address shape.
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return oops.Code(CodeInvalidEmail).With("email", email).Errorf("invalid email format")
	}
	return nil
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns ErrDuplicateEmail if the email is
	// already registered.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// UpdatePassword replaces the password hash and sets the forced-change flag.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, mustChangePassword bool) error
}
