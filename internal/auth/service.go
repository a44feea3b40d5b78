// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
)

// dummyPasswordHash is verified when no user has the given email so that
// response time does not reveal whether the account exists.
//
//nolint:gosec // G101: fake hash for timing equalization, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// RegisterInput is a self-service registration request.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// ProvisionInput is an administrator-created account.
type ProvisionInput struct {
	Email    string
	Password string
	Name     string
	Role     Role
}

// Service implements the account operations exposed over HTTP.
type Service struct {
	users  UserRepository
	tokens *TokenService
	hasher PasswordHasher
	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a Service.
func NewService(users UserRepository, tokens *TokenService, hasher PasswordHasher, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token service is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	s := &Service{
		users:  users,
		tokens: tokens,
		hasher: hasher,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates a user with role user and issues its first token pair.
// The duplicate check runs before the format checks.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, *Tokens, error) {
	if in.Email == "" || in.Password == "" || strings.TrimSpace(in.Name) == "" {
		return nil, nil, oops.Code(CodeValidation).Errorf("email, password and name are required")
	}
	email := NormalizeEmail(in.Email)

	if err := s.ensureEmailFree(ctx, email); err != nil {
		return nil, nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, nil, err
	}
	if err := CheckRegistrationPassword(in.Password); err != nil {
		return nil, nil, err
	}

	user, err := s.createUser(ctx, email, in.Name, in.Password, RoleUser, false)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, tokens, nil
}

// Login authenticates by email and password. Unknown emails and wrong
// passwords fail with the same error after the same amount of work.
func (s *Service) Login(ctx context.Context, email, password string) (*User, *Tokens, error) {
	if email == "" || password == "" {
		return nil, nil, oops.Code(CodeValidation).Errorf("email and password are required")
	}

	user, lookupErr := s.users.GetByEmail(ctx, NormalizeEmail(email))
	targetHash := dummyPasswordHash
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, nil, storageError("get user by email", lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if user == nil || (verifyErr == nil && !valid) {
		return nil, nil, invalidCredentials()
	}
	if verifyErr != nil {
		return nil, nil, oops.With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	tokens, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, tokens, nil
}

// Me resolves an access token to its user and access expiry.
func (s *Service) Me(ctx context.Context, accessToken string) (*User, time.Time, error) {
	v, err := s.authenticate(ctx, accessToken)
	if err != nil {
		return nil, time.Time{}, err
	}
	user, err := s.getUser(ctx, v)
	if err != nil {
		return nil, time.Time{}, err
	}
	return user, v.ExpiresAt, nil
}

// Refresh rotates the pair holding refreshToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*User, *Tokens, error) {
	if refreshToken == "" {
		return nil, nil, oops.Code(CodeValidation).Errorf("refresh token is required")
	}
	tokens, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, nil, err
	}
	if tokens == nil {
		return nil, nil, oops.Code(CodeRefreshInvalid).Errorf("refresh token is invalid or expired")
	}
	user, err := s.getUser(ctx, Validation{UserID: tokens.UserID})
	if err != nil {
		return nil, nil, err
	}
	return user, tokens, nil
}

// Logout revokes the pair of the user owning accessToken, expired or not.
// Unknown tokens succeed.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return oops.Code(CodeTokenMissing).Errorf("access token is required")
	}
	v, err := s.tokens.Validate(ctx, accessToken)
	if err != nil {
		return err
	}
	if !v.Known() {
		return nil
	}
	return s.tokens.Revoke(ctx, v.UserID)
}

// ChangePassword replaces the password of the token's owner and clears the
// forced-change flag. Every unmet policy rule is reported at once.
func (s *Service) ChangePassword(ctx context.Context, accessToken, current, next string) (*User, error) {
	v, err := s.authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if current == "" || next == "" {
		return nil, oops.Code(CodeValidation).Errorf("current and new password are required")
	}
	user, err := s.getUser(ctx, v)
	if err != nil {
		return nil, err
	}

	ok, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return nil, oops.With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if !ok {
		return nil, oops.Code(CodeIncorrectPassword).Errorf("current password is incorrect")
	}
	if err := ValidateNewPassword(next); err != nil {
		return nil, err
	}
	if next == current {
		return nil, oops.Code(CodeSamePassword).Errorf("new password must differ from the current one")
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return nil, oops.With("operation", "hash password").Wrap(err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, false); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, userNotFound(err)
		}
		return nil, storageError("update password", err)
	}

	user.PasswordHash = hash
	user.MustChangePassword = false
	user.UpdatedAt = time.Now().UTC()
	return user, nil
}

// Provision creates an account on behalf of an administrator. The initial
// password must satisfy the full policy and must be changed at first login.
func (s *Service) Provision(ctx context.Context, in ProvisionInput) (*User, error) {
	if in.Email == "" || in.Password == "" || strings.TrimSpace(in.Name) == "" {
		return nil, oops.Code(CodeValidation).Errorf("email, password and name are required")
	}
	if in.Role == "" {
		in.Role = RoleUser
	}
	email := NormalizeEmail(in.Email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidateNewPassword(in.Password); err != nil {
		return nil, err
	}
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return nil, err
	}
	return s.createUser(ctx, email, in.Name, in.Password, in.Role, true)
}

// RevokeUser ends the session of the user registered under email.
func (s *Service) RevokeUser(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return userNotFound(err)
		}
		return storageError("get user by email", err)
	}
	return s.tokens.Revoke(ctx, user.ID)
}

// authenticate requires a currently valid access token.
func (s *Service) authenticate(ctx context.Context, accessToken string) (Validation, error) {
	if accessToken == "" {
		return Validation{}, oops.Code(CodeTokenMissing).Errorf("access token is required")
	}
	v, err := s.tokens.Validate(ctx, accessToken)
	if err != nil {
		return Validation{}, err
	}
	if v.Expired {
		return v, oops.Code(CodeTokenExpired).
			With("expired_at", v.ExpiresAt).
			Errorf("access token expired")
	}
	if !v.Valid {
		return v, oops.Code(CodeTokenInvalid).Errorf("access token is invalid")
	}
	return v, nil
}

func (s *Service) getUser(ctx context.Context, v Validation) (*User, error) {
	user, err := s.users.GetByID(ctx, v.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, userNotFound(err)
		}
		return nil, storageError("get user by id", err)
	}
	return user, nil
}

func (s *Service) ensureEmailFree(ctx context.Context, email string) error {
	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return emailTaken()
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return storageError("get user by email", err)
	}
}

func (s *Service) createUser(ctx context.Context, email, name, password string, role Role, mustChange bool) (*User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.With("operation", "hash password").Wrap(err)
	}
	user, err := NewUser(email, strings.TrimSpace(name), hash, role, mustChange)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, emailTaken()
		}
		return nil, storageError("create user", err)
	}
	return user, nil
}

// upgradeHash rehashes with current costs. Login succeeds regardless.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, user.ID, hash, user.MustChangePassword)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "best-effort password hash upgrade failed",
			"operation", "upgrade_hash",
			"user_id", user.ID.String(),
			"error", err.Error())
		return
	}
	user.PasswordHash = hash
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}

func emailTaken() error {
	return oops.Code(CodeEmailTaken).Errorf("email is already registered")
}

func userNotFound(err error) error {
	return oops.Code(CodeUserNotFound).Wrap(err)
}
