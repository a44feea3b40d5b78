// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package authapi

import "time"

// Endpoint paths, relative to the server base URL.
const (
	PathRegister       = "/auth/register"
	PathLogin          = "/auth/login"
	PathMe             = "/auth/me"
	PathRefresh        = "/auth/refresh"
	PathLogout         = "/auth/logout"
	PathChangePassword = "/auth/change-password"
)

// User is the public view of an account. It never carries the password.
type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	Name               string    `json:"name"`
	Avatar             *string   `json:"avatar,omitempty"`
	Role               string    `json:"role"`
	MustChangePassword bool      `json:"mustChangePassword"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ChangePasswordRequest is the body of POST /auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// AuthResponse is returned by register, login and refresh. ExpiresAt is the
// access token expiry.
type AuthResponse struct {
	User         User      `json:"user"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// MeResponse is returned by GET /auth/me.
type MeResponse struct {
	User      User       `json:"user"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// SuccessResponse is returned by logout and change-password. User is set by
// change-password only.
type SuccessResponse struct {
	Success bool  `json:"success"`
	User    *User `json:"user,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string   `json:"error"`
	Code       string   `json:"code,omitempty"`
	Expired    bool     `json:"expired,omitempty"`
	Violations []string `json:"violations,omitempty"`
}
