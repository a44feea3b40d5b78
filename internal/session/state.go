// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package session

import (
	"context"
	"time"

	"github.com/nexora/agenda/pkg/authapi"
)

// State is the position of a session in its lifecycle.
type State int

// Session states.
const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
	StatePasswordChangeRequired
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StatePasswordChangeRequired:
		return "password_change_required"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Credentials is the durable part of a session. ExpiresAt is the access
// token expiry.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	User         authapi.User
	ExpiresAt    time.Time
}

// Store persists Credentials between runs. Save and Clear write all fields
// or none.
type Store interface {
	// Load returns nil, nil when no complete session is stored.
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}

// API is the server boundary used by the client.
type API interface {
	Register(ctx context.Context, req authapi.RegisterRequest) (*authapi.AuthResponse, error)
	Login(ctx context.Context, req authapi.LoginRequest) (*authapi.AuthResponse, error)
	Me(ctx context.Context, accessToken string) (*authapi.MeResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*authapi.AuthResponse, error)
	Logout(ctx context.Context, accessToken string) error
	ChangePassword(ctx context.Context, accessToken string, req authapi.ChangePasswordRequest) (*authapi.SuccessResponse, error)
}
