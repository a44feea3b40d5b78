// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexora/agenda/internal/auth"
	"github.com/nexora/agenda/internal/config"
	"github.com/nexora/agenda/internal/session"
	"github.com/nexora/agenda/pkg/authapi"
	"github.com/nexora/agenda/pkg/errutil"
)

// memoryStore keeps the session between command runs of one test.
type memoryStore struct {
	mu    sync.Mutex
	creds *session.Credentials
}

func (s *memoryStore) Load(context.Context) (*session.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return nil, nil
	}
	c := *s.creds
	return &c, nil
}

func (s *memoryStore) Save(_ context.Context, creds session.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &creds
	return nil
}

func (s *memoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}

func (s *memoryStore) Close() error { return nil }

type stubAPI struct {
	mu        sync.Mutex
	user      authapi.User
	loginErr  error
	logouts   int
	passwords []authapi.ChangePasswordRequest
}

func (a *stubAPI) pair() *authapi.AuthResponse {
	return &authapi.AuthResponse{
		User:         a.user,
		Token:        "access-" + a.user.ID,
		RefreshToken: "refresh-" + a.user.ID,
		ExpiresAt:    time.Now().Add(auth.AccessTokenTTL),
	}
}

func (a *stubAPI) Register(_ context.Context, req authapi.RegisterRequest) (*authapi.AuthResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.Email = req.Email
	a.user.Name = req.Name
	return a.pair(), nil
}

func (a *stubAPI) Login(context.Context, authapi.LoginRequest) (*authapi.AuthResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loginErr != nil {
		return nil, a.loginErr
	}
	return a.pair(), nil
}

func (a *stubAPI) Me(context.Context, string) (*authapi.MeResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	exp := time.Now().Add(auth.AccessTokenTTL)
	return &authapi.MeResponse{User: a.user, ExpiresAt: &exp}, nil
}

func (a *stubAPI) Refresh(context.Context, string) (*authapi.AuthResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pair(), nil
}

func (a *stubAPI) Logout(context.Context, string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logouts++
	return nil
}

func (a *stubAPI) ChangePassword(_ context.Context, _ string, req authapi.ChangePasswordRequest) (*authapi.SuccessResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.passwords = append(a.passwords, req)
	a.user.MustChangePassword = false
	u := a.user
	return &authapi.SuccessResponse{Success: true, User: &u}, nil
}

func runSession(t *testing.T, store *memoryStore, api *stubAPI, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newSessionCmd(&SessionDeps{
		StoreOpener: func(context.Context, config.ClientConfig) (SessionStore, error) { return store, nil },
		APIFactory:  func(config.ClientConfig) (session.API, error) { return api, nil },
	})
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSessionLoginStatusLogout(t *testing.T) {
	isolate(t)
	store := &memoryStore{}
	api := &stubAPI{user: authapi.User{ID: "u1", Email: "ana@example.com", Role: "user"}}

	out, err := runSession(t, store, api, "secret\n", "login", "--email", "ana@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as ana@example.com")
	require.NotNil(t, store.creds)
	assert.Equal(t, "access-u1", store.creds.AccessToken)

	out, err = runSession(t, store, api, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "State: authenticated")
	assert.Contains(t, out, "User: ana@example.com (user)")

	out, err = runSession(t, store, api, "", "logout", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out")
	assert.Nil(t, store.creds)
	assert.Equal(t, 1, api.logouts)
}

func TestSessionLogout_WithoutForceKeepsSession(t *testing.T) {
	isolate(t)
	store := &memoryStore{}
	api := &stubAPI{user: authapi.User{ID: "u1", Email: "ana@example.com", Role: "user"}}

	_, err := runSession(t, store, api, "secret\n", "login", "--email", "ana@example.com")
	require.NoError(t, err)

	out, err := runSession(t, store, api, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "use --force")
	assert.NotNil(t, store.creds)
	assert.Zero(t, api.logouts)
}

func TestSessionLogout_NotSignedIn(t *testing.T) {
	isolate(t)
	out, err := runSession(t, &memoryStore{}, &stubAPI{}, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Not signed in")
}

func TestSessionLogin_Failure(t *testing.T) {
	isolate(t)
	store := &memoryStore{}
	api := &stubAPI{loginErr: oops.Code(auth.CodeInvalidCredentials).Errorf("Email ou mot de passe incorrect")}

	_, err := runSession(t, store, api, "wrong\n", "login", "--email", "ana@example.com")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	assert.Contains(t, err.Error(), "Email ou mot de passe incorrect")
	assert.Nil(t, store.creds)
}

func TestSessionRegister_PromptsForMissingFields(t *testing.T) {
	isolate(t)
	store := &memoryStore{}
	api := &stubAPI{user: authapi.User{ID: "u2", Role: "user"}}

	out, err := runSession(t, store, api, "bob@example.com\nBob\nabcdef\n", "register")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as bob@example.com")
	assert.Equal(t, "Bob", store.creds.User.Name)
}

func TestSessionPasswd_ClearsForcedChange(t *testing.T) {
	isolate(t)
	store := &memoryStore{}
	api := &stubAPI{user: authapi.User{ID: "u3", Email: "new@example.com", Role: "user", MustChangePassword: true}}

	out, err := runSession(t, store, api, "Initial1!\n", "login", "--email", "new@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "password change is required")

	out, err = runSession(t, store, api, "Initial1!\nChanged1!\nChanged1!\n", "passwd")
	require.NoError(t, err)
	assert.Contains(t, out, "Password changed")
	require.Len(t, api.passwords, 1)
	assert.Equal(t, "Changed1!", api.passwords[0].NewPassword)
	assert.False(t, store.creds.User.MustChangePassword)
}

func TestSessionPasswd_PolicyMessage(t *testing.T) {
	isolate(t)
	store := &memoryStore{}
	api := &stubAPI{user: authapi.User{ID: "u4", Email: "ana@example.com", Role: "user"}}

	_, err := runSession(t, store, api, "secret\n", "login", "--email", "ana@example.com")
	require.NoError(t, err)

	_, err = runSession(t, store, api, "secret\nalllowercase1!\nalllowercase1!\n", "passwd")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodePasswordPolicy)
	assert.Contains(t, err.Error(), "Mot de passe non conforme: "+auth.RuleUppercase)
	assert.Empty(t, api.passwords)
}

func TestSessionPasswd_Unauthenticated(t *testing.T) {
	isolate(t)
	_, err := runSession(t, &memoryStore{}, &stubAPI{}, "", "passwd")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, authapi.CodeUnauthenticated)
}
