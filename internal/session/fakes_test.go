// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/nexora/agenda/internal/auth"
	"github.com/nexora/agenda/pkg/authapi"
)

// fakeAPI issues numbered token pairs. Each call can be overridden.
// loginGate and refreshGate, when set, block the call until closed;
// loginIn and refreshIn are signalled once the call has started.
type fakeAPI struct {
	mu       sync.Mutex
	seq      int
	ttl      time.Duration
	mustChg  bool
	calls    map[string]int
	lastAuth map[string]string

	loginErr    error
	loginGate   chan struct{}
	loginIn     chan struct{}
	registerErr error
	meFn        func(token string) (*authapi.MeResponse, error)
	refreshErr  error
	refreshGate chan struct{}
	refreshIn   chan struct{}
	logoutErr   error
	changeFn    func(token string, req authapi.ChangePasswordRequest) (*authapi.SuccessResponse, error)

	refreshes atomic.Int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		ttl:      auth.AccessTokenTTL,
		calls:    make(map[string]int),
		lastAuth: make(map[string]string),
	}
}

func (f *fakeAPI) record(op, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	f.lastAuth[op] = token
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) token(op string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth[op]
}

func (f *fakeAPI) issue(email string) *authapi.AuthResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return &authapi.AuthResponse{
		User: authapi.User{
			ID:                 "01HZZZZZZZZZZZZZZZZZZZZZZZ",
			Email:              email,
			Name:               "A",
			Role:               "user",
			MustChangePassword: f.mustChg,
		},
		Token:        fmt.Sprintf("access-%d", f.seq),
		RefreshToken: fmt.Sprintf("refresh-%d", f.seq),
		ExpiresAt:    time.Now().Add(f.ttl),
	}
}

func (f *fakeAPI) Register(_ context.Context, req authapi.RegisterRequest) (*authapi.AuthResponse, error) {
	f.record("register", "")
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return f.issue(req.Email), nil
}

func (f *fakeAPI) Login(_ context.Context, req authapi.LoginRequest) (*authapi.AuthResponse, error) {
	f.record("login", "")
	if f.loginIn != nil {
		f.loginIn <- struct{}{}
	}
	if f.loginGate != nil {
		<-f.loginGate
	}
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.issue(req.Email), nil
}

func (f *fakeAPI) Me(_ context.Context, token string) (*authapi.MeResponse, error) {
	f.record("me", token)
	if f.meFn != nil {
		return f.meFn(token)
	}
	return &authapi.MeResponse{User: authapi.User{Email: "a@b.com"}}, nil
}

func (f *fakeAPI) Refresh(ctx context.Context, token string) (*authapi.AuthResponse, error) {
	f.record("refresh", token)
	f.refreshes.Add(1)
	if f.refreshIn != nil {
		f.refreshIn <- struct{}{}
	}
	if f.refreshGate != nil {
		select {
		case <-f.refreshGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.issue("a@b.com"), nil
}

func (f *fakeAPI) Logout(_ context.Context, token string) error {
	f.record("logout", token)
	return f.logoutErr
}

func (f *fakeAPI) ChangePassword(_ context.Context, token string, req authapi.ChangePasswordRequest) (*authapi.SuccessResponse, error) {
	f.record("change_password", token)
	if f.changeFn != nil {
		return f.changeFn(token, req)
	}
	return &authapi.SuccessResponse{Success: true, User: &authapi.User{Email: "a@b.com"}}, nil
}

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	creds   *Credentials
	loadErr error
	saves   int
	clears  int
}

func (m *memStore) Load(context.Context) (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.creds == nil {
		return nil, nil
	}
	cp := *m.creds
	return &cp, nil
}

func (m *memStore) Save(_ context.Context, creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.creds = &creds
	return nil
}

func (m *memStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	m.creds = nil
	return nil
}

func (m *memStore) stored() *Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return nil
	}
	cp := *m.creds
	return &cp
}

func codeErr(code, msg string) error {
	return oops.Code(code).Errorf("%s", msg)
}
