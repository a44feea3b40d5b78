// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

// Package httpapi serves the /auth JSON endpoints on top of the account
// service.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/nexora/agenda/internal/auth"
	"github.com/nexora/agenda/internal/observability"
	"github.com/nexora/agenda/internal/ratelimit"
	"github.com/nexora/agenda/pkg/authapi"
	"github.com/nexora/agenda/pkg/errutil"
)

// maxBodyBytes caps request bodies. Every request body here is a few
// short strings.
const maxBodyBytes = 64 << 10

// AccountService is the slice of auth.Service the handlers call.
type AccountService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.User, *auth.Tokens, error)
	Login(ctx context.Context, email, password string) (*auth.User, *auth.Tokens, error)
	Me(ctx context.Context, accessToken string) (*auth.User, time.Time, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.User, *auth.Tokens, error)
	Logout(ctx context.Context, accessToken string) error
	ChangePassword(ctx context.Context, accessToken, current, next string) (*auth.User, error)
}

// Limiter admits or rejects a request for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (*ratelimit.Result, error)
}

// compile-time check
var _ AccountService = (*auth.Service)(nil)

// API holds the handlers and their collaborators.
type API struct {
	svc     AccountService
	logger  *slog.Logger
	metrics *observability.Metrics
	limiter Limiter
	now     func() time.Time
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *API) { a.metrics = m }
}

// WithLimiter rate limits the credential endpoints. Without it no limit
// applies.
func WithLimiter(l Limiter) Option {
	return func(a *API) { a.limiter = l }
}

// New creates the API over svc.
func New(svc AccountService, opts ...Option) *API {
	a := &API{svc: svc, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authapi.RegisterRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, epRegister, err)
		return
	}
	user, tokens, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		a.fail(w, r, epRegister, err)
		return
	}
	a.metrics.RecordOperation(epRegister.name, "")
	writeJSON(w, http.StatusCreated, authResponse(user, tokens))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authapi.LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, epLogin, err)
		return
	}
	user, tokens, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, epLogin, err)
		return
	}
	a.metrics.RecordOperation(epLogin.name, "")
	writeJSON(w, http.StatusOK, authResponse(user, tokens))
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, expiresAt, err := a.svc.Me(r.Context(), authapi.BearerToken(r))
	if err != nil {
		a.fail(w, r, epMe, err)
		return
	}
	a.metrics.RecordOperation(epMe.name, "")
	resp := authapi.MeResponse{User: userJSON(user)}
	if !expiresAt.IsZero() {
		resp.ExpiresAt = &expiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authapi.RefreshRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.fail(w, r, epRefresh, err)
		return
	}
	user, tokens, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.fail(w, r, epRefresh, err)
		return
	}
	a.metrics.RecordOperation(epRefresh.name, "")
	writeJSON(w, http.StatusOK, authResponse(user, tokens))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Logout(r.Context(), authapi.BearerToken(r)); err != nil {
		a.fail(w, r, epLogout, err)
		return
	}
	a.metrics.RecordOperation(epLogout.name, "")
	writeJSON(w, http.StatusOK, authapi.SuccessResponse{Success: true})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req authapi.ChangePasswordRequest
	if err := decodeBody(w, r, &req); err != nil {
		// Empty fields are reported by the service after the token checks.
		req = authapi.ChangePasswordRequest{}
	}
	user, err := a.svc.ChangePassword(r.Context(), authapi.BearerToken(r), req.CurrentPassword, req.NewPassword)
	if err != nil {
		a.fail(w, r, epChangePassword, err)
		return
	}
	a.metrics.RecordOperation(epChangePassword.name, "")
	u := userJSON(user)
	writeJSON(w, http.StatusOK, authapi.SuccessResponse{Success: true, User: &u})
}

// fail writes the error response for err. Server faults are logged.
func (a *API) fail(w http.ResponseWriter, r *http.Request, ep endpoint, err error) {
	status, body, known := ep.errorResponse(err)
	if !known || status >= http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), a.logger, "request failed", oops.With("endpoint", ep.name).Wrap(err))
	}
	a.metrics.RecordOperation(ep.name, body.Code)
	writeJSON(w, status, body)
}

// decodeBody reads a JSON object into v. Malformed or oversized bodies are
// validation failures.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return oops.Code(auth.CodeValidation).Errorf("request body is empty")
		}
		return oops.Code(auth.CodeValidation).Wrapf(err, "request body is not valid JSON")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(v)
}

func userJSON(u *auth.User) authapi.User {
	return authapi.User{
		ID:                 u.ID.String(),
		Email:              u.Email,
		Name:               u.Name,
		Avatar:             u.Avatar,
		Role:               string(u.Role),
		MustChangePassword: u.MustChangePassword,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

func authResponse(u *auth.User, t *auth.Tokens) authapi.AuthResponse {
	return authapi.AuthResponse{
		User:         userJSON(u),
		Token:        t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.AccessExpiresAt,
	}
}
