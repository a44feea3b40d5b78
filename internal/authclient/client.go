// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

// Package authclient calls the auth HTTP API.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/nexora/agenda/internal/session"
	"github.com/nexora/agenda/pkg/authapi"
	"github.com/nexora/agenda/pkg/errutil"
)

// Defaults for New.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultRetries     = 3
	DefaultBackoffBase = 200 * time.Millisecond
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 1 << 20

// Client implements session.API over HTTP.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	retries uint64
	backoff time.Duration
}

var _ session.API = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithRetries sets how many times idempotent calls are retried.
func WithRetries(n uint64) Option {
	return func(c *Client) { c.retries = n }
}

// WithBackoffBase sets the first retry delay; later delays double.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// New creates a client for the API served at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, oops.Code("CLIENT_URL_INVALID").With("url", baseURL).Wrap(err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, oops.Code("CLIENT_URL_INVALID").With("url", baseURL).Errorf("base url must be http(s)://host")
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: DefaultTimeout},
		retries: DefaultRetries,
		backoff: DefaultBackoffBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, req authapi.RegisterRequest) (*authapi.AuthResponse, error) {
	var resp authapi.AuthResponse
	if err := c.do(ctx, http.MethodPost, authapi.PathRegister, "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, req authapi.LoginRequest) (*authapi.AuthResponse, error) {
	var resp authapi.AuthResponse
	if err := c.do(ctx, http.MethodPost, authapi.PathLogin, "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me returns the user the access token belongs to. Transport failures and
// server errors are retried.
func (c *Client) Me(ctx context.Context, accessToken string) (*authapi.MeResponse, error) {
	var resp authapi.MeResponse
	err := c.withRetry(ctx, func(ctx context.Context) error {
		resp = authapi.MeResponse{}
		return c.do(ctx, http.MethodGet, authapi.PathMe, accessToken, nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh rotates the token pair. It is never retried: a refresh token is
// single use.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*authapi.AuthResponse, error) {
	var resp authapi.AuthResponse
	err := c.do(ctx, http.MethodPost, authapi.PathRefresh, "", authapi.RefreshRequest{RefreshToken: refreshToken}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout revokes the session server side. Transport failures and server
// errors are retried.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.withRetry(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, authapi.PathLogout, accessToken, nil, nil)
	})
}

// ChangePassword replaces the password of the access token's user.
func (c *Client) ChangePassword(ctx context.Context, accessToken string, req authapi.ChangePasswordRequest) (*authapi.SuccessResponse, error) {
	var resp authapi.SuccessResponse
	if err := c.do(ctx, http.MethodPost, authapi.PathChangePassword, accessToken, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(c.retries, retry.NewExponential(c.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// retryable reports whether a repeat of the same call may succeed.
func retryable(err error) bool {
	if errutil.Code(err) == authapi.CodeNetwork {
		return true
	}
	status, ok := errutil.ContextValue(err, "status")
	if !ok {
		return false
	}
	code, _ := status.(int)
	return code >= http.StatusInternalServerError
}

// do sends one request. in, when not nil, is sent as JSON; a 2xx body is
// decoded into out when out is not nil.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return oops.Code("CLIENT_ENCODE_FAILED").With("path", path).Wrap(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return oops.Code("CLIENT_REQUEST_INVALID").With("path", path).Wrap(err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		authapi.SetBearer(req.Header, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return oops.Code(authapi.CodeNetwork).With("path", path).Wrapf(err, "server unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return oops.Code(authapi.CodeNetwork).With("path", path).With("status", resp.StatusCode).Wrapf(err, "reading response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(path, resp, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return oops.Code(authapi.CodeMalformedResponse).
			With("path", path).
			With("status", resp.StatusCode).
			Wrapf(err, "decoding response")
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimSuffix(c.baseURL.String(), "/") + path
}

// responseError turns an error response into an oops error carrying the
// server's code and message.
func responseError(path string, resp *http.Response, data []byte) error {
	var body authapi.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		code := authapi.CodeMalformedResponse
		if resp.StatusCode >= http.StatusInternalServerError {
			code = authapi.CodeInternal
		}
		return oops.Code(code).
			With("path", path).
			With("status", resp.StatusCode).
			Errorf("unexpected response: %s", resp.Status)
	}

	code := body.Code
	if code == "" {
		code = fallbackCode(resp.StatusCode)
	}
	b := oops.Code(code).
		With("path", path).
		With("status", resp.StatusCode)
	if body.Expired {
		b = b.With("expired", true)
	}
	if len(body.Violations) > 0 {
		b = b.With("violations", body.Violations)
	}
	if after := resp.Header.Get("Retry-After"); after != "" {
		if secs, err := strconv.Atoi(after); err == nil {
			b = b.With("retry_after", time.Duration(secs)*time.Second)
		}
	}
	return b.Errorf("%s", body.Error)
}

func fallbackCode(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return authapi.CodeRateLimited
	case status >= http.StatusInternalServerError:
		return authapi.CodeInternal
	default:
		return authapi.CodeMalformedResponse
	}
}
