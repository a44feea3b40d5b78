// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

// Package session keeps one caller's authentication alive: it holds the
// token pair, persists it, refreshes it ahead of expiry and enforces the
// forced password change.
package session

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/nexora/agenda/internal/auth"
	"github.com/nexora/agenda/pkg/authapi"
	"github.com/nexora/agenda/pkg/errutil"
)

// DefaultRefreshLead is how long before access expiry the refresh fires.
const DefaultRefreshLead = 2 * time.Minute

// DefaultMinRefreshInterval is the shortest gap between a successful
// rotation and the next scheduled one. It only matters when the server's
// expiry already falls inside the lead by the local clock.
const DefaultMinRefreshInterval = 30 * time.Second

// Client is a session state machine. It is safe for concurrent use.
type Client struct {
	api    API
	store  Store
	logger *slog.Logger
	now    func() time.Time
	lead   time.Duration
	minGap time.Duration

	// bg is the parent of scheduled refreshes; Close cancels it.
	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	creds      *Credentials
	epoch      uint64
	refreshing bool
	logins     int
	rotatedAt  time.Time
	timer      *time.Timer
	listeners  []func(State)
	closed     bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRefreshLead overrides DefaultRefreshLead.
func WithRefreshLead(d time.Duration) Option {
	return func(c *Client) { c.lead = d }
}

// WithMinRefreshInterval overrides DefaultMinRefreshInterval.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(c *Client) { c.minGap = d }
}

// New creates an unauthenticated client. Call Start to resume a stored
// session and Close to stop its timer.
func New(api API, store Store, opts ...Option) *Client {
	c := &Client{
		api:    api,
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		lead:   DefaultRefreshLead,
		minGap: DefaultMinRefreshInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.bg, c.cancel = context.WithCancel(context.Background())
	return c
}

// Start resumes the stored session. An expired access token is refreshed
// right away; otherwise the token is checked with the server. A session
// that cannot be resumed is cleared. Only store failures are returned.
func (c *Client) Start(ctx context.Context) error {
	creds, err := c.store.Load(ctx)
	if err != nil {
		return oops.With("operation", "load session").Wrap(err)
	}
	if creds == nil {
		c.mu.Lock()
		prev := c.state
		c.state = StateUnauthenticated
		c.unlockNotify(prev)
		return nil
	}

	c.mu.Lock()
	prev := c.state
	c.epoch++
	epoch := c.epoch
	c.creds = creds
	c.state = StateAuthenticating
	c.unlockNotify(prev)

	if !c.now().Before(creds.ExpiresAt) {
		if err := c.Refresh(ctx); err != nil {
			c.logger.InfoContext(ctx, "stored session could not be refreshed", "error", err.Error())
		}
		return nil
	}

	me, err := c.api.Me(ctx, creds.AccessToken)
	switch {
	case err == nil:
		c.mu.Lock()
		if c.epoch != epoch {
			c.mu.Unlock()
			return nil
		}
		prev := c.state
		next := *creds
		next.User = me.User
		if me.ExpiresAt != nil {
			next.ExpiresAt = *me.ExpiresAt
		}
		c.establishLocked(ctx, next)
		c.unlockNotify(prev)
	case isExpired(err):
		if err := c.Refresh(ctx); err != nil {
			c.logger.InfoContext(ctx, "stored session could not be refreshed", "error", err.Error())
		}
	default:
		c.logger.InfoContext(ctx, "stored session rejected", "error", err.Error())
		c.mu.Lock()
		if c.epoch != epoch {
			c.mu.Unlock()
			return nil
		}
		prev := c.state
		c.endLocked(ctx, StateUnauthenticated)
		c.unlockNotify(prev)
	}
	return nil
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, email, password string) error {
	return c.authenticate(ctx, func() (*authapi.AuthResponse, error) {
		return c.api.Login(ctx, authapi.LoginRequest{Email: email, Password: password})
	})
}

// Register creates an account and signs in with it.
func (c *Client) Register(ctx context.Context, email, password, name string) error {
	return c.authenticate(ctx, func() (*authapi.AuthResponse, error) {
		return c.api.Register(ctx, authapi.RegisterRequest{Email: email, Password: password, Name: name})
	})
}

// authenticate runs a login-like call. A newer login or a logout that
// lands while the call is in flight wins over its result.
func (c *Client) authenticate(ctx context.Context, call func() (*authapi.AuthResponse, error)) error {
	c.mu.Lock()
	prev := c.state
	c.epoch++
	epoch := c.epoch
	c.logins++
	c.stopTimerLocked()
	c.state = StateAuthenticating
	c.unlockNotify(prev)

	resp, err := call()

	c.mu.Lock()
	c.logins--
	if c.epoch != epoch {
		c.mu.Unlock()
		if err != nil {
			return err
		}
		return errSuperseded()
	}
	from := c.state
	if err != nil {
		if c.creds != nil {
			// The previous session is still held; keep it.
			c.state = stateFor(c.creds.User)
			c.armLocked(c.creds.ExpiresAt)
		} else {
			c.state = StateUnauthenticated
		}
		c.unlockNotify(from)
		return err
	}
	c.rotatedAt = time.Time{}
	c.establishLocked(ctx, credentialsFrom(resp))
	c.unlockNotify(from)
	return nil
}

// Refresh rotates the token pair. It fails with SESSION_REFRESH_IN_PROGRESS
// while another refresh or a login is in flight. A rejected refresh ends
// the session.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.refreshing || c.logins > 0 {
		c.mu.Unlock()
		return errRefreshInProgress()
	}
	if c.creds == nil {
		c.mu.Unlock()
		return errUnauthenticated()
	}
	prev := c.state
	c.refreshing = true
	epoch := c.epoch
	refreshToken := c.creds.RefreshToken
	c.stopTimerLocked()
	c.state = StateRefreshing
	c.unlockNotify(prev)

	resp, err := c.api.Refresh(ctx, refreshToken)

	c.mu.Lock()
	c.refreshing = false
	if c.epoch != epoch || c.closed {
		c.mu.Unlock()
		return errSuperseded()
	}
	from := c.state
	if err != nil {
		c.endLocked(ctx, StateUnauthenticated)
		c.unlockNotify(from)
		return err
	}
	c.rotatedAt = c.now()
	c.establishLocked(ctx, credentialsFrom(resp))
	c.unlockNotify(from)
	return nil
}

// Logout ends the session. Unless force is set it first tries a refresh,
// and a successful refresh keeps the session: the result is false and
// nothing is cleared. Ending a session revokes it on the server on a best
// effort basis and always clears the local copy.
func (c *Client) Logout(ctx context.Context, force bool) (bool, error) {
	// A failed refresh drops the credentials, so keep the token to revoke.
	c.mu.Lock()
	var accessToken string
	if c.creds != nil {
		accessToken = c.creds.AccessToken
	}
	c.mu.Unlock()

	if !force {
		err := c.Refresh(ctx)
		if err == nil {
			return false, nil
		}
		if errutil.Code(err) == authapi.CodeRefreshInProgress {
			return false, err
		}
	}

	c.mu.Lock()
	c.epoch++
	c.stopTimerLocked()
	if c.creds != nil {
		accessToken = c.creds.AccessToken
	}
	c.mu.Unlock()

	if accessToken != "" {
		if err := c.api.Logout(ctx, accessToken); err != nil {
			c.logger.WarnContext(ctx, "best-effort server logout failed", "error", err.Error())
		}
	}

	c.mu.Lock()
	prev := c.state
	c.endLocked(ctx, StateLoggedOut)
	c.unlockNotify(prev)
	return true, nil
}

// ChangePassword replaces the password. confirm must repeat next, and next
// must satisfy the password policy and differ from current; these are
// checked before any call. A rejected access token triggers one refresh
// and one retry.
func (c *Client) ChangePassword(ctx context.Context, current, next, confirm string) error {
	if current == "" || next == "" {
		return oops.Code(auth.CodeValidation).Errorf("Mot de passe actuel et nouveau mot de passe requis")
	}
	if next != confirm {
		return oops.Code(authapi.CodePasswordMismatch).Errorf("Les mots de passe ne correspondent pas")
	}
	if violations := auth.CheckPasswordPolicy(next); len(violations) > 0 {
		return auth.PasswordPolicyError(violations)
	}
	if next == current {
		return oops.Code(auth.CodeSamePassword).Errorf("Le nouveau mot de passe doit etre different de l'ancien")
	}

	req := authapi.ChangePasswordRequest{CurrentPassword: current, NewPassword: next}
	resp, err := c.changePassword(ctx, req)
	if err != nil && isTokenRejection(err) {
		if refreshErr := c.Refresh(ctx); refreshErr != nil {
			return oops.Code(authapi.CodeUnauthenticated).
				With("refresh_error", refreshErr.Error()).
				Errorf("Non authentifie")
		}
		resp, err = c.changePassword(ctx, req)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.creds == nil {
		c.mu.Unlock()
		return errSuperseded()
	}
	prev := c.state
	updated := *c.creds
	if resp.User != nil {
		updated.User = *resp.User
	}
	updated.User.MustChangePassword = false
	c.updateUserLocked(ctx, updated.User)
	c.unlockNotify(prev)
	return nil
}

func (c *Client) changePassword(ctx context.Context, req authapi.ChangePasswordRequest) (*authapi.SuccessResponse, error) {
	c.mu.Lock()
	if c.creds == nil {
		c.mu.Unlock()
		return nil, errUnauthenticated()
	}
	accessToken := c.creds.AccessToken
	c.mu.Unlock()
	return c.api.ChangePassword(ctx, accessToken, req)
}

// AuthHeader returns the bearer header for API calls. It is empty unless
// the session is authenticated or refreshing, and while a password change
// is required.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds != nil && !c.creds.User.MustChangePassword &&
		(c.state == StateAuthenticated || c.state == StateRefreshing) {
		authapi.SetBearer(h, c.creds.AccessToken)
	}
	return h
}

// Authorize reports why AuthHeader would be empty, or nil.
func (c *Client) Authorize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.creds == nil:
		return errUnauthenticated()
	case c.state == StatePasswordChangeRequired:
		return errPasswordChangeRequired()
	default:
		return nil
	}
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// User returns a copy of the signed-in user, or nil.
func (c *Client) User() *authapi.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds == nil {
		return nil
	}
	u := c.creds.User
	return &u
}

// MustChangePassword reports whether the signed-in user has to change
// their password before doing anything else.
func (c *Client) MustChangePassword() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds != nil && c.creds.User.MustChangePassword
}

// ExpiresAt returns the access token expiry, or the zero time.
func (c *Client) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds == nil {
		return time.Time{}
	}
	return c.creds.ExpiresAt
}

// OnChange registers fn to be called after every state change. fn runs
// outside the client's lock.
func (c *Client) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Close stops the refresh timer and waits for a running scheduled refresh.
// The stored session is kept.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// establishLocked installs creds, persists them and arms the timer. It
// starts a new epoch, so a refresh still carrying the replaced pair cannot
// end the session it finds.
func (c *Client) establishLocked(ctx context.Context, creds Credentials) {
	c.epoch++
	c.creds = &creds
	c.state = stateFor(creds.User)
	if err := c.store.Save(ctx, creds); err != nil {
		c.logger.WarnContext(ctx, "session not persisted", "error", err.Error())
	}
	c.armLocked(creds.ExpiresAt)
}

// updateUserLocked replaces the held user and persists it. The token pair,
// the timer and any refresh in flight are left alone.
func (c *Client) updateUserLocked(ctx context.Context, user authapi.User) {
	updated := *c.creds
	updated.User = user
	c.creds = &updated
	if c.state != StateRefreshing {
		c.state = stateFor(user)
	}
	if err := c.store.Save(ctx, updated); err != nil {
		c.logger.WarnContext(ctx, "session not persisted", "error", err.Error())
	}
}

// endLocked drops the credentials everywhere and moves to state.
func (c *Client) endLocked(ctx context.Context, state State) {
	c.epoch++
	c.stopTimerLocked()
	c.creds = nil
	c.rotatedAt = time.Time{}
	c.state = state
	if err := c.store.Clear(ctx); err != nil {
		c.logger.WarnContext(ctx, "stored session not cleared", "error", err.Error())
	}
}

// armLocked schedules a refresh lead before expiresAt, or right away when
// that moment has passed. Right after a rotation the refresh waits at least
// minGap, so a skewed clock cannot make rotations run back to back.
func (c *Client) armLocked(expiresAt time.Time) {
	c.stopTimerLocked()
	if c.closed {
		return
	}
	epoch := c.epoch
	now := c.now()
	delay := expiresAt.Sub(now) - c.lead
	if !c.rotatedAt.IsZero() {
		if floor := c.minGap - now.Sub(c.rotatedAt); delay < floor {
			delay = floor
		}
	}
	if delay <= 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.scheduledRefresh(epoch)
		}()
		return
	}
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.wg.Add(1)
		c.mu.Unlock()
		defer c.wg.Done()
		c.scheduledRefresh(epoch)
	})
}

func (c *Client) scheduledRefresh(epoch uint64) {
	c.mu.Lock()
	current := c.epoch == epoch
	c.mu.Unlock()
	if !current {
		return
	}
	if err := c.Refresh(c.bg); err != nil && errutil.Code(err) != authapi.CodeRefreshInProgress {
		c.logger.Info("scheduled refresh ended the session", "error", err.Error())
	}
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// unlockNotify releases the lock and tells listeners about the state
// reached, if it differs from prev.
func (c *Client) unlockNotify(prev State) {
	state := c.state
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()
	if state == prev {
		return
	}
	for _, fn := range listeners {
		fn(state)
	}
}

func stateFor(u authapi.User) State {
	if u.MustChangePassword {
		return StatePasswordChangeRequired
	}
	return StateAuthenticated
}

func credentialsFrom(resp *authapi.AuthResponse) Credentials {
	return Credentials{
		AccessToken:  resp.Token,
		RefreshToken: resp.RefreshToken,
		User:         resp.User,
		ExpiresAt:    resp.ExpiresAt,
	}
}

func isExpired(err error) bool {
	return errutil.Code(err) == auth.CodeTokenExpired
}
