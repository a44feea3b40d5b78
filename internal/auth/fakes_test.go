// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package auth_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nexora/agenda/internal/auth"
)

// memUsers is an in-memory UserRepository.
type memUsers struct {
	mu      sync.Mutex
	byID    map[ulid.ULID]*auth.User
	failErr error
	// updateErr fails UpdatePassword only.
	updateErr error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[ulid.ULID]*auth.User)}
}

func (m *memUsers) Create(_ context.Context, user *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	for _, u := range m.byID {
		if u.Email == user.Email {
			return auth.ErrDuplicateEmail
		}
	}
	cp := *user
	m.byID[user.ID] = &cp
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	u, ok := m.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	for _, u := range m.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memUsers) UpdatePassword(_ context.Context, id ulid.ULID, hash string, mustChange bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	u, ok := m.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = hash
	u.MustChangePassword = mustChange
	return nil
}

func (m *memUsers) get(id ulid.ULID) *auth.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

// memTokens is an in-memory TokenRepository keyed by user like the unique
// user_id column.
type memTokens struct {
	mu      sync.Mutex
	byUser  map[ulid.ULID]*auth.TokenPair
	failErr error
}

func newMemTokens() *memTokens {
	return &memTokens{byUser: make(map[ulid.ULID]*auth.TokenPair)}
}

func (m *memTokens) Replace(_ context.Context, pair *auth.TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	cp := *pair
	m.byUser[pair.UserID] = &cp
	return nil
}

func (m *memTokens) GetByAccessHash(_ context.Context, hash string) (*auth.TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	for _, p := range m.byUser {
		if p.AccessTokenHash == hash {
			cp := *p
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memTokens) Rotate(_ context.Context, hash string, now time.Time, next auth.RotateFunc) (*auth.TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	var found *auth.TokenPair
	for _, p := range m.byUser {
		if p.RefreshTokenHash == hash {
			found = p
			break
		}
	}
	if found == nil {
		return nil, auth.ErrNotFound
	}
	delete(m.byUser, found.UserID)
	if found.RefreshExpiredAt(now) {
		return nil, auth.ErrExpired
	}
	pair, err := next(found.UserID)
	if err != nil {
		m.byUser[found.UserID] = found
		return nil, err
	}
	cp := *pair
	m.byUser[pair.UserID] = &cp
	return pair, nil
}

func (m *memTokens) DeleteByUser(_ context.Context, userID ulid.ULID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	delete(m.byUser, userID)
	return nil
}

func (m *memTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	var n int64
	for id, p := range m.byUser {
		if p.RefreshExpiredAt(now) {
			delete(m.byUser, id)
			n++
		}
	}
	return n, nil
}

func (m *memTokens) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byUser)
}

func (m *memTokens) pairOf(userID ulid.ULID) *auth.TokenPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byUser[userID]
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
