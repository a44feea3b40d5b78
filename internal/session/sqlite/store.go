// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

// Package sqlite persists a session in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/samber/oops"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/nexora/agenda/internal/session"
	"github.com/nexora/agenda/internal/session/sqlite/migrations"
)

// Keys of the session_state table.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
	KeyExpiresAt    = "expires_at"
)

var stateKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser, KeyExpiresAt}

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// Store implements session.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ session.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, oops.Code("SESSION_STORE_OPEN_FAILED").With("path", path).Wrap(err)
	}
	// A single connection serializes writers and keeps :memory: databases whole.
	db.SetMaxOpenConns(1)

	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, oops.With("path", path).Wrap(err)
	}
	return s, nil
}

// New migrates db and wraps it.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := migrate(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return oops.Code("SESSION_STORE_MIGRATE_FAILED").Wrap(err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return oops.Code("SESSION_STORE_MIGRATE_FAILED").Wrap(err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the stored session, or nil when any of its keys is missing
// or unreadable.
func (s *Store) Load(ctx context.Context) (*session.Credentials, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM session_state`)
	if err != nil {
		return nil, oops.Code("SESSION_STORE_READ_FAILED").Wrap(err)
	}
	defer rows.Close()

	values := make(map[string]string, len(stateKeys))
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, oops.Code("SESSION_STORE_READ_FAILED").Wrap(err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_STORE_READ_FAILED").Wrap(err)
	}

	for _, key := range stateKeys {
		if values[key] == "" {
			return nil, nil
		}
	}

	creds := &session.Credentials{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
	}
	if err := json.Unmarshal([]byte(values[KeyUser]), &creds.User); err != nil {
		return nil, nil //nolint:nilerr // a corrupt entry is the same as no session
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, values[KeyExpiresAt])
	if err != nil {
		return nil, nil //nolint:nilerr // a corrupt entry is the same as no session
	}
	creds.ExpiresAt = expiresAt
	return creds, nil
}

// Save replaces the stored session.
func (s *Store) Save(ctx context.Context, creds session.Credentials) error {
	user, err := json.Marshal(creds.User)
	if err != nil {
		return oops.Code("SESSION_STORE_WRITE_FAILED").Wrap(err)
	}
	values := map[string]string{
		KeyAccessToken:  creds.AccessToken,
		KeyRefreshToken: creds.RefreshToken,
		KeyUser:         string(user),
		KeyExpiresAt:    creds.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, key := range stateKeys {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO session_state (key, value, updated_at)
				VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
			`, key, values[key])
			if err != nil {
				return oops.Code("SESSION_STORE_WRITE_FAILED").With("key", key).Wrap(err)
			}
		}
		return nil
	})
}

// Clear removes the stored session.
func (s *Store) Clear(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, key := range stateKeys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM session_state WHERE key = ?`, key); err != nil {
				return oops.Code("SESSION_STORE_WRITE_FAILED").With("key", key).Wrap(err)
			}
		}
		return nil
	})
}

// withTx commits when fn succeeds and rolls back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.Code("SESSION_STORE_WRITE_FAILED").Wrap(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = oops.Code("SESSION_STORE_WRITE_FAILED").Wrap(cerr)
		}
	}()
	return fn(tx)
}
