// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nexora/agenda/internal/auth"
	"github.com/nexora/agenda/internal/auth/postgres"
	"github.com/nexora/agenda/internal/authclient"
	"github.com/nexora/agenda/internal/config"
	"github.com/nexora/agenda/internal/httpapi"
	"github.com/nexora/agenda/internal/observability"
	"github.com/nexora/agenda/internal/ratelimit"
	"github.com/nexora/agenda/internal/session"
	"github.com/nexora/agenda/internal/session/sqlite"
	"github.com/nexora/agenda/internal/store"
	"github.com/nexora/agenda/internal/xdg"
)

// rateLimitPrefix namespaces limiter keys in Redis.
const rateLimitPrefix = "nexora:ratelimit"

// AutoMigrator is the slice of store.Migrator used at startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// Migrator is the slice of store.Migrator used by the migrate command.
type Migrator interface {
	AutoMigrator
	Down() error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Pending() ([]uint, error)
}

// Accounts is the administrative slice of auth.Service.
type Accounts interface {
	Provision(ctx context.Context, in auth.ProvisionInput) (*auth.User, error)
	RevokeUser(ctx context.Context, email string) error
}

// Purger removes expired token pairs.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Backend is the database-backed core the server and admin commands use.
type Backend struct {
	Service httpapi.AccountService
	Admin   Accounts
	Tokens  Purger
	Ping    func(ctx context.Context) error
	Close   func()
}

// APIServer is the slice of httpapi.Server used by serve.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer is the slice of observability.Server used by serve.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// MigratorFactory opens a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// BackendFactory connects to the database and builds the services.
	// Default: newBackend
	BackendFactory func(ctx context.Context, databaseURL string, logger *slog.Logger) (*Backend, error)

	// LimiterFactory connects the rate limiter. The returned func closes it.
	// Default: newLimiter
	LimiterFactory func(ctx context.Context, redisURL string, cfg config.RateLimitConfig) (httpapi.Limiter, func() error, error)

	// APIServerFactory creates the HTTP API server.
	// Default: httpapi.NewServer
	APIServerFactory func(addr string, handler http.Handler, readHeaderTimeout time.Duration, logger *slog.Logger) APIServer

	// ObservabilityServerFactory creates the metrics and probe server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, gatherer prometheus.Gatherer, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	if d == nil {
		d = &ServeDeps{}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(url string) (AutoMigrator, error) {
			m, err := store.NewMigrator(url)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if d.BackendFactory == nil {
		d.BackendFactory = newBackend
	}
	if d.LimiterFactory == nil {
		d.LimiterFactory = newLimiter
	}
	if d.APIServerFactory == nil {
		d.APIServerFactory = func(addr string, handler http.Handler, readHeaderTimeout time.Duration, logger *slog.Logger) APIServer {
			return httpapi.NewServer(addr, handler, readHeaderTimeout, logger)
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, gatherer prometheus.Gatherer, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, gatherer, ready, logger)
		}
	}
	return d
}

// newBackend wires the PostgreSQL repositories into the auth services.
func newBackend(ctx context.Context, databaseURL string, logger *slog.Logger) (*Backend, error) {
	pool, err := store.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	tokens := auth.NewTokenService(postgres.NewTokenRepository(pool))
	svc, err := auth.NewService(postgres.NewUserRepository(pool), tokens, auth.NewArgon2idHasher(), auth.WithLogger(logger))
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Backend{
		Service: svc,
		Admin:   svc,
		Tokens:  tokens,
		Ping:    pool.Ping,
		Close:   pool.Close,
	}, nil
}

func newLimiter(ctx context.Context, redisURL string, cfg config.RateLimitConfig) (httpapi.Limiter, func() error, error) {
	client, err := ratelimit.Open(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}
	return ratelimit.New(client, rateLimitPrefix, cfg.Requests, cfg.Window), client.Close, nil
}

// MigrateDeps contains injectable dependencies for the migrate commands.
type MigrateDeps struct {
	// MigratorFactory opens a migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

func (d *MigrateDeps) withDefaults() *MigrateDeps {
	if d == nil {
		d = &MigrateDeps{}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(url string) (Migrator, error) {
			m, err := store.NewMigrator(url)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	return d
}

// UserDeps contains injectable dependencies for the user commands.
type UserDeps struct {
	// BackendFactory connects to the database and builds the services.
	// Default: newBackend
	BackendFactory func(ctx context.Context, databaseURL string, logger *slog.Logger) (*Backend, error)
}

func (d *UserDeps) withDefaults() *UserDeps {
	if d == nil {
		d = &UserDeps{}
	}
	if d.BackendFactory == nil {
		d.BackendFactory = newBackend
	}
	return d
}

// SessionStore is a session.Store that holds resources.
type SessionStore interface {
	session.Store
	Close() error
}

// SessionDeps contains injectable dependencies for the session commands.
type SessionDeps struct {
	// StoreOpener opens the durable session store.
	// Default: sqlite.Open at cfg.Client.StatePath or xdg.SessionStatePath
	StoreOpener func(ctx context.Context, cfg config.ClientConfig) (SessionStore, error)

	// APIFactory builds the transport to the auth server.
	// Default: authclient.New
	APIFactory func(cfg config.ClientConfig) (session.API, error)
}

func (d *SessionDeps) withDefaults() *SessionDeps {
	if d == nil {
		d = &SessionDeps{}
	}
	if d.StoreOpener == nil {
		d.StoreOpener = openSessionStore
	}
	if d.APIFactory == nil {
		d.APIFactory = func(cfg config.ClientConfig) (session.API, error) {
			return authclient.New(cfg.BaseURL,
				authclient.WithTimeout(cfg.Timeout),
				authclient.WithRetries(cfg.Retries),
			)
		}
	}
	return d
}

func openSessionStore(ctx context.Context, cfg config.ClientConfig) (SessionStore, error) {
	path := cfg.StatePath
	if path == "" {
		var err error
		if path, err = xdg.SessionStatePath(); err != nil {
			return nil, err
		}
		dir, err := xdg.StateDir()
		if err != nil {
			return nil, err
		}
		if err := xdg.EnsureDir(dir); err != nil {
			return nil, err
		}
	}
	s, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
