// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

// Package config holds the nexora configuration: compiled defaults, an
// optional YAML file, and command-line flags layered on top.
package config

import (
	"net"
	"net/url"
	"time"

	"github.com/samber/oops"

	"github.com/nexora/agenda/internal/logging"
)

// Config is the complete nexora configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server" json:"server,omitempty" jsonschema:"description=HTTP API server"`
	Metrics   MetricsConfig   `koanf:"metrics" json:"metrics,omitempty" jsonschema:"description=Metrics and health probe server"`
	Database  DatabaseConfig  `koanf:"database" json:"database,omitempty"`
	Redis     RedisConfig     `koanf:"redis" json:"redis,omitempty"`
	RateLimit RateLimitConfig `koanf:"rate_limit" json:"rate_limit,omitempty"`
	Log       LogConfig       `koanf:"log" json:"log,omitempty"`
	Tokens    TokensConfig    `koanf:"tokens" json:"tokens,omitempty"`
	Client    ClientConfig    `koanf:"client" json:"client,omitempty" jsonschema:"description=Settings for the session commands"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr              string        `koanf:"addr" json:"addr,omitempty"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" json:"read_header_timeout,omitempty"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout,omitempty"`
	AutoMigrate       bool          `koanf:"auto_migrate" json:"auto_migrate,omitempty"`
}

// MetricsConfig configures the observability listener. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty"`
}

// DatabaseConfig holds the PostgreSQL connection URL.
type DatabaseConfig struct {
	URL string `koanf:"url" json:"url,omitempty" jsonschema:"description=PostgreSQL URL; falls back to DATABASE_URL"`
}

// RedisConfig holds the Redis URL used by the rate limiter. Empty disables
// rate limiting.
type RedisConfig struct {
	URL string `koanf:"url" json:"url,omitempty" jsonschema:"description=Redis URL; falls back to REDIS_URL"`
}

// RateLimitConfig bounds requests per client on the credential endpoints.
type RateLimitConfig struct {
	Requests int           `koanf:"requests" json:"requests,omitempty" jsonschema:"minimum=1"`
	Window   time.Duration `koanf:"window" json:"window,omitempty"`
}

// LogConfig selects the log format and level.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// TokensConfig controls server-side token housekeeping.
type TokensConfig struct {
	CleanupInterval time.Duration `koanf:"cleanup_interval" json:"cleanup_interval,omitempty" jsonschema:"description=Interval between purges of expired token pairs; 0s disables"`
}

// ClientConfig configures the session commands.
type ClientConfig struct {
	BaseURL   string        `koanf:"base_url" json:"base_url,omitempty"`
	StatePath string        `koanf:"state_path" json:"state_path,omitempty" jsonschema:"description=Session database path; defaults to the XDG state dir"`
	Timeout   time.Duration `koanf:"timeout" json:"timeout,omitempty"`
	Retries   uint64        `koanf:"retries" json:"retries,omitempty"`
}

// Default values.
const (
	DefaultServerAddr        = "127.0.0.1:8080"
	DefaultMetricsAddr       = "127.0.0.1:9100"
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultRateLimitRequests = 10
	DefaultRateLimitWindow   = time.Minute
	DefaultLogFormat         = "json"
	DefaultLogLevel          = "info"
	DefaultCleanupInterval   = time.Hour
	DefaultClientBaseURL     = "http://127.0.0.1:8080"
	DefaultClientTimeout     = 10 * time.Second
	DefaultClientRetries     = 3
)

// Default returns the compiled defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              DefaultServerAddr,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ShutdownTimeout:   DefaultShutdownTimeout,
		},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
		RateLimit: RateLimitConfig{
			Requests: DefaultRateLimitRequests,
			Window:   DefaultRateLimitWindow,
		},
		Log:    LogConfig{Format: DefaultLogFormat, Level: DefaultLogLevel},
		Tokens: TokensConfig{CleanupInterval: DefaultCleanupInterval},
		Client: ClientConfig{
			BaseURL: DefaultClientBaseURL,
			Timeout: DefaultClientTimeout,
			Retries: DefaultClientRetries,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return invalid("server.addr", "server.addr is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return invalid("server.addr", "server.addr %q is not host:port", c.Server.Addr)
	}
	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return invalid("metrics.addr", "metrics.addr %q is not host:port", c.Metrics.Addr)
		}
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		return invalid("server.read_header_timeout", "server.read_header_timeout must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return invalid("server.shutdown_timeout", "server.shutdown_timeout must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "log.level %q is not a known level", c.Log.Level)
	}
	if c.RateLimit.Requests <= 0 {
		return invalid("rate_limit.requests", "rate_limit.requests must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return invalid("rate_limit.window", "rate_limit.window must be positive")
	}
	if c.Tokens.CleanupInterval < 0 {
		return invalid("tokens.cleanup_interval", "tokens.cleanup_interval cannot be negative")
	}
	return c.validateClient()
}

func (c *Config) validateClient() error {
	u, err := url.Parse(c.Client.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("client.base_url", "client.base_url %q must be an http(s) URL", c.Client.BaseURL)
	}
	if c.Client.Timeout <= 0 {
		return invalid("client.timeout", "client.timeout must be positive")
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
}
