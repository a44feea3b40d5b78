// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/nexora/agenda/internal/config"
	"github.com/nexora/agenda/internal/httpapi"
	"github.com/nexora/agenda/internal/logging"
	"github.com/nexora/agenda/internal/observability"
	"github.com/nexora/agenda/pkg/errutil"
)

// serveFlagKeys maps serve flags onto configuration keys.
var serveFlagKeys = config.FlagKeys{
	"addr":         "server.addr",
	"metrics-addr": "metrics.addr",
	"auto-migrate": "server.auto_migrate",
	"log-format":   "log.format",
	"log-level":    "log.level",
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication API server",
		Long: `Run the HTTP authentication API. The server connects to PostgreSQL,
optionally to Redis for rate limiting, exposes metrics and health probes,
and purges expired token pairs in the background.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), serveFlagKeys)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().String("addr", config.DefaultServerAddr, "API listen address")
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().Bool("auto-migrate", false, "apply pending database migrations before serving")
	cmd.Flags().String("log-format", config.DefaultLogFormat, "log format (json or text)")
	cmd.Flags().String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")

	return cmd
}

// runServeWithDeps runs the server until a signal arrives, ctx ends or a
// listener fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	logger := logging.Setup(logging.Options{
		Service: "nexora",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	}, logOutput(cmd))
	slog.SetDefault(logger)

	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			With("field", "database.url").
			Errorf("database.url or %s is required", config.EnvDatabaseURL)
	}

	if cfg.Server.AutoMigrate {
		if err := runAutoMigration(cfg.Database.URL, deps.MigratorFactory, logger); err != nil {
			return err
		}
	}

	backend, err := deps.BackendFactory(ctx, cfg.Database.URL, logger)
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	defer backend.Close()
	logger.Info("connected to database")

	reg := observability.NewRegistry()
	metrics := observability.NewMetrics(reg)
	opts := []httpapi.Option{httpapi.WithLogger(logger), httpapi.WithMetrics(metrics)}

	if cfg.Redis.URL != "" {
		limiter, closeLimiter, err := deps.LimiterFactory(ctx, cfg.Redis.URL, cfg.RateLimit)
		if err != nil {
			return oops.With("operation", "connect to redis").Wrap(err)
		}
		defer func() {
			if err := closeLimiter(); err != nil {
				logger.Warn("error closing rate limiter", "error", err.Error())
			}
		}()
		opts = append(opts, httpapi.WithLimiter(limiter))
		logger.Info("rate limiting enabled",
			"requests", cfg.RateLimit.Requests,
			"window", cfg.RateLimit.Window.String(),
		)
	} else {
		logger.Info("rate limiting disabled: no redis url configured")
	}

	api := httpapi.New(backend.Service, opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	apiServer := deps.APIServerFactory(cfg.Server.Addr, api.Handler(), cfg.Server.ReadHeaderTimeout, logger)
	apiErrChan, err := apiServer.Start()
	if err != nil {
		return oops.With("operation", "start api server").Wrap(err)
	}

	var obsServer ObservabilityServer
	var obsErrChan <-chan error
	if cfg.Metrics.Addr != "" {
		ready := func(ctx context.Context) bool { return backend.Ping(ctx) == nil }
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, reg, ready, logger)
		obsErrChan, err = obsServer.Start()
		if err != nil {
			stopServer(apiServer, cfg.Server.ShutdownTimeout, logger, "api")
			return oops.With("operation", "start observability server").Wrap(err)
		}
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	var janitor sync.WaitGroup
	if cfg.Tokens.CleanupInterval > 0 {
		janitor.Add(1)
		go func() {
			defer janitor.Done()
			runJanitor(ctx, backend.Tokens, cfg.Tokens.CleanupInterval, metrics, logger)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Printf("nexora listening on %s\n", apiServer.Addr())

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-apiErrChan:
		if err != nil {
			runErr = oops.Code("API_SERVER_FAILED").Wrap(err)
		}
	case err := <-obsErrChan:
		if err != nil {
			runErr = oops.Code("OBSERVABILITY_SERVER_FAILED").Wrap(err)
		}
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	cancel()
	janitor.Wait()

	stopServer(apiServer, cfg.Server.ShutdownTimeout, logger, "api")
	if obsServer != nil {
		stopServer(obsServer, cfg.Server.ShutdownTimeout, logger, "observability")
	}

	logger.Info("shutdown complete")
	return runErr
}

type stopper interface {
	Stop(ctx context.Context) error
}

func stopServer(s stopper, timeout time.Duration, logger *slog.Logger, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("error stopping server", "server", name, "error", err.Error())
	}
}

// runAutoMigration applies pending migrations with a short-lived migrator.
func runAutoMigration(databaseURL string, factory func(string) (AutoMigrator, error), logger *slog.Logger) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr.Error())
		}
	}()

	logger.Info("running database migrations")
	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database migrations complete")
	return nil
}

// runJanitor purges expired token pairs every interval until ctx ends.
func runJanitor(ctx context.Context, purger Purger, interval time.Duration, metrics *observability.Metrics, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeOnce(ctx, purger, metrics, logger)
		}
	}
}

func purgeOnce(ctx context.Context, purger Purger, metrics *observability.Metrics, logger *slog.Logger) {
	n, err := purger.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			errutil.LogErrorContext(ctx, logger, "token purge failed", err)
		}
		return
	}
	if metrics != nil {
		metrics.TokenPairsPurge.Add(float64(n))
	}
	if n > 0 {
		logger.InfoContext(ctx, "purged expired token pairs", "count", n)
	}
}

// logOutput sends logs to the command's error stream.
func logOutput(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stderr
	}
	return cmd.ErrOrStderr()
}
