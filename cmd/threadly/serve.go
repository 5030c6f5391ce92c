// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/threadly/threadly/internal/auth"
	authpg "github.com/threadly/threadly/internal/auth/postgres"
	"github.com/threadly/threadly/internal/config"
	"github.com/threadly/threadly/internal/httpapi"
	"github.com/threadly/threadly/internal/kv"
	"github.com/threadly/threadly/internal/logging"
	"github.com/threadly/threadly/internal/observability"
	"github.com/threadly/threadly/internal/session"
	"github.com/threadly/threadly/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the JSON API server. It connects to PostgreSQL and the
configured key-value store, retrying while they come up, then serves
until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// runServeWithDeps starts the server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	logger := logging.SetDefault(logging.Options{
		Service: "threadly",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	logger.Info("starting server", "http_addr", cfg.HTTP.Addr, "kv_backend", cfg.KV.Backend)

	db, err := deps.DatabaseConnector(ctx, cfg.Database.URL, cfg.Retry)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to database")

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(deps, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	kvStore, closeKV, err := deps.KVFactory(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("failed to open key-value store: %w", err)
	}
	defer closeKV()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if pg, ok := kvStore.(*kv.PostgresStore); ok {
		go sweepExpired(ctx, pg, cfg.KV.SweepInterval, logger)
	}

	mailer, err := deps.MailerFactory(cfg.Mail, logger)
	if err != nil {
		return fmt.Errorf("failed to set up mail: %w", err)
	}

	registry := prometheus.NewRegistry()
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, map[string]observability.Check{
			"postgres": db.Ping,
			"kv":       kvStore.Ping,
		})
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := obsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		registry = obsServer.Registry()
	}

	handler, err := buildHandler(cfg, db, kvStore, mailer, registry, logger)
	if err != nil {
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.HTTP.Addr, err)
	}

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	addr := listener.Addr().String()
	cmd.Println("Server started")
	logger.Info("server ready", "http_addr", addr)
	deps.OnReady(addr)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down http server", "error", err)
	}

	cmd.Println("Server stopped")
	return nil
}

func buildHandler(
	cfg *config.Config,
	db Database,
	kvStore kv.Store,
	mailer auth.Mailer,
	registry *prometheus.Registry,
	logger *slog.Logger,
) (http.Handler, error) {
	resets, err := auth.NewResetTokenStore(kvStore, cfg.Reset.TTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create reset token store: %w", err)
	}
	links, err := auth.NewResetLinkBuilder(cfg.Reset.LinkBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid reset link base url: %w", err)
	}

	manager, err := auth.NewManager(auth.ManagerDeps{
		Users:   authpg.NewUserRepository(db),
		Hasher:  auth.NewArgon2idHasher(cfg.Hasher),
		Resets:  resets,
		Mailer:  mailer,
		Links:   links,
		Logger:  logger,
		Metrics: auth.NewMetrics(registry),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auth manager: %w", err)
	}

	sessions, err := session.NewManager(kvStore, cfg.Session, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	httpMetrics := observability.NewHTTPMetrics(registry)
	return httpapi.NewHandler(manager, sessions, logger).Routes(httpMetrics.Middleware), nil
}

func autoMigrate(deps *ServeDeps, url string, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(url)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, _, err := migrator.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Info("database schema up to date", "version", version)
	return nil
}

// sweepExpired removes expired kv_entries rows until ctx is done.
func sweepExpired(ctx context.Context, store *kv.PostgresStore, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := store.DeleteExpired(ctx)
			if err != nil {
				errutil.LogErrorContext(ctx, logger, "failed to sweep expired entries", err)
				continue
			}
			if n > 0 {
				logger.DebugContext(ctx, "swept expired entries", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
