// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/threadly/threadly/internal/config"
	"github.com/threadly/threadly/internal/email"
	"github.com/threadly/threadly/internal/kv"
	"github.com/threadly/threadly/internal/observability"
	"github.com/threadly/threadly/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// DatabaseConnector opens the PostgreSQL pool.
	// Default: store.Connect
	DatabaseConnector func(ctx context.Context, url string, policy store.RetryPolicy) (Database, error)

	// KVFactory builds the session and reset token store.
	// Default: newKVStore
	KVFactory func(ctx context.Context, cfg *config.Config, db Database) (kv.Store, func(), error)

	// MailerFactory builds the mail backend.
	// Default: email.New
	MailerFactory func(cfg email.Config, logger *slog.Logger) (email.Sender, error)

	// MigratorFactory creates a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, checks map[string]observability.Check) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// OnReady is called with the API address once the server accepts requests.
	OnReady func(addr string)
}

// Database wraps the methods used from *pgxpool.Pool.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() *prometheus.Registry
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Pending() ([]uint, error)
	Close() error
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.DatabaseConnector == nil {
		out.DatabaseConnector = func(ctx context.Context, url string, policy store.RetryPolicy) (Database, error) {
			pool, err := store.Connect(ctx, url, policy)
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if out.KVFactory == nil {
		out.KVFactory = newKVStore
	}
	if out.MailerFactory == nil {
		out.MailerFactory = email.New
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = newMigrator
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, checks map[string]observability.Check) ObservabilityServer {
			return observability.NewServer(addr, checks)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	if out.OnReady == nil {
		out.OnReady = func(string) {}
	}
	return &out
}

func newMigrator(url string) (Migrator, error) {
	m, err := store.NewMigrator(url)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// newKVStore builds the backend named by cfg.KV.Backend. The returned
// cleanup releases whatever the backend holds.
func newKVStore(ctx context.Context, cfg *config.Config, db Database) (kv.Store, func(), error) {
	switch cfg.KV.Backend {
	case config.KVMemory:
		m := kv.NewMemoryStore(kv.WithSweepInterval(cfg.KV.SweepInterval))
		return m, func() { _ = m.Close() }, nil

	case config.KVPostgres:
		return kv.NewPostgresStore(db), func() {}, nil

	case config.KVRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.KV.RedisAddr,
			Password: cfg.KV.RedisPassword,
			DB:       cfg.KV.RedisDB,
		})
		s := kv.NewRedisStore(client)
		if err := store.WaitFor(ctx, "redis", cfg.Retry, s.Ping); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return s, func() { _ = client.Close() }, nil

	default:
		return nil, nil, oops.Code("CONFIG_INVALID").
			With("key", "kv.backend").
			Errorf("unknown kv backend %q", cfg.KV.Backend)
	}
}
