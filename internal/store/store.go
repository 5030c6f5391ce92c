// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

// Package store owns the PostgreSQL connection pool and the schema.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds how long startup waits for a dependency.
type RetryPolicy struct {
	Attempts uint64        `koanf:"attempts"`
	Base     time.Duration `koanf:"base"`
	Max      time.Duration `koanf:"max"`
}

// Backoff builds the exponential backoff described by p.
func (p RetryPolicy) Backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.Max > 0 {
		b = retry.WithCappedDuration(p.Max, b)
	}
	return retry.WithMaxRetries(p.Attempts, b)
}

// WaitFor calls check until it succeeds, ctx ends, or the policy runs out.
// Only startup uses this; request paths never retry.
func WaitFor(ctx context.Context, name string, policy RetryPolicy, check func(context.Context) error) error {
	attempt := 0
	err := retry.Do(ctx, policy.Backoff(), func(ctx context.Context) error {
		attempt++
		if err := check(ctx); err != nil {
			slog.WarnContext(ctx, "dependency not ready", "dependency", name, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DEPENDENCY_UNAVAILABLE").
			With("dependency", name).
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}

// Connect opens a pool for dsn and waits until the database answers a ping.
func Connect(ctx context.Context, dsn string, policy RetryPolicy) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DATABASE_CONFIG_INVALID").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DATABASE_CONNECT_FAILED").Wrap(err)
	}

	if err := WaitFor(ctx, "postgres", policy, pool.Ping); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
