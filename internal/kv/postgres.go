// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package kv

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// pgxPool is the subset of *pgxpool.Pool used here. pgxmock.PgxPoolIface satisfies it.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store on the kv_entries table.
// Expired rows are invisible to reads and removed by DeleteExpired.
type PostgresStore struct {
	pool pgxPool
	now  func() time.Time
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool pgxPool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// Set upserts key.
func (s *PostgresStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := s.now().Add(ttl)
		expiresAt = &t
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

// Get reads a live row.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
	`, key, s.now()).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", notFound(key)
	}
	if err != nil {
		return "", unavailable("get", key, err)
	}
	return value, nil
}

// GetAndDelete deletes a live row and returns its value in one statement.
// A concurrent delete of the same row blocks on the row lock and then
// matches nothing, so only one caller sees the value.
func (s *PostgresStore) GetAndDelete(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `
		DELETE FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
		RETURNING value
	`, key, s.now()).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", notFound(key)
	}
	if err != nil {
		return "", unavailable("getdel", key, err)
	}
	return value, nil
}

// Delete removes key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return unavailable("del", key, err)
	}
	return nil
}

// TTL computes the remaining lifetime from expires_at.
func (s *PostgresStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	now := s.now()
	var expiresAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT expires_at FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
	`, key, now).Scan(&expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, notFound(key)
	}
	if err != nil {
		return 0, unavailable("ttl", key, err)
	}
	if expiresAt == nil {
		return 0, nil
	}
	return expiresAt.Sub(now), nil
}

// Ping pings the pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

// DeleteExpired removes expired rows and returns the count.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM kv_entries WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, oops.Code("KV_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired kv_entries").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

var _ Store = (*PostgresStore)(nil)
