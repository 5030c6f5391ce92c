// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

// Package kv provides ephemeral key-value stores with per-key expiry.
//
// Three backends implement Store:
//   - MemoryStore - process-local, for development and tests
//   - RedisStore - Redis, using GETDEL for atomic consumption
//   - PostgresStore - a kv_entries table, using DELETE ... RETURNING
//
// Every backend reports a missing or expired key as ErrNotFound and any
// backend fault (connection refused, timeout, cancelled context) as an error
// wrapping ErrUnavailable. Callers never retry; that is left to whatever sits
// in front of them.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("key not found")

	// ErrUnavailable is wrapped by every error caused by the backend itself.
	ErrUnavailable = errors.New("key-value store unavailable")
)

// Store is a TTL-capable key-value store.
type Store interface {
	// Set writes value under key. A ttl <= 0 stores the key without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value stored under key without modifying it.
	Get(ctx context.Context, key string) (string, error)

	// GetAndDelete atomically returns and removes the value under key.
	// Of two concurrent calls for the same key at most one succeeds.
	GetAndDelete(ctx context.Context, key string) (string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// TTL returns the remaining lifetime of key, or 0 if it never expires.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// unavailable wraps a backend fault so that errors.Is(err, ErrUnavailable) holds.
func unavailable(operation, key string, err error) error {
	return oops.Code("KV_UNAVAILABLE").
		With("operation", operation).
		With("key", key).
		Wrap(fmt.Errorf("%w: %w", ErrUnavailable, err))
}

// notFound wraps ErrNotFound with the key that was missing.
func notFound(key string) error {
	return oops.Code("KV_NOT_FOUND").With("key", key).Wrap(ErrNotFound)
}
