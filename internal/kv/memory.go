// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package kv

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expiredAt(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a mutex-guarded map with lazy expiry and an optional
// background sweeper. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time

	sweepEvery time.Duration
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now. Used by tests to move time forward.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// WithSweepInterval starts a goroutine that drops expired entries every d.
// Call Close to stop it.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *MemoryStore) { m.sweepEvery = d }
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sweepEvery > 0 {
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.sweepLoop()
	}
	return m
}

// Set stores value under key.
func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return unavailable("set", key, err)
	}
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Get returns the live value under key.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable("get", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookupLocked(key)
	if !ok {
		return "", notFound(key)
	}
	return entry.value, nil
}

// GetAndDelete returns and removes the live value under key.
func (m *MemoryStore) GetAndDelete(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable("getdel", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookupLocked(key)
	if !ok {
		return "", notFound(key)
	}
	delete(m.entries, key)
	return entry.value, nil
}

// Delete removes key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("del", key, err)
	}

	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// TTL returns the remaining lifetime of key.
func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("ttl", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookupLocked(key)
	if !ok {
		return 0, notFound(key)
	}
	if entry.expiresAt.IsZero() {
		return 0, nil
	}
	return entry.expiresAt.Sub(m.now()), nil
}

// Ping always succeeds unless ctx is done.
func (m *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// DeleteExpired drops every expired entry and returns how many were removed.
func (m *MemoryStore) DeleteExpired() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if entry.expiredAt(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Close stops the sweeper, if one was started.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		if m.stop != nil {
			close(m.stop)
			<-m.done
		}
	})
	return nil
}

// lookupLocked returns the live entry for key, evicting it if expired.
// Must be called with m.mu held.
func (m *MemoryStore) lookupLocked(key string) (memoryEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expiredAt(m.now()) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (m *MemoryStore) sweepLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.DeleteExpired()
		case <-m.stop:
			return
		}
	}
}

var _ Store = (*MemoryStore)(nil)
