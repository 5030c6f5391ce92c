// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

// Package session implements cookie-backed sessions stored in a kv.Store.
//
// The cookie carries a random bearer token. Only its SHA-256 digest is used
// as the storage key, so a leaked store does not leak usable cookies.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/threadly/threadly/internal/kv"
	"github.com/threadly/threadly/pkg/errutil"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultCookieName = "qid"
	DefaultTTL        = 30 * 24 * time.Hour

	tokenBytes = 32
	keyPrefix  = "sess:"
)

// Config controls the session cookie.
type Config struct {
	CookieName string        `koanf:"cookie_name"`
	TTL        time.Duration `koanf:"ttl"`
	Secure     bool          `koanf:"secure"`
}

func (c Config) withDefaults() Config {
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	return c
}

// Manager loads and persists sessions.
type Manager struct {
	store  kv.Store
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a Manager backed by store.
func NewManager(store kv.Store, cfg Config, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, oops.Code("SESSION_INVALID_STORE").Errorf("key-value store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "session"),
	}, nil
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string {
	return m.cfg.CookieName
}

// Session is the state of one request's session. It implements auth.Session.
// A Session belongs to a single request and is not safe for concurrent use.
type Session struct {
	mgr *Manager

	token     string
	userID    ulid.ULID
	bound     bool
	dirty     bool
	rotate    bool
	destroyed bool
	stale     bool
}

// New returns an empty session that has not been persisted.
func (m *Manager) New() *Session {
	return &Session{mgr: m}
}

// Load returns the session named by the request's cookie. A request without
// a cookie, or with a cookie the store no longer knows, gets an empty
// session. The error is non-nil only when the store could not be reached; the
// returned session is then unbound but keeps the cookie's token, so Destroy
// still attempts to remove the record.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return m.New(), nil
	}

	token := cookie.Value
	if !wellFormedToken(token) {
		return &Session{mgr: m, stale: true}, nil
	}

	value, err := m.store.Get(r.Context(), storageKey(token))
	if errors.Is(err, kv.ErrNotFound) {
		return &Session{mgr: m, stale: true}, nil
	}
	if err != nil {
		return &Session{mgr: m, token: token}, oops.Wrapf(err, "load session")
	}

	id, err := ulid.ParseStrict(value)
	if err != nil {
		m.logger.WarnContext(r.Context(), "discarding corrupt session record", "error", err)
		return &Session{mgr: m, stale: true}, nil
	}

	return &Session{mgr: m, token: token, userID: id, bound: true}, nil
}

// UserID returns the user bound to the session.
func (s *Session) UserID() (ulid.ULID, bool) {
	if s.destroyed {
		return ulid.ULID{}, false
	}
	return s.userID, s.bound
}

// SetUserID binds the session to id. Binding a different user than the one
// currently bound issues a fresh token on Commit.
func (s *Session) SetUserID(id ulid.ULID) {
	if s.bound && s.userID == id {
		return
	}
	s.userID = id
	s.bound = true
	s.dirty = true
	s.rotate = true
	s.destroyed = false
}

// Destroy removes the session record. The cookie is cleared on Commit even
// when the store delete fails.
func (s *Session) Destroy(ctx context.Context) error {
	s.destroyed = true
	s.bound = false
	s.userID = ulid.ULID{}
	s.dirty = false

	if s.token == "" {
		return nil
	}
	token := s.token
	s.token = ""
	if err := s.mgr.store.Delete(ctx, storageKey(token)); err != nil {
		return oops.Wrapf(err, "destroy session")
	}
	return nil
}

// Commit persists pending changes and writes the cookie. It must run before
// the response body is written.
func (m *Manager) Commit(ctx context.Context, w http.ResponseWriter, s *Session) error {
	switch {
	case s.destroyed || (s.stale && !s.dirty):
		http.SetCookie(w, m.expiredCookie())
		return nil
	case !s.dirty:
		return nil
	}

	if s.rotate && s.token != "" {
		if err := m.store.Delete(ctx, storageKey(s.token)); err != nil {
			errutil.LogErrorContext(ctx, m.logger, "failed to drop rotated session", err)
		}
	}

	token, err := generateToken()
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, storageKey(token), s.userID.String(), m.cfg.TTL); err != nil {
		return oops.Code("SESSION_SAVE_FAILED").Wrap(err)
	}

	s.token = token
	s.dirty = false
	s.rotate = false
	s.stale = false
	http.SetCookie(w, m.cookie(token))
	return nil
}

func (m *Manager) cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.cfg.TTL / time.Second),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *Manager) expiredCookie() *http.Cookie {
	c := m.cookie("")
	c.MaxAge = -1
	return c
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("requested_bytes", tokenBytes).
			Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

func storageKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func wellFormedToken(token string) bool {
	if len(token) != tokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored by NewContext, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok
}
