// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

// Package authtest provides in-memory fakes of the auth collaborators for tests.
package authtest

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/threadly/threadly/internal/auth"
)

// UserStore is an in-memory auth.UserRepository that enforces unique emails.
type UserStore struct {
	mu      sync.Mutex
	byID    map[ulid.ULID]auth.User
	byEmail map[string]ulid.ULID
	writes  int
}

// NewUserStore creates an empty UserStore.
func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[ulid.ULID]auth.User),
		byEmail: make(map[string]ulid.ULID),
	}
}

// Create implements auth.UserRepository.
func (s *UserStore) Create(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++

	if _, taken := s.byEmail[user.Email]; taken {
		return auth.ErrEmailTaken
	}
	s.byID[user.ID] = *user
	s.byEmail[user.Email] = user.ID
	return nil
}

// GetByID implements auth.UserRepository.
func (s *UserStore) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &user, nil
}

// GetByEmail implements auth.UserRepository.
func (s *UserStore) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	user := s.byID[id]
	return &user, nil
}

// UpdatePassword implements auth.UserRepository.
func (s *UserStore) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++

	user, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	user.PasswordHash = passwordHash
	s.byID[id] = user
	return nil
}

// Delete implements auth.UserRepository.
func (s *UserStore) Delete(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++

	user, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byEmail, user.Email)
	return nil
}

// Len returns the number of stored users.
func (s *UserStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// WriteCount returns the number of mutating calls made so far.
func (s *UserStore) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Session is an in-memory auth.Session.
type Session struct {
	ID        ulid.ULID
	Bound     bool
	Destroyed bool

	// DestroyErr is returned by Destroy when set.
	DestroyErr error
}

// NewSession returns a session bound to id.
func NewSession(id ulid.ULID) *Session {
	return &Session{ID: id, Bound: true}
}

// UserID implements auth.Session.
func (s *Session) UserID() (ulid.ULID, bool) {
	return s.ID, s.Bound
}

// SetUserID implements auth.Session.
func (s *Session) SetUserID(id ulid.ULID) {
	s.ID = id
	s.Bound = true
}

// Destroy implements auth.Session.
func (s *Session) Destroy(_ context.Context) error {
	if s.DestroyErr != nil {
		return s.DestroyErr
	}
	s.ID = ulid.ULID{}
	s.Bound = false
	s.Destroyed = true
	return nil
}

// Message is an email captured by Mailer.
type Message struct {
	To   string
	HTML string
}

// Mailer records every message it is asked to send.
type Mailer struct {
	mu       sync.Mutex
	messages []Message

	// Err is returned by Send when set. The message is still recorded.
	Err error
}

// Send implements auth.Mailer.
func (m *Mailer) Send(_ context.Context, to, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{To: to, HTML: html})
	return m.Err
}

// Messages returns a copy of the recorded messages.
func (m *Mailer) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}
