// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package auth

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MinPasswordLength is the minimum number of characters in a password.
const MinPasswordLength = 8

// User is a registered account.
type User struct {
	ID           ulid.ULID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"firstname"`
	LastName     string    `json:"lastname"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewUser creates a User with a fresh ID and a normalized email address.
func NewUser(email, passwordHash, firstName, lastName string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, oops.Code("USER_INVALID").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail returns the canonical form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// parseUserID parses an externally supplied ID. Malformed IDs are reported
// as ErrNotFound since no user can have them.
func parseUserID(id string) (ulid.ULID, error) {
	userID, err := ulid.Parse(id)
	if err != nil {
		return ulid.ULID{}, oops.Code("USER_ID_INVALID").
			With("id", id).
			With("cause", err.Error()).
			Wrap(ErrNotFound)
	}
	return userID, nil
}

func passwordTooShort(password string) bool {
	return utf8.RuneCountInString(password) < MinPasswordLength
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create inserts a new user. Returns ErrEmailTaken if the email is
	// already registered.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by normalized email. Returns ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// UpdatePassword replaces a user's password hash. Returns ErrNotFound if absent.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// Delete removes a user. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id ulid.ULID) error
}
