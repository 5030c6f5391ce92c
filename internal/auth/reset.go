// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/threadly/threadly/internal/kv"
)

// Reset token configuration.
const (
	ResetTokenBytes = 32             // 32 bytes = 64 hex chars
	ResetTokenTTL   = 72 * time.Hour // 3 days

	resetKeyPrefix = "reset:"
)

// GenerateResetToken creates a secure random, URL-safe token.
func GenerateResetToken() (string, error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	return hex.EncodeToString(tokenBytes), nil
}

// wellFormedToken rejects anything GenerateResetToken could not have produced,
// so forged input never reaches the store as a key.
func wellFormedToken(token string) bool {
	if len(token) != ResetTokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

func resetKey(token string) string {
	return resetKeyPrefix + token
}

// ResetClaim is the result of consuming a reset token.
type ResetClaim struct {
	UserID ulid.ULID
	// Remaining is how long the token had left when it was consumed.
	Remaining time.Duration
}

// ResetTokenStore owns the lifecycle of password reset tokens.
// A token is valid if and only if its key exists in the backing store.
// Issuing a new token never invalidates older ones for the same user.
type ResetTokenStore struct {
	store kv.Store
	ttl   time.Duration
}

// NewResetTokenStore creates a ResetTokenStore. A ttl <= 0 uses ResetTokenTTL.
func NewResetTokenStore(store kv.Store, ttl time.Duration) (*ResetTokenStore, error) {
	if store == nil {
		return nil, oops.Code("RESET_STORE_INVALID").Errorf("key-value store is required")
	}
	if ttl <= 0 {
		ttl = ResetTokenTTL
	}
	return &ResetTokenStore{store: store, ttl: ttl}, nil
}

// TTL returns the lifetime of newly issued tokens.
func (s *ResetTokenStore) TTL() time.Duration {
	return s.ttl
}

// Issue creates a new token that resolves to userID until it expires or is consumed.
func (s *ResetTokenStore) Issue(ctx context.Context, userID ulid.ULID) (string, error) {
	token, err := GenerateResetToken()
	if err != nil {
		return "", err
	}

	if err := s.store.Set(ctx, resetKey(token), userID.String(), s.ttl); err != nil {
		return "", oops.Code("RESET_ISSUE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return token, nil
}

// Resolve returns the user a token belongs to without consuming it.
// Returns ErrResetTokenInvalid if the token is absent or expired.
func (s *ResetTokenStore) Resolve(ctx context.Context, token string) (ulid.ULID, error) {
	if !wellFormedToken(token) {
		return ulid.ULID{}, oops.Code("RESET_TOKEN_INVALID").Wrap(ErrResetTokenInvalid)
	}

	value, err := s.store.Get(ctx, resetKey(token))
	if err != nil {
		return ulid.ULID{}, s.lookupError("Get", err)
	}
	return parseClaimValue(value)
}

// Consume atomically resolves and deletes a token. Of two concurrent calls
// for the same token at most one succeeds; the other gets ErrResetTokenInvalid.
func (s *ResetTokenStore) Consume(ctx context.Context, token string) (*ResetClaim, error) {
	if !wellFormedToken(token) {
		return nil, oops.Code("RESET_TOKEN_INVALID").Wrap(ErrResetTokenInvalid)
	}
	key := resetKey(token)

	remaining, err := s.store.TTL(ctx, key)
	if err != nil {
		return nil, s.lookupError("TTL", err)
	}

	value, err := s.store.GetAndDelete(ctx, key)
	if err != nil {
		return nil, s.lookupError("GetAndDelete", err)
	}

	userID, err := parseClaimValue(value)
	if err != nil {
		return nil, err
	}
	return &ResetClaim{UserID: userID, Remaining: remaining}, nil
}

// Restore re-arms a consumed token for the lifetime it had left. It is used
// when the write that followed Consume failed, so the user can retry.
// A claim with no remaining lifetime is not restored.
func (s *ResetTokenStore) Restore(ctx context.Context, token string, claim *ResetClaim) error {
	if claim == nil || claim.Remaining <= 0 {
		return nil
	}
	if err := s.store.Set(ctx, resetKey(token), claim.UserID.String(), claim.Remaining); err != nil {
		return oops.Code("RESET_RESTORE_FAILED").
			With("user_id", claim.UserID.String()).
			Wrap(err)
	}
	return nil
}

func (s *ResetTokenStore) lookupError(operation string, err error) error {
	if errors.Is(err, kv.ErrNotFound) {
		return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrResetTokenInvalid)
	}
	return oops.Code("RESET_LOOKUP_FAILED").
		With("operation", operation).
		Wrap(err)
}

func parseClaimValue(value string) (ulid.ULID, error) {
	id, err := ulid.Parse(value)
	if err != nil {
		return ulid.ULID{}, oops.Code("RESET_TOKEN_CORRUPT").Wrap(err)
	}
	return id, nil
}
