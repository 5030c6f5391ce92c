// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package auth

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// Session is the per-request session handle the Manager binds the
// authenticated user into. It is owned by the request and never shared.
type Session interface {
	// UserID returns the bound user, if any.
	UserID() (ulid.ULID, bool)

	// SetUserID binds the session to a user.
	SetUserID(id ulid.ULID)

	// Destroy tears down the session in its backing store.
	Destroy(ctx context.Context) error
}

// BindUser records userID as the authenticated principal of sess.
func BindUser(sess Session, userID ulid.ULID) {
	sess.SetUserID(userID)
}

// BoundUserID returns the user bound to sess. A nil session has no user.
func BoundUserID(sess Session) (ulid.ULID, bool) {
	if sess == nil {
		return ulid.ULID{}, false
	}
	return sess.UserID()
}

// IsViewer reports whether sess is bound to userID.
func IsViewer(sess Session, userID ulid.ULID) bool {
	id, ok := BoundUserID(sess)
	return ok && id == userID
}
