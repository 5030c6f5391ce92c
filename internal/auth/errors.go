// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package auth

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmailTaken is returned by UserRepository.Create when the storage
	// layer's unique email constraint rejects the insert.
	ErrEmailTaken = errors.New("email already registered")

	// ErrResetTokenInvalid is returned when a reset token is absent, expired
	// or already consumed. The three cases are deliberately indistinguishable.
	ErrResetTokenInvalid = errors.New("reset token invalid or expired")
)
