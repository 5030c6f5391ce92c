// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

// Package auth provides the credential and session-recovery core of Threadly.
//
// # Domain Types
//
// Users should be created with NewUser, which normalizes the email address
// and rejects records without a password hash. Repository implementations
// receive pre-validated users from this constructor.
//
// # Components
//
//   - PasswordHasher - one-way argon2id hashing and verification
//   - ResetTokenStore - single-use, time-boxed reset tokens over a kv.Store
//   - Manager - register, login, password recovery, account deletion, logout
//   - Session - the per-request capability the Manager binds users into
//
// Every Manager mutation that can fail for user-visible reasons returns a
// UserResponse envelope instead of an error. Infrastructure faults are logged
// and reduced to the generic "Unknown" field error.
package auth
