// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/threadly/threadly/pkg/errutil"
)

var tracer = otel.Tracer("github.com/threadly/threadly/internal/auth")

// dummyPasswordHash is verified when a login email is unknown so the response
// takes as long as a real verification. No password matches it.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// ManagerDeps are the collaborators of a Manager. Logger and Metrics are optional.
type ManagerDeps struct {
	Users  UserRepository
	Hasher PasswordHasher
	Resets *ResetTokenStore
	Mailer Mailer
	Links  *ResetLinkBuilder

	Logger  *slog.Logger
	Metrics *Metrics
}

// Manager orchestrates registration, login and password recovery.
type Manager struct {
	users     UserRepository
	hasher    PasswordHasher
	resets    *ResetTokenStore
	mailer    Mailer
	links     *ResetLinkBuilder
	logger    *slog.Logger
	metrics   *Metrics
	validate  *validator.Validate
	dummyHash string
}

// NewManager creates a Manager. All collaborators except Logger and Metrics are required.
func NewManager(deps ManagerDeps) (*Manager, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("user repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("password hasher is required")
	case deps.Resets == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("reset token store is required")
	case deps.Mailer == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("mailer is required")
	case deps.Links == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("reset link builder is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dummy := dummyPasswordHash
	if d, ok := deps.Hasher.(interface{ DummyHash() string }); ok {
		dummy = d.DummyHash()
	}

	return &Manager{
		users:     deps.Users,
		hasher:    deps.Hasher,
		resets:    deps.Resets,
		mailer:    deps.Mailer,
		links:     deps.Links,
		logger:    logger.With("component", "auth"),
		metrics:   deps.Metrics,
		validate:  newValidator(),
		dummyHash: dummy,
	}, nil
}

// Register creates an account and binds it to sess.
func (m *Manager) Register(ctx context.Context, in RegisterInput, sess Session) UserResponse {
	ctx, span := m.start(ctx, OpRegister)
	defer span.End()

	if passwordTooShort(in.Password) {
		return m.done(span, OpRegister, OutcomeInvalid, StandardError(nil, "password", MsgPasswordTooShort))
	}

	in.Email = NormalizeEmail(in.Email)
	if err := m.validate.Struct(in); err != nil {
		return m.done(span, OpRegister, OutcomeInvalid, StandardError(NewValidationError(err), "", ""))
	}

	_, err := m.users.GetByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return m.done(span, OpRegister, OutcomeConflict, StandardError(nil, "email", MsgEmailTaken))
	case !errors.Is(err, ErrNotFound):
		return m.fail(ctx, span, OpRegister, "register: email lookup failed", err)
	}

	hash, err := m.hasher.Hash(in.Password)
	if err != nil {
		return m.fail(ctx, span, OpRegister, "register: hash password failed", err)
	}

	user, err := NewUser(in.Email, hash, in.FirstName, in.LastName)
	if err != nil {
		return m.fail(ctx, span, OpRegister, "register: build user failed", err)
	}

	if err := m.users.Create(ctx, user); err != nil {
		// Lost a race with a concurrent registration of the same address.
		if errors.Is(err, ErrEmailTaken) {
			return m.done(span, OpRegister, OutcomeConflict, StandardError(nil, "email", MsgEmailTaken))
		}
		return m.fail(ctx, span, OpRegister, "register: create user failed", err)
	}

	BindUser(sess, user.ID)
	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	return m.done(span, OpRegister, OutcomeSuccess, Success(user))
}

// Login authenticates by email and password and binds the user to sess.
// Unknown email and wrong password produce identical responses.
func (m *Manager) Login(ctx context.Context, in LoginInput, sess Session) UserResponse {
	ctx, span := m.start(ctx, OpLogin)
	defer span.End()

	user, err := m.users.GetByEmail(ctx, NormalizeEmail(in.Email))
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return m.fail(ctx, span, OpLogin, "login: email lookup failed", err)
	}

	targetHash := m.dummyHash
	if exists {
		targetHash = user.PasswordHash
	}

	// Always verify so both branches cost the same.
	valid, err := m.hasher.Verify(in.Password, targetHash)
	if err != nil && exists {
		return m.fail(ctx, span, OpLogin, "login: verify password failed", err)
	}

	if !exists || !valid {
		return m.done(span, OpLogin, OutcomeDenied, StandardError(nil, FieldAuthentication, MsgBadCredentials))
	}

	if m.hasher.NeedsRehash(user.PasswordHash) {
		m.rehash(ctx, user, in.Password)
	}

	BindUser(sess, user.ID)
	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	return m.done(span, OpLogin, OutcomeSuccess, Success(user))
}

// rehash upgrades a stored hash to the current parameters. Login succeeds
// whether or not this works.
func (m *Manager) rehash(ctx context.Context, user *User, password string) {
	hash, err := m.hasher.Hash(password)
	if err == nil {
		err = m.users.UpdatePassword(ctx, user.ID, hash)
	}
	if err != nil {
		m.logger.WarnContext(ctx, "password rehash failed",
			"user_id", user.ID.String(),
			"error", err)
		return
	}
	user.PasswordHash = hash
	m.metrics.recordRehash()
}

// ForgotPassword issues a reset token for email and mails the reset link.
// It returns true whether or not the address is registered. Token issue and
// mail delivery failures are logged and still return true; only a failure
// to look the address up returns false.
func (m *Manager) ForgotPassword(ctx context.Context, email string) bool {
	ctx, span := m.start(ctx, OpForgotPassword)
	defer span.End()

	user, err := m.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.record(span, OpForgotPassword, OutcomeSuccess)
			return true
		}
		m.failed(ctx, span, OpForgotPassword, "forgot password: email lookup failed", err)
		return false
	}

	token, err := m.resets.Issue(ctx, user.ID)
	if err != nil {
		m.failed(ctx, span, OpForgotPassword, "forgot password: issue reset token failed", err)
		return true
	}

	body, err := RenderResetEmail(m.links.Link(token), humanDuration(m.resets.TTL()))
	if err == nil {
		err = m.mailer.Send(ctx, user.Email, body)
	}
	if err != nil {
		m.metrics.recordMailFailure()
		m.failed(ctx, span, OpForgotPassword, "forgot password: send reset email failed",
			oops.Code("RESET_MAIL_FAILED").With("user_id", user.ID.String()).Wrap(err))
		return true
	}

	m.record(span, OpForgotPassword, OutcomeSuccess)
	return true
}

// ChangePassword sets a new password using a reset token, consumes the
// token and binds the user to sess.
//
// The token is claimed before the password is written. If the write fails the
// token is restored for the lifetime it had left. If the restore fails as
// well the token stays consumed, the failure is logged, and the user must
// request a new reset email.
func (m *Manager) ChangePassword(ctx context.Context, in ChangePasswordInput, sess Session) UserResponse {
	ctx, span := m.start(ctx, OpChangePassword)
	defer span.End()

	if passwordTooShort(in.Password) {
		return m.done(span, OpChangePassword, OutcomeInvalid, StandardError(nil, "password", MsgPasswordTooShort))
	}

	userID, err := m.resets.Resolve(ctx, in.Token)
	if err != nil {
		if errors.Is(err, ErrResetTokenInvalid) {
			return m.done(span, OpChangePassword, OutcomeDenied, StandardError(nil, FieldToken, MsgTokenExpired))
		}
		return m.fail(ctx, span, OpChangePassword, "change password: resolve token failed", err)
	}

	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return m.done(span, OpChangePassword, OutcomeDenied, StandardError(nil, FieldToken, MsgTokenUnknownUser))
		}
		return m.fail(ctx, span, OpChangePassword, "change password: user lookup failed", err)
	}

	hash, err := m.hasher.Hash(in.Password)
	if err != nil {
		return m.fail(ctx, span, OpChangePassword, "change password: hash password failed", err)
	}

	// Claim the token before writing. A concurrent request holding the same
	// token loses here and never reaches the write.
	claim, err := m.resets.Consume(ctx, in.Token)
	if err != nil {
		if errors.Is(err, ErrResetTokenInvalid) {
			return m.done(span, OpChangePassword, OutcomeDenied, StandardError(nil, FieldToken, MsgTokenExpired))
		}
		return m.fail(ctx, span, OpChangePassword, "change password: consume token failed", err)
	}

	if err := m.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		if rerr := m.resets.Restore(ctx, in.Token, claim); rerr != nil {
			errutil.LogErrorContext(ctx, m.logger, "change password: restore reset token failed", rerr)
		}
		return m.fail(ctx, span, OpChangePassword, "change password: update password failed", err)
	}

	user.PasswordHash = hash
	BindUser(sess, user.ID)
	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	return m.done(span, OpChangePassword, OutcomeSuccess, Success(user))
}

// DeleteAccount deletes the account bound to sess and nothing else.
// It returns false if no user is bound or the delete fails.
func (m *Manager) DeleteAccount(ctx context.Context, sess Session) bool {
	ctx, span := m.start(ctx, OpDeleteAccount)
	defer span.End()

	userID, ok := BoundUserID(sess)
	if !ok {
		m.record(span, OpDeleteAccount, OutcomeDenied)
		return false
	}
	span.SetAttributes(attribute.String("user.id", userID.String()))

	if err := m.users.Delete(ctx, userID); err != nil {
		m.failed(ctx, span, OpDeleteAccount, "delete account failed",
			oops.With("user_id", userID.String()).Wrap(err))
		return false
	}

	if err := sess.Destroy(ctx); err != nil {
		m.logger.WarnContext(ctx, "delete account: destroy session failed",
			"user_id", userID.String(),
			"error", err)
	}

	m.record(span, OpDeleteAccount, OutcomeSuccess)
	return true
}

// Logout destroys sess. It returns false if the backing store could not
// tear the session down.
func (m *Manager) Logout(ctx context.Context, sess Session) bool {
	ctx, span := m.start(ctx, OpLogout)
	defer span.End()

	if err := sess.Destroy(ctx); err != nil {
		m.failed(ctx, span, OpLogout, "logout: destroy session failed", err)
		return false
	}
	m.record(span, OpLogout, OutcomeSuccess)
	return true
}

// VisibleEmail returns target's email if sess is bound to target, otherwise "".
func (m *Manager) VisibleEmail(sess Session, target *User) string {
	if target == nil || !IsViewer(sess, target.ID) {
		return ""
	}
	return target.Email
}

// Me returns the user bound to sess, or nil if there is none.
func (m *Manager) Me(ctx context.Context, sess Session) (*User, error) {
	userID, ok := BoundUserID(sess)
	if !ok {
		return nil, nil
	}

	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code("AUTH_ME_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return user, nil
}

// GetUser returns the user with the given ID.
func (m *Manager) GetUser(ctx context.Context, id string) (*User, error) {
	userID, err := parseUserID(id)
	if err != nil {
		return nil, err
	}
	return m.users.GetByID(ctx, userID)
}

func (m *Manager) start(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "auth."+operation)
}

func (m *Manager) record(span trace.Span, operation, outcome string) {
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	m.metrics.recordOperation(operation, outcome)
}

func (m *Manager) done(span trace.Span, operation, outcome string, resp UserResponse) UserResponse {
	m.record(span, operation, outcome)
	return resp
}

// failed logs an infrastructure fault and records it on the span and metrics.
func (m *Manager) failed(ctx context.Context, span trace.Span, operation, msg string, err error) {
	errutil.LogErrorContext(ctx, m.logger, msg, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	m.record(span, operation, OutcomeError)
}

// fail is failed for operations that answer with the generic envelope.
func (m *Manager) fail(ctx context.Context, span trace.Span, operation, msg string, err error) UserResponse {
	m.failed(ctx, span, operation, msg, err)
	return StandardError(err, "", "")
}
