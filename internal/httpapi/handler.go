// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

// Package httpapi exposes the auth operations as JSON over HTTP.
//
// Operation results travel in the response envelope with status 200, the
// same way for success and for user-facing failure. Only transport faults
// (malformed JSON, an unusable session store) change the status code.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/threadly/threadly/internal/auth"
	"github.com/threadly/threadly/internal/session"
	"github.com/threadly/threadly/pkg/errutil"
)

const maxBodyBytes = 1 << 20

// Authenticator is the part of *auth.Manager the handlers call.
type Authenticator interface {
	Register(ctx context.Context, in auth.RegisterInput, sess auth.Session) auth.UserResponse
	Login(ctx context.Context, in auth.LoginInput, sess auth.Session) auth.UserResponse
	ForgotPassword(ctx context.Context, email string) bool
	ChangePassword(ctx context.Context, in auth.ChangePasswordInput, sess auth.Session) auth.UserResponse
	DeleteAccount(ctx context.Context, sess auth.Session) bool
	Logout(ctx context.Context, sess auth.Session) bool
	Me(ctx context.Context, sess auth.Session) (*auth.User, error)
	GetUser(ctx context.Context, id string) (*auth.User, error)
	VisibleEmail(sess auth.Session, target *auth.User) string
}

// Handler serves the auth API.
type Handler struct {
	auth     Authenticator
	sessions *session.Manager
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(a Authenticator, sessions *session.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{auth: a, sessions: sessions, logger: logger.With("component", "httpapi")}
}

// Routes returns the router for the API. extra runs after the built-in
// middleware and before the session is loaded.
func (h *Handler) Routes(extra ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(extra...)
	r.Use(h.loadSession)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/logout", h.logout)
		r.Post("/forgot-password", h.forgotPassword)
		r.Post("/change-password", h.changePassword)
		r.Get("/me", h.me)
		r.Delete("/account", h.deleteAccount)
	})
	r.Get("/users/{id}", h.getUser)

	return r
}

// loadSession attaches the request's session to its context. When the store
// is unreachable the request continues with an empty session.
func (h *Handler) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.sessions.Load(r)
		if err != nil {
			errutil.LogErrorContext(r.Context(), h.logger, "failed to load session", err)
		}
		next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), sess)))
	})
}

func requestSession(r *http.Request) *session.Session {
	sess, _ := session.FromContext(r.Context())
	return sess
}

// userView is a user as rendered to a client. Email is empty unless the
// client's session belongs to that user.
type userView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	FirstName string    `json:"firstname"`
	LastName  string    `json:"lastname"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type envelope struct {
	Errors []auth.FieldError `json:"errors,omitempty"`
	User   *userView         `json:"user,omitempty"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type meResponse struct {
	User *userView `json:"user"`
}

func (h *Handler) view(sess auth.Session, u *auth.User) *userView {
	if u == nil {
		return nil
	}
	return &userView{
		ID:        u.ID.String(),
		Email:     h.auth.VisibleEmail(sess, u),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (h *Handler) envelope(sess auth.Session, resp auth.UserResponse) envelope {
	return envelope{Errors: resp.Errors, User: h.view(sess, resp.User)}
}

func genericError() envelope {
	return envelope{Errors: auth.StandardError(nil, "", "").Errors}
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if !h.decode(w, r, &in) {
		return
	}
	sess := requestSession(r)
	resp := h.auth.Register(r.Context(), in, sess)
	h.respond(w, r, http.StatusOK, h.envelope(sess, resp))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if !h.decode(w, r, &in) {
		return
	}
	sess := requestSession(r)
	resp := h.auth.Login(r.Context(), in, sess)
	h.respond(w, r, http.StatusOK, h.envelope(sess, resp))
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var in auth.ChangePasswordInput
	if !h.decode(w, r, &in) {
		return
	}
	sess := requestSession(r)
	resp := h.auth.ChangePassword(r.Context(), in, sess)
	h.respond(w, r, http.StatusOK, h.envelope(sess, resp))
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if !h.decode(w, r, &in) {
		return
	}
	ok := h.auth.ForgotPassword(r.Context(), in.Email)
	h.respond(w, r, http.StatusOK, okResponse{OK: ok})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	ok := h.auth.Logout(r.Context(), requestSession(r))
	h.respond(w, r, http.StatusOK, okResponse{OK: ok})
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	ok := h.auth.DeleteAccount(r.Context(), requestSession(r))
	h.respond(w, r, http.StatusOK, okResponse{OK: ok})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	sess := requestSession(r)
	user, err := h.auth.Me(r.Context(), sess)
	if err != nil {
		errutil.LogErrorContext(r.Context(), h.logger, "failed to load current user", err)
		h.respond(w, r, http.StatusInternalServerError, genericError())
		return
	}
	h.respond(w, r, http.StatusOK, meResponse{User: h.view(sess, user)})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	sess := requestSession(r)
	user, err := h.auth.GetUser(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, auth.ErrNotFound):
		h.respond(w, r, http.StatusNotFound, meResponse{User: nil})
		return
	case err != nil:
		errutil.LogErrorContext(r.Context(), h.logger, "failed to load user", err)
		h.respond(w, r, http.StatusInternalServerError, genericError())
		return
	}
	h.respond(w, r, http.StatusOK, meResponse{User: h.view(sess, user)})
}

// decode reads the JSON body into dst. On failure it writes a 400 with the
// generic envelope and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		h.logger.DebugContext(r.Context(), "rejecting malformed request body", "path", r.URL.Path, "error", err)
		h.respond(w, r, http.StatusBadRequest, genericError())
		return false
	}
	return true
}

// respond commits the session, then writes body as JSON. A failed commit
// replaces the body with the generic error, since the client would otherwise
// believe a session change took effect.
//
// The operation itself is not rolled back: a registration or password change
// that succeeded stays in place, and a retry sees the email as taken or the
// token as expired. The log record carries operation_applied so the two cases
// can be told apart.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, body any) {
	if sess := requestSession(r); sess != nil {
		if err := h.sessions.Commit(r.Context(), w, sess); err != nil {
			logger := h.logger.With("path", r.URL.Path, "operation_applied", applied(body))
			errutil.LogErrorContext(r.Context(), logger, "failed to commit session", err)
			status, body = http.StatusInternalServerError, genericError()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WarnContext(r.Context(), "failed to write response", "error", err)
	}
}

// applied reports whether body describes an operation that took effect.
func applied(body any) bool {
	switch b := body.(type) {
	case envelope:
		return b.User != nil
	case okResponse:
		return b.OK
	}
	return false
}
