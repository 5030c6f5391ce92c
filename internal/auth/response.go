// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package auth

import (
	"errors"
	"strings"
)

// Default field and message of the generic error.
const (
	DefaultErrorField   = "Unknown"
	DefaultErrorMessage = "Something went wrong, please try again later"
)

// User-facing messages.
const (
	MsgEmailTaken       = "An account with that email address already exist"
	MsgPasswordTooShort = "Password must contain at least 8 characters"
	MsgBadCredentials   = "Please ensure email and password is correct"
	MsgTokenExpired     = "Token expired"
	MsgTokenUnknownUser = "The token does not exist"
)

// Synthetic field names used where no input field is at fault.
const (
	FieldAuthentication = "Authentication"
	FieldToken          = "Token"
)

// FieldError is a single user-facing failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// UserResponse is the envelope returned by Manager operations.
// Exactly one of Errors and User is set.
type UserResponse struct {
	Errors []FieldError `json:"errors,omitempty"`
	User   *User        `json:"user,omitempty"`
}

// OK reports whether the response carries a user.
func (r UserResponse) OK() bool {
	return len(r.Errors) == 0 && r.User != nil
}

// Success wraps user in a response.
func Success(user *User) UserResponse {
	return UserResponse{User: user}
}

// StandardError builds the error envelope. Empty field and message fall back
// to DefaultErrorField and DefaultErrorMessage. If err is or wraps a
// *ValidationError, one FieldError per violation is returned instead, with
// the violations' fields and messages unchanged.
func StandardError(err error, field, message string) UserResponse {
	var verr *ValidationError
	if errors.As(err, &verr) && len(verr.Violations) > 0 {
		errs := make([]FieldError, len(verr.Violations))
		copy(errs, verr.Violations)
		return UserResponse{Errors: errs}
	}

	if field == "" {
		field = DefaultErrorField
	}
	if message == "" {
		message = DefaultErrorMessage
	}
	return UserResponse{Errors: []FieldError{{Field: field, Message: message}}}
}

// ValidationError carries one or more named field violations.
type ValidationError struct {
	Violations []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
