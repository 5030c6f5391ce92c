// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package auth

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterInput is the payload of Manager.Register.
type RegisterInput struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password"`
	FirstName string `json:"firstname" validate:"required,max=100"`
	LastName  string `json:"lastname" validate:"required,max=100"`
}

// LoginInput is the payload of Manager.Login.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChangePasswordInput is the payload of Manager.ChangePassword.
type ChangePasswordInput struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names so violations line up with the request fields.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NewValidationError converts validator.ValidationErrors into a
// *ValidationError, preserving field order. Other errors are returned as is.
func NewValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	violations := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		violations = append(violations, FieldError{
			Field:   fe.Field(),
			Message: violationMessage(fe),
		})
	}
	return &ValidationError{Violations: violations}
}

func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Please enter a valid email address"
	case "max":
		return fmt.Sprintf("Must be at most %s characters", fe.Param())
	default:
		return "Invalid value"
	}
}
