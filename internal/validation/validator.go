// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package validation provides struct validation using
// go-playground/validator v10 through a thread-safe singleton instance.
// Admin request bodies carry `validate` tags checked here before any
// mutation is applied.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// GetValidator returns the singleton validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// FieldError is one field validation failure with a readable message.
type FieldError struct {
	Field   string
	Tag     string
	Message string
}

// Error implements the error interface.
func (e FieldError) Error() string {
	return e.Message
}

// RequestValidationError aggregates all field failures for a request.
type RequestValidationError struct {
	fieldErrors []FieldError
}

// Errors returns the individual field errors.
func (ve *RequestValidationError) Errors() []FieldError {
	return ve.fieldErrors
}

// Error implements the error interface.
func (ve *RequestValidationError) Error() string {
	msgs := make([]string, len(ve.fieldErrors))
	for i, fe := range ve.fieldErrors {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, "; ")
}

// ValidateStruct validates a tagged struct, translating validator
// errors into a RequestValidationError.
func ValidateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("invalid validation target: %w", err)
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &RequestValidationError{}
	for _, fe := range verrs {
		out.fieldErrors = append(out.fieldErrors, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: describeFieldError(fe),
		})
	}
	return out
}

// describeFieldError renders a human-readable message for one failure.
func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "latitude":
		return fmt.Sprintf("%s must be a valid latitude", fe.Field())
	case "longitude":
		return fmt.Sprintf("%s must be a valid longitude", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	default:
		return fmt.Sprintf("%s failed validation on %s", fe.Field(), fe.Tag())
	}
}
