// Package errors defines AppError, the error type handlers render into the JSON envelope.
// Services return AppErrors for failures the caller can act on and plain wrapped errors for
// infrastructure faults, which are rendered as a generic 500.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a client-facing failure with a stable machine readable code.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
	// Details carries machine readable context such as field failures or a conflicting record.
	Details any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.Internal != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Internal)
	default:
		return e.Code + ": " + e.Message
	}
}

// Unwrap exposes the internal cause.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches by code so decorated copies still compare equal to their sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) clone() *AppError {
	cpy := *e
	return &cpy
}

// WithInternal returns a copy carrying cause for logs.
func (e *AppError) WithInternal(cause error) *AppError {
	if e == nil {
		return nil
	}
	cpy := e.clone()
	cpy.Internal = cause
	return cpy
}

// WithDetails returns a copy carrying a details payload.
func (e *AppError) WithDetails(details any) *AppError {
	if e == nil {
		return nil
	}
	cpy := e.clone()
	cpy.Details = details
	return cpy
}

// WithMessage returns a copy with a replacement message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}
	cpy := e.clone()
	cpy.Message = message
	return cpy
}

// New defines an AppError. Packages use it for their own sentinels.
func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: status}
}

// Generic failures shared by every endpoint.
var (
	ErrBadRequest       = New("BAD_REQUEST", "Invalid request", http.StatusBadRequest)
	ErrValidation       = New("VALIDATION_FAILED", "Request validation failed", http.StatusBadRequest)
	ErrUnauthorized     = New("UNAUTHORIZED", "Authentication required", http.StatusUnauthorized)
	ErrForbidden        = New("FORBIDDEN", "Permission denied", http.StatusForbidden)
	ErrNotFound         = New("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrMethodNotAllowed = New("METHOD_NOT_ALLOWED", "Method not allowed", http.StatusMethodNotAllowed)
	ErrConflict         = New("CONFLICT", "Resource state conflict", http.StatusConflict)
	ErrRateLimit        = New("RATE_LIMIT_EXCEEDED", "Too many requests, please slow down", http.StatusTooManyRequests)
	ErrInternalServer   = New("INTERNAL_SERVER_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrUnavailable      = New("UNHEALTHY", "Service dependencies unavailable", http.StatusServiceUnavailable)
)

// FromError returns the AppError inside err, or ErrInternalServer wrapping err.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest is ErrBadRequest with a specific message.
func NewBadRequest(message string) *AppError {
	return ErrBadRequest.WithMessage(message)
}

// NewValidation reports field level failures collected before any write happens.
func NewValidation(message string, fields any) *AppError {
	err := ErrValidation.WithDetails(fields)
	if message != "" {
		err.Message = message
	}
	return err
}
