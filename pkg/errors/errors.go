package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
// Every expected gating outcome is represented by one of the exported values
// below so callers branch with errors.Is instead of string matching.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is treats two AppErrors with the same code as equivalent, so copies produced
// by WithInternal still match their sentinel.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e != nil && other != nil && e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Expected gating outcomes. These are user-facing results, not faults: the
// HTTP layer maps each to a specific message and the caller decides what to
// render. Only persistence failures fall outside this set.
var (
	ErrTokenNotFound = &AppError{
		Code:       "TOKEN_NOT_FOUND",
		Message:    "Verification link is invalid",
		StatusCode: http.StatusNotFound,
	}

	ErrTokenExpired = &AppError{
		Code:       "TOKEN_EXPIRED",
		Message:    "Verification link has expired",
		StatusCode: http.StatusGone,
	}

	ErrTokenConsumed = &AppError{
		Code:       "TOKEN_ALREADY_CONSUMED",
		Message:    "Verification link has already been used",
		StatusCode: http.StatusConflict,
	}

	ErrEmailTaken = &AppError{
		Code:       "EMAIL_TAKEN",
		Message:    "Email address is already registered to another account",
		StatusCode: http.StatusConflict,
	}

	ErrRateLimited = &AppError{
		Code:       "RATE_LIMITED",
		Message:    "Please wait before requesting another email",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrVersionStale = &AppError{
		Code:       "TERMS_VERSION_STALE",
		Message:    "The terms have changed since this form was loaded",
		StatusCode: http.StatusConflict,
	}

	ErrQuotaExceeded = &AppError{
		Code:       "QUOTA_EXCEEDED",
		Message:    "Monthly code quota exhausted",
		StatusCode: http.StatusPaymentRequired,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrCSRFInvalid = &AppError{
		Code:       "CSRF_TOKEN_INVALID",
		Message:    "Invalid CSRF token",
		StatusCode: http.StatusForbidden,
	}

	ErrEmailUnverified = &AppError{
		Code:       "EMAIL_UNVERIFIED",
		Message:    "Email address has not been verified",
		StatusCode: http.StatusForbidden,
	}

	ErrTermsNotAccepted = &AppError{
		Code:       "TOS_NOT_ACCEPTED",
		Message:    "Current terms of service have not been accepted",
		StatusCode: http.StatusForbidden,
	}

	ErrAccountSuspended = &AppError{
		Code:       "ACCOUNT_SUSPENDED",
		Message:    "Account is suspended",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
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

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
