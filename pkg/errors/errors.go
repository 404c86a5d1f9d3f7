package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid login credentials")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "you do not have permission to perform this action")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Account and cohort errors.
var (
	ErrDuplicateEmail    = New("DUPLICATE_EMAIL", http.StatusConflict, "user with this email already exists")
	ErrDuplicateUsername = New("DUPLICATE_USERNAME", http.StatusConflict, "username already taken")
	ErrGradeRequired     = New("GRADE_REQUIRED", http.StatusBadRequest, "grade is required for learners")
	ErrUnknownGrade      = New("UNKNOWN_GRADE", http.StatusBadRequest, "grade does not exist")
	ErrUnknownDivision   = New("UNKNOWN_DIVISION", http.StatusBadRequest, "division does not exist")
	ErrInvalidResetToken = New("INVALID_RESET_TOKEN", http.StatusBadRequest, "invalid or expired reset link")
	ErrSignupDisabled    = New("SIGNUP_DISABLED", http.StatusForbidden, "admin signup is disabled")
	ErrUnmappedDivision  = New("UNMAPPED_DIVISION", http.StatusBadRequest, "division is not mapped to the grade")
	ErrAlreadyAnswered   = New("ALREADY_ANSWERED", http.StatusConflict, "quiz already answered")
)

// Universal login bridge errors. Messages are part of the client contract.
var (
	ErrInvalidPlatform = New("INVALID_PLATFORM", http.StatusBadRequest, "Invalid Platform Id")
	ErrBridgeRejected  = New("BRIDGE_REJECTED", http.StatusBadRequest, "Explicit User Authentication Failed")
	ErrBridgeFailure   = New("BRIDGE_FAILURE", http.StatusInternalServerError, "User Authentication Failed")
	ErrLogoutRejected  = New("BRIDGE_LOGOUT_REJECTED", http.StatusBadRequest, "Explicit User Logout Failed")
	ErrLogoutFailure   = New("BRIDGE_LOGOUT_FAILURE", http.StatusInternalServerError, "Explicit User Logout Failed")
	ErrNotProvisioned  = New("NOT_PROVISIONED", http.StatusForbidden, "user is not registered in the legacy directory")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
