package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeInvalidCredentials indicates the principal/secret pair was rejected.
	ErrCodeInvalidCredentials ErrorCode = "invalid_credentials"
	// ErrCodeMethodDisabled indicates the requested auth method is not enabled.
	ErrCodeMethodDisabled ErrorCode = "method_disabled"
	// ErrCodeBackendUnavailable indicates a network failure or timeout talking to a credential backend.
	ErrCodeBackendUnavailable ErrorCode = "backend_unavailable"
	// ErrCodeOAuthExchangeFailed indicates the OAuth callback could not be completed.
	ErrCodeOAuthExchangeFailed ErrorCode = "oauth_exchange_failed"
	// ErrCodeSessionExpired indicates the session exists but is past its expiry.
	ErrCodeSessionExpired ErrorCode = "session_expired"
	// ErrCodeSessionNotFound indicates no session exists for the token.
	ErrCodeSessionNotFound ErrorCode = "session_not_found"
	// ErrCodeConfiguration indicates invalid startup configuration.
	ErrCodeConfiguration ErrorCode = "configuration"
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "internal"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
// Two AppErrors match under errors.Is when their codes are equal, so package-level
// sentinels can be compared against wrapped instances carrying a cause.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports code equality with another *AppError.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

// Configurationf creates a new Configuration error with a formatted message.
func Configurationf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeConfiguration,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// CodeOf returns the code of the outermost AppError in err's chain, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsConfiguration checks if an error is a Configuration error.
func IsConfiguration(err error) bool {
	return isCode(err, ErrCodeConfiguration)
}

// IsBackendUnavailable checks if an error is a BackendUnavailable error.
func IsBackendUnavailable(err error) bool {
	return isCode(err, ErrCodeBackendUnavailable)
}

// userMessages are the only texts ever returned to clients for each code.
var userMessages = map[ErrorCode]string{
	ErrCodeInvalidCredentials:  "Invalid username or password",
	ErrCodeMethodDisabled:      "Authentication method is not enabled",
	ErrCodeBackendUnavailable:  "Authentication service temporarily unavailable",
	ErrCodeOAuthExchangeFailed: "OAuth authentication failed",
	ErrCodeSessionExpired:      "Session expired",
	ErrCodeSessionNotFound:     "Authentication required",
	ErrCodeConfiguration:       "Service misconfigured",
	ErrCodeNotFound:            "Not found",
	ErrCodeConflict:            "Already exists",
	ErrCodeValidation:          "Invalid request",
	ErrCodeInternal:            "Internal error",
}

// UserMessage returns a fixed, client-safe message for err. Causes are never included.
func UserMessage(err error) string {
	if msg, ok := userMessages[CodeOf(err)]; ok {
		return msg
	}
	return userMessages[ErrCodeInternal]
}
