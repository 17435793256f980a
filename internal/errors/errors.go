package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeForeignKey indicates a foreign key constraint violation.
	ErrCodeForeignKey ErrorCode = "foreign_key"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeDatabase indicates a database error that is not a constraint violation.
	ErrCodeDatabase ErrorCode = "database"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
	// ErrCodeAuthentication indicates failed credential verification.
	ErrCodeAuthentication ErrorCode = "authentication"
	// ErrCodeAuthorization indicates the caller lacks a required capability.
	ErrCodeAuthorization ErrorCode = "authorization"
	// ErrCodeInvalidToken indicates a token that failed cryptographic or structural verification.
	ErrCodeInvalidToken ErrorCode = "invalid_token"
	// ErrCodeExpiredToken indicates a token past its expiry.
	ErrCodeExpiredToken ErrorCode = "expired_token"
	// ErrCodeRevokedToken indicates a token or session that has been revoked.
	ErrCodeRevokedToken ErrorCode = "revoked_token"
	// ErrCodeStatusChanged indicates an optimistic-concurrency failure on a status transition.
	ErrCodeStatusChanged ErrorCode = "status_already_changed"
	// ErrCodeExternalUnavailable indicates a transient failure of an external collaborator.
	ErrCodeExternalUnavailable ErrorCode = "external_unavailable"
	// ErrCodeLockHeld indicates a lease for the resource is already held elsewhere.
	ErrCodeLockHeld ErrorCode = "lock_held"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
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

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf creates an AppError with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return New(ErrCodeNotFound, message)
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return Newf(ErrCodeNotFound, format, args...)
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return Newf(ErrCodeConflict, format, args...)
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return Newf(ErrCodeValidation, format, args...)
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// Authentication creates an authentication failure. Callers must never learn
// whether the username or the password was wrong.
func Authentication() *AppError {
	return New(ErrCodeAuthentication, "invalid credentials")
}

// Authorization creates an authorization failure naming the required capability.
func Authorization(capability string) *AppError {
	return Newf(ErrCodeAuthorization, "missing required capability: %s", capability)
}

// InvalidToken creates an invalid-token error.
func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

// ExpiredToken creates an expired-token error.
func ExpiredToken(message string) *AppError {
	return New(ErrCodeExpiredToken, message)
}

// RevokedToken creates a revoked-token error.
func RevokedToken(message string) *AppError {
	return New(ErrCodeRevokedToken, message)
}

// StatusChanged creates a status_already_changed error carrying the current and expected codes.
func StatusChanged(current, expected int) *AppError {
	return Newf(ErrCodeStatusChanged, "status already changed: current=%d expected=%d", current, expected)
}

// ExternalUnavailable creates an external_unavailable error.
func ExternalUnavailable(message string) *AppError {
	return New(ErrCodeExternalUnavailable, message)
}

// LockHeld creates a lock_held error.
func LockHeld(message string) *AppError {
	return New(ErrCodeLockHeld, message)
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return Newf(ErrCodeInternal, format, args...)
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
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

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsForeignKey checks if an error is a ForeignKey error.
func IsForeignKey(err error) bool {
	return isCode(err, ErrCodeForeignKey)
}

// IsAuthentication checks if an error is an authentication failure.
func IsAuthentication(err error) bool {
	return isCode(err, ErrCodeAuthentication)
}

// IsAuthorization checks if an error is an authorization failure.
func IsAuthorization(err error) bool {
	return isCode(err, ErrCodeAuthorization)
}

// IsInvalidToken checks if an error is an invalid-token error.
func IsInvalidToken(err error) bool {
	return isCode(err, ErrCodeInvalidToken)
}

// IsExpiredToken checks if an error is an expired-token error.
func IsExpiredToken(err error) bool {
	return isCode(err, ErrCodeExpiredToken)
}

// IsRevokedToken checks if an error is a revoked-token error.
func IsRevokedToken(err error) bool {
	return isCode(err, ErrCodeRevokedToken)
}

// IsTokenRejection reports whether the error is any of the invalid, expired,
// revoked, or not-found kinds that a failed session refresh may surface.
func IsTokenRejection(err error) bool {
	return IsInvalidToken(err) || IsExpiredToken(err) || IsRevokedToken(err) || IsNotFound(err)
}

// IsStatusChanged checks if an error is a status_already_changed error.
func IsStatusChanged(err error) bool {
	return isCode(err, ErrCodeStatusChanged)
}

// IsExternalUnavailable checks if an error is an external_unavailable error.
func IsExternalUnavailable(err error) bool {
	return isCode(err, ErrCodeExternalUnavailable)
}

// IsLockHeld checks if an error is a lock_held error.
func IsLockHeld(err error) bool {
	return isCode(err, ErrCodeLockHeld)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// IsDatabase checks if an error is a database error.
func IsDatabase(err error) bool {
	return isCode(err, ErrCodeDatabase)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
