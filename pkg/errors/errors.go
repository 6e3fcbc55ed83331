package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Domain errors
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeIntegrity  ErrorType = "INTEGRITY"

	// Coordination errors
	ErrorTypeWriteTimeout     ErrorType = "WRITE_TIMEOUT"
	ErrorTypeLockLeaseExpired ErrorType = "LOCK_LEASE_EXPIRED"

	// Durability errors
	ErrorTypeSnapshotValidation ErrorType = "SNAPSHOT_VALIDATION"
	ErrorTypeNoValidSnapshot    ErrorType = "NO_VALID_SNAPSHOT"
	ErrorTypeExportFailure      ErrorType = "EXPORT_FAILURE"
	ErrorTypeMigrationFailure   ErrorType = "MIGRATION_FAILURE"
	ErrorTypeOrphanDetected     ErrorType = "ORPHAN_DETECTED"

	// Infrastructure errors
	ErrorTypeInternal    ErrorType = "INTERNAL"
	ErrorTypeDatabase    ErrorType = "DATABASE"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single error detail
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := ""
	for {
		frame, more := frames.Next()
		stack += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stack
}

// Constructor functions for common error types

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		StackTrace: captureStackTrace(),
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		StackTrace: captureStackTrace(),
	}
}

// NewIntegrityError creates a referential integrity error. Edge writes whose
// endpoints are missing, soft-deleted, or owned by another tenant are rejected
// with this type before any row is written.
func NewIntegrityError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeIntegrity,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
		StackTrace: captureStackTrace(),
	}
}

// NewWriteTimeoutError creates a write coordination timeout error. Retryable:
// the caller may attempt the write again once contention clears.
func NewWriteTimeoutError(tenantID string) *AppError {
	return &AppError{
		Type:       ErrorTypeWriteTimeout,
		Message:    fmt.Sprintf("timed out acquiring write lock for tenant %q", tenantID),
		Retryable:  true,
		HTTPStatus: http.StatusServiceUnavailable,
		StackTrace: captureStackTrace(),
	}
}

// NewLockLeaseExpiredError indicates the write lock lease lapsed while an
// operation was in flight. The local store is flagged for reconciliation and
// exports are suppressed until it is re-hydrated.
func NewLockLeaseExpiredError(tenantID string) *AppError {
	return &AppError{
		Type:       ErrorTypeLockLeaseExpired,
		Message:    fmt.Sprintf("write lock lease expired mid-operation for tenant %q", tenantID),
		HTTPStatus: http.StatusConflict,
		StackTrace: captureStackTrace(),
	}
}

// NewSnapshotValidationError creates a checksum/manifest validation error for
// a specific snapshot version.
func NewSnapshotValidationError(version, detail string) *AppError {
	return &AppError{
		Type:       ErrorTypeSnapshotValidation,
		Message:    fmt.Sprintf("snapshot %s failed validation: %s", version, detail),
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewNoValidSnapshotError indicates no loadable snapshot exists for the tenant.
func NewNoValidSnapshotError(tenantID string) *AppError {
	return &AppError{
		Type:       ErrorTypeNoValidSnapshot,
		Message:    fmt.Sprintf("no valid snapshot available for tenant %q", tenantID),
		HTTPStatus: http.StatusNotFound,
		StackTrace: captureStackTrace(),
	}
}

// NewExportFailureError creates an export failure error carrying the failed
// step. The previously published snapshot remains authoritative.
func NewExportFailureError(step string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeExportFailure,
		Message:    fmt.Sprintf("snapshot export failed at step %q", step),
		Cause:      err,
		Retryable:  true,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewMigrationFailureError creates a fatal migration error. The schema stays at
// its prior version and the process must refuse to serve writes.
func NewMigrationFailureError(version int, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeMigrationFailure,
		Message:    fmt.Sprintf("schema migration to version %d failed", version),
		Cause:      err,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewOrphanDetectedError reports a dangling edge or entity-edge found by the
// integrity scanner. Non-fatal; logged and optionally auto-repaired.
func NewOrphanDetectedError(table, rowID string) *AppError {
	return &AppError{
		Type:       ErrorTypeOrphanDetected,
		Message:    fmt.Sprintf("orphaned row %s in table %s", rowID, table),
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeDatabase,
		Message:    fmt.Sprintf("database operation '%s' failed", operation),
		Cause:      err,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewUnavailableError creates a service unavailable error
func NewUnavailableError(service string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Message:    fmt.Sprintf("service '%s' is unavailable", service),
		Retryable:  true,
		HTTPStatus: http.StatusServiceUnavailable,
		StackTrace: captureStackTrace(),
	}
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsIntegrity checks if an error is a referential integrity error
func IsIntegrity(err error) bool {
	return IsType(err, ErrorTypeIntegrity)
}

// IsWriteTimeout checks if an error is a write lock timeout
func IsWriteTimeout(err error) bool {
	return IsType(err, ErrorTypeWriteTimeout)
}

// IsSnapshotValidation checks if an error is a snapshot validation failure
func IsSnapshotValidation(err error) bool {
	return IsType(err, ErrorTypeSnapshotValidation)
}

// IsNoValidSnapshot checks if an error reports that no snapshot is loadable
func IsNoValidSnapshot(err error) bool {
	return IsType(err, ErrorTypeNoValidSnapshot)
}

// IsExportFailure checks if an error is an export failure
func IsExportFailure(err error) bool {
	return IsType(err, ErrorTypeExportFailure)
}

// IsMigrationFailure checks if an error is a migration failure
func IsMigrationFailure(err error) bool {
	return IsType(err, ErrorTypeMigrationFailure)
}

// IsRetryable reports whether the caller may safely retry the operation
func IsRetryable(err error) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Retryable
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, add context to message
	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	// Otherwise create a new internal error
	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
