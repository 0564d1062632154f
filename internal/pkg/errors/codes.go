package errors

import (
	"fmt"
	"net/http"
)

// Error codes returned to callers. Messages are English log text; callers
// key their handling on the code and params.

// Request lifecycle error codes.
const (
	CodeRequestNotFound        = "REQUEST_NOT_FOUND"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeDriftDetected          = "DRIFT_DETECTED"
	CodeDuplicateActiveRequest = "DUPLICATE_ACTIVE_REQUEST"
	CodeSourceDocumentNotFound = "SOURCE_DOCUMENT_NOT_FOUND"
	CodeSourceUnavailable      = "SOURCE_DOCUMENT_UNAVAILABLE"
)

// Catalog error codes.
const (
	CodeCatalogUnavailable = "CATALOG_UNAVAILABLE"
)

// Target system error codes.
const (
	CodeSyncUnreachable       = "SYNC_UNREACHABLE"
	CodeSyncRejected          = "SYNC_REJECTED"
	CodeSyncDuplicateConflict = "SYNC_DUPLICATE_CONFLICT"
	CodeSyncTimeout           = "SYNC_TIMEOUT"
)

// IsSyncFailure reports whether err is a classified target system failure.
func IsSyncFailure(err error) bool {
	switch CodeOf(err) {
	case CodeSyncUnreachable, CodeSyncRejected, CodeSyncDuplicateConflict, CodeSyncTimeout:
		return true
	}
	return false
}

// Auth error codes.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenInvalid = "TOKEN_INVALID"
	CodeForbidden    = "FORBIDDEN"
)

// Validation error codes.
const (
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeInvalidRequestField = "INVALID_REQUEST_FIELD"
	CodeNameInvalid         = "NAME_INVALID"
)

// Generic codes.
const (
	CodeInternal = "INTERNAL_ERROR"
)

// ErrRequestNotFound creates a request not found error.
func ErrRequestNotFound(id string) *AppError {
	return NotFound(CodeRequestNotFound, "master creation request not found").
		WithParam("request_id", id)
}

// ErrInvalidTransition reports a transition the current status does not
// allow. attempted is the status the caller tried to reach.
func ErrInvalidTransition(current, attempted string) *AppError {
	return Conflict(CodeInvalidStateTransition,
		fmt.Sprintf("cannot move request from %q to %q", current, attempted)).
		WithParams(map[string]interface{}{
			"current_status": current,
			"attempted":      attempted,
		})
}

// ErrValidation creates a validation error for a single field.
func ErrValidation(field, message string) *AppError {
	return BadRequest(CodeValidationFailed, message).
		WithFieldErrors([]FieldError{{Field: field, Code: CodeValidationFailed, Message: message}})
}

// ErrCatalogUnavailable reports that the master catalog could not answer.
func ErrCatalogUnavailable(err error) *AppError {
	return &AppError{
		Code:       CodeCatalogUnavailable,
		Message:    "master catalog is unavailable; dependency check incomplete",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// ErrDriftDetected reports source fields that changed since the request was raised.
func ErrDriftDetected(changed []string) *AppError {
	return Conflict(CodeDriftDetected, "source document changed since the request was created").
		WithParam("changed_fields", changed)
}
