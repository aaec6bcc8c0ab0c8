package errors

import (
	"fmt"
)

// VectorDBError is the structured error type for the engine (spec §7).
// It provides rich context for error handling, logging, and caller
// presentation; every public operation failure is a *VectorDBError.
type VectorDBError struct {
	// Code is the unique error code (e.g., "ERR_301_DIMENSION_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Lifecycle, Validation, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains the kind-specific structured payload (spec §7),
	// e.g. {"expected": "384", "got": "512"} for DimensionMismatch.
	Details map[string]string

	// Cause is the underlying error that caused this error, if any.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the caller.
	Suggestion string
}

// Error implements the error interface.
func (e *VectorDBError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *VectorDBError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code, so that
// errors.Is(err, SessionDestroyed) works against any occurrence of that
// kind regardless of message/details.
func (e *VectorDBError) Is(target error) bool {
	if t, ok := target.(*VectorDBError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error. Returns the error for
// chaining.
func (e *VectorDBError) WithDetail(key, value string) *VectorDBError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the caller.
func (e *VectorDBError) WithSuggestion(suggestion string) *VectorDBError {
	e.Suggestion = suggestion
	return e
}

// New creates a new VectorDBError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *VectorDBError {
	return &VectorDBError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a VectorDBError from an existing error, using its message.
func Wrap(code string, err error) *VectorDBError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigInvalid builds the ConfigInvalid{field, reason} error (spec §7):
// a missing or empty required Config field at create.
func ConfigInvalid(field, reason string) *VectorDBError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("config field %q invalid: %s", field, reason), nil).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

// SessionDestroyed builds the SessionDestroyed error: any operation
// attempted after destroy().
func SessionDestroyed() *VectorDBError {
	return New(ErrCodeSessionDestroyed, "session has been destroyed", nil)
}

// IndexNotReady builds the IndexNotReady error: an operation requires a
// trained historical index but it is not trained yet. This is internal —
// the orchestrator falls back to the recent partition rather than
// surfacing this to callers, per spec §7.
func IndexNotReady() *VectorDBError {
	return New(ErrCodeIndexNotReady, "historical index is not trained", nil)
}

// DimensionMismatch builds the DimensionMismatch{expected, got} error. The
// message includes both numbers, per spec §7's explicit requirement.
func DimensionMismatch(expected, got int) *VectorDBError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("vector dimension mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected", fmt.Sprint(expected)).
		WithDetail("got", fmt.Sprint(got))
}

// IDConflict builds the IdConflict{id} error: add with an id already known
// (live or tombstoned).
func IDConflict(id string) *VectorDBError {
	return New(ErrCodeIDConflict, fmt.Sprintf("id %q already exists", id), nil).
		WithDetail("id", id)
}

// IDNotFound builds the IdNotFound{id} error: update/delete/lookup of an
// unknown id.
func IDNotFound(id string) *VectorDBError {
	return New(ErrCodeIDNotFound, fmt.Sprintf("id %q not found", id), nil).
		WithDetail("id", id)
}

// FilterParseError builds the FilterParse{reason} error: a malformed
// filter document.
func FilterParseError(reason string) *VectorDBError {
	return New(ErrCodeFilterParse, fmt.Sprintf("invalid filter: %s", reason), nil).
		WithDetail("reason", reason)
}

// SchemaValidationError builds the SchemaValidation{errors[]} error: one
// or more field-level schema violations. The record table is left
// untouched by the caller when this is returned.
func SchemaValidationError(violations []string) *VectorDBError {
	e := New(ErrCodeSchemaValidation, fmt.Sprintf("schema validation failed: %d violation(s)", len(violations)), nil)
	for i, v := range violations {
		e.WithDetail(fmt.Sprintf("violation_%d", i), v)
	}
	return e
}

// BlobBackendError builds the BlobBackend{op, path, cause} error wrapping
// a transport failure. cause should be one of "not_found", "timeout",
// "cancelled", "io", "protocol" (spec §7).
func BlobBackendError(op, path, cause string, underlying error) *VectorDBError {
	return New(ErrCodeBlobBackend, fmt.Sprintf("blob backend %s %s: %s", op, path, cause), underlying).
		WithDetail("op", op).
		WithDetail("path", path).
		WithDetail("cause", cause)
}

// CorruptBlobError builds the CorruptBlob{path, reason} error: a
// magic/version/hash/decrypt failure while loading a blob.
func CorruptBlobError(path, reason string) *VectorDBError {
	return New(ErrCodeCorruptBlob, fmt.Sprintf("corrupt blob at %s: %s", path, reason), nil).
		WithDetail("path", path).
		WithDetail("reason", reason)
}

// EncryptionError builds the Encryption{reason} error: key derivation or
// AEAD failure.
func EncryptionError(reason string) *VectorDBError {
	return New(ErrCodeEncryption, fmt.Sprintf("encryption failure: %s", reason), nil).
		WithDetail("reason", reason)
}

// Cancelled builds the Cancelled error: the operation was cancelled or a
// blob call timed out.
func Cancelled() *VectorDBError {
	return New(ErrCodeCancelled, "operation cancelled", nil)
}

// InternalError creates a generic internal error for unexpected conditions.
func InternalError(message string, cause error) *VectorDBError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether err is a VectorDBError with Retryable set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := err.(*VectorDBError); ok {
		return ae.Retryable
	}
	return false
}

// IsFatal reports whether err is a VectorDBError with fatal severity.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := err.(*VectorDBError); ok {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a VectorDBError, "" otherwise.
func GetCode(err error) string {
	if ae, ok := err.(*VectorDBError); ok {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from a VectorDBError, "" otherwise.
func GetCategory(err error) Category {
	if ae, ok := err.(*VectorDBError); ok {
		return ae.Category
	}
	return ""
}
