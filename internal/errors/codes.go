// Package errors provides the structured error taxonomy for the engine
// (spec §7).
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Lifecycle errors (destroyed session, index not ready)
//   - 3XX: Validation errors (dimension, id, filter, schema)
//   - 4XX: Blob backend / persistence errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryLifecycle indicates session lifecycle errors.
	CategoryLifecycle Category = "LIFECYCLE"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryBackend indicates blob backend / persistence errors.
	CategoryBackend Category = "BACKEND"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates an unrecoverable error; the session must not
	// be trusted for further mutation.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the session remains usable.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates a transient, likely-retryable condition.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category (spec §7 taxonomy).
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"

	// Lifecycle errors (200-299)
	ErrCodeSessionDestroyed = "ERR_201_SESSION_DESTROYED"
	ErrCodeIndexNotReady    = "ERR_202_INDEX_NOT_READY"

	// Validation errors (300-399)
	ErrCodeDimensionMismatch = "ERR_301_DIMENSION_MISMATCH"
	ErrCodeIDConflict        = "ERR_302_ID_CONFLICT"
	ErrCodeIDNotFound        = "ERR_303_ID_NOT_FOUND"
	ErrCodeFilterParse       = "ERR_304_FILTER_PARSE"
	ErrCodeSchemaValidation  = "ERR_305_SCHEMA_VALIDATION"

	// Blob backend / persistence errors (400-499)
	ErrCodeBlobBackend = "ERR_401_BLOB_BACKEND"
	ErrCodeCorruptBlob = "ERR_402_CORRUPT_BLOB"
	ErrCodeEncryption  = "ERR_403_ENCRYPTION"
	ErrCodeCancelled   = "ERR_404_CANCELLED"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_INVALID")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryLifecycle
	case '3':
		return CategoryValidation
	case '4':
		return CategoryBackend
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptBlob, ErrCodeSessionDestroyed:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Every BlobBackend error is marked retryable, whatever cause its details
// record (not_found included); validation, lifecycle, and filter/schema
// errors never are.
func isRetryableCode(code string) bool {
	return code == ErrCodeBlobBackend
}
