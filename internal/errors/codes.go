// Package errors provides structured error handling for Recall.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Source IO errors (memory files, logs, transcripts)
//   - 3XX: Embedding provider errors
//   - 4XX: Validation and safety errors
//   - 5XX: Store and internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategorySource indicates canonical source read errors.
	CategorySource Category = "SOURCE"
	// CategoryProvider indicates embedding provider errors.
	CategoryProvider Category = "PROVIDER"
	// CategoryValidation indicates input validation and safety errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryStore indicates index store and internal errors.
	CategoryStore Category = "STORE"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Source IO errors (200-299)
	ErrCodeSourceRead     = "ERR_201_SOURCE_READ"
	ErrCodeSourceNotFound = "ERR_202_SOURCE_NOT_FOUND"
	ErrCodeSourceCorrupt  = "ERR_203_SOURCE_CORRUPT"

	// Provider errors (300-399)
	ErrCodeProviderUnavailable = "ERR_301_PROVIDER_UNAVAILABLE"
	ErrCodeProviderRateLimited = "ERR_302_PROVIDER_RATE_LIMITED"
	ErrCodeDimensionMismatch   = "ERR_303_DIMENSION_MISMATCH"

	// Validation and safety errors (400-499)
	ErrCodeInvalidInput   = "ERR_401_INVALID_INPUT"
	ErrCodeQueryEmpty     = "ERR_402_QUERY_EMPTY"
	ErrCodePathNotAllowed = "ERR_403_PATH_NOT_ALLOWED"

	// Store and internal errors (500-599)
	ErrCodeStoreIO         = "ERR_501_STORE_IO"
	ErrCodeCorruptIndex    = "ERR_502_CORRUPT_INDEX"
	ErrCodeBackendDegraded = "ERR_503_BACKEND_DEGRADED"
	ErrCodeInternal        = "ERR_504_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryStore
	}

	// Extract numeric portion (e.g., "201" from "ERR_201_SOURCE_READ")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategorySource
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryStore
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDimensionMismatch:
		// Dimension mismatch is fatal to indexing until reconfigured.
		return SeverityFatal
	case ErrCodeBackendDegraded:
		// Fallback keeps serving; degraded but not failing.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Dimension mismatch is deliberately absent: it must be reconfigured, not retried.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderUnavailable, ErrCodeProviderRateLimited, ErrCodeStoreIO:
		return true
	default:
		return false
	}
}
