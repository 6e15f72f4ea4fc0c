package errors

import (
	"errors"
	"fmt"
)

// RecallError is the structured error type for Recall.
// It provides rich context for error handling, logging, and sync state reporting.
type RecallError struct {
	// Code is the unique error code (e.g., "ERR_201_SOURCE_READ").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Source, Provider, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *RecallError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RecallError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with RecallError.
func (e *RecallError) Is(target error) bool {
	if t, ok := target.(*RecallError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *RecallError) WithDetail(key, value string) *RecallError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new RecallError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RecallError {
	return &RecallError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RecallError from an existing error.
// The error's message becomes the RecallError message.
func Wrap(code string, err error) *RecallError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// SourceReadError creates an error for an unreadable canonical source.
// Sync skips the source and continues; the error lands in SyncState.
func SourceReadError(path string, cause error) *RecallError {
	return New(ErrCodeSourceRead, fmt.Sprintf("read source %s: %v", path, cause), cause).
		WithDetail("path", path)
}

// PathNotAllowed creates the explicit safety-boundary denial for get.
func PathNotAllowed(path, reason string) *RecallError {
	return New(ErrCodePathNotAllowed, fmt.Sprintf("path not allowed: %s (%s)", path, reason), nil).
		WithDetail("path", path).
		WithDetail("reason", reason)
}

// StoreIOError creates an index persistence error.
func StoreIOError(message string, cause error) *RecallError {
	return New(ErrCodeStoreIO, message, cause)
}

// IsRetryable checks if an error is retryable.
// Walks the error chain looking for a RecallError.
func IsRetryable(err error) bool {
	var re *RecallError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort indexing until the configuration is corrected.
func IsFatal(err error) bool {
	var re *RecallError
	if errors.As(err, &re) {
		return re.Severity == SeverityFatal
	}
	return false
}

// HasCode reports whether err carries the given error code anywhere in its chain.
func HasCode(err error, code string) bool {
	var re *RecallError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// GetCode extracts the error code from a RecallError.
// Returns empty string if not a RecallError.
func GetCode(err error) string {
	var re *RecallError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
