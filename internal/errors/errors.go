// Package errors provides structured error types for docrune.
// Every error carries a category, code, message, and retryable flag so that
// the store, the query engine and the API surfaces classify failures the
// same way.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryDocument   ErrorCategory = "DOCUMENT"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryIndex      ErrorCategory = "INDEX"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryJournal    ErrorCategory = "JOURNAL"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidDocument     = "INVALID_DOCUMENT"
	CodeInvalidPartitionKey = "INVALID_PARTITION_KEY"
	CodeSchemaViolation     = "SCHEMA_VIOLATION"

	// Document codes
	CodeDuplicateKey = "DUPLICATE_KEY"
	CodeNotFound     = "NOT_FOUND"

	// Query codes
	CodeInvalidQuery = "INVALID_QUERY"
	CodeCancelled    = "CANCELLED"

	// Index codes
	CodeIndexExists   = "INDEX_EXISTS"
	CodeIndexNotFound = "INDEX_NOT_FOUND"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Catalog codes
	CodeWriteConflict = "WRITE_CONFLICT"

	// Journal codes
	CodeCorruptionDetected = "CORRUPTION_DETECTED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Sentinels for errors.Is. Matching is by category and code, so any
// DocError built with the same pair matches regardless of its message.
var (
	ErrDuplicateKey = New(ErrCategoryDocument, CodeDuplicateKey, "document already exists")
	ErrNotFound     = New(ErrCategoryDocument, CodeNotFound, "document not found")
	ErrInvalidQuery = New(ErrCategoryQuery, CodeInvalidQuery, "invalid query")
	ErrCancelled    = New(ErrCategoryQuery, CodeCancelled, "query cancelled")
)

// DocError is the structured error type used throughout the system.
type DocError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *DocError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *DocError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *DocError) Is(target error) bool {
	var t *DocError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new DocError.
func New(category ErrorCategory, code, message string) *DocError {
	return &DocError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new DocError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *DocError {
	return &DocError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DocError) WithDetails(details map[string]interface{}) *DocError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var de *DocError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a DocError.
func GetCategory(err error) ErrorCategory {
	var de *DocError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a DocError.
func GetCode(err error) string {
	var de *DocError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryCatalog && code == CodeWriteConflict:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

// DuplicateKey reports an insert conflict on (partition key, id).
func DuplicateKey(pk, id string) *DocError {
	return New(ErrCategoryDocument, CodeDuplicateKey,
		fmt.Sprintf("document %q already exists in partition %s", id, pk)).
		WithDetails(map[string]interface{}{"partition_key": pk, "id": id})
}

// NotFound reports a get, replace or delete miss.
func NotFound(pk, id string) *DocError {
	return New(ErrCategoryDocument, CodeNotFound,
		fmt.Sprintf("document %q not found in partition %s", id, pk)).
		WithDetails(map[string]interface{}{"partition_key": pk, "id": id})
}

// InvalidQuery reports a malformed query, predicate or field path.
func InvalidQuery(format string, args ...interface{}) *DocError {
	return New(ErrCategoryQuery, CodeInvalidQuery, fmt.Sprintf(format, args...))
}

// Cancelled wraps the context error that stopped a query mid-stream.
func Cancelled(cause error) *DocError {
	return Wrap(ErrCategoryQuery, CodeCancelled, "query cancelled", cause)
}

func NewValidationError(code, message string) *DocError {
	return New(ErrCategoryValidation, code, message)
}

func NewIndexError(code, message string) *DocError {
	return New(ErrCategoryIndex, code, message)
}

func NewStorageError(code, message string, cause error) *DocError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *DocError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewJournalError(code, message string, cause error) *DocError {
	return Wrap(ErrCategoryJournal, code, message, cause)
}

func NewInternalError(message string, cause error) *DocError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
