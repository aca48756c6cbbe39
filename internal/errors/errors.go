// Package errors provides the categorized error type shared by the store,
// ingestion, history and reconciliation components. Every error carries a
// category, a code, a message and a retryable flag.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies errors by how callers are expected to react.
type Category string

const (
	CategoryValidation       Category = "VALIDATION"
	CategoryReferential      Category = "REFERENTIAL"
	CategoryConflict         Category = "CONFLICT"
	CategoryTransientStorage Category = "TRANSIENT_STORAGE"
	CategoryInternal         Category = "INTERNAL"
)

// Error codes.
const (
	// Validation codes
	CodeNegativeCount   = "NEGATIVE_COUNT"
	CodeMalformedTime   = "MALFORMED_TIMESTAMP"
	CodeUnknownCategory = "UNKNOWN_CATEGORY"
	CodeMissingField    = "MISSING_FIELD"
	CodeImmutableField  = "IMMUTABLE_FIELD"
	CodeEngagement      = "IMPOSSIBLE_ENGAGEMENT"
	CodeUnknownField    = "UNKNOWN_FIELD"
	CodeInvalidConfig   = "INVALID_CONFIG"
	CodeNotFound        = "NOT_FOUND"
	CodeDuplicateKey    = "DUPLICATE_KEY"
	CodeMalformedInput  = "MALFORMED_INPUT"

	// Referential codes
	CodeDanglingReference           = "DANGLING_REFERENCE"
	CodeCrossCompetitorReassignment = "CROSS_COMPETITOR_REASSIGNMENT"

	// Conflict codes
	CodeAlreadyInitialized = "ALREADY_INITIALIZED"
	CodeMigrationConflict  = "MIGRATION_CONFLICT"

	// Transient storage codes
	CodeStorageBusy = "STORAGE_BUSY"
	CodeLockTimeout = "LOCK_TIMEOUT"
	CodeIO          = "IO"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout ytradar.
type Error struct {
	Category  Category
	Code      string
	Message   string
	Details   map[string]any
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// New creates a new Error.
func New(category Category, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: category == CategoryTransientStorage,
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category Category, code, message string, cause error) *Error {
	e := New(category, code, message)
	e.Cause = cause
	return e
}

// Sentinels for errors.Is comparisons. Only category and code are compared.
var (
	ErrDanglingReference           = New(CategoryReferential, CodeDanglingReference, "")
	ErrCrossCompetitorReassignment = New(CategoryReferential, CodeCrossCompetitorReassignment, "")
	ErrAlreadyInitialized          = New(CategoryConflict, CodeAlreadyInitialized, "")
	ErrMigrationConflict           = New(CategoryConflict, CodeMigrationConflict, "")
	ErrLockTimeout                 = New(CategoryTransientStorage, CodeLockTimeout, "")
	ErrNotFound                    = New(CategoryValidation, CodeNotFound, "")
)

func Validation(code, format string, args ...any) *Error {
	return New(CategoryValidation, code, fmt.Sprintf(format, args...))
}

func Referential(code, format string, args ...any) *Error {
	return New(CategoryReferential, code, fmt.Sprintf(format, args...))
}

func Conflict(code, format string, args ...any) *Error {
	return New(CategoryConflict, code, fmt.Sprintf(format, args...))
}

func Transient(code, message string, cause error) *Error {
	return Wrap(CategoryTransientStorage, code, message, cause)
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an *Error.
func GetCategory(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ClassifyStorage maps driver errors onto the transient category when
// SQLite reports lock contention. Other untyped errors are wrapped with op.
func ClassifyStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_LOCKED") {
		return Transient(CodeStorageBusy, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
