// Package errors provides structured error types for the MediaRec engine.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStore      ErrorCategory = "STORE"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryRepair     ErrorCategory = "REPAIR"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes. These are configuration errors: the job aborts
	// before any I/O side effects when one is raised.
	CodeScopeMismatch          = "SCOPE_MISMATCH"
	CodeInvalidOwnerIdentifier = "INVALID_OWNER_IDENTIFIER"
	CodeInvalidConfig          = "INVALID_CONFIG"

	// Store codes
	CodeListingFailed  = "LISTING_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeDeleteFailed   = "DELETE_FAILED"
	CodeReadFailed     = "READ_FAILED"

	// Catalog codes
	CodeRecordNotFound = "RECORD_NOT_FOUND"
	CodeDuplicatePath  = "DUPLICATE_PATH"
	CodeWriteFailed    = "WRITE_FAILED"

	// Repair codes
	CodeActionNotAuthorized = "ACTION_NOT_AUTHORIZED"
	CodeActionFailed        = "ACTION_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// ReconError is the structured error type used throughout the engine.
type ReconError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *ReconError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ReconError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ReconError) Is(target error) bool {
	var t *ReconError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ReconError.
func New(category ErrorCategory, code, message string) *ReconError {
	return &ReconError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new ReconError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ReconError {
	return &ReconError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *ReconError) WithDetails(details map[string]interface{}) *ReconError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var re *ReconError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// IsConfiguration reports whether the error is a configuration error,
// which aborts a job outright instead of being recorded and skipped.
func IsConfiguration(err error) bool {
	return GetCategory(err) == ErrCategoryValidation
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a ReconError.
func GetCategory(err error) ErrorCategory {
	var re *ReconError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a ReconError.
func GetCode(err error) string {
	var re *ReconError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// isRetryable determines whether an error code is transient. Configuration
// and not-found conditions are never retried; plain I/O failures are.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStore && code == CodeListingFailed:
		return true
	case category == ErrCategoryStore && code == CodeReadFailed:
		return true
	case category == ErrCategoryStore && code == CodeDeleteFailed:
		return true
	case category == ErrCategoryCatalog && code == CodeWriteFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewScopeMismatch(message string) *ReconError {
	return New(ErrCategoryValidation, CodeScopeMismatch, message)
}

func NewInvalidOwnerIdentifier(owner string) *ReconError {
	return New(ErrCategoryValidation, CodeInvalidOwnerIdentifier,
		fmt.Sprintf("owner identifier %q cannot be transliterated to the safe character set", owner))
}

func NewStoreError(code, message string, cause error) *ReconError {
	return Wrap(ErrCategoryStore, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *ReconError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewActionNotAuthorized(message string) *ReconError {
	return New(ErrCategoryRepair, CodeActionNotAuthorized, message)
}

func NewInternalError(message string, cause error) *ReconError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
