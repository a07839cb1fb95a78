// Package errors consolidates error definitions for the cube-store engine.
//
// It provides:
//   - Wire protocol error codes
//   - Sentinel errors for every failure class in the engine
//   - Category checking helpers
//   - ErrorToCode and CodeToError mapping
//   - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// =============================================================================
// Wire protocol error codes
// =============================================================================

const (
	CodeUnknown          int32 = 1
	CodeAuthFailed       int32 = 2
	CodeNotAuthenticated int32 = 3
	CodeInvalidRequest   int32 = 4
	CodeNotFound         int32 = 5
	CodeNameConflict     int32 = 6
	CodeInternal         int32 = 7
	CodeShapeMismatch    int32 = 8
	CodeDtypeMismatch    int32 = 9
	CodeIndex            int32 = 10
	CodeAppendAxis       int32 = 11
	CodeStorage          int32 = 12
	CodeSandbox          int32 = 13
	CodeTimeout          int32 = 14
)

// CodeName returns a human-readable name for an error code.
func CodeName(code int32) string {
	switch code {
	case CodeUnknown:
		return "Unknown"
	case CodeAuthFailed:
		return "AuthFailed"
	case CodeNotAuthenticated:
		return "NotAuthenticated"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeNotFound:
		return "NotFound"
	case CodeNameConflict:
		return "NameConflict"
	case CodeInternal:
		return "Internal"
	case CodeShapeMismatch:
		return "ShapeMismatch"
	case CodeDtypeMismatch:
		return "DtypeMismatch"
	case CodeIndex:
		return "IndexError"
	case CodeAppendAxis:
		return "AppendAxisError"
	case CodeStorage:
		return "StorageError"
	case CodeSandbox:
		return "SandboxViolation"
	case CodeTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// =============================================================================
// Sentinel errors
// =============================================================================

var (
	// Catalog errors
	ErrCubeNotFound = errors.New("cube not found")
	ErrNameConflict = errors.New("cube name already exists")

	// Dimension index errors
	ErrNameNotFound = errors.New("dimension or label not found")
	ErrIndex        = errors.New("index out of range")

	// Engine errors
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrDtypeMismatch = errors.New("dtype mismatch")
	ErrAppendAxis    = errors.New("invalid append axis")
	ErrStorage       = errors.New("storage failure")

	// Sandbox errors
	ErrSandbox        = errors.New("sandbox violation")
	ErrSandboxTimeout = errors.New("sandbox time budget exceeded")

	// Validation errors
	ErrInvalidName   = errors.New("invalid name")
	ErrInvalidShape  = errors.New("invalid shape")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")

	// Request/protocol errors
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrUnknownOp        = errors.New("unknown operation")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrTimeout          = errors.New("timeout")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrClosed   = errors.New("closed")
)

// =============================================================================
// Helper functions
// =============================================================================

// Is is a convenience wrapper for errors.Is.
var Is = errors.Is

// As is a convenience wrapper for errors.As.
var As = errors.As

// New is a convenience wrapper for errors.New.
var New = errors.New

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCubeNotFound) || errors.Is(err, ErrNameNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidShape) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// IsSandbox returns true if err is a sandbox violation.
func IsSandbox(err error) bool {
	return errors.Is(err, ErrSandbox) || errors.Is(err, ErrSandboxTimeout)
}

// =============================================================================
// Error to wire code mapping
// =============================================================================

// ErrorToCode maps a sentinel error to its wire protocol code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case Is(err, ErrAuthFailed):
		return CodeAuthFailed
	case Is(err, ErrNotAuthenticated):
		return CodeNotAuthenticated
	case Is(err, ErrCubeNotFound), Is(err, ErrNameNotFound):
		return CodeNotFound
	case Is(err, ErrNameConflict):
		return CodeNameConflict
	case Is(err, ErrShapeMismatch):
		return CodeShapeMismatch
	case Is(err, ErrDtypeMismatch):
		return CodeDtypeMismatch
	case Is(err, ErrIndex):
		return CodeIndex
	case Is(err, ErrAppendAxis):
		return CodeAppendAxis
	case Is(err, ErrStorage):
		return CodeStorage
	case IsSandbox(err):
		return CodeSandbox
	case Is(err, ErrTimeout):
		return CodeTimeout
	case IsValidation(err), Is(err, ErrInvalidRequest), Is(err, ErrUnknownCommand), Is(err, ErrUnknownOp):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}

// CodeToError maps a wire code to a sentinel error (for clients).
func CodeToError(code int32) error {
	switch code {
	case CodeAuthFailed:
		return ErrAuthFailed
	case CodeNotAuthenticated:
		return ErrNotAuthenticated
	case CodeInvalidRequest:
		return ErrInvalidRequest
	case CodeNotFound:
		return ErrCubeNotFound
	case CodeNameConflict:
		return ErrNameConflict
	case CodeShapeMismatch:
		return ErrShapeMismatch
	case CodeDtypeMismatch:
		return ErrDtypeMismatch
	case CodeIndex:
		return ErrIndex
	case CodeAppendAxis:
		return ErrAppendAxis
	case CodeStorage:
		return ErrStorage
	case CodeSandbox:
		return ErrSandbox
	case CodeTimeout:
		return ErrTimeout
	default:
		return ErrInternal
	}
}

// =============================================================================
// Error wrapping utilities
// =============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// =============================================================================
// Error constructors with context
// =============================================================================

// NewCubeNotFound creates a cube-not-found error carrying the cube name.
func NewCubeNotFound(name string) error {
	return fmt.Errorf("cube %q: %w", name, ErrCubeNotFound)
}

// NewNameConflict creates a name-conflict error carrying the cube name.
func NewNameConflict(name string) error {
	return fmt.Errorf("cube %q: %w", name, ErrNameConflict)
}

// NewShapeMismatch creates a shape-mismatch error carrying both shapes.
func NewShapeMismatch(a, b []int) error {
	return fmt.Errorf("shapes %v and %v: %w", a, b, ErrShapeMismatch)
}

// NewIndex creates an index error with position context.
func NewIndex(axis, pos, size int) error {
	return fmt.Errorf("axis %d: position %d out of range [0, %d): %w", axis, pos, size, ErrIndex)
}

// NewStorage creates a storage error identifying the failing chunk.
func NewStorage(cubeName, chunkKey string, err error) error {
	return fmt.Errorf("cube %q chunk %s: %v: %w", cubeName, chunkKey, err, ErrStorage)
}

// NewValidation creates a validation error with field context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// =============================================================================
// Validation Errors Collection
// =============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
