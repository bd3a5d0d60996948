package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Category sentinels. Store-specific sentinels below wrap one of these so callers
// can match either the precise condition or the broad category with errors.Is.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrProviderError    = fmt.Errorf("provider error")
)

// Sentinel errors for the memory log.
var (
	ErrLockTimeout          = fmt.Errorf("lock not acquired: %w", ErrTimeout)
	ErrAccessDenied         = fmt.Errorf("storage access: %w", ErrPermissionDenied)
	ErrEntryNotFound        = fmt.Errorf("memory entry %w", ErrNotFound)
	ErrNotInitialized       = fmt.Errorf("store not initialized")
	ErrNoSimilarityProvider = fmt.Errorf("no similarity provider configured")
	ErrEmbeddingFailed      = fmt.Errorf("embedding generation failed: %w", ErrProviderError)
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
	ErrDecryption           = fmt.Errorf("decryption failed")
	ErrAuditWrite           = fmt.Errorf("audit write failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Store.Delete")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ValidationError reports the first schema violation found in a candidate entry.
// It unwraps to ErrInvalidInput.
type ValidationError struct {
	Field  string // offending field; empty when the candidate itself is rejected
	Value  any    // offending value as decoded from the candidate
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid entry: " + e.Reason
	}
	return fmt.Sprintf("invalid entry field %q (value %s): %s", e.Field, formatValue(e.Value), e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NewValidationError creates a ValidationError for field.
func NewValidationError(field string, value any, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

const maxValueLen = 64

func formatValue(v any) string {
	s := fmt.Sprintf("%#v", v)
	if v == nil {
		s = "null"
	}
	if len(s) > maxValueLen {
		s = s[:maxValueLen] + "..."
	}
	return strings.ReplaceAll(s, "\n", `\n`)
}

// ErrorCode is a machine-parseable error category, used by the CLI for exit
// codes and by callers that log errors for monitoring.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeValidation       ErrorCode = "VALIDATION"
	CodeLockTimeout      ErrorCode = "LOCK_TIMEOUT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeAccessDenied     ErrorCode = "ACCESS_DENIED"
	CodeNotInitialized   ErrorCode = "NOT_INITIALIZED"
	CodeNoSimilarity     ErrorCode = "NO_SIMILARITY_PROVIDER"
	CodeEmbeddingFailed  ErrorCode = "EMBEDDING_FAILED"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
)

// errorCodes is ordered most specific first: store sentinels wrap category
// sentinels, so the first errors.Is match wins.
var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrLockTimeout, CodeLockTimeout},
	{ErrAccessDenied, CodeAccessDenied},
	{ErrEntryNotFound, CodeNotFound},
	{ErrNotInitialized, CodeNotInitialized},
	{ErrNoSimilarityProvider, CodeNoSimilarity},
	{ErrEmbeddingFailed, CodeEmbeddingFailed},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrNotFound, CodeNotFound},
	{ErrTimeout, CodeTimeout},
	{ErrPermissionDenied, CodePermissionDenied},
	{ErrProviderError, CodeProviderError},
}

// ErrorCodeOf returns the ErrorCode for err.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return CodeValidation
	}

	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	if errors.Is(err, ErrInvalidInput) {
		return CodeInvalidInput
	}
	return CodeUnknown
}
