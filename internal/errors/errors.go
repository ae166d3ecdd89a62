package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for vkb.
// It carries enough context for logging, CLI output and MCP responses.
type Error struct {
	// Code is the unique error code (e.g., "ERR_201_FILE_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// NotFoundError reports a document path that does not resolve.
func NotFoundError(path string, cause error) *Error {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path), cause).
		WithDetail("path", path)
}

// UnsupportedTypeError reports a file extension with no chunking strategy.
func UnsupportedTypeError(ext string) *Error {
	return New(ErrCodeUnsupportedType, fmt.Sprintf("unsupported file type: %s", ext), nil).
		WithDetail("extension", ext)
}

// DecodeError reports a document whose bytes matched none of the known encodings.
func DecodeError(path string, cause error) *Error {
	return New(ErrCodeDecodeFailed, fmt.Sprintf("cannot decode %s", path), cause).
		WithDetail("path", path)
}

// BackendUnavailableError reports a vector backend that cannot be reached.
func BackendUnavailableError(message string, cause error) *Error {
	return New(ErrCodeBackendUnavailable, message, cause).
		WithSuggestion("check the qdrant section of settings.json and that the backend is running")
}

// AlreadyExistsError reports a duplicate collection name.
func AlreadyExistsError(name string) *Error {
	return New(ErrCodeCollectionExists, fmt.Sprintf("collection %q already exists", name), nil).
		WithDetail("collection", name)
}

// NoCollectionsError reports a search with nothing to search in.
func NoCollectionsError() *Error {
	return New(ErrCodeNoCollections, "no available collections", nil).
		WithSuggestion("create a collection first: vkb collection create <name>")
}

// CollectionNotFoundError reports a collection missing from the backend.
func CollectionNotFoundError(name string) *Error {
	return New(ErrCodeCollectionNotFound, fmt.Sprintf("collection %q not found", name), nil).
		WithDetail("collection", name)
}

// NoActiveModelError reports that no embedding model is selected.
func NoActiveModelError() *Error {
	return New(ErrCodeNoActiveModel, "no active embedding model configured", nil).
		WithSuggestion("select one with: vkb models use --embedding <name>")
}

// ModelNotFoundError reports an active model name absent from the registry.
func ModelNotFoundError(name string) *Error {
	return New(ErrCodeModelNotFound, fmt.Sprintf("model %q is not in the model registry", name), nil).
		WithDetail("model", name)
}

// as is errors.As for *Error.
func as(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := as(err); ok {
		return e.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if e, ok := as(err); ok {
		return e.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" when err is not an *Error.
func GetCode(err error) string {
	if e, ok := as(err); ok {
		return e.Code
	}
	return ""
}

// GetCategory extracts the category, or "" when err is not an *Error.
func GetCategory(err error) Category {
	if e, ok := as(err); ok {
		return e.Category
	}
	return ""
}
