// Package errors provides the structured error type used across vkb.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration and model registry errors
//   - 2XX: IO errors (file, decode)
//   - 3XX: Network and backend errors
//   - 4XX: Validation and collection errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and decoding errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates backend or model-server connectivity errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
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
	ErrCodeNoActiveModel  = "ERR_104_NO_ACTIVE_MODEL"
	ErrCodeModelNotFound  = "ERR_105_MODEL_NOT_FOUND"

	// IO errors (200-299)
	ErrCodeFileNotFound    = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission  = "ERR_202_FILE_PERMISSION"
	ErrCodeCorruptIndex    = "ERR_205_CORRUPT_INDEX"
	ErrCodeUnsupportedType = "ERR_207_UNSUPPORTED_TYPE"
	ErrCodeDecodeFailed    = "ERR_208_DECODE_FAILED"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeBackendUnavailable = "ERR_302_BACKEND_UNAVAILABLE"
	ErrCodeModelUnavailable   = "ERR_303_MODEL_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput       = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch  = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty         = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidPath        = "ERR_406_INVALID_PATH"
	ErrCodeCollectionExists   = "ERR_407_COLLECTION_EXISTS"
	ErrCodeNoCollections      = "ERR_408_NO_COLLECTIONS"
	ErrCodeCollectionNotFound = "ERR_409_COLLECTION_NOT_FOUND"

	// Internal errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed  = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed     = "ERR_503_SEARCH_FAILED"
	ErrCodeChunkingFailed   = "ERR_504_CHUNKING_FAILED"
	ErrCodeIngestFailed     = "ERR_505_INGEST_FAILED"
	ErrCodeIngestInProgress = "ERR_506_INGEST_IN_PROGRESS"
)

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrNotFound           = &Error{Code: ErrCodeFileNotFound}
	ErrUnsupportedType    = &Error{Code: ErrCodeUnsupportedType}
	ErrDecode             = &Error{Code: ErrCodeDecodeFailed}
	ErrBackendUnavailable = &Error{Code: ErrCodeBackendUnavailable}
	ErrAlreadyExists      = &Error{Code: ErrCodeCollectionExists}
	ErrNoCollections      = &Error{Code: ErrCodeNoCollections}
	ErrCollectionNotFound = &Error{Code: ErrCodeCollectionNotFound}
	ErrNoActiveModel      = &Error{Code: ErrCodeNoActiveModel}
	ErrModelNotFound      = &Error{Code: ErrCodeModelNotFound}
	ErrDimensionMismatch  = &Error{Code: ErrCodeDimensionMismatch}
	ErrIngestInProgress   = &Error{Code: ErrCodeIngestInProgress}
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeBackendUnavailable:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeModelUnavailable:
		return true
	default:
		return false
	}
}
