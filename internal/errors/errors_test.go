package errors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("permission denied")

	// When: wrapping it
	err := NotFoundError("/tmp/a.txt", originalErr)

	// Then: the chain reaches the original error
	require.NotNil(t, err)
	assert.Equal(t, originalErr, errors.Unwrap(err))
	assert.True(t, errors.Is(err, originalErr))
}

func TestError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "no cause",
			err:      New(ErrCodeConfigNotFound, "config file not found", nil),
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "cause with its own message",
			err:      New(ErrCodeBackendUnavailable, "cannot reach backend", errors.New("connection refused")),
			expected: "[ERR_302_BACKEND_UNAVAILABLE] cannot reach backend: connection refused",
		},
		{
			name:     "wrapped cause is not repeated",
			err:      Wrap(ErrCodeInternal, errors.New("boom")),
			expected: "[ERR_501_INTERNAL] boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestError_Is_MatchesSentinelsByCode(t *testing.T) {
	// Given: constructor errors wrapped in fmt errors
	cases := map[*Error]error{
		ErrNotFound:           NotFoundError("x", nil),
		ErrUnsupportedType:    UnsupportedTypeError(".doc"),
		ErrDecode:             DecodeError("x", nil),
		ErrBackendUnavailable: BackendUnavailableError("down", nil),
		ErrAlreadyExists:      AlreadyExistsError("kb1"),
		ErrNoCollections:      NoCollectionsError(),
		ErrCollectionNotFound: CollectionNotFoundError("kb1"),
		ErrNoActiveModel:      NoActiveModelError(),
		ErrModelNotFound:      ModelNotFoundError("m"),
	}

	for sentinel, err := range cases {
		wrapped := fmt.Errorf("outer: %w", err)

		// Then: errors.Is matches the sentinel and nothing else
		assert.True(t, errors.Is(wrapped, sentinel), sentinel.Code)
		assert.False(t, errors.Is(wrapped, ErrIngestInProgress), sentinel.Code)
	}
}

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code     string
		category Category
		severity Severity
	}{
		{ErrCodeNoActiveModel, CategoryConfig, SeverityError},
		{ErrCodeDecodeFailed, CategoryIO, SeverityError},
		{ErrCodeBackendUnavailable, CategoryNetwork, SeverityFatal},
		{ErrCodeNetworkTimeout, CategoryNetwork, SeverityWarning},
		{ErrCodeCollectionExists, CategoryValidation, SeverityError},
		{ErrCodeIngestInProgress, CategoryInternal, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
		})
	}
}

func TestHelpers_LookThroughWrapping(t *testing.T) {
	// Given: a fatal error buried in a wrap chain
	err := fmt.Errorf("open store: %w", BackendUnavailableError("down", nil))

	// Then: helpers still see it
	assert.True(t, IsFatal(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, ErrCodeBackendUnavailable, GetCode(err))
	assert.Equal(t, CategoryNetwork, GetCategory(err))

	// And: plain errors report zero values
	assert.Equal(t, "", GetCode(errors.New("plain")))
	assert.False(t, IsFatal(nil))
}

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	out := FormatForCLI(NoCollectionsError())

	assert.Contains(t, out, "Error: no available collections")
	assert.Contains(t, out, "Hint: create a collection first")
	assert.Contains(t, out, "Code: ERR_408_NO_COLLECTIONS")
}

func TestFormatForCLI_WrapsPlainErrors(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))

	assert.True(t, strings.HasPrefix(out, "Error: boom"))
	assert.Contains(t, out, ErrCodeInternal)
}

func TestLogAttr_GroupsStructuredErrors(t *testing.T) {
	// Given: a JSON logger
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	// When: logging a structured error
	logger.Error("ingest_file_failed", LogAttr(DecodeError("/docs/a.txt", errors.New("bad bytes"))))

	// Then: code, details and cause sit under "error"
	var record struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, ErrCodeDecodeFailed, record.Error["code"])
	assert.Equal(t, "/docs/a.txt", record.Error["detail_path"])
	assert.Equal(t, "bad bytes", record.Error["cause"])
}

func TestLogAttr_PlainErrorIsItsMessage(t *testing.T) {
	attr := LogAttr(errors.New("boom"))

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "boom", attr.Value.String())
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	// Given: a function failing twice
	calls := 0
	fn := func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}

	// When: retrying
	err := Retry(context.Background(), fastRetry(), fn)

	// Then: it succeeds on the third call
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnValidationError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		calls++
		return ValidationError("bad input", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		calls++
		return errors.New("down")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "failed after 3 retries")
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := RetryWithResult(context.Background(), fastRetry(), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestRetry_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetry(), func() error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}
