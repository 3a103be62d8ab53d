package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Unwrap_PreservesCause(t *testing.T) {
	// Given: an original error
	cause := errors.New("connection refused")

	// When: wrapping it as a source failure
	err := SourceUnavailable("embedding", cause)

	// Then: the chain still reaches the cause
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "embedding", err.Details["source"])
}

func TestAppError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{"config", ErrCodeConfigInvalid, "bad weights", "[ERR_102_CONFIG_INVALID] bad weights"},
		{"malformed", ErrCodeMalformedResult, "nil hit", "[ERR_407_MALFORMED_RESULT] nil hit"},
		{"index", ErrCodeIndexFailed, "build failed", "[ERR_505_INDEX_FAILED] build failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.code, tt.message, nil).Error())
		})
	}
}

func TestAppError_Is_MatchesByCodeThroughWrapping(t *testing.T) {
	sentinel := New(ErrCodeMalformedResult, "malformed", nil)
	err := fmt.Errorf("gate: %w", New(ErrCodeMalformedResult, "hit 2 is nil", nil))

	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, New(ErrCodeQueryEmpty, "", nil)))
}

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigNotFound, CategoryConfig, SeverityError, false},
		{ErrCodeCorruptIndex, CategoryIO, SeverityFatal, false},
		{ErrCodeIndexLocked, CategoryIO, SeverityWarning, true},
		{ErrCodeNoSnapshot, CategoryIO, SeverityError, false},
		{ErrCodeSourceUnavailable, CategoryNetwork, SeverityWarning, false},
		{ErrCodeNetworkTimeout, CategoryNetwork, SeverityWarning, true},
		{ErrCodeQueryEmpty, CategoryValidation, SeverityError, false},
		{ErrCodeIndexFailed, CategoryInternal, SeverityError, false},
		{"BAD", CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "x", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestHelpers_LookThroughWrappedErrors(t *testing.T) {
	err := fmt.Errorf("load: %w", New(ErrCodeCorruptIndex, "bad header", nil))

	assert.Equal(t, ErrCodeCorruptIndex, GetCode(err))
	assert.Equal(t, CategoryIO, GetCategory(err))
	assert.True(t, IsFatal(err))
	assert.False(t, IsRetryable(err))

	plain := errors.New("plain")
	assert.Empty(t, GetCode(plain))
	assert.False(t, IsFatal(plain))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	err := ConfigError("fusion weights must be non-negative", nil).
		WithSuggestion("check retrieval.weights in .verirag.yaml")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: fusion weights must be non-negative")
	assert.Contains(t, out, "Hint: check retrieval.weights")
	assert.Contains(t, out, "Code: ERR_102_CONFIG_INVALID")
	assert.Empty(t, FormatForCLI(nil))
}

func TestLogAttrs(t *testing.T) {
	attrs := LogAttrs(SourceUnavailable("bm25", errors.New("boom")))

	m := map[string]any{}
	for i := 0; i+1 < len(attrs); i += 2 {
		m[attrs[i].(string)] = attrs[i+1]
	}
	assert.Equal(t, ErrCodeSourceUnavailable, m["error_code"])
	assert.Equal(t, "boom", m["cause"])
	assert.Equal(t, "bm25", m["detail_source"])

	assert.Equal(t, []any{"error", "x"}, LogAttrs(errors.New("x")))
}
