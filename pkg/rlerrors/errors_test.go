package rlerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrorTypeConnection, "connection refused")

	assert.Equal(t, ErrorTypeConnection, err.Type)
	assert.Equal(t, "connection refused", err.Message)
	assert.Nil(t, err.Cause)
	assert.NotEmpty(t, err.Stack)
	assert.Equal(t, "connection: connection refused", err.Error())
}

func TestWrap(t *testing.T) {
	t.Run("wraps plain error", func(t *testing.T) {
		cause := errors.New("dial tcp: refused")
		err := Wrap(cause, ErrorTypeConnection, "staging store unreachable")

		require.NotNil(t, err)
		assert.Equal(t, cause, err.Cause)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("nil error returns nil", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, ErrorTypeInternal, "ignored"))
	})

	t.Run("preserves inner type for IsType on the chain", func(t *testing.T) {
		inner := New(ErrorTypeRateLimit, "rate limited")
		outer := Wrap(inner, ErrorTypeInternal, "flow creation failed")

		// errors.As finds the outermost *Error, so the wrapped type wins.
		assert.True(t, IsType(outer, ErrorTypeInternal))
		assert.ErrorIs(t, outer, inner)
	})
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeRateLimit, "rate limited").
		WithDetail("source", "gong").
		WithDetail("retry_after", 30)

	assert.Equal(t, "gong", err.Details["source"])
	assert.Equal(t, 30, err.Details["retry_after"])
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrorTypeConfig, "no engine available")))
	assert.False(t, IsFatal(New(ErrorTypeConnection, "cache down")))
	assert.False(t, IsFatal(New(ErrorTypeCapability, "not supported")))
	assert.False(t, IsFatal(New(ErrorTypeQuery, "ddl failed")))
	assert.False(t, IsFatal(errors.New("plain")))

	wrapped := fmt.Errorf("setup: %w", New(ErrorTypeConfig, "invalid policy"))
	assert.True(t, IsFatal(wrapped), "fatality must survive wrapping")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeRateLimit, "429")))
	assert.True(t, IsRetryable(New(ErrorTypeTimeout, "deadline")))
	assert.True(t, IsRetryable(New(ErrorTypeConnection, "refused")))
	assert.False(t, IsRetryable(New(ErrorTypeCapability, "unsupported")))
	assert.False(t, IsRetryable(New(ErrorTypeConfig, "bad policy")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
