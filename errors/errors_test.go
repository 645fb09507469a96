package errors

import (
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := WrapError(cause, ErrCodeRetryExhausted, "SetDocument failed after 3 attempts")

	require.Equal(t, ErrCodeRetryExhausted, err.Code())
	require.Equal(t, cause, err.Cause())
	require.Contains(t, err.Error(), "RETRY_EXHAUSTED")
	require.Contains(t, err.Error(), "connection refused")

	// errors.Is 穿透到 cause
	require.True(t, stdErrors.Is(err, cause))
}

func TestWrapNil(t *testing.T) {
	require.Nil(t, WrapError(nil, ErrCodeInternal, "whatever"))
}

func TestIsErrorCode(t *testing.T) {
	err := NewError(ErrCodeLockTimeout, "lock wait exceeded")

	require.True(t, IsErrorCode(err, ErrCodeLockTimeout))
	require.False(t, IsErrorCode(err, ErrCodeConflict))
	require.False(t, IsErrorCode(nil, ErrCodeLockTimeout))

	// 包装一层后仍可识别
	wrapped := WrapError(err, ErrCodeLockTimeout, "acquire Component/c-1")
	require.True(t, IsErrorCode(wrapped, ErrCodeLockTimeout))
}

func TestGetErrorCode(t *testing.T) {
	require.Equal(t, ErrorCode(""), GetErrorCode(nil))
	require.Equal(t, ErrCodeConflict, GetErrorCode(NewError(ErrCodeConflict, "etag mismatch")))
	// 非 AppError 归类为内部错误
	require.Equal(t, ErrCodeInternal, GetErrorCode(stdErrors.New("plain")))
}

func TestPredefinedHelpers(t *testing.T) {
	require.True(t, IsNotFound(NewError(ErrCodeNotFound, "missing")))
	require.True(t, IsConflict(NewError(ErrCodeConflict, "stale")))
	require.True(t, IsCancelled(NewError(ErrCodeCancelled, "stop")))
	require.False(t, IsNotFound(ErrConflict))
}

func TestWithContext(t *testing.T) {
	err := NewError(ErrCodeProvider, "provider failed").
		WithContext("provider_id", "p-2").
		WithContext("timeout", true)

	require.Equal(t, "p-2", err.Details()["provider_id"])
	require.Equal(t, true, err.Details()["timeout"])
	require.NotEmpty(t, err.Stack())
}
