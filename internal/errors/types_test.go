package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(ErrCodeInvalidConfig, "configuration is invalid"),
			expected: "INVALID_CONFIG: configuration is invalid",
		},
		{
			name:     "error with cause",
			err:      Wrap(errors.New("disk full"), ErrCodeStoreIntegrity, "store put failed"),
			expected: "STORE_INTEGRITY: store put failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := New(ErrCodeValidationFailed, "validation failed")

	result := err.WithContext("field", "retention").WithContext("value", "200")

	assert.Same(t, err, result)
	assert.Len(t, err.Context, 2)
	assert.Equal(t, "retention", err.Context["field"])
}

func TestWrapRetryable(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapRetryable(cause, ErrCodeTransportTransient, "receive failed")

	assert.True(t, err.Retryable)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, cause)
}

func TestAs_WrappedChain(t *testing.T) {
	appErr := NewPermissionDeniedError("!!!purge")
	wrapped := fmt.Errorf("dispatch: %w", appErr)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodePermissionDenied, got.Code)
	assert.Equal(t, ErrCodePermissionDenied, GetCode(wrapped))
	assert.False(t, IsRetryable(wrapped))
}

func TestGetCode_PlainError(t *testing.T) {
	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain")))
}

func TestHasCode(t *testing.T) {
	inner := NewBackendUnavailableError("ollama", errors.New("refused"))
	outer := Wrap(inner, ErrCodeInternalError, "summary run failed")

	assert.True(t, HasCode(outer, ErrCodeBackendUnavailable))
	assert.True(t, HasCode(outer, ErrCodeInternalError))
	assert.False(t, HasCode(outer, ErrCodeTimeout))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeTimeout))
}

func TestGetUserMessage(t *testing.T) {
	assert.Equal(t, "🔒 This command is admin-only. Ask a room admin to run it.",
		GetUserMessage(NewPermissionDeniedError("!power")))
	assert.Equal(t, "Something went wrong. Please try again later.", GetUserMessage(errors.New("x")))
}

func TestNewTransportError_Retryable(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{0, true},
		{500, true},
		{503, true},
		{429, true},
		{408, true},
		{400, false},
		{404, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := NewTransportError("send", "/v2/send", tt.status, errors.New("boom"))
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, ErrCodeTransportTransient, err.Code)
		})
	}
}

func TestNewPolicyConflictError(t *testing.T) {
	err := NewPolicyConflictError("retention_hours", "500", "❌ Use 1-168 hours or 'auto'")

	assert.Equal(t, ErrCodePolicyConflict, err.Code)
	assert.Equal(t, "500", err.Context["value"])
	assert.Equal(t, "❌ Use 1-168 hours or 'auto'", GetUserMessage(err))
}

func TestHTTPStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatusCode(NewValidationError("f", "v", "bad")))
	assert.Equal(t, http.StatusForbidden, HTTPStatusCode(NewPermissionDeniedError("!power")))
	assert.Equal(t, http.StatusNotFound, HTTPStatusCode(NewNotFoundError("schedule", "7")))
	assert.Equal(t, http.StatusBadGateway, HTTPStatusCode(NewTransportError("send", "/v2/send", 502, nil)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusCode(NewBackendUnavailableError("ollama", nil)))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusCode(NewStoreIntegrityError("put", nil)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusCode(errors.New("x")))
}

func TestToHTTPResponse_FiltersSensitiveContext(t *testing.T) {
	err := NewNotFoundError("schedule", "3").WithContext("sender_id", "uuid-1")

	resp := ToHTTPResponse(err, "req-1")

	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	ctx, ok := resp.Error.Context.(map[string]interface{})
	require.True(t, ok)
	assert.NotContains(t, ctx, "sender_id")
	assert.Equal(t, "schedule", ctx["resource"])
}
