package usecase

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_HTTPStatusCode(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrorInvalidInput: http.StatusBadRequest,
		ErrorNotFound:     http.StatusNotFound,
		ErrorRateLimited:  http.StatusTooManyRequests,
		ErrorUpstream:     http.StatusBadGateway,
		ErrorInternal:     http.StatusInternalServerError,
	}
	for code, status := range cases {
		require.Equal(t, status, newError(code, "r", nil).HTTPStatusCode(), code)
	}
}

func TestError_Message(t *testing.T) {
	require.Equal(t, "usecase: NOT_FOUND (conversation_not_found)", newError(ErrorNotFound, "conversation_not_found", nil).Error())

	wrapped := newError(ErrorInternal, "store_get_error", errors.New("mongo down"))
	require.Equal(t, "usecase: INTERNAL_ERROR (store_get_error): mongo down", wrapped.Error())
	require.EqualError(t, errors.Unwrap(wrapped), "mongo down")

	var nilErr *Error
	require.Empty(t, nilErr.Error())
}
