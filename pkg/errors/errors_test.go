package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDerivedErrorsLeaveSentinelsUntouched(t *testing.T) {
	cause := stdErrors.New("dial tcp 10.0.0.1:443: connect: connection refused")
	offline := ErrOffline.WithInternal(cause)

	require.NotSame(t, ErrOffline, offline)
	require.Nil(t, ErrOffline.Internal)
	require.Equal(t, "Remote service is unreachable: "+cause.Error(), offline.Error())
	require.ErrorIs(t, offline, cause)

	bad := NewBadRequest("status must be one of scheduled, in_progress")
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
	require.Equal(t, "Invalid request", ErrBadRequest.Message)
}

func TestIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("read assignments: %w", ErrOffline.WithInternal(stdErrors.New("timeout")))

	require.ErrorIs(t, wrapped, ErrOffline)
	require.NotErrorIs(t, wrapped, ErrNoCachedData)
}

func TestFromError(t *testing.T) {
	require.Nil(t, FromError(nil))
	require.Same(t, ErrNotFound, FromError(ErrNotFound))
	require.Same(t, ErrNotFound, FromError(fmt.Errorf("lookup: %w", ErrNotFound)))

	raw := stdErrors.New("disk I/O error")
	converted := FromError(raw)
	require.Equal(t, ErrInternalServer.Code, converted.Code)
	require.Equal(t, ErrInternalServer.Message, converted.Message)
	require.ErrorIs(t, converted, raw)
}

func TestNilAppError(t *testing.T) {
	var appErr *AppError
	require.Equal(t, "<nil>", appErr.Error())
	require.Nil(t, appErr.Unwrap())
	require.Nil(t, appErr.WithMessage("x"))
	require.False(t, appErr.Is(ErrNotFound))
}
