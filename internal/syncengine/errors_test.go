package syncengine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdapterError_Unwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := &AdapterError{Source: "library", Stage: StageConnect, Err: cause}
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "library")
	require.Contains(t, err.Error(), "connect")
}

func TestExecutorError_RetryClassification(t *testing.T) {
	require.True(t, (&ExecutorError{Reason: ReasonTimeout}).Retryable())
	require.True(t, (&ExecutorError{Reason: ReasonRateLimited}).Retryable())
	require.False(t, (&ExecutorError{Reason: ReasonCancelled}).Retryable())
}

func TestProtocolError_CarriesInvariantAndDetail(t *testing.T) {
	err := NewProtocolError("single-session", "sync requested while busy")
	require.Contains(t, err.Error(), "single-session")
	require.Contains(t, err.Error(), "sync requested while busy")
}
