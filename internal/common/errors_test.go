package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncErrorMessage(t *testing.T) {
	err := NewAPIError(CodeRequestFailed, "incident.io API returned status 400")
	assert.Equal(t, "[api:request_failed] incident.io API returned status 400", err.Error())
}

func TestSyncErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewNetworkError(CodeMaxRetriesExceeded, "max retries exceeded for incidents").WithCause(cause)

	assert.ErrorIs(t, err, cause)
}

func TestWrapErrorPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := WrapError(cause, ErrorTypeVault, "write_failed", "failed to write document")

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, ErrorTypeVault, syncErr.Type)
	assert.ErrorIs(t, err, cause)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewAPIError(CodeNotFound, "no such incident")))
	assert.False(t, IsNotFound(NewAPIError(CodeRequestFailed, "boom")))
	assert.False(t, IsNotFound(errors.New("plain error")))
	assert.False(t, IsNotFound(nil))
}

func TestWithContext(t *testing.T) {
	err := NewVaultError("folder_missing", "parent folder does not exist").
		WithContext("path", "Incidents/INC-1.md")

	assert.Equal(t, "Incidents/INC-1.md", err.Context["path"])
}
