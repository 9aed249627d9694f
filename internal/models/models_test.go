package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimal ISO base media header with an mp4 brand
var mp4Header = []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")

func TestOpenSourceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entrance.mp4")
	require.NoError(t, os.WriteFile(path, append(mp4Header, make([]byte, 64)...), 0644))

	file, err := OpenSourceFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, file.Path)
	assert.Equal(t, "entrance.mp4", file.Name)
	assert.Equal(t, int64(len(mp4Header)+64), file.Size)
	assert.Equal(t, "video/mp4", file.ContentType)
}

func TestOpenSourceFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mp4")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	file, err := OpenSourceFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), file.Size)
	assert.Empty(t, file.ContentType)
}

func TestOpenSourceFile_UnrecognisedBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashcam.mp4")
	data := make([]byte, 128)
	for i := range data {
		data[i] = byte(1 + i%7)
	}
	require.NoError(t, os.WriteFile(path, data, 0644))

	file, err := OpenSourceFile(path)
	require.NoError(t, err)
	assert.Empty(t, file.ContentType)
}

func TestOpenSourceFile_Errors(t *testing.T) {
	_, err := OpenSourceFile(filepath.Join(t.TempDir(), "missing.mp4"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = OpenSourceFile(t.TempDir())
	assert.ErrorContains(t, err, "is a directory")
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
}

func TestAccessLease_Remaining(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	lease := AccessLease{ExpiresAt: now.Add(90 * time.Second)}

	assert.Equal(t, 90*time.Second, lease.Remaining(now))
	assert.Equal(t, time.Duration(0), lease.Remaining(now.Add(time.Hour)))

	state := LeaseState{Lease: lease, Remaining: lease.Remaining(now)}
	assert.Equal(t, int64(90), state.RemainingSeconds())
}

func TestNewProgress(t *testing.T) {
	p := NewProgress(PhaseUploading, 25, 200)
	assert.Equal(t, 12.5, p.Percent)
	assert.Equal(t, float64(0), NewProgress(PhaseHashing, 0, 0).Percent)
}

func TestPollingFailedError(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("watch: %w", NewPollingFailedError("job job-1", cause))

	assert.True(t, IsPollingFailed(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "polling job job-1 failed")
	assert.False(t, IsPollingFailed(cause))
}
