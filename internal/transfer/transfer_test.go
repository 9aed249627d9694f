package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, BackoffDelay(time.Second, 2, tt.attempt))
	}
}

func TestUnit_TransferPart_Success(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, int64(5), r.ContentLength)
		received, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"etag-1"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	data := []byte("0123456789")
	section := io.NewSectionReader(bytes.NewReader(data), 3, 5)

	etag, err := NewUnit(fastConfig(), log.NewLogger()).TransferPart(context.Background(), server.URL, section, 5, 1)
	require.NoError(t, err)

	assert.Equal(t, `"etag-1"`, etag)
	assert.Equal(t, []byte("34567"), received)
}

func TestUnit_TransferPart_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "part", string(body))
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("ETag", "abc")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	etag, err := NewUnit(fastConfig(), log.NewLogger()).
		TransferPart(context.Background(), server.URL, bytes.NewReader([]byte("part")), 4, 2)
	require.NoError(t, err)

	assert.Equal(t, "abc", etag)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestUnit_TransferPart_ExhaustsRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewUnit(fastConfig(), log.NewLogger()).
		TransferPart(context.Background(), server.URL, bytes.NewReader([]byte("x")), 1, 7)

	var failed *PartUploadFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 7, failed.PartNumber)
	assert.Equal(t, 3, failed.Attempts)
	assert.Contains(t, failed.LastErr.Error(), "503")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestUnit_TransferPart_CancelledBeforeStart(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewUnit(fastConfig(), log.NewLogger()).TransferPart(ctx, server.URL, bytes.NewReader([]byte("x")), 1, 1)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestUnit_TransferPart_CancelledDuringAttemptIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewUnit(fastConfig(), log.NewLogger()).TransferPart(ctx, server.URL, bytes.NewReader([]byte("x")), 1, 1)

	assert.True(t, IsPartUploadFailed(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUnit_TransferPart_MissingETag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := NewUnit(fastConfig(), log.NewLogger()).
		TransferPart(context.Background(), server.URL, bytes.NewReader([]byte("x")), 1, 4)

	assert.ErrorIs(t, err, errMissingETag)
}
