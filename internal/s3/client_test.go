package s3

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestS3Client(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), "us-east-1", "mall-videos", "AKIDEXAMPLE", "secret", server.URL)
	require.NoError(t, err)
	return client
}

func TestNewClient_NoCredentials(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI_V4", "")

	_, err := NewClient(context.Background(), "us-east-1", "mall-videos", "", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no AWS credentials provided")
}

func TestClient_ObjectExists(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected bool
		wantErr  bool
	}{
		{name: "Present", status: http.StatusOK, expected: true},
		{name: "Missing", status: http.StatusNotFound, expected: false},
		{name: "Forbidden", status: http.StatusForbidden, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestS3Client(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodHead, r.Method)
				assert.Equal(t, "/mall-videos/videos/abc.mp4", r.URL.Path)
				w.WriteHeader(tt.status)
			})

			exists, err := client.ObjectExists(context.Background(), "videos/abc.mp4")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, exists)
		})
	}
}

func TestClient_PresignGetObject(t *testing.T) {
	client := newTestS3Client(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("presigning must not reach the network, got %s %s", r.Method, r.URL)
	})

	raw, err := client.PresignGetObject(context.Background(), "proxies/abc.mp4", 45*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/mall-videos/proxies/abc.mp4", u.Path)
	assert.Equal(t, "2700", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestClient_PresignUploadPart(t *testing.T) {
	client := newTestS3Client(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("presigning must not reach the network, got %s %s", r.Method, r.URL)
	})

	raw, err := client.PresignUploadPart(context.Background(), "videos/abc.mp4", "upload-1", 7, time.Hour)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "7", u.Query().Get("partNumber"))
	assert.Equal(t, "upload-1", u.Query().Get("uploadId"))
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
}
