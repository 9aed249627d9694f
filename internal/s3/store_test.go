package s3

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoflow/internal/config"
	"videoflow/internal/upload"
)

const (
	mallID = "6f1c2d3e-4b5a-4c6d-8e7f-901234567890"
	pinID  = "0a1b2c3d-4e5f-4a6b-9c8d-7e6f5a4b3c2d"
)

// MockObjectStore implements ObjectStore for testing
type MockObjectStore struct {
	existing     map[string]bool
	presignErrAt int32
	created      []string
	metadata     map[string]string
	presigned    []int32
	completed    []PartInfo
	aborted      []string
	getExpires   time.Duration
}

func newMockObjectStore() *MockObjectStore {
	return &MockObjectStore{existing: make(map[string]bool)}
}

func (m *MockObjectStore) ObjectExists(ctx context.Context, key string) (bool, error) {
	return m.existing[key], nil
}

func (m *MockObjectStore) CreateMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string) (string, error) {
	m.created = append(m.created, key)
	m.metadata = metadata
	return "mpu-1", nil
}

func (m *MockObjectStore) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, expires time.Duration) (string, error) {
	if m.presignErrAt > 0 && partNumber == m.presignErrAt {
		return "", errors.New("signer unavailable")
	}
	m.presigned = append(m.presigned, partNumber)
	return fmt.Sprintf("https://s3.test/%s?uploadId=%s&partNumber=%d", key, uploadID, partNumber), nil
}

func (m *MockObjectStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []PartInfo) error {
	m.completed = parts
	m.existing[key] = true
	return nil
}

func (m *MockObjectStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	m.aborted = append(m.aborted, key)
	return nil
}

func (m *MockObjectStore) PresignGetObject(ctx context.Context, key string, expires time.Duration) (string, error) {
	m.getExpires = expires
	return "https://s3.test/" + key + "?signed", nil
}

func TestVideoID_Deterministic(t *testing.T) {
	a := VideoID(mallID, pinID, "abc")
	assert.Equal(t, a, VideoID(mallID, pinID, "abc"))
	assert.NotEqual(t, a, VideoID(mallID, pinID, "abd"))
	assert.Len(t, a, 36)
}

func TestPartGeometry(t *testing.T) {
	partSize, total := PartGeometry(1_500_000_000, 10*units.MiB)
	assert.Equal(t, int64(10*units.MiB), partSize)
	assert.Equal(t, 144, total)

	// 100 GiB at 5 MiB would need 20480 parts
	partSize, total = PartGeometry(100*units.GiB, 5*units.MiB)
	assert.Equal(t, int64(11*units.MiB), partSize)
	assert.LessOrEqual(t, total, 10000)
}

func TestStore_InitiateUpload(t *testing.T) {
	objects := newMockObjectStore()
	engine := config.DefaultEngineConfig()
	engine.URLBatchSize = 100
	store := NewStore(objects, engine, log.NewLogger())

	resp, err := store.InitiateUpload(context.Background(), upload.InitiateRequest{
		MallID:         mallID,
		PinID:          pinID,
		Filename:       "entrance.mp4",
		SizeBytes:      1_500_000_000,
		ContentType:    "video/mp4",
		ChecksumSHA256: "abc",
	})
	require.NoError(t, err)

	videoID := VideoID(mallID, pinID, "abc")
	assert.Equal(t, videoID, resp.VideoID)
	assert.Equal(t, "mpu-1", resp.UploadID)
	assert.Equal(t, 144, resp.TotalParts)
	assert.Equal(t, int64(10*units.MiB), resp.PartSizeBytes)
	assert.Len(t, resp.PresignedURLs, 100)
	assert.Equal(t, 1, resp.PresignedURLs[0].PartNumber)
	assert.Equal(t, 100, resp.PresignedURLs[99].PartNumber)

	assert.Equal(t, []string{"videos/" + videoID + ".mp4"}, objects.created)
	assert.Equal(t, "abc", objects.metadata["sha256"])
	assert.Equal(t, "entrance.mp4", objects.metadata["original-filename"])
}

func TestStore_InitiateUpload_Duplicate(t *testing.T) {
	objects := newMockObjectStore()
	videoID := VideoID(mallID, pinID, "abc")
	objects.existing["videos/"+videoID+".mp4"] = true
	store := NewStore(objects, nil, log.NewLogger())

	resp, err := store.InitiateUpload(context.Background(), upload.InitiateRequest{
		MallID: mallID, PinID: pinID, SizeBytes: 100, ChecksumSHA256: "abc",
	})
	require.NoError(t, err)
	assert.True(t, resp.Duplicate)
	assert.Equal(t, videoID, resp.VideoID)
	assert.Empty(t, objects.created)
}

func TestStore_InitiateUpload_PresignFailureAborts(t *testing.T) {
	objects := newMockObjectStore()
	objects.presignErrAt = 2
	store := NewStore(objects, nil, log.NewLogger())

	_, err := store.InitiateUpload(context.Background(), upload.InitiateRequest{
		MallID: mallID, PinID: pinID, SizeBytes: 30 * units.MiB, ChecksumSHA256: "abc",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "part 2")
	assert.Len(t, objects.aborted, 1)
}

func TestStore_InitiateUpload_RequiresChecksum(t *testing.T) {
	store := NewStore(newMockObjectStore(), nil, log.NewLogger())
	_, err := store.InitiateUpload(context.Background(), upload.InitiateRequest{MallID: mallID, PinID: pinID, SizeBytes: 10})
	assert.Error(t, err)
}

func TestStore_GetPartURLs(t *testing.T) {
	objects := newMockObjectStore()
	store := NewStore(objects, nil, log.NewLogger())

	resp, err := store.GetPartURLs(context.Background(), upload.PartURLsRequest{
		VideoID: "video-1", UploadID: "mpu-1", StartPart: 101, EndPart: 143,
	})
	require.NoError(t, err)
	require.Len(t, resp.PresignedURLs, 43)
	assert.Equal(t, 101, resp.PresignedURLs[0].PartNumber)
	assert.Equal(t, "https://s3.test/videos/video-1.mp4?uploadId=mpu-1&partNumber=101", resp.PresignedURLs[0].URL)

	_, err = store.GetPartURLs(context.Background(), upload.PartURLsRequest{StartPart: 5, EndPart: 4})
	assert.Error(t, err)
}

func TestStore_CompleteAndAbort(t *testing.T) {
	objects := newMockObjectStore()
	store := NewStore(objects, nil, log.NewLogger())

	resp, err := store.CompleteUpload(context.Background(), upload.CompleteRequest{
		VideoID:  "video-1",
		UploadID: "mpu-1",
		Parts:    []upload.CompletedPart{{PartNumber: 1, ETag: `"a"`}, {PartNumber: 2, ETag: `"b"`}},
	})
	require.NoError(t, err)
	assert.Equal(t, "video-1", resp.VideoID)
	assert.Empty(t, resp.JobID)
	assert.Equal(t, []PartInfo{{ETag: `"a"`, PartNumber: 1}, {ETag: `"b"`, PartNumber: 2}}, objects.completed)

	require.NoError(t, store.AbortUpload(context.Background(), upload.AbortRequest{VideoID: "video-2", UploadID: "mpu-2"}))
	assert.Equal(t, []string{"videos/video-2.mp4"}, objects.aborted)
}

func TestStore_GetStreamAccessURL(t *testing.T) {
	objects := newMockObjectStore()
	objects.existing["thumbnails/video-1.jpg"] = true
	store := NewStore(objects, nil, log.NewLogger())

	before := time.Now()
	grant, err := store.GetStreamAccessURL(context.Background(), "video-1", "thumbnail", 60)
	require.NoError(t, err)

	assert.Equal(t, "https://s3.test/thumbnails/video-1.jpg?signed", grant.URL)
	assert.Equal(t, time.Hour, objects.getExpires)
	assert.WithinDuration(t, before.Add(time.Hour), grant.ExpiresAt, time.Second)

	_, err = store.GetStreamAccessURL(context.Background(), "video-1", "proxy", 60)
	assert.ErrorContains(t, err, "not found")
}
