package s3

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"

	"videoflow/internal/config"
	"videoflow/internal/lease"
	"videoflow/internal/upload"
)

const (
	maxParts          = 10000
	minPartSize       = 5 * units.MiB
	partURLExpiry     = time.Hour
	originalStream    = "original"
	checksumMetaKey   = "sha256"
	defaultPartSizeMB = 10
)

// videoNamespace scopes the name-based UUIDs minted for direct uploads.
var videoNamespace = uuid.MustParse("9b4f3c1e-7d2a-5e8b-a6c4-1f0e3d2b5a79")

// ObjectStore is the bucket API used by Store.
type ObjectStore interface {
	ObjectExists(ctx context.Context, key string) (bool, error)
	CreateMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string) (string, error)
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, expires time.Duration) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []PartInfo) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	PresignGetObject(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Store runs the upload protocol and hands out stream URLs straight against
// a bucket, without the platform API. It never starts processing jobs.
type Store struct {
	objects   ObjectStore
	engine    *config.EngineConfig
	partSize  int64
	batchSize int
	logger    log.Logger
}

func NewStore(objects ObjectStore, engine *config.EngineConfig, logger log.Logger) *Store {
	if engine == nil {
		engine = config.DefaultEngineConfig()
	}
	partSize := engine.PartSizeBytes()
	if partSize < minPartSize {
		partSize = defaultPartSizeMB * units.MiB
	}
	batchSize := engine.URLBatchSize
	if batchSize <= 0 {
		batchSize = upload.DefaultURLBatchSize
	}

	return &Store{
		objects:   objects,
		engine:    engine,
		partSize:  partSize,
		batchSize: batchSize,
		logger:    logger,
	}
}

// VideoID derives a stable id from the upload target and content digest, so
// the same file pinned twice maps to the same object.
func VideoID(mallID, pinID, checksum string) string {
	return uuid.NewSHA1(videoNamespace, []byte(mallID+"/"+pinID+"/"+checksum)).String()
}

// ObjectKey places videoID under the folder configured for streamType,
// e.g. videos/<id>.mp4 or thumbnails/<id>.jpg.
func (s *Store) ObjectKey(streamType, videoID string) string {
	so := s.engine.GetStorageOptions(streamType)
	return buildObjectKey(so, videoID)
}

func buildObjectKey(so *config.StorageOptions, videoID string) string {
	if so.Extension == "" {
		return fmt.Sprintf("%s/%s", so.Folder, videoID)
	}
	return fmt.Sprintf("%s/%s.%s", so.Folder, videoID, so.Extension)
}

// PartGeometry returns the part size used for a file of size bytes, grown in
// whole MiB when the configured size would need more than 10000 parts.
func PartGeometry(size, partSize int64) (int64, int) {
	if upload.TotalParts(size, partSize) > maxParts {
		partSize = (size + maxParts - 1) / maxParts
		partSize = (partSize + units.MiB - 1) / units.MiB * units.MiB
	}
	return partSize, upload.TotalParts(size, partSize)
}

func (s *Store) InitiateUpload(ctx context.Context, req upload.InitiateRequest) (*upload.InitiateResponse, error) {
	if req.ChecksumSHA256 == "" {
		return nil, errors.New("direct uploads require a checksum")
	}

	videoID := VideoID(req.MallID, req.PinID, req.ChecksumSHA256)
	key := s.ObjectKey(originalStream, videoID)

	exists, err := s.objects.ObjectExists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		s.logger.Infof("Object %s already exists", key)
		return &upload.InitiateResponse{VideoID: videoID, Duplicate: true}, nil
	}

	partSize, totalParts := PartGeometry(req.SizeBytes, s.partSize)
	if totalParts == 0 {
		return nil, fmt.Errorf("cannot upload %d bytes", req.SizeBytes)
	}

	metadata := map[string]string{
		checksumMetaKey:     req.ChecksumSHA256,
		"mall-id":           req.MallID,
		"pin-id":            req.PinID,
		"original-filename": req.Filename,
	}
	uploadID, err := s.objects.CreateMultipartUpload(ctx, key, req.ContentType, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart upload: %w", err)
	}

	end := min(s.batchSize, totalParts)
	urls, err := s.presignParts(ctx, key, uploadID, 1, end)
	if err != nil {
		if abortErr := s.objects.AbortMultipartUpload(ctx, key, uploadID); abortErr != nil {
			s.logger.Warnf("Failed to abort %s after presign failure: %s", key, abortErr)
		}
		return nil, err
	}

	s.logger.Debugf("Opened %s: %d parts of %s", key, totalParts, units.BytesSize(float64(partSize)))
	return &upload.InitiateResponse{
		VideoID:       videoID,
		UploadID:      uploadID,
		PartSizeBytes: partSize,
		TotalParts:    totalParts,
		PresignedURLs: urls,
	}, nil
}

func (s *Store) GetPartURLs(ctx context.Context, req upload.PartURLsRequest) (*upload.PartURLsResponse, error) {
	if req.StartPart < 1 || req.EndPart < req.StartPart || req.EndPart > maxParts {
		return nil, fmt.Errorf("invalid part range %d-%d", req.StartPart, req.EndPart)
	}

	urls, err := s.presignParts(ctx, s.ObjectKey(originalStream, req.VideoID), req.UploadID, req.StartPart, req.EndPart)
	if err != nil {
		return nil, err
	}
	return &upload.PartURLsResponse{PresignedURLs: urls}, nil
}

func (s *Store) CompleteUpload(ctx context.Context, req upload.CompleteRequest) (*upload.CompleteResponse, error) {
	parts := make([]PartInfo, len(req.Parts))
	for i, p := range req.Parts {
		parts[i] = PartInfo{ETag: p.ETag, PartNumber: p.PartNumber}
	}

	key := s.ObjectKey(originalStream, req.VideoID)
	if err := s.objects.CompleteMultipartUpload(ctx, key, req.UploadID, parts); err != nil {
		return nil, fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return &upload.CompleteResponse{VideoID: req.VideoID}, nil
}

func (s *Store) AbortUpload(ctx context.Context, req upload.AbortRequest) error {
	key := s.ObjectKey(originalStream, req.VideoID)
	if err := s.objects.AbortMultipartUpload(ctx, key, req.UploadID); err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	s.logger.Debugf("Aborted %s (%s)", key, req.Reason)
	return nil
}

func (s *Store) GetStreamAccessURL(ctx context.Context, videoID, streamType string, ttlMinutes int) (*lease.Grant, error) {
	key := s.ObjectKey(streamType, videoID)

	exists, err := s.objects.ObjectExists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s stream of video %s not found", streamType, videoID)
	}

	ttl := time.Duration(ttlMinutes) * time.Minute
	issuedAt := time.Now()
	url, err := s.objects.PresignGetObject(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return &lease.Grant{URL: url, ExpiresAt: issuedAt.Add(ttl)}, nil
}

func (s *Store) presignParts(ctx context.Context, key, uploadID string, start, end int) ([]upload.PartURL, error) {
	expiresAt := time.Now().Add(partURLExpiry)
	urls := make([]upload.PartURL, 0, end-start+1)
	for part := start; part <= end; part++ {
		url, err := s.objects.PresignUploadPart(ctx, key, uploadID, int32(part), partURLExpiry)
		if err != nil {
			return nil, fmt.Errorf("failed to presign part %d: %w", part, err)
		}
		urls = append(urls, upload.PartURL{PartNumber: part, URL: url, ExpiresAt: expiresAt})
	}
	return urls, nil
}
