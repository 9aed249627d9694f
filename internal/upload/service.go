package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"videoflow/internal/models"
)

const (
	// DefaultURLBatchSize matches the number of part URLs the backend presigns per call.
	DefaultURLBatchSize = 100
	defaultAbortTimeout = 30 * time.Second
)

type Options struct {
	MaxFileSize  int64
	URLBatchSize int
	AbortTimeout time.Duration
}

type Service struct {
	backend  Backend
	transfer PartTransfer
	digester Digester
	options  Options
	logger   log.Logger
}

func NewService(backend Backend, transfer PartTransfer, digester Digester, options Options, logger log.Logger) *Service {
	if options.MaxFileSize <= 0 {
		options.MaxFileSize = DefaultMaxFileSize
	}
	if options.URLBatchSize <= 0 {
		options.URLBatchSize = DefaultURLBatchSize
	}
	if options.AbortTimeout <= 0 {
		options.AbortTimeout = defaultAbortTimeout
	}

	return &Service{
		backend:  backend,
		transfer: transfer,
		digester: digester,
		options:  options,
		logger:   logger,
	}
}

// session is the client-side state of one multipart upload. It is only
// touched by the goroutine running Upload.
type session struct {
	mallID     string
	pinID      string
	videoID    string
	uploadID   string
	checksum   string
	fileSize   int64
	partSize   int64
	totalParts int
	urls       map[int]string
	completed  []CompletedPart
}

// Upload validates, hashes and uploads a video part by part, then finalizes
// the session. Any failure or cancellation after the session was opened
// releases it on the backend before the error is returned.
func (s *Service) Upload(ctx context.Context, req Request) (*Result, error) {
	if err := ValidateVideoFile(req.File, s.options.MaxFileSize); err != nil {
		return nil, err
	}
	if err := validateIDs(req.MallID, req.PinID); err != nil {
		return nil, err
	}

	s.logger.Infof("Hashing %s (%s)", req.File.Name, units.HumanSize(float64(req.File.Size)))
	checksum, err := s.digester.Compute(ctx, req.File, func(done, total int64) {
		publish(req.Progress, models.NewProgress(models.PhaseHashing, done, total))
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrUploadCancelled
		}
		return nil, fmt.Errorf("failed to compute digest: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ErrUploadCancelled
	}

	// calls in flight are never interrupted by cancellation
	callCtx := context.WithoutCancel(ctx)

	initResp, err := s.backend.InitiateUpload(callCtx, InitiateRequest{
		MallID:         req.MallID,
		PinID:          req.PinID,
		Filename:       req.File.Name,
		SizeBytes:      req.File.Size,
		ContentType:    videoContentType,
		ChecksumSHA256: checksum,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initiate upload: %w", err)
	}

	if initResp.Duplicate {
		s.logger.Infof("Video already uploaded as %s, skipping transfer", initResp.VideoID)
		done := models.NewProgress(models.PhaseDone, req.File.Size, req.File.Size)
		done.VideoID = initResp.VideoID
		publish(req.Progress, done)
		return &Result{VideoID: initResp.VideoID, Duplicate: true}, nil
	}

	sess := &session{
		mallID:     req.MallID,
		pinID:      req.PinID,
		videoID:    initResp.VideoID,
		uploadID:   initResp.UploadID,
		checksum:   checksum,
		fileSize:   req.File.Size,
		partSize:   initResp.PartSizeBytes,
		totalParts: initResp.TotalParts,
		urls:       make(map[int]string),
	}
	sess.addURLs(initResp.PresignedURLs)

	result, err := s.run(ctx, sess, req)
	if err != nil {
		// a real failure that races a cancellation keeps its own error
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = ErrUploadCancelled
		}
		s.abort(ctx, sess, err)
		aborted := models.NewProgress(models.PhaseAborted, sess.uploadedBytes(), sess.fileSize)
		aborted.VideoID = sess.videoID
		publish(req.Progress, aborted)
		return nil, err
	}

	return result, nil
}

func (s *Service) run(ctx context.Context, sess *session, req Request) (*Result, error) {
	if sess.partSize <= 0 || sess.totalParts != TotalParts(sess.fileSize, sess.partSize) {
		return nil, fmt.Errorf("%w: %d parts of %d bytes cannot hold %d bytes",
			ErrProtocol, sess.totalParts, sess.partSize, sess.fileSize)
	}

	file, err := os.Open(req.File.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer file.Close()

	s.logger.Infof("Uploading %s in %d parts of %s", sess.videoID, sess.totalParts, units.HumanSize(float64(sess.partSize)))

	var uploaded int64
	for part := 1; part <= sess.totalParts; part++ {
		if ctx.Err() != nil {
			return nil, ErrUploadCancelled
		}

		url, err := s.partURL(ctx, sess, part)
		if err != nil {
			return nil, err
		}

		offset, length := PartRange(part, sess.partSize, sess.fileSize)
		etag, err := s.transfer.TransferPart(ctx, url, io.NewSectionReader(file, offset, length), length, part)
		if err != nil {
			return nil, err
		}

		sess.completed = append(sess.completed, CompletedPart{PartNumber: part, ETag: etag})
		delete(sess.urls, part)
		uploaded += length

		p := models.NewProgress(models.PhaseUploading, uploaded, sess.fileSize)
		p.VideoID = sess.videoID
		p.PartNumber = part
		p.TotalParts = sess.totalParts
		publish(req.Progress, p)
		s.logger.Debugf("Part %d/%d done (%.1f%%)", part, sess.totalParts, p.Percent)
	}

	if ctx.Err() != nil {
		return nil, ErrUploadCancelled
	}

	finalizing := models.NewProgress(models.PhaseFinalizing, uploaded, sess.fileSize)
	finalizing.VideoID = sess.videoID
	publish(req.Progress, finalizing)

	resp, err := s.backend.CompleteUpload(context.WithoutCancel(ctx), CompleteRequest{
		MallID:              sess.mallID,
		PinID:               sess.pinID,
		VideoID:             sess.videoID,
		UploadID:            sess.uploadID,
		Parts:               sess.completed,
		FinalChecksumSHA256: sess.checksum,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete upload: %w", err)
	}

	videoID := resp.VideoID
	if videoID == "" {
		videoID = sess.videoID
	}

	done := models.NewProgress(models.PhaseDone, uploaded, sess.fileSize)
	done.VideoID = videoID
	publish(req.Progress, done)
	s.logger.Donef("Uploaded %s (%s)", videoID, units.HumanSize(float64(sess.fileSize)))

	return &Result{VideoID: videoID, JobID: resp.JobID, Parts: len(sess.completed)}, nil
}

// partURL returns the cached URL for part or pages in the next batch.
func (s *Service) partURL(ctx context.Context, sess *session, part int) (string, error) {
	if url, ok := sess.urls[part]; ok {
		return url, nil
	}

	end := part + s.options.URLBatchSize - 1
	if end > sess.totalParts {
		end = sess.totalParts
	}

	s.logger.Debugf("Requesting part URLs %d-%d", part, end)
	resp, err := s.backend.GetPartURLs(context.WithoutCancel(ctx), PartURLsRequest{
		MallID:    sess.mallID,
		PinID:     sess.pinID,
		VideoID:   sess.videoID,
		UploadID:  sess.uploadID,
		StartPart: part,
		EndPart:   end,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get part URLs %d-%d: %w", part, end, err)
	}
	sess.addURLs(resp.PresignedURLs)

	url, ok := sess.urls[part]
	if !ok {
		return "", fmt.Errorf("%w: no presigned URL returned for part %d", ErrProtocol, part)
	}
	return url, nil
}

func (s *Service) abort(ctx context.Context, sess *session, cause error) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.options.AbortTimeout)
	defer cancel()

	reason := cause.Error()
	if errors.Is(cause, ErrUploadCancelled) {
		reason = "cancelled"
	}

	err := s.backend.AbortUpload(abortCtx, AbortRequest{
		MallID:   sess.mallID,
		PinID:    sess.pinID,
		VideoID:  sess.videoID,
		UploadID: sess.uploadID,
		Reason:   reason,
	})
	if err != nil {
		abortErr := &SessionAbortFailedError{VideoID: sess.videoID, UploadID: sess.uploadID, Err: err}
		s.logger.Warnf("%s", abortErr)
		return
	}
	s.logger.Warnf("Aborted upload %s: %s", sess.videoID, reason)
}

func (sess *session) addURLs(urls []PartURL) {
	for _, u := range urls {
		if u.PartNumber < 1 || u.PartNumber > sess.totalParts || u.URL == "" {
			continue
		}
		sess.urls[u.PartNumber] = u.URL
	}
}

func (sess *session) uploadedBytes() int64 {
	var total int64
	for _, p := range sess.completed {
		_, length := PartRange(p.PartNumber, sess.partSize, sess.fileSize)
		total += length
	}
	return total
}

// publish never blocks; a consumer that falls behind only misses
// intermediate snapshots.
func publish(ch chan<- models.Progress, p models.Progress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
	}
}
