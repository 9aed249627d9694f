// Package transfer uploads single parts of a multipart upload to presigned URLs.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// Config controls the retry behaviour of a part transfer.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	// Timeout bounds a single attempt. Zero means no limit.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
	}
}

var errMissingETag = errors.New("storage response carried no ETag header")

// PartUploadFailedError is returned once every attempt for a part has failed.
type PartUploadFailedError struct {
	PartNumber int
	Attempts   int
	LastErr    error
}

func (e *PartUploadFailedError) Error() string {
	return fmt.Sprintf("part %d failed after %d attempt(s): %v", e.PartNumber, e.Attempts, e.LastErr)
}

func (e *PartUploadFailedError) Unwrap() error {
	return e.LastErr
}

// IsPartUploadFailed checks if the error is a PartUploadFailedError
func IsPartUploadFailed(err error) bool {
	var pe *PartUploadFailedError
	return errors.As(err, &pe)
}

// Unit performs one PUT per part with bounded exponential-backoff retries.
type Unit struct {
	config     Config
	logger     log.Logger
	httpClient *http.Client
	httpLogger interface{}
}

func NewUnit(config Config, logger log.Logger) *Unit {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}

	base := retryhttp.NewClient(logger)
	if config.Timeout > 0 {
		base.HTTPClient.Timeout = config.Timeout
	}

	return &Unit{
		config:     config,
		logger:     logger,
		httpClient: base.HTTPClient,
		httpLogger: base.Logger,
	}
}

// BackoffDelay returns the wait before retry number attempt (0 based):
// base, base*multiplier, base*multiplier^2 ...
func BackoffDelay(base time.Duration, multiplier float64, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(multiplier, float64(attempt)))
}

// TransferPart sends body as the payload of a single PUT to url and returns the
// ETag the storage assigned to it. Cancelling ctx never interrupts a request in
// flight; it only stops further attempts from starting.
func (u *Unit) TransferPart(ctx context.Context, url string, body io.ReadSeeker, size int64, partNumber int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &PartUploadFailedError{PartNumber: partNumber, Attempts: 0, LastErr: err}
	}

	req, err := retryablehttp.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPut, url, body)
	if err != nil {
		return "", fmt.Errorf("failed to create part request: %w", err)
	}
	// retryablehttp cannot infer the length of a generic ReadSeeker
	req.Header.Set("Content-Length", fmt.Sprintf("%d", size))
	req.ContentLength = size

	resp, err := u.client(ctx, partNumber).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", &PartUploadFailedError{PartNumber: partNumber, Attempts: 1, LastErr: errMissingETag}
	}

	u.logger.Debugf("Part %d stored (etag %s)", partNumber, etag)
	return etag, nil
}

func (u *Unit) client(ctx context.Context, partNumber int) *retryablehttp.Client {
	return &retryablehttp.Client{
		HTTPClient:   u.httpClient,
		Logger:       u.httpLogger,
		RetryWaitMin: u.config.BaseDelay,
		RetryWaitMax: BackoffDelay(u.config.BaseDelay, u.config.Multiplier, u.config.MaxAttempts),
		RetryMax:     u.config.MaxAttempts - 1,
		CheckRetry: func(_ context.Context, resp *http.Response, err error) (bool, error) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			if err != nil {
				return true, nil
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return true, nil
			}
			return false, nil
		},
		Backoff: func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
			return BackoffDelay(u.config.BaseDelay, u.config.Multiplier, attemptNum)
		},
		PrepareRetry: func(_ *http.Request) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			u.logger.Warnf("Retrying part %d", partNumber)
			return nil
		},
		ErrorHandler: func(resp *http.Response, err error, numTries int) (*http.Response, error) {
			lastErr := err
			if resp != nil {
				if lastErr == nil {
					lastErr = fmt.Errorf("storage returned status %d", resp.StatusCode)
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			if lastErr == nil {
				lastErr = errors.New("unknown transfer failure")
			}
			return nil, &PartUploadFailedError{PartNumber: partNumber, Attempts: numTries, LastErr: lastErr}
		},
	}
}
