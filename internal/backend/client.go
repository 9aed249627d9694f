// Package backend talks to the video platform API: multipart upload sessions,
// processing jobs and signed stream URLs.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"

	"videoflow/internal/lease"
	"videoflow/internal/models"
	"videoflow/internal/upload"
)

const defaultRetryMax = 2

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RetryMax is the number of retries for failed API calls.
	RetryMax int
}

// APIError is a non-success response from the API.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Detail)
}

// IsNotFound checks if err is an APIError with status 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	httpClient *retryablehttp.Client
	baseURL    string
	token      string
	logger     log.Logger
}

func NewClient(config Config, logger log.Logger) *Client {
	httpClient := retryhttp.NewClient(logger)
	httpClient.RetryMax = defaultRetryMax
	if config.RetryMax > 0 {
		httpClient.RetryMax = config.RetryMax
	}
	if config.Timeout > 0 {
		httpClient.HTTPClient.Timeout = config.Timeout
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		token:      config.Token,
		logger:     logger,
	}
}

type duplicateDetail struct {
	Error           string `json:"error"`
	Message         string `json:"message"`
	ExistingVideoID string `json:"existing_video_id"`
}

type jobResponse struct {
	ID           string           `json:"id"`
	JobID        string           `json:"job_id"`
	VideoID      string           `json:"video_id"`
	JobType      string           `json:"job_type"`
	Status       models.JobStatus `json:"status"`
	ErrorMessage string           `json:"error_message"`
}

type streamResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *Client) InitiateUpload(ctx context.Context, req upload.InitiateRequest) (*upload.InitiateResponse, error) {
	path := c.uploadsPath(req.MallID, req.PinID)

	resp, err := c.do(ctx, http.MethodPost, path, req)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode == http.StatusConflict {
		apiErr := unwrapError(resp)
		var detail duplicateDetail
		if jsonErr := json.Unmarshal([]byte(apiErr.Detail), &detail); jsonErr == nil && detail.ExistingVideoID != "" {
			c.logger.Debugf("Duplicate of %s: %s", detail.ExistingVideoID, detail.Message)
			return &upload.InitiateResponse{VideoID: detail.ExistingVideoID, Duplicate: true}, nil
		}
		return nil, apiErr
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, unwrapError(resp)
	}

	var response upload.InitiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode initiate response: %w", err)
	}
	return &response, nil
}

func (c *Client) GetPartURLs(ctx context.Context, req upload.PartURLsRequest) (*upload.PartURLsResponse, error) {
	path := fmt.Sprintf("%s/%s/part-urls", c.uploadsPath(req.MallID, req.PinID), url.PathEscape(req.VideoID))

	var response upload.PartURLsResponse
	if err := c.call(ctx, http.MethodPost, path, req, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) CompleteUpload(ctx context.Context, req upload.CompleteRequest) (*upload.CompleteResponse, error) {
	path := fmt.Sprintf("%s/%s/complete", c.uploadsPath(req.MallID, req.PinID), url.PathEscape(req.VideoID))

	var response upload.CompleteResponse
	if err := c.call(ctx, http.MethodPost, path, req, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) AbortUpload(ctx context.Context, req upload.AbortRequest) error {
	path := fmt.Sprintf("%s/%s/abort", c.uploadsPath(req.MallID, req.PinID), url.PathEscape(req.VideoID))
	return c.call(ctx, http.MethodPost, path, req, nil)
}

func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*models.Job, error) {
	var response jobResponse
	if err := c.call(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &response); err != nil {
		return nil, err
	}

	id := response.JobID
	if id == "" {
		id = response.ID
	}
	if id == "" {
		id = jobID
	}
	return &models.Job{
		JobID:        id,
		VideoID:      response.VideoID,
		JobType:      response.JobType,
		Status:       response.Status,
		ErrorMessage: response.ErrorMessage,
	}, nil
}

func (c *Client) GetStreamAccessURL(ctx context.Context, videoID, streamType string, ttlMinutes int) (*lease.Grant, error) {
	path := fmt.Sprintf("/videos/%s/stream/%s?ttl_minutes=%d", url.PathEscape(videoID), url.PathEscape(streamType), ttlMinutes)

	var response streamResponse
	if err := c.call(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return &lease.Grant{URL: response.URL, ExpiresAt: response.ExpiresAt}, nil
}

func (c *Client) uploadsPath(mallID, pinID string) string {
	return fmt.Sprintf("/malls/%s/pins/%s/uploads", url.PathEscape(mallID), url.PathEscape(pinID))
}

// call performs a request and decodes a 2xx JSON body into out, if given.
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	resp, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return unwrapError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response of %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}) (*http.Response, error) {
	var body interface{}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = payload
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debugf("%s %s", method, path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Warnf("failed to close response body: %s", err)
	}
}

// unwrapError reads the error body. FastAPI style {"detail": ...} bodies are
// reduced to their detail, which may itself be a JSON object.
func unwrapError(resp *http.Response) *APIError {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Detail: err.Error()}
	}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	detail := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Detail) > 0 {
		var text string
		if json.Unmarshal(envelope.Detail, &text) == nil {
			detail = text
		} else {
			detail = string(envelope.Detail)
		}
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Detail: detail}
}
