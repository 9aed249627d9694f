package upload

import (
	"time"

	"videoflow/internal/models"
)

// Request describes one upload attempt.
type Request struct {
	MallID   string
	PinID    string
	File     models.SourceFile
	Metadata *Metadata
	// Progress receives snapshots without blocking the upload. Upload never
	// closes it.
	Progress chan<- models.Progress
}

// Result is returned by a finished upload. JobID is empty for duplicates and
// for backends that do not start processing.
type Result struct {
	VideoID   string
	JobID     string
	Duplicate bool
	Parts     int
}

// Metadata is optional information about the recording forwarded on initiation.
type Metadata struct {
	RecordedAt           *time.Time `json:"recorded_at,omitempty" yaml:"recorded_at"`
	OperatorNotes        string     `json:"operator_notes,omitempty" yaml:"operator_notes"`
	VideoWidth           int        `json:"video_width,omitempty" yaml:"video_width"`
	VideoHeight          int        `json:"video_height,omitempty" yaml:"video_height"`
	VideoFPS             float64    `json:"video_fps,omitempty" yaml:"video_fps"`
	VideoDurationSeconds int        `json:"video_duration_seconds,omitempty" yaml:"video_duration_seconds"`
}

// InitiateRequest opens a multipart session for a file.
type InitiateRequest struct {
	MallID         string    `json:"-"`
	PinID          string    `json:"-"`
	Filename       string    `json:"filename"`
	SizeBytes      int64     `json:"file_size_bytes"`
	ContentType    string    `json:"content_type"`
	ChecksumSHA256 string    `json:"checksum_sha256"`
	Metadata       *Metadata `json:"metadata,omitempty"`
}

// PartURL is a presigned URL for one part
type PartURL struct {
	PartNumber int       `json:"part_number"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// InitiateResponse carries the session geometry dictated by the backend and
// the first batch of part URLs, which may cover fewer than TotalParts.
type InitiateResponse struct {
	VideoID       string    `json:"video_id"`
	UploadID      string    `json:"upload_id"`
	PartSizeBytes int64     `json:"part_size_bytes"`
	TotalParts    int       `json:"total_parts"`
	PresignedURLs []PartURL `json:"presigned_urls"`
	Duplicate     bool      `json:"duplicate,omitempty"`
}

// PartURLsRequest pages in presigned URLs for parts StartPart..EndPart inclusive.
type PartURLsRequest struct {
	MallID    string `json:"-"`
	PinID     string `json:"-"`
	VideoID   string `json:"-"`
	UploadID  string `json:"upload_id"`
	StartPart int    `json:"start_part"`
	EndPart   int    `json:"end_part"`
}

type PartURLsResponse struct {
	PresignedURLs []PartURL `json:"presigned_urls"`
}

// CompletedPart represents a completed part with its ETag
type CompletedPart struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
}

// CompleteRequest finalizes a session with the ordered list of parts.
type CompleteRequest struct {
	MallID              string          `json:"-"`
	PinID               string          `json:"-"`
	VideoID             string          `json:"-"`
	UploadID            string          `json:"upload_id"`
	Parts               []CompletedPart `json:"parts"`
	FinalChecksumSHA256 string          `json:"final_checksum_sha256,omitempty"`
}

type CompleteResponse struct {
	VideoID string `json:"video_id"`
	JobID   string `json:"job_id"`
}

// AbortRequest releases a server-side session.
type AbortRequest struct {
	MallID   string `json:"-"`
	PinID    string `json:"-"`
	VideoID  string `json:"-"`
	UploadID string `json:"upload_id"`
	Reason   string `json:"reason,omitempty"`
}
