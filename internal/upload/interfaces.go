package upload

import (
	"context"
	"io"

	"videoflow/internal/digest"
	"videoflow/internal/models"
)

// Backend is the server side of the multipart protocol. It is implemented by
// the HTTP API client and by the direct S3 client.
type Backend interface {
	InitiateUpload(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	GetPartURLs(ctx context.Context, req PartURLsRequest) (*PartURLsResponse, error)
	CompleteUpload(ctx context.Context, req CompleteRequest) (*CompleteResponse, error)
	AbortUpload(ctx context.Context, req AbortRequest) error
}

// PartTransfer uploads one byte range to a presigned URL and returns its ETag.
type PartTransfer interface {
	TransferPart(ctx context.Context, url string, body io.ReadSeeker, size int64, partNumber int) (string, error)
}

// Digester hashes the whole source file once per upload attempt.
type Digester interface {
	Compute(ctx context.Context, file models.SourceFile, progress digest.ProgressFunc) (string, error)
}
