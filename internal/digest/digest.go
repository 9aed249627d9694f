// Package digest computes the content hash sent with an upload initiation.
package digest

import (
	"context"
	_ "crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	godigest "github.com/opencontainers/go-digest"

	"videoflow/internal/models"
)

// DefaultChunkSize bounds how much of the file is held in memory at once.
const DefaultChunkSize = 8 * 1024 * 1024

// ErrDigestUnavailable is returned when the hash primitive is not linked in.
var ErrDigestUnavailable = errors.New("digest algorithm unavailable")

// IoError reports a failure opening or reading the source file.
type IoError struct {
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Path, e.Err)
}

func (e *IoError) Unwrap() error {
	return e.Err
}

// ProgressFunc receives the number of bytes hashed so far and the file size.
type ProgressFunc func(done, total int64)

type Engine struct {
	algorithm godigest.Algorithm
	chunkSize int
}

func NewEngine(chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Engine{
		algorithm: godigest.SHA256,
		chunkSize: chunkSize,
	}
}

// Compute returns the hex encoded SHA-256 of the whole file. The file is
// streamed chunk by chunk; progress fires once per chunk and ctx is checked
// between chunks.
func (e *Engine) Compute(ctx context.Context, file models.SourceFile, progress ProgressFunc) (string, error) {
	if !e.algorithm.Available() {
		return "", ErrDigestUnavailable
	}

	f, err := os.Open(file.Path)
	if err != nil {
		return "", &IoError{Path: file.Path, Err: err}
	}
	defer f.Close()

	total := file.Size
	if total <= 0 {
		if info, err := f.Stat(); err == nil {
			total = info.Size()
		}
	}

	digester := e.algorithm.Digester()
	hash := digester.Hash()
	buf := make([]byte, e.chunkSize)
	var done int64

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			hash.Write(buf[:n])
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return "", &IoError{Path: file.Path, Err: readErr}
		}
	}

	return digester.Digest().Encoded(), nil
}
