// Package preview renders local thumbnail previews of an uploaded video from
// its leased thumbnail stream.
package preview

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/melbahja/got"

	"videoflow/internal/config"
	"videoflow/internal/lease"
)

const (
	ThumbnailStream = "thumbnail"
	// a preview only needs the URL for the duration of one download
	leaseTTLMinutes = 5
	maxWidth        = 2048
	defaultQuality  = 90
)

type Generator struct {
	source lease.Source
	client *http.Client
	logger log.Logger
}

func NewGenerator(source lease.Source, client *http.Client, logger log.Logger) *Generator {
	if client == nil {
		client = http.DefaultClient
	}
	return &Generator{source: source, client: client, logger: logger}
}

// Generate downloads the thumbnail of videoID and writes one resized copy per
// configured size into outDir. It returns the written paths.
func (g *Generator) Generate(ctx context.Context, videoID string, so *config.StorageOptions, outDir string) ([]string, error) {
	grant, err := g.source.GetStreamAccessURL(ctx, videoID, ThumbnailStream, leaseTTLMinutes)
	if err != nil {
		return nil, fmt.Errorf("failed to get thumbnail URL: %w", err)
	}

	imageData, err := g.download(ctx, grant.URL)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var written []string
	for _, sizeStr := range so.Sizes {
		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			return written, fmt.Errorf("invalid size format: %s", sizeStr)
		}
		if size <= 0 || size > maxWidth {
			return written, fmt.Errorf("width must be between 1 and %d, got %d", maxWidth, size)
		}

		thumbnailData, err := generateThumbnail(imageData, size, so.Quality, so.ConvertTo)
		if err != nil {
			return written, fmt.Errorf("failed to generate thumbnail for size %d: %w", size, err)
		}

		path := filepath.Join(outDir, thumbnailPathForSize(videoID, sizeStr, so.ConvertTo))
		if err := os.WriteFile(path, thumbnailData, 0644); err != nil {
			return written, fmt.Errorf("failed to write thumbnail for size %d: %w", size, err)
		}
		g.logger.Printf("Wrote %s", path)
		written = append(written, path)
	}

	return written, nil
}

func (g *Generator) download(ctx context.Context, url string) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "videoflow-thumb")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	dest := filepath.Join(tmpDir, "thumbnail")
	downloader := got.New()
	downloader.Client = g.client
	if err := downloader.Do(got.NewDownload(ctx, url, dest)); err != nil {
		return nil, fmt.Errorf("failed to download thumbnail: %w", err)
	}

	return os.ReadFile(dest)
}

func generateThumbnail(imageData []byte, width, quality int, convertTo string) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	if quality < 1 || quality > 100 {
		quality = defaultQuality
	}

	resizedImg := imaging.Resize(img, width, 0, imaging.Lanczos)

	var buf bytes.Buffer
	switch normalizeFormat(convertTo) {
	case "png":
		err = png.Encode(&buf, resizedImg)
	case "webp":
		err = webp.Encode(&buf, resizedImg, &webp.Options{Quality: float32(quality)})
	default:
		err = jpeg.Encode(&buf, resizedImg, &jpeg.Options{Quality: quality})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return buf.Bytes(), nil
}

// thumbnailPathForSize gives <video>_<size>.<ext>
func thumbnailPathForSize(videoID, size, convertTo string) string {
	ext := normalizeFormat(convertTo)
	if ext == "jpeg" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s_%s.%s", videoID, size, ext)
}

func normalizeFormat(convertTo string) string {
	f := strings.ToLower(convertTo)
	switch {
	case strings.Contains(f, "png"):
		return "png"
	case strings.Contains(f, "webp"):
		return "webp"
	default:
		return "jpeg"
	}
}
