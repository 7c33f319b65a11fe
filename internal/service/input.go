// Package service composes the detection engine into the operations the
// HTTP and CLI surfaces expose: single-image and batch diagnosis, video
// diagnosis, and task management.
package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"os"

	// Registered still-image decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/visus-project/visus/internal/httpclient"
	"github.com/visus-project/visus/internal/imaging"
	"github.com/visus-project/visus/internal/models"
	"github.com/visus-project/visus/internal/urlutil"
)

// DefaultMaxInputBytes caps one fetched or uploaded image payload.
const DefaultMaxInputBytes = 64 << 20

// ImageInput names one image by exactly one of raw bytes, a local path,
// or a remote URL.
type ImageInput struct {
	Data []byte
	Path string
	URL  string
}

func (in ImageInput) describe() string {
	switch {
	case in.Path != "":
		return in.Path
	case in.URL != "":
		return urlutil.Redact(in.URL)
	default:
		return "inline bytes"
	}
}

// InputResolver turns image inputs into decoded frames. It is safe for
// concurrent use.
type InputResolver struct {
	fetcher  *urlutil.ResourceFetcher
	maxBytes int64
}

// NewInputResolver creates a resolver with the default HTTP fetcher.
func NewInputResolver() *InputResolver {
	return &InputResolver{
		fetcher:  urlutil.NewDefaultResourceFetcher(),
		maxBytes: DefaultMaxInputBytes,
	}
}

// WithFetcher sets a custom resource fetcher.
func (r *InputResolver) WithFetcher(cfg httpclient.Config) *InputResolver {
	r.fetcher = urlutil.NewResourceFetcher(cfg)
	return r
}

// WithMaxBytes sets the per-input payload ceiling.
func (r *InputResolver) WithMaxBytes(n int64) *InputResolver {
	if n > 0 {
		r.maxBytes = n
	}
	return r
}

// Resolve decodes the input into a frame. Exactly one of Data, Path, or
// URL must be set.
func (r *InputResolver) Resolve(ctx context.Context, in ImageInput) (*models.Frame, error) {
	set := 0
	if len(in.Data) > 0 {
		set++
	}
	if in.Path != "" {
		set++
	}
	if in.URL != "" {
		set++
	}
	if set != 1 {
		return nil, models.NewError(models.KindInput,
			"exactly one of bytes, path, or url is required")
	}

	switch {
	case len(in.Data) > 0:
		return r.DecodeBytes(in.Data)
	case in.Path != "":
		return r.DecodePath(in.Path)
	default:
		return r.DecodeURL(ctx, in.URL)
	}
}

// DecodeBytes decodes an image payload into an interleaved BGR frame.
// PNG, JPEG, GIF, WebP, BMP, and TIFF are accepted.
func (r *InputResolver) DecodeBytes(data []byte) (*models.Frame, error) {
	if len(data) == 0 {
		return nil, models.NewError(models.KindInput, "empty image data")
	}
	if int64(len(data)) > r.maxBytes {
		return nil, models.Errorf(models.KindResourceExhausted,
			"image payload %d bytes exceeds limit %d", len(data), r.maxBytes)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, models.WrapError(models.KindUnsupportedFormat,
				"unrecognized image format", err)
		}
		return nil, models.WrapError(models.KindInput,
			"decoding "+formatOr(format, "image"), err)
	}
	return imaging.FrameFromImage(img), nil
}

// DecodePath decodes an image file from the local filesystem.
func (r *InputResolver) DecodePath(path string) (*models.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.WrapError(models.KindNotFound, "image "+path, err)
		}
		return nil, models.WrapError(models.KindInput, "reading "+path, err)
	}
	return r.DecodeBytes(data)
}

// DecodeURL fetches and decodes a remote or file:// image.
func (r *InputResolver) DecodeURL(ctx context.Context, u string) (*models.Frame, error) {
	rc, err := r.fetcher.Fetch(ctx, u)
	if err != nil {
		return nil, models.WrapError(models.KindSourceUnavailable,
			"fetching "+urlutil.Redact(u), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, r.maxBytes+1))
	if err != nil {
		return nil, models.WrapError(models.KindSourceUnavailable,
			"reading "+urlutil.Redact(u), err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, models.Errorf(models.KindResourceExhausted,
			"payload from %s exceeds limit %d", urlutil.Redact(u), r.maxBytes)
	}
	return r.DecodeBytes(data)
}

func formatOr(format, fallback string) string {
	if format == "" {
		return fallback
	}
	return format
}
