package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"

	"golang.org/x/image/draw"

	"github.com/phrazzld/imageworks-api/internal/config"
	"github.com/phrazzld/imageworks-api/internal/domain"
	"github.com/phrazzld/imageworks-api/internal/platform/blob"
)

// jpegQuality is used when re-encoding JPEG output.
const jpegQuality = 85

// Upload validation errors. All terminal: resubmitting the same bytes
// cannot succeed.
var (
	ErrImageTooLarge      = fmt.Errorf("%w: image exceeds configured size limit", domain.ErrValidation)
	ErrUnsupportedFormat  = fmt.Errorf("%w: unsupported image format", domain.ErrValidation)
	ErrUndecodableImage   = fmt.Errorf("%w: image could not be decoded", domain.ErrValidation)
	ErrMissingInputObject = fmt.Errorf("%w: input blob not found", domain.ErrValidation)
)

// UploadPipeline normalizes uploaded images: it reads the raw bytes from the
// blob store, validates format and size against configured limits, downscales
// to the configured bounding box, re-encodes, and stores the result.
type UploadPipeline struct {
	blobs  blob.Store
	cfg    config.UploadConfig
	logger *slog.Logger
}

// NewUploadPipeline creates the upload-process pipeline variant.
// If logger is nil, a default logger will be used.
func NewUploadPipeline(blobs blob.Store, cfg config.UploadConfig, logger *slog.Logger) *UploadPipeline {
	if logger == nil {
		logger = slog.Default()
	}

	return &UploadPipeline{
		blobs:  blobs,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "upload_pipeline")),
	}
}

// Ensure UploadPipeline implements the Pipeline interface
var _ Pipeline = (*UploadPipeline)(nil)

// Kind implements Pipeline.Kind
func (p *UploadPipeline) Kind() domain.JobKind {
	return domain.JobKindUploadProcess
}

// Process implements Pipeline.Process
func (p *UploadPipeline) Process(ctx context.Context, job *domain.Job) (string, error) {
	data, err := p.blobs.Get(ctx, job.InputRef)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			// The raw upload is gone; no retry will bring it back.
			return "", Terminal(fmt.Errorf("%w: %s", ErrMissingInputObject, job.InputRef))
		}
		// Storage I/O failures are transient.
		return "", fmt.Errorf("failed to read input blob: %w", err)
	}

	if int64(len(data)) > p.cfg.MaxBytes {
		return "", Terminal(fmt.Errorf("%w: %d bytes, limit %d", ErrImageTooLarge, len(data), p.cfg.MaxBytes))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", Terminal(fmt.Errorf("%w: %v", ErrUnsupportedFormat, err))
	}

	switch format {
	case "jpeg", "png", "gif":
		// Supported.
	default:
		return "", Terminal(fmt.Errorf("%w: %q", ErrUnsupportedFormat, format))
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", Terminal(fmt.Errorf("%w: %v", ErrUndecodableImage, err))
	}

	out := src
	if cfg.Width > p.cfg.MaxDimension || cfg.Height > p.cfg.MaxDimension {
		out = downscale(src, p.cfg.MaxDimension)
	}

	encoded, contentType, err := encodeImage(out, format)
	if err != nil {
		return "", Terminal(fmt.Errorf("%w: %v", ErrUndecodableImage, err))
	}

	handle, err := p.blobs.Put(ctx, encoded, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to store processed image: %w", err)
	}

	p.logger.Info("upload processed",
		slog.String("job_id", job.ID.String()),
		slog.String("format", format),
		slog.Int("input_bytes", len(data)),
		slog.Int("output_bytes", len(encoded)))

	return handle, nil
}

// downscale fits the image into a maxDim x maxDim bounding box, preserving
// aspect ratio.
func downscale(src image.Image, maxDim int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}

	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}

// encodeImage re-encodes the image in its original format.
func encodeImage(img image.Image, format string) ([]byte, string, error) {
	var buf bytes.Buffer

	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	case "gif":
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/gif", nil
	default:
		return nil, "", fmt.Errorf("unknown format %q", format)
	}
}
