package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/imageworks-api/internal/domain"
	"github.com/phrazzld/imageworks-api/internal/platform/blob"
	"github.com/phrazzld/imageworks-api/internal/platform/lookup"
)

// ImageFetcher resolves a product code to image bytes. Implemented by the
// lookup platform client; narrowed to an interface so tests can stand in.
type ImageFetcher interface {
	FetchImage(ctx context.Context, code string) ([]byte, string, error)
}

// LookupPipeline fetches a product image for an EAN code from the external
// lookup service and stores the bytes in the blob store.
type LookupPipeline struct {
	fetcher ImageFetcher
	blobs   blob.Store
	logger  *slog.Logger
}

// NewLookupPipeline creates the code-lookup pipeline variant.
// If logger is nil, a default logger will be used.
func NewLookupPipeline(fetcher ImageFetcher, blobs blob.Store, logger *slog.Logger) *LookupPipeline {
	if logger == nil {
		logger = slog.Default()
	}

	return &LookupPipeline{
		fetcher: fetcher,
		blobs:   blobs,
		logger:  logger.With(slog.String("component", "lookup_pipeline")),
	}
}

// Ensure LookupPipeline implements the Pipeline interface
var _ Pipeline = (*LookupPipeline)(nil)

// Kind implements Pipeline.Kind
func (p *LookupPipeline) Kind() domain.JobKind {
	return domain.JobKindCodeLookup
}

// Process implements Pipeline.Process
// Timeouts and 5xx answers from the lookup service are retryable; a
// malformed code or a definitive "unknown product" is terminal.
func (p *LookupPipeline) Process(ctx context.Context, job *domain.Job) (string, error) {
	code := job.InputRef

	if err := domain.ValidateEANCode(code); err != nil {
		return "", Terminal(fmt.Errorf("%w: %v", domain.ErrValidation, err))
	}

	data, contentType, err := p.fetcher.FetchImage(ctx, code)
	if err != nil {
		if errors.Is(err, lookup.ErrCodeNotFound) ||
			errors.Is(err, lookup.ErrRejected) ||
			errors.Is(err, lookup.ErrMalformedResponse) {
			return "", Terminal(err)
		}
		return "", fmt.Errorf("failed to fetch product image: %w", err)
	}

	handle, err := p.blobs.Put(ctx, data, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to store fetched image: %w", err)
	}

	p.logger.Info("product image fetched",
		slog.String("job_id", job.ID.String()),
		slog.String("code", code),
		slog.Int("bytes", len(data)))

	return handle, nil
}
