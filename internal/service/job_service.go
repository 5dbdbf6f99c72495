package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/imageworks-api/internal/domain"
	"github.com/phrazzld/imageworks-api/internal/store"
	"github.com/phrazzld/imageworks-api/internal/task"
)

// Common sentinel errors for JobService
var (
	// ErrJobNotFound indicates that the job does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotOwned indicates that the requesting owner does not own the job
	ErrJobNotOwned = errors.New("job not owned by requester")
)

// JobService is the boundary consumed by the HTTP layer: it accepts
// submissions (the producer side) and serves status queries (the status
// reader). The verified owner identity arrives from the auth layer; the
// service never validates credentials itself.
type JobService interface {
	// Submit validates the submission, persists the job in queued state,
	// enqueues it for processing, and returns the full record synchronously.
	Submit(ctx context.Context, ownerID uuid.UUID, kind domain.JobKind, inputRef string) (*domain.Job, error)

	// GetStatus returns the job if the requesting owner owns it.
	// Returns ErrJobNotFound for unknown IDs and ErrJobNotOwned otherwise.
	GetStatus(ctx context.Context, id, requestingOwner uuid.UUID) (*domain.Job, error)

	// ListStatus returns the requesting owner's jobs, newest first.
	ListStatus(ctx context.Context, requestingOwner uuid.UUID, limit, offset int) ([]*domain.Job, error)
}

// JobServiceError wraps errors from the job service with context.
type JobServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "get_status")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for JobServiceError.
func (e *JobServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("job service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *JobServiceError) Unwrap() error {
	return e.Err
}

// NewJobServiceError creates a new JobServiceError.
// It returns known sentinel errors directly without wrapping.
func NewJobServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrJobNotOwned) {
		return err
	}

	// Map store-level sentinels to service-level ones
	if errors.Is(err, store.ErrJobNotFound) {
		return ErrJobNotFound
	}

	return &JobServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// jobServiceImpl implements the JobService interface
type jobServiceImpl struct {
	jobs   store.JobStore
	queue  task.JobQueue
	logger *slog.Logger
}

// NewJobService creates a new JobService.
// It returns an error if any of the required dependencies are nil.
func NewJobService(jobs store.JobStore, queue task.JobQueue, logger *slog.Logger) (JobService, error) {
	if jobs == nil {
		return nil, &JobServiceError{
			Operation: "create_service",
			Message:   "job store cannot be nil",
		}
	}
	if queue == nil {
		return nil, &JobServiceError{
			Operation: "create_service",
			Message:   "queue cannot be nil",
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &jobServiceImpl{
		jobs:   jobs,
		queue:  queue,
		logger: logger.With(slog.String("component", "job_service")),
	}, nil
}

// Submit implements JobService.Submit
// The job record is the source of truth: it is persisted before the queue
// entry, so a crash between the two leaves a queued record that startup
// recovery re-enqueues, never a dangling queue entry.
func (s *jobServiceImpl) Submit(
	ctx context.Context,
	ownerID uuid.UUID,
	kind domain.JobKind,
	inputRef string,
) (*domain.Job, error) {
	if !domain.IsValidJobKind(kind) {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, domain.ErrInvalidJobKind)
	}

	// Reject obviously broken lookup codes synchronously; the pipeline
	// validates again before calling out.
	if kind == domain.JobKindCodeLookup {
		if err := domain.ValidateEANCode(inputRef); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
	}

	job, err := domain.NewJob(ownerID, kind, inputRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, NewJobServiceError("submit", "failed to persist job", err)
	}

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		// The record exists in queued state, so recovery will pick it up;
		// the submitter still gets their job ID.
		s.logger.Error("failed to enqueue job, deferring to recovery",
			"job_id", job.ID,
			"error", err)
	}

	s.logger.Info("job submitted",
		"job_id", job.ID,
		"owner_id", ownerID,
		"kind", kind)

	return job, nil
}

// GetStatus implements JobService.GetStatus
func (s *jobServiceImpl) GetStatus(ctx context.Context, id, requestingOwner uuid.UUID) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, NewJobServiceError("get_status", "failed to load job", err)
	}

	if job.OwnerID != requestingOwner {
		// Same signal as the auth layer would give: the job is invisible
		// to anyone but its owner.
		return nil, ErrJobNotOwned
	}

	return job, nil
}

// ListStatus implements JobService.ListStatus
func (s *jobServiceImpl) ListStatus(
	ctx context.Context,
	requestingOwner uuid.UUID,
	limit, offset int,
) ([]*domain.Job, error) {
	jobs, err := s.jobs.ListByOwner(ctx, requestingOwner, limit, offset)
	if err != nil {
		return nil, NewJobServiceError("list_status", "failed to list jobs", err)
	}
	return jobs, nil
}
