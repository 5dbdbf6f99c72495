package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/phrazzld/imageworks-api/internal/domain"
)

// TransitionPatch carries the fields a state transition may update alongside
// the state itself. Zero-value fields are left untouched.
type TransitionPatch struct {
	// ResultRef, when non-nil, records the produced blob handle. Only legal
	// on the transition into succeeded.
	ResultRef *string

	// ErrorMessage, when non-nil, records the failure reason. Only legal
	// on the transition into failed; retryable failures awaiting redelivery
	// are logged, not persisted.
	ErrorMessage *string

	// IncrementAttempt bumps attempt_count by one as part of the same write.
	// Set by claim transitions.
	IncrementAttempt bool

	// ExpectedAttempts, when non-nil, adds attempt_count to the conditional
	// write predicate. This is the compare-and-swap version check that lets
	// exactly one of two racing workers claim a redelivered job.
	ExpectedAttempts *int
}

// JobStore defines the interface for job data persistence.
// Version: 1.0
type JobStore interface {
	// Create saves a new job to the store.
	// It handles domain validation internally.
	// Returns validation errors from the domain Job if data is invalid.
	Create(ctx context.Context, job *domain.Job) error

	// GetByID retrieves a job by its unique ID.
	// Returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// ListByOwner retrieves jobs belonging to the given owner, ordered by
	// created_at descending. Returns an empty slice if none match.
	// Limit and offset paginate the result.
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*domain.Job, error)

	// Transition performs a conditional state update: it succeeds only if
	// the stored state equals expected (and, when the patch carries
	// ExpectedAttempts, the stored attempt count matches too) at the time of
	// the write. Returns ErrConflict if the condition does not hold and
	// ErrJobNotFound if the job does not exist. Every successful transition
	// advances updated_at. Returns the job as stored after the write.
	Transition(
		ctx context.Context,
		id uuid.UUID,
		expected, next domain.JobState,
		patch TransitionPatch,
	) (*domain.Job, error)

	// FindByState retrieves jobs in the given state, oldest first, capped at
	// limit. Used by startup recovery to re-enqueue accepted work.
	FindByState(ctx context.Context, state domain.JobState, limit int) ([]*domain.Job, error)

	// WithTx returns a new JobStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) JobStore
}
