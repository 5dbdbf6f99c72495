package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/imageworks-api/internal/domain"
	"github.com/phrazzld/imageworks-api/internal/platform/logger"
	"github.com/phrazzld/imageworks-api/internal/store"
)

// PostgreSQL error codes
const pgUniqueViolationCode = "23505"

// jobColumns is the column list shared by every job SELECT.
const jobColumns = `id, owner_id, kind, input_ref, state, attempt_count, result_ref, error_message, created_at, updated_at`

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// Create implements store.JobStore.Create
// It saves a new job to the database, handling domain validation.
// Returns validation errors from the domain Job if data is invalid.
// Returns store.ErrDuplicate if a job with the same ID already exists.
func (s *PostgresJobStore) Create(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during create",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return err
	}

	query := `
		INSERT INTO jobs (id, owner_id, kind, input_ref, state, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.OwnerID,
		job.Kind,
		job.InputRef,
		job.State,
		job.AttemptCount,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			log.Warn("duplicate job ID during create",
				slog.String("job_id", job.ID.String()))
			return fmt.Errorf("%w: job with ID %s", store.ErrDuplicate, job.ID)
		}

		log.Error("failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()),
			slog.String("owner_id", job.OwnerID.String()))
		return err
	}

	log.Info("job created successfully",
		slog.String("job_id", job.ID.String()),
		slog.String("owner_id", job.OwnerID.String()),
		slog.String("kind", string(job.Kind)))
	return nil
}

// GetByID implements store.JobStore.GetByID
// Returns store.ErrJobNotFound if the job does not exist.
func (s *PostgresJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		log.Error("failed to get job",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListByOwner implements store.JobStore.ListByOwner
// Results are ordered by created_at descending; the (owner_id, created_at)
// index keeps the paginated scan cheap.
func (s *PostgresJobStore) ListByOwner(
	ctx context.Context,
	ownerID uuid.UUID,
	limit, offset int,
) ([]*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		log.Error("failed to list jobs by owner",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID.String()))
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectJobs(rows)
}

// FindByState implements store.JobStore.FindByState
func (s *PostgresJobStore) FindByState(
	ctx context.Context,
	state domain.JobState,
	limit int,
) ([]*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE state = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, state, limit)
	if err != nil {
		log.Error("failed to find jobs by state",
			slog.String("error", err.Error()),
			slog.String("state", string(state)))
		return nil, fmt.Errorf("failed to find jobs by state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectJobs(rows)
}

// Transition implements store.JobStore.Transition
// The conditional predicate (state, and optionally attempt_count) rides in
// the UPDATE's WHERE clause so the check and the write are one atomic
// statement. Zero rows affected with an existing job means the condition
// failed: store.ErrConflict.
func (s *PostgresJobStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	expected, next domain.JobState,
	patch store.TransitionPatch,
) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !domain.CanTransition(expected, next) {
		return nil, fmt.Errorf("%w: transition %s -> %s", domain.ErrInvalidJobState, expected, next)
	}

	attemptExpr := "attempt_count"
	if patch.IncrementAttempt {
		attemptExpr = "attempt_count + 1"
	}

	// result_ref is present iff succeeded and error_message iff failed;
	// terminal transitions clear the opposite field in the same write so
	// the invariant holds at every observable point.
	var resultExpr, errorExpr string
	args := []any{next}
	switch next {
	case domain.JobStateSucceeded:
		args = append(args, patch.ResultRef)
		resultExpr = fmt.Sprintf("$%d", len(args))
		errorExpr = "NULL"
	case domain.JobStateFailed:
		args = append(args, patch.ErrorMessage)
		resultExpr = "NULL"
		errorExpr = fmt.Sprintf("$%d", len(args))
	default:
		resultExpr = "result_ref"
		errorExpr = "error_message"
	}

	args = append(args, time.Now().UTC())
	updatedAtPos := len(args)
	args = append(args, id)
	idPos := len(args)
	args = append(args, expected)
	expectedPos := len(args)

	query := fmt.Sprintf(`
		UPDATE jobs
		SET state = $1,
		    attempt_count = %s,
		    result_ref = %s,
		    error_message = %s,
		    updated_at = $%d
		WHERE id = $%d AND state = $%d
	`, attemptExpr, resultExpr, errorExpr, updatedAtPos, idPos, expectedPos)

	if patch.ExpectedAttempts != nil {
		args = append(args, *patch.ExpectedAttempts)
		query += fmt.Sprintf(` AND attempt_count = $%d`, len(args))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to transition job",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()),
			slog.String("expected", string(expected)),
			slog.String("next", string(next)))
		return nil, fmt.Errorf("failed to transition job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Distinguish a lost race from a missing job.
		current, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		log.Debug("job transition lost conditional write",
			slog.String("job_id", id.String()),
			slog.String("expected", string(expected)),
			slog.String("actual", string(current.State)))
		return nil, fmt.Errorf("%w: job %s is %s, expected %s",
			store.ErrConflict, id, current.State, expected)
	}

	return s.GetByID(ctx, id)
}

// WithTx implements store.JobStore.WithTx
// It returns a new JobStore that uses the provided transaction for all operations.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{
		db:     tx,
		logger: s.logger,
	}
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob maps one row onto a domain.Job.
func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job          domain.Job
		resultRef    sql.NullString
		errorMessage sql.NullString
	)

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Kind,
		&job.InputRef,
		&job.State,
		&job.AttemptCount,
		&resultRef,
		&errorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if resultRef.Valid {
		job.ResultRef = &resultRef.String
	}
	if errorMessage.Valid {
		job.ErrorMessage = &errorMessage.String
	}

	return &job, nil
}

// collectJobs drains a row set into a slice of jobs.
func collectJobs(rows *sql.Rows) ([]*domain.Job, error) {
	jobs := []*domain.Job{}

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}

	return jobs, nil
}
