package task

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/imageworks-api/internal/domain"
	"github.com/phrazzld/imageworks-api/internal/store"
)

// poolTestConfig keeps reaping out of the way unless a test wants it.
func poolTestConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:       2,
		MaxAttempts:       3,
		VisibilityTimeout: time.Minute,
		ReapInterval:      time.Minute,
	}
}

// submitJob persists a queued job and puts its reference on the queue.
func submitJob(t *testing.T, jobs *mockJobStore, queue JobQueue, kind domain.JobKind) *domain.Job {
	t.Helper()

	job, err := domain.NewJob(uuid.New(), kind, "input-ref")
	require.NoError(t, err)
	require.NoError(t, jobs.Create(context.Background(), job))
	require.NoError(t, queue.Enqueue(context.Background(), job.ID))
	return job
}

// waitForState polls the store until the job reaches the wanted state.
func waitForState(t *testing.T, jobs *mockJobStore, id uuid.UUID, want domain.JobState) *domain.Job {
	t.Helper()

	require.Eventually(t, func() bool {
		job := jobs.snapshot(id)
		return job != nil && job.State == want
	}, 2*time.Second, 10*time.Millisecond, "job never reached state %s", want)

	return jobs.snapshot(id)
}

func TestWorkerPoolProcessesJobToSuccess(t *testing.T) {
	t.Parallel()

	jobs := newMockJobStore()
	queue := NewMemoryQueue(16, nil)
	pipeline := newStubPipeline(domain.JobKindUploadProcess, stubOutcome{resultRef: "result-handle"})
	pool := NewWorkerPool(queue, jobs, NewRegistry(pipeline), poolTestConfig(), nil)

	job := submitJob(t, jobs, queue, domain.JobKindUploadProcess)

	require.NoError(t, pool.Start())
	defer pool.Stop()

	final := waitForState(t, jobs, job.ID, domain.JobStateSucceeded)
	assert.Equal(t, 1, final.AttemptCount)
	require.NotNil(t, final.ResultRef)
	assert.Equal(t, "result-handle", *final.ResultRef)
	assert.Nil(t, final.ErrorMessage)
	assert.Equal(t, 1, pipeline.callCount())
}

func TestWorkerPoolTerminalFailureFailsImmediately(t *testing.T) {
	t.Parallel()

	jobs := newMockJobStore()
	queue := NewMemoryQueue(16, nil)
	cause := errors.New("unsupported format")
	pipeline := newStubPipeline(domain.JobKindUploadProcess, stubOutcome{err: Terminal(cause)})
	pool := NewWorkerPool(queue, jobs, NewRegistry(pipeline), poolTestConfig(), nil)

	job := submitJob(t, jobs, queue, domain.JobKindUploadProcess)

	require.NoError(t, pool.Start())
	defer pool.Stop()

	final := waitForState(t, jobs, job.ID, domain.JobStateFailed)
	assert.Equal(t, 1, final.AttemptCount, "terminal failures never retry")
	assert.Nil(t, final.ResultRef)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "unsupported format")
	assert.Equal(t, 1, pipeline.callCount())
}

func TestWorkerPoolRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	jobs := newMockJobStore()
	queue := NewMemoryQueue(16, nil)
	pipeline := newStubPipeline(domain.JobKindCodeLookup,
		stubOutcome{err: errors.New("connection reset")},
		stubOutcome{resultRef: "result-handle"},
	)
	pool := NewWorkerPool(queue, jobs, NewRegistry(pipeline), poolTestConfig(), nil)

	job := submitJob(t, jobs, queue, domain.JobKindCodeLookup)

	require.NoError(t, pool.Start())
	defer pool.Stop()

	final := waitForState(t, jobs, job.ID, domain.JobStateSucceeded)
	assert.Equal(t, 2, final.AttemptCount, "one failed attempt plus the successful one")
	require.NotNil(t, final.ResultRef)
	assert.Equal(t, "result-handle", *final.ResultRef)
	assert.Equal(t, 2, pipeline.callCount())
}

func TestWorkerPoolExhaustsRetryCeiling(t *testing.T) {
	t.Parallel()

	jobs := newMockJobStore()
	queue := NewMemoryQueue(16, nil)
	pipeline := newStubPipeline(domain.JobKindCodeLookup,
		stubOutcome{err: errors.New("service unavailable")},
	)
	cfg := poolTestConfig()
	cfg.MaxAttempts = 3
	pool := NewWorkerPool(queue, jobs, NewRegistry(pipeline), cfg, nil)

	job := submitJob(t, jobs, queue, domain.JobKindCodeLookup)

	require.NoError(t, pool.Start())
	defer pool.Stop()

	final := waitForState(t, jobs, job.ID, domain.JobStateFailed)
	assert.Equal(t, cfg.MaxAttempts, final.AttemptCount,
		"job fails with attempt count at the ceiling")
	require.NotNil(t, final.ErrorMessage)
	assert.True(t, strings.Contains(*final.ErrorMessage, "retry limit"),
		"failure reason names the exhausted retries: %s", *final.ErrorMessage)
	assert.Equal(t, cfg.MaxAttempts, pipeline.callCount())
}

func TestWorkerPoolDiscardsTerminalRedelivery(t *testing.T) {
	t.Parallel()

	jobs := newMockJobStore()
	queue := NewMemoryQueue(16, nil)
	pipeline := newStubPipeline(domain.JobKindUploadProcess, stubOutcome{resultRef: "other"})
	pool := NewWorkerPool(queue, jobs, NewRegistry(pipeline), poolTestConfig(), nil)

	// A job that already finished; its reference shows up again anyway.
	job, err := domain.NewJob(uuid.New(), domain.JobKindUploadProcess, "input-ref")
	require.NoError(t, err)
	resultRef := "final-result"
	job.State = domain.JobStateSucceeded
	job.AttemptCount = 1
	job.ResultRef = &resultRef
	require.NoError(t, jobs.Create(context.Background(), job))
	require.NoError(t, queue.Enqueue(context.Background(), job.ID))

	require.NoError(t, pool.Start())
	defer pool.Stop()

	// The delivery is consumed and the job left untouched.
	require.Eventually(t, func() bool {
		moved, rerr := queue.RequeueStale(context.Background(), 0, 100)
		return rerr == nil && moved == 0 && len(queue.jobs) == 0
	}, 2*time.Second, 10*time.Millisecond)

	final := jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobStateSucceeded, final.State)
	assert.Equal(t, 1, final.AttemptCount)
	require.NotNil(t, final.ResultRef)
	assert.Equal(t, "final-result", *final.ResultRef)
	assert.Zero(t, pipeline.callCount(), "terminal jobs are never reprocessed")
}

func TestWorkerPoolDropsUnknownJobReference(t *testing.T) {
	t.Parallel()

	jobs := newMockJobStore()
	queue := NewMemoryQueue(16, nil)
	pipeline := newStubPipeline(domain.JobKindUploadProcess, stubOutcome{resultRef: "out"})
	pool := NewWorkerPool(queue, jobs, NewRegistry(pipeline), poolTestConfig(), nil)

	require.NoError(t, queue.Enqueue(context.Background(), uuid.New()))

	require.NoError(t, pool.Start())
	defer pool.Stop()

	require.Eventually(t, func() bool {
		moved, rerr := queue.RequeueStale(context.Background(), 0, 100)
		return rerr == nil && moved == 0 && len(queue.jobs) == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Zero(t, pipeline.callCount())
}

func TestWorkerPoolClaimLosesRace(t *testing.T) {
	t.Parallel()

	jobs := newMockJobStore()
	queue := NewMemoryQueue(16, nil)
	pipeline := newStubPipeline(domain.JobKindUploadProcess, stubOutcome{resultRef: "out"})
	pool := NewWorkerPool(queue, jobs, NewRegistry(pipeline), poolTestConfig(), nil)

	job, err := domain.NewJob(uuid.New(), domain.JobKindUploadProcess, "input-ref")
	require.NoError(t, err)
	require.NoError(t, jobs.Create(context.Background(), job))

	// Another worker claims first. The snapshot this worker holds is stale.
	expected := 0
	_, err = jobs.Transition(context.Background(), job.ID,
		domain.JobStateQueued, domain.JobStateRunning,
		store.TransitionPatch{IncrementAttempt: true, ExpectedAttempts: &expected})
	require.NoError(t, err)

	claimed, err := pool.claim(context.Background(), job)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Nil(t, claimed)

	// The winner's claim stands untouched.
	current := jobs.snapshot(job.ID)
	assert.Equal(t, domain.JobStateRunning, current.State)
	assert.Equal(t, 1, current.AttemptCount)
}

func TestWorkerPoolRecoverRequeuesQueuedJobs(t *testing.T) {
	t.Parallel()

	jobs := newMockJobStore()
	queue := NewMemoryQueue(16, nil)
	pipeline := newStubPipeline(domain.JobKindUploadProcess, stubOutcome{resultRef: "result-handle"})
	pool := NewWorkerPool(queue, jobs, NewRegistry(pipeline), poolTestConfig(), nil)

	// Persisted but never enqueued: the crash-between-create-and-enqueue case.
	job, err := domain.NewJob(uuid.New(), domain.JobKindUploadProcess, "input-ref")
	require.NoError(t, err)
	require.NoError(t, jobs.Create(context.Background(), job))

	require.NoError(t, pool.Start())
	defer pool.Stop()

	final := waitForState(t, jobs, job.ID, domain.JobStateSucceeded)
	require.NotNil(t, final.ResultRef)
	assert.Equal(t, "result-handle", *final.ResultRef)
}
