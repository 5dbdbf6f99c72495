package service_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/imageworks-api/internal/domain"
	"github.com/phrazzld/imageworks-api/internal/service"
	"github.com/phrazzld/imageworks-api/internal/store"
	"github.com/phrazzld/imageworks-api/internal/task"
)

// fakeJobStore covers the store surface the service touches.
type fakeJobStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*domain.Job
	createErr error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[uuid.UUID]*domain.Job)}
}

func (f *fakeJobStore) Create(ctx context.Context, job *domain.Job) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *job
	f.jobs[job.ID] = &clone
	return nil
}

func (f *fakeJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (f *fakeJobStore) ListByOwner(
	ctx context.Context,
	ownerID uuid.UUID,
	limit, offset int,
) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var owned []*domain.Job
	for _, job := range f.jobs {
		if job.OwnerID == ownerID {
			clone := *job
			owned = append(owned, &clone)
		}
	}
	return owned, nil
}

func (f *fakeJobStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	expected, next domain.JobState,
	patch store.TransitionPatch,
) (*domain.Job, error) {
	return nil, errors.New("not used by the service")
}

func (f *fakeJobStore) FindByState(
	ctx context.Context,
	state domain.JobState,
	limit int,
) ([]*domain.Job, error) {
	return nil, nil
}

func (f *fakeJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return f
}

func newTestService(t *testing.T) (service.JobService, *fakeJobStore, *task.MemoryQueue) {
	t.Helper()

	jobs := newFakeJobStore()
	queue := task.NewMemoryQueue(16, nil)
	svc, err := service.NewJobService(jobs, queue, nil)
	require.NoError(t, err)
	return svc, jobs, queue
}

func TestNewJobServiceRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := service.NewJobService(nil, task.NewMemoryQueue(1, nil), nil)
	assert.Error(t, err)

	_, err = service.NewJobService(newFakeJobStore(), nil, nil)
	assert.Error(t, err)
}

func TestSubmitPersistsAndEnqueues(t *testing.T) {
	t.Parallel()

	svc, jobs, queue := newTestService(t)
	ownerID := uuid.New()

	job, err := svc.Submit(context.Background(), ownerID, domain.JobKindUploadProcess, "blob-handle")
	require.NoError(t, err)

	assert.Equal(t, domain.JobStateQueued, job.State, "submission returns synchronously in queued state")
	assert.Equal(t, ownerID, job.OwnerID)

	stored, err := jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateQueued, stored.State)

	delivered, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, job.ID, delivered, "the queue carries the job reference")
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	svc, jobs, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), uuid.New(), domain.JobKind("transcode"), "ref")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, jobs.jobs, "nothing persisted for a rejected submission")
}

func TestSubmitRejectsInvalidEANCode(t *testing.T) {
	t.Parallel()

	svc, jobs, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), uuid.New(), domain.JobKindCodeLookup, "4006381333930")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, jobs.jobs)
}

func TestSubmitAcceptsValidEANCode(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)

	job, err := svc.Submit(context.Background(), uuid.New(), domain.JobKindCodeLookup, "4006381333931")
	require.NoError(t, err)
	assert.Equal(t, "4006381333931", job.InputRef)
}

func TestSubmitSurvivesEnqueueFailure(t *testing.T) {
	t.Parallel()

	jobs := newFakeJobStore()
	queue := task.NewMemoryQueue(16, nil)
	queue.Close()

	svc, err := service.NewJobService(jobs, queue, nil)
	require.NoError(t, err)

	// The record lands in queued state; startup recovery re-enqueues it.
	job, err := svc.Submit(context.Background(), uuid.New(), domain.JobKindUploadProcess, "blob-handle")
	require.NoError(t, err)

	stored, err := jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateQueued, stored.State)
}

func TestGetStatusOwnerScoping(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ownerID := uuid.New()

	job, err := svc.Submit(context.Background(), ownerID, domain.JobKindUploadProcess, "blob-handle")
	require.NoError(t, err)

	t.Run("owner sees the job", func(t *testing.T) {
		got, err := svc.GetStatus(context.Background(), job.ID, ownerID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
	})

	t.Run("other owners are refused", func(t *testing.T) {
		_, err := svc.GetStatus(context.Background(), job.ID, uuid.New())
		assert.ErrorIs(t, err, service.ErrJobNotOwned)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := svc.GetStatus(context.Background(), uuid.New(), ownerID)
		assert.ErrorIs(t, err, service.ErrJobNotFound)
	})
}

func TestListStatusReturnsOnlyOwnersJobs(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ownerID := uuid.New()
	otherID := uuid.New()

	mine, err := svc.Submit(context.Background(), ownerID, domain.JobKindUploadProcess, "blob-handle")
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), otherID, domain.JobKindCodeLookup, "4006381333931")
	require.NoError(t, err)

	listed, err := svc.ListStatus(context.Background(), ownerID, 20, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, mine.ID, listed[0].ID)
}
