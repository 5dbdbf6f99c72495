package task

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/phrazzld/imageworks-api/internal/domain"
	"github.com/phrazzld/imageworks-api/internal/store"
)

// mockJobStore is an in-memory store.JobStore with the same conditional
// transition semantics as the postgres implementation.
type mockJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job

	// getErr, when set, is returned by GetByID to simulate store outages.
	getErr error
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{jobs: make(map[uuid.UUID]*domain.Job)}
}

var _ store.JobStore = (*mockJobStore)(nil)

func (m *mockJobStore) Create(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return store.ErrDuplicate
	}
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *mockJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	job, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (m *mockJobStore) ListByOwner(
	ctx context.Context,
	ownerID uuid.UUID,
	limit, offset int,
) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var owned []*domain.Job
	for _, job := range m.jobs {
		if job.OwnerID == ownerID {
			clone := *job
			owned = append(owned, &clone)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	if offset >= len(owned) {
		return []*domain.Job{}, nil
	}
	owned = owned[offset:]
	if limit < len(owned) {
		owned = owned[:limit]
	}
	return owned, nil
}

func (m *mockJobStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	expected, next domain.JobState,
	patch store.TransitionPatch,
) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}

	if job.State != expected {
		return nil, store.ErrConflict
	}
	if patch.ExpectedAttempts != nil && job.AttemptCount != *patch.ExpectedAttempts {
		return nil, store.ErrConflict
	}

	job.State = next
	if patch.IncrementAttempt {
		job.AttemptCount++
	}
	switch next {
	case domain.JobStateSucceeded:
		job.ResultRef = patch.ResultRef
		job.ErrorMessage = nil
	case domain.JobStateFailed:
		job.ErrorMessage = patch.ErrorMessage
		job.ResultRef = nil
	}

	clone := *job
	return &clone, nil
}

func (m *mockJobStore) FindByState(
	ctx context.Context,
	state domain.JobState,
	limit int,
) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*domain.Job
	for _, job := range m.jobs {
		if job.State == state {
			clone := *job
			matched = append(matched, &clone)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *mockJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return m
}

// snapshot returns the stored job without the not-found error dance.
func (m *mockJobStore) snapshot(id uuid.UUID) *domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil
	}
	clone := *job
	return &clone
}

// stubPipeline answers every Process call from a scripted list of outcomes,
// sticking on the last one once the script runs out.
type stubPipeline struct {
	kind domain.JobKind

	mu     sync.Mutex
	script []stubOutcome
	calls  int
}

type stubOutcome struct {
	resultRef string
	err       error
}

func newStubPipeline(kind domain.JobKind, script ...stubOutcome) *stubPipeline {
	return &stubPipeline{kind: kind, script: script}
}

var _ Pipeline = (*stubPipeline)(nil)

func (s *stubPipeline) Kind() domain.JobKind {
	return s.kind
}

func (s *stubPipeline) Process(ctx context.Context, job *domain.Job) (string, error) {
	s.mu.Lock()
	idx := s.calls
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	outcome := s.script[idx]
	s.calls++
	s.mu.Unlock()

	return outcome.resultRef, outcome.err
}

func (s *stubPipeline) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
