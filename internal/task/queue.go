package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by job queues
var (
	ErrQueueClosed = errors.New("job queue is closed")
	ErrQueueFull   = errors.New("job queue is full")
)

// JobQueue is the ordered, at-least-once delivery channel carrying job IDs
// from producers to workers. A reference may be delivered more than once;
// the job store's conditional transition is what makes redelivery safe.
// Version: 1.0
type JobQueue interface {
	// Enqueue appends a job reference. It must not block the producer on
	// worker availability.
	Enqueue(ctx context.Context, jobID uuid.UUID) error

	// Dequeue blocks until a job reference is available or ctx is done,
	// and returns exactly one reference per call. The reference stays
	// invisible to other consumers until acknowledged or until the
	// visibility timeout expires.
	Dequeue(ctx context.Context) (uuid.UUID, error)

	// Ack acknowledges a delivered reference, removing its in-flight marker.
	Ack(ctx context.Context, jobID uuid.UUID) error

	// RequeueStale makes unacknowledged references older than the
	// visibility timeout eligible for redelivery, bounding the damage of a
	// crashed worker. Returns how many were requeued.
	RequeueStale(ctx context.Context, olderThan time.Duration, max int64) (int64, error)
}

// MemoryQueue implements JobQueue with a buffered channel. It backs tests
// and single-process development runs; production uses the Redis queue.
type MemoryQueue struct {
	jobs   chan uuid.UUID
	logger *slog.Logger

	mu       sync.Mutex
	closed   bool
	inFlight map[uuid.UUID]time.Time
}

// NewMemoryQueue creates a new in-memory queue with the specified buffer size.
func NewMemoryQueue(size int, logger *slog.Logger) *MemoryQueue {
	if logger == nil {
		logger = slog.Default()
	}

	return &MemoryQueue{
		jobs:     make(chan uuid.UUID, size),
		logger:   logger,
		inFlight: make(map[uuid.UUID]time.Time),
	}
}

// Ensure MemoryQueue implements the JobQueue interface
var _ JobQueue = (*MemoryQueue)(nil)

// Enqueue implements JobQueue.Enqueue
// Returns an error if the queue is full or closed.
func (q *MemoryQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- jobID:
		q.logger.Debug("job enqueued",
			"job_id", jobID,
			"queue_len", len(q.jobs),
			"queue_cap", cap(q.jobs))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.jobs))
	}
}

// Dequeue implements JobQueue.Dequeue
func (q *MemoryQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	select {
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	case jobID, ok := <-q.jobs:
		if !ok {
			return uuid.Nil, ErrQueueClosed
		}
		q.mu.Lock()
		q.inFlight[jobID] = time.Now().UTC()
		q.mu.Unlock()
		return jobID, nil
	}
}

// Ack implements JobQueue.Ack
func (q *MemoryQueue) Ack(ctx context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, jobID)
	return nil
}

// RequeueStale implements JobQueue.RequeueStale
func (q *MemoryQueue) RequeueStale(
	ctx context.Context,
	olderThan time.Duration,
	max int64,
) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	q.mu.Lock()
	var stale []uuid.UUID
	for jobID, claimedAt := range q.inFlight {
		if claimedAt.Before(cutoff) {
			stale = append(stale, jobID)
			if int64(len(stale)) >= max {
				break
			}
		}
	}
	for _, jobID := range stale {
		delete(q.inFlight, jobID)
	}
	q.mu.Unlock()

	var moved int64
	for _, jobID := range stale {
		if err := q.Enqueue(ctx, jobID); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// Close closes the queue, preventing further submission.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
		q.logger.Info("job queue closed")
	}
}
