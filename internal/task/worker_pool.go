package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/imageworks-api/internal/domain"
	"github.com/phrazzld/imageworks-api/internal/store"
)

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// MaxAttempts is the retry ceiling: a job claimed this many times fails
	// permanently on its next retryable failure
	MaxAttempts int

	// VisibilityTimeout is how long a dequeued-but-unacknowledged job stays
	// invisible before the reaper makes it redeliverable
	VisibilityTimeout time.Duration

	// ReapInterval is how often the reaper scans for stale in-flight jobs.
	// If zero, defaults to 10 seconds
	ReapInterval time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:       4,
		MaxAttempts:       3,
		VisibilityTimeout: 30 * time.Second,
		ReapInterval:      10 * time.Second,
	}
}

// WorkerPool manages a pool of worker goroutines that pull job references
// from the queue, claim them through the job store's conditional transition,
// and run the pipeline for the job's kind. Workers are symmetric and
// stateless between jobs.
type WorkerPool struct {
	queue     JobQueue
	jobs      store.JobStore
	pipelines *Registry
	config    WorkerPoolConfig

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx and cancel coordinate cooperative shutdown: workers finish the
	// pipeline invocation in hand, stop pulling new work, and exit
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(
	queue JobQueue,
	jobs store.JobStore,
	pipelines *Registry,
	config WorkerPoolConfig,
	logger *slog.Logger,
) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "worker_pool"))

	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultWorkerPoolConfig().MaxAttempts
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = DefaultWorkerPoolConfig().VisibilityTimeout
	}
	if config.ReapInterval <= 0 {
		config.ReapInterval = DefaultWorkerPoolConfig().ReapInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:     queue,
		jobs:      jobs,
		pipelines: pipelines,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start recovers stranded work, then launches the workers and the reaper.
func (p *WorkerPool) Start() error {
	if err := p.Recover(); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.wg.Add(1)
	go p.reaper()

	p.logger.Info("worker pool started",
		"worker_count", p.config.WorkerCount,
		"max_attempts", p.config.MaxAttempts,
		"visibility_timeout", p.config.VisibilityTimeout)
	return nil
}

// Stop gracefully shuts down the pool. In-flight pipeline invocations run to
// completion; anything past the shutdown point stays running in the store and
// is recovered via the visibility timeout on the next start.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Recover re-enqueues queued jobs found in the store so a restart never
// strands accepted work. Jobs left running by a crash are not touched here:
// their queue entries sit in the in-flight list and come back through the
// reaper once the visibility timeout expires.
func (p *WorkerPool) Recover() error {
	ctx := context.Background()

	queued, err := p.jobs.FindByState(ctx, domain.JobStateQueued, 1000)
	if err != nil {
		return fmt.Errorf("failed to find queued jobs: %w", err)
	}

	p.logger.Info("recovering unfinished jobs", "queued_count", len(queued))

	for _, job := range queued {
		if err := p.queue.Enqueue(ctx, job.ID); err != nil {
			p.logger.Error("failed to requeue job during recovery",
				"job_id", job.ID,
				"error", err)
		}
	}

	return nil
}

// worker pulls job references until shutdown.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("starting worker")

	for {
		jobID, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrQueueClosed) {
				logger.Debug("stopping worker")
				return
			}
			logger.Error("failed to dequeue", "error", err)
			continue
		}

		p.processDelivery(jobID, logger)
	}
}

// processDelivery handles one queue delivery end to end. The delivery is
// acknowledged in every path that reached a decision; infrastructure
// failures re-enqueue explicitly so the reference is never lost.
func (p *WorkerPool) processDelivery(jobID uuid.UUID, logger *slog.Logger) {
	// The pool context only interrupts dequeues; a claimed job runs its
	// pipeline to completion even during shutdown.
	ctx := context.Background()
	logger = logger.With("job_id", jobID)

	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			logger.Warn("dropping delivery for unknown job")
			p.ack(ctx, jobID, logger)
			return
		}
		logger.Error("failed to load job, redelivering", "error", err)
		p.redeliver(ctx, jobID, logger)
		return
	}

	if job.IsTerminal() {
		// Idempotence on redelivery: terminal jobs are never reprocessed.
		logger.Debug("discarding redelivery of terminal job", "state", job.State)
		p.ack(ctx, jobID, logger)
		return
	}

	claimed, err := p.claim(ctx, job)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost the race, or the job reached a terminal state between
			// the read and the write. Silent no-op.
			logger.Debug("lost claim race, discarding delivery")
			p.ack(ctx, jobID, logger)
			return
		}
		logger.Error("failed to claim job, redelivering", "error", err)
		p.redeliver(ctx, jobID, logger)
		return
	}
	if claimed == nil {
		// Attempt ceiling reached before processing could start.
		p.ack(ctx, jobID, logger)
		return
	}

	logger.Info("processing job",
		"kind", claimed.Kind,
		"attempt", claimed.AttemptCount)

	resultRef, perr := p.run(ctx, claimed)
	if perr == nil {
		p.complete(ctx, claimed, resultRef, logger)
	} else {
		p.fail(ctx, claimed, perr, logger)
	}

	p.ack(ctx, jobID, logger)
}

// claim performs the conditional transition into running, using the attempt
// count as the compare-and-swap version so exactly one of two racing workers
// wins. A claim that would exceed the attempt ceiling instead forces the job
// to failed and returns nil.
func (p *WorkerPool) claim(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if job.AttemptCount >= p.config.MaxAttempts {
		// A crashed worker exhausted the attempts without recording an
		// outcome; this redelivery closes the job out.
		return nil, p.exhaust(ctx, job)
	}

	expected := job.AttemptCount
	claimed, err := p.jobs.Transition(ctx, job.ID, job.State, domain.JobStateRunning,
		store.TransitionPatch{
			IncrementAttempt: true,
			ExpectedAttempts: &expected,
		})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// run dispatches the claimed job to its pipeline.
func (p *WorkerPool) run(ctx context.Context, job *domain.Job) (string, error) {
	pipeline, err := p.pipelines.Get(job.Kind)
	if err != nil {
		// An unregistered kind can never process; fail it outright.
		return "", Terminal(err)
	}
	return pipeline.Process(ctx, job)
}

// complete records a successful pipeline result.
func (p *WorkerPool) complete(ctx context.Context, job *domain.Job, resultRef string, logger *slog.Logger) {
	_, err := p.jobs.Transition(ctx, job.ID, domain.JobStateRunning, domain.JobStateSucceeded,
		store.TransitionPatch{ResultRef: &resultRef})
	if err != nil {
		logger.Error("failed to record job success", "error", err)
		return
	}
	logger.Info("job succeeded", "result_ref", resultRef)
}

// fail routes a pipeline failure: terminal errors close the job immediately,
// retryable ones are redelivered until the attempt ceiling.
func (p *WorkerPool) fail(ctx context.Context, job *domain.Job, perr error, logger *slog.Logger) {
	if IsTerminal(perr) {
		msg := perr.Error()
		_, err := p.jobs.Transition(ctx, job.ID, domain.JobStateRunning, domain.JobStateFailed,
			store.TransitionPatch{ErrorMessage: &msg})
		if err != nil {
			logger.Error("failed to record terminal failure", "error", err)
			return
		}
		logger.Warn("job failed permanently", "error", perr, "attempt", job.AttemptCount)
		return
	}

	if job.AttemptCount >= p.config.MaxAttempts {
		msg := fmt.Sprintf("retry limit of %d reached: %v", p.config.MaxAttempts, perr)
		_, err := p.jobs.Transition(ctx, job.ID, domain.JobStateRunning, domain.JobStateFailed,
			store.TransitionPatch{ErrorMessage: &msg})
		if err != nil {
			logger.Error("failed to record retry exhaustion", "error", err)
			return
		}
		logger.Warn("job failed after exhausting retries",
			"error", perr,
			"attempts", job.AttemptCount)
		return
	}

	// The job stays running; the next delivery re-claims it through the
	// running -> running transition.
	if err := p.queue.Enqueue(ctx, job.ID); err != nil {
		logger.Error("failed to re-enqueue job for retry", "error", err)
		return
	}
	logger.Info("job requeued after retryable failure",
		"error", perr,
		"attempt", job.AttemptCount,
		"max_attempts", p.config.MaxAttempts)
}

// exhaust closes out a job whose attempts ran dry without an outcome.
func (p *WorkerPool) exhaust(ctx context.Context, job *domain.Job) error {
	msg := fmt.Sprintf("retry limit of %d reached", p.config.MaxAttempts)
	_, err := p.jobs.Transition(ctx, job.ID, job.State, domain.JobStateFailed,
		store.TransitionPatch{ErrorMessage: &msg})
	if err != nil {
		return err
	}
	p.logger.Warn("job failed after exhausting retries",
		"job_id", job.ID,
		"attempts", job.AttemptCount)
	return nil
}

// ack acknowledges a delivery; failures are logged and left to the reaper.
func (p *WorkerPool) ack(ctx context.Context, jobID uuid.UUID, logger *slog.Logger) {
	if err := p.queue.Ack(ctx, jobID); err != nil {
		logger.Error("failed to ack delivery", "error", err)
	}
}

// redeliver puts a reference back on the queue after an infrastructure
// failure, then acknowledges the original delivery.
func (p *WorkerPool) redeliver(ctx context.Context, jobID uuid.UUID, logger *slog.Logger) {
	if err := p.queue.Enqueue(ctx, jobID); err != nil {
		// Leave the delivery unacked; the visibility timeout recovers it.
		logger.Error("failed to re-enqueue delivery", "error", err)
		return
	}
	p.ack(ctx, jobID, logger)
}

// reaper periodically requeues in-flight deliveries whose visibility
// timeout expired, the sole recovery path for a crashed worker.
func (p *WorkerPool) reaper() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return

		case <-ticker.C:
			moved, err := p.queue.RequeueStale(context.Background(), p.config.VisibilityTimeout, 100)
			if err != nil {
				p.logger.Error("failed to requeue stale deliveries", "error", err)
				continue
			}
			if moved > 0 {
				p.logger.Info("requeued stale deliveries", "count", moved)
			}
		}
	}
}
