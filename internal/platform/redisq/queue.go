// Package redisq implements the job queue on Redis lists, giving the
// pipeline durable at-least-once delivery across process restarts.
//
// Layout: LPUSH onto the ready list; workers BRPOPLPUSH ready -> processing
// so a claim and its in-flight marker are one atomic step; Ack LREMs from
// processing. A hash records each claim's timestamp so the reaper can move
// entries older than the visibility timeout back to ready.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/imageworks-api/internal/task"
	"github.com/redis/go-redis/v9"
)

// dequeueSlot bounds each blocking pop so Dequeue stays responsive to
// context cancellation even on quiet queues.
const dequeueSlot = 1 * time.Second

// Queue is the Redis-backed task.JobQueue implementation.
type Queue struct {
	rdb    *redis.Client
	logger *slog.Logger

	readyKey      string
	processingKey string
	claimedAtKey  string
}

// NewQueue creates a Redis-backed queue. The prefix namespaces the three
// keys so multiple pipelines can share one Redis.
func NewQueue(rdb *redis.Client, prefix string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		rdb:           rdb,
		logger:        logger.With(slog.String("component", "redis_queue")),
		readyKey:      prefix + ":ready",
		processingKey: prefix + ":processing",
		claimedAtKey:  prefix + ":claimed_at",
	}
}

// Ensure Queue implements the task.JobQueue interface
var _ task.JobQueue = (*Queue)(nil)

// Enqueue implements task.JobQueue.Enqueue
func (q *Queue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	if err := q.rdb.LPush(ctx, q.readyKey, jobID.String()).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Dequeue implements task.JobQueue.Dequeue
// It loops over short blocking pops so shutdown via ctx is prompt.
func (q *Queue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	for {
		if err := ctx.Err(); err != nil {
			return uuid.Nil, err
		}

		raw, err := q.rdb.BRPopLPush(ctx, q.readyKey, q.processingKey, dequeueSlot).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Nothing arrived during this slot.
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return uuid.Nil, err
			}
			return uuid.Nil, fmt.Errorf("failed to dequeue: %w", err)
		}

		jobID, err := uuid.Parse(raw)
		if err != nil {
			// A garbage entry would otherwise wedge in processing forever.
			q.logger.Warn("dropping unparseable queue entry", "raw", raw)
			_ = q.rdb.LRem(ctx, q.processingKey, 1, raw).Err()
			continue
		}

		now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
		if err := q.rdb.HSet(ctx, q.claimedAtKey, raw, now).Err(); err != nil {
			// Without a claim timestamp the reaper cannot recover this
			// entry; push it back rather than risk losing it.
			_ = q.rdb.LRem(ctx, q.processingKey, 1, raw).Err()
			_ = q.rdb.LPush(ctx, q.readyKey, raw).Err()
			return uuid.Nil, fmt.Errorf("failed to record claim time: %w", err)
		}

		return jobID, nil
	}
}

// Ack implements task.JobQueue.Ack
func (q *Queue) Ack(ctx context.Context, jobID uuid.UUID) error {
	raw := jobID.String()

	if err := q.rdb.LRem(ctx, q.processingKey, 1, raw).Err(); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", jobID, err)
	}
	_ = q.rdb.HDel(ctx, q.claimedAtKey, raw).Err()
	return nil
}

// RequeueStale implements task.JobQueue.RequeueStale
// It walks the processing list and moves entries whose claim is older than
// the visibility timeout back to the ready list. Entries with no recorded
// claim time are treated as stale.
func (q *Queue) RequeueStale(
	ctx context.Context,
	olderThan time.Duration,
	max int64,
) (int64, error) {
	entries, err := q.rdb.LRange(ctx, q.processingKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan processing list: %w", err)
	}

	cutoff := time.Now().UTC().Add(-olderThan).UnixMilli()
	var moved int64

	for _, raw := range entries {
		if moved >= max {
			break
		}

		claimed, err := q.rdb.HGet(ctx, q.claimedAtKey, raw).Result()
		if err == nil {
			ms, parseErr := strconv.ParseInt(claimed, 10, 64)
			if parseErr == nil && ms > cutoff {
				// Still within its visibility window.
				continue
			}
		} else if !errors.Is(err, redis.Nil) {
			return moved, fmt.Errorf("failed to read claim time: %w", err)
		}

		// Remove-then-push: if we crash between the two steps the entry is
		// merely delayed until the owning worker's visibility window or a
		// later reap, never duplicated by this reaper.
		removed, err := q.rdb.LRem(ctx, q.processingKey, 1, raw).Result()
		if err != nil {
			return moved, fmt.Errorf("failed to remove stale entry: %w", err)
		}
		if removed == 0 {
			// Acked concurrently.
			continue
		}

		if err := q.rdb.LPush(ctx, q.readyKey, raw).Err(); err != nil {
			return moved, fmt.Errorf("failed to requeue stale entry: %w", err)
		}
		_ = q.rdb.HDel(ctx, q.claimedAtKey, raw).Err()

		q.logger.Info("requeued stale job", "job_id", raw)
		moved++
	}

	return moved, nil
}
