package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/karprabha/snowjob-backend/internal/backoff"
	"github.com/karprabha/snowjob-backend/internal/logger"
	"github.com/karprabha/snowjob-backend/internal/store"
)

const maxAttempts = 10

var errQueueFull = errors.New("reconcile queue full")

// defaultBackoff starts at 50ms and grows by 1.5x up to 5s.
var defaultBackoff backoff.Strategy = backoff.NewExponential(50*time.Millisecond, 5*time.Second, 1.5)

// RecoverPayments performs startup recovery: every job whose status moved
// on while its funds stayed held (the process died between the transition
// and the capture or refund) is re-enqueued for reconciliation. It waits
// when the queue is full; no job is dropped.
func RecoverPayments(ctx context.Context, jobStore store.JobStore, jobQueue chan<- string, logger *logger.Logger) error {
	return recoverPayments(ctx, jobStore, jobQueue, logger, defaultBackoff)
}

func recoverPayments(ctx context.Context, jobStore store.JobStore, jobQueue chan<- string, logger *logger.Logger, strategy backoff.Strategy) error {
	logger.Info(ctx, "Starting recovery", "event", "recovery_started")

	jobs, err := jobStore.ListNeedingReconciliation(ctx)
	if err != nil {
		return fmt.Errorf("failed to list held jobs: %w", err)
	}

	reEnqueued := 0
	for _, job := range jobs {
		if err := reEnqueueWithBackpressure(ctx, job.ID, jobQueue, logger, strategy); err != nil {
			return fmt.Errorf("failed to re-enqueue job %s: %w", job.ID, err)
		}
		reEnqueued++
	}

	logger.Info(ctx, "Recovery completed", "event", "recovery_completed", "held_re_enqueued", reEnqueued)
	return nil
}

func reEnqueueWithBackpressure(ctx context.Context, jobID string, jobQueue chan<- string, logger *logger.Logger, strategy backoff.Strategy) error {
	attempt := 0
	err := backoff.Retry(ctx, maxAttempts, strategy, func(ctx context.Context) error {
		attempt++
		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		case jobQueue <- jobID:
			if attempt > 1 {
				logger.Info(ctx, "Job re-enqueued after backoff", "event", "job_re_enqueued", "job_id", jobID, "attempt", attempt)
			}
			return nil
		default:
			logger.Info(ctx, "Queue full during recovery, backing off",
				"event", "recovery_backpressure",
				"job_id", jobID,
				"attempt", attempt,
				"backoff_ms", strategy.Delay(attempt).Milliseconds())
			return errQueueFull
		}
	})
	if errors.Is(err, errQueueFull) {
		return fmt.Errorf("queue persistently full: %w", err)
	}
	return err
}
