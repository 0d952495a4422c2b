package store

import (
	"context"
	"time"

	"github.com/karprabha/snowjob-backend/internal/logger"
)

type Sweeper interface {
	Run(ctx context.Context)
}

// PaymentSweeper periodically finds jobs whose status moved on while their
// funds are still held and offers their IDs to the reconciliation queue.
// A full queue drops the ID; the next tick offers it again.
type PaymentSweeper struct {
	jobStore JobStore
	logger   *logger.Logger
	interval time.Duration
	jobQueue chan<- string
}

func NewPaymentSweeper(jobStore JobStore, logger *logger.Logger, interval time.Duration, jobQueue chan<- string) *PaymentSweeper {
	return &PaymentSweeper{
		jobStore: jobStore,
		logger:   logger,
		interval: interval,
		jobQueue: jobQueue,
	}
}

func (s *PaymentSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Sweeper: context canceled, shutting down.", "event", "sweeper_stopped")
			return
		case <-ticker.C:
			if !s.Sweep(ctx) {
				return
			}
		}
	}
}

// Sweep runs one pass. It reports false once ctx is done.
func (s *PaymentSweeper) Sweep(ctx context.Context) bool {
	jobs, err := s.jobStore.ListNeedingReconciliation(ctx)
	if err != nil {
		s.logger.Error(ctx, "Sweeper: error listing held jobs", "event", "sweeper_error", "error", err, "retrying_in", s.interval.String())
		return ctx.Err() == nil
	}

	if len(jobs) > 0 {
		s.logger.Info(ctx, "Sweeper: fetched jobs needing reconciliation", "event", "sweeper_fetched", "count", len(jobs))
	}

	for _, job := range jobs {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Sweeper: context canceled, shutting down.", "event", "sweeper_stopped")
			return false
		case s.jobQueue <- job.ID:
			s.logger.Debug(ctx, "Sweeper: job added to queue", "event", "job_enqueued", "job_id", job.ID)
		default:
			s.logger.Warn(ctx, "Sweeper: job queue is full, job not added", "event", "queue_full", "job_id", job.ID)
		}
	}
	return true
}
