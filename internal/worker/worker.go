package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/karprabha/snowjob-backend/internal/domain"
	"github.com/karprabha/snowjob-backend/internal/logger"
)

// Reconciler settles the payment of one job. *service.Service implements it.
type Reconciler interface {
	ReconcilePayment(ctx context.Context, jobID string) (domain.Job, error)
}

// Worker pops job IDs off the reconcile queue and retries their capture or
// refund. A job that still fails stays held and comes back with the next
// sweep.
type Worker struct {
	id         int
	reconciler Reconciler
	logger     *logger.Logger
	jobQueue   <-chan string
	timeout    time.Duration
}

func NewWorker(id int, reconciler Reconciler, logger *logger.Logger, jobQueue <-chan string, timeout time.Duration) *Worker {
	return &Worker{
		id:         id,
		reconciler: reconciler,
		logger:     logger,
		jobQueue:   jobQueue,
		timeout:    timeout,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info(ctx, "Worker started", "event", "worker_started", "worker_id", w.id)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "Worker shutting down", "event", "worker_stopped", "worker_id", w.id)
			return
		case jobID, ok := <-w.jobQueue:
			if !ok {
				w.logger.Info(ctx, "Worker shutting down because job queue is closed", "event", "worker_stopped", "worker_id", w.id)
				return
			}
			w.processJob(ctx, jobID)
		}
	}
}

func (w *Worker) processJob(ctx context.Context, jobID string) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	job, err := w.reconciler.ReconcilePayment(ctx, jobID)
	switch {
	case err == nil:
		w.logger.Info(ctx, "Job reconciled", "event", "job_reconciled", "worker_id", w.id, "job_id", jobID, "payment_status", string(job.PaymentStatus))
	case errors.Is(err, domain.ErrJobNotFound):
		w.logger.Warn(ctx, "Reconcile skipped unknown job", "event", "job_not_found", "worker_id", w.id, "job_id", jobID)
	case errors.Is(err, context.Canceled):
		w.logger.Info(ctx, "Worker reconcile aborted due to shutdown", "event", "job_aborted", "worker_id", w.id, "job_id", jobID)
	default:
		w.logger.Error(ctx, "Worker error reconciling job", "event", "reconcile_error", "worker_id", w.id, "job_id", jobID, "error", err)
	}
}

// StartPool runs n workers on queue and returns once all of them stopped.
func StartPool(ctx context.Context, n int, reconciler Reconciler, log *logger.Logger, queue <-chan string, timeout time.Duration) {
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		w := NewWorker(i, reconciler, log, queue, timeout)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
	}
	wg.Wait()
}
