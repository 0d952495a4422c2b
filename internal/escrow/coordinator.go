package escrow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/karprabha/snowjob-backend/internal/clock"
	"github.com/karprabha/snowjob-backend/internal/domain"
	"github.com/karprabha/snowjob-backend/internal/lifecycle"
)

const DefaultTimeout = 10 * time.Second

// Coordinator translates lifecycle effects into gateway calls and folds
// the outcome back into the job's payment status. It returns updated
// snapshots; persisting them is the caller's job.
type Coordinator struct {
	gateway Gateway
	timeout time.Duration
	clock   clock.Clock
}

func NewCoordinator(gateway Gateway, timeout time.Duration, c clock.Clock) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if c == nil {
		c = clock.Real()
	}
	return &Coordinator{gateway: gateway, timeout: timeout, clock: c}
}

// HoldKey is the idempotency key for a hold placed on job at its current
// version. Retrying the same request after a timeout reuses the key, so
// the processor cannot hold the funds twice.
func HoldKey(job domain.Job) string {
	return job.ID + ":hold:" + strconv.FormatInt(job.Version, 10)
}

// RequestHold reserves the job price. A job that is already held is
// returned unchanged.
func (c *Coordinator) RequestHold(ctx context.Context, job domain.Job) (domain.Job, error) {
	if job.PaymentStatus == domain.PaymentHeld {
		return job, nil
	}
	if !lifecycle.CanHold(job) {
		return job, fmt.Errorf("hold on %s/%s job %s: %w", job.Status, job.PaymentStatus, job.ID, domain.ErrInvalidTransition)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ref, err := c.gateway.CreateHold(callCtx, HoldRequest{
		JobID:          job.ID,
		Amount:         job.Price,
		Currency:       job.Currency,
		IdempotencyKey: HoldKey(job),
	})
	if err != nil {
		return job, &domain.PaymentError{JobID: job.ID, Err: domain.ErrPaymentFailed, Cause: classify(callCtx, err)}
	}
	if ref == "" {
		return job, &domain.PaymentError{JobID: job.ID, Err: domain.ErrPaymentFailed, Cause: errors.New("gateway returned an empty reference")}
	}

	return lifecycle.MarkHeld(job, ref, c.clock.Now())
}

// RequestCapture releases held funds to the operator. It is never
// attempted before the job is completed, and is a no-op once paid.
func (c *Coordinator) RequestCapture(ctx context.Context, job domain.Job) (domain.Job, error) {
	if job.PaymentStatus == domain.PaymentPaid {
		return job, nil
	}
	if job.Status != domain.StatusCompleted || job.PaymentStatus != domain.PaymentHeld {
		return job, fmt.Errorf("capture on %s/%s job %s: %w", job.Status, job.PaymentStatus, job.ID, domain.ErrInvalidTransition)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.gateway.Capture(callCtx, job.EscrowReference); err != nil {
		return job, &domain.PaymentError{JobID: job.ID, Reference: job.EscrowReference, Err: domain.ErrCaptureFailed, Cause: classify(callCtx, err)}
	}

	return lifecycle.MarkPaid(job, c.clock.Now())
}

// RequestRefund returns held funds to the client of a cancelled job. It
// is a no-op once refunded.
func (c *Coordinator) RequestRefund(ctx context.Context, job domain.Job) (domain.Job, error) {
	if job.PaymentStatus == domain.PaymentRefunded {
		return job, nil
	}
	if job.Status != domain.StatusCancelled || job.PaymentStatus != domain.PaymentHeld {
		return job, fmt.Errorf("refund on %s/%s job %s: %w", job.Status, job.PaymentStatus, job.ID, domain.ErrInvalidTransition)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.gateway.Refund(callCtx, job.EscrowReference); err != nil {
		return job, &domain.PaymentError{JobID: job.ID, Reference: job.EscrowReference, Err: domain.ErrRefundFailed, Cause: classify(callCtx, err)}
	}

	return lifecycle.MarkRefunded(job, c.clock.Now())
}

// Release undoes a hold that was placed but never recorded, e.g. when the
// job changed underneath the hold request.
func (c *Coordinator) Release(ctx context.Context, reference string) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.gateway.Refund(callCtx, reference); err != nil {
		return &domain.PaymentError{Reference: reference, Err: domain.ErrRefundFailed, Cause: classify(callCtx, err)}
	}
	return nil
}

// classify turns a deadline hit into ErrGatewayTimeout. A timed-out call
// is never treated as a success.
func classify(callCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, err)
	}
	return err
}
