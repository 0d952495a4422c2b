package lifecycle

import (
	"time"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

// CanHold reports whether funds may be held for job: the job has been
// accepted, is not finished, and nothing is held yet.
func CanHold(job domain.Job) bool {
	switch job.Status {
	case domain.StatusAccepted, domain.StatusEnRoute, domain.StatusInProgress:
		return job.PaymentStatus == domain.PaymentPending
	}
	return false
}

// MarkHeld moves payment from pending to held.
func MarkHeld(job domain.Job, reference string, now time.Time) (domain.Job, error) {
	if !CanHold(job) || reference == "" {
		return job, domain.ErrInvalidTransition
	}
	next := job.Clone()
	next.PaymentStatus = domain.PaymentHeld
	next.EscrowReference = reference
	next.UpdatedAt = now.UTC()
	return next, nil
}

// MarkPaid moves payment from held to paid. The job must be completed.
func MarkPaid(job domain.Job, now time.Time) (domain.Job, error) {
	if job.Status != domain.StatusCompleted || job.PaymentStatus != domain.PaymentHeld {
		return job, domain.ErrInvalidTransition
	}
	next := job.Clone()
	next.PaymentStatus = domain.PaymentPaid
	next.UpdatedAt = now.UTC()
	return next, nil
}

// MarkRefunded moves payment from held to refunded. The job must be
// cancelled. The escrow reference is kept for the record.
func MarkRefunded(job domain.Job, now time.Time) (domain.Job, error) {
	if job.Status != domain.StatusCancelled || job.PaymentStatus != domain.PaymentHeld {
		return job, domain.ErrInvalidTransition
	}
	next := job.Clone()
	next.PaymentStatus = domain.PaymentRefunded
	next.UpdatedAt = now.UTC()
	return next, nil
}

// Consistent checks the cross-field invariants between status and
// payment status. Stores and tests use it as a last line of defence.
func Consistent(job domain.Job) bool {
	if (job.PaymentStatus == domain.PaymentPending) != (job.EscrowReference == "") {
		return false
	}
	switch job.PaymentStatus {
	case domain.PaymentPaid:
		return job.Status == domain.StatusCompleted
	case domain.PaymentRefunded:
		return job.Status == domain.StatusCancelled
	case domain.PaymentHeld:
		return job.Status != domain.StatusPending
	}
	return true
}
