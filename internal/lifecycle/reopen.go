package lifecycle

import (
	"time"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

// ReopenWindow is how long a cancelled job may be returned to pending.
const ReopenWindow = 5 * time.Minute

// ReopenDeadline returns the instant the reopen window closes. ok is false
// when the job is not cancelled.
func ReopenDeadline(job domain.Job) (deadline time.Time, ok bool) {
	if job.Status != domain.StatusCancelled || job.CancelledAt == nil {
		return time.Time{}, false
	}
	return job.CancelledAt.Add(ReopenWindow), true
}

// Remaining is max(0, ReopenWindow - (now - cancelledAt)). It is zero for
// jobs that are not cancelled and exactly zero at the deadline.
func Remaining(job domain.Job, now time.Time) time.Duration {
	deadline, ok := ReopenDeadline(job)
	if !ok {
		return 0
	}
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	if remaining > ReopenWindow {
		return ReopenWindow
	}
	return remaining
}
