package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

// CanAttachArtifact reports why actor may not attach a completion
// artifact to job right now, or nil if it may. Only the job's operator may
// attach one, and only while the job is in progress.
func CanAttachArtifact(job domain.Job, actor domain.Actor) error {
	if actor.Role != domain.RoleOperator || !actor.IsParty(job) {
		return domain.ErrUnauthorized
	}
	if job.Status != domain.StatusInProgress {
		return domain.ErrInvalidTransition
	}
	return nil
}

// AttachArtifact records the proof-of-completion reference.
func AttachArtifact(job domain.Job, ref string, actor domain.Actor, now time.Time) (domain.Job, []Effect, error) {
	fail := func(err error) error {
		return &domain.TransitionError{From: job.Status, To: job.Status, Role: actor.Role, Err: err}
	}

	if err := CanAttachArtifact(job, actor); err != nil {
		return job, nil, fail(err)
	}
	if ref == "" {
		return job, nil, fail(domain.ErrArtifactRequired)
	}

	next := job.Clone()
	next.CompletionArtifact = ref
	next.UpdatedAt = now.UTC()
	return next, []Effect{audit(domain.AuditArtifactAdded)}, nil
}

// CanReassign reports whether actor may hand job to another operator. It
// is an administrator action on a pending job; the client and the current
// operator cannot do it.
func CanReassign(job domain.Job, actor domain.Actor) error {
	if actor.Role != domain.RoleAdmin {
		return domain.ErrUnauthorized
	}
	if job.Status != domain.StatusPending {
		return domain.ErrInvalidTransition
	}
	return nil
}

// Reassign swaps the operator on a pending job. The operator's name is
// kept for display and may be empty.
func Reassign(job domain.Job, operator domain.Actor, actor domain.Actor, now time.Time) (domain.Job, []Effect, error) {
	fail := func(err error) error {
		return &domain.TransitionError{From: job.Status, To: job.Status, Role: actor.Role, Err: err}
	}

	if err := CanReassign(job, actor); err != nil {
		return job, nil, fail(err)
	}
	if operator.ID == "" || operator.ID == job.OperatorID {
		return job, nil, fail(domain.ErrInvalidTransition)
	}

	next := job.Clone()
	next.OperatorID = operator.ID
	next.OperatorName = operator.Name
	next.UpdatedAt = now.UTC()
	return next, []Effect{audit(domain.AuditJobReassigned)}, nil
}

// CanReprice reports whether actor may change the price of job. The
// client may do so until funds are held, while the job is still pending or
// accepted.
func CanReprice(job domain.Job, actor domain.Actor) error {
	if actor.Role != domain.RoleClient || !actor.IsParty(job) {
		return domain.ErrUnauthorized
	}
	if job.PaymentStatus != domain.PaymentPending {
		return domain.ErrInvalidTransition
	}
	if job.Status != domain.StatusPending && job.Status != domain.StatusAccepted {
		return domain.ErrInvalidTransition
	}
	return nil
}

func Reprice(job domain.Job, price decimal.Decimal, actor domain.Actor, now time.Time) (domain.Job, []Effect, error) {
	fail := func(err error) error {
		return &domain.TransitionError{From: job.Status, To: job.Status, Role: actor.Role, Err: err}
	}

	if err := CanReprice(job, actor); err != nil {
		return job, nil, fail(err)
	}
	if err := domain.ValidatePrice(price); err != nil {
		return job, nil, fail(err)
	}

	next := job.Clone()
	next.Price = price
	next.UpdatedAt = now.UTC()
	return next, []Effect{audit(domain.AuditJobRepriced)}, nil
}
