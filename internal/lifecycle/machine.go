// Package lifecycle is the single authority on job status changes. Every
// function here is pure: it takes a job snapshot and returns the next
// snapshot plus the effects the caller must carry out. Nothing in this
// package performs I/O.
package lifecycle

import (
	"slices"
	"time"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

type EffectKind string

const (
	// EffectCapture asks the escrow coordinator to capture the held funds.
	EffectCapture EffectKind = "capture"
	// EffectRefund asks the escrow coordinator to refund the held funds.
	EffectRefund EffectKind = "refund"
	// EffectAudit asks the audit messenger to record the change.
	EffectAudit EffectKind = "audit"
)

type Effect struct {
	Kind  EffectKind
	Audit domain.AuditKind
}

func audit(kind domain.AuditKind) Effect {
	return Effect{Kind: EffectAudit, Audit: kind}
}

// Event is a request to move a job to Target. ExpectedStatus and
// ExpectedVersion are optional; when set they must match the job or the
// request fails with ErrStaleState.
type Event struct {
	Target          domain.JobStatus
	Actor           domain.Actor
	ExpectedStatus  domain.JobStatus
	ExpectedVersion int64
}

type edge struct {
	from domain.JobStatus
	to   domain.JobStatus
}

type rule struct {
	roles []domain.Role
	guard func(job domain.Job, now time.Time) error
}

var (
	operatorOnly = []domain.Role{domain.RoleOperator}
	eitherParty  = []domain.Role{domain.RoleClient, domain.RoleOperator}
)

var transitions = map[edge]rule{
	{domain.StatusPending, domain.StatusAccepted}:     {roles: operatorOnly},
	{domain.StatusPending, domain.StatusCancelled}:    {roles: eitherParty},
	{domain.StatusAccepted, domain.StatusEnRoute}:     {roles: operatorOnly},
	{domain.StatusAccepted, domain.StatusCancelled}:   {roles: eitherParty},
	{domain.StatusEnRoute, domain.StatusInProgress}:   {roles: operatorOnly},
	{domain.StatusEnRoute, domain.StatusAccepted}:     {roles: operatorOnly},
	{domain.StatusInProgress, domain.StatusCompleted}: {roles: operatorOnly, guard: completionGuard},
	{domain.StatusInProgress, domain.StatusEnRoute}:   {roles: operatorOnly},
	{domain.StatusInProgress, domain.StatusCancelled}: {roles: eitherParty},
	{domain.StatusCancelled, domain.StatusPending}:    {roles: eitherParty, guard: reopenGuard},
}

// HasEdge reports whether the transition table defines from -> to at all,
// regardless of actor or time.
func HasEdge(from, to domain.JobStatus) bool {
	_, ok := transitions[edge{from, to}]
	return ok
}

// IsTerminal reports whether the job can never change status again.
func IsTerminal(job domain.Job, now time.Time) bool {
	switch job.Status {
	case domain.StatusCompleted:
		return true
	case domain.StatusCancelled:
		return Remaining(job, now) == 0
	}
	return false
}

// Check validates ev against job without building the next snapshot.
func Check(job domain.Job, ev Event, now time.Time) error {
	_, err := check(job, ev, now)
	return err
}

// Observed returns ErrStaleState when job no longer matches the status or
// version the caller saw when it built ev. Unset expectations always match.
func Observed(job domain.Job, ev Event) error {
	if ev.ExpectedStatus != "" && ev.ExpectedStatus != job.Status {
		return domain.ErrStaleState
	}
	if ev.ExpectedVersion != 0 && ev.ExpectedVersion != job.Version {
		return domain.ErrStaleState
	}
	return nil
}

func check(job domain.Job, ev Event, now time.Time) (rule, error) {
	fail := func(err error) error {
		return &domain.TransitionError{From: job.Status, To: ev.Target, Role: ev.Actor.Role, Err: err}
	}

	if err := Observed(job, ev); err != nil {
		return rule{}, fail(err)
	}

	r, ok := transitions[edge{job.Status, ev.Target}]
	if !ok {
		return rule{}, fail(domain.ErrInvalidTransition)
	}
	if !slices.Contains(r.roles, ev.Actor.Role) || !ev.Actor.IsParty(job) {
		return rule{}, fail(domain.ErrUnauthorized)
	}
	if r.guard != nil {
		if err := r.guard(job, now); err != nil {
			return rule{}, fail(err)
		}
	}
	return r, nil
}

// Apply validates ev and returns the next snapshot and the effects the
// caller must execute. The returned job keeps the input Version; the
// store bumps it on save.
func Apply(job domain.Job, ev Event, now time.Time) (domain.Job, []Effect, error) {
	if _, err := check(job, ev, now); err != nil {
		return job, nil, err
	}

	now = now.UTC()
	next := job.Clone()
	next.Status = ev.Target
	next.UpdatedAt = now

	var effects []Effect

	switch ev.Target {
	case domain.StatusAccepted:
		if job.Status == domain.StatusEnRoute {
			effects = append(effects, audit(domain.AuditJobSteppedBack))
		} else {
			effects = append(effects, audit(domain.AuditJobAccepted))
		}

	case domain.StatusEnRoute:
		if job.Status == domain.StatusInProgress {
			effects = append(effects, audit(domain.AuditJobSteppedBack))
		} else {
			effects = append(effects, audit(domain.AuditJobEnRoute))
		}

	case domain.StatusInProgress:
		effects = append(effects, audit(domain.AuditJobStarted))

	case domain.StatusCompleted:
		next.CompletedAt = &now
		effects = append(effects, audit(domain.AuditJobCompleted))
		if next.PaymentStatus == domain.PaymentHeld {
			effects = append(effects, Effect{Kind: EffectCapture})
		}

	case domain.StatusCancelled:
		next.CancelledAt = &now
		next.CancelledBy = ev.Actor.ID
		effects = append(effects, audit(domain.AuditJobCancelled))
		if next.PaymentStatus == domain.PaymentHeld {
			effects = append(effects, Effect{Kind: EffectRefund})
		}

	case domain.StatusPending:
		// A reopened job starts a fresh attempt: nothing recorded for the
		// cancelled one carries over, including its completion photo.
		next.CancelledAt = nil
		next.CancelledBy = ""
		next.CompletionArtifact = ""
		next.ReopenCount++
		if next.PaymentStatus == domain.PaymentRefunded {
			next.PaymentStatus = domain.PaymentPending
			next.EscrowReference = ""
		}
		effects = append(effects, audit(domain.AuditJobReopened))
	}

	return next, effects, nil
}

// AvailableTargets lists the statuses actor may move job to right now.
func AvailableTargets(job domain.Job, actor domain.Actor, now time.Time) []domain.JobStatus {
	var targets []domain.JobStatus
	for _, status := range domain.Statuses {
		if Check(job, Event{Target: status, Actor: actor}, now) == nil {
			targets = append(targets, status)
		}
	}
	return targets
}

func completionGuard(job domain.Job, _ time.Time) error {
	if job.CompletionArtifact == "" {
		return domain.ErrArtifactRequired
	}
	switch job.PaymentStatus {
	case domain.PaymentHeld, domain.PaymentPending:
		return nil
	}
	return domain.ErrInvalidTransition
}

func reopenGuard(job domain.Job, now time.Time) error {
	if Remaining(job, now) == 0 {
		return domain.ErrInvalidTransition
	}
	// Funds still held means a refund is outstanding; the job cannot go
	// back to pending until reconciliation settles it.
	if job.PaymentStatus == domain.PaymentHeld {
		return domain.ErrInvalidTransition
	}
	return nil
}
