// Package service is the public contract of the job lifecycle: it loads a
// job, asks the state machine for the next snapshot, saves it under the
// expected version, then runs the resulting escrow, audit and notification
// effects.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/karprabha/snowjob-backend/internal/audit"
	"github.com/karprabha/snowjob-backend/internal/clock"
	"github.com/karprabha/snowjob-backend/internal/domain"
	"github.com/karprabha/snowjob-backend/internal/escrow"
	"github.com/karprabha/snowjob-backend/internal/events"
	"github.com/karprabha/snowjob-backend/internal/lifecycle"
	"github.com/karprabha/snowjob-backend/internal/logger"
	"github.com/karprabha/snowjob-backend/internal/report"
	"github.com/karprabha/snowjob-backend/internal/store"
	"github.com/karprabha/snowjob-backend/internal/tracing"
)

// SystemActor is recorded for changes the service makes on its own, such
// as a capture retried by reconciliation.
var SystemActor = domain.Actor{ID: "system", Name: "Snowjob"}

// Outcome is the result of a committed transition. PaymentErr is set when
// the transition was saved but the capture or refund it triggered failed;
// the job is then left for reconciliation.
type Outcome struct {
	Job        domain.Job
	PaymentErr error
}

type Service struct {
	jobs      store.JobStore
	escrow    *escrow.Coordinator
	messenger *audit.Messenger
	publisher events.Publisher
	metrics   store.MetricStore
	reporter  report.Reporter
	clock     clock.Clock
	log       *logger.Logger
	reconcile chan<- string
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithMetrics(m store.MetricStore) Option { return func(s *Service) { s.metrics = m } }

func WithReporter(r report.Reporter) Option { return func(s *Service) { s.reporter = r } }

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l *logger.Logger) Option { return func(s *Service) { s.log = l } }

// WithReconcileQueue makes failed captures and refunds go straight to the
// reconciliation workers instead of waiting for the next sweep.
func WithReconcileQueue(q chan<- string) Option { return func(s *Service) { s.reconcile = q } }

func New(jobs store.JobStore, coordinator *escrow.Coordinator, messenger *audit.Messenger, opts ...Option) *Service {
	s := &Service{
		jobs:      jobs,
		escrow:    coordinator,
		messenger: messenger,
		publisher: events.Multi{},
		metrics:   store.NewInMemoryMetricStore(),
		clock:     clock.Real(),
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reporter == nil {
		s.reporter = report.NewLogReporter(s.log)
	}
	return s
}

// Expectation pins a request to the job state the caller last observed.
// A job that has moved on fails the request with ErrStaleState.
type Expectation func(*lifecycle.Event)

// ExpectVersion expects the job to still be at version v. Zero expects
// nothing.
func ExpectVersion(v int64) Expectation {
	return func(ev *lifecycle.Event) { ev.ExpectedVersion = v }
}

// ExpectStatus expects the job to still be in status. Empty expects
// nothing.
func ExpectStatus(status domain.JobStatus) Expectation {
	return func(ev *lifecycle.Event) { ev.ExpectedStatus = status }
}

func newEvent(target domain.JobStatus, actor domain.Actor, expect []Expectation) lifecycle.Event {
	ev := lifecycle.Event{Target: target, Actor: actor}
	for _, e := range expect {
		e(&ev)
	}
	return ev
}

func (s *Service) Metrics() store.MetricStore {
	return s.metrics
}

func (s *Service) CreateJob(ctx context.Context, booking domain.Booking) (job domain.Job, err error) {
	ctx, span := tracing.Start(ctx, "create_job", attribute.String("client.id", booking.ClientID))
	defer func() { tracing.End(span, err) }()

	if booking.ClientID == "" || booking.OperatorID == "" {
		return domain.Job{}, domain.ErrInvalidBooking
	}
	if err := domain.ValidatePrice(booking.Price); err != nil {
		return domain.Job{}, err
	}

	job, err = s.jobs.CreateJob(ctx, *domain.NewJob(booking, s.clock.Now()))
	if err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}
	s.count(ctx, s.metrics.IncrementJobsCreated)

	client := domain.Actor{ID: job.ClientID, Role: domain.RoleClient}
	s.record(ctx, job, domain.AuditJobCreated, client, job.Status)
	s.log.Info(ctx, "Job created", "event", "job_created", "job_id", job.ID, "client_id", job.ClientID, "operator_id", job.OperatorID)

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// RequestTransition moves the job to target on behalf of actor. When the
// transition requires a capture or refund, the gateway call happens after
// the new status is saved; its failure is reported in Outcome.PaymentErr
// and does not undo the transition.
func (s *Service) RequestTransition(ctx context.Context, jobID string, target domain.JobStatus, actor domain.Actor, expect ...Expectation) (out Outcome, err error) {
	ctx, span := tracing.Start(ctx, "request_transition",
		attribute.String("job.id", jobID),
		attribute.String("job.target", string(target)),
		attribute.String("actor.role", string(actor.Role)),
	)
	defer func() { tracing.End(span, err) }()

	if err := validActor(actor); err != nil {
		return Outcome{}, err
	}

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return Outcome{}, err
	}

	next, effects, err := lifecycle.Apply(job, newEvent(target, actor, expect), s.clock.Now())
	if err != nil {
		s.rejected(ctx, job, target, actor, err)
		return Outcome{}, err
	}

	saved, err := s.save(ctx, next, job.Version)
	if err != nil {
		return Outcome{}, err
	}
	s.count(ctx, s.metrics.IncrementTransitions)
	s.log.Info(ctx, "Job transitioned",
		"event", "job_transitioned",
		"job_id", saved.ID,
		"from", string(job.Status),
		"to", string(saved.Status),
		"actor_id", actor.ID,
		"version", saved.Version)

	out = Outcome{Job: saved}
	for _, effect := range effects {
		switch effect.Kind {
		case lifecycle.EffectAudit:
			s.record(ctx, saved, effect.Audit, actor, job.Status)
		case lifecycle.EffectCapture, lifecycle.EffectRefund:
			out.Job, out.PaymentErr = s.settle(ctx, out.Job, actor, true)
		}
	}

	return out, nil
}

// ConfirmPayment places the escrow hold for an accepted job. The hold is
// requested first and saved second; if the job changed in between, the
// hold is released and ErrStaleState returned so the client can retry.
func (s *Service) ConfirmPayment(ctx context.Context, jobID string, actor domain.Actor, expect ...Expectation) (job domain.Job, err error) {
	ctx, span := tracing.Start(ctx, "confirm_payment", attribute.String("job.id", jobID))
	defer func() { tracing.End(span, err) }()

	if err := validActor(actor); err != nil {
		return domain.Job{}, err
	}

	current, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := lifecycle.Observed(current, newEvent(current.Status, actor, expect)); err != nil {
		terr := &domain.TransitionError{From: current.Status, To: current.Status, Role: actor.Role, Err: err}
		s.rejected(ctx, current, current.Status, actor, terr)
		return domain.Job{}, terr
	}
	if actor.Role != domain.RoleClient || !actor.IsParty(current) {
		s.rejected(ctx, current, current.Status, actor, domain.ErrUnauthorized)
		return domain.Job{}, &domain.TransitionError{From: current.Status, To: current.Status, Role: actor.Role, Err: domain.ErrUnauthorized}
	}
	if current.PaymentStatus == domain.PaymentHeld {
		// Confirming again is a no-op only while the job is still
		// underway; a finished job's held funds are awaiting settlement.
		switch current.Status {
		case domain.StatusCompleted, domain.StatusCancelled:
			terr := &domain.TransitionError{From: current.Status, To: current.Status, Role: actor.Role, Err: domain.ErrInvalidTransition}
			s.rejected(ctx, current, current.Status, actor, terr)
			return domain.Job{}, terr
		}
		return current, nil
	}

	held, err := s.escrow.RequestHold(ctx, current)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentFailed) {
			s.count(ctx, func(ctx context.Context) error { return s.metrics.IncrementHolds(ctx, false) })
			s.log.Warn(ctx, "Payment hold failed", "event", "hold_failed", "job_id", jobID, "error", err)
		}
		return domain.Job{}, err
	}

	saved, err := s.save(ctx, held, current.Version)
	if err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			s.release(ctx, held)
		}
		return domain.Job{}, err
	}
	s.count(ctx, func(ctx context.Context) error { return s.metrics.IncrementHolds(ctx, true) })
	s.record(ctx, saved, domain.AuditPaymentHeld, actor, saved.Status)
	s.log.Info(ctx, "Payment held", "event", "payment_held", "job_id", saved.ID, "reference", saved.EscrowReference)

	return saved, nil
}

func (s *Service) AttachCompletionArtifact(ctx context.Context, jobID, artifactRef string, actor domain.Actor) (domain.Job, error) {
	return s.mutate(ctx, "attach_artifact", jobID, actor, func(job domain.Job) (domain.Job, []lifecycle.Effect, error) {
		return lifecycle.AttachArtifact(job, artifactRef, actor, s.clock.Now())
	})
}

// ReassignOperator hands a pending job to operator. Its Name, when set, is
// shown in the job's thread.
func (s *Service) ReassignOperator(ctx context.Context, jobID string, operator domain.Actor, actor domain.Actor) (domain.Job, error) {
	operator.Role = domain.RoleOperator
	return s.mutate(ctx, "reassign_operator", jobID, actor, func(job domain.Job) (domain.Job, []lifecycle.Effect, error) {
		return lifecycle.Reassign(job, operator, actor, s.clock.Now())
	})
}

func (s *Service) UpdatePrice(ctx context.Context, jobID string, price decimal.Decimal, actor domain.Actor) (domain.Job, error) {
	return s.mutate(ctx, "update_price", jobID, actor, func(job domain.Job) (domain.Job, []lifecycle.Effect, error) {
		return lifecycle.Reprice(job, price, actor, s.clock.Now())
	})
}

// GetReopenWindow returns how long the job can still be reopened at now.
// Zero means it cannot.
func (s *Service) GetReopenWindow(ctx context.Context, jobID string, now time.Time) (time.Duration, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	return lifecycle.Remaining(job, now), nil
}

func (s *Service) ListAudit(ctx context.Context, jobID string) ([]domain.AuditEntry, error) {
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.messenger.History(ctx, jobID)
}

// ReconcilePayment retries the capture or refund of a job whose status
// moved on while its funds stayed held. Other jobs are returned as is. A
// retry that fails again is not queued; the payment sweeper finds the job
// on its next pass.
func (s *Service) ReconcilePayment(ctx context.Context, jobID string) (job domain.Job, err error) {
	ctx, span := tracing.Start(ctx, "reconcile_payment", attribute.String("job.id", jobID))
	defer func() { tracing.End(span, err) }()

	job, err = s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if !job.NeedsReconciliation() {
		return job, nil
	}

	settled, err := s.settle(ctx, job, SystemActor, false)
	if err != nil {
		return settled, err
	}
	s.count(ctx, s.metrics.IncrementReconciled)
	s.log.Info(ctx, "Payment reconciled", "event", "payment_reconciled", "job_id", jobID, "payment_status", string(settled.PaymentStatus))
	return settled, nil
}

// mutate runs a non-transition operation through the same save and audit
// path as RequestTransition.
func (s *Service) mutate(ctx context.Context, op, jobID string, actor domain.Actor, fn func(domain.Job) (domain.Job, []lifecycle.Effect, error)) (job domain.Job, err error) {
	ctx, span := tracing.Start(ctx, op, attribute.String("job.id", jobID))
	defer func() { tracing.End(span, err) }()

	if err := validActor(actor); err != nil {
		return domain.Job{}, err
	}

	current, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}

	next, effects, err := fn(current)
	if err != nil {
		s.rejected(ctx, current, current.Status, actor, err)
		return domain.Job{}, err
	}

	saved, err := s.save(ctx, next, current.Version)
	if err != nil {
		return domain.Job{}, err
	}

	for _, effect := range effects {
		if effect.Kind == lifecycle.EffectAudit {
			s.record(ctx, saved, effect.Audit, actor, current.Status)
		}
	}
	s.log.Info(ctx, "Job updated", "event", "job_"+op, "job_id", saved.ID, "actor_id", actor.ID, "version", saved.Version)
	return saved, nil
}

// settle captures or refunds held funds according to the job's status and
// saves the new payment status. On failure the job is returned unchanged,
// and queued for reconciliation when requeue is set.
func (s *Service) settle(ctx context.Context, job domain.Job, actor domain.Actor, requeue bool) (domain.Job, error) {
	var (
		updated domain.Job
		err     error
		kind    domain.AuditKind
		counter func(context.Context, bool) error
	)

	switch job.Status {
	case domain.StatusCompleted:
		updated, err = s.escrow.RequestCapture(ctx, job)
		kind, counter = domain.AuditPaymentCaptured, s.metrics.IncrementCaptures
	case domain.StatusCancelled:
		updated, err = s.escrow.RequestRefund(ctx, job)
		kind, counter = domain.AuditPaymentRefunded, s.metrics.IncrementRefunds
	default:
		return job, nil
	}

	if err != nil {
		s.count(ctx, func(ctx context.Context) error { return counter(ctx, false) })
		s.paymentFailed(ctx, job, err, requeue)
		return job, err
	}
	if updated.PaymentStatus == job.PaymentStatus {
		return job, nil
	}

	saved, err := s.save(ctx, updated, job.Version)
	if err != nil {
		// The processor already moved the money; reconciliation will
		// repeat the idempotent call and record the result.
		perr := &domain.PaymentError{JobID: job.ID, Reference: job.EscrowReference, Err: settleErr(kind), Cause: err}
		s.paymentFailed(ctx, job, perr, requeue)
		return job, perr
	}

	s.count(ctx, func(ctx context.Context) error { return counter(ctx, true) })
	s.record(ctx, saved, kind, actor, saved.Status)
	return saved, nil
}

func settleErr(kind domain.AuditKind) error {
	if kind == domain.AuditPaymentCaptured {
		return domain.ErrCaptureFailed
	}
	return domain.ErrRefundFailed
}

// save writes job under expectedVersion. A snapshot whose status and
// payment fields disagree is refused before it reaches the store.
func (s *Service) save(ctx context.Context, job domain.Job, expectedVersion int64) (domain.Job, error) {
	if !lifecycle.Consistent(job) {
		err := fmt.Errorf("job %s in %s with payment %s and reference %q: %w",
			job.ID, job.Status, job.PaymentStatus, job.EscrowReference, domain.ErrInvalidTransition)
		s.log.Error(ctx, "Refusing inconsistent job", "event", "inconsistent_job", "job_id", job.ID, "error", err)
		s.reporter.Report(ctx, err, map[string]string{"job_id": job.ID, "op": "save"})
		return domain.Job{}, err
	}

	saved, err := s.jobs.SaveJob(ctx, job, expectedVersion)
	if err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			s.count(ctx, s.metrics.IncrementStaleConflicts)
			s.log.Warn(ctx, "Stale job state", "event", "stale_state", "job_id", job.ID, "expected_version", expectedVersion)
		}
		return domain.Job{}, err
	}
	return saved, nil
}

// release refunds a hold that was placed but lost the race to be saved.
// A concurrent confirmation reuses the same idempotency key and therefore
// the same hold; if that one was saved, the hold stays.
func (s *Service) release(ctx context.Context, held domain.Job) {
	if current, err := s.jobs.GetJob(ctx, held.ID); err == nil && current.EscrowReference == held.EscrowReference {
		return
	}
	if err := s.escrow.Release(ctx, held.EscrowReference); err != nil {
		s.log.Error(ctx, "Releasing orphaned hold failed", "event", "hold_release_failed", "job_id", held.ID, "reference", held.EscrowReference, "error", err)
		s.reporter.Report(ctx, err, map[string]string{"job_id": held.ID, "reference": held.EscrowReference, "op": "release"})
		return
	}
	s.log.Info(ctx, "Released orphaned hold", "event", "hold_released", "job_id", held.ID, "reference", held.EscrowReference)
}

// record writes the audit entry for a committed change and publishes the
// matching notification. Neither failure undoes the change.
func (s *Service) record(ctx context.Context, job domain.Job, kind domain.AuditKind, actor domain.Actor, from domain.JobStatus) {
	now := s.clock.Now()

	if _, err := s.messenger.Record(ctx, job, kind, actor, now); err != nil {
		s.log.Error(ctx, "Audit write failed", "event", "audit_failed", "job_id", job.ID, "kind", string(kind), "error", err)
		s.reporter.Report(ctx, err, map[string]string{"job_id": job.ID, "kind": string(kind), "op": "audit"})
	}

	if err := s.publisher.Publish(ctx, domain.NewTransitionEvent(kind, from, job, actor, now)); err != nil {
		s.log.Error(ctx, "Publishing change failed", "event", "publish_failed", "job_id", job.ID, "kind", string(kind), "error", err)
	}
}

func (s *Service) paymentFailed(ctx context.Context, job domain.Job, err error, requeue bool) {
	s.log.Error(ctx, "Payment settlement failed",
		"event", "settlement_failed",
		"job_id", job.ID,
		"status", string(job.Status),
		"reference", job.EscrowReference,
		"error", err)
	s.reporter.Report(ctx, err, map[string]string{
		"job_id":    job.ID,
		"status":    string(job.Status),
		"reference": job.EscrowReference,
		"op":        "settle",
	})

	if !requeue || s.reconcile == nil {
		return
	}
	select {
	case s.reconcile <- job.ID:
	default:
		s.log.Warn(ctx, "Reconcile queue full, leaving job to the sweeper", "event", "queue_full", "job_id", job.ID)
	}
}

func (s *Service) rejected(ctx context.Context, job domain.Job, target domain.JobStatus, actor domain.Actor, err error) {
	kv := []any{
		"job_id", job.ID,
		"from", string(job.Status),
		"to", string(target),
		"actor_id", actor.ID,
		"actor_role", string(actor.Role),
		"error", err,
	}
	if errors.Is(err, domain.ErrStaleState) {
		s.count(ctx, s.metrics.IncrementStaleConflicts)
	}
	if errors.Is(err, domain.ErrUnauthorized) {
		s.log.Warn(ctx, "Unauthorized job change", append([]any{"event", "unauthorized"}, kv...)...)
		return
	}
	s.log.Info(ctx, "Job change rejected", append([]any{"event", "transition_rejected"}, kv...)...)
}

func (s *Service) count(ctx context.Context, inc func(context.Context) error) {
	if err := inc(ctx); err != nil {
		s.log.Error(ctx, "Metric update failed", "event", "metric_error", "error", err)
	}
}

func validActor(actor domain.Actor) error {
	if actor.ID == "" || !actor.Role.Valid() {
		return fmt.Errorf("actor %q with role %q: %w", actor.ID, actor.Role, domain.ErrUnauthorized)
	}
	return nil
}
