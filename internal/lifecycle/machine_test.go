package lifecycle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

var (
	t0       = time.Date(2026, 1, 12, 6, 0, 0, 0, time.UTC)
	client   = domain.Actor{ID: "client-1", Role: domain.RoleClient, Name: "Dana"}
	operator = domain.Actor{ID: "operator-1", Role: domain.RoleOperator, Name: "Sam"}
	admin    = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
)

// jobIn returns a job in status that satisfies every guard on its
// outbound edges at t0.
func jobIn(status domain.JobStatus) domain.Job {
	job := domain.Job{
		ID:            "job-1",
		ClientID:      client.ID,
		OperatorID:    operator.ID,
		Status:        status,
		PaymentStatus: domain.PaymentPending,
		Price:         decimal.RequireFromString("60"),
		Currency:      "USD",
		Version:       3,
	}
	switch status {
	case domain.StatusInProgress:
		job.CompletionArtifact = "photos/after.jpg"
	case domain.StatusCancelled:
		at := t0.Add(-time.Minute)
		job.CancelledAt = &at
		job.CancelledBy = client.ID
	}
	return job
}

func TestApplyRejectsUndefinedEdges(t *testing.T) {
	for _, from := range domain.Statuses {
		for _, to := range domain.Statuses {
			if HasEdge(from, to) {
				continue
			}
			for _, actor := range []domain.Actor{client, operator, admin} {
				job := jobIn(from)
				got, effects, err := Apply(job, Event{Target: to, Actor: actor}, t0)

				assert.ErrorIs(t, err, domain.ErrInvalidTransition, "%s -> %s by %s", from, to, actor.Role)
				assert.Equal(t, job, got)
				assert.Nil(t, effects)
			}
		}
	}
}

func TestApplyEnforcesRoles(t *testing.T) {
	stranger := domain.Actor{ID: "operator-2", Role: domain.RoleOperator}
	otherClient := domain.Actor{ID: "client-2", Role: domain.RoleClient}

	for e, r := range transitions {
		for _, actor := range []domain.Actor{client, operator, admin, stranger, otherClient} {
			allowed := false
			for _, role := range r.roles {
				if role == actor.Role {
					allowed = true
				}
			}
			if allowed && actor.IsParty(jobIn(e.from)) {
				continue
			}

			job := jobIn(e.from)
			got, _, err := Apply(job, Event{Target: e.to, Actor: actor}, t0)

			assert.ErrorIs(t, err, domain.ErrUnauthorized, "%s -> %s by %s", e.from, e.to, actor.ID)
			assert.Equal(t, job, got)
		}
	}
}

func TestApplyValidEdges(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.JobStatus
		to      domain.JobStatus
		actor   domain.Actor
		payment domain.PaymentStatus
		effects []Effect
	}{
		{"operator accepts", domain.StatusPending, domain.StatusAccepted, operator, domain.PaymentPending,
			[]Effect{audit(domain.AuditJobAccepted)}},
		{"client cancels pending", domain.StatusPending, domain.StatusCancelled, client, domain.PaymentPending,
			[]Effect{audit(domain.AuditJobCancelled)}},
		{"operator heads out", domain.StatusAccepted, domain.StatusEnRoute, operator, domain.PaymentHeld,
			[]Effect{audit(domain.AuditJobEnRoute)}},
		{"operator cancels held", domain.StatusAccepted, domain.StatusCancelled, operator, domain.PaymentHeld,
			[]Effect{audit(domain.AuditJobCancelled), {Kind: EffectRefund}}},
		{"operator starts", domain.StatusEnRoute, domain.StatusInProgress, operator, domain.PaymentHeld,
			[]Effect{audit(domain.AuditJobStarted)}},
		{"operator goes back to accepted", domain.StatusEnRoute, domain.StatusAccepted, operator, domain.PaymentPending,
			[]Effect{audit(domain.AuditJobSteppedBack)}},
		{"operator completes held", domain.StatusInProgress, domain.StatusCompleted, operator, domain.PaymentHeld,
			[]Effect{audit(domain.AuditJobCompleted), {Kind: EffectCapture}}},
		{"operator completes cash", domain.StatusInProgress, domain.StatusCompleted, operator, domain.PaymentPending,
			[]Effect{audit(domain.AuditJobCompleted)}},
		{"operator goes back to en-route", domain.StatusInProgress, domain.StatusEnRoute, operator, domain.PaymentHeld,
			[]Effect{audit(domain.AuditJobSteppedBack)}},
		{"client cancels in progress", domain.StatusInProgress, domain.StatusCancelled, client, domain.PaymentHeld,
			[]Effect{audit(domain.AuditJobCancelled), {Kind: EffectRefund}}},
		{"client reopens", domain.StatusCancelled, domain.StatusPending, client, domain.PaymentPending,
			[]Effect{audit(domain.AuditJobReopened)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := jobIn(tt.from)
			job.PaymentStatus = tt.payment
			if tt.payment != domain.PaymentPending {
				job.EscrowReference = "hold_1"
			}

			got, effects, err := Apply(job, Event{Target: tt.to, Actor: tt.actor}, t0)

			require.NoError(t, err)
			assert.Equal(t, tt.to, got.Status)
			assert.Equal(t, tt.effects, effects)
			assert.Equal(t, job.Version, got.Version, "the store owns the version")
			assert.Equal(t, t0, got.UpdatedAt)
			assert.Equal(t, tt.from, job.Status, "input snapshot untouched")
		})
	}
}

func TestCancelRecordsWhoAndWhen(t *testing.T) {
	job := jobIn(domain.StatusAccepted)

	got, _, err := Apply(job, Event{Target: domain.StatusCancelled, Actor: operator}, t0)

	require.NoError(t, err)
	require.NotNil(t, got.CancelledAt)
	assert.Equal(t, t0, *got.CancelledAt)
	assert.Equal(t, operator.ID, got.CancelledBy)
	assert.Equal(t, ReopenWindow, Remaining(got, t0))
}

func TestCompletionRequiresArtifact(t *testing.T) {
	job := jobIn(domain.StatusInProgress)
	job.CompletionArtifact = ""

	_, _, err := Apply(job, Event{Target: domain.StatusCompleted, Actor: operator}, t0)
	assert.ErrorIs(t, err, domain.ErrArtifactRequired)

	job, _, err = AttachArtifact(job, "photos/after.jpg", operator, t0)
	require.NoError(t, err)

	got, _, err := Apply(job, Event{Target: domain.StatusCompleted, Actor: operator}, t0)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, t0, *got.CompletedAt)
}

func TestReopenBoundary(t *testing.T) {
	job := jobIn(domain.StatusPending)
	job, _, err := Apply(job, Event{Target: domain.StatusCancelled, Actor: client}, t0)
	require.NoError(t, err)

	justBefore := t0.Add(ReopenWindow - time.Nanosecond)
	assert.Equal(t, time.Nanosecond, Remaining(job, justBefore))
	assert.NoError(t, Check(job, Event{Target: domain.StatusPending, Actor: client}, justBefore))

	atDeadline := t0.Add(ReopenWindow)
	assert.Zero(t, Remaining(job, atDeadline))
	assert.True(t, IsTerminal(job, atDeadline))

	got, _, err := Apply(job, Event{Target: domain.StatusPending, Actor: client}, atDeadline)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestReopenRoundTrip(t *testing.T) {
	job := jobIn(domain.StatusPending)

	cancelled, _, err := Apply(job, Event{Target: domain.StatusCancelled, Actor: client}, t0)
	require.NoError(t, err)

	reopenAt := t0.Add(2 * time.Minute)
	reopened, _, err := Apply(cancelled, Event{Target: domain.StatusPending, Actor: operator}, reopenAt)
	require.NoError(t, err)
	assert.Nil(t, reopened.CancelledAt)
	assert.Empty(t, reopened.CancelledBy)
	assert.Equal(t, 1, reopened.ReopenCount)
	assert.Zero(t, Remaining(reopened, reopenAt))

	recancelAt := reopenAt.Add(time.Second)
	again, _, err := Apply(reopened, Event{Target: domain.StatusCancelled, Actor: operator}, recancelAt)
	require.NoError(t, err)
	require.NotNil(t, again.CancelledAt)
	assert.Equal(t, recancelAt, *again.CancelledAt)
	assert.Equal(t, operator.ID, again.CancelledBy)
	assert.Equal(t, ReopenWindow, Remaining(again, recancelAt))

	// Everything not related to cancellation is carried through untouched.
	assert.Equal(t, job.ClientID, again.ClientID)
	assert.Equal(t, job.OperatorID, again.OperatorID)
	assert.True(t, job.Price.Equal(again.Price))
	assert.Equal(t, job.PaymentStatus, again.PaymentStatus)
}

func TestReopenWithOutstandingRefund(t *testing.T) {
	job := jobIn(domain.StatusCancelled)
	job.PaymentStatus = domain.PaymentHeld
	job.EscrowReference = "hold_1"

	_, _, err := Apply(job, Event{Target: domain.StatusPending, Actor: client}, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	job.PaymentStatus = domain.PaymentRefunded
	got, _, err := Apply(job, Event{Target: domain.StatusPending, Actor: client}, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, got.PaymentStatus)
	assert.Empty(t, got.EscrowReference)
	assert.True(t, Consistent(got))
}

func TestReopenNeedsANewCompletionPhoto(t *testing.T) {
	job := jobIn(domain.StatusInProgress)
	job.CompletionArtifact = ""
	job, _, err := AttachArtifact(job, "photos/old-attempt.jpg", operator, t0)
	require.NoError(t, err)

	steps := []struct {
		target domain.JobStatus
		actor  domain.Actor
	}{
		{domain.StatusCancelled, client},
		{domain.StatusPending, client},
		{domain.StatusAccepted, operator},
		{domain.StatusEnRoute, operator},
		{domain.StatusInProgress, operator},
	}
	for _, step := range steps {
		job, _, err = Apply(job, Event{Target: step.target, Actor: step.actor}, t0)
		require.NoError(t, err, step.target)
		if step.target == domain.StatusPending {
			assert.Empty(t, job.CompletionArtifact, "photo from the cancelled attempt")
		}
	}

	_, _, err = Apply(job, Event{Target: domain.StatusCompleted, Actor: operator}, t0)
	assert.ErrorIs(t, err, domain.ErrArtifactRequired)

	job, _, err = AttachArtifact(job, "photos/new-attempt.jpg", operator, t0)
	require.NoError(t, err)
	_, _, err = Apply(job, Event{Target: domain.StatusCompleted, Actor: operator}, t0)
	assert.NoError(t, err)
}

func TestObserved(t *testing.T) {
	job := jobIn(domain.StatusAccepted)

	assert.NoError(t, Observed(job, Event{}))
	assert.NoError(t, Observed(job, Event{ExpectedStatus: domain.StatusAccepted, ExpectedVersion: job.Version}))
	assert.ErrorIs(t, Observed(job, Event{ExpectedStatus: domain.StatusPending}), domain.ErrStaleState)
	assert.ErrorIs(t, Observed(job, Event{ExpectedVersion: job.Version + 1}), domain.ErrStaleState)
}

func TestApplyStaleExpectations(t *testing.T) {
	job := jobIn(domain.StatusAccepted)

	_, _, err := Apply(job, Event{Target: domain.StatusEnRoute, Actor: operator, ExpectedStatus: domain.StatusPending}, t0)
	assert.ErrorIs(t, err, domain.ErrStaleState)

	_, _, err = Apply(job, Event{Target: domain.StatusEnRoute, Actor: operator, ExpectedVersion: job.Version - 1}, t0)
	assert.ErrorIs(t, err, domain.ErrStaleState)

	_, _, err = Apply(job, Event{Target: domain.StatusEnRoute, Actor: operator, ExpectedStatus: domain.StatusAccepted, ExpectedVersion: job.Version}, t0)
	assert.NoError(t, err)
}

func TestCompletedIsTerminal(t *testing.T) {
	job := jobIn(domain.StatusCompleted)

	assert.True(t, IsTerminal(job, t0))
	assert.Empty(t, AvailableTargets(job, operator, t0))
	assert.Empty(t, AvailableTargets(job, client, t0))
}

func TestAvailableTargets(t *testing.T) {
	assert.Equal(t,
		[]domain.JobStatus{domain.StatusAccepted, domain.StatusCancelled},
		AvailableTargets(jobIn(domain.StatusPending), operator, t0))
	assert.Equal(t,
		[]domain.JobStatus{domain.StatusCancelled},
		AvailableTargets(jobIn(domain.StatusPending), client, t0))
	assert.Equal(t,
		[]domain.JobStatus{domain.StatusEnRoute, domain.StatusCompleted, domain.StatusCancelled},
		AvailableTargets(jobIn(domain.StatusInProgress), operator, t0))
	assert.Empty(t, AvailableTargets(jobIn(domain.StatusPending), admin, t0))
}
