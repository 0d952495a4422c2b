// Package audit writes the immutable conversation-thread record of every
// change to a job.
package audit

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

// Sink is an append-only store of audit entries. List returns a job's
// entries ordered by Seq, then CreatedAt.
type Sink interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	List(ctx context.Context, jobID string) ([]domain.AuditEntry, error)
}

type Messenger struct {
	sink Sink
}

func NewMessenger(sink Sink) *Messenger {
	return &Messenger{sink: sink}
}

// Record appends one entry describing kind for the committed job snapshot.
// The entry's Seq is the snapshot's version.
func (m *Messenger) Record(ctx context.Context, job domain.Job, kind domain.AuditKind, actor domain.Actor, at time.Time) (domain.AuditEntry, error) {
	id, err := gonanoid.New()
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("generate audit id: %w", err)
	}

	entry := domain.AuditEntry{
		ID:        id,
		JobID:     job.ID,
		Seq:       job.Version,
		Kind:      kind,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Message:   Compose(job, kind, actor),
		CreatedAt: at.UTC(),
	}

	if err := m.sink.Append(ctx, entry); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("append audit entry for job %s: %w", job.ID, err)
	}
	return entry, nil
}

func (m *Messenger) History(ctx context.Context, jobID string) ([]domain.AuditEntry, error) {
	return m.sink.List(ctx, jobID)
}

// Compose renders the fixed message for kind.
func Compose(job domain.Job, kind domain.AuditKind, actor domain.Actor) string {
	name := actor.DisplayName()

	switch kind {
	case domain.AuditJobCreated:
		return fmt.Sprintf("%s has booked this job", name)
	case domain.AuditJobAccepted:
		return fmt.Sprintf("%s has accepted this job", name)
	case domain.AuditJobEnRoute:
		return fmt.Sprintf("%s is on the way", name)
	case domain.AuditJobStarted:
		return fmt.Sprintf("%s has started the job", name)
	case domain.AuditJobSteppedBack:
		if job.Status == domain.StatusAccepted {
			return fmt.Sprintf("%s is no longer on the way", name)
		}
		return fmt.Sprintf("%s has paused the job", name)
	case domain.AuditJobCompleted:
		return fmt.Sprintf("%s has completed this job", name)
	case domain.AuditJobCancelled:
		return fmt.Sprintf("%s (%s) has cancelled this job", name, actor.Role)
	case domain.AuditJobReopened:
		return fmt.Sprintf("%s (%s) has reopened this job", name, actor.Role)
	case domain.AuditJobReassigned:
		return fmt.Sprintf("This job has been reassigned to %s", job.Operator().DisplayName())
	case domain.AuditJobRepriced:
		return fmt.Sprintf("The price has been updated to %s", job.Amount())
	case domain.AuditArtifactAdded:
		return fmt.Sprintf("%s attached a completion photo", name)
	case domain.AuditPaymentHeld:
		return fmt.Sprintf("Payment of %s has been held", job.Amount())
	case domain.AuditPaymentCaptured:
		return fmt.Sprintf("Payment of %s has been released to the operator", job.Amount())
	case domain.AuditPaymentRefunded:
		return fmt.Sprintf("Payment of %s has been refunded", job.Amount())
	}
	return string(kind)
}
