package domain

import "time"

// TransitionEvent is the change notification published after every
// committed change to a job.
type TransitionEvent struct {
	JobID         string        `json:"job_id"`
	Kind          AuditKind     `json:"kind"`
	From          JobStatus     `json:"from"`
	To            JobStatus     `json:"to"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Version       int64         `json:"version"`
	ActorID       string        `json:"actor_id,omitempty"`
	ActorRole     Role          `json:"actor_role,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

func NewTransitionEvent(kind AuditKind, from JobStatus, job Job, actor Actor, at time.Time) TransitionEvent {
	return TransitionEvent{
		JobID:         job.ID,
		Kind:          kind,
		From:          from,
		To:            job.Status,
		PaymentStatus: job.PaymentStatus,
		Version:       job.Version,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		OccurredAt:    at.UTC(),
	}
}
