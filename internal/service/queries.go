package service

import (
	"context"

	"github.com/karprabha/snowjob-backend/internal/domain"
	"github.com/karprabha/snowjob-backend/internal/lifecycle"
)

// Actions lists what an actor may do to a job right now. Clients render
// buttons from it, so an action that disappears shows as "no longer
// available" instead of failing on click. Terminal means no one can ever
// change the job's status again.
type Actions struct {
	Terminal       bool               `json:"terminal"`
	Targets        []domain.JobStatus `json:"targets"`
	ConfirmPayment bool               `json:"confirm_payment"`
	AttachArtifact bool               `json:"attach_artifact"`
	UpdatePrice    bool               `json:"update_price"`
	Reassign       bool               `json:"reassign"`
}

func (s *Service) AvailableActions(ctx context.Context, jobID string, actor domain.Actor) (Actions, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return Actions{}, err
	}
	now := s.clock.Now()

	actions := Actions{
		Terminal:       lifecycle.IsTerminal(job, now),
		Targets:        lifecycle.AvailableTargets(job, actor, now),
		ConfirmPayment: actor.Role == domain.RoleClient && actor.IsParty(job) && lifecycle.CanHold(job),
		AttachArtifact: lifecycle.CanAttachArtifact(job, actor) == nil,
		UpdatePrice:    lifecycle.CanReprice(job, actor) == nil,
		Reassign:       lifecycle.CanReassign(job, actor) == nil,
	}
	if actions.Targets == nil {
		actions.Targets = []domain.JobStatus{}
	}
	return actions, nil
}

// OperatorJob is a job with its derived queue label ("active", "queued"
// or empty).
type OperatorJob struct {
	domain.Job
	Queue string `json:"queue,omitempty"`
}

func (s *Service) ListOperatorJobs(ctx context.Context, operatorID string) ([]OperatorJob, error) {
	jobs, err := s.jobs.ListByOperator(ctx, operatorID)
	if err != nil {
		return nil, err
	}

	labels := lifecycle.QueueLabels(jobs)
	out := make([]OperatorJob, len(jobs))
	for i, job := range jobs {
		out[i] = OperatorJob{Job: job, Queue: labels[job.ID]}
	}
	return out, nil
}
