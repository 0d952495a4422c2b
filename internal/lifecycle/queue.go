package lifecycle

import (
	"sort"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

const (
	LabelActive = "active"
	LabelQueued = "queued"
)

// QueueLabels derives the display label for each of an operator's open
// jobs. An operator can accept work while another job is underway; those
// accepted jobs are shown as queued in acceptance order. The label is a
// presentation detail and never feeds back into the state machine.
func QueueLabels(jobs []domain.Job) map[string]string {
	labels := make(map[string]string, len(jobs))

	busy := false
	for _, job := range jobs {
		if job.Status == domain.StatusEnRoute || job.Status == domain.StatusInProgress {
			labels[job.ID] = LabelActive
			busy = true
		}
	}
	if !busy {
		return labels
	}

	accepted := make([]domain.Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Status == domain.StatusAccepted {
			accepted = append(accepted, job)
		}
	}
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].UpdatedAt.Before(accepted[j].UpdatedAt)
	})
	for _, job := range accepted {
		labels[job.ID] = LabelQueued
	}

	return labels
}
