package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

var ErrJobExists = errors.New("job already exists")

// JobStore persists jobs with optimistic concurrency. SaveJob succeeds only
// when the stored version still equals expectedVersion, and returns the job
// as stored with its version bumped.
type JobStore interface {
	CreateJob(ctx context.Context, job domain.Job) (domain.Job, error)
	GetJob(ctx context.Context, id string) (domain.Job, error)
	SaveJob(ctx context.Context, job domain.Job, expectedVersion int64) (domain.Job, error)
	ListJobs(ctx context.Context) ([]domain.Job, error)
	ListByOperator(ctx context.Context, operatorID string) ([]domain.Job, error)
	ListNeedingReconciliation(ctx context.Context) ([]domain.Job, error)
}

type InMemoryJobStore struct {
	jobs map[string]domain.Job
	mu   sync.RWMutex
}

func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{
		jobs: make(map[string]domain.Job),
		mu:   sync.RWMutex{},
	}
}

func (s *InMemoryJobStore) CreateJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	default:
	}

	if _, ok := s.jobs[job.ID]; ok {
		return domain.Job{}, fmt.Errorf("create job %s: %w", job.ID, ErrJobExists)
	}

	stored := job.Clone()
	stored.Version = 1
	s.jobs[job.ID] = stored

	return stored.Clone(), nil
}

func (s *InMemoryJobStore) GetJob(ctx context.Context, id string) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	default:
	}

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	return job.Clone(), nil
}

func (s *InMemoryJobStore) SaveJob(ctx context.Context, job domain.Job, expectedVersion int64) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	default:
	}

	current, ok := s.jobs[job.ID]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", job.ID, domain.ErrJobNotFound)
	}
	if current.Version != expectedVersion {
		return domain.Job{}, fmt.Errorf("job %s at version %d, expected %d: %w", job.ID, current.Version, expectedVersion, domain.ErrStaleState)
	}

	stored := job.Clone()
	stored.Version = expectedVersion + 1
	s.jobs[job.ID] = stored

	return stored.Clone(), nil
}

func (s *InMemoryJobStore) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return s.list(ctx, func(domain.Job) bool { return true })
}

func (s *InMemoryJobStore) ListByOperator(ctx context.Context, operatorID string) ([]domain.Job, error) {
	return s.list(ctx, func(job domain.Job) bool { return job.OperatorID == operatorID })
}

func (s *InMemoryJobStore) ListNeedingReconciliation(ctx context.Context) ([]domain.Job, error) {
	return s.list(ctx, domain.Job.NeedsReconciliation)
}

func (s *InMemoryJobStore) list(ctx context.Context, keep func(domain.Job) bool) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	jobs := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if keep(job) {
			jobs = append(jobs, job.Clone())
		}
	}

	sortByCreation(jobs)
	return jobs, nil
}

func sortByCreation(jobs []domain.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
