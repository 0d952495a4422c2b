package store

import (
	"context"
	"sync"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

type MetricStore interface {
	GetMetrics(ctx context.Context) (*domain.Metric, error)
	IncrementJobsCreated(ctx context.Context) error
	IncrementTransitions(ctx context.Context) error
	IncrementStaleConflicts(ctx context.Context) error
	IncrementHolds(ctx context.Context, ok bool) error
	IncrementCaptures(ctx context.Context, ok bool) error
	IncrementRefunds(ctx context.Context, ok bool) error
	IncrementReconciled(ctx context.Context) error
}

type InMemoryMetricStore struct {
	mu      sync.RWMutex
	metrics *domain.Metric
}

func NewInMemoryMetricStore() *InMemoryMetricStore {
	return &InMemoryMetricStore{
		metrics: domain.NewMetric(),
	}
}

// GetMetrics returns a snapshot; later increments do not show through it.
func (s *InMemoryMetricStore) GetMetrics(ctx context.Context) (*domain.Metric, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		s.mu.RLock()
		defer s.mu.RUnlock()
		snapshot := *s.metrics
		return &snapshot, nil
	}
}

func (s *InMemoryMetricStore) IncrementJobsCreated(ctx context.Context) error {
	return s.update(ctx, func(m *domain.Metric) { m.TotalJobsCreated++ })
}

func (s *InMemoryMetricStore) IncrementTransitions(ctx context.Context) error {
	return s.update(ctx, func(m *domain.Metric) { m.TransitionsApplied++ })
}

func (s *InMemoryMetricStore) IncrementStaleConflicts(ctx context.Context) error {
	return s.update(ctx, func(m *domain.Metric) { m.StaleConflicts++ })
}

func (s *InMemoryMetricStore) IncrementHolds(ctx context.Context, ok bool) error {
	return s.update(ctx, func(m *domain.Metric) {
		if ok {
			m.HoldsPlaced++
		} else {
			m.HoldsFailed++
		}
	})
}

func (s *InMemoryMetricStore) IncrementCaptures(ctx context.Context, ok bool) error {
	return s.update(ctx, func(m *domain.Metric) {
		if ok {
			m.CapturesSucceeded++
		} else {
			m.CapturesFailed++
		}
	})
}

func (s *InMemoryMetricStore) IncrementRefunds(ctx context.Context, ok bool) error {
	return s.update(ctx, func(m *domain.Metric) {
		if ok {
			m.RefundsSucceeded++
		} else {
			m.RefundsFailed++
		}
	})
}

func (s *InMemoryMetricStore) IncrementReconciled(ctx context.Context) error {
	return s.update(ctx, func(m *domain.Metric) { m.Reconciled++ })
}

func (s *InMemoryMetricStore) update(ctx context.Context, fn func(*domain.Metric)) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.mu.Lock()
		defer s.mu.Unlock()

		fn(s.metrics)
		return nil
	}
}
