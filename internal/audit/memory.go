package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

type InMemorySink struct {
	mu      sync.RWMutex
	entries map[string][]domain.AuditEntry
	ids     map[string]struct{}
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{
		entries: make(map[string][]domain.AuditEntry),
		ids:     make(map[string]struct{}),
	}
}

func (s *InMemorySink) Append(ctx context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if _, ok := s.ids[entry.ID]; ok {
		return fmt.Errorf("audit entry %s already exists", entry.ID)
	}
	s.ids[entry.ID] = struct{}{}
	s.entries[entry.JobID] = append(s.entries[entry.JobID], entry)

	return nil
}

func (s *InMemorySink) List(ctx context.Context, jobID string) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	entries := make([]domain.AuditEntry, len(s.entries[jobID]))
	copy(entries, s.entries[jobID])
	sortEntries(entries)

	return entries, nil
}

func sortEntries(entries []domain.AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Seq != entries[j].Seq {
			return entries[i].Seq < entries[j].Seq
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
