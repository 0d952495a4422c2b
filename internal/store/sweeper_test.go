package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karprabha/snowjob-backend/internal/domain"
	"github.com/karprabha/snowjob-backend/internal/logger"
)

func seedHeld(t *testing.T, s *InMemoryJobStore, n int, status domain.JobStatus) domain.Job {
	t.Helper()
	ctx := context.Background()
	job, err := s.CreateJob(ctx, newTestJob(n, "op-1"))
	require.NoError(t, err)

	job.Status = status
	job.PaymentStatus = domain.PaymentHeld
	job.EscrowReference = "hold_x"
	job, err = s.SaveJob(ctx, job, job.Version)
	require.NoError(t, err)
	return job
}

func TestSweepEnqueuesHeldJobs(t *testing.T) {
	s := NewInMemoryJobStore()
	completed := seedHeld(t, s, 1, domain.StatusCompleted)
	cancelled := seedHeld(t, s, 2, domain.StatusCancelled)
	seedHeld(t, s, 3, domain.StatusInProgress)

	queue := make(chan string, 10)
	sweeper := NewPaymentSweeper(s, logger.Discard(), time.Minute, queue)

	assert.True(t, sweeper.Sweep(context.Background()))
	close(queue)

	var got []string
	for id := range queue {
		got = append(got, id)
	}
	assert.Equal(t, []string{completed.ID, cancelled.ID}, got)
}

func TestSweepDropsWhenQueueFull(t *testing.T) {
	s := NewInMemoryJobStore()
	first := seedHeld(t, s, 1, domain.StatusCompleted)
	seedHeld(t, s, 2, domain.StatusCompleted)

	queue := make(chan string, 1)
	sweeper := NewPaymentSweeper(s, logger.Discard(), time.Minute, queue)

	assert.True(t, sweeper.Sweep(context.Background()))
	assert.Len(t, queue, 1)
	assert.Equal(t, first.ID, <-queue)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	s := NewInMemoryJobStore()
	seedHeld(t, s, 1, domain.StatusCancelled)

	queue := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		NewPaymentSweeper(s, logger.Discard(), 5*time.Millisecond, queue).Run(ctx)
		close(done)
	}()

	select {
	case <-queue:
	case <-time.After(time.Second):
		t.Fatal("sweeper never enqueued")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
