package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karprabha/snowjob-backend/internal/domain"
	"github.com/karprabha/snowjob-backend/internal/logger"
)

type fakeReconciler struct {
	mu    sync.Mutex
	seen  []string
	fail  map[string]error
	calls chan string
}

func newFakeReconciler() *fakeReconciler {
	return &fakeReconciler{fail: map[string]error{}, calls: make(chan string, 10)}
}

func (f *fakeReconciler) ReconcilePayment(_ context.Context, jobID string) (domain.Job, error) {
	f.mu.Lock()
	f.seen = append(f.seen, jobID)
	err := f.fail[jobID]
	f.mu.Unlock()

	f.calls <- jobID
	if err != nil {
		return domain.Job{}, err
	}
	return domain.Job{ID: jobID, PaymentStatus: domain.PaymentRefunded}, nil
}

func waitFor(t *testing.T, calls <-chan string, want string) {
	t.Helper()
	select {
	case got := <-calls:
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func TestWorkerReconcilesQueuedJobs(t *testing.T) {
	var buf bytes.Buffer
	rec := newFakeReconciler()
	rec.fail["job-2"] = &domain.PaymentError{JobID: "job-2", Err: domain.ErrRefundFailed}
	rec.fail["job-3"] = fmt.Errorf("load: %w", domain.ErrJobNotFound)

	queue := make(chan string, 3)
	queue <- "job-1"
	queue <- "job-2"
	queue <- "job-3"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		NewWorker(1, rec, logger.NewWriter(&buf), queue, time.Second).Start(ctx)
		close(done)
	}()

	waitFor(t, rec.calls, "job-1")
	waitFor(t, rec.calls, "job-2")
	waitFor(t, rec.calls, "job-3")
	close(queue)
	<-done

	out := buf.String()
	assert.Contains(t, out, `"event":"job_reconciled"`)
	assert.Contains(t, out, `"event":"reconcile_error"`)
	assert.Contains(t, out, `"event":"job_not_found"`)
	assert.Contains(t, out, `"event":"worker_stopped"`)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	queue := make(chan string)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewWorker(1, newFakeReconciler(), logger.Discard(), queue, 0).Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestStartPoolDrainsQueue(t *testing.T) {
	rec := newFakeReconciler()
	queue := make(chan string, 5)
	for i := 0; i < 5; i++ {
		queue <- fmt.Sprintf("job-%d", i)
	}
	close(queue)

	StartPool(context.Background(), 3, rec, logger.Discard(), queue, time.Second)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.seen, 5)
	assert.ElementsMatch(t, []string{"job-0", "job-1", "job-2", "job-3", "job-4"}, rec.seen)
}

func TestWorkerAppliesTimeout(t *testing.T) {
	var deadline time.Time
	var ok bool
	probe := reconcilerFunc(func(ctx context.Context, jobID string) (domain.Job, error) {
		deadline, ok = ctx.Deadline()
		return domain.Job{}, errors.New("stop")
	})

	w := NewWorker(1, probe, logger.Discard(), nil, time.Minute)
	w.processJob(context.Background(), "job-1")

	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

type reconcilerFunc func(context.Context, string) (domain.Job, error)

func (f reconcilerFunc) ReconcilePayment(ctx context.Context, jobID string) (domain.Job, error) {
	return f(ctx, jobID)
}
