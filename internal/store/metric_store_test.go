package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryMetricStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryMetricStore()

	require.NoError(t, s.IncrementJobsCreated(ctx))
	require.NoError(t, s.IncrementTransitions(ctx))
	require.NoError(t, s.IncrementTransitions(ctx))
	require.NoError(t, s.IncrementStaleConflicts(ctx))
	require.NoError(t, s.IncrementHolds(ctx, true))
	require.NoError(t, s.IncrementHolds(ctx, false))
	require.NoError(t, s.IncrementCaptures(ctx, false))
	require.NoError(t, s.IncrementRefunds(ctx, true))
	require.NoError(t, s.IncrementReconciled(ctx))

	m, err := s.GetMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.TotalJobsCreated)
	assert.Equal(t, 2, m.TransitionsApplied)
	assert.Equal(t, 1, m.StaleConflicts)
	assert.Equal(t, 1, m.HoldsPlaced)
	assert.Equal(t, 1, m.HoldsFailed)
	assert.Equal(t, 0, m.CapturesSucceeded)
	assert.Equal(t, 1, m.CapturesFailed)
	assert.Equal(t, 1, m.RefundsSucceeded)
	assert.Equal(t, 1, m.Reconciled)

	require.NoError(t, s.IncrementJobsCreated(ctx))
	assert.Equal(t, 1, m.TotalJobsCreated, "snapshot must not change")
}

func TestInMemoryMetricStoreHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewInMemoryMetricStore()
	assert.ErrorIs(t, s.IncrementJobsCreated(ctx), context.Canceled)
	_, err := s.GetMetrics(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
