package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

func TestExecutionStoreFiltersNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewExecutionStore(0)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []monitor.ExecutionResult{
		{ID: "e1", JobID: "job-a", UserID: "u1", CompletedAt: base},
		{ID: "e2", JobID: "job-b", UserID: "u2", CompletedAt: base.Add(time.Minute)},
		{ID: "e3", JobID: "job-a", UserID: "u1", CompletedAt: base.Add(2 * time.Minute)},
		{ID: "e4", JobID: "job-c", UserID: "u1", CompletedAt: base.Add(3 * time.Minute)},
	}
	for _, r := range records {
		require.NoError(t, store.RecordExecution(ctx, r))
	}

	got, err := store.ListExecutions(ctx, monitor.ExecutionFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, []string{"e4", "e3", "e1"}, ids(got))

	got, err = store.ListExecutions(ctx, monitor.ExecutionFilter{JobID: "job-a", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"e3"}, ids(got))

	got, err = store.ListExecutions(ctx, monitor.ExecutionFilter{Since: base.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Equal(t, []string{"e4", "e3"}, ids(got))

	got, err = store.ListExecutions(ctx, monitor.ExecutionFilter{UserID: "nobody"})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestExecutionStoreDropsOldestPastCapacity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewExecutionStore(2)
	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, store.RecordExecution(ctx, monitor.ExecutionResult{ID: id, JobID: "job"}))
	}
	got, err := store.ListExecutions(ctx, monitor.ExecutionFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"e3", "e2"}, ids(got))
}

func ids(results []monitor.ExecutionResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.ID)
	}
	return out
}
