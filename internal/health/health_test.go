package health

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
	"github.com/JakeFAU/competitor-monitor/internal/storage/memory"
)

func TestScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   ScoreInput
		want float64
	}{
		{name: "no jobs", in: ScoreInput{RecentSuccessRate: 0, AvgExecutionTime: time.Hour}, want: 100},
		{name: "perfect", in: ScoreInput{TotalJobs: 4, RecentSuccessRate: 1}, want: 100},
		{name: "half failed", in: ScoreInput{TotalJobs: 4, FailedJobs: 2, RecentSuccessRate: 1}, want: 85},
		{name: "slow", in: ScoreInput{TotalJobs: 1, RecentSuccessRate: 1, AvgExecutionTime: 31 * time.Second}, want: 90},
		{name: "exactly 30s is not slow", in: ScoreInput{TotalJobs: 1, RecentSuccessRate: 1, AvgExecutionTime: 30 * time.Second}, want: 100},
		{
			name: "everything wrong",
			in:   ScoreInput{TotalJobs: 2, FailedJobs: 2, HighRetryJobs: 2, RecentSuccessRate: 0, AvgExecutionTime: time.Minute},
			want: 0,
		},
		{name: "mixed", in: ScoreInput{TotalJobs: 10, FailedJobs: 1, HighRetryJobs: 5, RecentSuccessRate: 0.75}, want: 77},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.InDelta(t, tt.want, Score(tt.in), 1e-9)
		})
	}
}

func TestScoreAlwaysBounded(t *testing.T) {
	t.Parallel()

	for total := 0; total <= 5; total++ {
		for failed := 0; failed <= 7; failed++ {
			for _, rate := range []float64{-1, 0, 0.3, 1, 2, math.NaN()} {
				got := Score(ScoreInput{TotalJobs: total, FailedJobs: failed, HighRetryJobs: failed, RecentSuccessRate: rate, AvgExecutionTime: time.Minute})
				if math.IsNaN(got) || got < 0 || got > 100 {
					t.Fatalf("score out of range for total=%d failed=%d rate=%v: %v", total, failed, rate, got)
				}
			}
		}
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()

	require.Equal(t, StatusHealthy, Label(80))
	require.Equal(t, StatusDegraded, Label(79.9))
	require.Equal(t, StatusDegraded, Label(50))
	require.Equal(t, StatusUnhealthy, Label(49.9))
}

func TestCollectorUserReport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := memory.NewJobStore()
	execs := memory.NewExecutionStore(0)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	soon := now.Add(10 * time.Minute)
	later := now.Add(time.Hour)
	seed := []monitor.Job{
		{ID: "a", UserID: "u1", Status: monitor.JobStatusPending, NextRunAt: &later, CreatedAt: now},
		{ID: "b", UserID: "u1", Status: monitor.JobStatusPending, NextRunAt: &soon, RetryCount: 2, CreatedAt: now},
		{ID: "c", UserID: "u1", Status: monitor.JobStatusFailed, RetryCount: 3, CreatedAt: now},
		{ID: "d", UserID: "u1", Status: monitor.JobStatusPaused, CreatedAt: now},
		{ID: "e", UserID: "u2", Status: monitor.JobStatusPending, NextRunAt: &soon, CreatedAt: now},
		{ID: "f", UserID: "u1", Status: monitor.JobStatusCancelled, RetryCount: 3, CreatedAt: now},
	}
	for _, j := range seed {
		require.NoError(t, jobs.CreateJob(ctx, j))
	}
	results := []monitor.ExecutionResult{
		{ID: "x1", JobID: "a", UserID: "u1", Success: true, ExecutionTimeMs: 1000, ChangeDetected: true, CompletedAt: now},
		{ID: "x2", JobID: "b", UserID: "u1", Success: false, ExecutionTimeMs: 3000, CompletedAt: now},
		{ID: "x3", JobID: "e", UserID: "u2", Success: true, ExecutionTimeMs: 500, CompletedAt: now},
	}
	for _, r := range results {
		require.NoError(t, execs.RecordExecution(ctx, r))
	}

	c := NewCollector(jobs, execs, 0)
	report, err := c.Report(ctx, "u1", 1)
	require.NoError(t, err)

	user := report.UserMetrics
	require.Equal(t, 4, user.TotalJobs)
	require.Equal(t, 1, user.StatusCounts[monitor.JobStatusCancelled])
	require.Equal(t, 2, user.HighRetryJobs)
	require.Equal(t, 2, user.RecentExecutions)
	require.InDelta(t, 0.5, user.SuccessRate, 1e-9)
	require.InDelta(t, 2000, user.AvgExecutionTimeMs, 1e-9)
	require.Equal(t, 1, user.ChangesDetected)
	// 100 - 30*(1/4) - 40*0.5 - 20*(2/4)
	require.InDelta(t, 62.5, user.HealthScore, 1e-9)

	require.Equal(t, 4, report.Summary.TotalUserJobs)
	require.Equal(t, 2, report.Summary.ActiveMonitoring)
	require.NotNil(t, report.Summary.NextScheduledJob)
	require.Equal(t, soon, *report.Summary.NextScheduledJob)
	require.Len(t, report.RecentHistory, 2)

	sys := report.SystemMetrics
	require.Equal(t, 5, sys.TotalJobs)
	require.Equal(t, 3, sys.ActiveJobs)
	require.Equal(t, 1, sys.InFlight)
	require.Equal(t, 1, sys.StatusCounts[monitor.JobStatusCancelled])
	require.InDelta(t, 2.0/3.0, sys.SuccessRate, 1e-9)
}

func TestCollectorEmptyUser(t *testing.T) {
	t.Parallel()

	c := NewCollector(memory.NewJobStore(), memory.NewExecutionStore(0), 10)
	metrics, history, summary, err := c.User(context.Background(), "nobody")
	require.NoError(t, err)
	require.Equal(t, float64(100), metrics.HealthScore)
	require.Equal(t, float64(1), metrics.SuccessRate)
	require.Empty(t, history)
	require.Nil(t, summary.NextScheduledJob)
}
