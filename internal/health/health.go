// Package health aggregates job state and execution history into system and
// per-user metrics and a bounded health score.
package health

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

const (
	defaultHistoryWindow = 500
	slowExecution        = 30 * time.Second
	highRetryThreshold   = 2
)

// Status labels derived from a score.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ScoreInput holds the figures the score is computed from.
type ScoreInput struct {
	TotalJobs         int
	FailedJobs        int
	HighRetryJobs     int
	RecentSuccessRate float64
	AvgExecutionTime  time.Duration
}

// Score returns 100 - 30*failed/total - 40*(1-successRate) - 20*highRetry/total
// - 10 when executions average over 30s, clamped to [0, 100]. No jobs scores 100.
func Score(in ScoreInput) float64 {
	if in.TotalJobs <= 0 {
		return 100
	}
	total := float64(in.TotalJobs)
	rate := clamp(in.RecentSuccessRate, 0, 1)
	score := 100.0
	score -= 30 * clamp(float64(in.FailedJobs)/total, 0, 1)
	score -= 40 * (1 - rate)
	score -= 20 * clamp(float64(in.HighRetryJobs)/total, 0, 1)
	if in.AvgExecutionTime > slowExecution {
		score -= 10
	}
	return clamp(score, 0, 100)
}

// Label maps a score to healthy (>= 80), degraded (>= 50) or unhealthy.
func Label(score float64) string {
	switch {
	case score >= 80:
		return StatusHealthy
	case score >= 50:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// SystemMetrics describes the whole fleet.
type SystemMetrics struct {
	TotalJobs          int                       `json:"totalJobs"`
	StatusCounts       map[monitor.JobStatus]int `json:"statusCounts"`
	ActiveJobs         int                       `json:"activeJobs"`
	RecentExecutions   int                       `json:"recentExecutions"`
	SuccessRate        float64                   `json:"successRate"`
	AvgExecutionTimeMs float64                   `json:"avgExecutionTimeMs"`
	InFlight           int                       `json:"inFlight"`
	HealthScore        float64                   `json:"healthScore"`
	Status             string                    `json:"status"`
}

// UserMetrics describes one user's jobs.
type UserMetrics struct {
	TotalJobs          int                       `json:"totalJobs"`
	StatusCounts       map[monitor.JobStatus]int `json:"statusCounts"`
	HighRetryJobs      int                       `json:"highRetryJobs"`
	RecentExecutions   int                       `json:"recentExecutions"`
	SuccessRate        float64                   `json:"successRate"`
	AvgExecutionTimeMs float64                   `json:"avgExecutionTimeMs"`
	ChangesDetected    int                       `json:"changesDetected"`
	HealthScore        float64                   `json:"healthScore"`
}

// Summary is the headline block of the per-user report.
type Summary struct {
	TotalUserJobs    int        `json:"totalUserJobs"`
	ActiveMonitoring int        `json:"activeMonitoring"`
	HealthScore      float64    `json:"healthScore"`
	NextScheduledJob *time.Time `json:"nextScheduledJob"`
}

// UserReport bundles everything the per-user metrics endpoint returns.
type UserReport struct {
	SystemMetrics SystemMetrics             `json:"systemMetrics"`
	UserMetrics   UserMetrics               `json:"userMetrics"`
	RecentHistory []monitor.ExecutionResult `json:"recentHistory"`
	Summary       Summary                   `json:"summary"`
}

// Collector reads the stores on demand.
type Collector struct {
	jobs          monitor.JobStore
	executions    monitor.ExecutionStore
	historyWindow int
	historyLimit  int
}

// NewCollector builds a Collector. historyWindow bounds how many recent
// executions feed success rate and latency.
func NewCollector(jobs monitor.JobStore, executions monitor.ExecutionStore, historyWindow int) *Collector {
	if historyWindow <= 0 {
		historyWindow = defaultHistoryWindow
	}
	return &Collector{
		jobs:          jobs,
		executions:    executions,
		historyWindow: historyWindow,
		historyLimit:  20,
	}
}

// System computes fleet metrics. The system score leaves out the retry term
// because only per-status counts are aggregated store-wide.
func (c *Collector) System(ctx context.Context, inFlight int) (SystemMetrics, error) {
	counts, err := c.jobs.CountByStatus(ctx)
	if err != nil {
		return SystemMetrics{}, fmt.Errorf("count jobs: %w", err)
	}
	recent, err := c.executions.ListExecutions(ctx, monitor.ExecutionFilter{Limit: c.historyWindow})
	if err != nil {
		return SystemMetrics{}, fmt.Errorf("list executions: %w", err)
	}
	total := 0
	for status, n := range counts {
		if status != monitor.JobStatusCancelled {
			total += n
		}
	}
	rate, avg := summarize(recent)
	score := Score(ScoreInput{
		TotalJobs:         total,
		FailedJobs:        counts[monitor.JobStatusFailed],
		RecentSuccessRate: rate,
		AvgExecutionTime:  avg,
	})
	return SystemMetrics{
		TotalJobs:          total,
		StatusCounts:       fillStatuses(counts),
		ActiveJobs:         counts[monitor.JobStatusPending] + counts[monitor.JobStatusRunning],
		RecentExecutions:   len(recent),
		SuccessRate:        rate,
		AvgExecutionTimeMs: float64(avg.Milliseconds()),
		InFlight:           inFlight,
		HealthScore:        score,
		Status:             Label(score),
	}, nil
}

// User computes a user's metrics plus their most recent executions.
func (c *Collector) User(ctx context.Context, userID string) (UserMetrics, []monitor.ExecutionResult, Summary, error) {
	jobs, err := c.jobs.ListByUser(ctx, userID, monitor.JobFilter{})
	if err != nil {
		return UserMetrics{}, nil, Summary{}, fmt.Errorf("list user jobs: %w", err)
	}
	recent, err := c.executions.ListExecutions(ctx, monitor.ExecutionFilter{UserID: userID, Limit: c.historyWindow})
	if err != nil {
		return UserMetrics{}, nil, Summary{}, fmt.Errorf("list user executions: %w", err)
	}

	counts := make(map[monitor.JobStatus]int, len(monitor.AllStatuses))
	var (
		highRetry int
		next      *time.Time
	)
	for _, job := range jobs {
		counts[job.Status]++
		if job.Status == monitor.JobStatusCancelled {
			continue
		}
		if job.RetryCount >= highRetryThreshold {
			highRetry++
		}
		if job.Status == monitor.JobStatusPending && job.NextRunAt != nil {
			if next == nil || job.NextRunAt.Before(*next) {
				next = monitor.PointerTime(*job.NextRunAt)
			}
		}
	}
	changes := 0
	for _, r := range recent {
		if r.ChangeDetected {
			changes++
		}
	}
	// Cancelled jobs are soft-deleted: reported per status, left out of totals.
	total := len(jobs) - counts[monitor.JobStatusCancelled]
	rate, avg := summarize(recent)
	score := Score(ScoreInput{
		TotalJobs:         total,
		FailedJobs:        counts[monitor.JobStatusFailed],
		HighRetryJobs:     highRetry,
		RecentSuccessRate: rate,
		AvgExecutionTime:  avg,
	})

	metrics := UserMetrics{
		TotalJobs:          total,
		StatusCounts:       fillStatuses(counts),
		HighRetryJobs:      highRetry,
		RecentExecutions:   len(recent),
		SuccessRate:        rate,
		AvgExecutionTimeMs: float64(avg.Milliseconds()),
		ChangesDetected:    changes,
		HealthScore:        score,
	}
	summary := Summary{
		TotalUserJobs:    total,
		ActiveMonitoring: counts[monitor.JobStatusPending] + counts[monitor.JobStatusRunning],
		HealthScore:      score,
		NextScheduledJob: next,
	}
	history := recent
	if len(history) > c.historyLimit {
		history = history[:c.historyLimit]
	}
	return metrics, history, summary, nil
}

// Report assembles the full per-user view.
func (c *Collector) Report(ctx context.Context, userID string, inFlight int) (UserReport, error) {
	system, err := c.System(ctx, inFlight)
	if err != nil {
		return UserReport{}, err
	}
	user, history, summary, err := c.User(ctx, userID)
	if err != nil {
		return UserReport{}, err
	}
	return UserReport{
		SystemMetrics: system,
		UserMetrics:   user,
		RecentHistory: history,
		Summary:       summary,
	}, nil
}

// summarize returns the success rate (1 with no history) and mean duration.
func summarize(results []monitor.ExecutionResult) (float64, time.Duration) {
	if len(results) == 0 {
		return 1, 0
	}
	var (
		ok    int
		total int64
	)
	for _, r := range results {
		if r.Success {
			ok++
		}
		total += r.ExecutionTimeMs
	}
	avg := time.Duration(total/int64(len(results))) * time.Millisecond
	return float64(ok) / float64(len(results)), avg
}

func fillStatuses(counts map[monitor.JobStatus]int) map[monitor.JobStatus]int {
	out := make(map[monitor.JobStatus]int, len(monitor.AllStatuses))
	for _, st := range monitor.AllStatuses {
		out[st] = counts[st]
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v), v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
