package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-monitor/internal/extract"
	"github.com/JakeFAU/competitor-monitor/internal/metrics"
	"github.com/JakeFAU/competitor-monitor/internal/monitor"
	"github.com/JakeFAU/competitor-monitor/internal/scheduler"
)

const budgetWindow = time.Hour

// AddJob validates spec, checks the caller's hourly creation budget, and
// stores a pending job. It returns the new job ID.
func (p *Processor) AddJob(ctx context.Context, userID string, spec monitor.JobSpec) (string, error) {
	id, err := p.deps.IDs.NewID()
	if err != nil {
		metrics.ObserveAdmission("error")
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := p.deps.Clock.Now()
	job, err := monitor.BuildJob(userID, id, spec, now)
	if err != nil {
		metrics.ObserveAdmission("invalid")
		return "", err
	}
	if p.deps.Blocklist.BlockedURL(job.URL) {
		metrics.ObserveAdmission("invalid")
		return "", &monitor.ValidationError{Field: "url", Reason: "targets a blocked domain"}
	}
	if err := scheduler.ValidateFrequency(job.Frequency); err != nil {
		metrics.ObserveAdmission("invalid")
		return "", err
	}
	if err := extract.ValidateConfig(job.Type, job.Config); err != nil {
		metrics.ObserveAdmission("invalid")
		return "", err
	}

	// Count and insert under one lock so concurrent requests cannot both
	// squeeze under the cap.
	p.admitMu.Lock()
	defer p.admitMu.Unlock()
	if err := p.checkBudget(ctx, userID, now); err != nil {
		var budgetErr *monitor.BudgetExceededError
		if errors.As(err, &budgetErr) {
			metrics.ObserveAdmission("budget")
		} else {
			metrics.ObserveAdmission("error")
		}
		return "", err
	}

	job.NextRunAt = p.deps.Scheduler.InitialRun(job, now)
	if err := p.deps.Jobs.CreateJob(ctx, job); err != nil {
		metrics.ObserveAdmission("error")
		return "", p.persistFailure("create_job", err)
	}
	metrics.ObserveAdmission("accepted")
	p.logger.Info("job admitted",
		zap.String("job_id", job.ID),
		zap.String("user_id", userID),
		zap.String("job_type", string(job.Type)),
		zap.String("frequency", string(job.Frequency.Type)))
	return job.ID, nil
}

func (p *Processor) checkBudget(ctx context.Context, userID string, now time.Time) error {
	if p.deps.Flags == nil {
		return nil
	}
	limit, err := p.deps.Flags.HourlyJobCap(ctx, userID)
	if err != nil {
		return fmt.Errorf("load job cap: %w", err)
	}
	if limit <= 0 {
		return nil
	}
	created, err := p.deps.Jobs.CountCreatedSince(ctx, userID, now.Add(-budgetWindow))
	if err != nil {
		return p.persistFailure("count_created", err)
	}
	if created >= limit {
		return &monitor.BudgetExceededError{UserID: userID, Limit: limit, Window: budgetWindow}
	}
	return nil
}

// GetJob returns a job owned by userID.
func (p *Processor) GetJob(ctx context.Context, userID, jobID string) (monitor.Job, error) {
	return p.owned(ctx, userID, jobID)
}

// ListJobs lists the caller's jobs.
func (p *Processor) ListJobs(ctx context.Context, userID string, filter monitor.JobFilter) ([]monitor.Job, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	jobs, err := p.deps.Jobs.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ListExecutions returns the execution history of one owned job, newest first.
func (p *Processor) ListExecutions(ctx context.Context, userID, jobID string, limit int) ([]monitor.ExecutionResult, error) {
	if _, err := p.owned(ctx, userID, jobID); err != nil {
		return nil, err
	}
	results, err := p.deps.Executions.ListExecutions(ctx, monitor.ExecutionFilter{
		UserID: userID,
		JobID:  jobID,
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return results, nil
}

// CancelJob moves a job to cancelled. An in-flight execution keeps running
// but its write-back is discarded.
func (p *Processor) CancelJob(ctx context.Context, userID, jobID string) (monitor.Job, error) {
	if _, err := p.owned(ctx, userID, jobID); err != nil {
		return monitor.Job{}, err
	}
	job, err := p.deps.Jobs.CancelJob(ctx, jobID, p.deps.Clock.Now())
	if err != nil {
		return monitor.Job{}, p.storeFailure("cancel_job", err)
	}
	p.logger.Info("job cancelled", zap.String("job_id", jobID))
	return job, nil
}

// PauseJob parks a pending job until ResumeJob.
func (p *Processor) PauseJob(ctx context.Context, userID, jobID string) (monitor.Job, error) {
	if _, err := p.owned(ctx, userID, jobID); err != nil {
		return monitor.Job{}, err
	}
	patch := monitor.StatusPatch(monitor.JobStatusPaused, p.deps.Clock.Now(), monitor.JobStatusPending)
	return p.apply(ctx, "pause_job", jobID, patch)
}

// ResumeJob returns a paused job to pending and schedules its next run.
func (p *Processor) ResumeJob(ctx context.Context, userID, jobID string) (monitor.Job, error) {
	job, err := p.owned(ctx, userID, jobID)
	if err != nil {
		return monitor.Job{}, err
	}
	now := p.deps.Clock.Now()
	patch := p.reschedule(monitor.StatusPatch(monitor.JobStatusPending, now, monitor.JobStatusPaused), job, now)
	return p.apply(ctx, "resume_job", jobID, patch)
}

// ResetJob revives a failed or completed job with a clean retry count.
func (p *Processor) ResetJob(ctx context.Context, userID, jobID string) (monitor.Job, error) {
	job, err := p.owned(ctx, userID, jobID)
	if err != nil {
		return monitor.Job{}, err
	}
	now := p.deps.Clock.Now()
	patch := monitor.StatusPatch(monitor.JobStatusPending, now, monitor.JobStatusFailed, monitor.JobStatusCompleted)
	patch.RetryCount = monitor.Ptr(0)
	patch.LastError = monitor.Ptr("")
	return p.apply(ctx, "reset_job", jobID, p.reschedule(patch, job, now))
}

// TriggerJob makes a pending or completed job due immediately. It is the
// only way to run a manual job.
func (p *Processor) TriggerJob(ctx context.Context, userID, jobID string) (monitor.Job, error) {
	if _, err := p.owned(ctx, userID, jobID); err != nil {
		return monitor.Job{}, err
	}
	now := p.deps.Clock.Now()
	patch := monitor.StatusPatch(monitor.JobStatusPending, now, monitor.JobStatusPending, monitor.JobStatusCompleted)
	patch.NextRunAt = monitor.PointerTime(now)
	return p.apply(ctx, "trigger_job", jobID, patch)
}

func (p *Processor) reschedule(patch monitor.JobPatch, job monitor.Job, now time.Time) monitor.JobPatch {
	if next := p.deps.Scheduler.InitialRun(job, now); next != nil {
		patch.NextRunAt = next
	} else {
		patch.ClearNextRunAt = true
	}
	return patch
}

func (p *Processor) apply(ctx context.Context, op, jobID string, patch monitor.JobPatch) (monitor.Job, error) {
	job, err := p.deps.Jobs.UpdateJob(ctx, jobID, patch)
	if err != nil {
		return monitor.Job{}, p.storeFailure(op, err)
	}
	p.logger.Info("job updated", zap.String("job_id", jobID), zap.String("op", op), zap.String("status", string(job.Status)))
	return job, nil
}

// owned loads jobID and checks it belongs to userID.
func (p *Processor) owned(ctx context.Context, userID, jobID string) (monitor.Job, error) {
	if err := requireUser(userID); err != nil {
		return monitor.Job{}, err
	}
	job, err := p.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return monitor.Job{}, p.storeFailure("get_job", err)
	}
	if job.UserID != userID {
		return monitor.Job{}, &monitor.AuthorizationError{Reason: "job belongs to another user"}
	}
	return job, nil
}

// storeFailure passes lookup and lifecycle sentinels through and wraps
// anything else as a persistence failure.
func (p *Processor) storeFailure(op string, err error) error {
	if errors.Is(err, monitor.ErrJobNotFound) || errors.Is(err, monitor.ErrStatusConflict) {
		return err
	}
	return p.persistFailure(op, err)
}

func (p *Processor) persistFailure(op string, err error) error {
	perr := &monitor.PersistenceError{Op: op, Err: err}
	metrics.ObservePersistenceError(op)
	p.recordPersistenceError(perr)
	p.logger.Error("persistence failure", zap.String("op", op), zap.Error(err))
	return perr
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return &monitor.AuthorizationError{Reason: "missing user id"}
	}
	return nil
}
