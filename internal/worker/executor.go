package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-monitor/internal/changedetect"
	"github.com/JakeFAU/competitor-monitor/internal/extract"
	"github.com/JakeFAU/competitor-monitor/internal/metrics"
	"github.com/JakeFAU/competitor-monitor/internal/monitor"
	"github.com/JakeFAU/competitor-monitor/internal/scheduler"
)

var tracer = otel.Tracer("github.com/JakeFAU/competitor-monitor/internal/worker")

// Config controls Executor behavior.
type Config struct {
	// ContentType is recorded on archived page bodies.
	ContentType string
	// BlobPrefix is prepended to archive object paths.
	BlobPrefix string
	// Topic receives change events.
	Topic string
	// WritebackTimeout bounds the stages after the fetch: archive, job update,
	// execution record and change publish.
	WritebackTimeout time.Duration
}

// DefaultWritebackTimeout applies when Config.WritebackTimeout is unset.
const DefaultWritebackTimeout = 30 * time.Second

// Deps groups the collaborators an Executor needs. Blobs and Publisher are optional.
type Deps struct {
	Jobs       monitor.JobStore
	Executions monitor.ExecutionStore
	Fetcher    monitor.Fetcher
	Robots     monitor.RobotsPolicy
	Limiter    monitor.Limiter
	Detector   *changedetect.Detector
	Retry      *monitor.ExponentialRetryPolicy
	Blobs      monitor.BlobStore
	Publisher  monitor.Publisher
	Hasher     monitor.Hasher
	Clock      monitor.Clock
	IDs        monitor.IDGenerator
}

// Outcome summarizes one execution for the processor.
type Outcome struct {
	Job    monitor.Job
	Result monitor.ExecutionResult
	// Err is the execution failure, if any.
	Err error
	// PersistErr is set when the job or its result could not be written.
	PersistErr error
	// Discarded is true when the job left running, or was re-claimed, before write-back.
	Discarded bool
	// Panicked is true when the runner panicked; the job may still hold its claim.
	Panicked bool
}

// Executor runs the fetch, extract, detect, persist pipeline for one claimed job.
type Executor struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewExecutor validates deps and builds an Executor.
func NewExecutor(deps Deps, cfg Config, logger *zap.Logger) (*Executor, error) {
	switch {
	case deps.Jobs == nil:
		return nil, errors.New("job store is required")
	case deps.Executions == nil:
		return nil, errors.New("execution store is required")
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Detector == nil:
		return nil, errors.New("change detector is required")
	case deps.Retry == nil:
		return nil, errors.New("retry policy is required")
	case deps.Hasher == nil:
		return nil, errors.New("hasher is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.WritebackTimeout <= 0 {
		cfg.WritebackTimeout = DefaultWritebackTimeout
	}
	return &Executor{deps: deps, cfg: cfg, logger: logger}, nil
}

type pageResult struct {
	statusCode int
	snapshot   string
	hash       string
	detection  changedetect.Result
	body       []byte
	blobURI    string
}

// Execute runs job, which must already be claimed, and writes back its outcome.
// The write-back is discarded when the stored job no longer carries job.ClaimedAt.
func (e *Executor) Execute(ctx context.Context, job monitor.Job) Outcome {
	// In-flight executions finish even when the processor stops; the job timeout bounds them.
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "monitor.execute", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", string(job.Type)),
		attribute.Int("job.retry_count", job.RetryCount),
	))
	defer span.End()
	start := e.deps.Clock.Now()
	logger := e.logger.With(zap.String("job_id", job.ID), zap.String("url", job.URL))

	page, execErr := e.run(ctx, job)

	// The fetch deadline has passed or been released; post-fetch stages get their own.
	postCtx, cancel := context.WithTimeout(ctx, e.cfg.WritebackTimeout)
	defer cancel()
	if execErr == nil && page.hash != job.LastSnapshotHash {
		page.blobURI = e.archive(postCtx, job, page.hash, page.body)
	}
	completed := e.deps.Clock.Now()
	elapsed := completed.Sub(start)

	var next *time.Time
	if execErr == nil {
		var err error
		if next, err = scheduler.ComputeNextRun(job, completed); err != nil {
			execErr = &monitor.ValidationError{Field: "frequency", Reason: err.Error()}
		}
	}

	result := monitor.ExecutionResult{
		JobID:           job.ID,
		UserID:          job.UserID,
		Attempt:         job.RetryCount,
		StartedAt:       start,
		CompletedAt:     completed,
		ExecutionTimeMs: elapsed.Milliseconds(),
		Success:         execErr == nil,
		StatusCode:      page.statusCode,
	}
	if execErr != nil {
		result.Error = execErr.Error()
		result.ErrorKind = monitor.ErrorKind(execErr)
		span.RecordError(execErr)
		span.SetStatus(codes.Error, result.ErrorKind)
	} else {
		result.ChangeDetected = page.detection.Changed
		result.DiffRatio = page.detection.DiffRatio
		result.SnapshotHash = page.hash
		result.BlobURI = page.blobURI
	}
	if id, err := e.deps.IDs.NewID(); err == nil {
		result.ID = id
	} else {
		logger.Warn("execution id generation failed", zap.Error(err))
		result.ID = fmt.Sprintf("%s-%d", job.ID, start.UnixNano())
	}

	out := Outcome{Job: job, Result: result, Err: execErr}

	updated, err := e.deps.Jobs.UpdateJob(postCtx, job.ID, e.patchFor(job, page, next, execErr, completed))
	switch {
	case errors.Is(err, monitor.ErrStatusConflict), errors.Is(err, monitor.ErrJobNotFound):
		logger.Info("discarding execution result; job no longer holds this claim",
			zap.String("status", string(updated.Status)),
			zap.Timep("claimed_at", job.ClaimedAt),
			zap.Timep("current_claimed_at", updated.ClaimedAt))
		metrics.ObserveExecution(string(job.Type), "discarded", elapsed)
		out.Discarded = true
		return out
	case err != nil:
		out.PersistErr = &monitor.PersistenceError{Op: "update_job", Err: err}
		logger.Error("job write-back failed", zap.Error(err))
		metrics.ObservePersistenceError("update_job")
		return out
	}
	out.Job = updated

	if err := e.deps.Executions.RecordExecution(postCtx, result); err != nil {
		out.PersistErr = &monitor.PersistenceError{Op: "record_execution", Err: err}
		logger.Error("record execution failed", zap.Error(err))
		metrics.ObservePersistenceError("record_execution")
	}

	e.report(postCtx, logger, updated, result, execErr, elapsed)
	return out
}

func (e *Executor) run(ctx context.Context, job monitor.Job) (pageResult, error) {
	var page pageResult
	timeout := job.Config.Timeout()
	if timeout <= 0 {
		timeout = time.Duration(monitor.DefaultTimeoutMs) * time.Millisecond
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if job.Config.RespectRobotsTxt && e.deps.Robots != nil && !e.deps.Robots.Allowed(fetchCtx, job.URL) {
		return page, &monitor.RobotsDisallowedError{URL: job.URL}
	}
	if e.deps.Limiter != nil {
		if err := e.deps.Limiter.Wait(fetchCtx, job.URL); err != nil {
			return page, fetchFailure(job.URL, err)
		}
	}

	resp, err := e.deps.Fetcher.Fetch(fetchCtx, monitor.FetchRequest{
		JobID:       job.ID,
		URL:         job.URL,
		Headers:     job.Config.HTTPHeader(),
		Timeout:     timeout,
		UseHeadless: job.Type == monitor.JobTypeSocial,
	})
	page.statusCode = resp.StatusCode
	if err != nil {
		return page, fetchFailure(job.URL, err)
	}
	metrics.ObserveFetch(job.URL, len(resp.Body))

	snapshot, err := extract.Snapshot(resp.Body, job.Config.Selectors(job.Type), job.Config.ChangeDetection.IgnoreSelectors)
	if err != nil {
		return page, err
	}
	page.snapshot = snapshot

	hash, err := e.deps.Hasher.Hash([]byte(snapshot))
	if err != nil {
		return page, &monitor.ExtractionError{Reason: "hash snapshot", Err: err}
	}
	page.hash = hash

	if job.Config.ChangeDetection.Enabled {
		page.detection = e.deps.Detector.Detect(snapshot, job.LastSnapshot, job.Config.ChangeDetection.Threshold)
	}
	page.body = resp.Body
	return page, nil
}

// fetchFailure normalizes fetch-stage errors so deadline hits count as network timeouts.
func fetchFailure(rawURL string, err error) error {
	var netErr *monitor.NetworkError
	if errors.As(err, &netErr) {
		return err
	}
	return &monitor.NetworkError{URL: rawURL, Timeout: errors.Is(err, context.DeadlineExceeded), Err: err}
}

func (e *Executor) archive(ctx context.Context, job monitor.Job, hash string, body []byte) string {
	if e.deps.Blobs == nil {
		return ""
	}
	uri, err := e.deps.Blobs.PutObject(ctx, e.blobPath(job.ID, hash), e.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("archive page failed", zap.String("job_id", job.ID), zap.Error(err))
		metrics.ObservePersistenceError("archive")
		return ""
	}
	return uri
}

func (e *Executor) blobPath(jobID, hash string) string {
	prefix := strings.Trim(e.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}

func (e *Executor) patchFor(
	job monitor.Job,
	page pageResult,
	next *time.Time,
	execErr error,
	now time.Time,
) monitor.JobPatch {
	patch := monitor.JobPatch{
		IfStatus:  []monitor.JobStatus{monitor.JobStatusRunning},
		LastRunAt: &now,
		UpdatedAt: now,
	}
	if job.ClaimedAt != nil {
		patch.IfClaimedAt = monitor.PointerTime(*job.ClaimedAt)
	}
	if execErr == nil {
		patch.Status = monitor.Ptr(monitor.JobStatusPending)
		patch.RetryCount = monitor.Ptr(0)
		patch.LastError = monitor.Ptr("")
		patch.LastSnapshot = &page.snapshot
		patch.LastSnapshotHash = &page.hash
		if next == nil {
			patch.ClearNextRunAt = true
		} else {
			patch.NextRunAt = next
		}
		return patch
	}

	decision := e.deps.Retry.Decide(job, execErr, now)
	patch.Status = monitor.Ptr(decision.Status)
	patch.RetryCount = monitor.Ptr(decision.RetryCount)
	patch.LastError = monitor.Ptr(execErr.Error())
	if decision.NextRunAt != nil {
		patch.NextRunAt = decision.NextRunAt
	} else {
		patch.ClearNextRunAt = true
	}
	return patch
}

func (e *Executor) report(
	ctx context.Context,
	logger *zap.Logger,
	job monitor.Job,
	result monitor.ExecutionResult,
	execErr error,
	elapsed time.Duration,
) {
	jobType := string(job.Type)
	if execErr != nil {
		metrics.ObserveExecution(jobType, "failure", elapsed)
		if job.Status == monitor.JobStatusFailed {
			metrics.ObserveJobFailed(result.ErrorKind)
			logger.Warn("job failed",
				zap.String("error_kind", result.ErrorKind),
				zap.Int("retry_count", job.RetryCount),
				zap.Error(execErr))
			return
		}
		metrics.ObserveRetryScheduled()
		logger.Info("job retry scheduled",
			zap.Int("retry_count", job.RetryCount),
			zap.Timep("next_run_at", job.NextRunAt),
			zap.Error(execErr))
		return
	}

	metrics.ObserveExecution(jobType, "success", elapsed)
	logger.Debug("job executed",
		zap.Int64("execution_time_ms", result.ExecutionTimeMs),
		zap.Float64("diff_ratio", result.DiffRatio),
		zap.Bool("changed", result.ChangeDetected))
	if result.ChangeDetected {
		metrics.ObserveChange(jobType)
		e.publishChange(ctx, logger, job, result)
	}
}

func (e *Executor) publishChange(ctx context.Context, logger *zap.Logger, job monitor.Job, result monitor.ExecutionResult) {
	if e.deps.Publisher == nil || e.cfg.Topic == "" {
		return
	}
	event := monitor.ChangeEvent{
		JobID:        job.ID,
		CompetitorID: job.CompetitorID,
		UserID:       job.UserID,
		URL:          job.URL,
		DiffRatio:    result.DiffRatio,
		Timestamp:    result.CompletedAt,
	}
	id, err := e.deps.Publisher.Publish(ctx, e.cfg.Topic, event)
	if err != nil {
		metrics.ObservePublishError()
		logger.Error("publish change event failed", zap.Error(err))
		return
	}
	logger.Info("change event published",
		zap.String("message_id", id),
		zap.Float64("diff_ratio", result.DiffRatio))
}
