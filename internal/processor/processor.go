// Package processor runs the scheduling tick loop: it claims due jobs within
// the global and per-user concurrency caps and hands them to workers.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-monitor/internal/dispatcher"
	"github.com/JakeFAU/competitor-monitor/internal/health"
	"github.com/JakeFAU/competitor-monitor/internal/metrics"
	"github.com/JakeFAU/competitor-monitor/internal/monitor"
	"github.com/JakeFAU/competitor-monitor/internal/policy/blocklist"
	queuememory "github.com/JakeFAU/competitor-monitor/internal/queue/memory"
	"github.com/JakeFAU/competitor-monitor/internal/scheduler"
	"github.com/JakeFAU/competitor-monitor/internal/worker"
)

var (
	// ErrProcessorStopped is returned by Start when its context is already done.
	ErrProcessorStopped = errors.New("processor stopped")
	// ErrAlreadyRunning is returned by a second Start.
	ErrAlreadyRunning = errors.New("processor already running")
)

// Config controls the tick loop and concurrency caps.
type Config struct {
	TickInterval     time.Duration
	MaxConcurrent    int
	MaxPerUser       int
	StaleAfter       time.Duration
	RecoveryInterval time.Duration
	HistoryWindow    int
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.MaxPerUser <= 0 {
		c.MaxPerUser = 3
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = time.Minute
	}
}

// Deps groups the processor's collaborators. Flags may be nil for no budget.
type Deps struct {
	Jobs       monitor.JobStore
	Executions monitor.ExecutionStore
	Scheduler  *scheduler.Scheduler
	Runner     worker.Runner
	Flags      monitor.FlagProvider
	Blocklist  *blocklist.List
	Clock      monitor.Clock
	IDs        monitor.IDGenerator
}

// Processor owns the tick loop, the worker pool, and the admission path.
type Processor struct {
	deps    Deps
	cfg     Config
	logger  *zap.Logger
	slots   *slotTracker
	health  *health.Collector
	admitMu sync.Mutex

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	queue    *queuememory.Queue
	dispatch *dispatcher.Dispatcher

	persistMu     sync.Mutex
	lastPersist   error
	lastPersistAt time.Time
}

// New validates deps and builds a stopped Processor.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Processor, error) {
	switch {
	case deps.Jobs == nil:
		return nil, errors.New("job store is required")
	case deps.Executions == nil:
		return nil, errors.New("execution store is required")
	case deps.Scheduler == nil:
		return nil, errors.New("scheduler is required")
	case deps.Runner == nil:
		return nil, errors.New("runner is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Processor{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		slots:  newSlotTracker(cfg.MaxConcurrent, cfg.MaxPerUser),
		health: health.NewCollector(deps.Jobs, deps.Executions, cfg.HistoryWindow),
	}, nil
}

// Start recovers stale claims, then launches the workers, the tick loop, and
// the periodic recovery loop. It returns immediately.
func (p *Processor) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrProcessorStopped
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.queue = queuememory.NewQueue(p.cfg.MaxConcurrent)
	workers := make([]*worker.Worker, 0, p.cfg.MaxConcurrent)
	for i := 0; i < p.cfg.MaxConcurrent; i++ {
		workers = append(workers, worker.New(
			p.queue,
			p.deps.Runner,
			p.finish,
			p.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	p.dispatch = dispatcher.New(p.queue, workers)

	p.recoverStale(runCtx)

	p.wg.Add(3)
	go func() {
		defer p.wg.Done()
		p.dispatch.Run(runCtx)
	}()
	go func() {
		defer p.wg.Done()
		p.loop(runCtx, p.cfg.TickInterval, p.tick)
	}()
	go func() {
		defer p.wg.Done()
		p.loop(runCtx, p.cfg.RecoveryInterval, p.recoverStale)
	}()

	p.cancel = cancel
	p.running = true
	p.logger.Info("processor started",
		zap.Duration("tick_interval", p.cfg.TickInterval),
		zap.Int("max_concurrent", p.cfg.MaxConcurrent),
		zap.Int("max_per_user", p.cfg.MaxPerUser))
	return nil
}

// Stop cancels the loops, waits for in-flight executions, and returns any
// claimed-but-unstarted jobs to pending. Calling Stop twice is safe.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	queue := p.queue
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.requeue(queue.Drain())
	queue.Close()
	metrics.SetInflight(0)
	p.logger.Info("processor stopped")
}

// IsRunning reports whether Start has been called without a matching Stop.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	fn(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// tick claims due jobs while slots remain. Jobs over a cap stay pending.
func (p *Processor) tick(ctx context.Context) {
	started := time.Now()
	defer func() { metrics.ObserveTick(time.Since(started)) }()

	if p.slots.full() {
		return
	}
	now := p.deps.Clock.Now()
	due, err := p.deps.Scheduler.DueJobs(ctx, now)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("list due jobs failed", zap.Error(err))
		}
		return
	}

	claimed := 0
	for _, job := range due {
		if ctx.Err() != nil || p.slots.full() {
			break
		}
		if !p.slots.tryAcquire(job.UserID) {
			metrics.ObserveClaim("user_cap")
			continue
		}
		claimedAt := monitor.ClaimTime(now)
		ok, err := p.deps.Jobs.TryClaim(ctx, job.ID, claimedAt)
		if err != nil || !ok {
			p.slots.release(job.UserID)
			if err != nil {
				metrics.ObserveClaim("error")
				p.logger.Warn("claim failed", zap.String("job_id", job.ID), zap.Error(err))
			} else {
				metrics.ObserveClaim("lost")
			}
			continue
		}
		job.Status = monitor.JobStatusRunning
		job.ClaimedAt = monitor.PointerTime(claimedAt)
		if err := p.dispatch.Enqueue(ctx, job); err != nil {
			p.logger.Warn("enqueue claimed job failed", zap.String("job_id", job.ID), zap.Error(err))
			p.requeue([]monitor.Job{job})
			continue
		}
		metrics.ObserveClaim("won")
		claimed++
	}

	inFlight, _ := p.slots.snapshot()
	metrics.SetInflight(inFlight)
	if claimed > 0 {
		p.logger.Debug("tick claimed jobs", zap.Int("claimed", claimed), zap.Int("due", len(due)))
	}
}

// finish runs on the worker goroutine once an execution ends.
func (p *Processor) finish(outcome worker.Outcome) {
	if outcome.Panicked {
		p.releaseClaim(context.Background(), outcome.Job, p.deps.Clock.Now())
	}
	p.slots.release(outcome.Job.UserID)
	inFlight, _ := p.slots.snapshot()
	metrics.SetInflight(inFlight)
	if outcome.PersistErr != nil {
		p.recordPersistenceError(outcome.PersistErr)
	}
}

// releaseClaim returns job to pending unless another claim has replaced it.
func (p *Processor) releaseClaim(ctx context.Context, job monitor.Job, now time.Time) {
	_, err := p.deps.Jobs.UpdateJob(ctx, job.ID, monitor.ReleaseClaim(job.ClaimedAt, now))
	if err != nil && !errors.Is(err, monitor.ErrStatusConflict) && !errors.Is(err, monitor.ErrJobNotFound) {
		_ = p.persistFailure("release_claim", err)
	}
}

// requeue returns claimed jobs that never started to pending and frees their slots.
func (p *Processor) requeue(jobs []monitor.Job) {
	if len(jobs) == 0 {
		return
	}
	ctx := context.Background()
	now := p.deps.Clock.Now()
	for _, job := range jobs {
		p.slots.release(job.UserID)
		p.releaseClaim(ctx, job, now)
	}
	p.logger.Info("returned unstarted jobs to pending", zap.Int("count", len(jobs)))
}

func (p *Processor) recoverStale(ctx context.Context) {
	now := p.deps.Clock.Now()
	n, err := p.deps.Jobs.RecoverStale(ctx, now.Add(-p.cfg.StaleAfter), now)
	if err != nil {
		if ctx.Err() == nil {
			_ = p.persistFailure("recover_stale", err)
		}
		return
	}
	if n > 0 {
		metrics.ObserveRecovered(n)
		p.logger.Warn("recovered stale running jobs", zap.Int("count", n))
	}
}

func (p *Processor) recordPersistenceError(err error) {
	p.persistMu.Lock()
	defer p.persistMu.Unlock()
	p.lastPersist = err
	p.lastPersistAt = p.deps.Clock.Now()
}

// Stats is the queue snapshot served to operators.
type Stats struct {
	SystemMetrics   health.SystemMetrics      `json:"systemMetrics"`
	PerStatusCounts map[monitor.JobStatus]int `json:"perStatusCounts"`
	InFlight        int                       `json:"inFlight"`
	InFlightByUser  map[string]int            `json:"inFlightByUser"`
	Queued          int                       `json:"queued"`
	MaxConcurrent   int                       `json:"maxConcurrent"`
	MaxPerUser      int                       `json:"maxPerUser"`
}

// QueueStats reports per-status counts and slot usage.
func (p *Processor) QueueStats(ctx context.Context) (Stats, error) {
	inFlight, byUser := p.slots.snapshot()
	system, err := p.health.System(ctx, inFlight)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	queued := 0
	p.mu.Lock()
	if p.queue != nil {
		queued = p.queue.Len()
	}
	p.mu.Unlock()
	return Stats{
		SystemMetrics:   system,
		PerStatusCounts: system.StatusCounts,
		InFlight:        inFlight,
		InFlightByUser:  byUser,
		Queued:          queued,
		MaxConcurrent:   p.cfg.MaxConcurrent,
		MaxPerUser:      p.cfg.MaxPerUser,
	}, nil
}

// HealthStatus is the liveness view of the processor.
type HealthStatus struct {
	IsRunning              bool                 `json:"isRunning"`
	Health                 health.SystemMetrics `json:"health"`
	LastPersistenceError   string               `json:"lastPersistenceError,omitempty"`
	LastPersistenceErrorAt *time.Time           `json:"lastPersistenceErrorAt,omitempty"`
}

// HealthStatus reports whether the loop runs plus fleet health.
func (p *Processor) HealthStatus(ctx context.Context) (HealthStatus, error) {
	inFlight, _ := p.slots.snapshot()
	system, err := p.health.System(ctx, inFlight)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("health status: %w", err)
	}
	status := HealthStatus{IsRunning: p.IsRunning(), Health: system}
	p.persistMu.Lock()
	if p.lastPersist != nil {
		status.LastPersistenceError = p.lastPersist.Error()
		status.LastPersistenceErrorAt = monitor.PointerTime(p.lastPersistAt)
	}
	p.persistMu.Unlock()
	return status, nil
}

// UserReport returns the per-user metrics view.
func (p *Processor) UserReport(ctx context.Context, userID string) (health.UserReport, error) {
	if userID == "" {
		return health.UserReport{}, &monitor.AuthorizationError{Reason: "missing user id"}
	}
	inFlight, _ := p.slots.snapshot()
	report, err := p.health.Report(ctx, userID, inFlight)
	if err != nil {
		return health.UserReport{}, fmt.Errorf("user report: %w", err)
	}
	return report, nil
}
