package processor

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-monitor/internal/changedetect"
	"github.com/JakeFAU/competitor-monitor/internal/clock/system"
	"github.com/JakeFAU/competitor-monitor/internal/hash/sha256"
	"github.com/JakeFAU/competitor-monitor/internal/monitor"
	"github.com/JakeFAU/competitor-monitor/internal/policy/blocklist"
	"github.com/JakeFAU/competitor-monitor/internal/policy/budget"
	"github.com/JakeFAU/competitor-monitor/internal/scheduler"
	"github.com/JakeFAU/competitor-monitor/internal/storage/memory"
	"github.com/JakeFAU/competitor-monitor/internal/worker"
)

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

const (
	waitFor = 2 * time.Second
	pollInt = 10 * time.Millisecond
)

func TestTwoTicksOfHourlyJob(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	id, err := h.proc.AddJob(ctx, "user-1", pricingSpec())
	require.NoError(t, err)
	require.NoError(t, h.proc.Start(ctx))
	t.Cleanup(h.proc.Stop)

	h.waitExecutions(t, id, 1)
	job, err := h.jobs.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusPending, job.Status)
	require.Equal(t, baseTime.Add(time.Hour), *job.NextRunAt)
	require.Equal(t, "$10 per month", job.LastSnapshot)

	h.fetcher.setBody(pricePage("$25 per month for teams"))
	h.clock.Advance(time.Hour)
	h.proc.tick(ctx)

	execs := h.waitExecutions(t, id, 2)
	require.True(t, execs[0].ChangeDetected)
	require.False(t, execs[1].ChangeDetected)

	job, err = h.jobs.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, baseTime.Add(2*time.Hour), *job.NextRunAt)
	require.Equal(t, baseTime.Add(time.Hour), *job.LastRunAt)
	require.Len(t, h.publisher.Messages(), 1)
}

func TestRepeatedFailuresEndFailed(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.fetcher.setErr(&monitor.NetworkError{URL: "https://competitor.example/pricing", StatusCode: http.StatusBadGateway})
	ctx := context.Background()

	id, err := h.proc.AddJob(ctx, "user-1", pricingSpec())
	require.NoError(t, err)
	require.NoError(t, h.proc.Start(ctx))
	t.Cleanup(h.proc.Stop)

	h.waitExecutions(t, id, 1)
	for attempt := 2; attempt <= 3; attempt++ {
		job, err := h.jobs.GetJob(ctx, id)
		require.NoError(t, err)
		require.Equal(t, monitor.JobStatusPending, job.Status)
		require.Equal(t, attempt-1, job.RetryCount)
		h.clock.Set(*job.NextRunAt)
		h.proc.tick(ctx)
		h.waitExecutions(t, id, attempt)
	}

	job, err := h.jobs.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusFailed, job.Status)
	require.Equal(t, 3, job.RetryCount)
	require.Contains(t, job.LastError, "502")

	// Failed jobs are never due again.
	h.clock.Advance(24 * time.Hour)
	h.proc.tick(ctx)
	require.Equal(t, 3, h.fetcher.callCount())
}

func TestRobotsDisallowedFailsWithoutFetch(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.robots.allowed = false
	ctx := context.Background()

	id, err := h.proc.AddJob(ctx, "user-1", pricingSpec())
	require.NoError(t, err)
	require.NoError(t, h.proc.Start(ctx))
	t.Cleanup(h.proc.Stop)

	execs := h.waitExecutions(t, id, 1)
	require.Equal(t, "robots", execs[0].ErrorKind)
	require.Zero(t, h.fetcher.callCount())

	job, err := h.jobs.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusFailed, job.Status)
}

func TestConcurrentProcessorsClaimEachJobOnce(t *testing.T) {
	jobs := memory.NewJobStore()
	executions := memory.NewExecutionStore(0)
	clock := system.NewManual(baseTime)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		job := seedJob("job-"+strconv.Itoa(i), "user-"+strconv.Itoa(i%4))
		require.NoError(t, jobs.CreateJob(ctx, job))
	}

	runners := []*fakeRunner{newFakeRunner(), newFakeRunner()}
	procs := make([]*Processor, 0, len(runners))
	for _, r := range runners {
		p, err := New(Deps{
			Jobs:       jobs,
			Executions: executions,
			Scheduler:  scheduler.New(jobs, scheduler.Config{}),
			Runner:     r,
			Clock:      clock,
			IDs:        &sequenceIDs{prefix: "job"},
		}, Config{TickInterval: time.Hour, MaxConcurrent: 10, MaxPerUser: 10}, zap.NewNop())
		require.NoError(t, err)
		procs = append(procs, p)
	}

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *Processor) {
			defer wg.Done()
			if err := p.Start(ctx); err != nil {
				t.Errorf("start: %v", err)
			}
		}(p)
	}
	wg.Wait()
	t.Cleanup(func() {
		for _, p := range procs {
			p.Stop()
		}
	})

	require.Eventually(t, func() bool {
		return len(runners[0].called())+len(runners[1].called()) == 8
	}, waitFor, pollInt)

	seen := map[string]int{}
	for _, r := range runners {
		for _, id := range r.called() {
			seen[id]++
		}
	}
	require.Len(t, seen, 8)
	for id, n := range seen {
		require.Equalf(t, 1, n, "job %s executed %d times", id, n)
	}

	counts, err := jobs.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 8, counts[monitor.JobStatusRunning])
}

func TestTickHonorsGlobalAndPerUserCaps(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	h := newHarness(t, Config{MaxConcurrent: 3, MaxPerUser: 1}, runner)
	ctx := context.Background()

	for i, user := range []string{"user-a", "user-a", "user-b", "user-b", "user-c", "user-d"} {
		require.NoError(t, h.jobs.CreateJob(ctx, seedJob("job-"+strconv.Itoa(i), user)))
	}
	require.NoError(t, h.proc.Start(ctx))

	require.Eventually(t, func() bool { return len(runner.called()) == 3 }, waitFor, pollInt)

	stats, err := h.proc.QueueStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.InFlight)
	require.Equal(t, 3, stats.MaxConcurrent)
	for user, n := range stats.InFlightByUser {
		require.Equalf(t, 1, n, "user %s", user)
	}
	require.Equal(t, 3, stats.PerStatusCounts[monitor.JobStatusRunning])
	require.Equal(t, 3, stats.PerStatusCounts[monitor.JobStatusPending])

	// Still capped on the next tick.
	h.proc.tick(ctx)
	require.Len(t, runner.called(), 3)

	close(runner.block)
	h.proc.Stop()
	inFlight, _ := h.proc.slots.snapshot()
	require.Zero(t, inFlight)
}

func TestCancelDuringExecutionDiscardsResult(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	h.fetcher.onFetch = func() {
		close(started)
		<-release
	}
	ctx := context.Background()

	id, err := h.proc.AddJob(ctx, "user-1", pricingSpec())
	require.NoError(t, err)
	require.NoError(t, h.proc.Start(ctx))
	t.Cleanup(h.proc.Stop)

	<-started
	cancelled, err := h.proc.CancelJob(ctx, "user-1", id)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusCancelled, cancelled.Status)
	close(release)

	require.Eventually(t, func() bool {
		inFlight, _ := h.proc.slots.snapshot()
		return inFlight == 0
	}, waitFor, pollInt)

	job, err := h.jobs.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusCancelled, job.Status)
	require.Empty(t, job.LastSnapshot)
	execs, err := h.executions.ListExecutions(ctx, monitor.ExecutionFilter{JobID: id})
	require.NoError(t, err)
	require.Empty(t, execs)
}

func TestAddJobValidation(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.proc.deps.Blocklist = blocklist.New([]string{"*.corp.test"})
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		mutate func(*monitor.JobSpec)
		check  func(error) bool
	}{
		{
			name:   "missing user",
			userID: "",
			mutate: func(*monitor.JobSpec) {},
			check:  isAuthorization,
		},
		{
			name:   "bad url",
			userID: "user-1",
			mutate: func(s *monitor.JobSpec) { s.URL = "ftp://nope" },
			check:  isValidation,
		},
		{
			name:   "bad cron",
			userID: "user-1",
			mutate: func(s *monitor.JobSpec) {
				s.Frequency = monitor.Frequency{Type: monitor.FrequencyCron, Value: "not a cron"}
			},
			check: isValidation,
		},
		{
			name:   "bad selector",
			userID: "user-1",
			mutate: func(s *monitor.JobSpec) { s.Config.PricingSelectors = []string{"div[["} },
			check:  isValidation,
		},
		{
			name:   "blocked domain",
			userID: "user-1",
			mutate: func(s *monitor.JobSpec) { s.URL = "https://intranet.corp.test/prices" },
			check:  isValidation,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec := pricingSpec()
			tc.mutate(&spec)
			_, err := h.proc.AddJob(ctx, tc.userID, spec)
			require.Error(t, err)
			require.Truef(t, tc.check(err), "unexpected error %v", err)
		})
	}

	counts, err := h.jobs.CountByStatus(ctx)
	require.NoError(t, err)
	require.Zero(t, counts[monitor.JobStatusPending])
}

func TestAddJobEnforcesHourlyBudget(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.proc.deps.Flags = budget.NewStaticFlags(2, map[string]int{"vip": 0})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.proc.AddJob(ctx, "user-1", pricingSpec())
		require.NoError(t, err)
	}
	_, err := h.proc.AddJob(ctx, "user-1", pricingSpec())
	var budgetErr *monitor.BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	require.Equal(t, 2, budgetErr.Limit)

	_, err = h.proc.AddJob(ctx, "user-2", pricingSpec())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = h.proc.AddJob(ctx, "vip", pricingSpec())
		require.NoError(t, err)
	}

	h.clock.Advance(time.Hour + time.Second)
	_, err = h.proc.AddJob(ctx, "user-1", pricingSpec())
	require.NoError(t, err)
}

func TestJobOperationsCheckOwnership(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	id, err := h.proc.AddJob(ctx, "user-1", pricingSpec())
	require.NoError(t, err)

	_, err = h.proc.GetJob(ctx, "user-2", id)
	require.True(t, isAuthorization(err))
	_, err = h.proc.CancelJob(ctx, "user-2", id)
	require.True(t, isAuthorization(err))
	_, err = h.proc.ListExecutions(ctx, "user-2", id, 10)
	require.True(t, isAuthorization(err))
	_, err = h.proc.GetJob(ctx, "", id)
	require.True(t, isAuthorization(err))
	_, err = h.proc.GetJob(ctx, "user-1", "missing")
	require.ErrorIs(t, err, monitor.ErrJobNotFound)

	jobs, err := h.proc.ListJobs(ctx, "user-2", monitor.JobFilter{})
	require.NoError(t, err)
	require.Empty(t, jobs)
	jobs, err = h.proc.ListJobs(ctx, "user-1", monitor.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestLifecycleOperations(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	id, err := h.proc.AddJob(ctx, "user-1", pricingSpec())
	require.NoError(t, err)

	job, err := h.proc.PauseJob(ctx, "user-1", id)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusPaused, job.Status)

	_, err = h.proc.PauseJob(ctx, "user-1", id)
	require.ErrorIs(t, err, monitor.ErrStatusConflict)
	_, err = h.proc.TriggerJob(ctx, "user-1", id)
	require.ErrorIs(t, err, monitor.ErrStatusConflict)

	h.clock.Advance(10 * time.Minute)
	job, err = h.proc.ResumeJob(ctx, "user-1", id)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusPending, job.Status)
	require.Equal(t, h.clock.Now(), *job.NextRunAt)

	_, err = h.proc.ResetJob(ctx, "user-1", id)
	require.ErrorIs(t, err, monitor.ErrStatusConflict)

	_, err = h.jobs.UpdateJob(ctx, id, monitor.JobPatch{
		Status:     monitor.Ptr(monitor.JobStatusFailed),
		RetryCount: monitor.Ptr(3),
		LastError:  monitor.Ptr("boom"),
	})
	require.NoError(t, err)
	job, err = h.proc.ResetJob(ctx, "user-1", id)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusPending, job.Status)
	require.Zero(t, job.RetryCount)
	require.Empty(t, job.LastError)

	h.clock.Advance(time.Minute)
	job, err = h.proc.TriggerJob(ctx, "user-1", id)
	require.NoError(t, err)
	require.Equal(t, h.clock.Now(), *job.NextRunAt)

	job, err = h.proc.CancelJob(ctx, "user-1", id)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusCancelled, job.Status)
	_, err = h.proc.ResumeJob(ctx, "user-1", id)
	require.ErrorIs(t, err, monitor.ErrStatusConflict)
}

func TestManualJobRunsOnlyWhenTriggered(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	spec := pricingSpec()
	spec.Frequency = monitor.Frequency{Type: monitor.FrequencyManual}
	id, err := h.proc.AddJob(ctx, "user-1", spec)
	require.NoError(t, err)

	job, err := h.proc.GetJob(ctx, "user-1", id)
	require.NoError(t, err)
	require.Nil(t, job.NextRunAt)

	require.NoError(t, h.proc.Start(ctx))
	t.Cleanup(h.proc.Stop)
	h.proc.tick(ctx)
	require.Zero(t, h.fetcher.callCount())

	_, err = h.proc.TriggerJob(ctx, "user-1", id)
	require.NoError(t, err)
	h.proc.tick(ctx)
	h.waitExecutions(t, id, 1)

	job, err = h.jobs.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusPending, job.Status)
	require.Nil(t, job.NextRunAt)
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, h.proc.Start(cancelled), ErrProcessorStopped)

	require.NoError(t, h.proc.Start(context.Background()))
	require.ErrorIs(t, h.proc.Start(context.Background()), ErrAlreadyRunning)
	require.True(t, h.proc.IsRunning())

	status, err := h.proc.HealthStatus(context.Background())
	require.NoError(t, err)
	require.True(t, status.IsRunning)
	require.Equal(t, 100.0, status.Health.HealthScore)

	h.proc.Stop()
	h.proc.Stop()
	require.False(t, h.proc.IsRunning())
}

func TestRequeueReturnsClaimedJobsToPending(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	job := seedJob("job-1", "user-1")
	require.NoError(t, h.jobs.CreateJob(ctx, job))
	ok, err := h.jobs.TryClaim(ctx, job.ID, baseTime)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, h.proc.slots.tryAcquire("user-1"))

	h.proc.requeue([]monitor.Job{job})

	stored, err := h.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusPending, stored.Status)
	require.Nil(t, stored.ClaimedAt)
	inFlight, _ := h.proc.slots.snapshot()
	require.Zero(t, inFlight)
}

func TestPanickedExecutionReleasesClaim(t *testing.T) {
	runner := newFakeRunner()
	runner.panics = true
	h := newHarness(t, Config{}, runner)
	ctx := context.Background()
	require.NoError(t, h.jobs.CreateJob(ctx, seedJob("job-1", "user-1")))
	require.NoError(t, h.proc.Start(ctx))
	t.Cleanup(h.proc.Stop)

	require.Eventually(t, func() bool {
		inFlight, _ := h.proc.slots.snapshot()
		return len(runner.called()) == 1 && inFlight == 0
	}, waitFor, pollInt)

	stored, err := h.jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusPending, stored.Status)
	require.Nil(t, stored.ClaimedAt)
}

func TestPanicReleaseLeavesNewerClaim(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	job := seedJob("job-1", "user-1")
	require.NoError(t, h.jobs.CreateJob(ctx, job))
	ok, err := h.jobs.TryClaim(ctx, job.ID, baseTime)
	require.NoError(t, err)
	require.True(t, ok)
	stale, err := h.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)

	_, err = h.jobs.RecoverStale(ctx, baseTime.Add(time.Minute), baseTime)
	require.NoError(t, err)
	newer := baseTime.Add(time.Hour)
	ok, err = h.jobs.TryClaim(ctx, job.ID, newer)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, h.proc.slots.tryAcquire("user-1"))

	h.proc.finish(worker.Outcome{Job: stale, Panicked: true})

	stored, err := h.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusRunning, stored.Status)
	require.Equal(t, newer, *stored.ClaimedAt)
	inFlight, _ := h.proc.slots.snapshot()
	require.Zero(t, inFlight)
	status, err := h.proc.HealthStatus(ctx)
	require.NoError(t, err)
	require.Empty(t, status.LastPersistenceError)
}

func TestRecoverStaleRunningJobs(t *testing.T) {
	h := newHarness(t, Config{StaleAfter: 10 * time.Minute}, nil)
	ctx := context.Background()
	for _, id := range []string{"old", "fresh"} {
		require.NoError(t, h.jobs.CreateJob(ctx, seedJob(id, "user-1")))
	}
	ok, err := h.jobs.TryClaim(ctx, "old", baseTime.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = h.jobs.TryClaim(ctx, "fresh", baseTime.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	h.proc.recoverStale(ctx)

	old, err := h.jobs.GetJob(ctx, "old")
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusPending, old.Status)
	fresh, err := h.jobs.GetJob(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusRunning, fresh.Status)
}

func TestPersistenceErrorSurfacesInHealth(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.proc.finish(worker.Outcome{
		Job:        seedJob("job-1", "user-1"),
		PersistErr: &monitor.PersistenceError{Op: "update_job", Err: errors.New("connection refused")},
	})

	status, err := h.proc.HealthStatus(context.Background())
	require.NoError(t, err)
	require.False(t, status.IsRunning)
	require.Contains(t, status.LastPersistenceError, "connection refused")
	require.NotNil(t, status.LastPersistenceErrorAt)
}

func TestUserReport(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	_, err := h.proc.AddJob(ctx, "user-1", pricingSpec())
	require.NoError(t, err)

	report, err := h.proc.UserReport(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, report.Summary.TotalUserJobs)

	_, err = h.proc.UserReport(ctx, "")
	require.True(t, isAuthorization(err))
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Config{}, nil)
	require.Error(t, err)
}

type harness struct {
	proc       *Processor
	jobs       *memory.JobStore
	executions *memory.ExecutionStore
	fetcher    *fakeFetcher
	robots     *fakeRobots
	publisher  *publisherRecorder
	clock      *system.Manual
}

// newHarness wires a processor over memory stores and a real executor.
// A non-nil runner replaces the executor.
func newHarness(t *testing.T, cfg Config, runner worker.Runner) *harness {
	t.Helper()
	h := &harness{
		jobs:       memory.NewJobStore(),
		executions: memory.NewExecutionStore(0),
		fetcher:    &fakeFetcher{body: pricePage("$10 per month")},
		robots:     &fakeRobots{allowed: true},
		publisher:  &publisherRecorder{},
		clock:      system.NewManual(baseTime),
	}
	if runner == nil {
		exec, err := worker.NewExecutor(worker.Deps{
			Jobs:       h.jobs,
			Executions: h.executions,
			Fetcher:    h.fetcher,
			Robots:     h.robots,
			Limiter:    noopLimiter{},
			Detector:   changedetect.New(0),
			Retry:      monitor.NewExponentialRetryPolicy(time.Minute, time.Hour, 0),
			Publisher:  h.publisher,
			Hasher:     sha256.New(),
			Clock:      h.clock,
			IDs:        &sequenceIDs{prefix: "exec"},
		}, worker.Config{Topic: "competitor-changes"}, zap.NewNop())
		require.NoError(t, err)
		runner = exec
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Hour
	}
	if cfg.RecoveryInterval == 0 {
		cfg.RecoveryInterval = time.Hour
	}
	proc, err := New(Deps{
		Jobs:       h.jobs,
		Executions: h.executions,
		Scheduler:  scheduler.New(h.jobs, scheduler.Config{}),
		Runner:     runner,
		Clock:      h.clock,
		IDs:        &sequenceIDs{prefix: "job"},
	}, cfg, zap.NewNop())
	require.NoError(t, err)
	h.proc = proc
	return h
}

// waitExecutions blocks until jobID has n recorded executions and returns
// them newest first.
func (h *harness) waitExecutions(t *testing.T, jobID string, n int) []monitor.ExecutionResult {
	t.Helper()
	var execs []monitor.ExecutionResult
	require.Eventually(t, func() bool {
		var err error
		execs, err = h.executions.ListExecutions(context.Background(), monitor.ExecutionFilter{JobID: jobID})
		return err == nil && len(execs) == n
	}, waitFor, pollInt)
	return execs
}

func pricingSpec() monitor.JobSpec {
	return monitor.JobSpec{
		CompetitorID: "comp-1",
		Type:         monitor.JobTypePricing,
		URL:          "https://competitor.example/pricing",
		Frequency:    monitor.Frequency{Type: monitor.FrequencyInterval, Value: "1h"},
		Config:       monitor.ConfigInput{PricingSelectors: []string{".price"}},
	}
}

func seedJob(id, userID string) monitor.Job {
	return monitor.Job{
		ID:           id,
		UserID:       userID,
		CompetitorID: "comp-1",
		Type:         monitor.JobTypeWebsite,
		URL:          "https://competitor.example/",
		Priority:     monitor.PriorityMedium,
		Frequency:    monitor.Frequency{Type: monitor.FrequencyInterval, Value: "1h", Timezone: "UTC"},
		Config:       monitor.JobConfig{TimeoutMs: 30000, Website: &monitor.WebsiteConfig{}},
		Status:       monitor.JobStatusPending,
		MaxRetries:   3,
		NextRunAt:    monitor.PointerTime(baseTime),
		CreatedAt:    baseTime.Add(-time.Hour),
		UpdatedAt:    baseTime.Add(-time.Hour),
	}
}

func pricePage(text string) string {
	return `<html><body><div class="price">` + text + `</div></body></html>`
}

func isAuthorization(err error) bool {
	var target *monitor.AuthorizationError
	return errors.As(err, &target)
}

func isValidation(err error) bool {
	var target *monitor.ValidationError
	return errors.As(err, &target)
}

type fakeFetcher struct {
	mu      sync.Mutex
	body    string
	err     error
	onFetch func()
	calls   int
}

func (f *fakeFetcher) Fetch(_ context.Context, req monitor.FetchRequest) (monitor.FetchResponse, error) {
	f.mu.Lock()
	f.calls++
	onFetch, body, err := f.onFetch, f.body, f.err
	f.mu.Unlock()
	if onFetch != nil {
		onFetch()
	}
	if err != nil {
		return monitor.FetchResponse{}, err
	}
	return monitor.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func (f *fakeFetcher) setBody(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body = body
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRobots struct {
	allowed bool
}

func (r *fakeRobots) Allowed(context.Context, string) bool { return r.allowed }

type noopLimiter struct{}

func (noopLimiter) Wait(context.Context, string) error { return nil }

type publisherRecorder struct {
	mu       sync.Mutex
	messages []any
}

func (p *publisherRecorder) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, payload)
	return "msg-" + strconv.Itoa(len(p.messages)), nil
}

func (p *publisherRecorder) Messages() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.messages...)
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []string
	block  chan struct{}
	panics bool
}

func newFakeRunner() *fakeRunner { return &fakeRunner{} }

func (r *fakeRunner) Execute(_ context.Context, job monitor.Job) worker.Outcome {
	r.mu.Lock()
	r.calls = append(r.calls, job.ID)
	block := r.block
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	if r.panics {
		panic("selector engine crashed")
	}
	return worker.Outcome{Job: job}
}

func (r *fakeRunner) called() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type sequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.prefix + "-" + strconv.Itoa(s.n), nil
}
