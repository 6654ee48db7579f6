// Package memory provides in-process stores for development and tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

// JobStore keeps jobs in a map with a per-user index.
type JobStore struct {
	mu     sync.RWMutex
	jobs   map[string]monitor.Job
	byUser map[string][]string
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:   make(map[string]monitor.Job),
		byUser: make(map[string][]string),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job monitor.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return monitor.ErrJobExists
	}
	s.jobs[job.ID] = cloneJob(job)
	s.byUser[job.UserID] = append(s.byUser[job.UserID], job.ID)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (monitor.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return monitor.Job{}, monitor.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// ListByUser returns a user's jobs, newest first.
func (s *JobStore) ListByUser(_ context.Context, userID string, filter monitor.JobFilter) ([]monitor.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[userID]
	out := make([]monitor.Job, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		job := s.jobs[ids[i]]
		if !matchesFilter(job, filter) {
			continue
		}
		out = append(out, cloneJob(job))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// ListDue returns pending jobs whose next run is at or before now, ordered
// by priority then creation time.
func (s *JobStore) ListDue(_ context.Context, now time.Time, limit int) ([]monitor.Job, error) {
	s.mu.RLock()
	due := make([]monitor.Job, 0)
	for _, job := range s.jobs {
		if job.Status != monitor.JobStatusPending || job.NextRunAt == nil || job.NextRunAt.After(now) {
			continue
		}
		due = append(due, cloneJob(job))
	}
	s.mu.RUnlock()

	slices.SortFunc(due, CompareDue)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// TryClaim atomically moves a pending job to running.
func (s *JobStore) TryClaim(_ context.Context, jobID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, monitor.ErrJobNotFound
	}
	if job.Status != monitor.JobStatusPending {
		return false, nil
	}
	job.Status = monitor.JobStatusRunning
	job.ClaimedAt = monitor.PointerTime(now)
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return true, nil
}

// UpdateJob applies patch, honouring its status guard.
func (s *JobStore) UpdateJob(_ context.Context, jobID string, patch monitor.JobPatch) (monitor.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return monitor.Job{}, monitor.ErrJobNotFound
	}
	if !patch.Permits(job) {
		return cloneJob(job), monitor.ErrStatusConflict
	}
	patch.Apply(&job)
	s.jobs[jobID] = job
	return cloneJob(job), nil
}

// CancelJob soft-deletes a job. Cancelling twice is a no-op.
func (s *JobStore) CancelJob(_ context.Context, jobID string, now time.Time) (monitor.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return monitor.Job{}, monitor.ErrJobNotFound
	}
	if job.Status == monitor.JobStatusCancelled {
		return cloneJob(job), nil
	}
	if !monitor.CanTransition(job.Status, monitor.JobStatusCancelled) {
		return cloneJob(job), monitor.ErrStatusConflict
	}
	job.Status = monitor.JobStatusCancelled
	job.NextRunAt = nil
	job.ClaimedAt = nil
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return cloneJob(job), nil
}

// CountByStatus tallies jobs per status.
func (s *JobStore) CountByStatus(_ context.Context) (map[monitor.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[monitor.JobStatus]int, len(monitor.AllStatuses))
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// CountCreatedSince counts jobs a user created at or after since.
func (s *JobStore) CountCreatedSince(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, id := range s.byUser[userID] {
		if !s.jobs[id].CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// RecoverStale returns jobs claimed before cutoff to pending so they run again.
func (s *JobStore) RecoverStale(_ context.Context, cutoff, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, job := range s.jobs {
		if job.Status != monitor.JobStatusRunning || job.ClaimedAt == nil || !job.ClaimedAt.Before(cutoff) {
			continue
		}
		job.Status = monitor.JobStatusPending
		job.ClaimedAt = nil
		job.NextRunAt = monitor.PointerTime(now)
		job.UpdatedAt = now
		s.jobs[id] = job
		n++
	}
	return n, nil
}

// CompareDue orders jobs by descending priority, then oldest first.
func CompareDue(a, b monitor.Job) int {
	if c := cmp.Compare(b.Priority.Rank(), a.Priority.Rank()); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func matchesFilter(job monitor.Job, filter monitor.JobFilter) bool {
	if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, job.Status) {
		return false
	}
	if len(filter.Types) > 0 && !slices.Contains(filter.Types, job.Type) {
		return false
	}
	if filter.CompetitorID != "" && job.CompetitorID != filter.CompetitorID {
		return false
	}
	return true
}

func cloneJob(job monitor.Job) monitor.Job {
	if job.NextRunAt != nil {
		job.NextRunAt = monitor.PointerTime(*job.NextRunAt)
	}
	if job.LastRunAt != nil {
		job.LastRunAt = monitor.PointerTime(*job.LastRunAt)
	}
	if job.ClaimedAt != nil {
		job.ClaimedAt = monitor.PointerTime(*job.ClaimedAt)
	}
	job.Config = job.Config.Clone()
	return job
}
