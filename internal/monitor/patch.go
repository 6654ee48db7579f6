package monitor

import (
	"slices"
	"time"
)

var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:   {JobStatusRunning, JobStatusPaused, JobStatusCancelled},
	JobStatusRunning:   {JobStatusPending, JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusPaused:    {JobStatusPending, JobStatusCancelled},
	JobStatusCompleted: {JobStatusPending, JobStatusCancelled},
	JobStatusFailed:    {JobStatusPending, JobStatusCancelled},
	JobStatusCancelled: {},
}

// CanTransition reports whether the lifecycle permits moving from one status to another.
func CanTransition(from, to JobStatus) bool {
	return slices.Contains(transitions[from], to)
}

// JobPatch is a partial job update. A non-empty IfStatus makes the write
// conditional on the job's current status; IfClaimedAt additionally requires
// the stored claim to be the one the caller holds.
type JobPatch struct {
	IfStatus    []JobStatus
	IfClaimedAt *time.Time

	Status           *JobStatus
	RetryCount       *int
	NextRunAt        *time.Time
	ClearNextRunAt   bool
	LastRunAt        *time.Time
	LastError        *string
	LastSnapshot     *string
	LastSnapshotHash *string
	UpdatedAt        time.Time
}

// Permits reports whether the guards accept the stored job.
func (p JobPatch) Permits(current Job) bool {
	if len(p.IfStatus) > 0 && !slices.Contains(p.IfStatus, current.Status) {
		return false
	}
	if p.IfClaimedAt != nil && (current.ClaimedAt == nil || !current.ClaimedAt.Equal(*p.IfClaimedAt)) {
		return false
	}
	return true
}

// Apply mutates job in place. Callers check Permits first.
func (p JobPatch) Apply(job *Job) {
	if p.Status != nil {
		job.Status = *p.Status
		if *p.Status != JobStatusRunning {
			job.ClaimedAt = nil
		}
	}
	if p.RetryCount != nil {
		job.RetryCount = *p.RetryCount
	}
	if p.ClearNextRunAt {
		job.NextRunAt = nil
	} else if p.NextRunAt != nil {
		job.NextRunAt = PointerTime(*p.NextRunAt)
	}
	if p.LastRunAt != nil {
		job.LastRunAt = PointerTime(*p.LastRunAt)
	}
	if p.LastError != nil {
		job.LastError = *p.LastError
	}
	if p.LastSnapshot != nil {
		job.LastSnapshot = *p.LastSnapshot
	}
	if p.LastSnapshotHash != nil {
		job.LastSnapshotHash = *p.LastSnapshotHash
	}
	if !p.UpdatedAt.IsZero() {
		job.UpdatedAt = p.UpdatedAt
	}
}

// StatusPatch builds a guarded status change, the common case for pause/resume/reset.
func StatusPatch(to JobStatus, now time.Time, from ...JobStatus) JobPatch {
	return JobPatch{
		IfStatus:  from,
		Status:    &to,
		UpdatedAt: now,
	}
}

// ReleaseClaim returns a running job to pending, provided claimedAt is still
// the stored claim.
func ReleaseClaim(claimedAt *time.Time, now time.Time) JobPatch {
	patch := StatusPatch(JobStatusPending, now, JobStatusRunning)
	if claimedAt != nil {
		patch.IfClaimedAt = PointerTime(*claimedAt)
	}
	return patch
}

// ClaimTime normalizes a claim timestamp to the microsecond precision stores
// keep, so the value handed to a worker compares equal to the stored one.
func ClaimTime(now time.Time) time.Time {
	return now.Truncate(time.Microsecond)
}

// PointerTime returns a pointer to a copy of t.
func PointerTime(t time.Time) *time.Time {
	return &t
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
