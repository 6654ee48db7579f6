package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

const (
	defaultJobsTable = "monitoring_jobs"

	jobColumns = `id, user_id, competitor_id, job_type, url, priority, frequency, config,
	status, retry_count, max_retries, next_run_at, last_run_at, claimed_at,
	last_error, last_snapshot, last_snapshot_hash, created_at, updated_at`

	priorityRank = `CASE priority WHEN 'critical' THEN 3 WHEN 'high' THEN 2 WHEN 'low' THEN 0 ELSE 1 END`
)

type scanner interface {
	Scan(dest ...any) error
}

// JobStore persists monitoring jobs in a single table.
type JobStore struct {
	db    querier
	table string
}

// NewJobStore builds a JobStore on db (a *pgxpool.Pool or a pgxmock pool in tests).
func NewJobStore(db querier, table string) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultJobsTable)
	if err != nil {
		return nil, err
	}
	return &JobStore{db: db, table: name}, nil
}

// CreateJob inserts job; a duplicate ID yields monitor.ErrJobExists.
func (s *JobStore) CreateJob(ctx context.Context, job monitor.Job) error {
	frequency, err := json.Marshal(job.Frequency)
	if err != nil {
		return fmt.Errorf("marshal frequency: %w", err)
	}
	config, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
ON CONFLICT (id) DO NOTHING`, s.table, jobColumns)

	tag, err := s.db.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.CompetitorID,
		string(job.Type),
		job.URL,
		string(job.Priority),
		frequency,
		config,
		string(job.Status),
		job.RetryCount,
		job.MaxRetries,
		job.NextRunAt,
		job.LastRunAt,
		job.ClaimedAt,
		job.LastError,
		job.LastSnapshot,
		job.LastSnapshotHash,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrJobExists
	}
	return nil
}

// GetJob fetches one job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (monitor.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.table)
	job, err := scanJob(s.db.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Job{}, monitor.ErrJobNotFound
	}
	if err != nil {
		return monitor.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListByUser returns a user's jobs, newest first.
func (s *JobStore) ListByUser(ctx context.Context, userID string, filter monitor.JobFilter) ([]monitor.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE user_id = $1
	AND ($2::text[] IS NULL OR status = ANY($2))
	AND ($3::text[] IS NULL OR job_type = ANY($3))
	AND ($4 = '' OR competitor_id = $4)
ORDER BY created_at DESC, id DESC
LIMIT $5`, jobColumns, s.table)

	rows, err := s.db.Query(ctx, query,
		userID,
		stringSlice(filter.Statuses),
		stringSlice(filter.Types),
		filter.CompetitorID,
		limitArg(filter.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListDue returns pending jobs whose next run has arrived, highest priority first.
func (s *JobStore) ListDue(ctx context.Context, now time.Time, limit int) ([]monitor.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE status = 'pending' AND next_run_at IS NOT NULL AND next_run_at <= $1
ORDER BY %s DESC, created_at ASC, id ASC
LIMIT $2`, jobColumns, s.table, priorityRank)

	rows, err := s.db.Query(ctx, query, now, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	return collectJobs(rows)
}

// TryClaim flips pending to running in a single conditional UPDATE.
func (s *JobStore) TryClaim(ctx context.Context, jobID string, now time.Time) (bool, error) {
	query := fmt.Sprintf(`
UPDATE %s SET status = 'running', claimed_at = $2, updated_at = $2
WHERE id = $1 AND status = 'pending'`, s.table)

	tag, err := s.db.Exec(ctx, query, jobID, now)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	exists, err := s.exists(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, monitor.ErrJobNotFound
	}
	return false, nil
}

// UpdateJob applies patch in one statement, guarded by patch.IfStatus.
func (s *JobStore) UpdateJob(ctx context.Context, jobID string, patch monitor.JobPatch) (monitor.Job, error) {
	sets, args := patchAssignments(patch)
	if len(sets) == 0 {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			return monitor.Job{}, err
		}
		if !patch.Permits(job) {
			return job, monitor.ErrStatusConflict
		}
		return job, nil
	}

	args = append([]any{jobID}, args...)
	where := "id = $1"
	if len(patch.IfStatus) > 0 {
		args = append(args, stringSlice(patch.IfStatus))
		where += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if patch.IfClaimedAt != nil {
		args = append(args, *patch.IfClaimedAt)
		where += fmt.Sprintf(" AND claimed_at = $%d", len(args))
	}
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s RETURNING %s`,
		s.table, strings.Join(sets, ", "), where, jobColumns)

	job, err := scanJob(s.db.QueryRow(ctx, query, args...))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return monitor.Job{}, fmt.Errorf("update job: %w", err)
	}
	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return monitor.Job{}, getErr
	}
	return current, monitor.ErrStatusConflict
}

// CancelJob soft-deletes a job. Cancelling twice is a no-op.
func (s *JobStore) CancelJob(ctx context.Context, jobID string, now time.Time) (monitor.Job, error) {
	var from []monitor.JobStatus
	for _, st := range monitor.AllStatuses {
		if monitor.CanTransition(st, monitor.JobStatusCancelled) {
			from = append(from, st)
		}
	}
	query := fmt.Sprintf(`
UPDATE %s SET status = 'cancelled', next_run_at = NULL, claimed_at = NULL, updated_at = $2
WHERE id = $1 AND status = ANY($3)
RETURNING %s`, s.table, jobColumns)

	job, err := scanJob(s.db.QueryRow(ctx, query, jobID, now, stringSlice(from)))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return monitor.Job{}, fmt.Errorf("cancel job: %w", err)
	}
	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return monitor.Job{}, getErr
	}
	if current.Status == monitor.JobStatusCancelled {
		return current, nil
	}
	return current, monitor.ErrStatusConflict
}

// CountByStatus tallies jobs per status.
func (s *JobStore) CountByStatus(ctx context.Context) (map[monitor.JobStatus]int, error) {
	query := fmt.Sprintf(`SELECT status, count(*) FROM %s GROUP BY status`, s.table)
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[monitor.JobStatus]int, len(monitor.AllStatuses))
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[monitor.JobStatus(status)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return counts, nil
}

// CountCreatedSince counts jobs a user created at or after since.
func (s *JobStore) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE user_id = $1 AND created_at >= $2`, s.table)
	var n int64
	if err := s.db.QueryRow(ctx, query, userID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count created jobs: %w", err)
	}
	return int(n), nil
}

// RecoverStale returns jobs claimed before cutoff to pending.
func (s *JobStore) RecoverStale(ctx context.Context, cutoff, now time.Time) (int, error) {
	query := fmt.Sprintf(`
UPDATE %s SET status = 'pending', claimed_at = NULL, next_run_at = $2, updated_at = $2
WHERE status = 'running' AND claimed_at < $1`, s.table)

	tag, err := s.db.Exec(ctx, query, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *JobStore) exists(ctx context.Context, jobID string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.table)
	var ok bool
	if err := s.db.QueryRow(ctx, query, jobID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check job: %w", err)
	}
	return ok, nil
}

// patchAssignments renders the SET list; placeholders start at $2 because $1 is the ID.
func patchAssignments(p monitor.JobPatch) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)+1))
	}
	if p.Status != nil {
		add("status", string(*p.Status))
		if *p.Status != monitor.JobStatusRunning {
			sets = append(sets, "claimed_at = NULL")
		}
	}
	if p.RetryCount != nil {
		add("retry_count", *p.RetryCount)
	}
	if p.ClearNextRunAt {
		sets = append(sets, "next_run_at = NULL")
	} else if p.NextRunAt != nil {
		add("next_run_at", *p.NextRunAt)
	}
	if p.LastRunAt != nil {
		add("last_run_at", *p.LastRunAt)
	}
	if p.LastError != nil {
		add("last_error", *p.LastError)
	}
	if p.LastSnapshot != nil {
		add("last_snapshot", *p.LastSnapshot)
	}
	if p.LastSnapshotHash != nil {
		add("last_snapshot_hash", *p.LastSnapshotHash)
	}
	if !p.UpdatedAt.IsZero() {
		add("updated_at", p.UpdatedAt)
	}
	return sets, args
}

func collectJobs(rows pgx.Rows) ([]monitor.Job, error) {
	defer rows.Close()
	jobs := make([]monitor.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

func scanJob(row scanner) (monitor.Job, error) {
	var (
		job                             monitor.Job
		jobType, priority, status       string
		frequency, config               []byte
		nextRunAt, lastRunAt, claimedAt *time.Time
	)
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.CompetitorID,
		&jobType,
		&job.URL,
		&priority,
		&frequency,
		&config,
		&status,
		&job.RetryCount,
		&job.MaxRetries,
		&nextRunAt,
		&lastRunAt,
		&claimedAt,
		&job.LastError,
		&job.LastSnapshot,
		&job.LastSnapshotHash,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return monitor.Job{}, err
	}
	if err := json.Unmarshal(frequency, &job.Frequency); err != nil {
		return monitor.Job{}, fmt.Errorf("decode frequency: %w", err)
	}
	if err := json.Unmarshal(config, &job.Config); err != nil {
		return monitor.Job{}, fmt.Errorf("decode config: %w", err)
	}
	job.Type = monitor.JobType(jobType)
	job.Priority = monitor.Priority(priority)
	job.Status = monitor.JobStatus(status)
	job.NextRunAt = nextRunAt
	job.LastRunAt = lastRunAt
	job.ClaimedAt = claimedAt
	return job, nil
}

func stringSlice[T ~string](values []T) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
