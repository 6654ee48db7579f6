package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

const (
	defaultExecutionsTable = "job_executions"

	executionColumns = `id, job_id, user_id, attempt, started_at, completed_at, execution_time_ms,
	success, error, error_kind, status_code, change_detected, diff_ratio, snapshot_hash, blob_uri`
)

// ExecutionStore writes one row per job attempt.
type ExecutionStore struct {
	db    querier
	table string
}

// NewExecutionStore builds an ExecutionStore on db.
func NewExecutionStore(db querier, table string) (*ExecutionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultExecutionsTable)
	if err != nil {
		return nil, err
	}
	return &ExecutionStore{db: db, table: name}, nil
}

// RecordExecution inserts result.
func (s *ExecutionStore) RecordExecution(ctx context.Context, result monitor.ExecutionResult) error {
	if result.ID == "" {
		return fmt.Errorf("execution id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`, s.table, executionColumns)

	_, err := s.db.Exec(ctx, query,
		result.ID,
		result.JobID,
		result.UserID,
		result.Attempt,
		result.StartedAt,
		result.CompletedAt,
		result.ExecutionTimeMs,
		result.Success,
		result.Error,
		result.ErrorKind,
		result.StatusCode,
		result.ChangeDetected,
		result.DiffRatio,
		result.SnapshotHash,
		result.BlobURI,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// ListExecutions returns matching results, newest first.
func (s *ExecutionStore) ListExecutions(ctx context.Context, filter monitor.ExecutionFilter) ([]monitor.ExecutionResult, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE ($1 = '' OR user_id = $1)
	AND ($2 = '' OR job_id = $2)
	AND ($3::timestamptz IS NULL OR completed_at >= $3)
ORDER BY completed_at DESC, id DESC
LIMIT $4`, executionColumns, s.table)

	var since *time.Time
	if !filter.Since.IsZero() {
		since = &filter.Since
	}
	rows, err := s.db.Query(ctx, query, filter.UserID, filter.JobID, since, limitArg(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	out := make([]monitor.ExecutionResult, 0)
	for rows.Next() {
		var r monitor.ExecutionResult
		err := rows.Scan(
			&r.ID,
			&r.JobID,
			&r.UserID,
			&r.Attempt,
			&r.StartedAt,
			&r.CompletedAt,
			&r.ExecutionTimeMs,
			&r.Success,
			&r.Error,
			&r.ErrorKind,
			&r.StatusCode,
			&r.ChangeDetected,
			&r.DiffRatio,
			&r.SnapshotHash,
			&r.BlobURI,
		)
		if err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution rows: %w", err)
	}
	return out, nil
}
