// Package postgres provides Postgres-backed job and execution stores.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PoolConfig controls the shared connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the subset of *pgxpool.Pool used by the stores; pgxmock satisfies it.
type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// NewPool opens a pgx pool from cfg.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

func tableName(name, fallback string) (string, error) {
	if name == "" {
		name = fallback
	}
	if !validTableName.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}

// EnsureSchema creates the job and execution tables when they are missing.
func EnsureSchema(ctx context.Context, db querier, jobsTable, executionsTable string) error {
	jobs, err := tableName(jobsTable, defaultJobsTable)
	if err != nil {
		return err
	}
	execs, err := tableName(executionsTable, defaultExecutionsTable)
	if err != nil {
		return err
	}
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id                 text PRIMARY KEY,
	user_id            text NOT NULL,
	competitor_id      text NOT NULL,
	job_type           text NOT NULL,
	url                text NOT NULL,
	priority           text NOT NULL,
	frequency          jsonb NOT NULL,
	config             jsonb NOT NULL,
	status             text NOT NULL,
	retry_count        integer NOT NULL DEFAULT 0,
	max_retries        integer NOT NULL,
	next_run_at        timestamptz,
	last_run_at        timestamptz,
	claimed_at         timestamptz,
	last_error         text NOT NULL DEFAULT '',
	last_snapshot      text NOT NULL DEFAULT '',
	last_snapshot_hash text NOT NULL DEFAULT '',
	created_at         timestamptz NOT NULL,
	updated_at         timestamptz NOT NULL
)`, jobs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_due_idx ON %s (status, next_run_at)`, jobs, jobs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_user_idx ON %s (user_id, created_at)`, jobs, jobs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id                text PRIMARY KEY,
	job_id            text NOT NULL,
	user_id           text NOT NULL,
	attempt           integer NOT NULL,
	started_at        timestamptz NOT NULL,
	completed_at      timestamptz NOT NULL,
	execution_time_ms bigint NOT NULL,
	success           boolean NOT NULL,
	error             text NOT NULL DEFAULT '',
	error_kind        text NOT NULL DEFAULT '',
	status_code       integer NOT NULL DEFAULT 0,
	change_detected   boolean NOT NULL DEFAULT false,
	diff_ratio        double precision NOT NULL DEFAULT 0,
	snapshot_hash     text NOT NULL DEFAULT '',
	blob_uri          text NOT NULL DEFAULT ''
)`, execs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_user_idx ON %s (user_id, completed_at DESC)`, execs, execs),
	}
	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
