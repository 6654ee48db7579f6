package monitor

import (
	"context"
	"io"
	"time"
)

// JobStore persists monitoring jobs. TryClaim is the only path into running.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListByUser(ctx context.Context, userID string, filter JobFilter) ([]Job, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
	TryClaim(ctx context.Context, jobID string, now time.Time) (bool, error)
	UpdateJob(ctx context.Context, jobID string, patch JobPatch) (Job, error)
	CancelJob(ctx context.Context, jobID string, now time.Time) (Job, error)
	CountByStatus(ctx context.Context) (map[JobStatus]int, error)
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
	RecoverStale(ctx context.Context, cutoff, now time.Time) (int, error)
}

// ExecutionStore keeps the execution history used for metrics and health.
type ExecutionStore interface {
	RecordExecution(ctx context.Context, result ExecutionResult) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]ExecutionResult, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes change events to a broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RobotsPolicy answers whether a URL may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Limiter paces requests per domain.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// FlagProvider exposes per-user feature caps.
type FlagProvider interface {
	HourlyJobCap(ctx context.Context, userID string) (int, error)
}

// Hasher computes digests for snapshots.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and execution IDs.
type IDGenerator interface {
	NewID() (string, error)
}
