// Package main hosts the competitor monitor entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and job management endpoints. Every /v1 request
//     carries an X-User-ID header; jobs are validated, budget-checked, and stored as pending with a first run time.
//   - Processor: a tick loop (processor.tick_interval) asks the scheduler for due jobs, reserves a global and
//     per-user slot, claims each job with a compare-and-set on its status, and hands it to a bounded queue drained
//     by a fixed worker pool sized by processor.max_concurrent.
//   - Execution: workers check robots.txt, wait on the per-domain limiter, fetch with Colly (or Chromedp for social
//     jobs when headless is enabled), extract selector text with goquery, hash it, and diff it against the previous
//     snapshot. The job write-back is guarded on status=running so a cancel during the fetch discards the result.
//   - Persistence & fanout: jobs and execution history live in memory or Postgres. Raw pages are optionally archived
//     (memory/local/GCS) when their hash changes, and change events go to Pub/Sub, RabbitMQ, or an in-memory sink.
//   - Configuration & plumbing: Viper populates config from .env, files, and MONITOR_* env vars; zap provides
//     structured logging; Prometheus collectors are served on /metrics; OpenTelemetry spans wrap each execution.
//
// Operational notes:
//   - Shutdown: SIGINT/SIGTERM stops the tick loop, lets in-flight executions finish within their timeout, and
//     returns claimed-but-unstarted jobs to pending.
//   - Crash recovery: jobs left running longer than processor.stale_after are returned to pending on start and
//     every processor.recovery_interval.
//   - Multiple replicas can share one Postgres store; the status compare-and-set keeps each run single-owner.
//
// Quick checklist:
//   - Configure env vars: MONITOR_SERVER_PORT, MONITOR_STORAGE_BACKEND=postgres with MONITOR_DATABASE_DSN,
//     MONITOR_PUBLISHER_BACKEND (pubsub/amqp), MONITOR_ARCHIVE_BACKEND (local/gcs), MONITOR_HEADLESS_ENABLED.
//   - Run locally: go run ./cmd/monitor -config config.yaml (or rely solely on env overrides).
package main
