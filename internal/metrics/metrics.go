// Package metrics exposes Prometheus collectors for the monitoring service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	executionsTotal            *prometheus.CounterVec
	executionDurationSeconds   *prometheus.HistogramVec
	changesDetectedTotal       *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	claimsTotal                *prometheus.CounterVec
	retriesScheduledTotal      prometheus.Counter
	jobsFailedTotal            *prometheus.CounterVec
	persistenceErrorsTotal     *prometheus.CounterVec
	publishErrorsTotal         prometheus.Counter
	admissionsTotal            *prometheus.CounterVec
	recoveredJobsTotal         prometheus.Counter
	inflightJobs               prometheus.Gauge
	tickDurationSeconds        prometheus.Histogram
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		executionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_executions_total",
				Help: "Job executions, labeled by job type and outcome.",
			},
			[]string{"job_type", "outcome"},
		)
		executionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitor_execution_duration_seconds",
				Help:    "Wall time of job executions.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"job_type"},
		)
		changesDetectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_changes_detected_total",
				Help: "Snapshots whose diff ratio met the job threshold.",
			},
			[]string{"job_type"},
		)
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_fetch_bytes_total",
				Help: "Bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)
		claimsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_claims_total",
				Help: "Claim attempts on due jobs, labeled by result.",
			},
			[]string{"result"},
		)
		retriesScheduledTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_retries_scheduled_total",
				Help: "Failed executions rescheduled with backoff.",
			},
		)
		jobsFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_jobs_failed_total",
				Help: "Jobs moved to the failed state, labeled by error kind.",
			},
			[]string{"kind"},
		)
		persistenceErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_persistence_errors_total",
				Help: "Store writes that failed, labeled by operation.",
			},
			[]string{"op"},
		)
		publishErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_publish_errors_total",
				Help: "Change events that could not be published.",
			},
		)
		admissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_admissions_total",
				Help: "Job creation requests, labeled by result.",
			},
			[]string{"result"},
		)
		recoveredJobsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_recovered_jobs_total",
				Help: "Stale running jobs returned to pending.",
			},
		)
		inflightJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_inflight_jobs",
				Help: "Jobs currently holding a worker slot.",
			},
		)
		tickDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "monitor_tick_duration_seconds",
				Help:    "Time spent selecting and claiming due jobs per tick.",
				Buckets: prometheus.DefBuckets,
			},
		)
		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitor_rate_limit_delay_seconds",
				Help:    "Time spent waiting on per-domain politeness limits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveExecution records one finished execution.
func ObserveExecution(jobType, outcome string, duration time.Duration) {
	Init()
	executionsTotal.WithLabelValues(jobType, outcome).Inc()
	executionDurationSeconds.WithLabelValues(jobType).Observe(duration.Seconds())
}

// ObserveChange counts a detected change.
func ObserveChange(jobType string) {
	Init()
	changesDetectedTotal.WithLabelValues(jobType).Inc()
}

// ObserveFetch records bytes fetched from a site.
func ObserveFetch(rawURL string, bytesFetched int) {
	Init()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(bytesFetched))
	}
}

// ObserveClaim records a claim attempt: "won", "lost", "user_cap" or "error".
func ObserveClaim(result string) {
	Init()
	claimsTotal.WithLabelValues(result).Inc()
}

// ObserveRetryScheduled counts a backoff reschedule.
func ObserveRetryScheduled() {
	Init()
	retriesScheduledTotal.Inc()
}

// ObserveJobFailed counts a terminal failure.
func ObserveJobFailed(kind string) {
	Init()
	jobsFailedTotal.WithLabelValues(kind).Inc()
}

// ObservePersistenceError counts a failed store write.
func ObservePersistenceError(op string) {
	Init()
	persistenceErrorsTotal.WithLabelValues(op).Inc()
}

// ObservePublishError counts a change event that could not be published.
func ObservePublishError() {
	Init()
	publishErrorsTotal.Inc()
}

// ObserveAdmission records an admission decision.
func ObserveAdmission(result string) {
	Init()
	admissionsTotal.WithLabelValues(result).Inc()
}

// ObserveRecovered counts jobs recovered from a stale running state.
func ObserveRecovered(n int) {
	Init()
	if n > 0 {
		recoveredJobsTotal.Add(float64(n))
	}
}

// SetInflight sets the in-flight gauge.
func SetInflight(n int) {
	Init()
	inflightJobs.Set(float64(n))
}

// ObserveTick records how long a scheduling tick took.
func ObserveTick(duration time.Duration) {
	Init()
	tickDurationSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
