package monitor

import (
	"maps"
	"net/http"
	"slices"
	"time"
)

// JobType identifies what kind of competitor surface a job watches.
type JobType string

// Supported job types.
const (
	JobTypeWebsite  JobType = "website"
	JobTypePricing  JobType = "pricing"
	JobTypeProducts JobType = "products"
	JobTypeJobs     JobType = "jobs"
	JobTypeSocial   JobType = "social"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeWebsite, JobTypePricing, JobTypeProducts, JobTypeJobs, JobTypeSocial:
		return true
	}
	return false
}

// Priority orders due jobs when the pool is contended.
type Priority string

// Priority values from lowest to highest.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns a sortable weight; higher runs first. Unknown values rank as medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// FrequencyType selects how the next run is computed.
type FrequencyType string

// Frequency kinds.
const (
	FrequencyInterval FrequencyType = "interval"
	FrequencyCron     FrequencyType = "cron"
	FrequencyManual   FrequencyType = "manual"
)

// Frequency describes a job's schedule.
type Frequency struct {
	Type     FrequencyType `json:"type"`
	Value    string        `json:"value,omitempty"`
	Timezone string        `json:"timezone,omitempty"`
}

// JobStatus represents the lifecycle state of a monitoring job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
)

// AllStatuses lists every status in display order.
var AllStatuses = []JobStatus{
	JobStatusPending,
	JobStatusRunning,
	JobStatusPaused,
	JobStatusFailed,
	JobStatusCompleted,
	JobStatusCancelled,
}

// ChangeDetectionConfig controls snapshot comparison for a job.
type ChangeDetectionConfig struct {
	Enabled         bool     `json:"enabled"`
	Threshold       float64  `json:"threshold"`
	IgnoreSelectors []string `json:"ignoreSelectors,omitempty"`
}

// WebsiteConfig is the variant for website jobs.
type WebsiteConfig struct {
	ContentSelectors []string `json:"contentSelectors,omitempty"`
}

// PricingConfig is the variant for pricing jobs.
type PricingConfig struct {
	PricingSelectors []string `json:"pricingSelectors,omitempty"`
}

// ProductsConfig is the variant for product catalogue jobs.
type ProductsConfig struct {
	ProductSelectors []string `json:"productSelectors,omitempty"`
}

// JobsConfig is the variant for job-posting jobs.
type JobsConfig struct {
	ContentSelectors []string `json:"contentSelectors,omitempty"`
}

// SocialConfig is the variant for social profile jobs.
type SocialConfig struct {
	Platform         string   `json:"platform,omitempty"`
	ContentSelectors []string `json:"contentSelectors,omitempty"`
}

// JobConfig holds the shared knobs plus exactly one type-specific variant.
type JobConfig struct {
	ChangeDetection  ChangeDetectionConfig `json:"changeDetection"`
	Headers          map[string]string     `json:"headers,omitempty"`
	TimeoutMs        int                   `json:"timeoutMs"`
	RetryDelayMs     int                   `json:"retryDelayMs"`
	RespectRobotsTxt bool                  `json:"respectRobotsTxt"`

	Website  *WebsiteConfig  `json:"website,omitempty"`
	Pricing  *PricingConfig  `json:"pricing,omitempty"`
	Products *ProductsConfig `json:"products,omitempty"`
	Jobs     *JobsConfig     `json:"jobs,omitempty"`
	Social   *SocialConfig   `json:"social,omitempty"`
}

// Selectors returns the extraction selectors of the variant matching t.
func (c JobConfig) Selectors(t JobType) []string {
	switch t {
	case JobTypeWebsite:
		if c.Website != nil {
			return c.Website.ContentSelectors
		}
	case JobTypePricing:
		if c.Pricing != nil {
			return c.Pricing.PricingSelectors
		}
	case JobTypeProducts:
		if c.Products != nil {
			return c.Products.ProductSelectors
		}
	case JobTypeJobs:
		if c.Jobs != nil {
			return c.Jobs.ContentSelectors
		}
	case JobTypeSocial:
		if c.Social != nil {
			return c.Social.ContentSelectors
		}
	}
	return nil
}

// Timeout returns the per-execution deadline.
func (c JobConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// RetryDelay returns the job's base retry delay.
func (c JobConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// Clone returns a deep copy that shares no slices, maps or variant pointers with c.
func (c JobConfig) Clone() JobConfig {
	out := c
	out.ChangeDetection.IgnoreSelectors = slices.Clone(c.ChangeDetection.IgnoreSelectors)
	out.Headers = maps.Clone(c.Headers)
	if c.Website != nil {
		out.Website = &WebsiteConfig{ContentSelectors: slices.Clone(c.Website.ContentSelectors)}
	}
	if c.Pricing != nil {
		out.Pricing = &PricingConfig{PricingSelectors: slices.Clone(c.Pricing.PricingSelectors)}
	}
	if c.Products != nil {
		out.Products = &ProductsConfig{ProductSelectors: slices.Clone(c.Products.ProductSelectors)}
	}
	if c.Jobs != nil {
		out.Jobs = &JobsConfig{ContentSelectors: slices.Clone(c.Jobs.ContentSelectors)}
	}
	if c.Social != nil {
		social := *c.Social
		social.ContentSelectors = slices.Clone(c.Social.ContentSelectors)
		out.Social = &social
	}
	return out
}

// HTTPHeader converts the configured headers for a fetch request.
func (c JobConfig) HTTPHeader() http.Header {
	if len(c.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}

// Job is a recurring monitoring task owned by one user.
type Job struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	CompetitorID     string     `json:"competitorId"`
	Type             JobType    `json:"jobType"`
	URL              string     `json:"url"`
	Priority         Priority   `json:"priority"`
	Frequency        Frequency  `json:"frequency"`
	Config           JobConfig  `json:"config"`
	Status           JobStatus  `json:"status"`
	RetryCount       int        `json:"retryCount"`
	MaxRetries       int        `json:"maxRetries"`
	NextRunAt        *time.Time `json:"nextRunAt,omitempty"`
	LastRunAt        *time.Time `json:"lastRunAt,omitempty"`
	ClaimedAt        *time.Time `json:"claimedAt,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
	LastSnapshot     string     `json:"-"`
	LastSnapshotHash string     `json:"lastSnapshotHash,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// ExecutionResult records a single attempt of a job.
type ExecutionResult struct {
	ID              string    `json:"id"`
	JobID           string    `json:"jobId"`
	UserID          string    `json:"userId"`
	Attempt         int       `json:"attempt"`
	StartedAt       time.Time `json:"startedAt"`
	CompletedAt     time.Time `json:"completedAt"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	ErrorKind       string    `json:"errorKind,omitempty"`
	StatusCode      int       `json:"statusCode,omitempty"`
	ChangeDetected  bool      `json:"changeDetected"`
	DiffRatio       float64   `json:"diffRatio"`
	SnapshotHash    string    `json:"snapshotHash,omitempty"`
	BlobURI         string    `json:"blobUri,omitempty"`
}

// ChangeEvent is published when a snapshot differs from its baseline.
type ChangeEvent struct {
	JobID        string    `json:"jobId"`
	CompetitorID string    `json:"competitorId"`
	UserID       string    `json:"userId"`
	URL          string    `json:"url"`
	DiffRatio    float64   `json:"diffRatio"`
	Timestamp    time.Time `json:"timestamp"`
}

// JobFilter narrows ListByUser results.
type JobFilter struct {
	Statuses     []JobStatus
	Types        []JobType
	CompetitorID string
	Limit        int
}

// ExecutionFilter narrows execution history queries.
type ExecutionFilter struct {
	UserID string
	JobID  string
	Since  time.Time
	Limit  int
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID       string
	URL         string
	Headers     http.Header
	Timeout     time.Duration
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
