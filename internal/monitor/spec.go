package monitor

import (
	"net/url"
	"strings"
	"time"
)

// Defaults applied when a job spec leaves a field empty.
const (
	DefaultMaxRetries      = 3
	DefaultThreshold       = 0.1
	DefaultTimeoutMs       = 30_000
	MaxTimeoutMs           = 300_000
	DefaultRetryDelayMs    = 60_000
	DefaultIntervalValue   = "1h"
	DefaultTimezone        = "UTC"
	maxRetriesUpperBound   = 10
	maxSelectorsPerVariant = 50
)

// ConfigInput is the flat wire form of a job config. Resolve turns it into the
// tagged JobConfig for a particular job type.
type ConfigInput struct {
	ContentSelectors []string          `json:"contentSelectors,omitempty"`
	PricingSelectors []string          `json:"pricingSelectors,omitempty"`
	ProductSelectors []string          `json:"productSelectors,omitempty"`
	SocialPlatform   string            `json:"socialPlatform,omitempty"`
	ChangeDetection  *bool             `json:"changeDetection,omitempty"`
	ChangeThreshold  *float64          `json:"changeThreshold,omitempty"`
	IgnoreSelectors  []string          `json:"ignoreSelectors,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	TimeoutMs        int               `json:"timeoutMs,omitempty"`
	RetryDelayMs     int               `json:"retryDelayMs,omitempty"`
	RespectRobotsTxt *bool             `json:"respectRobotsTxt,omitempty"`
}

// Resolve validates the input against jobType and applies defaults.
func (in ConfigInput) Resolve(jobType JobType) (JobConfig, error) {
	cfg := JobConfig{
		ChangeDetection: ChangeDetectionConfig{
			Enabled:         valueOrDefault(in.ChangeDetection, true),
			Threshold:       valueOrDefault(in.ChangeThreshold, DefaultThreshold),
			IgnoreSelectors: cleanSelectors(in.IgnoreSelectors),
		},
		Headers:          in.Headers,
		TimeoutMs:        in.TimeoutMs,
		RetryDelayMs:     in.RetryDelayMs,
		RespectRobotsTxt: valueOrDefault(in.RespectRobotsTxt, true),
	}
	if t := cfg.ChangeDetection.Threshold; t < 0 || t > 1 {
		return JobConfig{}, &ValidationError{Field: "config.changeThreshold", Reason: "must be within [0,1]"}
	}
	switch {
	case cfg.TimeoutMs == 0:
		cfg.TimeoutMs = DefaultTimeoutMs
	case cfg.TimeoutMs < 0 || cfg.TimeoutMs > MaxTimeoutMs:
		return JobConfig{}, &ValidationError{Field: "config.timeoutMs", Reason: "must be within (0,300000]"}
	}
	switch {
	case cfg.RetryDelayMs == 0:
		cfg.RetryDelayMs = DefaultRetryDelayMs
	case cfg.RetryDelayMs < 0:
		return JobConfig{}, &ValidationError{Field: "config.retryDelayMs", Reason: "must be positive"}
	}
	for k := range cfg.Headers {
		if strings.TrimSpace(k) == "" {
			return JobConfig{}, &ValidationError{Field: "config.headers", Reason: "contains an empty name"}
		}
	}

	content := cleanSelectors(in.ContentSelectors)
	pricing := cleanSelectors(in.PricingSelectors)
	products := cleanSelectors(in.ProductSelectors)
	mismatch := func(field string) error {
		return &ValidationError{Field: "config." + field, Reason: "is not valid for job type " + string(jobType)}
	}
	switch jobType {
	case JobTypeWebsite:
		if len(pricing) > 0 {
			return JobConfig{}, mismatch("pricingSelectors")
		}
		if len(products) > 0 {
			return JobConfig{}, mismatch("productSelectors")
		}
		cfg.Website = &WebsiteConfig{ContentSelectors: content}
	case JobTypePricing:
		if len(products) > 0 {
			return JobConfig{}, mismatch("productSelectors")
		}
		if len(content) > 0 {
			return JobConfig{}, mismatch("contentSelectors")
		}
		cfg.Pricing = &PricingConfig{PricingSelectors: pricing}
	case JobTypeProducts:
		if len(pricing) > 0 {
			return JobConfig{}, mismatch("pricingSelectors")
		}
		if len(content) > 0 {
			return JobConfig{}, mismatch("contentSelectors")
		}
		cfg.Products = &ProductsConfig{ProductSelectors: products}
	case JobTypeJobs:
		if len(pricing) > 0 {
			return JobConfig{}, mismatch("pricingSelectors")
		}
		if len(products) > 0 {
			return JobConfig{}, mismatch("productSelectors")
		}
		cfg.Jobs = &JobsConfig{ContentSelectors: content}
	case JobTypeSocial:
		if len(pricing) > 0 {
			return JobConfig{}, mismatch("pricingSelectors")
		}
		if len(products) > 0 {
			return JobConfig{}, mismatch("productSelectors")
		}
		cfg.Social = &SocialConfig{Platform: strings.ToLower(strings.TrimSpace(in.SocialPlatform)), ContentSelectors: content}
	default:
		return JobConfig{}, &ValidationError{Field: "jobType", Reason: "is unknown"}
	}
	if jobType != JobTypeSocial && in.SocialPlatform != "" {
		return JobConfig{}, mismatch("socialPlatform")
	}
	if len(cfg.Selectors(jobType)) > maxSelectorsPerVariant {
		return JobConfig{}, &ValidationError{Field: "config", Reason: "has too many selectors"}
	}
	return cfg, nil
}

// JobSpec is the admission input for a new job.
type JobSpec struct {
	CompetitorID string      `json:"competitorId"`
	Type         JobType     `json:"jobType"`
	URL          string      `json:"url"`
	Priority     Priority    `json:"priority,omitempty"`
	Frequency    Frequency   `json:"frequency"`
	MaxRetries   *int        `json:"maxRetries,omitempty"`
	Config       ConfigInput `json:"config"`
}

// BuildJob validates spec and returns a pending job. Schedule-specific checks
// (interval syntax, cron expressions, timezones) belong to the scheduler.
func BuildJob(userID, id string, spec JobSpec, now time.Time) (Job, error) {
	if strings.TrimSpace(userID) == "" {
		return Job{}, &AuthorizationError{Reason: "missing user id"}
	}
	if strings.TrimSpace(spec.CompetitorID) == "" {
		return Job{}, &ValidationError{Field: "competitorId", Reason: "is required"}
	}
	if !spec.Type.Valid() {
		return Job{}, &ValidationError{Field: "jobType", Reason: "is unknown"}
	}
	if err := validateURL(spec.URL); err != nil {
		return Job{}, err
	}
	priority := spec.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.Valid() {
		return Job{}, &ValidationError{Field: "priority", Reason: "is unknown"}
	}
	freq := spec.Frequency
	if freq.Type == "" {
		freq.Type = FrequencyInterval
	}
	if freq.Type == FrequencyInterval && strings.TrimSpace(freq.Value) == "" {
		freq.Value = DefaultIntervalValue
	}
	if freq.Timezone == "" {
		freq.Timezone = DefaultTimezone
	}
	switch freq.Type {
	case FrequencyInterval, FrequencyCron, FrequencyManual:
	default:
		return Job{}, &ValidationError{Field: "frequency.type", Reason: "is unknown"}
	}
	maxRetries := valueOrDefault(spec.MaxRetries, DefaultMaxRetries)
	if maxRetries < 0 || maxRetries > maxRetriesUpperBound {
		return Job{}, &ValidationError{Field: "maxRetries", Reason: "must be within [0,10]"}
	}
	cfg, err := spec.Config.Resolve(spec.Type)
	if err != nil {
		return Job{}, err
	}
	return Job{
		ID:           id,
		UserID:       userID,
		CompetitorID: spec.CompetitorID,
		Type:         spec.Type,
		URL:          spec.URL,
		Priority:     priority,
		Frequency:    freq,
		Config:       cfg,
		Status:       JobStatusPending,
		MaxRetries:   maxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return &ValidationError{Field: "url", Reason: "must be an absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: "must use http or https"}
	}
	return nil
}

func cleanSelectors(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}
