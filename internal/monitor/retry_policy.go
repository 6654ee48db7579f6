package monitor

import (
	"crypto/rand"
	"math/big"
	"time"
)

// ExponentialRetryPolicy reschedules failed executions with jittered,
// capped exponential backoff.
type ExponentialRetryPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	jitterMax time.Duration
	jitter    func(limit time.Duration) time.Duration
}

// RetryDecision is the job state produced by a failed execution.
type RetryDecision struct {
	Status     JobStatus
	RetryCount int
	NextRunAt  *time.Time
}

// NewExponentialRetryPolicy builds a policy; zero values fall back to
// 1m base, 1h cap, and 30s of jitter.
func NewExponentialRetryPolicy(baseDelay, maxDelay, jitterMax time.Duration) *ExponentialRetryPolicy {
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	if maxDelay <= 0 {
		maxDelay = time.Hour
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	if jitterMax < 0 {
		jitterMax = 0
	}
	return &ExponentialRetryPolicy{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		jitterMax: jitterMax,
		jitter:    randomJitter,
	}
}

// Delay returns min(maxDelay, base*2^retryCount) without jitter. A positive
// override replaces the policy's base delay.
func (p *ExponentialRetryPolicy) Delay(retryCount int, override time.Duration) time.Duration {
	base := p.baseDelay
	if override > 0 {
		base = override
	}
	if retryCount < 0 {
		retryCount = 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if delay >= p.maxDelay/2 {
			return p.maxDelay
		}
		delay *= 2
	}
	if delay > p.maxDelay {
		return p.maxDelay
	}
	return delay
}

// Backoff is Delay plus a random jitter in [0, jitterMax).
func (p *ExponentialRetryPolicy) Backoff(retryCount int, override time.Duration) time.Duration {
	return p.Delay(retryCount, override) + p.jitter(p.jitterMax)
}

// ShouldRetry decides whether another attempt is allowed after err.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, retryCount, maxRetries int) bool {
	if !IsRetryable(err) {
		return false
	}
	return retryCount+1 < maxRetries
}

// Decide computes the post-failure job state. Retry counts never exceed
// the job's MaxRetries.
func (p *ExponentialRetryPolicy) Decide(job Job, err error, now time.Time) RetryDecision {
	if !IsRetryable(err) {
		return RetryDecision{Status: JobStatusFailed, RetryCount: job.RetryCount}
	}
	next := job.RetryCount + 1
	if !p.ShouldRetry(err, job.RetryCount, job.MaxRetries) {
		return RetryDecision{Status: JobStatusFailed, RetryCount: min(next, job.MaxRetries)}
	}
	at := now.Add(p.Backoff(job.RetryCount, job.Config.RetryDelay()))
	return RetryDecision{Status: JobStatusPending, RetryCount: next, NextRunAt: &at}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
