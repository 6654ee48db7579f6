package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPolicy() *ExponentialRetryPolicy {
	p := NewExponentialRetryPolicy(time.Second, 30*time.Second, 0)
	p.jitter = func(time.Duration) time.Duration { return 0 }
	return p
}

func TestDelayIsNonDecreasingAndCapped(t *testing.T) {
	t.Parallel()

	p := newTestPolicy()
	prev := time.Duration(0)
	for rc := 0; rc < 64; rc++ {
		d := p.Delay(rc, 0)
		require.GreaterOrEqual(t, d, prev, "retry %d", rc)
		require.LessOrEqual(t, d, 30*time.Second)
		prev = d
	}
	require.Equal(t, time.Second, p.Delay(0, 0))
	require.Equal(t, 4*time.Second, p.Delay(2, 0))
	require.Equal(t, 30*time.Second, p.Delay(10, 0))
	require.Equal(t, 10*time.Second, p.Delay(1, 5*time.Second))
}

func TestBackoffAddsBoundedJitter(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(time.Second, time.Minute, 500*time.Millisecond)
	for i := 0; i < 50; i++ {
		b := p.Backoff(1, 0)
		require.GreaterOrEqual(t, b, 2*time.Second)
		require.Less(t, b, 2*time.Second+500*time.Millisecond)
	}
}

func TestDecideExhaustsAfterMaxRetries(t *testing.T) {
	t.Parallel()

	p := newTestPolicy()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	job := Job{MaxRetries: 3}
	failure := &NetworkError{URL: "https://example.com", Err: errors.New("connection refused")}

	for attempt := 1; attempt <= 2; attempt++ {
		d := p.Decide(job, failure, now)
		require.Equal(t, JobStatusPending, d.Status)
		require.Equal(t, attempt, d.RetryCount)
		require.NotNil(t, d.NextRunAt)
		require.True(t, d.NextRunAt.After(now))
		job.RetryCount = d.RetryCount
	}

	d := p.Decide(job, failure, now)
	require.Equal(t, JobStatusFailed, d.Status)
	require.Equal(t, 3, d.RetryCount)
	require.Nil(t, d.NextRunAt)
}

func TestDecideUsesJobRetryDelay(t *testing.T) {
	t.Parallel()

	p := newTestPolicy()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	job := Job{MaxRetries: 3, RetryCount: 1, Config: JobConfig{RetryDelayMs: 2000}}
	d := p.Decide(job, &ExtractionError{Reason: "empty"}, now)
	require.Equal(t, now.Add(4*time.Second), *d.NextRunAt)
}

func TestDecideTerminalErrorsSkipRetry(t *testing.T) {
	t.Parallel()

	p := newTestPolicy()
	job := Job{MaxRetries: 3, RetryCount: 1}
	d := p.Decide(job, &RobotsDisallowedError{URL: "https://example.com/x"}, time.Now())
	require.Equal(t, JobStatusFailed, d.Status)
	require.Equal(t, 1, d.RetryCount)
}

func TestDecideZeroMaxRetries(t *testing.T) {
	t.Parallel()

	d := newTestPolicy().Decide(Job{}, errors.New("boom"), time.Now())
	require.Equal(t, JobStatusFailed, d.Status)
	require.Equal(t, 0, d.RetryCount)
}
