// Package ratelimit paces fetches per domain with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/competitor-monitor/internal/metrics"
)

// Config holds rate limiter configuration. PerDomain overrides DefaultRPS
// for specific hostnames.
type Config struct {
	DefaultRPS   float64      `mapstructure:"default_rps"`
	DefaultBurst int          `mapstructure:"default_burst"`
	PerDomain    []DomainRate `mapstructure:"per_domain"`
}

// DomainRate is a per-host override. A list rather than a map keeps dotted
// hostnames intact through Viper's key splitting.
type DomainRate struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// Limiter manages per-domain rate limits.
type Limiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	cfg       Config
	overrides map[string]float64
}

// New creates a Limiter. A non-positive DefaultRPS disables pacing.
func New(cfg Config) *Limiter {
	if cfg.DefaultBurst <= 0 {
		cfg.DefaultBurst = 1
	}
	overrides := make(map[string]float64, len(cfg.PerDomain))
	for _, d := range cfg.PerDomain {
		overrides[strings.ToLower(d.Host)] = d.RPS
	}
	return &Limiter{
		limiters:  make(map[string]*rate.Limiter),
		cfg:       cfg,
		overrides: overrides,
	}
}

// Wait blocks until the URL's domain has a token, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := hostOf(rawURL)
	limiter := l.limiterFor(domain)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[domain]; ok {
		return limiter
	}
	rps, ok := l.overrides[domain]
	if !ok {
		rps = l.cfg.DefaultRPS
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, l.cfg.DefaultBurst)
	l.limiters[domain] = limiter
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
