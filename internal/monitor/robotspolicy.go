package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const defaultRobotsTTL = 6 * time.Hour

// RobotsEnforcer enforces robots.txt directives per host. Parsed files are
// cached for a TTL since jobs revisit the same hosts indefinitely.
type RobotsEnforcer struct {
	client    *http.Client
	cache     sync.Map
	userAgent string
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// NewRobotsEnforcer builds a RobotsPolicy. When enabled is false every URL
// is allowed regardless of per-job settings.
func NewRobotsEnforcer(enabled bool, userAgent string, ttl time.Duration, logger *zap.Logger) RobotsPolicy {
	if !enabled {
		return allowAllPolicy{}
	}
	if ttl <= 0 {
		ttl = defaultRobotsTTL
	}
	return &RobotsEnforcer{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		userAgent: userAgent,
		ttl:       ttl,
		now:       time.Now,
		logger:    logger,
	}
}

// Allowed implements RobotsPolicy. Unreachable robots files allow access.
func (r *RobotsEnforcer) Allowed(ctx context.Context, rawURL string) bool {
	if r == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	return group.Test(target)
}

func (r *RobotsEnforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if cached, ok := r.cache.Load(hostKey); ok {
		entry, assertOK := cached.(robotsEntry)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", cached)
		}
		if r.now().Sub(entry.fetchedAt) < r.ttl {
			return entry.data, nil
		}
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	r.cache.Store(hostKey, robotsEntry{data: data, fetchedAt: r.now()})
	return data, nil
}

type allowAllPolicy struct{}

func (allowAllPolicy) Allowed(context.Context, string) bool { return true }
