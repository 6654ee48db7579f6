package monitor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRobotsEnforcer(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	allowAll := NewRobotsEnforcer(false, "test-agent", 0, logger)
	if !allowAll.Allowed(ctx, "https://example.com/whatever") {
		t.Fatal("allow-all policy should permit URLs")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprintln(w, "User-agent: *\nDisallow: /blocked")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	enforcer := NewRobotsEnforcer(true, "test-agent", 0, logger)
	if !enforcer.Allowed(ctx, srv.URL+"/allowed") {
		t.Fatal("expected allowed path to pass robots")
	}
	if enforcer.Allowed(ctx, srv.URL+"/blocked") {
		t.Fatal("expected blocked path to be denied")
	}
}

func TestRobotsEnforcerRefreshesAfterTTL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits.Add(1)
			fmt.Fprintln(w, "User-agent: *\nAllow: /")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	policy, ok := NewRobotsEnforcer(true, "test-agent", time.Minute, zap.NewNop()).(*RobotsEnforcer)
	if !ok {
		t.Fatal("expected *RobotsEnforcer")
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	policy.now = func() time.Time { return now }

	ctx := context.Background()
	policy.Allowed(ctx, srv.URL+"/a")
	policy.Allowed(ctx, srv.URL+"/b")
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected cached robots, got %d fetches", got)
	}
	now = now.Add(2 * time.Minute)
	policy.Allowed(ctx, srv.URL+"/c")
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected refetch after ttl, got %d fetches", got)
	}
}

func TestRobotsEnforcerAllowsWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	enforcer := NewRobotsEnforcer(true, "test-agent", 0, zap.NewNop())
	if !enforcer.Allowed(context.Background(), base+"/page") {
		t.Fatal("expected access when robots.txt cannot be fetched")
	}
}
