package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if executionsTotal == nil || persistenceErrorsTotal == nil ||
		httpRequestsTotal == nil || claimsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	before := testutil.ToFloat64(executionsTotal.WithLabelValues("pricing", "success"))
	ObserveExecution("pricing", "success", 2*time.Second)
	if got := testutil.ToFloat64(executionsTotal.WithLabelValues("pricing", "success")); got != before+1 {
		t.Errorf("expected executions to increase by 1, got %f -> %f", before, got)
	}

	beforeErr := testutil.ToFloat64(persistenceErrorsTotal.WithLabelValues("update_job"))
	ObservePersistenceError("update_job")
	if got := testutil.ToFloat64(persistenceErrorsTotal.WithLabelValues("update_job")); got != beforeErr+1 {
		t.Errorf("expected persistence errors to increase by 1, got %f -> %f", beforeErr, got)
	}

	SetInflight(3)
	if got := testutil.ToFloat64(inflightJobs); got != 3 {
		t.Errorf("expected inflight gauge 3, got %f", got)
	}

	beforeBytes := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("example.com"))
	ObserveFetch("https://Example.com/pricing", 0)
	ObserveFetch("https://Example.com/pricing", 10)
	if got := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("example.com")); got != beforeBytes+10 {
		t.Errorf("expected 10 bytes recorded, got %f", got-beforeBytes)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
