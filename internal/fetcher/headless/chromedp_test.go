package headless

import (
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	if _, err := NewChromedp(Config{SettleDelay: -time.Second}); err == nil {
		t.Fatal("expected error for negative settle delay")
	}
	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if cap(fetcher.slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", cap(fetcher.slots))
	}
}

func TestTimeoutFor(t *testing.T) {
	t.Parallel()

	f := &Fetcher{}
	if got := f.timeoutFor(monitor.FetchRequest{}); got != defaultNavigationTimeout {
		t.Fatalf("expected default timeout, got %v", got)
	}
	f.cfg.NavigationTimeout = time.Second
	if got := f.timeoutFor(monitor.FetchRequest{}); got != time.Second {
		t.Fatalf("expected configured timeout, got %v", got)
	}
	if got := f.timeoutFor(monitor.FetchRequest{Timeout: 3 * time.Second}); got != 3*time.Second {
		t.Fatalf("expected per-request timeout, got %v", got)
	}
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	netHeaders := toNetworkHeaders(http.Header{"X-Multi": {"a", "b"}, "X-One": {"v"}, "X-None": {}})
	if v, ok := netHeaders["X-Multi"].([]string); !ok || len(v) != 2 {
		t.Fatalf("expected two entries, got %#v", netHeaders["X-Multi"])
	}
	if netHeaders["X-One"] != "v" {
		t.Fatalf("expected single value, got %#v", netHeaders["X-One"])
	}
	if _, ok := netHeaders["X-None"]; ok {
		t.Fatal("expected empty header to be skipped")
	}
}

func TestDocumentResponseObserveAndFallbacks(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	status, headers, url := doc.result("https://req", "")
	if status != http.StatusOK || url != "https://req" || headers == nil {
		t.Fatalf("unexpected fallbacks: %d %v %q", status, headers, url)
	}
	if _, _, url := doc.result("https://req", "https://final"); url != "https://final" {
		t.Fatalf("expected location fallback, got %q", url)
	}

	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://img"},
	})
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  201,
			URL:     "https://doc",
			Headers: network.Headers{"X-One": "a", "X-Many": []any{"b", "c"}},
		},
	})
	status, headers, url = doc.result("https://req", "https://final")
	if status != 201 || url != "https://doc" {
		t.Fatalf("unexpected document response %d %q", status, url)
	}
	if headers.Get("X-One") != "a" || len(headers.Values("X-Many")) != 2 {
		t.Fatalf("unexpected headers %+v", headers)
	}
}
