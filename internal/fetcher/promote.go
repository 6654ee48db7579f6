package fetcher

import (
	"bytes"
	"net/http"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

// Promoter decides whether a static response needs a headless re-fetch.
type Promoter interface {
	ShouldPromote(resp monitor.FetchResponse) bool
}

// ShellDetector flags pages that are empty, script-dominated, or carry a
// known client-side framework mount point.
type ShellDetector struct {
	MaxBytes int
}

// NewShellDetector returns a detector. maxBytes <= 0 selects 2048.
func NewShellDetector(maxBytes int) *ShellDetector {
	if maxBytes <= 0 {
		maxBytes = 2048
	}
	return &ShellDetector{MaxBytes: maxBytes}
}

var mountSelectors = []string{
	"#__next",
	"#root:empty",
	"#app:empty",
	"[data-reactroot]",
	"[ng-version]",
}

// ShouldPromote implements Promoter.
func (d *ShellDetector) ShouldPromote(resp monitor.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || resp.UsedHeadless {
		return false
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range mountSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	if len(body) >= d.MaxBytes {
		return false
	}
	return scriptShare(doc, len(body)) >= 25
}

// scriptShare returns the percentage of the document taken by script bodies.
func scriptShare(doc *goquery.Document, total int) int {
	if total == 0 {
		return 0
	}
	covered := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		covered += len(s.Text())
		if src, ok := s.Attr("src"); ok {
			covered += len(src)
		}
	})
	return covered * 100 / total
}
