// Package extract turns fetched HTML into the normalized text snapshot that
// change detection compares.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

const alwaysIgnored = "script, style, noscript, template, svg"

// Snapshot extracts the text matched by selectors after dropping
// ignoreSelectors. With no selectors the whole body is used.
func Snapshot(html []byte, selectors, ignoreSelectors []string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", &monitor.ExtractionError{Reason: "parse html", Err: err}
	}
	doc.Find(alwaysIgnored).Remove()
	for _, sel := range ignoreSelectors {
		doc.Find(sel).Remove()
	}

	var parts []string
	if len(selectors) == 0 {
		parts = append(parts, nodeText(doc.Find("body")))
	} else {
		for _, sel := range selectors {
			doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
				parts = append(parts, nodeText(s))
			})
		}
	}

	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = normalize(p); p != "" {
			lines = append(lines, p)
		}
	}
	if len(lines) == 0 {
		if len(selectors) > 0 {
			return "", &monitor.ExtractionError{Reason: fmt.Sprintf("no content matched selectors %q", selectors)}
		}
		return "", &monitor.ExtractionError{Reason: "page has no text content"}
	}
	return strings.Join(lines, "\n"), nil
}

// ValidateSelectors reports the first selector that does not compile.
func ValidateSelectors(field string, selectors []string) error {
	for _, sel := range selectors {
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return &monitor.ValidationError{Field: field, Reason: fmt.Sprintf("invalid selector %q", sel)}
		}
	}
	return nil
}

// ValidateConfig checks every selector in a job config.
func ValidateConfig(jobType monitor.JobType, cfg monitor.JobConfig) error {
	if err := ValidateSelectors("config.selectors", cfg.Selectors(jobType)); err != nil {
		return err
	}
	return ValidateSelectors("config.ignoreSelectors", cfg.ChangeDetection.IgnoreSelectors)
}

func nodeText(s *goquery.Selection) string {
	var b strings.Builder
	s.Each(func(_ int, sel *goquery.Selection) {
		sel.Find("br, p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, block *goquery.Selection) {
			block.AppendHtml(" ")
		})
		b.WriteString(sel.Text())
		b.WriteByte(' ')
	})
	return b.String()
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
