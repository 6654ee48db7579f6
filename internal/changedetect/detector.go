// Package changedetect compares consecutive snapshots of a monitored page.
package changedetect

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Result is the outcome of comparing a snapshot to its baseline.
type Result struct {
	Changed   bool
	DiffRatio float64
	// Baseline is true when there was nothing to compare against.
	Baseline bool
}

// Detector scores snapshot differences as 1 - similarity over word tokens.
type Detector struct {
	maxTokens int
}

// New returns a Detector. maxTokens bounds the comparison cost on very large
// pages; zero means 20000 tokens.
func New(maxTokens int) *Detector {
	if maxTokens <= 0 {
		maxTokens = 20_000
	}
	return &Detector{maxTokens: maxTokens}
}

// Detect compares current against previous. An empty previous snapshot is a
// baseline capture and never reports a change. Changed is inclusive of the threshold.
func (d *Detector) Detect(current, previous string, threshold float64) Result {
	if previous == "" {
		return Result{Baseline: true}
	}
	ratio := d.Ratio(current, previous)
	return Result{Changed: ratio >= threshold, DiffRatio: ratio}
}

// Ratio returns the diff ratio in [0,1]; 0 means identical.
func (d *Detector) Ratio(current, previous string) float64 {
	if current == previous {
		return 0
	}
	a := d.tokens(previous)
	b := d.tokens(current)
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	matcher := difflib.NewMatcherWithJunk(a, b, false, nil)
	ratio := 1 - matcher.Ratio()
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	}
	return ratio
}

func (d *Detector) tokens(s string) []string {
	fields := strings.Fields(s)
	if len(fields) > d.maxTokens {
		fields = fields[:d.maxTokens]
	}
	return fields
}
