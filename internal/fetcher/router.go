// Package fetcher routes fetch requests to the static or headless backend.
package fetcher

import (
	"context"
	"fmt"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

// Router sends UseHeadless requests to the headless fetcher when one is
// configured and everything else to the static fetcher.
type Router struct {
	static   monitor.Fetcher
	headless monitor.Fetcher
	promoter Promoter
}

// NewRouter builds a Router. headless may be nil.
func NewRouter(static, headless monitor.Fetcher) (*Router, error) {
	if static == nil {
		return nil, fmt.Errorf("static fetcher is required")
	}
	return &Router{static: static, headless: headless}, nil
}

// WithPromoter enables re-fetching static responses through the headless
// backend when p flags them. It has no effect without a headless fetcher.
func (r *Router) WithPromoter(p Promoter) *Router {
	r.promoter = p
	return r
}

// Fetch implements monitor.Fetcher.
func (r *Router) Fetch(ctx context.Context, request monitor.FetchRequest) (monitor.FetchResponse, error) {
	if request.UseHeadless && r.headless != nil {
		return r.headless.Fetch(ctx, request)
	}
	request.UseHeadless = false
	resp, err := r.static.Fetch(ctx, request)
	if err != nil || r.headless == nil || r.promoter == nil || !r.promoter.ShouldPromote(resp) {
		return resp, err
	}
	request.UseHeadless = true
	promoted, perr := r.headless.Fetch(ctx, request)
	if perr != nil {
		// keep the static body rather than failing the run
		return resp, nil
	}
	return promoted, nil
}

// HeadlessEnabled reports whether headless requests can be honoured.
func (r *Router) HeadlessEnabled() bool {
	return r.headless != nil
}
