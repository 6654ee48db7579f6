// Package collyfetcher implements monitor.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/competitor-monitor/internal/monitor"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	DefaultTimeout time.Duration
	MaxBodyBytes   int
}

// Fetcher implements monitor.Fetcher with a Colly collector per request.
// robots.txt is enforced by the caller, so the collector ignores it.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchState struct {
	result     monitor.FetchResponse
	err        error
	statusCode int
}

// New builds a Fetcher sharing one pooled transport across requests.
func New(cfg Config) *Fetcher {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = cfg.MaxBodyBytes
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET. Failures come back as *monitor.NetworkError.
func (f *Fetcher) Fetch(ctx context.Context, request monitor.FetchRequest) (monitor.FetchResponse, error) {
	state := &fetchState{}
	collector := f.buildCollector(request, time.Now(), state)
	if err := f.runCollector(ctx, collector, request.URL, state); err != nil {
		return monitor.FetchResponse{}, err
	}
	return state.result, nil
}

func (f *Fetcher) buildCollector(request monitor.FetchRequest, start time.Time, state *fetchState) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.DefaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	f.configureCollectorHooks(collector, request, start, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request monitor.FetchRequest,
	start time.Time,
	state *fetchState,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.result = monitor.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		state.err = err
		if r != nil {
			state.statusCode = r.StatusCode
		}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return classify(url, 0, ctx.Err())
	case err := <-done:
		if err == nil {
			err = state.err
		}
		if err != nil {
			return classify(url, state.statusCode, err)
		}
		return nil
	}
}

func classify(url string, status int, err error) error {
	netErr := &monitor.NetworkError{URL: url, StatusCode: status, Err: err}
	var timeoutErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeoutErr) && timeoutErr.Timeout()) {
		netErr.Timeout = true
	}
	if status >= http.StatusBadRequest {
		netErr.Err = fmt.Errorf("http status %d: %w", status, err)
	}
	return netErr
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
