// Package fetch implements the single-URL HTTP fetch with timeout,
// bounded redirects, failure classification and retry, on top of colly.
package fetch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/arlobrandt/polycrawl/internal/engine"
)

// Config holds the fetcher's tunables, sourced from §6's configuration.
type Config struct {
	RequestTimeout     time.Duration // default 30s
	MaxRedirects       int           // default 10
	ConnectionPoolSize int           // default 100, global cap per §5
	UserAgent          func() string // supplies a rotated UA per request
}

// CollyFetcher implements engine.Fetcher on top of a shared colly
// collector, cloned per fetch so concurrent calls don't share callback
// state, mirroring the teacher's per-fetch clone pattern.
type CollyFetcher struct {
	base   *colly.Collector
	retry  *RetryPolicy
	cfg    Config
	logger *zap.Logger
}

// New builds a CollyFetcher. Zero-valued Config fields are replaced with
// the spec's defaults.
func New(cfg Config, logger *zap.Logger) *CollyFetcher {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.ConnectionPoolSize <= 0 {
		cfg.ConnectionPoolSize = 100
	}
	if cfg.UserAgent == nil {
		cfg.UserAgent = func() string { return "polycrawl/1.0" }
	}

	base := colly.NewCollector(colly.Async(true))
	base.AllowURLRevisit = true
	base.MaxDepth = 0
	base.SetRequestTimeout(cfg.RequestTimeout)
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.ConnectionPoolSize,
		MaxIdleConnsPerHost:   cfg.ConnectionPoolSize / 4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= cfg.MaxRedirects {
			return errRedirectBudgetExhausted
		}
		return nil
	})

	return &CollyFetcher{base: base, retry: NewRetryPolicy(), cfg: cfg, logger: logger}
}

var errRedirectBudgetExhausted = errors.New("redirect budget exhausted")

// Fetch implements engine.Fetcher, retrying transient failures per the
// RetryPolicy before returning a classified Failure.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (engine.FetchResult, *engine.Failure) {
	for attempt := 0; ; attempt++ {
		result, failure := f.attempt(ctx, rawURL)
		if failure == nil {
			return result, nil
		}
		if !f.retry.ShouldRetry(failure, attempt) {
			return engine.FetchResult{}, failure
		}
		select {
		case <-ctx.Done():
			return engine.FetchResult{}, &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureTimeout, Reason: ctx.Err().Error()}
		case <-time.After(f.retry.Backoff(attempt)):
		}
	}
}

func (f *CollyFetcher) attempt(ctx context.Context, rawURL string) (engine.FetchResult, *engine.Failure) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return engine.FetchResult{}, &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureTimeout, Reason: "context deadline exceeded"}
	}

	collector := f.base.Clone()
	collector.UserAgent = f.cfg.UserAgent()

	type outcome struct {
		result  engine.FetchResult
		failure *engine.Failure
	}
	resultCh := make(chan outcome, 1)
	var once sync.Once
	send := func(o outcome) { once.Do(func() { resultCh <- o }) }

	start := time.Now()
	collector.OnResponse(func(r *colly.Response) {
		elapsed := time.Since(start).Milliseconds()
		if failure := classifyStatus(r.StatusCode); failure != nil {
			send(outcome{failure: failure})
			return
		}
		send(outcome{result: engine.FetchResult{
			Bytes:      append([]byte{}, r.Body...),
			FinalURL:   r.Request.URL.String(),
			HTTPStatus: r.StatusCode,
			ElapsedMs:  elapsed,
		}})
	})
	collector.OnError(func(resp *colly.Response, err error) {
		if errors.Is(err, errRedirectBudgetExhausted) {
			send(outcome{failure: &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureRedirectLoop, Reason: err.Error()}})
			return
		}
		if resp != nil && resp.StatusCode != 0 {
			if failure := classifyStatus(resp.StatusCode); failure != nil {
				send(outcome{failure: failure})
				return
			}
		}
		send(outcome{failure: classify(err)})
	})

	if err := collector.Visit(rawURL); err != nil {
		return engine.FetchResult{}, classify(err)
	}
	collector.Wait()

	select {
	case o := <-resultCh:
		return o.result, o.failure
	default:
		return engine.FetchResult{}, &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureUnknown, Reason: "fetch produced no result"}
	}
}
