package engine

import (
	"context"
	"time"
)

// FetchResult is the successful outcome of a Fetcher.Fetch call.
type FetchResult struct {
	Bytes      []byte
	FinalURL   string
	HTTPStatus int
	ElapsedMs  int64
}

// Fetcher performs a single-URL HTTP GET with timeout and bounded redirects,
// returning either a FetchResult or a classified crawl-phase Failure.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResult, *Failure)
}

// ExtractResult is the successful outcome of an Extractor.Extract call.
type ExtractResult struct {
	Title    string
	HasTitle bool
	Content  string
	Headings []string
	Anchors  []string
}

// Extractor parses HTML into title/content/headings/anchors, or a
// classified scrape-phase Failure.
type Extractor interface {
	Extract(finalURL string, body []byte) (ExtractResult, *Failure)
}

// RobotsAllowance is a cache lookup result: whether a fetch is allowed and,
// if robots.txt itself could not be fetched, the reason it fell open.
type RobotsAllowance struct {
	Allowed     bool
	FetchFailed bool
	Reason      string
	CrawlDelay  float64 // seconds; 0 means none declared
}

// RobotsCache answers per-host, per-Job robots.txt policy lookups.
type RobotsCache interface {
	Allowed(ctx context.Context, rawURL, userAgent string) RobotsAllowance
}

// RateLimiter enforces a per-host minimum inter-request interval with
// adaptive back-off, shared across Jobs in a Scheduler.
type RateLimiter interface {
	Acquire(ctx context.Context, host string) error
	ReportStatus(host string, httpStatus int)
	ReportSuccess(host string)
	NextUserAgent() string
	SetMinDelay(host string, seconds float64)
}

// Clock abstracts wall-clock reads so tests can inject determinism.
type Clock interface {
	Now() time.Time
}
