// Package engine defines the core types and interfaces shared by the crawl
// engine's subsystems: the frontier, worker pool, rate limiter, robots
// cache, fetcher, extractor and progress bus.
package engine

import "time"

// Mode selects which phases a worker runs for each FrontierEntry.
type Mode string

// Supported crawl modes.
const (
	ModeOnlyCrawl   Mode = "only_crawl"
	ModeOnlyScrape  Mode = "only_scrape"
	ModeCrawlScrape Mode = "crawl_scrape"
)

// PageStatus is the terminal classification recorded on a PageResult.
type PageStatus string

// Supported page statuses.
const (
	StatusScraped PageStatus = "scraped"
	StatusCrawled PageStatus = "crawled"
	StatusSkipped PageStatus = "skipped"
	StatusError   PageStatus = "error"
)

// FailurePhase distinguishes a crawl-phase failure (network/robots) from a
// scrape-phase failure (extraction, after a successful fetch).
type FailurePhase string

// Supported failure phases. A nil PageResult.Failure stands for phase
// "none"; there is no constant for it.
const (
	PhaseCrawl  FailurePhase = "crawl"
	PhaseScrape FailurePhase = "scrape"
)

// FailureType enumerates the exhaustive failure taxonomy from the fetch and
// extraction pipelines.
type FailureType string

// Crawl-phase failure types, evaluated in this priority order by the fetcher.
const (
	FailureTimeout         FailureType = "timeout"
	FailureDNSError        FailureType = "dns_error"
	FailureSSLError        FailureType = "ssl_error"
	FailureConnectionError FailureType = "connection_error"
	FailureRedirectLoop    FailureType = "redirect_loop"
	FailureHTTP4xx         FailureType = "http_4xx"
	FailureHTTP5xx         FailureType = "http_5xx"
	FailureRobotsBlocked   FailureType = "robots_blocked"
	FailureUnknown         FailureType = "unknown"
)

// Scrape-phase failure types.
const (
	FailureParseError       FailureType = "parse_error"
	FailureSelectorMismatch FailureType = "selector_mismatch"
	FailureEmptyContent     FailureType = "empty_content"
)

// Category classifies a PageResult relative to the Job's primary host.
type Category string

// Supported categories.
const (
	CategorySameDomainSuccess Category = "same_domain_success"
	CategoryExternalDomain    Category = "external_domain"
	CategoryError             Category = "error"
)

// SkipReason explains why a PageResult carries StatusSkipped.
type SkipReason string

// Supported skip reasons.
const (
	SkipNone               SkipReason = ""
	SkipChildPagesDisabled SkipReason = "child_pages_disabled"
)

// Failure is the sum-variant substructure recorded on a PageResult when a
// page did not complete successfully. A nil *Failure means none occurred.
type Failure struct {
	Phase      FailurePhase `json:"phase"`
	Type       FailureType  `json:"type"`
	Reason     string       `json:"reason,omitempty"`
	HTTPStatus int          `json:"http_status,omitempty"`
}

// Timing captures the per-page wall-clock breakdown described in §3.
type Timing struct {
	TotalMs             int64 `json:"total_ms"`
	CrawlMs             int64 `json:"crawl_ms"`
	ScrapeMs            int64 `json:"scrape_ms"`
	TimeBeforeFailureMs int64 `json:"time_before_failure_ms,omitempty"`
}

// PageResult is the Job's primary output row, one per fetched URL.
type PageResult struct {
	URL          string     `json:"url"`
	ParentURL    string     `json:"parent_url,omitempty"`
	Depth        int        `json:"depth"`
	Title        *string    `json:"title,omitempty"`
	LinksFound   int        `json:"links_found"`
	Status       PageStatus `json:"status"`
	HasContent   bool       `json:"has_content"`
	Content      string     `json:"content,omitempty"`
	Timing       Timing     `json:"timing"`
	Failure      *Failure   `json:"failure,omitempty"`
	IsSameDomain bool       `json:"is_same_domain"`
	IsSubdomain  bool       `json:"is_subdomain"`
	Category     Category   `json:"category"`
	SkipReason   SkipReason `json:"skip_reason,omitempty"`
	FetchedAt    time.Time  `json:"fetched_at"`
}

// ScopePolicy is immutable for a Job's lifetime and decides which
// discovered URLs the Job will follow.
type ScopePolicy struct {
	PrimaryHost         string
	AllowSubdomains     bool
	AdditionalHosts      []string
	AllowedPathPrefixes []string
	IncludeChildPages   bool
}

// FrontierEntry is a unit of frontier work: a canonical URL at a given depth
// with an optional parent and matched scope key (the longest allowed path
// prefix the URL matched, empty when the scope has no path prefixes).
type FrontierEntry struct {
	URL      string
	Depth    int
	Parent   string
	ScopeKey string
}

// AdmitResult is the outcome of Frontier.TryAdmit.
type AdmitResult string

// Supported admission outcomes.
const (
	AdmitAdmitted   AdmitResult = "admitted"
	AdmitDuplicate  AdmitResult = "duplicate"
	AdmitOutOfScope AdmitResult = "out_of_scope"
	AdmitTooDeep    AdmitResult = "too_deep"
)

// JobState is the lifecycle state of a Job.
type JobState string

// Supported job states.
const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// AggregateTiming holds the Job-level wall-clock breakdown of §4.9.
type AggregateTiming struct {
	URLDiscoveryMs int64 `json:"url_discovery_ms"`
	CrawlingMs     int64 `json:"crawling_ms"`
	ScrapingMs     int64 `json:"scraping_ms"`
	TotalMs        int64 `json:"total_ms"`
}

// URLDiscoveryPct returns the discovery phase's share of total wall time.
func (t AggregateTiming) URLDiscoveryPct() float64 { return pct(t.URLDiscoveryMs, t.TotalMs) }

// CrawlingPct returns the crawling phase's share of total wall time.
func (t AggregateTiming) CrawlingPct() float64 { return pct(t.CrawlingMs, t.TotalMs) }

// ScrapingPct returns the scraping phase's share of total wall time.
func (t AggregateTiming) ScrapingPct() float64 { return pct(t.ScrapingMs, t.TotalMs) }

func pct(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// JobSnapshot is the observable state of a Job at a point in time.
type JobSnapshot struct {
	JobID                 string          `json:"job_id"`
	State                 JobState        `json:"state"`
	CurrentDepth          int             `json:"current_depth"`
	URLsDiscovered        int             `json:"urls_discovered"`
	URLsProcessed         int             `json:"urls_processed"`
	URLsSkippedOutOfScope int             `json:"urls_skipped_out_of_scope"`
	URLsByDepth           map[int]int     `json:"urls_by_depth,omitempty"`
	Timing                AggregateTiming `json:"timing"`
	FirstError            string          `json:"first_error,omitempty"`
}

// JobParameters captures the client-requested knobs for a single-scope Job,
// matching the start_job ingress contract of §6.
type JobParameters struct {
	SeedURLs          []string `json:"seed_urls"`
	Mode              Mode     `json:"mode"`
	MaxDepth          int      `json:"max_depth"`
	WorkerCount       int      `json:"worker_count"`
	AllowSubdomains   bool     `json:"allow_subdomains"`
	AllowedDomains    []string `json:"allowed_domains"`
	IncludeChildPages bool     `json:"include_child_pages"`
}

// ScopeSpec describes one Knowledge Base scope in a multi-scope request.
type ScopeSpec struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	EntryURLs []string `json:"entry_urls"`
	Active    bool     `json:"active"`
	MaxDepth  int      `json:"max_depth,omitempty"` // 0 means "use the job-level default"
}

// MultiJobParameters captures the start_multi_job ingress contract of §6.
type MultiJobParameters struct {
	Domain               string      `json:"domain"`
	Scopes               []ScopeSpec `json:"scopes"`
	Mode                 Mode        `json:"mode"`
	MaxDepth             int         `json:"max_depth"`
	WorkerCount          int         `json:"worker_count"`
	AllowSubdomains      bool        `json:"allow_subdomains"`
	IncludeChildPages    bool        `json:"include_child_pages"`
	ParallelKBs          int         `json:"parallel_kbs"`
	AutoDiscoverPrefixes bool        `json:"auto_discover_prefixes"`
}

// DepthBucket lists the URLs visited at a given depth.
type DepthBucket struct {
	Depth int      `json:"depth"`
	URLs  []string `json:"urls"`
}

// CrawlResult is the egress payload of §6: job metadata, the final
// snapshot, the per-depth URL listing, and the ordered PageResults.
type CrawlResult struct {
	JobID       string       `json:"job_id"`
	Snapshot    JobSnapshot  `json:"snapshot"`
	URLsByDepth []DepthBucket `json:"urls_by_depth,omitempty"`
	Pages       []PageResult `json:"pages"`
}
