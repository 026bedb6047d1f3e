package job

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/arlobrandt/polycrawl/internal/engine"
	"github.com/arlobrandt/polycrawl/internal/engine/normalize"
	"github.com/arlobrandt/polycrawl/internal/metrics"
)

// runWorker is one member of the fixed-size pool of §4.7: it loops
// popping FrontierEntry values until the Frontier drains, processing
// each one and signalling Done so the Frontier can detect termination.
func (j *Job) runWorker(ctx context.Context, workerID int) {
	defer j.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		entry, ok := j.frontier.Pop()
		if !ok {
			return
		}
		metrics.IncActiveWorkers()
		j.process(ctx, entry)
		metrics.DecActiveWorkers()
		j.frontier.Done()
	}
}

// process runs steps 2-9 of §4.7 for a single FrontierEntry.
func (j *Job) process(ctx context.Context, entry engine.FrontierEntry) {
	started := j.now()

	u, err := url.Parse(entry.URL)
	if err != nil {
		j.recordPage(j.failurePage(entry, engine.Failure{
			Phase: engine.PhaseCrawl, Type: engine.FailureUnknown, Reason: err.Error(),
		}, started))
		return
	}
	host := u.Host

	// Robots gate.
	allowance := j.deps.Robots.Allowed(ctx, entry.URL, j.deps.UserAgent)
	if allowance.CrawlDelay > 0 {
		j.deps.Limiter.SetMinDelay(host, allowance.CrawlDelay)
	}
	if !allowance.Allowed {
		j.recordPage(j.failurePage(entry, engine.Failure{
			Phase: engine.PhaseCrawl, Type: engine.FailureRobotsBlocked, Reason: allowance.Reason,
		}, started))
		return
	}

	if ctx.Err() != nil {
		return
	}

	acquireStart := j.now()
	if err := j.deps.Limiter.Acquire(ctx, host); err != nil {
		j.recordPage(j.failurePage(entry, engine.Failure{
			Phase: engine.PhaseCrawl, Type: engine.FailureTimeout, Reason: err.Error(),
		}, started))
		return
	}
	metrics.ObserveRateLimitDelay(host, j.now().Sub(acquireStart))

	if ctx.Err() != nil {
		return
	}

	fetchStart := j.now()
	fetchResult, failure := j.deps.Fetcher.Fetch(ctx, entry.URL)
	crawlMs := j.now().Sub(fetchStart).Milliseconds()

	if failure != nil {
		j.deps.Limiter.ReportStatus(host, failure.HTTPStatus)
		page := j.failurePage(entry, *failure, started)
		page.Timing.CrawlMs = crawlMs
		page.Timing.TimeBeforeFailureMs = crawlMs
		page.Timing.TotalMs = page.Timing.TimeBeforeFailureMs
		j.recordPage(page)
		return
	}
	j.deps.Limiter.ReportStatus(host, fetchResult.HTTPStatus)
	j.deps.Limiter.ReportSuccess(host)

	if ctx.Err() != nil {
		return
	}

	if j.mode == engine.ModeOnlyCrawl {
		j.processCrawlOnly(ctx, entry, u, fetchResult, started, crawlMs)
		return
	}
	j.processScrape(ctx, entry, u, fetchResult, started, crawlMs)
}

// processCrawlOnly extracts only the anchor set needed to enqueue
// children; no content is retained, per §4.7's only_crawl mode.
func (j *Job) processCrawlOnly(ctx context.Context, entry engine.FrontierEntry, u *url.URL, fetchResult engine.FetchResult, started time.Time, crawlMs int64) {
	scrapeStart := j.now()
	extracted, failure := j.deps.Extractor.Extract(fetchResult.FinalURL, fetchResult.Bytes)
	scrapeMs := j.now().Sub(scrapeStart).Milliseconds()

	page := j.successPage(entry, u, started, crawlMs, scrapeMs)
	page.Status = engine.StatusCrawled
	if failure != nil {
		// Link discovery failed but the fetch succeeded; still record a
		// crawled page with zero links rather than a scrape failure,
		// since only_crawl never promises content extraction.
		j.recordPage(page)
		return
	}
	page.LinksFound = len(extracted.Anchors)
	j.recordPage(page)
	j.enqueueChildren(ctx, entry, extracted.Anchors)
}

// processScrape handles only_scrape and crawl_scrape: both fetch and
// extract content; crawl_scrape also enqueues children.
func (j *Job) processScrape(ctx context.Context, entry engine.FrontierEntry, u *url.URL, fetchResult engine.FetchResult, started time.Time, crawlMs int64) {
	scrapeStart := j.now()
	extracted, failure := j.deps.Extractor.Extract(fetchResult.FinalURL, fetchResult.Bytes)
	scrapeMs := j.now().Sub(scrapeStart).Milliseconds()

	if failure != nil {
		page := j.failurePage(entry, *failure, started)
		page.Timing.CrawlMs = crawlMs
		page.Timing.ScrapeMs = scrapeMs
		page.Timing.TimeBeforeFailureMs = crawlMs + scrapeMs
		page.Timing.TotalMs = page.Timing.TimeBeforeFailureMs
		j.recordPage(page)
		return
	}

	page := j.successPage(entry, u, started, crawlMs, scrapeMs)
	page.Status = engine.StatusScraped
	if j.mode == engine.ModeCrawlScrape && extracted.Content == "" {
		page.Status = engine.StatusCrawled
	}
	page.HasContent = extracted.Content != ""
	page.Content = extracted.Content
	page.LinksFound = len(extracted.Anchors)
	if extracted.HasTitle {
		title := extracted.Title
		page.Title = &title
	}
	j.recordPage(page)

	if j.mode == engine.ModeCrawlScrape {
		j.enqueueChildren(ctx, entry, extracted.Anchors)
	}
}

// enqueueChildren implements step 8 of §4.7: admit each discovered
// anchor into the Frontier at depth+1, unless include_child_pages is
// false, in which case links_found was already recorded but no child is
// enqueued (step 9).
func (j *Job) enqueueChildren(ctx context.Context, entry engine.FrontierEntry, anchors []string) {
	if !j.scope.IncludeChildPages {
		return
	}
	if ctx.Err() != nil {
		return
	}
	for _, anchor := range anchors {
		j.frontier.TryAdmit(anchor, entry.Depth+1, entry.URL)
	}
}

func (j *Job) failurePage(entry engine.FrontierEntry, failure engine.Failure, started time.Time) engine.PageResult {
	page := j.basePage(entry, started)
	page.Status = engine.StatusError
	page.Category = engine.CategoryError
	f := failure
	page.Failure = &f
	return page
}

func (j *Job) successPage(entry engine.FrontierEntry, u *url.URL, started time.Time, crawlMs, scrapeMs int64) engine.PageResult {
	page := j.basePage(entry, started)
	page.Timing.CrawlMs = crawlMs
	page.Timing.ScrapeMs = scrapeMs
	page.Timing.TotalMs = crawlMs + scrapeMs

	host := strings.ToLower(u.Host)
	primary := strings.ToLower(j.scope.PrimaryHost)
	page.IsSameDomain = host == primary
	page.IsSubdomain = normalize.IsSubdomainOf(host, primary)
	if page.IsSameDomain || page.IsSubdomain {
		page.Category = engine.CategorySameDomainSuccess
	} else {
		page.Category = engine.CategoryExternalDomain
	}
	return page
}

func (j *Job) basePage(entry engine.FrontierEntry, started time.Time) engine.PageResult {
	return engine.PageResult{
		URL:       entry.URL,
		ParentURL: entry.Parent,
		Depth:     entry.Depth,
		FetchedAt: started,
	}
}
