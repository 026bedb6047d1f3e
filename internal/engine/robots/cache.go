// Package robots implements a per-Job, per-host robots.txt cache.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/arlobrandt/polycrawl/internal/engine"
)

// DefaultFetchTimeout is the short timeout used to fetch a host's
// robots.txt, per §4.2.
const DefaultFetchTimeout = 10 * time.Second

type cacheEntry struct {
	data        *robotstxt.RobotsData
	fetchFailed bool
	reason      string
	crawlDelay  float64
}

// Cache memoizes parsed robots.txt policies for the lifetime of a single
// Job. A fetch failure is cached as fail-open ("allow all") with the
// failure reason retained, so Allowed callers can distinguish an explicit
// allow from an unreachable robots.txt.
type Cache struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// New builds a Cache that fetches robots.txt with userAgent and logs
// fetch failures at Warn level via logger.
func New(userAgent string, logger *zap.Logger) *Cache {
	return &Cache{
		client:    &http.Client{Timeout: DefaultFetchTimeout},
		userAgent: userAgent,
		logger:    logger,
		entries:   make(map[string]cacheEntry),
	}
}

// Allowed implements engine.RobotsCache.
func (c *Cache) Allowed(ctx context.Context, rawURL, userAgent string) engine.RobotsAllowance {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return engine.RobotsAllowance{Allowed: false, Reason: "invalid url"}
	}
	entry := c.load(ctx, parsed)
	if entry.fetchFailed {
		return engine.RobotsAllowance{Allowed: true, FetchFailed: true, Reason: entry.reason}
	}
	ua := userAgent
	if ua == "" {
		ua = c.userAgent
	}
	group := entry.data.FindGroup(ua)
	if group == nil {
		return engine.RobotsAllowance{Allowed: true, CrawlDelay: entry.crawlDelay}
	}
	return engine.RobotsAllowance{
		Allowed:    group.Test(parsed.Path),
		CrawlDelay: entry.crawlDelay,
	}
}

func (c *Cache) load(ctx context.Context, parsed *url.URL) cacheEntry {
	hostKey := strings.ToLower(parsed.Host)

	c.mu.Lock()
	if entry, ok := c.entries[hostKey]; ok {
		c.mu.Unlock()
		return entry
	}
	c.mu.Unlock()

	entry := c.fetch(ctx, parsed, hostKey)

	c.mu.Lock()
	c.entries[hostKey] = entry
	c.mu.Unlock()

	return entry
}

func (c *Cache) fetch(ctx context.Context, parsed *url.URL, hostKey string) cacheEntry {
	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return c.failOpen(fmt.Sprintf("build robots request: %v", err))
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return c.failOpen(fmt.Sprintf("fetch robots.txt for %s: %v", hostKey, err))
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && c.logger != nil {
			c.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return c.failOpen(fmt.Sprintf("read robots.txt body for %s: %v", hostKey, err))
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return c.failOpen(fmt.Sprintf("parse robots.txt for %s: %v", hostKey, err))
	}

	delay := 0.0
	if group := data.FindGroup(c.userAgent); group != nil {
		delay = group.CrawlDelay.Seconds()
	}
	return cacheEntry{data: data, crawlDelay: delay}
}

func (c *Cache) failOpen(reason string) cacheEntry {
	if c.logger != nil {
		c.logger.Warn("robots.txt fetch failed; allowing access", zap.String("reason", reason))
	}
	return cacheEntry{fetchFailed: true, reason: reason}
}
