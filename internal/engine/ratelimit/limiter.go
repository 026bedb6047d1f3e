// Package ratelimit implements the per-host politeness limiter: a minimum
// inter-request interval with adaptive back-off on 429/503 and decay on
// success, plus a small rotated user-agent pool.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Config holds the tunables of §4.3 / §6.
type Config struct {
	DefaultDelaySeconds float64 // baseline per-host interval, default 0.25
	MaxDelaySeconds     float64 // upper bound for adaptive delay, default 5
	DecayFactor         float64 // multiplicative decay toward default on success, default 0.9
	UserAgents          []string
}

// DefaultUserAgents is the fixed pool rotated per request when the caller
// does not supply its own.
var DefaultUserAgents = []string{
	"polycrawl/1.0 (+https://example.invalid/bot)",
	"polycrawl/1.0 (compatible; polite crawler)",
}

type hostState struct {
	mu           sync.Mutex
	limiter      *rate.Limiter
	currentDelay float64
	floor        float64 // robots-declared crawl-delay floor; decay never goes below this
}

// Limiter is shared across every Job in a Scheduler, keyed by host — it is
// the only cross-Job shared mutable state named in §5.
type Limiter struct {
	cfg Config

	mu    sync.Mutex
	hosts map[string]*hostState

	uaIndex uint64
}

// New builds a Limiter with zero-valued fields in cfg replaced by defaults.
func New(cfg Config) *Limiter {
	if cfg.DefaultDelaySeconds <= 0 {
		cfg.DefaultDelaySeconds = 0.25
	}
	if cfg.MaxDelaySeconds <= 0 {
		cfg.MaxDelaySeconds = 5
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor >= 1 {
		cfg.DecayFactor = 0.9
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	return &Limiter{cfg: cfg, hosts: make(map[string]*hostState)}
}

// Acquire blocks until the host's minimum interval has elapsed, per §4.3.
func (l *Limiter) Acquire(ctx context.Context, host string) error {
	hs := l.stateFor(host)
	if err := hs.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: acquire %s: %w", host, err)
	}
	return nil
}

// ReportStatus doubles the host's delay (capped at MaxDelaySeconds) when
// status is 429 or 503.
func (l *Limiter) ReportStatus(host string, httpStatus int) {
	if httpStatus != 429 && httpStatus != 503 {
		return
	}
	hs := l.stateFor(host)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.currentDelay *= 2
	if hs.currentDelay > l.cfg.MaxDelaySeconds {
		hs.currentDelay = l.cfg.MaxDelaySeconds
	}
	hs.limiter.SetLimit(delayToLimit(hs.currentDelay))
}

// ReportSuccess decays the host's delay toward the default baseline,
// never below any robots-declared floor.
func (l *Limiter) ReportSuccess(host string) {
	hs := l.stateFor(host)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	floor := l.cfg.DefaultDelaySeconds
	if hs.floor > floor {
		floor = hs.floor
	}
	next := hs.currentDelay * l.cfg.DecayFactor
	if next < floor {
		next = floor
	}
	if next == hs.currentDelay {
		return
	}
	hs.currentDelay = next
	hs.limiter.SetLimit(delayToLimit(hs.currentDelay))
}

// SetMinDelay raises a host's floor when robots.txt declares a Crawl-delay
// at or above the configured default, per §4.2.
func (l *Limiter) SetMinDelay(host string, seconds float64) {
	if seconds <= 0 {
		return
	}
	hs := l.stateFor(host)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if seconds <= hs.floor {
		return
	}
	hs.floor = seconds
	if hs.currentDelay < seconds {
		hs.currentDelay = seconds
		hs.limiter.SetLimit(delayToLimit(hs.currentDelay))
	}
}

// NextUserAgent rotates through the fixed pool to reduce trivial
// fingerprinting, per §4.3.
func (l *Limiter) NextUserAgent() string {
	n := atomic.AddUint64(&l.uaIndex, 1)
	return l.cfg.UserAgents[int(n-1)%len(l.cfg.UserAgents)]
}

func (l *Limiter) stateFor(host string) *hostState {
	host = strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	hs, ok := l.hosts[host]
	if !ok {
		hs = &hostState{
			currentDelay: l.cfg.DefaultDelaySeconds,
			limiter:      rate.NewLimiter(delayToLimit(l.cfg.DefaultDelaySeconds), 1),
		}
		l.hosts[host] = hs
	}
	return hs
}

func delayToLimit(delaySeconds float64) rate.Limit {
	if delaySeconds <= 0 {
		return rate.Inf
	}
	return rate.Limit(1 / delaySeconds)
}
