package fetch

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/arlobrandt/polycrawl/internal/engine"
)

// RetryPolicy decides whether and how long to wait before retrying a
// failed fetch, per §4.4.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewRetryPolicy returns the spec defaults: base 0.5s, ×2 growth, capped
// at 5s, up to 3 retries.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// ShouldRetry reports whether a Failure of the given type/status is
// retryable and the attempt budget has not been exhausted. Transient
// failures (timeout, connection_error, http_5xx, http 429) are retried;
// ssl_error, dns_error, non-429 http_4xx and robots_blocked are not.
func (p *RetryPolicy) ShouldRetry(f *engine.Failure, attempt int) bool {
	if f == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	switch f.Type {
	case engine.FailureTimeout, engine.FailureConnectionError, engine.FailureHTTP5xx:
		return true
	case engine.FailureHTTP4xx:
		return f.HTTPStatus == 429
	default:
		return false
	}
}

// Backoff returns the jittered wait duration before attempt+1, base ×2
// growth with ±20% jitter, capped at MaxDelay.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitterRange := delay * 0.2
	jitter := p.symmetricJitter(jitterRange)
	result := delay + jitter
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}

// symmetricJitter returns a value in [-limit, +limit].
func (p *RetryPolicy) symmetricJitter(limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit * 2))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return 0
	}
	return float64(n.Int64()) - limit
}
