package fetch

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"strings"

	"github.com/gocolly/colly/v2"

	"github.com/arlobrandt/polycrawl/internal/engine"
)

// classify maps a colly/net error into the exhaustive crawl-phase failure
// taxonomy of §4.4, evaluated in priority order: timeout, dns_error,
// ssl_error, connection_error, redirect_loop, unknown. HTTP-status-derived
// failures (http_4xx/http_5xx) are produced separately once a response is
// received, by classifyStatus.
func classify(err error) *engine.Failure {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureTimeout, Reason: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureTimeout, Reason: err.Error()}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureDNSError, Reason: err.Error()}
	}

	var certErr x509.CertificateInvalidError
	var hostErr x509.HostnameError
	var authErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) || errors.As(err, &authErr) {
		return &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureSSLError, Reason: err.Error()}
	}
	if strings.Contains(err.Error(), "tls:") || strings.Contains(err.Error(), "x509:") {
		return &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureSSLError, Reason: err.Error()}
	}

	if isConnectionError(err) {
		return &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureConnectionError, Reason: err.Error()}
	}

	if errors.Is(err, colly.ErrMaxDepth) || strings.Contains(err.Error(), "redirect") && strings.Contains(err.Error(), "too many") {
		return &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureRedirectLoop, Reason: err.Error()}
	}

	return &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureUnknown, Reason: err.Error()}
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "EOF")
}

// classifyStatus maps a received HTTP status code to the http_4xx/http_5xx
// failure types. It returns nil for 2xx/3xx statuses.
func classifyStatus(status int) *engine.Failure {
	switch {
	case status >= 400 && status < 500:
		return &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureHTTP4xx, HTTPStatus: status}
	case status >= 500 && status < 600:
		return &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureHTTP5xx, HTTPStatus: status}
	default:
		return nil
	}
}
