package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/MrWong99/notesmcp/pkg/provider/llm"
)

// Kind is the classification of an upstream model failure.
type Kind string

const (
	// KindAuth is a 401, or a 403 carrying an API error body.
	KindAuth Kind = "auth"

	// KindRateLimited is a 429.
	KindRateLimited Kind = "rate_limited"

	// KindProxyBlocked is a 403 whose body is an HTML interstitial served by a
	// proxy or firewall in front of the API.
	KindProxyBlocked Kind = "proxy_blocked"

	// KindNetwork covers connection failures and timeouts.
	KindNetwork Kind = "network_error"

	// KindUnknown is everything else.
	KindUnknown Kind = "unknown"
)

// Retryable reports whether failures of this kind are worth another attempt.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindNetwork
}

// Failure is the raw description of a failed model call, independent of the
// SDK that produced it.
type Failure struct {
	// Status is the upstream HTTP status, or 0 when no response was received.
	Status int

	// Body is the upstream response body, possibly truncated.
	Body string

	// Err is the error returned by the provider.
	Err error
}

// blockMarkers are lowercase fragments that identify a proxy or WAF page.
var blockMarkers = []string{
	"<html",
	"<!doctype",
	"<body",
	"<head",
	"cloudflare",
	"access denied",
	"attention required",
	"captcha",
	"request blocked",
	"forbidden</",
}

// looksBlocked reports whether body looks like an HTML interstitial rather
// than an API error.
func looksBlocked(body string) bool {
	lower := strings.ToLower(body)
	for _, m := range blockMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Describe extracts a [Failure] from a provider error.
func Describe(err error) Failure {
	f := Failure{Err: err}
	var se *llm.StatusError
	if errors.As(err, &se) {
		f.Status = se.StatusCode
		f.Body = se.Body
	}
	return f
}

// Classify maps a failure to its [Kind]. It is a pure function of its input.
func Classify(f Failure) Kind {
	switch f.Status {
	case http.StatusUnauthorized:
		return KindAuth
	case http.StatusForbidden:
		if looksBlocked(f.Body) {
			return KindProxyBlocked
		}
		return KindAuth
	case http.StatusTooManyRequests:
		return KindRateLimited
	case 0:
		if isNetworkError(f.Err) {
			return KindNetwork
		}
		return KindUnknown
	default:
		return KindUnknown
	}
}

// isNetworkError reports whether err is a transport-level failure.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// shouldRetry reports whether another attempt may succeed. Unknown failures
// are retried only for upstream server errors.
func shouldRetry(kind Kind, status int) bool {
	if kind.Retryable() {
		return true
	}
	return kind == KindUnknown && status >= 500
}
