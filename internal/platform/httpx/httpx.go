package httpx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// IsRetryableHTTPStatus reports whether a status is worth another attempt at all.
// Callers that must avoid duplicate side effects use IsPreResponseStatus instead.
func IsRetryableHTTPStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// IsPreResponseStatus reports statuses that the upstream emits before doing any work:
// rate limiting and explicit unavailability.
func IsPreResponseStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// IsDialError reports whether err happened while establishing the connection,
// meaning no request bytes were processed by the upstream.
func IsDialError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}

func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
