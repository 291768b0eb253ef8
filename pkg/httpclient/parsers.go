package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseStandardHeaders extracts rate-limit information from the generic
// headers defined by RFC 6585 / RFC 9110 (Retry-After) plus the de-facto
// X-RateLimit-* convention used by most REST and MCP-over-HTTP providers.
// New() installs no HeaderParser; a Client reads these headers for
// SmartRetry only when built with WithHeaderParser(ParseStandardHeaders).
func ParseStandardHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
		} else if when, err := http.ParseTime(retryAfter); err == nil {
			if d := time.Until(when); d > 0 {
				info.RetryAfter = d
			}
		}
	}

	if resetStr := headers.Get("X-RateLimit-Reset"); resetStr != "" {
		if resetTime, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			info.ResetTime = resetTime
		}
	}

	if remaining := headers.Get("X-RateLimit-Remaining"); remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil {
			info.RequestsRemaining = n
		}
	}

	return info
}
