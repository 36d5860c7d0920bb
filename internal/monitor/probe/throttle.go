package probe

import (
	"fmt"
	"net/http"
	"strings"
)

var throttlePatterns = []string{
	"rate limit exceeded",
	"too many requests",
	"daily request count exceeded",
	"project rate limit",
	"monthly quota exceeded",
	"exceeded the quota",
	"capacity exceeded",
}

// isThrottled reports whether a response body or error message looks like a provider quota.
func isThrottled(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range throttlePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// statusError describes an unexpected status, calling out rate limits and blocks.
func statusError(status, expected int, retryAfter string, body []byte) error {
	switch status {
	case http.StatusTooManyRequests:
		if retryAfter != "" {
			return fmt.Errorf("rate limited (429), retry after: %s", retryAfter)
		}
		return fmt.Errorf("rate limited (429)")
	case http.StatusForbidden:
		if expected != http.StatusForbidden {
			return fmt.Errorf("ip blocked (403)")
		}
	}
	snippet := truncate(string(body), 200)
	if isThrottled(snippet) {
		return fmt.Errorf("throttle detected in response: http %d: %s", status, snippet)
	}
	if snippet == "" {
		return fmt.Errorf("unexpected status %d (expected %d)", status, expected)
	}
	return fmt.Errorf("unexpected status %d (expected %d): %s", status, expected, snippet)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
