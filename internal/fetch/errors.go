package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultRetryAfter is used when a 429 response carries no usable Retry-After header.
const DefaultRetryAfter = 60

// Sentinel errors for errors.Is checks against the typed errors below.
var (
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrRequestTimeout = errors.New("request timeout")
	ErrUpstream       = errors.New("upstream error")
)

// RateLimitError is returned when the provider throttles us.
type RateLimitError struct {
	// RetryAfter is the provider's hint in seconds
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded. Retry after: %d seconds", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// TimeoutError is returned when the provider did not answer within the request timeout.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return "request timeout" }

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool { return target == ErrRequestTimeout }

// UpstreamError is any other non-2xx provider answer.
type UpstreamError struct {
	StatusCode int
	Status     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Retryable reports whether the status is one the client retries once.
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// parseRetryAfter reads a Retry-After header given either as seconds or as an HTTP date.
func parseRetryAfter(value string, now time.Time) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return secs
	}
	if at, err := http.ParseTime(value); err == nil {
		if secs := int(at.Sub(now).Round(time.Second).Seconds()); secs > 0 {
			return secs
		}
		return 0
	}
	return DefaultRetryAfter
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
