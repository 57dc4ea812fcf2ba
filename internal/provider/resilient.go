package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMaxRetries    = 2
	defaultBaseDelay     = 500 * time.Millisecond
	defaultMaxDelay      = 10 * time.Second
	defaultMaxRetryAfter = 30 * time.Second
)

// Retry configures Call.
type Retry struct {
	MaxRetries    int           // retries after the first attempt
	BaseDelay     time.Duration // doubled after every failed attempt
	MaxDelay      time.Duration // ceiling for the computed backoff
	MaxRetryAfter time.Duration // ceiling for server-provided Retry-After hints
}

// DefaultRetry returns the retry policy used when none is configured.
func DefaultRetry() Retry {
	return Retry{
		MaxRetries:    defaultMaxRetries,
		BaseDelay:     defaultBaseDelay,
		MaxDelay:      defaultMaxDelay,
		MaxRetryAfter: defaultMaxRetryAfter,
	}
}

// StatusError is a failed upstream HTTP call.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// RetryError is returned when every attempt failed.
type RetryError struct {
	Attempts int
	Last     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Last)
}

func (e *RetryError) Unwrap() error { return e.Last }

// Call runs fn until it succeeds, a non-retryable error occurs, the retry
// budget is spent, or ctx is done. Client errors (4xx other than 408 and
// 429) are returned after a single attempt.
func Call[T any](ctx context.Context, r Retry, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var last error
	attempts := 0
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		attempts++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		last = err
		if !Retryable(err) || ctx.Err() != nil {
			return zero, err
		}
		if attempt == r.MaxRetries {
			break
		}

		wait := r.backoff(attempt, err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
	return zero, &RetryError{Attempts: attempts, Last: last}
}

func (r Retry) backoff(attempt int, err error) time.Duration {
	d := r.BaseDelay << attempt
	if r.MaxDelay > 0 && (d > r.MaxDelay || d <= 0) {
		d = r.MaxDelay
	}
	if IsRateLimited(err) {
		if hint, ok := RetryAfter(err); ok {
			if r.MaxRetryAfter > 0 && hint > r.MaxRetryAfter {
				hint = r.MaxRetryAfter
			}
			if hint > d {
				d = hint
			}
		}
	}
	return d
}

// Retryable reports whether err may succeed on another attempt.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	code, ok := StatusCode(err)
	if !ok {
		return true
	}
	if code >= 400 && code < 500 {
		return code == 429 || code == 408
	}
	return true
}

// statusRe matches "HTTP 503", "status 429", "status code: 401" and
// "401 Unauthorized" but not bare numbers such as ports.
var statusRe = regexp.MustCompile(`(?i:http|status(?:\s*code)?)[\s:=]*([1-5]\d\d)\b|\b([1-5]\d\d) [A-Z][a-z]`)

// StatusCode extracts an HTTP status from err, first from a *StatusError in
// the chain and then from the error text.
func StatusCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	m := statusRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	code, _ := strconv.Atoi(digits)
	return code, true
}

// IsRateLimited reports whether err is a 429 or reads like one.
func IsRateLimited(err error) bool {
	if code, ok := StatusCode(err); ok && code == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}

var retryAfterRe = regexp.MustCompile(`(?i)(?:retry[- ]after[:=]?\s*|try again in\s*)(\d+(?:\.\d+)?)\s*s?`)

// RetryAfter parses a Retry-After hint, in seconds, from the error text.
func RetryAfter(err error) (time.Duration, bool) {
	m := retryAfterRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	secs, perr := strconv.ParseFloat(m[1], 64)
	if perr != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}
