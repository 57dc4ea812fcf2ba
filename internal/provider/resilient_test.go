package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCall_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	v, err := Call(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("v=%q err=%v", v, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestCall_ExhaustedReturnsRetryError(t *testing.T) {
	calls := 0
	_, err := Call(context.Background(), fastRetry(2), func(ctx context.Context) (int, error) {
		calls++
		return 0, &StatusError{StatusCode: 500, Body: "down"}
	})
	var re *RetryError
	if !errors.As(err, &re) || re.Attempts != 3 {
		t.Fatalf("err = %v", err)
	}
	if code, _ := StatusCode(err); code != 500 {
		t.Fatalf("status through RetryError = %d", code)
	}
}

func TestCall_RetriesRateLimitAndTimeout(t *testing.T) {
	for _, msg := range []string{"HTTP 429: slow down", "HTTP 408: request timeout"} {
		calls := 0
		Call(context.Background(), fastRetry(2), func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New(msg)
		})
		if calls != 3 {
			t.Errorf("%s: calls = %d, want 3", msg, calls)
		}
	}
}

func TestCall_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Call(ctx, Retry{MaxRetries: 5, BaseDelay: time.Hour}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("HTTP 503")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRetryable(t *testing.T) {
	cases := map[string]bool{
		"HTTP 401: unauthorized":                    false,
		"HTTP 400: bad request":                     false,
		"status code: 404":                          false,
		`POST "https://x/v1": 403 Forbidden`:        false,
		"HTTP 429: too many":                        true,
		"HTTP 408":                                  true,
		"HTTP 500: internal":                        true,
		"dial tcp 10.0.0.1:443: connection refused": true,
		"unexpected EOF":                            true,
	}
	for msg, want := range cases {
		if got := Retryable(errors.New(msg)); got != want {
			t.Errorf("Retryable(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestRetryAfterHint(t *testing.T) {
	cases := map[string]time.Duration{
		"HTTP 429: rate limited (retry-after: 7)":       7 * time.Second,
		"Rate limit reached. Please try again in 1.5s.": 1500 * time.Millisecond,
		"Retry after 3 seconds":                         3 * time.Second,
	}
	for msg, want := range cases {
		got, ok := RetryAfter(errors.New(msg))
		if !ok || got != want {
			t.Errorf("RetryAfter(%q) = %v %v, want %v", msg, got, ok, want)
		}
	}
	if _, ok := RetryAfter(errors.New("HTTP 429")); ok {
		t.Error("no hint expected")
	}
}

func TestBackoff_PrefersLargerRetryAfter(t *testing.T) {
	r := Retry{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, MaxRetryAfter: 5 * time.Second}

	err := fmt.Errorf("HTTP 429: slow down (retry-after: 3)")
	if d := r.backoff(0, err); d != 3*time.Second {
		t.Fatalf("backoff = %v, want 3s", d)
	}

	capped := fmt.Errorf("HTTP 429: slow down (retry-after: 60)")
	if d := r.backoff(0, capped); d != 5*time.Second {
		t.Fatalf("capped backoff = %v, want 5s", d)
	}

	small := fmt.Errorf("rate limit exceeded, retry after 0")
	if d := r.backoff(2, small); d != 400*time.Millisecond {
		t.Fatalf("computed backoff should win: %v", d)
	}

	// Retry-After is only honored for rate-limit errors.
	other := fmt.Errorf("HTTP 503: retry-after: 4")
	if d := r.backoff(0, other); d != 100*time.Millisecond {
		t.Fatalf("non rate-limit backoff = %v", d)
	}
}

func TestBackoff_Ceiling(t *testing.T) {
	r := Retry{BaseDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond}
	for i, w := range want {
		if d := r.backoff(i, errors.New("x")); d != w {
			t.Errorf("attempt %d: %v, want %v", i, d, w)
		}
	}
}
