package provider

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

var (
	transportOnce sync.Once
	transport     *http.Transport
)

// pooledTransport is the connection pool every backend shares.
func pooledTransport() *http.Transport {
	transportOnce.Do(func() {
		dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		}
	})
	return transport
}

// SharedHTTPClient returns a client on the shared pool whose requests time
// out after timeout (defaultHTTPTimeout when <= 0). Model calls can run long,
// so the deadline covers the whole exchange rather than the response header.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout, Transport: pooledTransport()}
}

// HealthChecker is implemented by backends that can probe their endpoint.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// withRetryAfter appends the response's Retry-After header to msg so that
// RetryAfter can find it.
func withRetryAfter(msg string, resp *http.Response) string {
	if resp == nil {
		return msg
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		return msg + " (retry-after: " + ra + ")"
	}
	return msg
}
