package tool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"clawgate/internal/domain"
	"clawgate/internal/security"
)

const (
	defaultHTTPTimeout      = 30 * time.Second
	defaultMaxResponseBytes = 1 << 20
	maxRedirects            = 5
	userAgentString         = "clawgate/1.0"
)

var (
	httpMethods      = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD"}
	sensitiveHeaders = []string{"Set-Cookie", "Authorization", "Www-Authenticate"}
)

type HTTPConfig struct {
	Policy           *security.Policy
	Timeout          time.Duration
	MaxResponseBytes int
	Client           *http.Client // optional; redirects are always handled by the tool
	Logger           *slog.Logger
}

// HTTPRequestTool performs outbound HTTP requests. Every hop, including
// redirect targets, is checked against the domain allow-list.
type HTTPRequestTool struct {
	policy   *security.Policy
	client   *http.Client
	maxBytes int
	logger   *slog.Logger
}

func NewHTTPRequestTool(cfg HTTPConfig) *HTTPRequestTool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.Client != nil {
		c := *cfg.Client
		client = &c
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &HTTPRequestTool{
		policy:   cfg.Policy,
		client:   client,
		maxBytes: cfg.MaxResponseBytes,
		logger:   cfg.Logger,
	}
}

func (t *HTTPRequestTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "http_request",
		Description: "Make an HTTP request to an allow-listed domain. Methods: GET, POST, PUT, DELETE, PATCH, HEAD.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":     map[string]any{"type": "string", "description": "Full http(s) URL"},
				"method":  map[string]any{"type": "string", "description": "HTTP method (default GET)"},
				"headers": map[string]any{"type": "object", "description": "Request headers"},
				"body":    map[string]any{"type": "string", "description": "Request body"},
			},
			"required": []string{"url"},
		},
		Dangerous: true,
	}
}

func (t *HTTPRequestTool) Execute(ctx context.Context, tc domain.ToolContext, args map[string]any) domain.ToolResult {
	rawURL := StringArg(args, "url")
	if rawURL == "" {
		return domain.Errorf("missing argument: url")
	}
	if err := t.policy.CheckRateLimit("http_request"); err != nil {
		return domain.Errorf("%v", err)
	}
	method := strings.ToUpper(StringArg(args, "method"))
	if method == "" {
		method = http.MethodGet
	}
	if !slices.Contains(httpMethods, method) {
		return domain.Errorf("Unsupported method: %s", method)
	}

	if err := t.policy.ValidateDomain(ctx, rawURL); err != nil {
		return domain.Errorf("%v", err)
	}

	t.logger.Info("http request", "method", method, "host", hostOf(rawURL), "session", tc.SessionID)

	var body io.Reader
	if b := StringArg(args, "body"); b != "" {
		body = strings.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return domain.Errorf("build request: %v", err)
	}
	req.Header.Set("User-Agent", userAgentString)
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := t.follow(ctx, req)
	if err != nil {
		return domain.Errorf("%v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxBytes)+1))
	if err != nil {
		return domain.Errorf("read body: %v", err)
	}
	return domain.OK(t.format(resp, data))
}

// follow sends req and walks up to maxRedirects redirects, validating each
// target before connecting. Redirected hops are always GET without a body.
func (t *HTTPRequestTool) follow(ctx context.Context, req *http.Request) (*http.Response, error) {
	for hop := 0; ; hop++ {
		resp, err := t.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		if resp.StatusCode < 300 || resp.StatusCode >= 400 || hop == maxRedirects {
			return resp, nil
		}
		loc := resp.Header.Get("Location")
		if loc == "" {
			return resp, nil
		}
		resp.Body.Close()

		next, err := req.URL.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect location %q: %w", loc, err)
		}
		if err := t.policy.ValidateDomain(ctx, next.String()); err != nil {
			return nil, fmt.Errorf("redirect blocked: %w", err)
		}
		t.logger.Debug("following redirect", "from", req.URL.String(), "to", next.String(), "hop", hop+1)

		req, err = http.NewRequestWithContext(ctx, http.MethodGet, next.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgentString)
	}
}

func (t *HTTPRequestTool) format(resp *http.Response, body []byte) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP %d\n", resp.StatusCode)

	keys := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if slices.Contains(sensitiveHeaders, http.CanonicalHeaderKey(k)) {
			fmt.Fprintf(&sb, "%s: [REDACTED]\n", k)
			continue
		}
		for _, v := range resp.Header[k] {
			fmt.Fprintf(&sb, "%s: %s\n", k, v)
		}
	}

	sb.WriteString("\n")
	if len(body) > t.maxBytes {
		sb.Write(body[:t.maxBytes])
		sb.WriteString("\n[TRUNCATED]")
	} else {
		sb.Write(body)
	}
	return sb.String()
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Host
	}
	return raw
}

var _ domain.Tool = (*HTTPRequestTool)(nil)
