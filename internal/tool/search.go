package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clawgate/internal/domain"
	"clawgate/internal/security"
)

const (
	searchTimeout       = 15 * time.Second
	searchMaxBytes      = 512 * 1024
	duckDuckGoEndpoint  = "https://api.duckduckgo.com/"
	searchRelatedTopics = 5
)

type WebSearchConfig struct {
	Policy   *security.Policy
	Provider string // only "duckduckgo" is supported
	Endpoint string // overrides the DuckDuckGo API base
	Client   *http.Client
}

// WebSearchTool searches the web using the DuckDuckGo Instant Answer API.
type WebSearchTool struct {
	policy   *security.Policy
	provider string
	endpoint string
	client   *http.Client
}

func NewWebSearchTool(cfg WebSearchConfig) *WebSearchTool {
	if cfg.Provider == "" {
		cfg.Provider = "duckduckgo"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = duckDuckGoEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: searchTimeout}
	}
	return &WebSearchTool{
		policy:   cfg.Policy,
		provider: strings.ToLower(cfg.Provider),
		endpoint: cfg.Endpoint,
		client:   cfg.Client,
	}
}

func (t *WebSearchTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web for information. Returns a summary of search results.",
		Parameters: Schema(
			map[string]Param{
				"query": {Type: "string", Description: "Search query to look up on the web"},
			},
			[]string{"query"},
		),
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, tc domain.ToolContext, args map[string]any) domain.ToolResult {
	if err := t.policy.CheckRateLimit("web_search"); err != nil {
		return domain.Errorf("%v", err)
	}
	if t.provider != "duckduckgo" {
		return domain.Errorf("Unsupported search provider: %s. Only 'duckduckgo' is supported.", t.provider)
	}
	query := strings.TrimSpace(StringArg(args, "query"))
	if query == "" {
		return domain.Errorf("query is required")
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return domain.Errorf("build request: %v", err)
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return domain.Errorf("Search failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Errorf("Search failed: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, searchMaxBytes))
	if err != nil {
		return domain.Errorf("read response: %v", err)
	}
	var ddg ddgResponse
	if err := json.Unmarshal(body, &ddg); err != nil {
		return domain.Errorf("parse response: %v", err)
	}
	return domain.OK(ddg.summary(query))
}

// DuckDuckGo response types
type ddgResponse struct {
	Abstract      string     `json:"Abstract"`
	AbstractURL   string     `json:"AbstractURL"`
	Heading       string     `json:"Heading"`
	Answer        string     `json:"Answer"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}

func (r ddgResponse) summary(query string) string {
	var results []string
	if r.Abstract != "" {
		results = append(results, fmt.Sprintf("## %s\n%s\nSource: %s", r.Heading, r.Abstract, r.AbstractURL))
	}
	if r.Answer != "" {
		results = append(results, "Answer: "+r.Answer)
	}
	n := 0
	for _, topic := range r.RelatedTopics {
		if n >= searchRelatedTopics {
			break
		}
		if topic.Text == "" {
			continue
		}
		line := "- " + topic.Text
		if topic.FirstURL != "" {
			line += " (" + topic.FirstURL + ")"
		}
		results = append(results, line)
		n++
	}
	if len(results) == 0 {
		return fmt.Sprintf("No instant results found for: %s. Try a more specific query.", query)
	}
	return strings.Join(results, "\n\n")
}

var _ domain.Tool = (*WebSearchTool)(nil)
