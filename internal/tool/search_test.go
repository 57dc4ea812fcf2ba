package tool

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"clawgate/internal/domain"
)

func TestWebSearch_SummarizesInstantAnswer(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		io.WriteString(w, `{"Heading":"Go","Abstract":"Go is a language.","AbstractURL":"https://go.dev",
			"RelatedTopics":[{"Text":"Gopher","FirstURL":"https://go.dev/g"},{"Text":""}]}`)
	}))
	defer srv.Close()

	p, _ := testPolicy(t, 10)
	s := NewWebSearchTool(WebSearchConfig{Policy: p, Endpoint: srv.URL + "/", Client: srv.Client()})
	res := s.Execute(context.Background(), domain.ToolContext{}, map[string]any{"query": "golang language"})
	if res.Kind != domain.ResultOK {
		t.Fatalf("result = %+v", res)
	}
	if gotQuery != "golang language" {
		t.Fatalf("query = %q", gotQuery)
	}
	want := "## Go\nGo is a language.\nSource: https://go.dev\n\n- Gopher (https://go.dev/g)"
	if res.Output != want {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestWebSearch_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	p, _ := testPolicy(t, 10)
	s := NewWebSearchTool(WebSearchConfig{Policy: p, Endpoint: srv.URL + "/", Client: srv.Client()})
	res := s.Execute(context.Background(), domain.ToolContext{}, map[string]any{"query": "zzz"})
	if !strings.HasPrefix(res.Output, "No instant results found for: zzz") {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestWebSearch_HTTPErrorAndProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := testPolicy(t, 10)
	s := NewWebSearchTool(WebSearchConfig{Policy: p, Endpoint: srv.URL + "/", Client: srv.Client()})
	res := s.Execute(context.Background(), domain.ToolContext{}, map[string]any{"query": "x"})
	if res.Kind != domain.ResultError || !strings.Contains(res.Output, "HTTP 503") {
		t.Fatalf("result = %+v", res)
	}

	s = NewWebSearchTool(WebSearchConfig{Policy: p, Provider: "bing"})
	res = s.Execute(context.Background(), domain.ToolContext{}, map[string]any{"query": "x"})
	if res.Kind != domain.ResultError || !strings.Contains(res.Output, "Unsupported search provider") {
		t.Fatalf("result = %+v", res)
	}
}
