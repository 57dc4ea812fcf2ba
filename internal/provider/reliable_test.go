package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"clawgate/internal/domain"
)

// mockProvider implements domain.Provider for testing. Errors are keyed by
// model so fallbacks can be exercised.
type mockProvider struct {
	name     string
	mu       sync.Mutex
	calls    int
	models   []string
	chatErr  error
	errFor   map[string]error
	chatResp *domain.ChatResponse
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	m.calls++
	m.models = append(m.models, req.Model)
	m.mu.Unlock()
	if err, ok := m.errFor[req.Model]; ok {
		return nil, err
	}
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	resp := *m.chatResp
	return &resp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastRetry(n int) Retry {
	return Retry{MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestReliable_FallsBackToSecondProvider(t *testing.T) {
	p1 := &mockProvider{name: "p1", chatErr: &StatusError{StatusCode: 500, Body: "boom"}}
	p2 := &mockProvider{name: "p2", chatResp: &domain.ChatResponse{Content: "from-p2"}}
	rp := NewReliable(ReliableConfig{Providers: []domain.Provider{p1, p2}, Retry: fastRetry(0), Logger: testLogger()})

	resp, err := rp.Chat(context.Background(), domain.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-p2" || resp.Provider != "p2" {
		t.Fatalf("resp = %+v", resp)
	}
	if p1.calls != 1 {
		t.Fatalf("p1 called %d times, want 1", p1.calls)
	}
}

// silentProvider returns neither a response nor an error.
type silentProvider struct{ name string }

func (s silentProvider) Name() string { return s.name }

func (s silentProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return nil, nil
}

func TestReliable_NilResponseCountsAsFailure(t *testing.T) {
	p2 := &mockProvider{name: "p2", chatResp: &domain.ChatResponse{Content: "from-p2"}}
	rp := NewReliable(ReliableConfig{Providers: []domain.Provider{silentProvider{"p1"}, p2}, Retry: fastRetry(0), Logger: testLogger()})

	resp, err := rp.Chat(context.Background(), domain.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "p2" {
		t.Fatalf("resp = %+v", resp)
	}

	only := NewReliable(ReliableConfig{Providers: []domain.Provider{silentProvider{"p1"}}, Retry: fastRetry(0), Logger: testLogger()})
	_, err = only.Chat(context.Background(), domain.ChatRequest{Model: "m"})
	var ex *ExhaustedError
	if !errors.As(err, &ex) || len(ex.Failures) != 1 || ex.Failures[0].Provider != "p1" {
		t.Fatalf("err = %v, want one recorded failure for p1", err)
	}
}

func TestReliable_ClientErrorNotRetried(t *testing.T) {
	p1 := &mockProvider{name: "p1", chatErr: errors.New("HTTP 401: invalid api key")}
	rp := NewReliable(ReliableConfig{Providers: []domain.Provider{p1}, Retry: fastRetry(5), Logger: testLogger()})

	_, err := rp.Chat(context.Background(), domain.ChatRequest{Model: "m"})
	if err == nil {
		t.Fatal("expected error")
	}
	if p1.calls != 1 {
		t.Fatalf("p1 called %d times, want exactly 1", p1.calls)
	}
}

func TestReliable_ServerErrorRetried(t *testing.T) {
	p1 := &mockProvider{name: "p1", chatErr: &StatusError{StatusCode: 503, Body: "unavailable"}}
	rp := NewReliable(ReliableConfig{Providers: []domain.Provider{p1}, Retry: fastRetry(2), Logger: testLogger()})

	rp.Chat(context.Background(), domain.ChatRequest{Model: "m"})
	if p1.calls != 3 {
		t.Fatalf("p1 called %d times, want 3", p1.calls)
	}
}

func TestReliable_ModelFallback(t *testing.T) {
	p := &mockProvider{
		name:     "p",
		errFor:   map[string]error{"model-a": errors.New("HTTP 404: model not found")},
		chatResp: &domain.ChatResponse{Content: "ok"},
	}
	rp := NewReliable(ReliableConfig{
		Providers: []domain.Provider{p},
		Retry:     fastRetry(1),
		Fallbacks: map[string][]string{"model-a": {"model-b"}},
		Logger:    testLogger(),
	})

	resp, err := rp.Chat(context.Background(), domain.ChatRequest{Model: "model-a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Model != "model-b" {
		t.Fatalf("model = %q, want model-b", resp.Model)
	}
	if strings.Join(p.models, ",") != "model-a,model-b" {
		t.Fatalf("models tried = %v", p.models)
	}
}

func TestReliable_ChainOrder(t *testing.T) {
	p1 := &mockProvider{name: "p1", chatErr: errors.New("HTTP 400: bad")}
	p2 := &mockProvider{name: "p2", chatErr: errors.New("HTTP 400: bad")}
	rp := NewReliable(ReliableConfig{
		Providers: []domain.Provider{p1, p2},
		Retry:     fastRetry(0),
		Fallbacks: map[string][]string{"a": {"b"}},
		Logger:    testLogger(),
	})

	_, err := rp.Chat(context.Background(), domain.ChatRequest{Model: "a"})
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	var order []string
	for _, f := range ex.Failures {
		order = append(order, f.Provider+"/"+f.Model)
	}
	if strings.Join(order, " ") != "p1/a p2/a p1/b p2/b" {
		t.Fatalf("order = %v", order)
	}
}

func TestReliable_AggregatedErrorMessage(t *testing.T) {
	p1 := &mockProvider{name: "p1", chatErr: errors.New("HTTP 403: forbidden")}
	p2 := &mockProvider{name: "p2", chatErr: &StatusError{StatusCode: 502, Body: "bad gateway"}}
	rp := NewReliable(ReliableConfig{Providers: []domain.Provider{p1, p2}, Retry: fastRetry(1), Logger: testLogger()})

	_, err := rp.Chat(context.Background(), domain.ChatRequest{Model: "m"})
	if err == nil {
		t.Fatal("expected error")
	}
	want := "all providers/models failed:\np1/m: HTTP 403: forbidden\np2/m: HTTP 502: bad gateway"
	if err.Error() != want {
		t.Fatalf("error = %q\nwant %q", err.Error(), want)
	}
}

func TestReliable_NoFallbackOnSuccess(t *testing.T) {
	p1 := &mockProvider{name: "p1", chatResp: &domain.ChatResponse{Content: "first"}}
	p2 := &mockProvider{name: "p2", chatResp: &domain.ChatResponse{Content: "second"}}
	rp := NewReliable(ReliableConfig{Providers: []domain.Provider{p1, p2}, Retry: fastRetry(2), Logger: testLogger()})

	resp, _ := rp.Chat(context.Background(), domain.ChatRequest{Model: "m"})
	if resp.Content != "first" || resp.Model != "m" || resp.Provider != "p1" {
		t.Fatalf("resp = %+v", resp)
	}
	if p2.calls != 0 {
		t.Fatal("p2 should not be called")
	}
}

func TestReliable_ContextCancelled(t *testing.T) {
	p1 := &mockProvider{name: "p1", chatErr: &StatusError{StatusCode: 500}}
	p2 := &mockProvider{name: "p2", chatResp: &domain.ChatResponse{Content: "x"}}
	rp := NewReliable(ReliableConfig{
		Providers: []domain.Provider{p1, p2},
		Retry:     Retry{MaxRetries: 3, BaseDelay: time.Hour},
		Logger:    testLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := rp.Chat(ctx, domain.ChatRequest{Model: "m"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if p2.calls != 0 {
		t.Fatal("no further providers after cancellation")
	}
}

func TestReliable_Name(t *testing.T) {
	rp := NewReliable(ReliableConfig{Providers: []domain.Provider{&mockProvider{name: "a"}, &mockProvider{name: "b"}}})
	if rp.Name() != "reliable(a→b)" {
		t.Fatalf("name = %q", rp.Name())
	}
}
