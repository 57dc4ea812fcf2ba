package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"clawgate/internal/approval"
	"clawgate/internal/domain"
	"clawgate/internal/provider"
	"clawgate/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedProvider replays responses in order and records every request.
// Once the script is exhausted the last response is repeated.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*domain.ChatResponse
	err       error
	requests  []domain.ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	i := len(p.requests) - 1
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	resp := *p.responses[i]
	return &resp, nil
}

func answer(content string) *domain.ChatResponse {
	return &domain.ChatResponse{
		Content:  content,
		Usage:    domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Model:    "model-a",
		Provider: "scripted",
	}
}

func callTool(id, name, args string) *domain.ChatResponse {
	return &domain.ChatResponse{
		ToolCalls: []domain.ToolCall{{ID: id, Name: name, Arguments: args}},
		Usage:     domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Model:     "model-a",
		Provider:  "scripted",
	}
}

// recordingTool counts executions and returns a fixed result.
type recordingTool struct {
	name      string
	dangerous bool
	result    domain.ToolResult
	panicWith any

	mu    sync.Mutex
	calls []map[string]any
	tcs   []domain.ToolContext
}

func (r *recordingTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        r.name,
		Description: "test tool " + r.name,
		Parameters:  tool.Schema(map[string]tool.Param{"command": {Type: "string"}}, nil),
		Dangerous:   r.dangerous,
	}
}

func (r *recordingTool) Execute(ctx context.Context, tc domain.ToolContext, args map[string]any) domain.ToolResult {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	r.tcs = append(r.tcs, tc)
	r.mu.Unlock()
	if r.panicWith != nil {
		panic(r.panicWith)
	}
	return r.result
}

func (r *recordingTool) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// fakeMemory returns canned recall results and reports stores on a channel.
type fakeMemory struct {
	recalled  []domain.MemoryEntry
	recallErr error
	stored    chan string
	tags      chan []string
}

func newFakeMemory(recalled ...string) *fakeMemory {
	m := &fakeMemory{stored: make(chan string, 4), tags: make(chan []string, 4)}
	for i, c := range recalled {
		m.recalled = append(m.recalled, domain.MemoryEntry{ID: fmt.Sprint(i), Content: c})
	}
	return m
}

func (m *fakeMemory) Store(ctx context.Context, content string, tags []string) (string, error) {
	m.stored <- content
	m.tags <- tags
	return "mem-1", nil
}

func (m *fakeMemory) Recall(ctx context.Context, query string, limit int) ([]domain.MemoryEntry, error) {
	if limit != recallLimit {
		return nil, fmt.Errorf("unexpected limit %d", limit)
	}
	return m.recalled, m.recallErr
}

func (m *fakeMemory) Forget(ctx context.Context, id string) error { return nil }

type loopFixture struct {
	provider *scriptedProvider
	registry *tool.Registry
	loop     *Loop
}

func newLoop(t *testing.T, p *scriptedProvider, strategy approval.Strategy, mem domain.MemoryStore, tools ...domain.Tool) loopFixture {
	t.Helper()
	reg := tool.NewRegistry(testLogger())
	for _, tl := range tools {
		if err := reg.Register(tl); err != nil {
			t.Fatal(err)
		}
	}
	gate := approval.NewGate(approval.GateConfig{Default: strategy, Logger: testLogger()})
	cfg := LoopConfig{
		Provider: p,
		Tools:    reg,
		Gate:     gate,
		Model:    "model-a",
		WorkDir:  t.TempDir(),
		Logger:   testLogger(),
	}
	if mem != nil {
		cfg.Memory = mem
	}
	return loopFixture{provider: p, registry: reg, loop: NewLoop(cfg)}
}

func TestLoop_AnswersWithoutTools(t *testing.T) {
	f := newLoop(t, &scriptedProvider{responses: []*domain.ChatResponse{answer("hello there")}}, approval.Auto(true), nil)

	var history []domain.Message
	res, err := f.loop.Execute(context.Background(), Turn{UserMessage: "hi", History: &history, SessionID: "cli"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "hello there" || res.Model != "model-a" || res.Provider != "scripted" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.ToolCalls) != 0 {
		t.Errorf("expected empty trace, got %d", len(res.ToolCalls))
	}
	if len(history) != 2 || history[0].Role != domain.RoleUser || history[0].Content != "hi" ||
		history[1].Role != domain.RoleAssistant || history[1].Content != "hello there" {
		t.Fatalf("unexpected history: %+v", history)
	}
	if len(f.provider.requests) != 1 {
		t.Fatalf("expected 1 model call, got %d", len(f.provider.requests))
	}

	req := f.provider.requests[0]
	if req.Tools != nil {
		t.Errorf("tools should be omitted with an empty registry, got %+v", req.Tools)
	}
	if req.Temperature != 0.7 || req.Model != "model-a" {
		t.Errorf("temperature=%v model=%q", req.Temperature, req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != domain.RoleSystem || req.Messages[1].Content != "hi" {
		t.Errorf("unexpected prompt: %+v", req.Messages)
	}
}

func TestLoop_EmptyMessage(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{answer("x")}}
	f := newLoop(t, p, approval.Auto(true), nil)

	for _, msg := range []string{"", "   \n\t"} {
		_, err := f.loop.Execute(context.Background(), Turn{UserMessage: msg})
		if !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("Execute(%q) err = %v, want ErrEmptyMessage", msg, err)
		}
	}
	if len(p.requests) != 0 {
		t.Error("provider must not be called for an empty message")
	}
}

func TestLoop_ToolRoundHistoryShape(t *testing.T) {
	echo := &recordingTool{name: "file_read", result: domain.OK("file contents")}
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		callTool("call_1", "file_read", `{"command":"a.txt"}`),
		answer("the file says hi"),
	}}
	f := newLoop(t, p, approval.Auto(false), nil, echo)

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "earlier"},
		{Role: domain.RoleAssistant, Content: "earlier answer"},
	}
	res, err := f.loop.Execute(context.Background(), Turn{
		UserMessage: "read a.txt",
		History:     &history,
		SessionID:   "telegram:1",
		ChannelID:   "telegram:1",
		SenderID:    "42",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	wantRoles := []string{"user", "assistant", "user", "assistant", "tool", "assistant"}
	if len(history) != len(wantRoles) {
		t.Fatalf("history length = %d, want %d: %+v", len(history), len(wantRoles), history)
	}
	for i, role := range wantRoles {
		if history[i].Role != role {
			t.Errorf("history[%d].Role = %q, want %q", i, history[i].Role, role)
		}
	}
	toolMsg := history[4]
	if toolMsg.ToolCallID != "call_1" || toolMsg.ToolName != "file_read" || toolMsg.Content != "file contents" {
		t.Errorf("unexpected tool message: %+v", toolMsg)
	}

	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Input != `{"command":"a.txt"}` || res.ToolCalls[0].Output != "file contents" {
		t.Errorf("unexpected trace: %+v", res.ToolCalls)
	}
	if res.Usage.TotalTokens != 30 {
		t.Errorf("usage should be summed across calls, got %+v", res.Usage)
	}

	if echo.count() != 1 {
		t.Fatalf("tool executed %d times", echo.count())
	}
	tc := echo.tcs[0]
	if tc.SessionID != "telegram:1" || tc.ChannelID != "telegram:1" || tc.SenderID != "42" || tc.WorkDir == "" {
		t.Errorf("unexpected tool context: %+v", tc)
	}
	if echo.calls[0]["command"] != "a.txt" {
		t.Errorf("arguments not decoded: %+v", echo.calls[0])
	}

	// The second request carries system, prior history, user, assistant(tool call), tool.
	second := p.requests[1]
	if len(second.Messages) != 6 {
		t.Fatalf("second request has %d messages", len(second.Messages))
	}
	if len(second.Tools) != 1 || second.Tools[0].Name != "file_read" {
		t.Errorf("unexpected tools offered: %+v", second.Tools)
	}
}

func TestLoop_DeniedShellNeverRuns(t *testing.T) {
	shell := &recordingTool{name: "shell", dangerous: true, result: domain.OK("root")}
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		callTool("call_1", "shell", `{"command":"whoami"}`),
		answer("I was not allowed to run that."),
	}}
	f := newLoop(t, p, approval.Auto(false), nil, shell)

	var history []domain.Message
	res, err := f.loop.Execute(context.Background(), Turn{UserMessage: "who am I?", History: &history, ChannelID: "cli"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if shell.count() != 0 {
		t.Fatal("denied tool must not execute")
	}
	want := "[DENIED] Tool 'shell' was not approved"
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Output != want {
		t.Fatalf("unexpected trace: %+v", res.ToolCalls)
	}
	if history[2].Content != want {
		t.Errorf("tool message = %q, want %q", history[2].Content, want)
	}
	if res.Content != "I was not allowed to run that." {
		t.Errorf("content = %q", res.Content)
	}
}

func TestLoop_ApprovedDangerousToolRuns(t *testing.T) {
	shell := &recordingTool{name: "shell", dangerous: true, result: domain.ToolResult{Kind: domain.ResultTimeout, Output: "Command exceeded 30s"}}
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		callTool("call_1", "shell", `{"command":"sleep 100"}`),
		answer("it timed out"),
	}}
	f := newLoop(t, p, approval.Auto(true), nil, shell)

	res, err := f.loop.Execute(context.Background(), Turn{UserMessage: "sleep", ChannelID: "cli"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if shell.count() != 1 {
		t.Fatalf("expected one execution, got %d", shell.count())
	}
	if got := res.ToolCalls[0].Output; got != "[TIMEOUT] Command exceeded 30s" {
		t.Errorf("output = %q", got)
	}
}

func TestLoop_ToolFailuresBecomeResults(t *testing.T) {
	failing := &recordingTool{name: "file_read", result: domain.Errorf("no such file")}
	exploding := &recordingTool{name: "list_dir", panicWith: "boom"}
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{
			{ID: "1", Name: "nope", Arguments: `{}`},
			{ID: "2", Name: "file_read", Arguments: `{"command":"x"}`},
			{ID: "3", Name: "file_read", Arguments: `{not json`},
			{ID: "4", Name: "list_dir", Arguments: ``},
		}},
		answer("done"),
	}}
	f := newLoop(t, p, approval.Auto(true), nil, failing, exploding)

	res, err := f.loop.Execute(context.Background(), Turn{UserMessage: "go"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.ToolCalls) != 4 {
		t.Fatalf("expected 4 trace entries, got %d", len(res.ToolCalls))
	}

	outs := make([]string, 4)
	for i, e := range res.ToolCalls {
		outs[i] = e.Output
	}
	if outs[0] != "[ERROR] Unknown tool: nope" {
		t.Errorf("unknown tool: %q", outs[0])
	}
	if outs[1] != "[ERROR] no such file" {
		t.Errorf("error result: %q", outs[1])
	}
	if !strings.HasPrefix(outs[2], "[ERROR] invalid arguments: ") {
		t.Errorf("malformed arguments: %q", outs[2])
	}
	if !strings.HasPrefix(outs[3], "[ERROR] ") || !strings.Contains(outs[3], "boom") {
		t.Errorf("panic: %q", outs[3])
	}
	// Malformed JSON must not reach the tool.
	if failing.count() != 1 {
		t.Errorf("file_read executed %d times, want 1", failing.count())
	}
}

func TestLoop_RoundLimitForcesFinalAnswer(t *testing.T) {
	busy := &recordingTool{name: "list_dir", result: domain.OK("ok")}
	p := &scriptedProvider{responses: []*domain.ChatResponse{callTool("c", "list_dir", `{}`)}}
	f := newLoop(t, p, approval.Auto(true), nil, busy)

	var history []domain.Message
	res, err := f.loop.Execute(context.Background(), Turn{UserMessage: "loop forever", History: &history})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(p.requests) != MaxRounds+1 {
		t.Fatalf("expected %d model calls, got %d", MaxRounds+1, len(p.requests))
	}
	if p.requests[MaxRounds].Tools != nil {
		t.Error("forced final call must not offer tools")
	}
	for i := 0; i < MaxRounds; i++ {
		if p.requests[i].Tools == nil {
			t.Errorf("round %d should offer tools", i)
		}
	}
	if len(res.ToolCalls) != MaxRounds || busy.count() != MaxRounds {
		t.Errorf("trace=%d executions=%d, want %d", len(res.ToolCalls), busy.count(), MaxRounds)
	}
	// user + 10 × (assistant + tool) + final assistant
	if len(history) != 1+2*MaxRounds+1 {
		t.Errorf("history length = %d", len(history))
	}
	if last := history[len(history)-1]; last.Role != domain.RoleAssistant || len(last.ToolCalls) != 0 {
		t.Errorf("final history entry should be a plain assistant message: %+v", last)
	}
	if res.Usage.TotalTokens != 15*(MaxRounds+1) {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestLoop_MemoryRecallAndStore(t *testing.T) {
	mem := newFakeMemory("likes Go", "uses vim")
	p := &scriptedProvider{responses: []*domain.ChatResponse{answer("noted")}}
	f := newLoop(t, p, approval.Auto(true), mem)

	var history []domain.Message
	_, err := f.loop.Execute(context.Background(), Turn{UserMessage: "what editor?", History: &history, SessionID: "cli"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	msgs := p.requests[0].Messages
	want := "[Recalled memories]\n- likes Go\n- uses vim\n\n[User message]\nwhat editor?"
	if got := msgs[len(msgs)-1].Content; got != want {
		t.Errorf("enriched message = %q, want %q", got, want)
	}
	if history[0].Content != "what editor?" {
		t.Errorf("history must keep the original message, got %q", history[0].Content)
	}

	select {
	case stored := <-mem.stored:
		if stored != "Q: what editor?\nA: noted" {
			t.Errorf("stored = %q", stored)
		}
		tags := <-mem.tags
		if len(tags) != 1 || tags[0] != "session:cli" {
			t.Errorf("tags = %v", tags)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("memory was not stored")
	}
}

func TestLoop_RecallFailureIgnored(t *testing.T) {
	mem := newFakeMemory()
	mem.recallErr = errors.New("index corrupt")
	p := &scriptedProvider{responses: []*domain.ChatResponse{answer("fine")}}
	f := newLoop(t, p, approval.Auto(true), mem)

	res, err := f.loop.Execute(context.Background(), Turn{UserMessage: "hello"})
	if err != nil || res.Content != "fine" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	msgs := p.requests[0].Messages
	if msgs[len(msgs)-1].Content != "hello" {
		t.Errorf("message should not be enriched: %q", msgs[len(msgs)-1].Content)
	}
}

func TestLoop_SkillOverridesAndToolSubset(t *testing.T) {
	shell := &recordingTool{name: "shell", dangerous: true, result: domain.OK("ran")}
	git := &recordingTool{name: "git", result: domain.OK("clean")}
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		callTool("c1", "shell", `{"command":"ls"}`),
		answer("ok"),
	}}
	f := newLoop(t, p, approval.Auto(true), nil, shell, git)

	res, err := f.loop.Execute(context.Background(), Turn{
		UserMessage:  "status please",
		SystemPrompt: "You review code.",
		AllowedTools: []string{"git"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	req := p.requests[0]
	if req.Messages[0].Content != "You review code." {
		t.Errorf("system prompt = %q", req.Messages[0].Content)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "git" {
		t.Errorf("tools offered: %+v", req.Tools)
	}
	if shell.count() != 0 {
		t.Error("tool outside the subset must not run")
	}
	if res.ToolCalls[0].Output != "[ERROR] Unknown tool: shell" {
		t.Errorf("output = %q", res.ToolCalls[0].Output)
	}
}

func TestLoop_ProviderExhaustionPropagates(t *testing.T) {
	exhausted := &provider.ExhaustedError{Failures: []provider.Failure{{Provider: "p1", Model: "m", Message: "HTTP 503"}}}
	p := &scriptedProvider{err: exhausted}
	f := newLoop(t, p, approval.Auto(true), nil)

	var history []domain.Message
	_, err := f.loop.Execute(context.Background(), Turn{UserMessage: "hi", History: &history})
	var got *provider.ExhaustedError
	if !errors.As(err, &got) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
}
