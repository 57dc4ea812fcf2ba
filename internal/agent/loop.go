// Package agent runs tool-using conversation turns against a model provider.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clawgate/internal/approval"
	"clawgate/internal/domain"
	"clawgate/internal/metrics"
	"clawgate/internal/tool"
)

const (
	// MaxRounds bounds the number of tool-calling model calls in one turn.
	MaxRounds = 10

	defaultTemperature = 0.7
	recallLimit        = 3
	memoryStoreTimeout = 10 * time.Second
)

// ErrEmptyMessage is returned by Execute for a blank user message.
var ErrEmptyMessage = errors.New("user message must not be empty")

// Loop is the core agent engine: call the model, run requested tools through
// the approval gate, feed results back, repeat until the model answers.
type Loop struct {
	provider domain.Provider
	tools    *tool.Registry
	gate     *approval.Gate
	memory   domain.MemoryStore
	prompt   *PromptBuilder
	model    string
	workDir  string
	logger   *slog.Logger
}

// LoopConfig holds the dependencies of the agent loop. Memory is optional.
type LoopConfig struct {
	Provider domain.Provider
	Tools    *tool.Registry
	Gate     *approval.Gate
	Memory   domain.MemoryStore
	Prompt   *PromptBuilder
	Model    string
	WorkDir  string
	Logger   *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tools == nil {
		cfg.Tools = tool.NewRegistry(cfg.Logger)
	}
	if cfg.Gate == nil {
		// No strategies: every dangerous call is denied.
		cfg.Gate = approval.NewGate(approval.GateConfig{Logger: cfg.Logger})
	}
	if cfg.Prompt == nil {
		cfg.Prompt = NewPromptBuilder(PromptConfig{Workspace: cfg.WorkDir})
	}
	return &Loop{
		provider: cfg.Provider,
		tools:    cfg.Tools,
		gate:     cfg.Gate,
		memory:   cfg.Memory,
		prompt:   cfg.Prompt,
		model:    cfg.Model,
		workDir:  cfg.WorkDir,
		logger:   cfg.Logger,
	}
}

// Turn is one user message plus the conversation it belongs to.
type Turn struct {
	UserMessage string
	// History is extended in place with the turn's messages.
	History   *[]domain.Message
	SessionID string
	ChannelID string
	SenderID  string

	// SystemPrompt replaces the default prompt when non-empty.
	SystemPrompt string
	// AllowedTools restricts the offered tools when non-nil.
	AllowedTools []string
}

// TraceEntry records one executed tool call.
type TraceEntry struct {
	Tool   string `json:"tool"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

type Result struct {
	Content   string
	Model     string
	Provider  string
	ToolCalls []TraceEntry
	Usage     domain.Usage
}

// Execute runs one turn. Only provider failures are returned as errors; tool
// failures of any kind are reported to the model as tool results.
func (l *Loop) Execute(ctx context.Context, turn Turn) (*Result, error) {
	if strings.TrimSpace(turn.UserMessage) == "" {
		return nil, ErrEmptyMessage
	}
	if turn.History == nil {
		turn.History = &[]domain.Message{}
	}

	l.logger.Info("processing turn",
		"session", turn.SessionID,
		"channel", turn.ChannelID,
		"sender", turn.SenderID,
		"content_len", len(turn.UserMessage),
	)

	enriched := WithMemories(turn.UserMessage, l.recall(ctx, turn.UserMessage))
	messages := l.prompt.BuildMessages(turn.SystemPrompt, *turn.History, enriched)

	filter := NewToolFilter(turn.AllowedTools)
	toolDefs := filter.FilterDefinitions(l.tools.Definitions())

	*turn.History = append(*turn.History, domain.Message{Role: domain.RoleUser, Content: turn.UserMessage})

	res := &Result{}
	for round := 0; round < MaxRounds; round++ {
		l.logger.Debug("agent round", "round", round+1, "messages", len(messages), "tools", len(toolDefs))

		resp, err := l.chat(ctx, messages, toolDefs, res)
		if err != nil {
			return nil, err
		}

		if !resp.HasToolCalls() {
			return l.finish(ctx, turn, res, resp.Content), nil
		}

		assistant := domain.Message{Role: domain.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistant)
		*turn.History = append(*turn.History, assistant)

		for _, tc := range resp.ToolCalls {
			output := l.runTool(ctx, turn, filter, tc)
			toolMsg := domain.Message{
				Role:       domain.RoleTool,
				Content:    output,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			}
			messages = append(messages, toolMsg)
			*turn.History = append(*turn.History, toolMsg)
			res.ToolCalls = append(res.ToolCalls, TraceEntry{Tool: tc.Name, Input: tc.Arguments, Output: output})
		}
	}

	l.logger.Warn("tool round limit reached, forcing final answer", "session", turn.SessionID, "rounds", MaxRounds)
	resp, err := l.chat(ctx, messages, nil, res)
	if err != nil {
		return nil, err
	}
	if resp.HasToolCalls() {
		l.logger.Warn("ignoring tool calls in forced final answer", "session", turn.SessionID, "count", len(resp.ToolCalls))
	}
	return l.finish(ctx, turn, res, resp.Content), nil
}

func (l *Loop) chat(ctx context.Context, messages []domain.Message, tools []domain.ToolDefinition, res *Result) (*domain.ChatResponse, error) {
	start := time.Now()
	metrics.LLMRequestsTotal.Inc()
	resp, err := l.provider.Chat(ctx, domain.ChatRequest{
		Messages:    messages,
		Tools:       tools,
		Model:       l.model,
		Temperature: defaultTemperature,
	})
	metrics.LLMLatency.ObserveSince(start)
	if err != nil {
		return nil, fmt.Errorf("LLM error: %w", err)
	}
	res.Usage.Add(resp.Usage)
	res.Model = resp.Model
	res.Provider = resp.Provider
	l.logger.Debug("model responded",
		"provider", resp.Provider,
		"model", resp.Model,
		"tool_calls", len(resp.ToolCalls),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (l *Loop) finish(ctx context.Context, turn Turn, res *Result, content string) *Result {
	*turn.History = append(*turn.History, domain.Message{Role: domain.RoleAssistant, Content: content})
	res.Content = content
	l.remember(ctx, turn, content)
	return res
}

// runTool resolves, gates and executes one tool call and renders its result.
func (l *Loop) runTool(ctx context.Context, turn Turn, filter *ToolFilter, tc domain.ToolCall) string {
	t := l.tools.Get(tc.Name)
	if t == nil || !filter.IsAllowed(tc.Name) {
		l.logger.Warn("model requested unknown tool", "tool", tc.Name)
		metrics.ToolOutcome(tc.Name, "unknown")
		return domain.Errorf("Unknown tool: %s", tc.Name).Text()
	}
	args, err := tc.Args()
	if err != nil {
		metrics.ToolOutcome(tc.Name, "invalid")
		return domain.Errorf("invalid arguments: %v", errors.Unwrap(err)).Text()
	}

	if !l.gate.Check(ctx, t.Definition(), tc.Arguments, turn.ChannelID, turn.SenderID) {
		metrics.ToolOutcome(tc.Name, "denied")
		return domain.Denied(tc.Name).Text()
	}

	l.logger.Info("executing tool", "tool", tc.Name, "session", turn.SessionID)
	start := time.Now()
	result := l.invoke(ctx, t, domain.ToolContext{
		WorkDir:   l.workDir,
		SessionID: turn.SessionID,
		ChannelID: turn.ChannelID,
		SenderID:  turn.SenderID,
	}, args)
	metrics.ToolLatency.ObserveSince(start)
	outcome := "ok"
	if result.Failed() {
		outcome = "error"
	}
	metrics.ToolOutcome(tc.Name, outcome)

	l.logger.Debug("tool completed",
		"tool", tc.Name,
		"failed", result.Failed(),
		"result_len", len(result.Output),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result.Text()
}

func (l *Loop) invoke(ctx context.Context, t domain.Tool, tc domain.ToolContext, args map[string]any) (result domain.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("tool panicked", "tool", t.Definition().Name, "panic", r)
			result = domain.Errorf("tool %s failed: %v", t.Definition().Name, r)
		}
	}()
	return t.Execute(ctx, tc, args)
}

func (l *Loop) recall(ctx context.Context, query string) []domain.MemoryEntry {
	if l.memory == nil {
		return nil
	}
	entries, err := l.memory.Recall(ctx, query, recallLimit)
	if err != nil {
		l.logger.Warn("memory recall failed, continuing without it", "err", err)
		return nil
	}
	return entries
}

// remember stores the exchange in long-term memory in the background.
func (l *Loop) remember(ctx context.Context, turn Turn, answer string) {
	if l.memory == nil {
		return
	}
	content := "Q: " + turn.UserMessage + "\nA: " + answer
	var tags []string
	if turn.SessionID != "" {
		tags = []string{"session:" + turn.SessionID}
	}

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), memoryStoreTimeout)
	go func() {
		defer cancel()
		if _, err := l.memory.Store(bg, content, tags); err != nil {
			l.logger.Warn("failed to store turn in memory", "session", turn.SessionID, "err", err)
		}
	}()
}
