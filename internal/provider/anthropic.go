package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clawgate/internal/domain"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	anthropicDefaultBase      = "https://api.anthropic.com"
	anthropicDefaultMaxTokens = 4096
)

// Anthropic implements domain.Provider using the Messages API.
type Anthropic struct {
	model  string
	client anthropic.Client
	logger *slog.Logger
}

type AnthropicConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.APIBase == "" {
		cfg.APIBase = anthropicDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := anthropic.NewClient(
		option.WithBaseURL(cfg.APIBase),
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(SharedHTTPClient(cfg.Timeout)),
		option.WithMaxRetries(0),
	)
	return &Anthropic{
		model:  cfg.Model,
		client: client,
		logger: cfg.Logger,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	msgs, system := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", anthropicError(err))
	}

	out := &domain.ChatResponse{
		FinishReason: string(msg.StopReason),
		Model:        string(msg.Model),
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage: domain.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += b.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: string(b.Input),
			})
		}
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}
	return out, nil
}

// toAnthropicMessages moves system messages into the system parameter and
// groups consecutive tool results into a single user turn.
func toAnthropicMessages(in []domain.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var system []anthropic.TextBlockParam
	msgs := make([]anthropic.MessageParam, 0, len(in))
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			msgs = append(msgs, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range in {
		if m.Role == domain.RoleTool {
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
			continue
		}
		flush()
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case domain.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if tc.Arguments != "" && json.Valid([]byte(tc.Arguments)) {
					input = json.RawMessage(tc.Arguments)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flush()
	return msgs, system
}

func toAnthropicTools(defs []domain.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := anthropic.ToolInputSchemaParam{Properties: d.Parameters["properties"]}
		if req, ok := d.Parameters["required"].([]string); ok {
			schema.Required = req
		}
		t := anthropic.ToolUnionParamOfTool(schema, d.Name)
		if t.OfTool != nil {
			t.OfTool.Description = anthropic.String(d.Description)
		}
		tools = append(tools, t)
	}
	return tools
}

func anthropicError(err error) error {
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return &StatusError{StatusCode: ae.StatusCode, Body: withRetryAfter(ae.Error(), ae.Response)}
	}
	return err
}
