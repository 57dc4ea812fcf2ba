package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"clawgate/internal/domain"
)

var shellTool = domain.ToolDefinition{
	Name:        "shell",
	Description: "Run a command",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{"command": map[string]any{"type": "string"}},
		"required":   []string{"command"},
	},
	Dangerous: true,
}

func toolTurn() []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Content: "sys"},
		{Role: domain.RoleUser, Content: "list files"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "call_1", Name: "shell", Arguments: `{"command":"ls"}`}}},
		{Role: domain.RoleTool, Content: "a.txt", ToolCallID: "call_1", ToolName: "shell"},
	}
}

func TestOllama_ChatWithToolCalls(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"model":"llama3.1:8b","done":true,"done_reason":"stop",
			"prompt_eval_count":10,"eval_count":5,
			"message":{"role":"assistant","content":"","tool_calls":[
				{"function":{"name":"shell","arguments":{"command":"pwd"}}},
				{"function":{"name":"file_read","arguments":"{\"path\":\"a.txt\"}"}}]}}`)
	}))
	defer srv.Close()

	o := NewOllamaWithClient(OllamaConfig{APIBase: srv.URL, Logger: testLogger()}, srv.Client())
	resp, err := o.Chat(context.Background(), domain.ChatRequest{Messages: toolTurn(), Tools: []domain.ToolDefinition{shellTool}, Temperature: 0.7})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if got.Model != "llama3.1:8b" || len(got.Messages) != 4 || len(got.Tools) != 1 {
		t.Fatalf("request = %+v", got)
	}
	if got.Messages[3].ToolCallID != "call_1" || string(got.Messages[2].ToolCalls[0].Function.Arguments) != `{"command":"ls"}` {
		t.Fatalf("tool round-trip lost: %+v", got.Messages)
	}
	if got.Options["temperature"] != 0.7 {
		t.Fatalf("options = %v", got.Options)
	}

	if len(resp.ToolCalls) != 2 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	args, err := resp.ToolCalls[0].Args()
	if err != nil || args["command"] != "pwd" {
		t.Fatalf("object args = %v %v", args, err)
	}
	args, err = resp.ToolCalls[1].Args()
	if err != nil || args["path"] != "a.txt" {
		t.Fatalf("string args = %v %v", args, err)
	}
	if resp.ToolCalls[0].ID == "" || resp.ToolCalls[0].ID == resp.ToolCalls[1].ID {
		t.Fatalf("ids = %q %q", resp.ToolCalls[0].ID, resp.ToolCalls[1].ID)
	}
	if resp.Usage.TotalTokens != 15 || resp.FinishReason != "tool_calls" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestOllama_StatusErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	o := NewOllamaWithClient(OllamaConfig{APIBase: srv.URL, Logger: testLogger()}, srv.Client())
	_, err := o.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{{Role: "user", Content: "hi"}}})
	if code, ok := StatusCode(err); !ok || code != 404 {
		t.Fatalf("status = %d %v (%v)", code, ok, err)
	}
	if Retryable(err) {
		t.Fatal("404 must not be retried")
	}
}

func TestOpenAI_ChatParsesToolCalls(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
				"tool_calls":[{"id":"call_9","type":"function","function":{"name":"shell","arguments":"{\"command\":\"ls\"}"}}]}}],
			"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	resp, err := o.Chat(context.Background(), domain.ChatRequest{Messages: toolTurn(), Tools: []domain.ToolDefinition{shellTool}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_9" || resp.ToolCalls[0].Arguments != `{"command":"ls"}` {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 8 || resp.Model != "gpt-4o-mini" {
		t.Fatalf("resp = %+v", resp)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("sent %d messages", len(msgs))
	}
	if tools, _ := body["tools"].([]any); len(tools) != 1 {
		t.Fatalf("tools = %v", body["tools"])
	}
}

func TestOpenAI_OmitsToolsWhenEmpty(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello"}}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	resp, err := o.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hello" || resp.HasToolCalls() {
		t.Fatalf("resp = %+v", resp)
	}
	if _, ok := body["tools"]; ok {
		t.Fatal("tools block should be omitted")
	}
}

func TestOpenAI_UnauthorizedIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-bad", APIBase: srv.URL, Logger: testLogger()})
	_, err := o.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{{Role: "user", Content: "hi"}}})
	if code, ok := StatusCode(err); !ok || code != 401 {
		t.Fatalf("status = %d (%v)", code, err)
	}
	if Retryable(err) {
		t.Fatal("401 must not be retried")
	}
}

func TestAnthropic_ChatParsesToolUse(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"Checking."},{"type":"tool_use","id":"tu_1","name":"shell","input":{"command":"ls"}}],
			"stop_reason":"tool_use","stop_sequence":null,"usage":{"input_tokens":3,"output_tokens":4}}`)
	}))
	defer srv.Close()

	a := NewAnthropic(AnthropicConfig{APIKey: "k", APIBase: srv.URL, Model: "claude-test", Logger: testLogger()})
	resp, err := a.Chat(context.Background(), domain.ChatRequest{Messages: toolTurn(), Tools: []domain.ToolDefinition{shellTool}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "Checking." || len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "tu_1" {
		t.Fatalf("resp = %+v", resp)
	}
	args, err := resp.ToolCalls[0].Args()
	if err != nil || args["command"] != "ls" {
		t.Fatalf("args = %v %v", args, err)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Fatalf("usage = %+v", resp.Usage)
	}

	// system moves out of messages; the tool result rides in a user turn.
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("sent %d messages: %v", len(msgs), msgs)
	}
	last, _ := msgs[2].(map[string]any)
	if last["role"] != "user" {
		t.Fatalf("tool result role = %v", last["role"])
	}
	if _, ok := body["system"]; !ok {
		t.Fatal("system prompt missing")
	}
}
