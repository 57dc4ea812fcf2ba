package domain

import (
	"context"
	"fmt"
)

// Tool is the interface for agent capabilities (shell, file ops, http, etc).
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, tc ToolContext, args map[string]any) ToolResult
}

// ToolContext carries the identity of the turn a tool runs in.
type ToolContext struct {
	WorkDir   string
	SessionID string
	ChannelID string
	SenderID  string
}

type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultError
	ResultDenied
	ResultTimeout
	ResultBlocked
)

// ToolResult is the outcome of one tool invocation. The kind is rendered as a
// text prefix only when the result is written into the conversation.
type ToolResult struct {
	Kind   ResultKind
	Output string
}

func OK(output string) ToolResult { return ToolResult{Kind: ResultOK, Output: output} }

func Errorf(format string, a ...any) ToolResult {
	return ToolResult{Kind: ResultError, Output: fmt.Sprintf(format, a...)}
}

func Denied(toolName string) ToolResult {
	return ToolResult{Kind: ResultDenied, Output: fmt.Sprintf("Tool '%s' was not approved", toolName)}
}

// Text renders the result as it appears in a tool message.
func (r ToolResult) Text() string {
	switch r.Kind {
	case ResultError:
		return "[ERROR] " + r.Output
	case ResultDenied:
		return "[DENIED] " + r.Output
	case ResultTimeout:
		return "[TIMEOUT] " + r.Output
	case ResultBlocked:
		return "[BLOCKED] " + r.Output
	default:
		return r.Output
	}
}

func (r ToolResult) Failed() bool { return r.Kind != ResultOK }
