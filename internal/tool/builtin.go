package tool

import (
	"log/slog"
	"time"

	"clawgate/internal/domain"
	"clawgate/internal/security"
)

// Builtins collects what the built-in tool set needs.
type Builtins struct {
	Policy   *security.Policy
	Executor Executor
	Memory   domain.MemoryStore // memory tools are skipped when nil

	ShellTimeout     time.Duration
	GitTimeout       time.Duration
	HTTPTimeout      time.Duration
	MaxResponseBytes int
	MaxOutputBytes   int
	SearchProvider   string

	Logger *slog.Logger
}

// RegisterBuiltins registers the standard tools in the order they are
// offered to the model.
func RegisterBuiltins(reg *Registry, b Builtins) error {
	tools := []domain.Tool{
		NewShellTool(ShellConfig{Policy: b.Policy, Executor: b.Executor, Timeout: b.ShellTimeout, Logger: b.Logger}),
		NewFileReadTool(b.Policy),
		NewFileWriteTool(b.Policy),
		NewListDirTool(b.Policy),
		NewHTTPRequestTool(HTTPConfig{Policy: b.Policy, Timeout: b.HTTPTimeout, MaxResponseBytes: b.MaxResponseBytes, Logger: b.Logger}),
		NewGitTool(GitConfig{Policy: b.Policy, Timeout: b.GitTimeout, MaxOutputBytes: b.MaxOutputBytes, Logger: b.Logger}),
		NewWebSearchTool(WebSearchConfig{Policy: b.Policy, Provider: b.SearchProvider}),
	}
	if b.Memory != nil {
		tools = append(tools,
			NewMemoryStoreTool(b.Memory),
			NewMemoryRecallTool(b.Memory),
			NewMemoryForgetTool(b.Memory, b.Policy),
		)
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
