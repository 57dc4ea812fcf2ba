package tool

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"clawgate/internal/domain"
	"clawgate/internal/security"
)

type ShellTool struct {
	policy   *security.Policy
	executor Executor
	timeout  time.Duration
	logger   *slog.Logger
}

type ShellConfig struct {
	Policy   *security.Policy
	Executor Executor
	Timeout  time.Duration
	Logger   *slog.Logger
}

func NewShellTool(cfg ShellConfig) *ShellTool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultShellTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Executor == nil {
		cfg.Executor = NewNativeExecutor(NativeConfig{Logger: cfg.Logger})
	}
	return &ShellTool{
		policy:   cfg.Policy,
		executor: cfg.Executor,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

func (s *ShellTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "shell",
		Description: "Execute a shell command in the workspace. Returns combined stdout and stderr.",
		Parameters: Schema(
			map[string]Param{
				"command": {Type: "string", Description: "The shell command to execute (e.g. 'ls -la', 'git status')"},
			},
			[]string{"command"},
		),
		Dangerous: true,
	}
}

func (s *ShellTool) Execute(ctx context.Context, tc domain.ToolContext, args map[string]any) domain.ToolResult {
	command := strings.TrimSpace(StringArg(args, "command"))
	if command == "" {
		return domain.Errorf("missing argument: command")
	}
	if err := s.policy.CheckRateLimit("shell"); err != nil {
		return domain.Errorf("%v", err)
	}

	risk := security.ClassifyCommand(command)
	s.logger.Info("shell command", "risk", risk.String(), "command", command, "session", tc.SessionID)

	dir := tc.WorkDir
	if dir == "" {
		dir = s.policy.Workspace()
	}
	return s.executor.Run(ctx, ExecRequest{
		Command:  command,
		WorkDir:  dir,
		Timeout:  s.timeout,
		ToolName: "shell",
		Env:      security.SanitizedEnv(),
	})
}

var _ domain.Tool = (*ShellTool)(nil)
