package tool

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"clawgate/internal/domain"
	"clawgate/internal/security"
)

const defaultGitTimeout = 30 * time.Second

var (
	gitOps       = []string{"status", "diff", "log", "show", "branch", "add", "commit"}
	gitUnsafeArg = regexp.MustCompile("[;|&$`>\n]")
)

type GitConfig struct {
	Policy         *security.Policy
	Timeout        time.Duration
	MaxOutputBytes int
	Logger         *slog.Logger
}

// GitTool runs a fixed set of git subcommands in the turn's working directory.
type GitTool struct {
	policy    *security.Policy
	timeout   time.Duration
	maxOutput int
	logger    *slog.Logger
}

func NewGitTool(cfg GitConfig) *GitTool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGitTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GitTool{
		policy:    cfg.Policy,
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutputBytes,
		logger:    cfg.Logger,
	}
}

func (g *GitTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "git",
		Description: "Run git commands. Supported operations: " + strings.Join(gitOps, ", "),
		Parameters: Schema(
			map[string]Param{
				"operation": {Type: "string", Description: "Git operation to run", Enum: gitOps},
				"args":      {Type: "string", Description: "Additional arguments, space separated"},
			},
			[]string{"operation"},
		),
		Dangerous: true,
	}
}

func (g *GitTool) Execute(ctx context.Context, tc domain.ToolContext, args map[string]any) domain.ToolResult {
	if err := g.policy.CheckRateLimit("git"); err != nil {
		return domain.Errorf("%v", err)
	}
	op := StringArg(args, "operation")
	if !slices.Contains(gitOps, op) {
		return domain.Errorf("Unsupported git operation: %s", op)
	}
	extra := StringArg(args, "args")
	if gitUnsafeArg.MatchString(extra) {
		return domain.Errorf("Unsafe characters in arguments")
	}

	argv := append([]string{op}, strings.Fields(extra)...)
	dir := tc.WorkDir
	if dir == "" {
		dir = g.policy.Workspace()
	}
	g.logger.Info("git", "operation", op, "args", extra, "dir", dir)

	res := runProcess(ctx, g.timeout, g.maxOutput, dir, security.SanitizedEnv(), "git", argv...)
	if res.timedOut {
		return domain.ToolResult{
			Kind:   domain.ResultTimeout,
			Output: fmt.Sprintf("git command exceeded %ds", int(g.timeout.Seconds())),
		}
	}
	if res.err != nil {
		if res.output == "" {
			return domain.Errorf("git %s: %v", op, res.err)
		}
		return domain.ToolResult{Kind: domain.ResultError, Output: res.output}
	}
	return domain.OK(res.output)
}

var _ domain.Tool = (*GitTool)(nil)
