package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"clawgate/internal/domain"
	"clawgate/internal/security"
)

const (
	defaultShellTimeout   = 30 * time.Second
	defaultMaxOutputBytes = 65536
)

// ExecRequest is one command handed to an Executor.
type ExecRequest struct {
	Command  string
	WorkDir  string
	Timeout  time.Duration
	ToolName string
	Env      []string // KEY=VALUE
}

// Executor runs shell commands on behalf of a tool.
type Executor interface {
	Run(ctx context.Context, req ExecRequest) domain.ToolResult
	Available(ctx context.Context) bool
}

// NewExecutor picks an executor by its config name ("native" or "docker").
func NewExecutor(kind string, native NativeConfig, docker DockerConfig) (Executor, error) {
	switch strings.ToLower(kind) {
	case "", "native":
		return NewNativeExecutor(native), nil
	case "docker":
		return NewDockerExecutor(docker), nil
	default:
		return nil, fmt.Errorf("unknown executor %q (want native or docker)", kind)
	}
}

// --- NativeExecutor ---

type NativeConfig struct {
	Guard          *security.Guard
	AllowedDirs    []string // empty allows any directory
	MaxOutputBytes int
	Logger         *slog.Logger
}

// NativeExecutor runs commands on the host after blocklist and working
// directory checks.
type NativeExecutor struct {
	guard       *security.Guard
	allowedDirs []string
	maxOutput   int
	logger      *slog.Logger
}

func NewNativeExecutor(cfg NativeConfig) *NativeExecutor {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	dirs := make([]string, 0, len(cfg.AllowedDirs))
	for _, d := range cfg.AllowedDirs {
		if abs, err := filepath.Abs(d); err == nil {
			dirs = append(dirs, filepath.Clean(abs))
		}
	}
	return &NativeExecutor{
		guard:       cfg.Guard,
		allowedDirs: dirs,
		maxOutput:   cfg.MaxOutputBytes,
		logger:      cfg.Logger,
	}
}

func (e *NativeExecutor) Available(ctx context.Context) bool { return true }

func (e *NativeExecutor) Run(ctx context.Context, req ExecRequest) domain.ToolResult {
	if req.WorkDir != "" && !e.dirAllowed(req.WorkDir) {
		return domain.ToolResult{Kind: domain.ResultBlocked, Output: "Working directory not in whitelist: " + req.WorkDir}
	}
	if e.guard != nil {
		if pattern, blocked := e.guard.Blocked(ctx, req.ToolName, req.Command); blocked {
			return domain.ToolResult{Kind: domain.ResultBlocked, Output: "Command contains dangerous pattern: " + pattern}
		}
	}

	shell, flag := "sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd", "/c"
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}

	e.logger.Debug("native exec", "tool", req.ToolName, "dir", req.WorkDir, "command", req.Command)
	return commandResult(runProcess(ctx, timeout, e.maxOutput, req.WorkDir, req.Env, shell, flag, req.Command), timeout)
}

func (e *NativeExecutor) dirAllowed(dir string) bool {
	if len(e.allowedDirs) == 0 {
		return true
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	abs = filepath.Clean(abs)
	for _, allowed := range e.allowedDirs {
		if abs == allowed || strings.HasPrefix(abs, allowed+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// --- DockerExecutor ---

type DockerConfig struct {
	Image          string   // default "alpine:3.20"
	Memory         string   // e.g. "256m"
	CPUs           string   // e.g. "0.5"
	PidsLimit      int
	NetworkTools   []string // tools allowed network access
	MaxOutputBytes int
	Logger         *slog.Logger
}

// DockerExecutor runs each command in a throwaway container with the working
// directory mounted at /work.
type DockerExecutor struct {
	image        string
	memory       string
	cpus         string
	pidsLimit    int
	networkTools []string
	maxOutput    int
	logger       *slog.Logger
}

func NewDockerExecutor(cfg DockerConfig) *DockerExecutor {
	if cfg.Image == "" {
		cfg.Image = "alpine:3.20"
	}
	if cfg.Memory == "" {
		cfg.Memory = "256m"
	}
	if cfg.CPUs == "" {
		cfg.CPUs = "0.5"
	}
	if cfg.PidsLimit <= 0 {
		cfg.PidsLimit = 64
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DockerExecutor{
		image:        cfg.Image,
		memory:       cfg.Memory,
		cpus:         cfg.CPUs,
		pidsLimit:    cfg.PidsLimit,
		networkTools: cfg.NetworkTools,
		maxOutput:    cfg.MaxOutputBytes,
		logger:       cfg.Logger,
	}
}

func (d *DockerExecutor) Run(ctx context.Context, req ExecRequest) domain.ToolResult {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	d.logger.Info("sandbox executing", "tool", req.ToolName, "image", d.image, "command", req.Command)
	return commandResult(runProcess(ctx, timeout, d.maxOutput, "", nil, "docker", d.args(req)...), timeout)
}

// args builds the docker run invocation for req.
func (d *DockerExecutor) args(req ExecRequest) []string {
	args := []string{
		"run", "--rm",
		"--memory", d.memory,
		"--cpus", d.cpus,
		"--pids-limit", strconv.Itoa(d.pidsLimit),
		"--read-only",
		"--tmpfs", "/tmp:rw,size=64m",
	}
	if !slices.Contains(d.networkTools, req.ToolName) {
		args = append(args, "--network", "none")
	}
	for _, kv := range req.Env {
		args = append(args, "-e", kv)
	}
	if req.WorkDir != "" {
		args = append(args, "-v", req.WorkDir+":/work", "-w", "/work")
	}
	return append(args, d.image, "sh", "-c", req.Command)
}

// Available reports whether a docker daemon answers.
func (d *DockerExecutor) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "version", "--format", "{{.Server.Version}}")
	if err := cmd.Run(); err != nil {
		d.logger.Debug("docker not available", "err", err)
		return false
	}
	return true
}

// commandResult maps a finished process to a tool result. A non-zero exit
// is an error result that still carries the output.
func commandResult(res procResult, timeout time.Duration) domain.ToolResult {
	if res.timedOut {
		return domain.ToolResult{Kind: domain.ResultTimeout, Output: fmt.Sprintf("Command exceeded %ds", int(timeout.Seconds()))}
	}
	if res.err != nil {
		var exitErr *exec.ExitError
		if errors.As(res.err, &exitErr) {
			out := strings.TrimRight(res.output, "\n")
			if out == "" {
				return domain.Errorf("%v", res.err)
			}
			return domain.Errorf("%s\n(%v)", out, res.err)
		}
		return domain.Errorf("run command: %v", res.err)
	}
	return domain.OK(res.output)
}
