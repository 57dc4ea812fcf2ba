package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"clawgate/internal/agent"
	"clawgate/internal/approval"
	"clawgate/internal/config"
	"clawgate/internal/domain"
	"clawgate/internal/memory"
	"clawgate/internal/provider"
	"clawgate/internal/security"
	"clawgate/internal/skill"
	"clawgate/internal/tool"
)

// runtime is everything a running gateway shares across channels.
type runtime struct {
	cfg     *config.Config
	store   *memory.SQLiteStore
	tools   *tool.Registry
	gate    *approval.Gate
	skills  *skill.Registry
	orch    *agent.Orchestrator
	remotes map[string]*approval.Remote // keyed by channel family
}

type runtimeOptions struct {
	// PromptIn and PromptOut back the "cli" approval strategy.
	PromptIn  io.Reader
	PromptOut io.Writer
	// Transports are the chat channels that can carry "remote" approvals,
	// keyed by channel family ("telegram", "discord").
	Transports map[string]approval.Transport
	Logger     *slog.Logger
}

func buildRuntime(cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	store, err := memory.NewSQLiteStore(memory.Config{
		DBPath:     cfg.Memory.DBPath,
		MaxHistory: cfg.Memory.MaxHistoryPerSession,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	rt := &runtime{cfg: cfg, store: store}

	var auditor domain.AuditLogger
	if cfg.Security.AuditLog {
		auditor = store
	}
	var recall domain.MemoryStore
	if cfg.Memory.Enabled {
		recall = store
	}

	guard, err := security.NewGuard(security.GuardConfig{
		Blocklist: cfg.Security.Blocklist,
		AuditLog:  cfg.Security.AuditLog,
		Auditor:   auditor,
		Logger:    log,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	policy, err := security.NewPolicy(security.Config{
		Workspace:         cfg.General.Workspace,
		WorkspaceOnly:     cfg.Security.WorkspaceOnly,
		MaxActionsPerHour: cfg.Security.MaxActionsPerHour,
		AllowedDomains:    cfg.Security.AllowedDomains,
		Logger:            log,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("security policy: %w", err)
	}

	shell := cfg.Tools.Shell
	executor, err := tool.NewExecutor(shell.Executor,
		tool.NativeConfig{
			Guard:          guard,
			AllowedDirs:    shell.AllowedDirs,
			MaxOutputBytes: shell.MaxOutputBytes,
			Logger:         log,
		},
		tool.DockerConfig{
			Image:          cfg.Tools.Docker.Image,
			Memory:         cfg.Tools.Docker.Memory,
			CPUs:           cfg.Tools.Docker.CPUs,
			PidsLimit:      cfg.Tools.Docker.PidsLimit,
			NetworkTools:   cfg.Tools.Docker.NetworkTools,
			MaxOutputBytes: shell.MaxOutputBytes,
			Logger:         log,
		})
	if err != nil {
		store.Close()
		return nil, err
	}

	rt.tools = tool.NewRegistry(log)
	if err := tool.RegisterBuiltins(rt.tools, tool.Builtins{
		Policy:           policy,
		Executor:         executor,
		Memory:           recall,
		ShellTimeout:     seconds(shell.Timeout),
		GitTimeout:       seconds(cfg.Tools.Git.TimeoutSeconds),
		HTTPTimeout:      seconds(cfg.Tools.HTTP.TimeoutSeconds),
		MaxResponseBytes: cfg.Tools.HTTP.MaxResponseBytes,
		MaxOutputBytes:   shell.MaxOutputBytes,
		SearchProvider:   cfg.Tools.Web.SearchProvider,
		Logger:           log,
	}); err != nil {
		store.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	prov, err := provider.NewFactory(cfg, log).Reliable()
	if err != nil {
		store.Close()
		return nil, err
	}

	rt.gate, rt.remotes, err = buildGate(cfg.Approval, opts, auditor, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	rt.skills = skill.NewRegistry(log)
	loaded, err := skill.LoadDir(cfg.Skills.Dir, log)
	if err != nil {
		log.Warn("skills not loaded", "dir", cfg.Skills.Dir, "err", err)
	}
	for _, s := range loaded {
		if err := rt.skills.Register(s); err != nil {
			log.Warn("skill skipped", "name", s.Name, "err", err)
		}
	}

	loop := agent.NewLoop(agent.LoopConfig{
		Provider: prov,
		Tools:    rt.tools,
		Gate:     rt.gate,
		Memory:   recall,
		Prompt: agent.NewPromptBuilder(agent.PromptConfig{
			Workspace: cfg.General.Workspace,
			Extra:     cfg.General.SystemPromptExtra,
		}),
		Model:   cfg.General.Model,
		WorkDir: cfg.General.Workspace,
		Logger:  log,
	})
	rt.orch = agent.NewOrchestrator(agent.OrchestratorConfig{
		Loop:        loop,
		Sessions:    store,
		Skills:      rt.skills,
		Logger:      log,
		Concurrency: cfg.General.MaxConcurrentMessages,
	})

	log.Info("runtime ready",
		"provider", prov.Name(),
		"tools", rt.tools.Len(),
		"skills", rt.skills.Len(),
		"executor", shell.Executor)
	return rt, nil
}

func (rt *runtime) Close() error {
	return rt.store.Close()
}

// buildGate maps the approval config onto strategies. "remote" binds to the
// transport of the same channel family; a channel without one is denied.
func buildGate(ac config.ApprovalConfig, opts runtimeOptions, auditor domain.AuditLogger, log *slog.Logger) (*approval.Gate, map[string]*approval.Remote, error) {
	remotes := make(map[string]*approval.Remote)
	remoteFor := func(family string) approval.Strategy {
		if r, ok := remotes[family]; ok {
			return r
		}
		t, ok := opts.Transports[family]
		if !ok {
			log.Warn("remote approval has no transport, denying", "channel", family)
			return approval.Auto(false)
		}
		r := approval.NewRemote(approval.RemoteConfig{
			Transport: t,
			Timeout:   seconds(ac.TimeoutSeconds),
			Logger:    log,
		})
		remotes[family] = r
		return r
	}
	strategy := func(name, channelID string) (approval.Strategy, error) {
		if name == "remote" {
			family, _, _ := strings.Cut(channelID, ":")
			return remoteFor(family), nil
		}
		return approval.ByName(name, opts.PromptIn, opts.PromptOut)
	}

	name := ac.Default
	if name == "" {
		name = "cli"
	}
	var def approval.Strategy
	if name == "remote" {
		// remote needs a concrete chat; each family gets its own below
		def = approval.Auto(false)
		for family := range opts.Transports {
			remoteFor(family)
		}
	} else {
		s, err := approval.ByName(name, opts.PromptIn, opts.PromptOut)
		if err != nil {
			return nil, nil, fmt.Errorf("approval.default: %w", err)
		}
		def = s
	}

	gate := approval.NewGate(approval.GateConfig{Default: def, Auditor: auditor, Logger: log})
	for family, r := range remotes {
		gate.Register(family, r)
	}

	channels := make([]string, 0, len(ac.Channels))
	for ch := range ac.Channels {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	for _, ch := range channels {
		s, err := strategy(ac.Channels[ch], ch)
		if err != nil {
			return nil, nil, fmt.Errorf("approval.channels.%s: %w", ch, err)
		}
		gate.Register(ch, s)
	}
	return gate, remotes, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
